package device

import (
	"fmt"
	"strings"
	"sync"

	"DeckPilot/logger"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// OpenMIDI opens the first output port whose name contains portName. A MIDI
// driver (rtmididrv) must be registered by the binary.
func OpenMIDI(portName string) (drivers.Out, error) {
	port, err := midi.FindOutPort(portName)
	if err != nil {
		return nil, fmt.Errorf("%w: find port %q: %v", ErrUnavailable, portName, err)
	}
	if err := port.Open(); err != nil {
		return nil, fmt.Errorf("%w: open port %q: %v", ErrUnavailable, port.String(), err)
	}
	logger.Info("MIDI output opened", logger.String("port", port.String()))
	return port, nil
}

// OutputPorts lists the names of the available output ports.
func OutputPorts() []string {
	var names []string
	for _, p := range midi.GetOutPorts() {
		names = append(names, p.String())
	}
	return names
}

// CloseDriver shuts down the registered MIDI driver.
func CloseDriver() {
	midi.CloseDriver()
}

// NullOutput swallows messages, for dry runs without a mixing application.
type NullOutput struct {
	mu    sync.Mutex
	count int
}

func (n *NullOutput) Send(data []byte) error {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
	logger.Debug("dry-run midi", logger.String("msg", strings.TrimSpace(midi.Message(data).String())))
	return nil
}

// Count returns how many messages were swallowed.
func (n *NullOutput) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}
