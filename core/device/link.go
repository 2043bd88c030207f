package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"DeckPilot/logger"

	"gitlab.com/gomidi/midi/v2"
)

// ErrUnavailable means the channel to the mixing application cannot be
// opened or written. It is fatal for a session.
var ErrUnavailable = errors.New("device link unavailable")

// Output is the raw MIDI sink. gomidi's drivers.Out satisfies it.
type Output interface {
	Send(data []byte) error
}

// Link is the only writer to the mixing application. Messages are
// fire-and-forget and strictly serialized.
type Link struct {
	mu       sync.Mutex
	out      Output
	controls ControlMap
	closed   bool
	sent     int
}

// NewLink wraps out with the given control map.
func NewLink(out Output, controls ControlMap) *Link {
	if controls == nil {
		controls = DefaultControlMap()
	}
	return &Link{out: out, controls: controls}
}

// Set sends value to the named control.
func (l *Link) Set(ctx context.Context, name string, value int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if value < 0 || value > 127 {
		return fmt.Errorf("%w: %s=%d", ErrValueRange, name, value)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.out == nil {
		return fmt.Errorf("%w: link closed", ErrUnavailable)
	}
	c, ok := l.controls[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownControl, name)
	}

	msg := midi.ControlChange(c.Channel, c.CC, uint8(value))
	if err := l.out.Send(msg); err != nil {
		return fmt.Errorf("%w: send %s: %v", ErrUnavailable, name, err)
	}
	l.sent++
	logger.Debug("midi cc sent",
		logger.String("control", name),
		logger.Int("channel", int(c.Channel)),
		logger.Int("cc", int(c.CC)),
		logger.Int("value", value))
	return nil
}

// Press sends a full-scale value, used for trigger buttons.
func (l *Link) Press(ctx context.Context, name string) error {
	return l.Set(ctx, name, 127)
}

// SetControls swaps the control map, e.g. after the mapping file changed.
func (l *Link) SetControls(m ControlMap) {
	l.mu.Lock()
	l.controls = m
	l.mu.Unlock()
}

// Controls returns the current control map.
func (l *Link) Controls() ControlMap {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.controls
}

// Sent returns the number of messages written.
func (l *Link) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// Close releases the output. Later sends fail with ErrUnavailable.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if c, ok := l.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
