package device_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"DeckPilot/core/device"
	"DeckPilot/core/device/devicetest"
	"DeckPilot/model"
)

func TestDefaultControlMapPassesSelfCheck(t *testing.T) {
	m := device.DefaultControlMap()
	if err := m.SelfCheck(device.RequiredControls(model.DeckA, model.DeckB)); err != nil {
		t.Fatalf("SelfCheck() = %v", err)
	}
}

func TestSelfCheckRejectsToggleAndMissing(t *testing.T) {
	m, err := device.ParseControlMap([]byte(`
controls:
  deck_a.play: {channel: 1, cc: 31, semantics: toggle}
`))
	if err != nil {
		t.Fatalf("ParseControlMap: %v", err)
	}
	delete(m, device.Crossfader)

	err = m.SelfCheck(device.RequiredControls(model.DeckA, model.DeckB))
	if !errors.Is(err, device.ErrToggleControl) {
		t.Errorf("expected ErrToggleControl, got %v", err)
	}
	if !errors.Is(err, device.ErrUnknownControl) {
		t.Errorf("expected ErrUnknownControl, got %v", err)
	}
}

func TestSelfCheckRejectsSharedAddress(t *testing.T) {
	m, err := device.ParseControlMap([]byte(`
controls:
  browser.up: {channel: 0, cc: 8}
`))
	if err != nil {
		t.Fatalf("ParseControlMap: %v", err)
	}
	if err := m.SelfCheck(nil); err == nil {
		t.Fatal("expected duplicate address error")
	}
}

func TestParseControlMapErrors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "controls: [",
		"bad semantics": "controls:\n  browser.up: {channel: 0, cc: 20, semantics: latch}",
		"bad channel":   "controls:\n  browser.up: {channel: 16, cc: 20}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := device.ParseControlMap([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLinkEncodesControlChange(t *testing.T) {
	controls := device.DefaultControlMap()
	mixer := devicetest.NewMixer(controls, nil)
	link := device.NewLink(mixer, controls)
	ctx := context.Background()

	if err := link.Set(ctx, device.DeckControl(model.DeckB, device.DeckVolume), 90); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := link.Press(ctx, device.BrowseDown); err != nil {
		t.Fatalf("Press: %v", err)
	}

	events := mixer.Events()
	want := []devicetest.Event{{Name: "deck_b.volume", Value: 90}, {Name: device.BrowseDown, Value: 127}}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
	if link.Sent() != 2 {
		t.Errorf("Sent() = %d", link.Sent())
	}
}

func TestLinkRejectsBadInput(t *testing.T) {
	controls := device.DefaultControlMap()
	link := device.NewLink(devicetest.NewMixer(controls, nil), controls)
	ctx := context.Background()

	if err := link.Set(ctx, device.Crossfader, 128); !errors.Is(err, device.ErrValueRange) {
		t.Errorf("value 128: %v", err)
	}
	if err := link.Set(ctx, "deck_c.volume", 0); !errors.Is(err, device.ErrUnknownControl) {
		t.Errorf("unknown control: %v", err)
	}
}

func TestLinkUnavailable(t *testing.T) {
	controls := device.DefaultControlMap()
	mixer := devicetest.NewMixer(controls, nil)
	mixer.FailAfter = 1
	link := device.NewLink(mixer, controls)
	ctx := context.Background()

	if err := link.Press(ctx, device.BrowseUp); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := link.Press(ctx, device.BrowseUp); !errors.Is(err, device.ErrUnavailable) {
		t.Fatalf("second send = %v, want ErrUnavailable", err)
	}

	_ = link.Close()
	if err := link.Press(ctx, device.BrowseUp); !errors.Is(err, device.ErrUnavailable) {
		t.Fatalf("send after close = %v", err)
	}
}

func TestLinkSerializesConcurrentSenders(t *testing.T) {
	controls := device.DefaultControlMap()
	mixer := devicetest.NewMixer(controls, nil)
	link := device.NewLink(mixer, controls)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = link.Press(context.Background(), device.BrowseDown)
			}
		}()
	}
	wg.Wait()

	if got := mixer.Count(device.BrowseDown); got != 200 {
		t.Fatalf("recorded %d presses, want 200", got)
	}
}

func TestWatchMappingReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	if err := os.WriteFile(path, []byte("controls: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan device.ControlMap, 4)
	go func() {
		_ = device.WatchMapping(ctx, path, func(m device.ControlMap) { reloaded <- m })
	}()

	// Give the watcher time to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case m := <-reloaded:
			if m[device.BrowseUp].CC != 99 {
				t.Fatalf("reloaded map has browser.up cc %d", m[device.BrowseUp].CC)
			}
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte("controls:\n  browser.up: {channel: 0, cc: 99}\n"), 0o644)
		case <-deadline:
			t.Fatal("mapping was not reloaded")
		}
	}
}
