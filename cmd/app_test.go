package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"DeckPilot/config"
	"DeckPilot/core/device"
	"DeckPilot/model"
)

const testLibrary = `
library: warehouse
folders:
  - name: Peak
    offset: 3
    children: 40
tracks:
  - title: Intro
    tempo: 124
    key: 8A
    position: 0
    duration: 300
  - title: Drive
    tempo: 126
    key: 9A
    folder: 3
    position: 7
    duration: 330
`

func writeLibrary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.yaml")
	if err := os.WriteFile(path, []byte(testLibrary), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildStackDryRun(t *testing.T) {
	c := &config.Config{DefaultTempo: 124, DefaultKey: "8A", TolerancePct: 6, RelaxFactor: 2}
	st, err := buildStack(context.Background(), c, stackOptions{dryRun: true, libraryFile: writeLibrary(t)})
	if err != nil {
		t.Fatalf("buildStack: %v", err)
	}
	t.Cleanup(st.Close)

	if st.library != "warehouse" {
		t.Errorf("library %q", st.library)
	}
	if n, _ := st.store.Count(context.Background()); n != 2 {
		t.Errorf("%d tracks in store", n)
	}
	if st.redis != nil || st.sessions != nil || st.reports != nil {
		t.Error("optional backends opened without configuration")
	}
	if _, ok := st.output.(*device.NullOutput); !ok {
		t.Errorf("dry run output %T", st.output)
	}

	deps := st.deps(c)
	if deps.Selector == nil || deps.Gate == nil || deps.Reports == nil || len(deps.Observers) != 0 {
		t.Errorf("deps %+v", deps)
	}
}

func TestBuildStackRejectsToggleMapping(t *testing.T) {
	mapping := filepath.Join(t.TempDir(), "controls.yaml")
	doc := "controls:\n  browser.up: {channel: 0, cc: 20, semantics: toggle}\n"
	if err := os.WriteFile(mapping, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c := &config.Config{MIDIMapping: mapping}
	if _, err := buildStack(context.Background(), c, stackOptions{dryRun: true, libraryFile: writeLibrary(t)}); err == nil {
		t.Fatal("expected the self-check to fail")
	}
}

func TestFolderLayout(t *testing.T) {
	c := &config.Config{FolderLayout: []int{3, 9}}
	layout := folderLayout(c, []model.BrowserNode{{Name: "Peak", RelativeOffset: 3, ChildCount: 40}})
	if len(layout) != 2 {
		t.Fatalf("layout %+v", layout)
	}
	if layout[0].Name != "Peak" || layout[0].ChildCount != 40 {
		t.Errorf("library folder replaced: %+v", layout[0])
	}
	if layout[1].RelativeOffset != 9 {
		t.Errorf("configured folder missing: %+v", layout[1])
	}
}

func TestOrchestratorConfig(t *testing.T) {
	c := &config.Config{MaxTracks: 5, CrossfadeSteps: 16, EnergyTrajectory: "120-124, 124-128"}
	oc, err := orchestratorConfig(c)
	if err != nil {
		t.Fatal(err)
	}
	if oc.MaxTracks != 5 || oc.CrossfadeSteps != 16 || len(oc.Trajectory) != 2 || oc.Trajectory[1].MinTempo != 124 {
		t.Errorf("config %+v", oc)
	}

	c.EnergyTrajectory = "fast"
	if _, err := orchestratorConfig(c); err == nil {
		t.Error("bad trajectory accepted")
	}
}

func TestSessionError(t *testing.T) {
	if sessionError(nil) != nil {
		t.Error("nil error wrapped")
	}
	err := sessionError(device.ErrUnavailable)
	if !errors.Is(err, device.ErrUnavailable) {
		t.Errorf("device loss not preserved: %v", err)
	}
}
