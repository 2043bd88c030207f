package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.TolerancePct != 6.0 {
		t.Errorf("TolerancePct = %v, want 6", cfg.TolerancePct)
	}
	if cfg.CrossfadeSteps != 16 || cfg.CrossfadeStepDelay != 500*time.Millisecond {
		t.Errorf("crossfade = %d x %v, want 16 x 500ms", cfg.CrossfadeSteps, cfg.CrossfadeStepDelay)
	}
	if cfg.DBDriver != "mysql" {
		t.Errorf("DBDriver = %q, want mysql", cfg.DBDriver)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NAV_MOVE_DELAY", "450")
	t.Setenv("NAV_FOLDER_DELAY", "1.2s")
	t.Setenv("NAV_FOLDERS", "0, 3,9")
	t.Setenv("DJ_DEFAULT_KEY", "5B")
	t.Setenv("MIX_PRECUE", "false")
	t.Setenv("DJ_MAX_TRACKS", "not-a-number")

	cfg := Load()

	if cfg.MoveDelay != 450*time.Millisecond {
		t.Errorf("MoveDelay = %v, want 450ms", cfg.MoveDelay)
	}
	if cfg.FolderDelay != 1200*time.Millisecond {
		t.Errorf("FolderDelay = %v, want 1.2s", cfg.FolderDelay)
	}
	if !reflect.DeepEqual(cfg.FolderLayout, []int{0, 3, 9}) {
		t.Errorf("FolderLayout = %v", cfg.FolderLayout)
	}
	if cfg.DefaultKey != "5B" {
		t.Errorf("DefaultKey = %q", cfg.DefaultKey)
	}
	if cfg.PreCue {
		t.Error("PreCue should be disabled")
	}
	if cfg.MaxTracks != 0 {
		t.Errorf("MaxTracks = %d, want fallback 0", cfg.MaxTracks)
	}
}
