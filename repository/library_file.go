package repository

import (
	"fmt"
	"os"
	"strings"

	"DeckPilot/model"

	"gopkg.in/yaml.v3"
)

// LibraryFile is the export of the analysis tool: pre-computed tempo and key
// per track, plus where each track sits in the mixing application's browser.
type LibraryFile struct {
	Name    string              `yaml:"library"`
	Folders []model.BrowserNode `yaml:"folders"`
	Entries []libraryEntry      `yaml:"tracks"`
}

type libraryEntry struct {
	Title    string  `yaml:"title"`
	Path     string  `yaml:"path"`
	Tempo    float64 `yaml:"tempo"`
	Key      string  `yaml:"key"`
	Folder   *int    `yaml:"folder"`
	Position int     `yaml:"position"`
	Duration float64 `yaml:"duration"`
	Energy   float64 `yaml:"energy"`
}

// ParseLibrary decodes a library file.
func ParseLibrary(data []byte) (*LibraryFile, error) {
	var f LibraryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse library: %w", err)
	}
	for i, e := range f.Entries {
		if strings.TrimSpace(e.Title) == "" {
			return nil, fmt.Errorf("library track %d: title is required", i+1)
		}
		if e.Position < 0 {
			return nil, fmt.Errorf("library track %q: negative position", e.Title)
		}
		if e.Folder != nil && *e.Folder < 0 {
			return nil, fmt.Errorf("library track %q: negative folder", e.Title)
		}
	}
	return &f, nil
}

// LoadLibrary reads and decodes a library file.
func LoadLibrary(path string) (*LibraryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read library: %w", err)
	}
	return ParseLibrary(data)
}

// Tracks converts the entries to tracks. Entries without a path are keyed
// by title so that re-imports update them in place.
func (f *LibraryFile) Tracks() []model.Track {
	out := make([]model.Track, 0, len(f.Entries))
	for _, e := range f.Entries {
		p := e.Path
		if p == "" {
			p = "title:" + e.Title
		}
		out = append(out, model.Track{
			Title:             e.Title,
			Path:              p,
			Tempo:             e.Tempo,
			Key:               strings.TrimSpace(e.Key),
			FolderPosition:    e.Folder,
			HierarchyPosition: e.Position,
			DurationSec:       e.Duration,
			Energy:            e.Energy,
		})
	}
	return out
}
