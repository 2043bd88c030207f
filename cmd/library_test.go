package cmd

import (
	"context"
	"testing"
	"unicode"

	"DeckPilot/cache"
	"DeckPilot/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

func TestMovedTracks(t *testing.T) {
	folder := 3
	stored := []model.Track{
		{ID: 1, Path: "a.mp3", HierarchyPosition: 0},
		{ID: 2, Path: "b.mp3", FolderPosition: &folder, HierarchyPosition: 7},
		{ID: 3, Path: "c.mp3", HierarchyPosition: 4},
	}
	other := 3
	tests := []struct {
		name     string
		incoming []model.Track
		want     int
	}{
		{name: "unchanged", incoming: []model.Track{
			{Path: "a.mp3", HierarchyPosition: 0},
			{Path: "b.mp3", FolderPosition: &other, HierarchyPosition: 7},
		}},
		{name: "root row moved", incoming: []model.Track{{Path: "c.mp3", HierarchyPosition: 5}}, want: 1},
		{name: "left its folder", incoming: []model.Track{{Path: "b.mp3", HierarchyPosition: 7}}, want: 1},
		{name: "new track", incoming: []model.Track{{Path: "d.mp3", HierarchyPosition: 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := movedTracks(stored, tt.incoming); got != tt.want {
				t.Errorf("movedTracks = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDropLearnedOffsets(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()
	oc := cache.NewOffsetCache(client, "club")
	loc := model.BrowserLocation{Index: 8}
	if err := oc.SaveOffset(ctx, "track:1", model.OffsetEntry{Location: loc, Source: loc}); err != nil {
		t.Fatal(err)
	}

	if err := dropLearnedOffsets(ctx, client, "club", 0); err != nil {
		t.Fatal(err)
	}
	if n, _ := oc.Len(ctx); n != 1 {
		t.Fatalf("entries = %d after an import that moved nothing", n)
	}

	if err := dropLearnedOffsets(ctx, client, "club", 2); err != nil {
		t.Fatal(err)
	}
	if n, _ := oc.Len(ctx); n != 0 {
		t.Errorf("entries = %d after tracks moved", n)
	}

	if err := dropLearnedOffsets(ctx, nil, "club", 2); err != nil {
		t.Errorf("without redis: %v", err)
	}
}

func TestHelpTextIsASCII(t *testing.T) {
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		for _, text := range []string{c.Short, c.Long, c.Example} {
			for _, r := range text {
				if r > unicode.MaxASCII {
					t.Errorf("%s: help text %q is not ASCII", c.CommandPath(), text)
					break
				}
			}
		}
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(rootCmd)
}
