package matcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"DeckPilot/model"
	"DeckPilot/repository"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"8A", "8A"},
		{"12b", "12B"},
		{" 1A ", "1A"},
		{"Am", "8A"},
		{"C", "8B"},
		{"C major", "8B"},
		{"F#m", "11A"},
		{"Gb minor", "11A"},
		{"Bb", "6B"},
		{"Eb min", "2A"},
		{"E", "12B"},
		{"B", "1B"},
		{"Dm", "7A"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := ParseKey(tt.in)
			if err != nil {
				t.Fatalf("ParseKey(%q) error = %v", tt.in, err)
			}
			if k.String() != tt.want {
				t.Errorf("ParseKey(%q) = %s, want %s", tt.in, k, tt.want)
			}
		})
	}
}

func TestParseKeyMalformed(t *testing.T) {
	for _, in := range []string{"", "13A", "0B", "8C", "H", "Am7", "x#m"} {
		if _, err := ParseKey(in); !errors.Is(err, ErrMalformedKey) {
			t.Errorf("ParseKey(%q) error = %v, want ErrMalformedKey", in, err)
		}
	}
}

func TestHarmonicDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"8A", "8A", 0},
		{"8A", "8B", 0},
		{"8A", "9A", 1},
		{"8A", "7A", 1},
		{"12B", "1B", 1},
		{"1A", "12A", 1},
		{"8A", "9B", 2},
		{"8A", "10A", 2},
		{"3A", "9A", 6},
		{"3A", "9B", 7},
	}
	for _, tt := range tests {
		a, _ := ParseKey(tt.a)
		b, _ := ParseKey(tt.b)
		if got := HarmonicDistance(a, b); got != tt.want {
			t.Errorf("HarmonicDistance(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := HarmonicDistance(b, a); got != tt.want {
			t.Errorf("HarmonicDistance(%s, %s) not symmetric: %d", tt.b, tt.a, got)
		}
	}
}

func TestFindCompatibleScenario(t *testing.T) {
	store := repository.NewMemoryTrackRepository([]model.Track{
		{ID: 1, Title: "Nearby", Tempo: 126, Key: "9A"},
		{ID: 2, Title: "Too fast", Tempo: 140, Key: "8B"},
	})
	m := New(store, Defaults{Tempo: 124, Key: "8A"})

	got, err := m.FindCompatible(context.Background(), 128, "8A", 6.0)
	if err != nil {
		t.Fatalf("FindCompatible: %v", err)
	}
	if len(got) != 1 || got[0].Track.ID != 1 {
		t.Fatalf("got %+v, want only track 1", got)
	}
	if got[0].Distance != 1 || got[0].TempoDelta != -2 {
		t.Errorf("match detail = %+v", got[0])
	}
}

func TestFindCompatibleRanking(t *testing.T) {
	store := repository.NewMemoryTrackRepository([]model.Track{
		{ID: 1, Tempo: 127, Key: "9A"},   // distance 1, delta 1
		{ID: 2, Tempo: 130, Key: "8B"},   // distance 0, delta 2
		{ID: 3, Tempo: 128.5, Key: "8A"}, // distance 0, delta 0.5
		{ID: 4, Tempo: 128, Key: "3B"},   // wrong key
		{ID: 5, Tempo: 128, Key: "bogus"},
		{ID: 6, Tempo: 126, Key: "7A"}, // distance 1, delta 2
	})
	m := New(store, Defaults{})

	got, err := m.FindCompatible(context.Background(), 128, "8A", 0)
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for _, g := range got {
		ids = append(ids, g.Track.ID)
	}
	want := []int64{3, 2, 1, 6}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", ids, want)
	}
}

func TestFindCompatibleBadReference(t *testing.T) {
	store := repository.NewMemoryTrackRepository([]model.Track{{ID: 1, Tempo: 128, Key: "8A"}})
	m := New(store, Defaults{})
	ctx := context.Background()

	for _, tc := range []struct {
		tempo float64
		key   string
	}{{0, "8A"}, {-5, "8A"}, {128, "garbage"}, {128, ""}} {
		got, err := m.FindCompatible(ctx, tc.tempo, tc.key, 6)
		if err != nil || len(got) != 0 {
			t.Errorf("FindCompatible(%v, %q) = %v, %v; want empty", tc.tempo, tc.key, got, err)
		}
	}
}

func TestFindCompatibleBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := make([]string, 0, 24)
	for n := 1; n <= 12; n++ {
		keys = append(keys, fmt.Sprintf("%dA", n), fmt.Sprintf("%dB", n))
	}
	var tracks []model.Track
	for i := 1; i <= 400; i++ {
		tracks = append(tracks, model.Track{
			ID:    int64(i),
			Tempo: 90 + rng.Float64()*80,
			Key:   keys[rng.Intn(len(keys))],
		})
	}
	m := New(repository.NewMemoryTrackRepository(tracks), Defaults{})
	ctx := context.Background()

	for trial := 0; trial < 50; trial++ {
		refTempo := 95 + rng.Float64()*70
		refKey := keys[rng.Intn(len(keys))]
		tol := 1 + rng.Float64()*9
		ref, _ := ParseKey(refKey)

		got, err := m.FindCompatible(ctx, refTempo, refKey, tol)
		if err != nil {
			t.Fatal(err)
		}
		for _, g := range got {
			if !WithinTolerance(g.Track.Tempo, refTempo, tol) {
				t.Fatalf("tempo %v outside %.2f%% of %v", g.Track.Tempo, tol, refTempo)
			}
			k, _ := ParseKey(g.Track.Key)
			if d := HarmonicDistance(ref, k); d > 1 {
				t.Fatalf("key %s at distance %d from %s", g.Track.Key, d, refKey)
			}
		}
	}
}

func TestReferenceFallsBackToDefaults(t *testing.T) {
	m := New(repository.NewMemoryTrackRepository(nil), Defaults{Tempo: 122, Key: "5A"})

	tempo, key := m.Reference(&model.Track{Tempo: 0, Key: ""})
	if tempo != 122 || key != "5A" {
		t.Errorf("Reference(empty) = %v %q", tempo, key)
	}
	tempo, key = m.Reference(&model.Track{Tempo: 130, Key: "not a key"})
	if tempo != 130 || key != "5A" {
		t.Errorf("Reference(partial) = %v %q", tempo, key)
	}
	tempo, key = m.Reference(nil)
	if tempo != 122 || key != "5A" {
		t.Errorf("Reference(nil) = %v %q", tempo, key)
	}
}

type failingStore struct{}

func (failingStore) FindByTempoRange(context.Context, float64, float64) ([]model.Track, error) {
	return nil, errors.New("db down")
}

func (failingStore) ListTracks(context.Context) ([]model.Track, error) {
	return nil, errors.New("db down")
}

func TestFindCompatibleStoreError(t *testing.T) {
	m := New(failingStore{}, Defaults{})
	if _, err := m.FindCompatible(context.Background(), 128, "8A", 6); err == nil {
		t.Fatal("expected store error")
	}
}
