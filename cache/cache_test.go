package cache

import (
	"context"
	"testing"
	"time"

	"DeckPilot/core/navigation"
	"DeckPilot/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

var _ navigation.OffsetStore = (*OffsetCache)(nil)

func TestOffsetCacheRoundTrip(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	c := NewOffsetCache(client, "club")

	folder := 4
	root := model.BrowserLocation{Index: 7}
	nested := model.BrowserLocation{Folder: &folder, Index: 2}
	if err := c.SaveOffset(ctx, "track:1", model.OffsetEntry{Location: root, Source: root}); err != nil {
		t.Fatal(err)
	}
	if err := c.SaveOffset(ctx, "track:2", model.OffsetEntry{Location: nested, Source: model.BrowserLocation{Index: 9}}); err != nil {
		t.Fatal(err)
	}

	got, err := c.LoadOffsets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["track:1"].Location.Index != 7 || got["track:2"].Location.String() != "4/2" || got["track:2"].Source.String() != "root/9" {
		t.Fatalf("LoadOffsets = %+v", got)
	}

	if err := c.DeleteOffset(ctx, "track:1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Len(ctx); n != 1 {
		t.Errorf("Len after delete = %d", n)
	}

	// Another library does not see these entries.
	other, err := NewOffsetCache(client, "home").LoadOffsets(ctx)
	if err != nil || len(other) != 0 {
		t.Errorf("other library = %+v, %v", other, err)
	}

	if err := c.ClearOffsets(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Len(ctx); n != 0 {
		t.Errorf("Len after clear = %d", n)
	}
}

func TestOffsetTableInvalidationClearsRedis(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	store := NewOffsetCache(client, "")

	table := navigation.NewOffsetTable(store)
	loc := model.BrowserLocation{Index: 3}
	table.Put(ctx, "track:9", model.OffsetEntry{Location: loc, Source: loc})
	if !mr.Exists("deckpilot:default:offsets") {
		t.Fatal("offset not persisted")
	}

	warm := navigation.NewOffsetTable(store)
	if err := warm.Warm(ctx); err != nil {
		t.Fatal(err)
	}
	if entry, ok := warm.Get("track:9"); !ok || entry.Location.Index != 3 {
		t.Fatalf("warm table missing entry: %+v %v", entry, ok)
	}

	warm.Invalidate(ctx)
	if mr.Exists("deckpilot:default:offsets") {
		t.Error("invalidation left the persisted table behind")
	}
}

func TestStaleOffsetIsDeletedFromRedis(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	store := NewOffsetCache(client, "club")
	old := model.BrowserLocation{Index: 8}
	if err := store.SaveOffset(ctx, "track:1", model.OffsetEntry{Location: old, Source: old}); err != nil {
		t.Fatal(err)
	}
	// Entries written before sources were recorded decode with a zero source.
	mr.HSet("deckpilot:club:offsets", "track:2", `{"index":4}`)

	table := navigation.NewOffsetTable(store)
	if err := table.Warm(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := table.Lookup(ctx, "track:1", model.BrowserLocation{Index: 3}); ok {
		t.Error("entry learned for row 8 used for row 3")
	}
	if _, ok := table.Lookup(ctx, "track:2", model.BrowserLocation{Index: 4}); ok {
		t.Error("entry without source used")
	}
	if mr.Exists("deckpilot:club:offsets") {
		t.Error("stale fields left in redis")
	}
}

func TestSessionCache(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	c := NewSessionCache(client)

	if snap, err := c.Latest(ctx); err != nil || snap != nil {
		t.Fatalf("empty Latest = %+v, %v", snap, err)
	}

	c.Publish(model.SessionSnapshot{
		Running: true,
		Session: model.SessionState{ID: "s-1", Phase: model.PhaseMixing, TracksPlayed: 3},
		Decks:   []model.DeckState{{ID: model.DeckA, Playing: true, Volume: 100, IsMaster: true}},
		At:      time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC),
	})

	latest, err := c.Latest(ctx)
	if err != nil || latest == nil {
		t.Fatalf("Latest = %+v, %v", latest, err)
	}
	if latest.Session.Phase != model.PhaseMixing || latest.Session.TracksPlayed != 3 || !latest.Decks[0].IsMaster {
		t.Errorf("latest = %+v", latest)
	}
	byID, err := c.Get(ctx, "s-1")
	if err != nil || byID == nil || byID.Session.ID != "s-1" {
		t.Errorf("Get(s-1) = %+v, %v", byID, err)
	}

	mr.FastForward(25 * time.Hour)
	if snap, _ := c.Latest(ctx); snap != nil {
		t.Error("snapshot outlived its TTL")
	}
}
