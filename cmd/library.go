package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"DeckPilot/cache"
	"DeckPilot/core/matcher"
	"DeckPilot/db"
	"DeckPilot/logger"
	"DeckPilot/model"
	"DeckPilot/repository"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

var (
	tracksLibrary  string
	matchTolerance float64
	matchTempo     float64
	matchKey       string
	matchLimit     int
)

var importCmd = &cobra.Command{
	Use:   "import <library.yaml>",
	Short: "Import an analysed library into the database",
	Long: `Import the tempo, key and browser position of every track in a YAML
library export. Tracks are matched by path, so importing again updates them.
When tracks moved, the cached offset table of DB_NAME is cleared.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, err := repository.LoadLibrary(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, _, _, closeStore, err := openStore(ctx, cfg, "")
		if err != nil {
			return err
		}
		defer closeStore()

		incoming := lib.Tracks()
		stored, err := store.ListTracks(ctx)
		if err != nil {
			return err
		}
		created, updated, err := store.UpsertTracks(ctx, incoming)
		if err != nil {
			return err
		}
		total, _ := store.Count(ctx)
		logger.Info("library imported",
			logger.String("file", args[0]),
			logger.Int("created", created),
			logger.Int("updated", updated),
			logger.Int64("total", total))
		fmt.Printf("imported: %d created, %d updated, %d total\n", created, updated, total)
		if moved := movedTracks(stored, incoming); moved > 0 {
			client := openRedis(cfg)
			if client != nil {
				defer db.CloseRedis()
			}
			if err := dropLearnedOffsets(ctx, client, cfg.DBName, moved); err != nil {
				logger.Warn("clear offset table failed", logger.Int("moved", moved), logger.ErrorField(err))
			} else if client != nil {
				fmt.Printf("%d tracks moved, offset table cleared\n", moved)
			}
		}
		if len(lib.Folders) > 0 {
			fmt.Printf("the file declares %d folders; set NAV_FOLDERS or perform with --library\n", len(lib.Folders))
		}
		return nil
	},
}

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "List the library",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, _, _, closeStore, err := openStore(ctx, cfg, tracksLibrary)
		if err != nil {
			return err
		}
		defer closeStore()

		tracks, err := store.ListTracks(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tTEMPO\tKEY\tLOCATION")
		for _, t := range tracks {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Title, formatTempo(t.Tempo), t.Key, t.Location())
		}
		return w.Flush()
	},
}

var matchCmd = &cobra.Command{
	Use:   "match [track-id]",
	Short: "Rank tracks that mix into a track, or into --tempo and --key",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, _, _, closeStore, err := openStore(ctx, cfg, tracksLibrary)
		if err != nil {
			return err
		}
		defer closeStore()
		m := matcher.New(store, matcher.Defaults{Tempo: cfg.DefaultTempo, Key: cfg.DefaultKey})

		tempo, key, self, err := matchReference(ctx, store, m, args)
		if err != nil {
			return err
		}
		tolerance := matchTolerance
		if tolerance <= 0 {
			tolerance = cfg.TolerancePct
		}
		matches, err := m.FindCompatible(ctx, tempo, key, tolerance)
		if err != nil {
			return err
		}

		fmt.Printf("reference: %s %s, tolerance %.1f%%\n", formatTempo(tempo), key, tolerance)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tTEMPO\tKEY\tDIST\tDELTA")
		shown := 0
		for _, c := range matches {
			if c.Track.ID == self {
				continue
			}
			if matchLimit > 0 && shown == matchLimit {
				break
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%+.2f\n",
				c.Track.ID, c.Track.Title, formatTempo(c.Track.Tempo), c.Track.Key, c.Distance, c.TempoDelta)
			shown++
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if shown == 0 {
			fmt.Println("no compatible tracks")
		}
		return nil
	},
}

// movedTracks counts imported tracks whose browser location differs from the
// stored track with the same path.
func movedTracks(stored, incoming []model.Track) int {
	at := make(map[string]model.BrowserLocation, len(stored))
	for i := range stored {
		if stored[i].Path != "" {
			at[stored[i].Path] = stored[i].Location()
		}
	}
	moved := 0
	for i := range incoming {
		if loc, ok := at[incoming[i].Path]; ok && !loc.Equal(incoming[i].Location()) {
			moved++
		}
	}
	return moved
}

// dropLearnedOffsets clears the offset table of library after an import
// moved tracks. Without Redis nothing is persisted.
func dropLearnedOffsets(ctx context.Context, client *redis.Client, library string, moved int) error {
	if client == nil || moved == 0 {
		return nil
	}
	return cache.NewOffsetCache(client, library).ClearOffsets(ctx)
}

// matchReference resolves the reference of the match command. self is the
// reference track id, 0 when matching against flags.
func matchReference(ctx context.Context, store repository.TrackRepository, m *matcher.Matcher, args []string) (tempo float64, key string, self int64, err error) {
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, "", 0, fmt.Errorf("invalid track id %q", args[0])
		}
		t, err := store.GetTrack(ctx, id)
		if err != nil {
			return 0, "", 0, err
		}
		tempo, key = m.Reference(t)
		return tempo, key, t.ID, nil
	}
	if matchTempo <= 0 || matchKey == "" {
		return 0, "", 0, fmt.Errorf("give a track id or both --tempo and --key")
	}
	if _, err := matcher.ParseKey(matchKey); err != nil {
		return 0, "", 0, err
	}
	return matchTempo, matchKey, 0, nil
}

func formatTempo(t float64) string {
	if t <= 0 {
		return "-"
	}
	return strconv.FormatFloat(t, 'f', 1, 64)
}

func init() {
	tracksCmd.PersistentFlags().StringVar(&tracksLibrary, "library", "", "read a YAML library file instead of the database")
	matchCmd.Flags().Float64Var(&matchTolerance, "tolerance", 0, "tempo tolerance in percent (default DJ_TEMPO_TOLERANCE)")
	matchCmd.Flags().Float64Var(&matchTempo, "tempo", 0, "reference tempo")
	matchCmd.Flags().StringVar(&matchKey, "key", "", "reference key, Camelot (8A) or standard (Am)")
	matchCmd.Flags().IntVar(&matchLimit, "limit", 20, "maximum rows, 0 for all")
	tracksCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(importCmd, tracksCmd)
}
