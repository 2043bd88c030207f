package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"DeckPilot/logger"

	"github.com/spf13/cobra"
)

var (
	performMaxTracks int
	performLibrary   string
	performDryRun    bool
)

var performCmd = &cobra.Command{
	Use:   "perform",
	Short: "Perform a set in the foreground",
	Long: `Perform a set until the track limit is reached or the process is
interrupted. An interrupt stops the set through the normal cleanup: the
crossfader returns to the active deck and the other deck is paused.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		st, err := buildStack(ctx, cfg, stackOptions{dryRun: performDryRun, libraryFile: performLibrary})
		if err != nil {
			return err
		}
		defer st.Close()

		orchCfg, err := orchestratorConfig(cfg)
		if err != nil {
			return err
		}
		manager := newManager(st, orchCfg)

		handle, err := manager.StartSession(ctx, performMaxTracks)
		if err != nil {
			return err
		}
		logger.Info("performing", logger.String("session", handle.ID), logger.Int("maxTracks", handle.MaxTracks))

		err = manager.Wait(ctx, handle)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Info("interrupted, stopping session", logger.String("session", handle.ID))
			err = manager.StopSession(handle)
		}

		snap := manager.Status()
		logger.Info("set finished",
			logger.String("session", handle.ID),
			logger.Int("tracksPlayed", snap.Session.TracksPlayed),
			logger.String("lastAction", snap.Session.LastAction))
		return sessionError(err)
	},
}

func init() {
	performCmd.Flags().IntVar(&performMaxTracks, "max-tracks", -1, "transitions before stopping, 0 for no limit (default DJ_MAX_TRACKS)")
	performCmd.Flags().StringVar(&performLibrary, "library", "", "perform from a YAML library file instead of the database")
	performCmd.Flags().BoolVar(&performDryRun, "dry-run", false, "discard MIDI output")
	rootCmd.AddCommand(performCmd)
}
