package cmd

import (
	"fmt"
	"os"

	"DeckPilot/config"
	"DeckPilot/logger"

	"github.com/spf13/cobra"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "deckpilot",
	Short: "DeckPilot performs DJ sets on a mixing application over MIDI.",
	Long: `DeckPilot drives a two-deck mixing application blind, through MIDI
control changes: it picks harmonically compatible tracks, finds them in the
media browser, loads them and crossfades between the decks.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(cfg.LogLevel),
			OutputPath: cfg.LogFile,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAge,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
