package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"DeckPilot/core/device"
	"DeckPilot/logger"
	"DeckPilot/model"
	"DeckPilot/server"

	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveLibrary string
	serveDryRun  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session API",
	Long: `Run the HTTP API: start and stop sessions, load tracks by hand, query
the library and stream session status over a websocket. The control map is
reloaded when its file changes while no session runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		st, err := buildStack(ctx, cfg, stackOptions{dryRun: serveDryRun, libraryFile: serveLibrary})
		if err != nil {
			return err
		}
		defer st.Close()

		orchCfg, err := orchestratorConfig(cfg)
		if err != nil {
			return err
		}

		hub := server.NewStatusHub()
		go hub.Run()
		defer hub.Stop()

		manager := newManager(st, orchCfg, hub)

		if cfg.MIDIMapping != "" {
			go func() {
				err := device.WatchMapping(ctx, cfg.MIDIMapping, func(cm device.ControlMap) {
					if err := cm.SelfCheck(device.RequiredControls(model.DeckA, model.DeckB)); err != nil {
						logger.Warn("reloaded control map rejected", logger.ErrorField(err))
						return
					}
					if err := manager.ApplyControls(cm); err != nil {
						logger.Warn("control map not applied", logger.ErrorField(err))
					}
				})
				if err != nil {
					logger.Warn("control map watcher stopped", logger.ErrorField(err))
				}
			}()
		}

		var reports server.ReportLister
		if st.reports != nil {
			reports = st.reports
		}
		h := server.NewAPIHandler(cfg, manager, st.store, st.matcher, reports, hub)

		addr := serveAddr
		if addr == "" {
			addr = cfg.HTTPAddr
		}
		if cfg.APISecret == "" {
			logger.Warn("DJ_API_SECRET is empty, the API is open")
		}
		err = server.Start(ctx, addr, server.NewRouter(h))

		// Leave the decks in a safe state on shutdown.
		if handle, ok := manager.Current(); ok {
			if err := manager.StopSession(handle); err != nil {
				logger.Warn("session ended with error", logger.String("session", handle.ID), logger.ErrorField(err))
			}
		}
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default HTTP_ADDR)")
	serveCmd.Flags().StringVar(&serveLibrary, "library", "", "serve tracks from a YAML library file instead of the database")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "discard MIDI output")
	rootCmd.AddCommand(serveCmd)
}
