package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"DeckPilot/cache"
	"DeckPilot/db"
	"DeckPilot/model"
	"github.com/spf13/cobra"
)

var redisLibrary string

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the Redis connection and manage cached state",
	Long:  `Check the Redis connection, show or clear the cached browser offset table,
and show the latest session snapshot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("redis: %s:%s, db %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer db.CloseRedis()
		fmt.Println("redis connected")

		if err := db.CheckRedis(cmd.Context(), client); err != nil {
			return fmt.Errorf("redis check: %w", err)
		}
		fmt.Println("redis read/write check passed")
		return nil
	},
}

var offsetsCmd = &cobra.Command{
	Use:   "offsets",
	Short: "Show the cached browser offset table",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer db.CloseRedis()

		offsets, err := cache.NewOffsetCache(client, offsetLibrary()).LoadOffsets(cmd.Context())
		if err != nil {
			return err
		}
		if len(offsets) == 0 {
			fmt.Println("offset table is empty")
			return nil
		}
		keys := make([]string, 0, len(offsets))
		for k := range offsets {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tLOCATION\tLEARNED FOR")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\t%s\n", k, offsets[k].Location, offsets[k].Source)
		}
		return w.Flush()
	},
}

var offsetsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the cached browser offset table",
	Long:  `Clear the offset table. Run it after reorganising the library in the mixing
application; entries learned for moved tracks are also dropped on use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer db.CloseRedis()

		oc := cache.NewOffsetCache(client, offsetLibrary())
		n, err := oc.Len(cmd.Context())
		if err != nil {
			return err
		}
		if err := oc.ClearOffsets(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("cleared %d offset entries\n", n)
		return nil
	},
}

var lastSessionCmd = &cobra.Command{
	Use:   "session [id]",
	Short: "Show the snapshot of the latest (or given) session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := db.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer db.CloseRedis()

		sc := cache.NewSessionCache(client)
		var snap *model.SessionSnapshot
		if len(args) == 1 {
			snap, err = sc.Get(cmd.Context(), args[0])
		} else {
			snap, err = sc.Latest(cmd.Context())
		}
		if err != nil {
			return err
		}
		if snap == nil {
			fmt.Println("no cached session")
			return nil
		}
		return printJSON(snap)
	},
}

// offsetLibrary names the offset table: the --library value, DB_NAME
// otherwise, matching what a performing process uses.
func offsetLibrary() string {
	if redisLibrary != "" {
		return redisLibrary
	}
	return cfg.DBName
}

func init() {
	offsetsCmd.PersistentFlags().StringVar(&redisLibrary, "library", "", "library name of the offset table (default DB_NAME)")
	offsetsCmd.AddCommand(offsetsClearCmd)
	redisCmd.AddCommand(offsetsCmd, lastSessionCmd)
	rootCmd.AddCommand(redisCmd)
}
