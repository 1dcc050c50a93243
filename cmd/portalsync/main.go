// portalsync is a maintenance CLI for the student-portal offline cache:
// inspect the pending-write queue, force a drain, or reset cached data.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/campuskit/offlinecache"
	"github.com/campuskit/offlinecache/config"
	"github.com/campuskit/offlinecache/logging"
	"github.com/campuskit/offlinecache/storage/sqlite"
	"github.com/campuskit/offlinecache/transport/httpreplay"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "portalsync",
		Short:         "Inspect and drain the student-portal offline cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logging.Init(cfg.Logging)
			return nil
		},
	}

	root.AddCommand(newStatusCmd(&cfg))
	root.AddCommand(newDrainCmd(&cfg))
	root.AddCommand(newClearCmd(&cfg))
	return root
}

func newStatusCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and the number of queued writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := sqlite.OpenOrDegraded((*cfg).StorePath)
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), (*cfg).OpTimeout)
			defer cancel()

			pending, err := store.PendingCount(ctx)
			if err != nil {
				return err
			}

			online := "unknown (no api_base_url configured)"
			if (*cfg).APIBaseURL != "" {
				source := offlinecache.NewProbeSource((*cfg).APIBaseURL, (*cfg).ProbeInterval, nil)
				if source.Online() {
					online = "online"
				} else {
					online = "offline"
				}
			}

			fmt.Printf("connectivity:   %s\n", online)
			fmt.Printf("queued writes:  %d\n", pending)
			return nil
		},
	}
}

func newDrainCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued writes against the portal API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (*cfg).APIBaseURL == "" {
				return fmt.Errorf("PORTAL_API_BASE_URL is required to drain")
			}

			store, err := sqlite.Open((*cfg).StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			replayer := httpreplay.New((*cfg).APIBaseURL,
				httpreplay.WithAuthToken((*cfg).APIToken),
				httpreplay.WithRequestTimeout((*cfg).ReplayTimeout),
			)
			drainer := offlinecache.NewDrainer(store, replayer,
				offlinecache.WithProgress(func(pending int) {
					fmt.Printf("syncing, %d remaining\n", pending)
				}),
			)

			// Generous ceiling: a drain is one request at a time.
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			result, err := drainer.Drain(ctx)
			fmt.Printf("replayed %d, %d still queued\n", result.Replayed, result.Remaining)
			if err != nil {
				return fmt.Errorf("sync incomplete: %w", err)
			}
			return nil
		},
	}
}

func newClearCmd(cfg **config.Config) *cobra.Command {
	var userOnly bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset cached data (all tables, or just the cached user)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open((*cfg).StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			accessor := offlinecache.NewAccessor(store,
				offlinecache.WithOpTimeout((*cfg).OpTimeout))

			if userOnly {
				if err := accessor.ClearUserData(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("cached user cleared")
				return nil
			}

			if err := accessor.ClearAllData(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("all cached data and queued writes cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&userOnly, "user", false, "clear only the cached user (logout)")
	return cmd
}
