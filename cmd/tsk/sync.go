package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/tasksync/internal/engine"
	"github.com/steveyegge/tasksync/internal/remote"
	"github.com/steveyegge/tasksync/internal/schema"
	"github.com/steveyegge/tasksync/internal/ui"
)

var (
	syncBatchSize int
	statusErrors  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass",
	Long: `Drain pending queue entries against the remote peer.

Per-item failures don't abort the pass; they are retried on later passes
until the retry ceiling and then reported here as failed.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		engCfg := engine.DefaultConfig()
		engCfg.BatchSize = cfg.Sync.BatchSize
		engCfg.MaxRetries = cfg.Sync.MaxRetries
		engCfg.Workers = cfg.Sync.Workers
		if syncBatchSize > 0 {
			engCfg.BatchSize = syncBatchSize
		}

		client := remote.New(cfg.Remote.BaseURL, cfg.Remote.RequestTimeout, nil)
		eng := engine.New(st, client, engCfg)

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("🔄"), cfg.Remote.BaseURL)

		summary, err := eng.Sync(context.Background())
		if err != nil {
			if errors.Is(err, schema.ErrSyncInProgress) {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		if summary.Unreachable {
			fmt.Printf("%s Peer unreachable, nothing attempted\n", ui.RenderWarn("⚠"))
			return
		}

		fmt.Printf("%s Pass complete in %v\n", ui.RenderPass("✓"), summary.Duration.Round(time.Millisecond))
		fmt.Printf("   Synced:  %d\n", summary.Synced)
		fmt.Printf("   Failed:  %d\n", summary.Failed)
		fmt.Printf("   Pending: %d\n", summary.Pending)
		for _, item := range summary.Errors {
			fmt.Printf("   %s task %s: %s\n", ui.RenderFail("✗"), item.TaskID, item.Message)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync queue status",
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		ctx := context.Background()
		stats, err := st.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue stats: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Sync Queue\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Pending:   %d\n", stats.Pending)
		fmt.Printf("Succeeded: %d\n", stats.Succeeded)
		fmt.Printf("Failed:    %d\n", stats.Failed)
		if stats.LastSyncedAt != nil {
			fmt.Printf("Last sync: %s\n", stats.LastSyncedAt.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("Last sync: never\n")
		}
		fmt.Println()

		if statusErrors && stats.Failed > 0 {
			entries, err := st.FailedEntries(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading failed entries: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Exhausted entries\n\n", ui.RenderFail("✗"))
			for _, e := range entries {
				fmt.Printf("%s %s task=%s retries=%d\n", e.ID, e.Op, e.TaskID, e.RetryCount)
				if e.ErrorMessage != "" {
					fmt.Println(ui.RenderDim("    " + e.ErrorMessage))
				}
			}
			fmt.Println()
		}
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncBatchSize, "batch-size", 0, "override configured batch size")
	statusCmd.Flags().BoolVar(&statusErrors, "errors", false, "list entries that exhausted their retries")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
