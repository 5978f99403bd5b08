package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/tasksync/internal/daemon"
	"github.com/steveyegge/tasksync/internal/dashboard"
	"github.com/steveyegge/tasksync/internal/engine"
	"github.com/steveyegge/tasksync/internal/remote"
	"github.com/steveyegge/tasksync/internal/ui"
)

var daemonNoDashboard bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon (foreground)",
	Long: `Run background synchronization in the foreground.

The daemon triggers a reconciliation pass on the configured interval,
watches the inbox directory (if set) for dropped task JSON files, and
serves a websocket event feed for monitoring.`,
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore()
		defer st.Close()

		logger := log.New(os.Stderr, "[daemon] ", log.LstdFlags)
		if cfg.Daemon.LogFile != "" {
			logger = log.New(&lumberjack.Logger{
				Filename:   cfg.Daemon.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
			}, "[daemon] ", log.LstdFlags)
		}

		var feed *dashboard.Server
		if cfg.Daemon.DashboardPort > 0 && !daemonNoDashboard {
			feed = dashboard.NewServer(cfg.Daemon.DashboardPort, logger)
			if err := feed.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer feed.Stop()
		}

		engCfg := engine.DefaultConfig()
		engCfg.BatchSize = cfg.Sync.BatchSize
		engCfg.MaxRetries = cfg.Sync.MaxRetries
		engCfg.Workers = cfg.Sync.Workers
		engCfg.Logger = logger

		client := remote.New(cfg.Remote.BaseURL, cfg.Remote.RequestTimeout, logger)
		eng := engine.New(st, client, engCfg)

		dCfg := daemon.DefaultConfig()
		dCfg.SyncInterval = cfg.Sync.Interval
		dCfg.InboxDir = cfg.Daemon.InboxDir
		dCfg.Logger = logger

		d, err := daemon.New(st, eng, feed, dCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Peer:     %s\n", cfg.Remote.BaseURL)
		fmt.Printf("   Interval: %v\n", cfg.Sync.Interval)
		if cfg.Daemon.InboxDir != "" {
			fmt.Printf("   Inbox:    %s\n", cfg.Daemon.InboxDir)
		}
		if feed != nil {
			fmt.Printf("   Feed:     ws://%s/ws\n", feed.Addr())
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonNoDashboard, "no-dashboard", false, "disable the websocket event feed")
	rootCmd.AddCommand(daemonCmd)
}
