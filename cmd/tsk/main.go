// Command tsk is an offline-first task list.
//
// Mutations are recorded locally in an embedded SQLite database together
// with a durable operation queue; `tsk sync` (or the daemon) later drains
// the queue against the configured remote peer and reconciles divergence.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/tasksync/internal/config"
	"github.com/steveyegge/tasksync/internal/store"
)

// version is stamped by the release build.
var version = "dev"

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tsk",
	Short: "Offline-first task list with remote sync",
	Long: `tsk keeps your task list fully usable offline.

Every create, update, and delete is applied locally and appended to a
durable sync queue. When connectivity returns, 'tsk sync' or the daemon
drains the queue against the remote peer, resolving conflicts by
last-write-wins on modification time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tsk version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tsk %s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  `Write the default configuration to ~/.tasksync/config.yaml (or --config).`,
	Run: func(cmd *cobra.Command, args []string) {
		path := cfgPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.WriteTemplate(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
	},
}

// openStore opens the configured database and ensures the schema exists.
func openStore() *store.Store {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}
	return st
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.tasksync/config.yaml)")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
