// Command shardmesh runs the shard migration and routing orchestrator.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dreamware/shardmesh/internal/config"
)

func main() {
	if err := NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the shardmesh command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "shardmesh",
		Short: "shardmesh relocates servers between the shards of a shard space.",
		Long: `shardmesh keeps the catalog of shards, shard spaces and proxies, routes
daemon calls to the shard a server currently runs on, and relocates stopped
servers to another shard of their space by rewiring proxy NAT rules and
network volume mounts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SetAllConfig(viper.New(), cmd.Flags(), config.EnvPrefix); err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			return nil
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newServeCommand())
	rc.AddCommand(newMigrateCommand(stdout))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}
