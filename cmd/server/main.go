package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"strata/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "strata",
		Short:         "Shared model server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to the YAML config (defaults apply when empty)")

	load := func() (config.Config, error) {
		if cfgPath == "" {
			cfg := config.Default()
			return cfg, cfg.Validate()
		}
		return config.Load(cfgPath)
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the model server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate the config and print the effective values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "grpc:       %s\n", cfg.GRPC.Addr)
			fmt.Fprintf(out, "journal:    %v %s\n", cfg.Journal.Enabled, cfg.Journal.Dir)
			fmt.Fprintf(out, "checkpoint: %v %s every %s\n", cfg.Checkpoint.Enabled, cfg.Checkpoint.Dir, cfg.Checkpoint.Interval)
			fmt.Fprintf(out, "broadcast:  %s %v\n", cfg.Broadcast.Driver, cfg.Broadcast.Paths)
			fmt.Fprintf(out, "nodes:      %d declared\n", len(cfg.Nodes))
			return nil
		},
	})
	return root
}
