package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/campaign-tracker/pkg/config"
)

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the tracker config file",
	}
	cmd.AddCommand(c.newConfigInitCmd())
	return cmd
}

func (c *cli) newConfigInitCmd() *cobra.Command {
	var (
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to a YAML file",
		Long: `Write the configuration this invocation resolved from defaults, the
config file, TRACKER_* variables and flags, so it can be edited and reused.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = config.DefaultPath()
			}
			if !force {
				_, err := os.Stat(output)
				if err == nil {
					return fmt.Errorf("%s already exists, use --force to replace it", output)
				}
				if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := config.Save(c.cfg, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Config written: %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination (default: ~/.social_publisher/tracker.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing file")
	return cmd
}
