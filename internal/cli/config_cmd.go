package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/offlog/internal/config"
	"github.com/spf13/cobra"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the offlog configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.toml into the data directory",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		cfg, err := config.Initialize(flagDataDir, configForce)
		if err != nil {
			exitError("%v", err)
		}
		color.New(color.FgGreen).Printf("Wrote %s\n", cfg.ConfigPath())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		c := initContext()
		if c.Config.Control.Token != "" {
			c.Config.Control.Token = "********"
		}
		data, err := c.Config.Encode()
		if err != nil {
			exitError("%v", err)
		}
		fmt.Printf("# data dir: %s\n", c.Config.DataDir())
		fmt.Print(string(data))
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config.toml")
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
