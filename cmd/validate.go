package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ebusdepot/app"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the scenario without running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.Validate(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfg.Scenario.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
