package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/taskcore/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or scaffold the taskcore configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a taskcore.yaml populated with default tunables",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "taskcore.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		return config.WriteDefaultsYAML(path)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
