package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/taskcore/internal/config"
)

var (
	version string = "dev"
	loader  *config.Loader
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "taskcore",
	Short:   "Task dispatch and SLA enforcement core for human-in-the-loop review",
	Long:    `taskcore queues review tasks below the auto-apply threshold, assigns them fairly to available reviewers, and enforces completion deadlines.`,
	Version: version,
}

func init() {
	loader = config.NewLoader(rootCmd)
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	loaded, err := loader.Load()
	if err != nil {
		cobra.CheckErr(err)
	}
	cfg = loaded
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
