package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cycleflow-dev/cycleflow/internal/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "cycleflow",
	Short: "Cycleflow is a cyclic workflow scheduling engine",
	Long: `Cycleflow schedules tasks over repeating cycle points.

A workflow definition declares tasks, their dependency graph across
cycle points and the platforms the jobs run on. Cycleflow expands the
graph, validates it and drives each task instance through its lifecycle.
`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the process configuration file")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress informational output")

	rootCmd.AddCommand(cmd.CmdValidate())
	rootCmd.AddCommand(cmd.CmdRun())
	rootCmd.AddCommand(cmd.CmdGraph())
	rootCmd.AddCommand(cmd.CmdVersion())
}
