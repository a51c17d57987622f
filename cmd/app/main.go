package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:          "voicestudio",
		Short:        "Batch text to speech with an effect chain and voice conversion",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "cfg-path", "cfg/cfg.yaml", "path to config file")

	cmd.AddCommand(
		newServeCmd(&cfgPath),
		newBatchCmd(&cfgPath),
		newVersionCmd(),
	)

	return cmd
}

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voicestudio %s %s\n", formatVersion(), runtime.Version())
		},
	}
}
