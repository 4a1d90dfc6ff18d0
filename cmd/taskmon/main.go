package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/taskmon"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	SortKey    string
	TopN       int
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:           "taskmon",
		Short:         "Live process and resource monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flags.SortKey, "sort", "", "sort key: cpu|memory|name|pid")
	root.PersistentFlags().IntVarP(&flags.TopN, "top", "n", 20, "number of processes to show")

	root.AddCommand(
		createTopCommand(flags),
		createWatchCommand(flags),
		createServeCommand(flags),
		createActionCommand(flags, taskmon.ActionKill, "kill <pid>", "Kill a process"),
		createActionCommand(flags, taskmon.ActionSuspend, "suspend <pid>", "Suspend (pause) a process"),
		createActionCommand(flags, taskmon.ActionResume, "resume <pid>", "Resume a suspended process"),
	)
	return root
}

// loadConfig resolves flags into a validated configuration and installs the
// configured logger.
func loadConfig(flags *GlobalFlags) (taskmon.Config, error) {
	cfg := taskmon.DefaultConfig()
	if flags.ConfigPath != "" {
		var err error
		cfg, err = taskmon.LoadConfig(flags.ConfigPath)
		if err != nil {
			return cfg, err
		}
	}
	if flags.SortKey != "" {
		cfg.Sort = flags.SortKey
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	if err := taskmon.SetupLogging(cfg.Log); err != nil {
		return cfg, err
	}
	return cfg, nil
}
