package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/taskmon"
)

func createTopCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Print a one-shot table of the busiest processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			mon, err := taskmon.New(cfg)
			if err != nil {
				return err
			}
			defer mon.Stop()

			// Rates need two snapshots; wait for the second cycle.
			update, err := waitForCycles(cmd.Context(), mon, cfg, 2)
			if err != nil {
				return err
			}
			printProcesses(cmd.OutOrStdout(), mon, update, cfg.SortKey(), flags.TopN)
			return nil
		},
	}
}

func createWatchCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Continuously print the busiest processes each refresh cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			mon, err := taskmon.New(cfg)
			if err != nil {
				return err
			}

			updates := make(chan cycleUpdate, 1)
			mon.Subscribe(func(snap *taskmon.Snapshot, res taskmon.DeltaResult) {
				select {
				case updates <- cycleUpdate{snap: snap, res: res}:
				default:
				}
			})

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			mon.Start(ctx)
			defer mon.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case u := <-updates:
					printProcesses(cmd.OutOrStdout(), mon, u, cfg.SortKey(), flags.TopN)
				}
			}
		},
	}
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor with the HTTP status API and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Server.Listen == "" {
				return fmt.Errorf("serve requires [server] listen in the config")
			}

			mon, err := taskmon.New(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			mon.Start(ctx)
			defer mon.Stop()

			srv, err := taskmon.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, mon)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()

			if cfg.Metrics.Listen != "" {
				if err := taskmon.RegisterMetricsDefault(); err != nil {
					return err
				}
				go func() { _ = taskmon.ServeMetrics(cfg.Metrics.Listen) }()
			}

			<-ctx.Done()
			return nil
		},
	}
}

// createActionCommand builds kill/suspend/resume. The pid is resolved against
// a fresh snapshot to recover its start time, so the action layer can verify
// the identity immediately before signaling.
func createActionCommand(flags *GlobalFlags, act taskmon.Action, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid64, err := strconv.ParseInt(args[0], 10, 32)
			if err != nil || pid64 <= 0 {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			pid := int32(pid64)

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			mon, err := taskmon.New(cfg)
			if err != nil {
				return err
			}
			defer mon.Stop()

			if _, err := waitForCycles(cmd.Context(), mon, cfg, 1); err != nil {
				return err
			}

			ids := mon.Query(taskmon.Predicate{PID: pid}, taskmon.SortPID)
			if len(ids) == 0 {
				return fmt.Errorf("no process with pid %d", pid)
			}

			res := mon.Do(cmd.Context(), ids[0], act)
			fmt.Fprintf(cmd.OutOrStdout(), "%s pid %d: %s", act, pid, res.Outcome)
			if reason := res.Reason(); reason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", reason)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if res.Outcome != "success" {
				return fmt.Errorf("%s failed: %s", act, res.Outcome)
			}
			return nil
		},
	}
}

type cycleUpdate struct {
	snap *taskmon.Snapshot
	res  taskmon.DeltaResult
}

// waitForCycles starts the monitor and blocks until n cycles have published.
func waitForCycles(ctx context.Context, mon *taskmon.Monitor, cfg taskmon.Config, n int) (cycleUpdate, error) {
	done := make(chan cycleUpdate, n)
	seen := 0
	mon.Subscribe(func(snap *taskmon.Snapshot, res taskmon.DeltaResult) {
		seen++
		if seen <= n {
			done <- cycleUpdate{snap: snap, res: res}
		}
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	mon.Start(runCtx)

	timeout := time.Duration(n+1)*cfg.Interval + 5*time.Second
	var last cycleUpdate
	for i := 0; i < n; i++ {
		if i > 0 {
			mon.RefreshNow()
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(timeout):
			return last, fmt.Errorf("timed out waiting for refresh cycle %d", i+1)
		case last = <-done:
		}
	}
	return last, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
