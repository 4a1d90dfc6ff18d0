// Package taskmon is a live process and resource monitoring core. It samples
// the OS process table and hardware counters on a fixed cadence, derives
// per-process and system-wide rate metrics from consecutive snapshots, keeps
// bounded in-memory history for graphing, and executes lifecycle actions
// (kill, suspend, resume) with pid-reuse protection. Presentation layers
// subscribe to published snapshots and drive actions through the command API.
package taskmon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/taskmon/internal/action"
	cfg "github.com/loykin/taskmon/internal/config"
	"github.com/loykin/taskmon/internal/delta"
	"github.com/loykin/taskmon/internal/eventlog"
	"github.com/loykin/taskmon/internal/eventlog/factory"
	"github.com/loykin/taskmon/internal/history"
	"github.com/loykin/taskmon/internal/logger"
	"github.com/loykin/taskmon/internal/metrics"
	"github.com/loykin/taskmon/internal/query"
	"github.com/loykin/taskmon/internal/scheduler"
	iapi "github.com/loykin/taskmon/internal/server"
	"github.com/loykin/taskmon/internal/snapshot"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type LogConfig = logger.Config

type Identity = snapshot.Identity

type ProcessView = snapshot.ProcessView

type SystemView = snapshot.SystemView

type Snapshot = snapshot.Snapshot

type Status = snapshot.Status

type DeltaResult = delta.Result

type Rates = delta.Rates

type Predicate = query.Predicate

type SortKey = query.SortKey

type Action = action.Action

type ActionResult = action.Result

type HistoryPoint = history.Point

type EventSink = eventlog.Sink

const (
	ActionKill    = action.Kill
	ActionSuspend = action.Suspend
	ActionResume  = action.Resume

	SortCPU    = query.SortCPU
	SortMemory = query.SortMemory
	SortName   = query.SortName
	SortPID    = query.SortPID

	StatusRunning  = snapshot.StatusRunning
	StatusSleeping = snapshot.StatusSleeping
	StatusStopped  = snapshot.StatusStopped
	StatusZombie   = snapshot.StatusZombie
	StatusUnknown  = snapshot.StatusUnknown
)

// Monitor is the facade over the sampling pipeline, history store and action
// dispatcher. It provides the stable public API for embedding.
type Monitor struct {
	cfg   Config
	hist  *history.Store
	sched *scheduler.Scheduler
	disp  *action.Dispatcher
	sink  eventlog.Sink
}

// New builds a Monitor from a validated configuration. It is the only place
// where errors are fatal: everything after the first cycle degrades instead.
func New(c Config) (*Monitor, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var sink eventlog.Sink
	if c.EventLog.DSN != "" {
		var err error
		sink, err = factory.NewSinkFromDSN(c.EventLog.DSN)
		if err != nil {
			return nil, fmt.Errorf("event sink: %w", err)
		}
	}

	hist := history.NewStore(c.HistoryPoints)
	sched, err := scheduler.New(c.Interval, hist, sink)
	if err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		return nil, err
	}

	m := &Monitor{cfg: c, hist: hist, sched: sched, sink: sink}
	m.disp = action.NewDispatcher(sched.RefreshNow)
	return m, nil
}

// NewDefault builds a Monitor with default configuration (2s interval,
// 120-point history, CPU sort, no sinks).
func NewDefault() (*Monitor, error) { return New(cfg.Default()) }

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config { return cfg.Default() }

// SetupLogging installs the configured slog handler process-wide.
func SetupLogging(c LogConfig) error { return logger.Setup(c) }

// Start launches the refresh loop. The first cycle runs immediately.
func (m *Monitor) Start(ctx context.Context) { m.sched.Start(ctx) }

// Stop halts the refresh loop, letting an in-flight cycle finish, and closes
// the event sink if one is configured.
func (m *Monitor) Stop() {
	m.sched.Stop()
	if m.sink != nil {
		_ = m.sink.Close()
	}
}

// Subscribe registers a callback invoked once per completed refresh cycle.
// Must be called before Start.
func (m *Monitor) Subscribe(fn func(*Snapshot, DeltaResult)) {
	m.sched.Subscribe(scheduler.Subscriber(fn))
}

// RefreshNow queues one out-of-cadence refresh cycle.
func (m *Monitor) RefreshNow() { m.sched.RefreshNow() }

// Latest returns the most recently published snapshot and delta, or ok=false
// before the first cycle completes.
func (m *Monitor) Latest() (*Snapshot, DeltaResult, bool) {
	u := m.sched.Latest()
	if u == nil {
		return nil, DeltaResult{}, false
	}
	return u.Snap, u.Delta, true
}

// Query filters and sorts the latest snapshot, returning matching identities.
func (m *Monitor) Query(pred Predicate, key SortKey) []Identity {
	u := m.sched.Latest()
	if u == nil {
		return nil
	}
	return query.Select(u.Snap, u.Delta, pred, key)
}

// Processes is Query resolved to full process views, in the same order.
func (m *Monitor) Processes(pred Predicate, key SortKey) []ProcessView {
	u := m.sched.Latest()
	if u == nil {
		return nil
	}
	ids := query.Select(u.Snap, u.Delta, pred, key)
	out := make([]ProcessView, len(ids))
	for i, id := range ids {
		out[i] = u.Snap.Procs[id]
	}
	return out
}

// Rate returns the derived metrics for one identity in the latest delta.
func (m *Monitor) Rate(id Identity) (Rates, bool) {
	u := m.sched.Latest()
	if u == nil {
		return Rates{}, false
	}
	r, ok := u.Delta.Rates[id]
	return r, ok
}

// History returns a copy of the named metric series, oldest-first.
func (m *Monitor) History(metric string) []HistoryPoint { return m.hist.Series(metric) }

// HistoryMetrics lists the tracked metric names.
func (m *Monitor) HistoryMetrics() []string { return m.hist.Metrics() }

// DefaultSort returns the configured default sort key.
func (m *Monitor) DefaultSort() SortKey { return m.cfg.SortKey() }

// Do executes one lifecycle action. The target identity is re-validated
// immediately before acting; success queues an out-of-cadence refresh.
func (m *Monitor) Do(ctx context.Context, id Identity, act Action) ActionResult {
	res := m.disp.Do(ctx, id, act)
	if m.sink != nil {
		e := eventlog.Event{
			Type:       eventlog.EventAction,
			OccurredAt: time.Now(),
			PID:        id.PID,
			StartUnix:  id.StartUnix,
			Detail:     string(act) + ": " + string(res.Outcome),
		}
		// Audit trail is best-effort; the action result stands either way.
		if err := m.sink.Send(ctx, e); err != nil {
			slog.Warn("action audit write failed", "pid", id.PID, "error", err)
		}
	}
	return res
}

// NewHTTPServer starts the embedded HTTP status API on addr using this
// monitor. The in-process Subscribe/Do surface remains the primary boundary;
// the server is an optional local consumer.
func NewHTTPServer(addr, basePath string, m *Monitor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It blocks in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
