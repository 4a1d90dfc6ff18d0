package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/taskmon/internal/delta"
	"github.com/loykin/taskmon/internal/eventlog"
	"github.com/loykin/taskmon/internal/history"
	"github.com/loykin/taskmon/internal/metrics"
	"github.com/loykin/taskmon/internal/sampler"
	"github.com/loykin/taskmon/internal/snapshot"
)

// Subscriber receives the published view of one completed refresh cycle.
// The snapshot is shared and read-only.
type Subscriber func(*snapshot.Snapshot, delta.Result)

// Update pairs the latest published snapshot with its delta result.
type Update struct {
	Snap  *snapshot.Snapshot
	Delta delta.Result
}

// Scheduler drives the sampling cadence: sample, build, diff, append history,
// publish. Cycles are strictly serialized and atomic; an external refresh
// request only short-circuits the idle wait between cycles and can never
// overlap or re-enter an in-progress one. The previous snapshot is owned
// exclusively by the run loop and replaced, never mutated, each tick.
type Scheduler struct {
	interval time.Duration
	smp      *sampler.Sampler
	engine   *delta.Engine
	hist     *history.Store
	sink     eventlog.Sink // optional, may be nil

	mu   sync.Mutex
	subs []Subscriber

	latest atomic.Pointer[Update]

	refreshCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New builds a Scheduler. interval must be positive (validated by config
// before we get here). sink may be nil.
func New(interval time.Duration, hist *history.Store, sink eventlog.Sink) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	return &Scheduler{
		interval:  interval,
		smp:       sampler.New(),
		engine:    delta.NewEngine(sampler.CoreCount(context.Background())),
		hist:      hist,
		sink:      sink,
		refreshCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}, nil
}

// Subscribe registers a callback invoked once per completed cycle, after the
// history rings have been updated. Must be called before Start.
func (s *Scheduler) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// RefreshNow queues one out-of-cadence cycle. It never blocks: if a refresh
// is already pending the request coalesces with it.
func (s *Scheduler) RefreshNow() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// Latest returns the most recently published update, or nil before the first
// cycle completes.
func (s *Scheduler) Latest() *Update {
	return s.latest.Load()
}

// Start launches the run loop. The first cycle runs immediately so consumers
// have data without waiting a full interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop shuts the loop down, letting an in-flight cycle finish. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	var prev *snapshot.Snapshot
	prev = s.cycle(ctx, prev)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-timer.C:
		case <-s.refreshCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		prev = s.cycle(ctx, prev)
		timer.Reset(s.interval)
	}
}

// cycle runs one atomic sample-build-diff-publish pass and returns the new
// snapshot as the next previous. Nothing in here is fatal: a cycle always
// completes and publishes, even when every read failed.
func (s *Scheduler) cycle(ctx context.Context, prev *snapshot.Snapshot) *snapshot.Snapshot {
	started := time.Now()

	procs, err := s.smp.Processes(ctx)
	if err != nil {
		slog.Warn("process table read failed, publishing without processes", "error", err)
		metrics.IncSampleOmission()
		s.reportSampleError(ctx, "process table read failed", err)
		procs = nil
	}

	// System metrics are attempted independently of the process read.
	sys, err := s.smp.System(ctx)
	if err != nil {
		slog.Warn("system counters read failed", "error", err)
		metrics.IncSampleOmission()
		s.reportSampleError(ctx, "system counters read failed", err)
	}

	snap := snapshot.Build(procs, sys, time.Now())
	res := s.engine.Compute(prev, snap)

	s.appendHistory(snap, res)
	s.recordMetrics(snap, res, started)
	s.emitEvents(ctx, prev, snap, res)
	s.publish(snap, res)

	return snap
}

func (s *Scheduler) appendHistory(snap *snapshot.Snapshot, res delta.Result) {
	if s.hist == nil {
		return
	}
	if res.System.Known {
		s.hist.Append(history.MetricSystemCPU, history.Point{At: snap.Taken, Value: res.System.CPUPercent})
	}
	if snap.Sys.Memory.Total > 0 {
		pct := float64(snap.Sys.Memory.Used) / float64(snap.Sys.Memory.Total) * 100
		s.hist.Append(history.MetricSystemMemory, history.Point{At: snap.Taken, Value: pct})
	}
	for _, d := range snap.Sys.Disks {
		if d.Total == 0 {
			continue
		}
		pct := float64(d.Used) / float64(d.Total) * 100
		s.hist.Append(history.MetricDiskPrefix+d.Mount, history.Point{At: snap.Taken, Value: pct})
	}
}

func (s *Scheduler) recordMetrics(snap *snapshot.Snapshot, res delta.Result, started time.Time) {
	if res.System.Known {
		metrics.SetSystemCPUPercent(res.System.CPUPercent)
	}
	metrics.SetSystemMemoryUsed(snap.Sys.Memory.Used)
	metrics.SetProcessCount(len(snap.Procs))
	metrics.ObserveCycleDuration(time.Since(started).Seconds())
}

func (s *Scheduler) emitEvents(ctx context.Context, prev, snap *snapshot.Snapshot, res delta.Result) {
	if s.sink == nil || prev == nil {
		// First tick classifies the entire process table as new; exporting
		// hundreds of appeared events there is noise, not signal.
		return
	}
	for _, id := range res.New {
		s.send(ctx, eventlog.Event{
			Type:       eventlog.EventAppeared,
			OccurredAt: snap.Taken,
			PID:        id.PID,
			StartUnix:  id.StartUnix,
			Name:       snap.Procs[id].Name,
		})
	}
	for _, id := range res.Vanished {
		s.send(ctx, eventlog.Event{
			Type:       eventlog.EventVanished,
			OccurredAt: snap.Taken,
			PID:        id.PID,
			StartUnix:  id.StartUnix,
			Name:       prev.Procs[id].Name,
		})
	}
}

// reportSampleError exports a failed sampler read to the sink.
func (s *Scheduler) reportSampleError(ctx context.Context, what string, err error) {
	if s.sink == nil {
		return
	}
	s.send(ctx, eventlog.Event{
		Type:       eventlog.EventSampleError,
		OccurredAt: time.Now(),
		Detail:     what + ": " + err.Error(),
	})
}

func (s *Scheduler) send(ctx context.Context, e eventlog.Event) {
	if err := s.sink.Send(ctx, e); err != nil {
		slog.Warn("event sink write failed", "event", e.Type, "pid", e.PID, "error", err)
	}
}

func (s *Scheduler) publish(snap *snapshot.Snapshot, res delta.Result) {
	s.latest.Store(&Update{Snap: snap, Delta: res})

	s.mu.Lock()
	subs := make([]Subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		notify(fn, snap, res)
	}
}

// notify isolates subscriber panics so a broken consumer cannot kill the
// sampling loop.
func notify(fn Subscriber, snap *snapshot.Snapshot, res delta.Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("subscriber panicked", "panic", r)
		}
	}()
	fn(snap, res)
}
