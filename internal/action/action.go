package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/loykin/taskmon/internal/metrics"
	"github.com/loykin/taskmon/internal/snapshot"
)

// Action is a lifecycle operation on a single process.
type Action string

const (
	Kill    Action = "kill"
	Suspend Action = "suspend"
	Resume  Action = "resume"
)

// ParseAction validates an action name from a CLI argument or API body.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case Kill, Suspend, Resume:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Outcome classifies the result of one action attempt.
type Outcome string

const (
	Success          Outcome = "success"
	NotFound         Outcome = "not_found"
	PermissionDenied Outcome = "permission_denied"
	Failed           Outcome = "failed"
)

// Result reports what happened to an action request.
type Result struct {
	Target  snapshot.Identity `json:"target"`
	Action  Action            `json:"action"`
	Outcome Outcome           `json:"outcome"`
	Err     error             `json:"-"`
}

// Reason returns the failure detail, empty on success.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Proc is the OS handle the dispatcher acts on. The production implementation
// wraps gopsutil; tests substitute a fake to exercise pid-reuse and privilege
// paths without real processes.
type Proc interface {
	StartUnix(ctx context.Context) int64
	Kill(ctx context.Context) error
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Finder resolves a live pid to a Proc handle. It must return an error
// wrapping ErrNotRunning when no such process exists.
type Finder interface {
	Find(ctx context.Context, pid int32) (Proc, error)
}

// ErrNotRunning reports that the target pid has no live process.
var ErrNotRunning = errors.New("process not running")

const defaultRetryBackoff = 100 * time.Millisecond

// Dispatcher executes kill/suspend/resume against single processes. It never
// trusts a pid from an old snapshot: the identity is re-validated immediately
// before acting so a recycled pid is reported NotFound instead of signaled.
type Dispatcher struct {
	finder  Finder
	refresh func()
	backoff time.Duration
}

// Option adjusts a Dispatcher.
type Option func(*Dispatcher)

// WithFinder substitutes the OS lookup layer (used by tests).
func WithFinder(f Finder) Option { return func(d *Dispatcher) { d.finder = f } }

// WithRetryBackoff overrides the wait before the single transient retry.
func WithRetryBackoff(b time.Duration) Option { return func(d *Dispatcher) { d.backoff = b } }

// NewDispatcher builds a Dispatcher. requestRefresh is invoked after every
// successful action to queue an out-of-cadence refresh; it must be
// non-blocking. nil is allowed.
func NewDispatcher(requestRefresh func(), opts ...Option) *Dispatcher {
	d := &Dispatcher{
		finder:  gopsutilFinder{},
		refresh: requestRefresh,
		backoff: defaultRetryBackoff,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Do executes one action against the identity. Permission failures are never
// retried (privilege does not change within a session); transient OS errors
// get exactly one retry after a short backoff.
func (d *Dispatcher) Do(ctx context.Context, id snapshot.Identity, act Action) Result {
	res := d.do(ctx, id, act)
	metrics.IncActionResult(string(act), string(res.Outcome))

	switch res.Outcome {
	case Success:
		slog.Info("process action applied", "action", act, "pid", id.PID)
		if d.refresh != nil {
			d.refresh()
		}
	case NotFound:
		slog.Warn("process action target gone", "action", act, "pid", id.PID)
	default:
		slog.Warn("process action failed", "action", act, "pid", id.PID, "outcome", res.Outcome, "error", res.Err)
	}
	return res
}

func (d *Dispatcher) do(ctx context.Context, id snapshot.Identity, act Action) Result {
	res := Result{Target: id, Action: act}

	p, err := d.finder.Find(ctx, id.PID)
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			res.Outcome = NotFound
			return res
		}
		res.Outcome, res.Err = classify(err), err
		return res
	}

	// The pid may have been recycled since the snapshot the caller saw.
	if p.StartUnix(ctx) != id.StartUnix {
		res.Outcome = NotFound
		return res
	}

	err = apply(ctx, p, act)
	if err != nil && isTransient(err) {
		select {
		case <-ctx.Done():
			res.Outcome, res.Err = Failed, ctx.Err()
			return res
		case <-time.After(d.backoff):
		}
		err = apply(ctx, p, act)
	}
	if err != nil {
		res.Outcome, res.Err = classify(err), err
		return res
	}

	res.Outcome = Success
	return res
}

func apply(ctx context.Context, p Proc, act Action) error {
	switch act {
	case Kill:
		return p.Kill(ctx)
	case Suspend:
		return p.Suspend(ctx)
	case Resume:
		return p.Resume(ctx)
	default:
		return fmt.Errorf("unknown action %q", act)
	}
}

func classify(err error) Outcome {
	switch {
	case errors.Is(err, ErrNotRunning), errors.Is(err, syscall.ESRCH), errors.Is(err, os.ErrProcessDone):
		return NotFound
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES):
		return PermissionDenied
	default:
		return Failed
	}
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR)
}
