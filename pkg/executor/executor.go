// Package executor applies a plan to the destination backend.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yuya-takeyama/crustasync/pkg/action"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/logger"
	"github.com/yuya-takeyama/crustasync/pkg/planner"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

type Config struct {
	Concurrency int
	DryRun      bool
	Retry       RetryPolicy
	// CallTimeout bounds each backend call. Zero means no limit.
	CallTimeout time.Duration
	Clock       clockwork.Clock
	Logger      logger.Logger
}

// ExecutionError is the terminal failure of one action.
type ExecutionError struct {
	Action   action.Action
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Action, e.Attempts, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

type Executor struct {
	dst backend.Backend
	cfg Config
}

func New(dst backend.Backend, cfg Config) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = &logger.NullLogger{}
	}
	return &Executor{dst: dst, cfg: cfg}
}

// Execute runs batches in order and returns one result per action in plan
// order. A failed action does not stop the run; actions that depend on it
// are skipped. Once ctx is cancelled no new action starts, while running
// ones finish their current backend call.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan) []action.Result {
	results := make([]action.Result, plan.Len())

	offset := 0
	for bi, batch := range plan.Batches {
		if ctx.Err() != nil {
			for i, a := range batch {
				results[offset+i] = skipped(a, action.SkipCancelled)
			}
			offset += len(batch)
			continue
		}
		e.cfg.Logger.Debug(fmt.Sprintf("batch %d/%d: %d action(s)", bi+1, len(plan.Batches), len(batch)))

		sem := make(chan struct{}, e.cfg.Concurrency)
		var wg sync.WaitGroup
		for i, a := range batch {
			idx := offset + i
			if e.blocked(plan, results, idx) {
				results[idx] = skipped(a, action.SkipDependencyFailed)
				e.cfg.Logger.Debug(fmt.Sprintf("skipping %s: a dependency did not complete", a))
				continue
			}

			wg.Add(1)
			go func(idx int, a action.Action) {
				defer wg.Done()

				sem <- struct{}{}
				defer func() { <-sem }()

				if ctx.Err() != nil {
					results[idx] = skipped(a, action.SkipCancelled)
					return
				}
				results[idx] = e.run(ctx, a)
			}(idx, a)
		}
		wg.Wait()
		offset += len(batch)
	}
	return results
}

// blocked reports whether any dependency of position idx did not succeed.
// Dry-run skips never block.
func (e *Executor) blocked(plan *planner.Plan, results []action.Result, idx int) bool {
	for _, dep := range plan.DependsOn(idx) {
		r := results[dep]
		if r.Outcome == action.Failed || (r.Outcome == action.Skipped && r.SkipReason != action.SkipDryRun) {
			return true
		}
	}
	return false
}

func skipped(a action.Action, reason action.SkipReason) action.Result {
	return action.Result{Action: a, Outcome: action.Skipped, SkipReason: reason}
}

func (e *Executor) run(ctx context.Context, a action.Action) action.Result {
	e.logAction(a)
	if e.cfg.DryRun {
		return skipped(a, action.SkipDryRun)
	}

	attempt := 0
	for {
		attempt++
		err := e.apply(ctx, a)
		if err == nil {
			return action.Result{Action: a, Outcome: action.Success, Attempts: attempt}
		}

		var partial *backend.PartialMoveError
		if errors.As(err, &partial) {
			msg := fmt.Sprintf("move %s -> %s left the source in place: %v", partial.From, partial.To, partial.Err)
			e.cfg.Logger.Warn(msg)
			return action.Result{Action: a, Outcome: action.Success, Attempts: attempt, Warning: msg}
		}

		if !backend.IsRetryable(err) || attempt >= e.cfg.Retry.MaxAttempts {
			return e.failed(a, attempt, err)
		}

		delay := e.backoff(attempt - 1)
		e.cfg.Logger.Debug(fmt.Sprintf("retrying %s in %s after %s error: %v", a, delay, backend.KindOf(err), err))
		select {
		case <-ctx.Done():
			return e.failed(a, attempt, fmt.Errorf("%w (retry abandoned: %v)", err, ctx.Err()))
		case <-e.cfg.Clock.After(delay):
		}
	}
}

func (e *Executor) failed(a action.Action, attempts int, err error) action.Result {
	e.cfg.Logger.Error(string(a.Type), a.Path, err)
	return action.Result{
		Action:   a,
		Outcome:  action.Failed,
		Attempts: attempts,
		Err:      &ExecutionError{Action: a, Attempts: attempts, Err: err},
	}
}

// backoff doubles BaseDelay per attempt with ±25% jitter, capped at MaxDelay.
func (e *Executor) backoff(attempt int) time.Duration {
	delay := float64(e.cfg.Retry.BaseDelay) * math.Pow(2, float64(attempt))
	delay += delay * 0.25 * (2*rand.Float64() - 1)
	if limit := float64(e.cfg.Retry.MaxDelay); delay > limit {
		delay = limit
	}
	return time.Duration(delay)
}

// callContext detaches a backend call from run cancellation and applies the
// per-call timeout.
func (e *Executor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if e.cfg.CallTimeout > 0 {
		return context.WithTimeout(detached, e.cfg.CallTimeout)
	}
	return context.WithCancel(detached)
}

func (e *Executor) apply(ctx context.Context, a action.Action) error {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	switch a.Type {
	case action.Create, action.Update:
		if a.IsDirectory() {
			return e.dst.MakeDirectory(callCtx, a.Path)
		}
		return e.copy(callCtx, a)
	case action.Delete:
		return e.dst.Delete(callCtx, a.Path)
	case action.Move:
		return e.dst.Move(callCtx, a.From, a.To)
	default:
		return backend.NewError(backend.KindFatal, "execute", a.Path, fmt.Errorf("unknown action type %q", a.Type))
	}
}

// copy streams the source entry into the destination. The source is opened
// again on every attempt.
func (e *Executor) copy(ctx context.Context, a action.Action) error {
	src := a.Source.Backend
	if src == nil {
		return backend.NewError(backend.KindFatal, "read", a.Path, errors.New("action has no source"))
	}
	r, err := src.Read(ctx, a.Source.Path)
	if err != nil {
		return err
	}
	defer r.Close()
	return e.dst.Write(ctx, a.Path, r, a.Entry.Size)
}

func (e *Executor) logAction(a action.Action) {
	switch a.Type {
	case action.Create:
		e.cfg.Logger.Create(a.Path)
	case action.Update:
		e.cfg.Logger.Update(a.Path)
	case action.Delete:
		e.cfg.Logger.Delete(a.Path)
	case action.Move:
		e.cfg.Logger.Move(a.From, a.To)
	}
}
