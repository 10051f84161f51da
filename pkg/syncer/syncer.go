// Package syncer runs one sync: snapshot both sides, diff, plan, execute and
// report.
package syncer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/yuya-takeyama/crustasync/pkg/action"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/differ"
	"github.com/yuya-takeyama/crustasync/pkg/executor"
	"github.com/yuya-takeyama/crustasync/pkg/logger"
	"github.com/yuya-takeyama/crustasync/pkg/planner"
	"github.com/yuya-takeyama/crustasync/pkg/reporter"
	"github.com/yuya-takeyama/crustasync/pkg/snapshot"
)

type Options struct {
	DryRun          bool
	Quiet           bool
	Concurrency     int
	ScanConcurrency int
	Excludes        []string
	Retry           executor.RetryPolicy
	CallTimeout     time.Duration

	// CacheDir holds fingerprint caches. Empty disables caching.
	CacheDir string
	// CacheFs defaults to the OS filesystem.
	CacheFs afero.Fs

	PlanFile   string
	ResultFile string

	Clock clockwork.Clock
	Log   logrus.FieldLogger
	// Out receives the summary. Nil prints nothing.
	Out io.Writer
}

type Report struct {
	RunID   string
	Plan    *planner.Plan
	Results []action.Result
	Summary reporter.Summary
}

// Run makes dst match src. Scan and plan failures abort before anything is
// changed; action failures are recorded in the report.
func Run(ctx context.Context, src, dst backend.Backend, opts Options) (*Report, error) {
	runID := uuid.NewString()
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("run", runID)
	syncLog := &logger.SyncLogger{IsDryRun: opts.DryRun, IsQuiet: opts.Quiet, Log: log}

	log.WithFields(logrus.Fields{"source": src.String(), "dest": dst.String()}).Debug("starting sync")

	srcSnap, dstSnap, err := scan(ctx, src, dst, opts, syncLog)
	if err != nil {
		return nil, err
	}
	log.Debugf("source has %d entries, destination has %d", srcSnap.Len(), dstSnap.Len())

	actions := differ.Diff(srcSnap, dstSnap, src)
	plan, err := planner.Build(actions, syncLog)
	if err != nil {
		return nil, err
	}
	log.Debugf("planned %d action(s) in %d batch(es)", plan.Len(), len(plan.Batches))

	roots := reporter.Roots{Source: src.String(), Dest: dst.String()}
	if opts.PlanFile != "" {
		if err := reporter.WritePlan(opts.PlanFile, plan, roots); err != nil {
			return nil, fmt.Errorf("write plan: %w", err)
		}
	}

	if !opts.DryRun && plan.Len() > 0 {
		if err := dst.MakeDirectory(ctx, ""); err != nil {
			return nil, fmt.Errorf("create destination root: %w", err)
		}
	}

	exec := executor.New(dst, executor.Config{
		Concurrency: opts.Concurrency,
		DryRun:      opts.DryRun,
		Retry:       opts.Retry,
		CallTimeout: opts.CallTimeout,
		Clock:       opts.Clock,
		Logger:      syncLog,
	})
	results := exec.Execute(ctx, plan)

	report := &Report{
		RunID:   runID,
		Plan:    plan,
		Results: results,
		Summary: reporter.Summarize(results),
	}

	if opts.ResultFile != "" {
		if err := reporter.WriteResult(opts.ResultFile, results, roots); err != nil {
			return report, fmt.Errorf("write result: %w", err)
		}
	}
	if opts.Out != nil {
		reporter.Print(opts.Out, report.Summary, results, opts.DryRun)
	}
	return report, nil
}

// scan snapshots both sides concurrently. The destination may not exist yet.
func scan(ctx context.Context, src, dst backend.Backend, opts Options, log logger.Logger) (*snapshot.Snapshot, *snapshot.Snapshot, error) {
	var (
		wg       sync.WaitGroup
		snaps    [2]*snapshot.Snapshot
		errs     [2]error
		backends = [2]backend.Backend{src, dst}
	)
	for i, b := range backends {
		wg.Add(1)
		go func(i int, b backend.Backend) {
			defer wg.Done()
			snaps[i], errs[i] = snapshotOf(ctx, b, i == 1, opts, log)
		}(i, b)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}
	return snaps[0], snaps[1], nil
}

func snapshotOf(ctx context.Context, b backend.Backend, allowMissing bool, opts Options, log logger.Logger) (*snapshot.Snapshot, error) {
	var cache *snapshot.Cache
	if opts.CacheDir != "" {
		fs := opts.CacheFs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		c, err := snapshot.LoadCache(fs, snapshot.CacheFile(opts.CacheDir, b.String()))
		if err != nil {
			log.Warn(fmt.Sprintf("ignoring fingerprint cache for %s: %v", b, err))
		} else {
			cache = c
		}
	}

	s, err := snapshot.Build(ctx, b, snapshot.Options{
		Concurrency:      opts.ScanConcurrency,
		Excludes:         opts.Excludes,
		Cache:            cache,
		Log:              log,
		AllowMissingRoot: allowMissing,
	})
	if err != nil {
		return nil, err
	}

	if err := cache.Save(b.String()); err != nil {
		log.Warn(fmt.Sprintf("could not save fingerprint cache for %s: %v", b, err))
	}
	return s, nil
}
