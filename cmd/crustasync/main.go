package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/yuya-takeyama/crustasync/internal/config"
	"github.com/yuya-takeyama/crustasync/internal/location"
	"github.com/yuya-takeyama/crustasync/pkg/executor"
	"github.com/yuya-takeyama/crustasync/pkg/logger"
	"github.com/yuya-takeyama/crustasync/pkg/syncer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	dryRun             bool
	logLevel           string
	configDir          string
	excludes           []string
	quiet              bool
	concurrency        int
	maxAttempts        int
	noFingerprintCache bool
	profile            string
	region             string
	planJSONFile       string
	resultJSONFile     string
)

var errSyncFailed = errors.New("sync finished with failures")

func main() {
	rootCmd := &cobra.Command{
		Use:   "crustasync <SRC> <DST>",
		Short: "One-way sync between local directories, Google Drive and S3",
		Long: `crustasync makes DST match SRC. Each side is a local path, gd:<path> for
Google Drive, or s3://bucket/prefix. Renamed files and directories are moved
in place instead of being transferred again.`,
		Version:      fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:         cobra.ExactArgs(2),
		RunE:         run,
		SilenceUsage: true,
	}

	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Shows operations without executing")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (error, warn, info, debug, trace)")
	rootCmd.Flags().StringVarP(&configDir, "config-dir", "c", config.DefaultDir, "Directory holding crustasync.yaml, tokens and caches")
	rootCmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress per-operation output")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Number of concurrent operations (default from config)")
	rootCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "Attempts per operation on transient errors (default from config)")
	rootCmd.Flags().BoolVar(&noFingerprintCache, "no-fingerprint-cache", false, "Hash every file instead of reusing cached fingerprints")
	rootCmd.Flags().StringVar(&profile, "profile", "", "AWS profile to use")
	rootCmd.Flags().StringVar(&region, "region", "", "AWS region (uses default if not specified)")
	rootCmd.Flags().StringVar(&planJSONFile, "plan-json-file", "", "Path to output plan as JSON file")
	rootCmd.Flags().StringVar(&resultJSONFile, "result-json-file", "", "Path to output result as JSON file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log := logger.New(level, cmd.ErrOrStderr())

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	cfg = applyFlags(cfg, cmd.Flags())
	if err := cfg.Validate(); err != nil {
		return err
	}

	srcLoc, err := location.Parse(args[0])
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	dstLoc, err := location.Parse(args[1])
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if location.Overlaps(srcLoc, dstLoc) {
		return fmt.Errorf("%s and %s overlap; refusing to sync a tree into itself", srcLoc.Raw, dstLoc.Raw)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncLog := &logger.SyncLogger{IsDryRun: dryRun, IsQuiet: quiet, Log: log}
	openOpts := location.Options{Config: cfg, Log: syncLog, Prompt: cmd.ErrOrStderr()}
	src, err := location.Open(ctx, srcLoc, openOpts)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	dst, err := location.Open(ctx, dstLoc, openOpts)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}

	opts := syncer.Options{
		DryRun:          dryRun,
		Quiet:           quiet,
		Concurrency:     cfg.Concurrency,
		ScanConcurrency: cfg.ScanConcurrency,
		Excludes:        cfg.Excludes,
		Retry: executor.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay.Duration,
			MaxDelay:    cfg.Retry.MaxDelay.Duration,
		},
		CallTimeout: cfg.CallTimeout.Duration,
		PlanFile:    planJSONFile,
		ResultFile:  resultJSONFile,
		Log:         log,
		Out:         cmd.OutOrStdout(),
	}
	if cfg.FingerprintCacheEnabled() {
		opts.CacheDir = cfg.CachePath()
	}

	report, err := syncer.Run(ctx, src, dst, opts)
	if err != nil {
		return err
	}
	if report.Summary.AnyFailure() {
		return errSyncFailed
	}
	return nil
}

// applyFlags overrides config file values with flags the user set.
func applyFlags(cfg config.Config, flags *pflag.FlagSet) config.Config {
	if flags.Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if flags.Changed("max-attempts") {
		cfg.Retry.MaxAttempts = maxAttempts
	}
	if len(excludes) > 0 {
		cfg.Excludes = append(append([]string(nil), cfg.Excludes...), excludes...)
	}
	if noFingerprintCache {
		disabled := false
		cfg.FingerprintCache = &disabled
	}
	if profile != "" {
		cfg.S3.Profile = profile
	}
	if region != "" {
		cfg.S3.Region = region
	}
	return cfg
}
