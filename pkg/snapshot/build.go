package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/yuya-takeyama/crustasync/internal/pathutil"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/logger"
)

const defaultConcurrency = 8

type Options struct {
	// Concurrency bounds simultaneous List and Fingerprint calls.
	Concurrency int
	// Excludes are doublestar patterns matched against root-relative paths.
	// A matching directory is not descended.
	Excludes []string
	// Cache is consulted before computing fingerprints. May be nil.
	Cache *Cache
	Log   logger.Logger
	// AllowMissingRoot yields an empty snapshot instead of an error when the
	// root does not exist.
	AllowMissingRoot bool
}

// ScanError aborts a run: no plan can be built from a partial tree.
type ScanError struct {
	Root string
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %q: %v", e.Root, e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Build walks b breadth first with an explicit queue. Each level of
// directories is listed concurrently.
func Build(ctx context.Context, b backend.Backend, opts Options) (*Snapshot, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Log == nil {
		opts.Log = &logger.NullLogger{}
	}
	for _, p := range opts.Excludes {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}

	root := b.String()
	s := &Snapshot{Root: root, Entries: map[string]Entry{}}
	children := map[string][]string{}
	var dirs []string

	queue := []string{""}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, &ScanError{Root: root, Err: err}
		}

		listings, errPath, err := listLevel(ctx, b, queue, opts.Concurrency)
		if err != nil {
			if errPath == "" && backend.IsNotFound(err) && opts.AllowMissingRoot {
				opts.Log.Debug(fmt.Sprintf("%s does not exist yet", root))
				return s, nil
			}
			return nil, &ScanError{Root: root, Path: errPath, Err: err}
		}

		var next []string
		for i, dir := range queue {
			for _, info := range listings[i] {
				p := pathutil.Join(dir, info.Name)
				if isExcluded(p, opts.Excludes) {
					opts.Log.Debug(fmt.Sprintf("excluded: %s", p))
					continue
				}
				if _, dup := s.Entries[p]; dup {
					return nil, &ScanError{Root: root, Path: p, Err: backend.NewError(backend.KindFatal, "list", p, fmt.Errorf("duplicate entry"))}
				}
				e := Entry{
					Path:        p,
					Kind:        info.Kind,
					Size:        info.Size,
					ModTime:     info.ModTime,
					Fingerprint: info.Fingerprint,
				}
				if e.IsDir() {
					e.Size = 0
					e.Fingerprint = ""
					next = append(next, p)
					dirs = append(dirs, p)
				}
				s.Entries[p] = e
				children[dir] = append(children[dir], p)
			}
		}
		queue = next
	}

	if err := fingerprintFiles(ctx, b, s, opts); err != nil {
		return nil, err
	}

	// Deepest directories first so every child fingerprint is final.
	sort.SliceStable(dirs, func(i, j int) bool {
		return pathutil.Depth(dirs[i]) > pathutil.Depth(dirs[j])
	})
	for _, d := range dirs {
		kids := make([]Entry, 0, len(children[d]))
		for _, c := range children[d] {
			kids = append(kids, s.Entries[c])
		}
		e := s.Entries[d]
		e.Fingerprint = treeFingerprint(kids)
		s.Entries[d] = e
	}

	return s, nil
}

func isExcluded(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// listLevel lists dirs concurrently. On failure it returns the first failing
// directory in queue order.
func listLevel(ctx context.Context, b backend.Backend, dirs []string, concurrency int) ([][]backend.Info, string, error) {
	results := make([][]backend.Info, len(dirs))
	errs := make([]error, len(dirs))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, dir := range dirs {
		wg.Add(1)
		go func(idx int, d string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx], errs[idx] = b.List(ctx, d)
		}(i, dir)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, dirs[i], err
		}
	}
	return results, "", nil
}

// fingerprintFiles fills in missing file fingerprints. Backends that cannot
// hash content get the weak size and modification time token.
func fingerprintFiles(ctx context.Context, b backend.Backend, s *Snapshot, opts Options) error {
	fper, canHash := b.(backend.Fingerprinter)

	var pending []string
	for p, e := range s.Entries {
		if e.IsDir() || e.Fingerprint != "" {
			continue
		}
		if !canHash {
			e.Fingerprint = WeakFingerprint(e.Size, e.ModTime)
			s.Entries[p] = e
			continue
		}
		if fp, ok := opts.Cache.Lookup(p, e.Size, e.ModTime); ok {
			e.Fingerprint = fp
			s.Entries[p] = e
			continue
		}
		pending = append(pending, p)
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Strings(pending)
	opts.Log.Debug(fmt.Sprintf("hashing %d files in %s", len(pending), s.Root))

	fps := make([]string, len(pending))
	errs := make([]error, len(pending))
	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	for i, p := range pending {
		wg.Add(1)
		go func(idx int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				errs[idx] = err
				return
			}
			fps[idx], errs[idx] = fper.Fingerprint(ctx, path)
		}(i, p)
	}
	wg.Wait()

	for i, p := range pending {
		if errs[i] != nil {
			return &ScanError{Root: s.Root, Path: p, Err: errs[i]}
		}
		e := s.Entries[p]
		e.Fingerprint = fps[i]
		if e.Fingerprint == "" {
			e.Fingerprint = WeakFingerprint(e.Size, e.ModTime)
		}
		s.Entries[p] = e
		opts.Cache.Store(p, e.Size, e.ModTime, e.Fingerprint)
	}
	return nil
}
