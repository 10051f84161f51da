// Package snapshot builds comparable, path-keyed views of a backend tree.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yuya-takeyama/crustasync/internal/pathutil"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
)

const (
	weakPrefix = "meta:"
	treePrefix = "tree:"
)

// Entry is one file or directory below the snapshot root. The root itself is
// never an entry.
type Entry struct {
	Path        string
	Kind        backend.Kind
	Size        int64
	ModTime     time.Time
	Fingerprint string
}

func (e Entry) IsDir() bool {
	return e.Kind == backend.Directory
}

// Snapshot is immutable once Build returns it.
type Snapshot struct {
	Root    string
	Entries map[string]Entry
}

func New(root string, entries ...Entry) *Snapshot {
	s := &Snapshot{Root: root, Entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		s.Entries[e.Path] = e
	}
	return s
}

func (s *Snapshot) Get(path string) (Entry, bool) {
	e, ok := s.Entries[path]
	return e, ok
}

func (s *Snapshot) Len() int {
	return len(s.Entries)
}

// Paths returns every entry path in lexical order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.Entries))
	for p := range s.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Descendants returns the entries strictly below dir in lexical order.
func (s *Snapshot) Descendants(dir string) []Entry {
	var out []Entry
	for p, e := range s.Entries {
		if pathutil.IsAncestor(dir, p) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Validate checks that every entry's parent directory is present.
func (s *Snapshot) Validate() error {
	for p, e := range s.Entries {
		if p != e.Path {
			return fmt.Errorf("entry %q stored under %q", e.Path, p)
		}
		parent := pathutil.Dir(p)
		if parent == "" {
			continue
		}
		pe, ok := s.Entries[parent]
		if !ok || !pe.IsDir() {
			return fmt.Errorf("entry %q has no parent directory", p)
		}
	}
	return nil
}

// WeakFingerprint is used when neither the backend nor a local hash can
// provide a content token.
func WeakFingerprint(size int64, modTime time.Time) string {
	return fmt.Sprintf("%s%d:%d", weakPrefix, size, modTime.Unix())
}

// IsStrong reports whether fp identifies content rather than metadata.
func IsStrong(fp string) bool {
	return fp != "" && !strings.HasPrefix(fp, weakPrefix)
}

// treeFingerprint hashes sorted (name, kind, fingerprint) triples of a
// directory's children. The result is weak if any child is weak.
func treeFingerprint(children []Entry) string {
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	h := sha256.New()
	strong := true
	for _, c := range children {
		fmt.Fprintf(h, "%s\x00%s\x00%s\n", pathutil.Base(c.Path), c.Kind, c.Fingerprint)
		strong = strong && IsStrong(c.Fingerprint)
	}
	fp := treePrefix + hex.EncodeToString(h.Sum(nil))
	if !strong {
		fp = weakPrefix + fp
	}
	return fp
}

// SameContent decides whether the destination entry dst already holds the
// content of the source entry src. Strong fingerprints compare by value.
// Otherwise sizes must match and src must not be newer than dst, to the
// second, since a written copy carries the time it was written.
func SameContent(src, dst Entry) bool {
	if src.Kind != dst.Kind {
		return false
	}
	if src.IsDir() {
		return true
	}
	if IsStrong(src.Fingerprint) && IsStrong(dst.Fingerprint) {
		return src.Fingerprint == dst.Fingerprint
	}
	return src.Size == dst.Size && src.ModTime.Unix() <= dst.ModTime.Unix()
}
