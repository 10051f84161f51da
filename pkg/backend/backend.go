// Package backend defines the capability set every storage namespace offers to
// the sync core. Paths are slash-separated and relative to the backend root;
// the empty path is the root.
package backend

import (
	"context"
	"io"
	"time"
)

type Kind int

const (
	File Kind = iota
	Directory
)

func (k Kind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// Info describes one child returned by List. Fingerprint is empty when the
// backend has no cheap content token for the entry.
type Info struct {
	Name        string
	Kind        Kind
	Size        int64
	ModTime     time.Time
	Fingerprint string
}

type Capabilities struct {
	// NativeMove is false when Move is emulated with copy and delete.
	NativeMove bool
}

// Backend is safe for concurrent use by multiple goroutines.
type Backend interface {
	List(ctx context.Context, dir string) ([]Info, error)
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Write(ctx context.Context, path string, r io.Reader, size int64) error
	MakeDirectory(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	Move(ctx context.Context, from, to string) error
	Capabilities() Capabilities
	String() string
}

// Fingerprinter is implemented by backends that compute content fingerprints
// on demand instead of reporting them from List.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (string, error)
}
