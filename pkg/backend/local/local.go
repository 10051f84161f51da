// Package local implements the backend over a directory on disk.
//
// Symbolic links are followed and flattened: a link to a regular file is
// reported as a file and a link to a directory as a directory. Dangling links,
// links that loop back onto one of their own ancestors and special files
// (devices, sockets, pipes) fail with a fatal error.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/yuya-takeyama/crustasync/internal/checksum"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
)

// ReservedPrefix marks files the backend creates for itself. They are never
// listed.
const ReservedPrefix = ".crustasync"

type Backend struct {
	fs   afero.Fs
	root string
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Fingerprinter = (*Backend)(nil)

func New(root string) *Backend {
	return NewWithFs(afero.NewOsFs(), root)
}

// NewWithFs roots the backend at root inside fs.
func NewWithFs(fs afero.Fs, root string) *Backend {
	return &Backend{fs: fs, root: filepath.Clean(root)}
}

func (b *Backend) String() string {
	return b.root
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{NativeMove: true}
}

func (b *Backend) full(path string) string {
	if path == "" {
		return b.root
	}
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func (b *Backend) List(ctx context.Context, dir string) ([]backend.Info, error) {
	full := b.full(dir)
	infos, err := afero.ReadDir(b.fs, full)
	if err != nil {
		return nil, classify("list", dir, err)
	}

	out := make([]backend.Info, 0, len(infos))
	for _, fi := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := fi.Name()
		if strings.HasPrefix(name, ReservedPrefix) {
			continue
		}
		childPath := name
		if dir != "" {
			childPath = dir + "/" + name
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			fi, err = b.resolveLink(full, filepath.Join(full, name), childPath)
			if err != nil {
				return nil, err
			}
		}

		info := backend.Info{
			Name:    name,
			ModTime: fi.ModTime(),
		}
		switch {
		case fi.IsDir():
			info.Kind = backend.Directory
		case fi.Mode().IsRegular():
			info.Kind = backend.File
			info.Size = fi.Size()
		default:
			return nil, backend.NewError(backend.KindFatal, "list", childPath,
				fmt.Errorf("unsupported file type %s", fi.Mode().Type()))
		}
		out = append(out, info)
	}
	return out, nil
}

// resolveLink follows the link at full and rejects targets that would make
// the walk revisit one of its own ancestors.
func (b *Backend) resolveLink(parent, full, path string) (os.FileInfo, error) {
	fi, err := b.fs.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.NewError(backend.KindFatal, "list", path, fmt.Errorf("dangling symlink: %w", err))
		}
		return nil, classify("list", path, err)
	}
	if !fi.IsDir() {
		return fi, nil
	}
	if _, ok := b.fs.(*afero.OsFs); !ok {
		return fi, nil
	}

	target, err := filepath.EvalSymlinks(full)
	if err != nil {
		return nil, backend.NewError(backend.KindFatal, "list", path, err)
	}
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return nil, backend.NewError(backend.KindFatal, "list", path, err)
	}
	if realParent == target || strings.HasPrefix(realParent+string(filepath.Separator), target+string(filepath.Separator)) {
		return nil, backend.NewError(backend.KindFatal, "list", path, fmt.Errorf("symlink cycle through %s", target))
	}
	return fi, nil
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	full := b.full(path)
	fi, err := b.fs.Stat(full)
	if err != nil {
		return nil, classify("read", path, err)
	}
	if fi.IsDir() {
		return nil, backend.NewError(backend.KindFatal, "read", path, errors.New("is a directory"))
	}
	f, err := b.fs.Open(full)
	if err != nil {
		return nil, classify("read", path, err)
	}
	return f, nil
}

// Fingerprint returns the hex SHA-256 digest of the file content.
func (b *Backend) Fingerprint(ctx context.Context, path string) (string, error) {
	f, err := b.fs.Open(b.full(path))
	if err != nil {
		return "", classify("fingerprint", path, err)
	}
	defer f.Close()

	sum, err := checksum.SHA256(f)
	if err != nil {
		return "", classify("fingerprint", path, err)
	}
	return sum, nil
}

// Write streams r into a temporary sibling and renames it over path so that
// readers never observe a partially written file.
func (b *Backend) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	full := b.full(path)
	if fi, err := b.fs.Stat(full); err == nil && fi.IsDir() {
		return backend.NewError(backend.KindFatal, "write", path, errors.New("is a directory"))
	}

	tmp := filepath.Join(filepath.Dir(full), fmt.Sprintf("%s-%s.tmp", ReservedPrefix, uuid.NewString()))
	f, err := b.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return classify("write", path, err)
	}

	n, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n != size {
		err = backend.NewError(backend.KindTransient, "write", path,
			fmt.Errorf("size changed during transfer: expected %d bytes, got %d", size, n))
	}
	if err != nil {
		_ = b.fs.Remove(tmp)
		return classify("write", path, err)
	}

	if err := b.fs.Rename(tmp, full); err != nil {
		_ = b.fs.Remove(tmp)
		return classify("write", path, err)
	}
	return nil
}

func (b *Backend) MakeDirectory(ctx context.Context, path string) error {
	full := b.full(path)
	fi, err := b.fs.Stat(full)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return backend.NewError(backend.KindFatal, "mkdir", path, errors.New("exists as a file"))
	}
	if !os.IsNotExist(err) {
		return classify("mkdir", path, err)
	}
	if path == "" {
		err = b.fs.MkdirAll(full, 0755)
	} else {
		err = b.fs.Mkdir(full, 0755)
	}
	if err != nil {
		return classify("mkdir", path, err)
	}
	return nil
}

// Delete removes path recursively. Deleting a missing path succeeds so that a
// retried delete is harmless.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if path == "" {
		return backend.NewError(backend.KindFatal, "delete", path, errors.New("refusing to delete the root"))
	}
	if err := b.fs.RemoveAll(b.full(path)); err != nil {
		return classify("delete", path, err)
	}
	return nil
}

func (b *Backend) Move(ctx context.Context, from, to string) error {
	src, dst := b.full(from), b.full(to)
	if _, err := b.fs.Stat(src); err != nil {
		return classify("move", from, err)
	}
	if _, err := b.fs.Stat(dst); err == nil {
		return backend.NewError(backend.KindFatal, "move", to, errors.New("destination exists"))
	}
	if err := b.fs.Rename(src, dst); err != nil {
		return classify("move", from, err)
	}
	return nil
}

func classify(op, path string, err error) error {
	var be *backend.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backend.NewError(backend.KindTransient, op, path, err)
	}
	kind := backend.KindFatal
	switch {
	case os.IsNotExist(err):
		kind = backend.KindNotFound
	case os.IsPermission(err):
		kind = backend.KindPermissionDenied
	case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EBUSY), errors.Is(err, syscall.EINTR), errors.Is(err, syscall.EIO):
		kind = backend.KindTransient
	}
	return backend.NewError(kind, op, path, err)
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
