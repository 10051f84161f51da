// Package gdrive implements the backend over a Google Drive folder.
//
// Drive addresses files by ID, so the backend keeps a path to file cache that
// is filled while listing and resolved lazily otherwise. Shortcuts are
// followed to their targets. Google Workspace documents have no byte content
// and are left out of listings with a warning.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"

	"github.com/yuya-takeyama/crustasync/internal/checksum"
	"github.com/yuya-takeyama/crustasync/internal/pathutil"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/logger"
)

// Prefix selects this backend on the command line.
const Prefix = "gd:"

// reservedName is never listed at the root.
const reservedName = ".crustasync"

// myDriveID is the alias Drive accepts for the user's root folder.
const myDriveID = "root"

type Backend struct {
	api     FilesAPI
	root    string
	limiter *rate.Limiter
	log     logger.Logger

	mu    sync.Mutex
	nodes map[string]node
	// above holds the folder IDs from My Drive down to the parent of root.
	above []string
}

var _ backend.Backend = (*Backend)(nil)

// node is one item of the folder tree. For shortcuts id is the shortcut and
// file describes its target.
type node struct {
	id   string
	file *drive.File
}

func (n node) isFolder() bool {
	return n.file.MimeType == folderMimeType
}

type Option func(*Backend)

// WithRateLimit paces API calls to rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(b *Backend) {
		if rps > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New roots the backend at root, a slash separated path below My Drive.
func New(api FilesAPI, root string, opts ...Option) *Backend {
	b := &Backend{
		api:     api,
		root:    pathutil.Normalize(root),
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     &logger.NullLogger{},
		nodes:   map[string]node{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) String() string {
	return Prefix + "/" + b.root
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{NativeMove: true}
}

// wait blocks for the rate limiter. A limiter wait that cannot finish before
// the call deadline counts as a timeout.
func (b *Backend) wait(ctx context.Context) error {
	err := b.limiter.Wait(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := ctx.Deadline(); ok {
		return backend.NewError(backend.KindTransient, "wait", "", err)
	}
	return err
}

func (b *Backend) cached(path string) (node, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[path]
	return n, ok
}

func (b *Backend) remember(path string, n node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[path] = n
}

// forget drops path and everything cached below it.
func (b *Backend) forget(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p := range b.nodes {
		if p == path || pathutil.IsAncestor(path, p) {
			delete(b.nodes, p)
		}
	}
}

// rename moves cache entries below from to live below to.
func (b *Backend) rename(from, to string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p, n := range b.nodes {
		if pathutil.IsAncestor(from, p) {
			delete(b.nodes, p)
			b.nodes[to+strings.TrimPrefix(p, from)] = n
		}
	}
}

// resolve returns the node at the root-relative path.
func (b *Backend) resolve(ctx context.Context, path string) (node, error) {
	if n, ok := b.cached(path); ok {
		return n, nil
	}

	if path == "" {
		root, err := b.resolveRoot(ctx, false)
		if err != nil {
			return node{}, err
		}
		b.remember("", root)
		return root, nil
	}

	parent, err := b.resolve(ctx, pathutil.Dir(path))
	if err != nil {
		return node{}, err
	}
	if !parent.isFolder() {
		return node{}, backend.NewError(backend.KindNotFound, "resolve", path, errors.New("parent is not a folder"))
	}
	n, err := b.findChild(ctx, parent.file.Id, pathutil.Base(path), path)
	if err != nil {
		return node{}, err
	}
	b.remember(path, n)
	return n, nil
}

// resolveRoot walks from My Drive to the configured root, creating missing
// folders when create is set.
func (b *Backend) resolveRoot(ctx context.Context, create bool) (node, error) {
	if err := b.wait(ctx); err != nil {
		return node{}, err
	}
	f, err := b.api.Get(ctx, myDriveID)
	if err != nil {
		return node{}, classify("resolve", "", err)
	}
	cur := node{id: f.Id, file: f}
	var above []string
	for _, name := range pathutil.Segments(b.root) {
		above = append(above, cur.file.Id)
		if !cur.isFolder() {
			return node{}, backend.NewError(backend.KindFatal, "resolve", "", fmt.Errorf("%s is not a folder", cur.file.Name))
		}
		next, err := b.findChild(ctx, cur.file.Id, name, "")
		if backend.IsNotFound(err) && create {
			next, err = b.createFolder(ctx, cur.file.Id, name, "")
		}
		if err != nil {
			return node{}, err
		}
		cur = next
	}
	if !cur.isFolder() {
		return node{}, backend.NewError(backend.KindFatal, "resolve", "", fmt.Errorf("%s is not a folder", b.root))
	}
	b.mu.Lock()
	b.above = above
	b.mu.Unlock()
	return cur, nil
}

func (b *Backend) findChild(ctx context.Context, parentID, name, path string) (node, error) {
	if err := b.wait(ctx); err != nil {
		return node{}, err
	}
	found, err := b.api.FindChild(ctx, parentID, name)
	if err != nil {
		return node{}, classify("resolve", path, err)
	}
	switch len(found) {
	case 0:
		return node{}, backend.NewError(backend.KindNotFound, "resolve", path, nil)
	case 1:
		return b.followShortcut(ctx, found[0], path)
	default:
		return node{}, backend.NewError(backend.KindFatal, "resolve", path, fmt.Errorf("%d files named %q", len(found), name))
	}
}

func (b *Backend) followShortcut(ctx context.Context, f *drive.File, path string) (node, error) {
	if f.MimeType != shortcutMimeType || f.ShortcutDetails == nil {
		return node{id: f.Id, file: f}, nil
	}
	if err := b.wait(ctx); err != nil {
		return node{}, err
	}
	target, err := b.api.Get(ctx, f.ShortcutDetails.TargetId)
	if err != nil {
		err = classify("resolve", path, err)
		if backend.IsNotFound(err) {
			return node{}, backend.NewError(backend.KindFatal, "resolve", path, errors.New("dangling shortcut"))
		}
		return node{}, err
	}
	return node{id: f.Id, file: target}, nil
}

func (b *Backend) createFolder(ctx context.Context, parentID, name, path string) (node, error) {
	if err := b.wait(ctx); err != nil {
		return node{}, err
	}
	created, err := b.api.Create(ctx, &drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}, nil)
	if err != nil {
		return node{}, classify("mkdir", path, err)
	}
	return node{id: created.Id, file: created}, nil
}

func (b *Backend) List(ctx context.Context, dir string) ([]backend.Info, error) {
	folder, err := b.resolve(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !folder.isFolder() {
		return nil, backend.NewError(backend.KindFatal, "list", dir, errors.New("not a folder"))
	}

	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	children, err := b.api.ListChildren(ctx, folder.file.Id)
	if err != nil {
		return nil, classify("list", dir, err)
	}

	var onPath map[string]bool
	seen := map[string]bool{}
	out := make([]backend.Info, 0, len(children))
	for _, child := range children {
		if dir == "" && child.Name == reservedName {
			continue
		}
		path := pathutil.Join(dir, child.Name)
		n, err := b.followShortcut(ctx, child, path)
		if err != nil {
			return nil, err
		}
		if child.MimeType == shortcutMimeType && n.isFolder() {
			if onPath == nil {
				if onPath, err = b.folderIDsTo(ctx, dir); err != nil {
					return nil, err
				}
			}
			if onPath[n.file.Id] {
				return nil, backend.NewError(backend.KindFatal, "list", path, errors.New("shortcut cycle"))
			}
		}

		info := backend.Info{Name: child.Name}
		switch {
		case n.isFolder():
			info.Kind = backend.Directory
		case strings.HasPrefix(n.file.MimeType, nativeMimePrefix):
			b.log.Warn(fmt.Sprintf("skipping %s: %s has no downloadable content", path, n.file.MimeType))
			continue
		default:
			info.Kind = backend.File
			info.Size = n.file.Size
			info.Fingerprint = n.file.Sha256Checksum
		}
		if seen[child.Name] {
			return nil, backend.NewError(backend.KindFatal, "list", path, errors.New("duplicate name in folder"))
		}
		seen[child.Name] = true

		if t, err := time.Parse(time.RFC3339, n.file.ModifiedTime); err == nil {
			info.ModTime = t
		}
		b.remember(path, n)
		out = append(out, info)
	}
	return out, nil
}

// folderIDsTo returns the IDs of dir and every folder above it, up to My Drive.
func (b *Backend) folderIDsTo(ctx context.Context, dir string) (map[string]bool, error) {
	ids := map[string]bool{}
	for _, p := range append([]string{dir, ""}, pathutil.Ancestors(dir)...) {
		n, err := b.resolve(ctx, p)
		if err != nil {
			return nil, err
		}
		ids[n.file.Id] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.above {
		ids[id] = true
	}
	return ids, nil
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	n, err := b.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if n.isFolder() {
		return nil, backend.NewError(backend.KindFatal, "read", path, errors.New("is a folder"))
	}
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	body, err := b.api.Download(ctx, n.file.Id)
	if err != nil {
		return nil, classify("read", path, err)
	}
	return body, nil
}

// Write replaces the content of an existing file or creates a new one. The
// checksum Drive reports back is verified against the bytes sent.
func (b *Backend) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	parent, err := b.resolve(ctx, pathutil.Dir(path))
	if err != nil {
		return err
	}

	existing, err := b.resolve(ctx, path)
	found := err == nil
	if err != nil && !backend.IsNotFound(err) {
		return err
	}
	if found && existing.isFolder() {
		return backend.NewError(backend.KindFatal, "write", path, errors.New("is a folder"))
	}

	if err := b.wait(ctx); err != nil {
		return err
	}
	sent := checksum.NewCounter(r)
	var written *drive.File
	if found {
		written, err = b.api.Update(ctx, existing.file.Id, &drive.File{}, sent, "", "")
	} else {
		written, err = b.api.Create(ctx, &drive.File{
			Name:    pathutil.Base(path),
			Parents: []string{parent.file.Id},
		}, sent)
	}
	if err != nil {
		return classify("write", path, err)
	}

	id := written.Id
	if found {
		id = existing.id
	}
	b.remember(path, node{id: id, file: written})

	if size >= 0 && sent.N() != size {
		return backend.NewError(backend.KindTransient, "write", path,
			fmt.Errorf("size changed during transfer: expected %d bytes, sent %d", size, sent.N()))
	}
	if sum, ok := sent.Sum(); ok && written.Sha256Checksum != "" && written.Sha256Checksum != sum {
		return backend.NewError(backend.KindTransient, "write", path,
			fmt.Errorf("checksum mismatch: sent %s, stored %s", sum, written.Sha256Checksum))
	}
	return nil
}

func (b *Backend) MakeDirectory(ctx context.Context, path string) error {
	existing, err := b.resolve(ctx, path)
	if err == nil {
		if existing.isFolder() {
			return nil
		}
		return backend.NewError(backend.KindFatal, "mkdir", path, errors.New("exists as a file"))
	}
	if !backend.IsNotFound(err) {
		return err
	}

	if path == "" {
		root, err := b.resolveRoot(ctx, true)
		if err != nil {
			return err
		}
		b.remember("", root)
		return nil
	}

	parent, err := b.resolve(ctx, pathutil.Dir(path))
	if err != nil {
		return err
	}
	created, err := b.createFolder(ctx, parent.file.Id, pathutil.Base(path), path)
	if err != nil {
		return err
	}
	b.remember(path, created)
	return nil
}

// Delete removes the item permanently. A missing path is not an error.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if path == "" {
		return backend.NewError(backend.KindFatal, "delete", path, errors.New("refusing to delete the root"))
	}
	n, err := b.resolve(ctx, path)
	if backend.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := b.wait(ctx); err != nil {
		return err
	}
	if err := b.api.Delete(ctx, n.id); err != nil {
		if err := classify("delete", path, err); !backend.IsNotFound(err) {
			return err
		}
	}
	b.forget(path)
	return nil
}

func (b *Backend) Move(ctx context.Context, from, to string) error {
	n, err := b.resolve(ctx, from)
	if err != nil {
		return err
	}
	if _, err := b.resolve(ctx, to); err == nil {
		return backend.NewError(backend.KindFatal, "move", to, errors.New("destination exists"))
	} else if !backend.IsNotFound(err) {
		return err
	}
	oldParent, err := b.resolve(ctx, pathutil.Dir(from))
	if err != nil {
		return err
	}
	newParent, err := b.resolve(ctx, pathutil.Dir(to))
	if err != nil {
		return err
	}

	var add, remove string
	if oldParent.file.Id != newParent.file.Id {
		add, remove = newParent.file.Id, oldParent.file.Id
	}
	if err := b.wait(ctx); err != nil {
		return err
	}
	if _, err := b.api.Update(ctx, n.id, &drive.File{Name: pathutil.Base(to)}, nil, add, remove); err != nil {
		return classify("move", from, err)
	}

	b.forget(to)
	b.rename(from, to)
	b.forget(from)
	b.remember(to, n)
	return nil
}
