package executor

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/yuya-takeyama/crustasync/pkg/backend"
)

// mockBackend records every call. Mutations succeed unless the matching
// func field returns an error.
type mockBackend struct {
	mu    sync.Mutex
	calls []string

	writeFunc func(ctx context.Context, path string, data string) error
	mkdirFunc func(ctx context.Context, path string) error
	moveFunc  func(ctx context.Context, from, to string) error
	files     map[string]string
}

var _ backend.Backend = (*mockBackend)(nil)

func newMockBackend() *mockBackend {
	return &mockBackend{files: map[string]string{}}
}

func (m *mockBackend) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockBackend) String() string {
	return "mock"
}

func (m *mockBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{NativeMove: true}
}

func (m *mockBackend) List(ctx context.Context, dir string) ([]backend.Info, error) {
	m.record("list " + dir)
	return nil, nil
}

func (m *mockBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	m.record("read " + path)
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, backend.NewError(backend.KindNotFound, "read", path, nil)
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (m *mockBackend) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	m.record("write " + path)
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if m.writeFunc != nil {
		if err := m.writeFunc(ctx, path, string(data)); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = string(data)
	return nil
}

func (m *mockBackend) MakeDirectory(ctx context.Context, path string) error {
	m.record("mkdir " + path)
	if m.mkdirFunc != nil {
		return m.mkdirFunc(ctx, path)
	}
	return nil
}

func (m *mockBackend) Delete(ctx context.Context, path string) error {
	m.record("delete " + path)
	return nil
}

func (m *mockBackend) Move(ctx context.Context, from, to string) error {
	m.record("move " + from + " " + to)
	if m.moveFunc != nil {
		return m.moveFunc(ctx, from, to)
	}
	return nil
}
