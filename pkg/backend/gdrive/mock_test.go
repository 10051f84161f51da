package gdrive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// mockFilesAPI is an in-memory Drive. Files live in a flat id map like the
// real service; listFunc and createFunc override single calls.
type mockFilesAPI struct {
	mu       sync.Mutex
	files    map[string]*drive.File
	contents map[string][]byte
	nextID   int
	calls    int

	listFunc   func(ctx context.Context, parentID string) ([]*drive.File, error)
	createFunc func(ctx context.Context, f *drive.File, media io.Reader) (*drive.File, error)
}

func newMockFilesAPI() *mockFilesAPI {
	m := &mockFilesAPI{
		files:    map[string]*drive.File{},
		contents: map[string][]byte{},
	}
	m.files["root"] = &drive.File{Id: "root", Name: "My Drive", MimeType: folderMimeType}
	return m
}

func notFoundErr() error {
	return &googleapi.Error{Code: http.StatusNotFound, Message: "File not found"}
}

func (m *mockFilesAPI) add(parentID, name, mimeType, content string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("id%d", m.nextID)
	f := &drive.File{
		Id:           id,
		Name:         name,
		MimeType:     mimeType,
		Parents:      []string{parentID},
		ModifiedTime: "2024-01-02T03:04:05Z",
	}
	if mimeType != folderMimeType {
		sum := sha256.Sum256([]byte(content))
		f.Size = int64(len(content))
		f.Sha256Checksum = hex.EncodeToString(sum[:])
		m.contents[id] = []byte(content)
	}
	m.files[id] = f
	return id
}

func (m *mockFilesAPI) addShortcut(parentID, name, targetID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("id%d", m.nextID)
	m.files[id] = &drive.File{
		Id:              id,
		Name:            name,
		MimeType:        shortcutMimeType,
		Parents:         []string{parentID},
		ShortcutDetails: &drive.FileShortcutDetails{TargetId: targetID},
	}
	return id
}

func (m *mockFilesAPI) children(parentID string) []*drive.File {
	var out []*drive.File
	for _, f := range m.files {
		for _, p := range f.Parents {
			if p == parentID {
				c := *f
				out = append(out, &c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *mockFilesAPI) ListChildren(ctx context.Context, parentID string) ([]*drive.File, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, parentID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.children(parentID), nil
}

func (m *mockFilesAPI) FindChild(ctx context.Context, parentID, name string) ([]*drive.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []*drive.File
	for _, f := range m.children(parentID) {
		if f.Name == name {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockFilesAPI) Get(ctx context.Context, id string) (*drive.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	f, ok := m.files[id]
	if !ok {
		return nil, notFoundErr()
	}
	c := *f
	return &c, nil
}

func (m *mockFilesAPI) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.contents[id]
	if !ok {
		return nil, notFoundErr()
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockFilesAPI) Create(ctx context.Context, f *drive.File, media io.Reader) (*drive.File, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, f, media)
	}
	var content string
	if media != nil {
		data, err := io.ReadAll(media)
		if err != nil {
			return nil, err
		}
		content = string(data)
	}
	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}
	id := m.add(f.Parents[0], f.Name, mimeType, content)
	return m.Get(ctx, id)
}

func (m *mockFilesAPI) Update(ctx context.Context, id string, f *drive.File, media io.Reader, addParents, removeParents string) (*drive.File, error) {
	var data []byte
	if media != nil {
		var err error
		if data, err = io.ReadAll(media); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	existing, ok := m.files[id]
	if !ok {
		m.mu.Unlock()
		return nil, notFoundErr()
	}
	if f.Name != "" {
		existing.Name = f.Name
	}
	if removeParents != "" {
		existing.Parents = []string{addParents}
	}
	if media != nil {
		sum := sha256.Sum256(data)
		existing.Size = int64(len(data))
		existing.Sha256Checksum = hex.EncodeToString(sum[:])
		m.contents[id] = data
	}
	m.mu.Unlock()
	return m.Get(ctx, id)
}

func (m *mockFilesAPI) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return notFoundErr()
	}
	var drop func(id string)
	drop = func(id string) {
		for _, c := range m.children(id) {
			drop(c.Id)
		}
		delete(m.files, id)
		delete(m.contents, id)
	}
	drop(id)
	return nil
}
