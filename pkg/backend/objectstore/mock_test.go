package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/crustasync/pkg/s3client"
)

// mockS3Client keeps objects in memory. The func fields override single
// calls for failure injection.
type mockS3Client struct {
	mu        sync.Mutex
	objects   map[string][]byte
	checksums map[string]string
	now       time.Time

	headObjectFunc    func(ctx context.Context, req *s3client.HeadObjectRequest) (*s3client.ObjectInfo, error)
	putObjectFunc     func(ctx context.Context, req *s3client.PutObjectRequest) error
	deleteObjectsFunc func(ctx context.Context, req *s3client.DeleteObjectsRequest) error
}

func newMockS3Client(objects map[string]string) *mockS3Client {
	m := &mockS3Client{
		objects:   map[string][]byte{},
		checksums: map[string]string{},
		now:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	for k, v := range objects {
		m.objects[k] = []byte(v)
	}
	return m
}

func notFound() error {
	return &smithy.GenericAPIError{Code: "NotFound", Message: "not found"}
}

func (m *mockS3Client) ListObjects(ctx context.Context, req *s3client.ListObjectsRequest) (*s3client.ListObjectsResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &s3client.ListObjectsResult{}
	seen := map[string]bool{}
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, req.Prefix) {
			continue
		}
		rel := strings.TrimPrefix(k, req.Prefix)
		if req.Delimiter != "" {
			if i := strings.Index(rel, req.Delimiter); i >= 0 {
				p := rel[:i]
				if !seen[p] {
					seen[p] = true
					res.CommonPrefixes = append(res.CommonPrefixes, p)
				}
				continue
			}
		}
		res.Objects = append(res.Objects, s3client.ItemMetadata{
			Key:     rel,
			Size:    int64(len(m.objects[k])),
			ModTime: m.now,
		})
	}
	return res, nil
}

func (m *mockS3Client) HeadObject(ctx context.Context, req *s3client.HeadObjectRequest) (*s3client.ObjectInfo, error) {
	if m.headObjectFunc != nil {
		return m.headObjectFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[req.Key]
	if !ok {
		return nil, notFound()
	}
	return &s3client.ObjectInfo{Size: int64(len(data)), ModTime: m.now, Checksum: m.checksums[req.Key]}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, req *s3client.GetObjectRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[req.Key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockS3Client) PutObject(ctx context.Context, req *s3client.PutObjectRequest) error {
	if m.putObjectFunc != nil {
		return m.putObjectFunc(ctx, req)
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[req.Key] = data
	return nil
}

func (m *mockS3Client) CopyObject(ctx context.Context, req *s3client.CopyObjectRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[req.SourceKey]
	if !ok {
		return &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	m.objects[req.Key] = data
	return nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, req *s3client.DeleteObjectRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, req.Key)
	return nil
}

func (m *mockS3Client) DeleteObjects(ctx context.Context, req *s3client.DeleteObjectsRequest) error {
	if m.deleteObjectsFunc != nil {
		return m.deleteObjectsFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range req.Keys {
		delete(m.objects, k)
	}
	return nil
}

func (m *mockS3Client) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
