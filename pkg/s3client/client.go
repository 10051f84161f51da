package s3client

import (
	"context"
	"io"
	"time"
)

type ItemMetadata struct {
	Key     string
	Size    int64
	ModTime time.Time
}

type Client interface {
	ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResult, error)
	HeadObject(ctx context.Context, req *HeadObjectRequest) (*ObjectInfo, error)
	GetObject(ctx context.Context, req *GetObjectRequest) (io.ReadCloser, error)
	PutObject(ctx context.Context, req *PutObjectRequest) error
	CopyObject(ctx context.Context, req *CopyObjectRequest) error
	DeleteObject(ctx context.Context, req *DeleteObjectRequest) error
	DeleteObjects(ctx context.Context, req *DeleteObjectsRequest) error
}

type ListObjectsRequest struct {
	Bucket    string
	Prefix    string
	Delimiter string
}

// ListObjectsResult holds keys relative to the request prefix. CommonPrefixes
// are returned without their trailing delimiter.
type ListObjectsResult struct {
	Objects        []ItemMetadata
	CommonPrefixes []string
}

type HeadObjectRequest struct {
	Bucket string
	Key    string
}

type ObjectInfo struct {
	Size    int64
	ModTime time.Time
	// Checksum is the base64 SHA-256 of a single-part object, empty otherwise.
	Checksum string
}

type GetObjectRequest struct {
	Bucket string
	Key    string
}

type PutObjectRequest struct {
	Bucket      string
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
}

type CopyObjectRequest struct {
	Bucket    string
	SourceKey string
	Key       string
}

type DeleteObjectRequest struct {
	Bucket string
	Key    string
}

type DeleteObjectsRequest struct {
	Bucket string
	Keys   []string
}
