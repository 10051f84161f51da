// Package objectstore implements the backend over an S3 bucket prefix.
//
// Directories are common prefixes, materialized as zero-byte "<dir>/" marker
// objects so that empty directories survive. S3 has no rename, so Move copies
// every object server side and then deletes the originals.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/crustasync/internal/checksum"
	"github.com/yuya-takeyama/crustasync/pkg/backend"
	"github.com/yuya-takeyama/crustasync/pkg/s3client"
)

const delimiter = "/"

type Backend struct {
	client s3client.Client
	bucket string
	prefix string
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Fingerprinter = (*Backend)(nil)

// New roots the backend at prefix inside bucket.
func New(client s3client.Client, bucket, prefix string) *Backend {
	return &Backend{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// ParseURI splits s3://bucket/prefix into its parts. The prefix is returned
// without leading or trailing slashes.
func ParseURI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", fmt.Errorf("invalid S3 URI: must start with s3://")
	}

	path := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(path, "/", 2)

	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URI: missing bucket name")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		prefix = strings.Trim(parts[1], "/")
	}

	return bucket, prefix, nil
}

func (b *Backend) String() string {
	if b.prefix == "" {
		return "s3://" + b.bucket
	}
	return "s3://" + b.bucket + "/" + b.prefix
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{NativeMove: false}
}

func (b *Backend) key(path string) string {
	switch {
	case b.prefix == "":
		return path
	case path == "":
		return b.prefix
	default:
		return b.prefix + "/" + path
	}
}

func (b *Backend) dirPrefix(path string) string {
	k := b.key(path)
	if k == "" {
		return ""
	}
	return k + delimiter
}

func (b *Backend) List(ctx context.Context, dir string) ([]backend.Info, error) {
	res, err := b.client.ListObjects(ctx, &s3client.ListObjectsRequest{
		Bucket:    b.bucket,
		Prefix:    b.dirPrefix(dir),
		Delimiter: delimiter,
	})
	if err != nil {
		return nil, classify("list", dir, err)
	}

	var out []backend.Info
	found := dir == ""
	for _, obj := range res.Objects {
		if obj.Key == "" {
			// The directory's own marker.
			found = true
			continue
		}
		found = true
		out = append(out, backend.Info{
			Name:    obj.Key,
			Kind:    backend.File,
			Size:    obj.Size,
			ModTime: obj.ModTime,
		})
	}
	for _, p := range res.CommonPrefixes {
		found = true
		if p == "" {
			continue
		}
		out = append(out, backend.Info{Name: p, Kind: backend.Directory})
	}

	if !found {
		return nil, backend.NewError(backend.KindNotFound, "list", dir, nil)
	}
	return out, nil
}

// Fingerprint returns the hex SHA-256 stored with the object, or "" for
// objects uploaded without one.
func (b *Backend) Fingerprint(ctx context.Context, path string) (string, error) {
	info, err := b.client.HeadObject(ctx, &s3client.HeadObjectRequest{
		Bucket: b.bucket,
		Key:    b.key(path),
	})
	if err != nil {
		return "", classify("fingerprint", path, err)
	}
	if info.Checksum == "" {
		return "", nil
	}
	sum, err := checksum.FromBase64(info.Checksum)
	if err != nil {
		return "", backend.NewError(backend.KindFatal, "fingerprint", path, err)
	}
	return sum, nil
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	body, err := b.client.GetObject(ctx, &s3client.GetObjectRequest{
		Bucket: b.bucket,
		Key:    b.key(path),
	})
	if err != nil {
		return nil, classify("read", path, err)
	}
	return body, nil
}

func (b *Backend) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	err := b.client.PutObject(ctx, &s3client.PutObjectRequest{
		Bucket:      b.bucket,
		Key:         b.key(path),
		Body:        r,
		Size:        size,
		ContentType: contentType(path),
	})
	if err != nil {
		return classify("write", path, err)
	}
	return nil
}

func (b *Backend) MakeDirectory(ctx context.Context, path string) error {
	if path != "" {
		_, err := b.client.HeadObject(ctx, &s3client.HeadObjectRequest{Bucket: b.bucket, Key: b.key(path)})
		if err == nil {
			return backend.NewError(backend.KindFatal, "mkdir", path, errors.New("exists as a file"))
		}
		if err := classify("mkdir", path, err); !backend.IsNotFound(err) {
			return err
		}
	}

	marker := b.dirPrefix(path)
	if marker == "" {
		// Bucket root always exists.
		return nil
	}
	err := b.client.PutObject(ctx, &s3client.PutObjectRequest{
		Bucket: b.bucket,
		Key:         marker,
		Body:        bytes.NewReader(nil),
		Size:        0,
		ContentType: markerContentType,
	})
	if err != nil {
		return classify("mkdir", path, err)
	}
	return nil
}

// Delete removes the object at path and every object below it.
func (b *Backend) Delete(ctx context.Context, path string) error {
	if path == "" {
		return backend.NewError(backend.KindFatal, "delete", path, errors.New("refusing to delete the root"))
	}
	keys, err := b.descendantKeys(ctx, path)
	if err != nil {
		return classify("delete", path, err)
	}
	if len(keys) > 0 {
		if err := b.client.DeleteObjects(ctx, &s3client.DeleteObjectsRequest{Bucket: b.bucket, Keys: keys}); err != nil {
			return classify("delete", path, err)
		}
	}
	if err := b.client.DeleteObject(ctx, &s3client.DeleteObjectRequest{Bucket: b.bucket, Key: b.key(path)}); err != nil {
		return classify("delete", path, err)
	}
	return nil
}

// Move copies the object, or every object under the directory, to the new
// location and removes the originals. A failure while removing is reported
// as a *backend.PartialMoveError.
func (b *Backend) Move(ctx context.Context, from, to string) error {
	var pairs [][2]string
	if _, err := b.client.HeadObject(ctx, &s3client.HeadObjectRequest{Bucket: b.bucket, Key: b.key(from)}); err == nil {
		pairs = append(pairs, [2]string{b.key(from), b.key(to)})
	} else if err := classify("move", from, err); !backend.IsNotFound(err) {
		return err
	}

	keys, err := b.descendantKeys(ctx, from)
	if err != nil {
		return classify("move", from, err)
	}
	oldPrefix, newPrefix := b.dirPrefix(from), b.dirPrefix(to)
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, newPrefix + strings.TrimPrefix(k, oldPrefix)})
	}
	if len(pairs) == 0 {
		return backend.NewError(backend.KindNotFound, "move", from, nil)
	}

	for _, p := range pairs {
		err := b.client.CopyObject(ctx, &s3client.CopyObjectRequest{
			Bucket:    b.bucket,
			SourceKey: p[0],
			Key:       p[1],
		})
		if err != nil {
			return classify("move", from, err)
		}
	}

	sources := make([]string, 0, len(pairs))
	for _, p := range pairs {
		sources = append(sources, p[0])
	}
	if err := b.client.DeleteObjects(ctx, &s3client.DeleteObjectsRequest{Bucket: b.bucket, Keys: sources}); err != nil {
		return &backend.PartialMoveError{From: from, To: to, Err: classify("move", from, err)}
	}
	return nil
}

// descendantKeys lists every key under path, including its directory marker.
func (b *Backend) descendantKeys(ctx context.Context, path string) ([]string, error) {
	prefix := b.dirPrefix(path)
	res, err := b.client.ListObjects(ctx, &s3client.ListObjectsRequest{
		Bucket: b.bucket,
		Prefix: prefix,
	})
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(res.Objects))
	for _, obj := range res.Objects {
		keys = append(keys, prefix+obj.Key)
	}
	return keys, nil
}

func classify(op, path string, err error) error {
	var be *backend.Error
	if errors.As(err, &be) {
		return err
	}

	kind := backend.KindFatal
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			kind = backend.KindNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			kind = backend.KindPermissionDenied
		case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded":
			kind = backend.KindRateLimited
		case "ServiceUnavailable", "RequestTimeout", "RequestTimeoutException", "InternalError":
			kind = backend.KindTransient
		default:
			var httpErr interface{ HTTPStatusCode() int }
			if errors.As(err, &httpErr) {
				kind = kindForStatus(httpErr.HTTPStatusCode())
			}
		}
		return backend.NewError(kind, op, path, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.ErrUnexpectedEOF):
		kind = backend.KindTransient
	case errors.As(err, &netErr):
		kind = backend.KindTransient
	}
	return backend.NewError(kind, op, path, err)
}

func kindForStatus(code int) backend.ErrorKind {
	switch {
	case code == 404:
		return backend.KindNotFound
	case code == 401 || code == 403:
		return backend.KindPermissionDenied
	case code == 429 || code == 503:
		return backend.KindRateLimited
	case code >= 500 && code < 600:
		return backend.KindTransient
	}
	return backend.KindFatal
}
