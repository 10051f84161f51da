package s3client

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Objects above this size go through the multipart uploader.
const multipartThreshold = 64 * 1024 * 1024

// maxDeleteBatch is the DeleteObjects limit per request.
const maxDeleteBatch = 1000

type AWSClient struct {
	client   *s3.Client
	uploader *manager.Uploader
}

// NewAWSClient disables SDK level retries; the caller owns the retry policy.
func NewAWSClient(cfg aws.Config) *AWSClient {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
	})
	return &AWSClient{
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (c *AWSClient) ListObjects(ctx context.Context, req *ListObjectsRequest) (*ListObjectsResult, error) {
	result := &ListObjectsResult{}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(req.Bucket),
		Prefix: aws.String(req.Prefix),
	}
	if req.Delimiter != "" {
		input.Delimiter = aws.String(req.Delimiter)
	}
	paginator := s3.NewListObjectsV2Paginator(c.client, input)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || obj.Size == nil {
				continue
			}

			result.Objects = append(result.Objects, ItemMetadata{
				Key:     trimKeyPrefix(*obj.Key, req.Prefix),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			p := trimKeyPrefix(*cp.Prefix, req.Prefix)
			result.CommonPrefixes = append(result.CommonPrefixes, strings.TrimSuffix(p, req.Delimiter))
		}
	}

	return result, nil
}

func (c *AWSClient) HeadObject(ctx context.Context, req *HeadObjectRequest) (*ObjectInfo, error) {
	resp, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:       aws.String(req.Bucket),
		Key:          aws.String(req.Key),
		ChecksumMode: types.ChecksumModeEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head object: %w", err)
	}

	info := &ObjectInfo{
		Size:    aws.ToInt64(resp.ContentLength),
		ModTime: aws.ToTime(resp.LastModified),
	}

	// Multipart objects carry a composite "<digest>-<parts>" checksum that
	// is not a hash of the content.
	if sum := aws.ToString(resp.ChecksumSHA256); sum != "" && !strings.Contains(sum, "-") {
		info.Checksum = sum
	}

	return info, nil
}

func (c *AWSClient) GetObject(ctx context.Context, req *GetObjectRequest) (io.ReadCloser, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return resp.Body, nil
}

func (c *AWSClient) PutObject(ctx context.Context, req *PutObjectRequest) error {
	input := &s3.PutObjectInput{
		Bucket:            aws.String(req.Bucket),
		Key:               aws.String(req.Key),
		Body:              req.Body,
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}

	if req.ContentType != "" {
		input.ContentType = aws.String(req.ContentType)
	}

	if req.Size > multipartThreshold {
		if _, err := c.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("failed to upload object: %w", err)
		}
		return nil
	}

	input.ContentLength = aws.Int64(req.Size)
	_, err := c.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	return nil
}

func (c *AWSClient) CopyObject(ctx context.Context, req *CopyObjectRequest) error {
	_, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(req.Bucket),
		Key:               aws.String(req.Key),
		CopySource:        aws.String(copySource(req.Bucket, req.SourceKey)),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	})
	if err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}

	return nil
}

func (c *AWSClient) DeleteObject(ctx context.Context, req *DeleteObjectRequest) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(req.Bucket),
		Key:    aws.String(req.Key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

func (c *AWSClient) DeleteObjects(ctx context.Context, req *DeleteObjectsRequest) error {
	for start := 0; start < len(req.Keys); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(req.Keys))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range req.Keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}

		resp, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(req.Bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(resp.Errors) > 0 {
			e := resp.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first %s: %s", len(resp.Errors), aws.ToString(e.Key), aws.ToString(e.Message))
		}
	}

	return nil
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// trimKeyPrefix strips prefix from key. prefix may or may not end with a
// slash.
func trimKeyPrefix(key, prefix string) string {
	if prefix == "" {
		return key
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return strings.TrimPrefix(key, prefix)
}
