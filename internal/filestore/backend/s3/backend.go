// Package s3 provides the streaming object-store backend.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cardvault/filestore/internal/filestore/backend"
	"github.com/cardvault/filestore/internal/storage"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
)

func init() {
	backend.Register("s3", NewFactory, Defaults)
}

// Defaults returns the default configuration for the S3 backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:          "us-east-1",
		KeyEndpoint:        "",
		KeyPrefix:          "",
		KeyAccessKeyID:     "",
		KeySecretAccessKey: "",
		KeyForcePathStyle:  "false",
	}
}

// NewFactory creates a new S3 backend from a configuration map.
func NewFactory(ctx context.Context, config map[string]string) (backend.Backend, error) {
	bucket := storage.GetString(config, KeyBucket, "")
	if bucket == "" {
		return nil, storage.NewConfigError("s3", KeyBucket, "cannot be empty")
	}

	region := storage.GetString(config, KeyRegion, "us-east-1")
	endpoint := storage.GetString(config, KeyEndpoint, "")
	prefix := storage.GetString(config, KeyPrefix, "")
	accessKeyID := storage.GetString(config, KeyAccessKeyID, "")
	secretAccessKey := storage.GetString(config, KeySecretAccessKey, "")

	forcePathStyle, err := storage.GetBool(config, KeyForcePathStyle, false)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("s3", KeyForcePathStyle, config[KeyForcePathStyle], err.Error())
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))

	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", "", "failed to load AWS config", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if forcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, s3Opts...)

	// Fail fast: verify bucket access.
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("s3", KeyBucket, "bucket not accessible", err)
	}

	slog.Info("s3 file backend initialized", "bucket", bucket, "region", region, "prefix", prefix)

	return &Backend{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  prefix,
	}, nil
}

// Backend is an S3 implementation of backend.Backend.
// A streaming store needs no compression or text encoding; objects are
// written verbatim with their content type and custom metadata.
type Backend struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	closed  atomic.Bool
}

func (b *Backend) Name() string { return "s3" }

func (b *Backend) objectKey(key string) string {
	return b.prefix + key
}

// Put stores an object. TTL is ignored: bucket lifecycle rules, not
// per-object TTLs, govern expiry on this substrate.
func (b *Backend) Put(ctx context.Context, in *backend.PutInput) (*backend.PutInfo, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(in.Key)),
		Body:   bytes.NewReader(in.Data),
	}
	if in.ContentType != "" {
		input.ContentType = aws.String(in.ContentType)
	}
	if len(in.Metadata) > 0 {
		input.Metadata = in.Metadata
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("s3 put: %w", err)
	}

	return &backend.PutInfo{
		StoredSize: int64(len(in.Data)),
		Compressed: false,
	}, nil
}

// Get retrieves an object with its metadata.
func (b *Backend) Get(ctx context.Context, key string) (*backend.Object, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 get: %w", err)
	}

	obj := &backend.Object{
		Key:      key,
		Data:     data,
		Metadata: out.Metadata,
		Size:     int64(len(data)),
	}
	if out.ContentType != nil {
		obj.ContentType = *out.ContentType
	}
	if out.LastModified != nil {
		obj.CreatedAt = *out.LastModified
	}
	return obj, nil
}

// Exists checks if an object exists.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if b.closed.Load() {
		return false, backend.ErrClosed
	}

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 exists: %w", err)
	}
	return true, nil
}

// Delete removes an object. S3 delete is already idempotent.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if b.closed.Load() {
		return backend.ErrClosed
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete: %w", err)
	}
	return nil
}

// List implements backend.Lister with ListObjectsV2 pagination.
func (b *Backend) List(ctx context.Context, opts backend.ListOptions) (*backend.ListResult, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.objectKey(opts.Prefix)),
	}
	if opts.Limit > 0 {
		input.MaxKeys = aws.Int32(int32(opts.Limit)) //nolint:gosec // limit is validated upstream
	}
	if opts.Cursor != "" {
		input.ContinuationToken = aws.String(opts.Cursor)
	}

	out, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("s3 list: %w", err)
	}

	result := &backend.ListResult{
		Truncated: out.IsTruncated != nil && *out.IsTruncated,
	}
	if out.NextContinuationToken != nil {
		result.Cursor = *out.NextContinuationToken
	}
	for _, obj := range out.Contents {
		e := backend.ListEntry{}
		if obj.Key != nil {
			e.Key = (*obj.Key)[len(b.prefix):]
		}
		if obj.Size != nil {
			e.Size = *obj.Size
		}
		if obj.LastModified != nil {
			e.LastModified = *obj.LastModified
		}
		result.Entries = append(result.Entries, e)
	}
	return result, nil
}

// SignedURL implements backend.URLSigner with an SDK-presigned GET.
func (b *Backend) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if b.closed.Load() {
		return "", backend.ErrClosed
	}

	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("s3 presign: %w", err)
	}
	return req.URL, nil
}

// Stats returns storage statistics. Bucket-wide usage is not available
// through the object API, so SizeBytes is -1.
func (b *Backend) Stats(_ context.Context) (*backend.Stats, error) {
	if b.closed.Load() {
		return nil, backend.ErrClosed
	}

	return &backend.Stats{
		SizeBytes:   -1,
		BackendType: "s3",
	}, nil
}

// Close is a no-op; the S3 SDK client needs no cleanup.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	// HeadObject returns a generic error with status 404.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
