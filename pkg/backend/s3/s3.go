// Package s3 adapts the AWS SDK's S3 client into a backend.Backend,
// storing blocks and archives as objects under configurable key prefixes.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"preserve/pkg/backend"
	"preserve/pkg/keystore"
	"preserve/pkg/perrors"
)

// Config holds configuration for the S3 backend.
type Config struct {
	// Bucket is the S3 bucket name.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// KeyPrefix is prepended to all object keys (e.g., "preserve/").
	KeyPrefix string

	// ForcePathStyle forces path-style addressing (required for Localstack/MinIO).
	ForcePathStyle bool
}

// ConfigFromURL parses a "s3://bucket/key-prefix" URL, with region,
// endpoint, and path-style overridable via query parameters
// (?region=...&endpoint=...&path-style=true).
func ConfigFromURL(u *url.URL) (Config, error) {
	if u.Host == "" {
		return Config{}, fmt.Errorf("%w: s3 backend requires a bucket name (s3://bucket/prefix)", perrors.ErrBadBackendPath)
	}

	cfg := Config{
		Bucket:    u.Host,
		KeyPrefix: strings.TrimPrefix(u.Path, "/"),
	}
	if cfg.KeyPrefix != "" && !strings.HasSuffix(cfg.KeyPrefix, "/") {
		cfg.KeyPrefix += "/"
	}

	q := u.Query()
	cfg.Region = q.Get("region")
	cfg.Endpoint = q.Get("endpoint")
	if v := q.Get("path-style"); v != "" {
		pathStyle, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: invalid path-style value %q", perrors.ErrBadBackendPath, v)
		}
		cfg.ForcePathStyle = pathStyle
	}
	return cfg, nil
}

// Backend is an S3-backed implementation of backend.Backend.
type Backend struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// NewFromConfig creates an S3 backend, loading AWS credentials and region
// from the default SDK chain (environment, shared config, instance role).
func NewFromConfig(config Config) (*Backend, error) {
	ctx := context.Background()

	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if config.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	if config.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &Backend{client: client, bucket: config.Bucket, keyPrefix: config.KeyPrefix}, nil
}

func (b *Backend) blockKey(id keystore.BlockID) string {
	s := id.String()
	return fmt.Sprintf("%sblocks/%s/%s/%s", b.keyPrefix, s[0:2], s[2:4], s)
}

func (b *Backend) archiveNameKey(id keystore.ArchiveID) string {
	return fmt.Sprintf("%sarchives/%s.name", b.keyPrefix, id)
}

func (b *Backend) archiveMetadataKey(id keystore.ArchiveID) string {
	return fmt.Sprintf("%sarchives/%s.metadata", b.keyPrefix, id)
}

func (b *Backend) putObject(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: s3 put object %s: %v", perrors.ErrIO, key, err)
	}
	return nil
}

func (b *Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: s3 get object %s: %v", perrors.ErrIO, key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read s3 object body: %v", perrors.ErrIO, err)
	}
	return data, nil
}

func (b *Backend) headObject(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFoundError(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: s3 head object %s: %v", perrors.ErrIO, key, err)
}

func (b *Backend) BlockExists(ctx context.Context, id keystore.BlockID) (bool, error) {
	return b.headObject(ctx, b.blockKey(id))
}

func (b *Backend) StoreBlock(ctx context.Context, id keystore.BlockID, data []byte) error {
	exists, err := b.BlockExists(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return b.putObject(ctx, b.blockKey(id), data)
}

func (b *Backend) FetchBlock(ctx context.Context, id keystore.BlockID) ([]byte, error) {
	data, err := b.getObject(ctx, b.blockKey(id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", perrors.ErrBlockNotFound, id)
	}
	return data, nil
}

func (b *Backend) StoreArchive(ctx context.Context, id keystore.ArchiveID, encryptedName, encryptedMetadata []byte) error {
	exists, err := b.headObject(ctx, b.archiveNameKey(id))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", perrors.ErrArchiveNameConflict, id)
	}

	if err := b.putObject(ctx, b.archiveNameKey(id), encryptedName); err != nil {
		return err
	}
	return b.putObject(ctx, b.archiveMetadataKey(id), encryptedMetadata)
}

func (b *Backend) FetchArchive(ctx context.Context, id keystore.ArchiveID) ([]byte, error) {
	data, err := b.getObject(ctx, b.archiveMetadataKey(id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", perrors.ErrArchiveNotFound, id)
	}
	return data, nil
}

func (b *Backend) ListArchives(ctx context.Context) ([]backend.ArchiveListing, error) {
	prefix := b.keyPrefix + "archives/"
	var out []backend.ArchiveListing

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: s3 list objects: %v", perrors.ErrIO, err)
		}

		for _, obj := range page.Contents {
			key := *obj.Key
			if !strings.HasSuffix(key, ".name") {
				continue
			}
			stem := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".name")
			id, err := keystore.ParseArchiveID(stem)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", perrors.ErrInvalidArchiveID, stem, err)
			}

			data, err := b.getObject(ctx, key)
			if err != nil {
				return nil, err
			}
			out = append(out, backend.ArchiveListing{ID: id, EncryptedName: data})
		}
	}
	return out, nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}

var _ backend.Backend = (*Backend)(nil)
