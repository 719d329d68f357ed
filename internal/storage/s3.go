package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/lamallamadel/brainego-sub004/internal/backup"
)

// S3ObjectStore implements ObjectStore for Amazon S3 and S3-compatible
// services (MinIO and friends via a custom endpoint).
type S3ObjectStore struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
}

// S3Config holds S3 backend configuration
type S3Config struct {
	Region         string `mapstructure:"region" yaml:"region"`
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey      string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey      string `mapstructure:"secret_key" yaml:"secret_key"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// Validate checks the S3 backend configuration
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return backup.NewConfigurationError("S3 object store requires a bucket", nil)
	}
	if c.Region == "" && c.Endpoint == "" {
		return backup.NewConfigurationError("S3 object store requires a region or endpoint", nil)
	}
	return nil
}

// NewS3ObjectStore creates a new S3ObjectStore instance
func NewS3ObjectStore(config *S3Config) (*S3ObjectStore, error) {
	if config == nil {
		return nil, backup.NewConfigurationError("S3 object store configuration is required", nil)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"", // token
		)
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}
	if config.ForcePathStyle {
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, backup.NewStorageError("failed to create AWS session", err)
	}

	return &S3ObjectStore{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   config.Bucket,
	}, nil
}

// PutObject streams the reader to S3 with the given per-object metadata.
func (s *S3ObjectStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String("application/octet-stream"),
		Metadata:    toS3Metadata(metadata),
	})
	if err != nil {
		return backup.NewStorageError("failed to upload object to S3", err)
	}

	return nil
}

// GetObject opens the object for reading and returns its metadata.
func (s *S3ObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil, backup.NewNotFoundError("object not found: "+key, err)
		}
		return nil, nil, backup.NewStorageError("failed to download object from S3", err)
	}

	return result.Body, fromS3Metadata(result.Metadata), nil
}

// HeadObject returns the object's metadata without reading its body.
func (s *S3ObjectStore) HeadObject(ctx context.Context, key string) (map[string]string, error) {
	result, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, backup.NewNotFoundError("object not found: "+key, err)
		}
		return nil, backup.NewStorageError("failed to head object in S3", err)
	}

	return fromS3Metadata(result.Metadata), nil
}

// DeleteObject removes the object. S3 DeleteObject is idempotent and
// succeeds for missing keys.
func (s *S3ObjectStore) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return backup.NewStorageError("failed to delete object from S3", err)
	}

	return nil
}

// HealthCheck verifies that the bucket is accessible and listable.
func (s *S3ObjectStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return backup.NewStorageError("S3 health check failed: bucket not accessible", err)
	}

	_, err = s.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int64(1),
	})
	if err != nil {
		return backup.NewStorageError("S3 health check failed: cannot list objects", err)
	}

	return nil
}

// Provider returns the backend name
func (s *S3ObjectStore) Provider() string {
	return "s3"
}

func toS3Metadata(metadata map[string]string) map[string]*string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		out[k] = aws.String(v)
	}
	return out
}

// fromS3Metadata lower-cases metadata keys; S3 title-cases them on the
// way back (e.g. "sha256" returns as "Sha256").
func fromS3Metadata(metadata map[string]*string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if v != nil {
			out[strings.ToLower(k)] = *v
		}
	}
	return out
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
