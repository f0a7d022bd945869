// Package storage fetches raw document bytes from the upload bucket.
package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"docsense/internal/config"
)

// ByteSource retrieves a document's raw bytes by source path.
type ByteSource interface {
	Fetch(ctx context.Context, sourcePath string) ([]byte, error)
	TestConnection() error
}

type s3Source struct {
	s3     *s3.Client
	bucket string
	region string
}

// NewS3Source creates a byte source backed by the configured bucket.
func NewS3Source(cfg config.StorageConfig) (ByteSource, error) {
	credProvider := aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
		}, nil
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credProvider),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg)

	return &s3Source{
		s3:     client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// Fetch downloads the object at sourcePath. The bytes are what gets hashed,
// so the result must be the exact stored content.
func (s *s3Source) Fetch(ctx context.Context, sourcePath string) ([]byte, error) {
	downloader := manager.NewDownloader(s.s3)

	buf := manager.NewWriteAtBuffer(nil)
	size, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(sourcePath),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", sourcePath, err)
	}

	log.Debug().
		Str("key", sourcePath).
		Int64("size", size).
		Msg("Fetched document bytes")

	return buf.Bytes(), nil
}

// TestConnection lists a single object to validate credentials and bucket.
func (s *s3Source) TestConnection() error {
	_, err := s.s3.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		log.Error().Err(err).Str("bucket", s.bucket).Msg("S3 connection test failed")
		return err
	}

	log.Info().Str("bucket", s.bucket).Str("region", s.region).Msg("S3 connection verified")
	return nil
}
