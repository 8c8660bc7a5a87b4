package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sdko-org/visitor-beacon/internal/config"
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func S3ConfigFrom(cfg *config.Config) S3Config {
	return S3Config{
		Bucket:    cfg.ArchiveS3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}
}

type S3Storage struct {
	uploader *s3manager.Uploader
	bucket   string
}

func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}

	return &S3Storage{
		uploader: s3manager.NewUploaderWithClient(s3.New(sess)),
		bucket:   cfg.Bucket,
	}, nil
}

func (s *S3Storage) Put(ctx context.Context, key string, content []byte, contentType string) error {
	return s.PutStream(ctx, key, bytes.NewReader(content), contentType)
}

func (s *S3Storage) PutStream(ctx context.Context, key string, content io.Reader, contentType string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        content,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
