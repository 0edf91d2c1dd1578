package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/LabelDrop/internal/config"
	"github.com/dharsanguruparan/LabelDrop/internal/errs"
)

const pdfContentType = "application/pdf"

// Storage keeps uploaded inputs in the raw bucket and rendered label PDFs in
// the processed bucket.
type Storage struct {
	client          *minio.Client
	rawBucket       string
	processedBucket string
	region          string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:          client,
		rawBucket:       cfg.RawBucket,
		processedBucket: cfg.ProcessedBucket,
		region:          cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the raw/processed buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.processedBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("%w: check bucket %s: %v", errs.ErrStorageUnavailable, bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// PutInput uploads an items or codes document into the raw bucket.
func (s *Storage) PutInput(ctx context.Context, key string, data []byte, contentType string) error {
	return s.put(ctx, s.rawBucket, key, data, contentType)
}

// PutOutput uploads a rendered label document into the processed bucket.
func (s *Storage) PutOutput(ctx context.Context, key string, data []byte) error {
	return s.put(ctx, s.processedBucket, key, data, pdfContentType)
}

func (s *Storage) GetInput(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, s.rawBucket, key)
}

func (s *Storage) GetOutput(ctx context.Context, key string) ([]byte, error) {
	return s.get(ctx, s.processedBucket, key)
}

// PresignOutput returns a signed GET URL for a rendered label document.
func (s *Storage) PresignOutput(ctx context.Context, key string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-type", pdfContentType)
	u, err := s.client.PresignedGetObject(ctx, s.processedBucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign processed object: %w", err)
	}
	return u.String(), nil
}

func (s *Storage) put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("%w: upload %s/%s: %v", errs.ErrStorageUnavailable, bucket, key, err)
	}
	return nil
}

func (s *Storage) get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s/%s: %v", errs.ErrStorageUnavailable, bucket, key, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("object %s/%s: %w", bucket, key, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: read %s/%s: %v", errs.ErrStorageUnavailable, bucket, key, err)
	}
	return buf, nil
}
