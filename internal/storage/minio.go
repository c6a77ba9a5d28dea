package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"callcore/pkg/errors"
	"callcore/pkg/resilience"
)

// MinioConfig describes the object store connection
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// PublicBaseURL overrides the endpoint when building shareable URLs
	// (CDN or reverse proxy in front of the store)
	PublicBaseURL string
}

// MinioStore implements ObjectStore on a MinIO/S3 bucket
type MinioStore struct {
	client  *minio.Client
	cfg     MinioConfig
	log     *zap.Logger
	breaker *resilience.Breaker
}

// NewMinioStore connects to the object store and ensures the bucket exists
func NewMinioStore(ctx context.Context, cfg MinioConfig, log *zap.Logger) (*MinioStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.StorageError(err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.StorageError(err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.StorageError(err)
		}
		log.Info("bucket created", zap.String("bucket", cfg.Bucket))
	}

	return &MinioStore{
		client:  client,
		cfg:     cfg,
		log:     log,
		breaker: resilience.NewBreaker(log),
	}, nil
}

// Upload implements ObjectStore
func (s *MinioStore) Upload(ctx context.Context, objectName, contentType string, r io.Reader, size int64, progress ProgressFunc) (string, error) {
	reader := io.Reader(r)
	if progress != nil {
		reader = newCountingReader(r, size, progress)
	}

	err := s.breaker.Execute("put_object", func() error {
		_, putErr := s.client.PutObject(ctx, s.cfg.Bucket, objectName, reader, size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		return putErr
	})
	if err != nil {
		return "", errors.UploadFailedError(err)
	}

	s.log.Debug("object stored",
		zap.String("object", objectName),
		zap.Int64("bytes", size))
	return s.PublicURL(objectName), nil
}

// PublicURL implements ObjectStore
func (s *MinioStore) PublicURL(objectName string) string {
	if s.cfg.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s/%s", s.cfg.PublicBaseURL, s.cfg.Bucket, objectName)
	}
	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, s.cfg.Bucket, objectName)
}
