// Package minio stores photos in an S3-compatible bucket and issues
// presigned GET URLs for them.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vbonduro/yardwise/internal/photostore"
)

const keyPrefix = "photos/"

type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the bucket, creating it when it does not exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	s, err := newStore(opts)
	if err != nil {
		return nil, err
	}

	exists, err := s.client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", opts.Bucket, err)
		}
		slog.Info("created photo bucket", "bucket", opts.Bucket)
	}
	return s, nil
}

func newStore(opts Options) (*Store, error) {
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &Store{client: cli, bucket: opts.Bucket}, nil
}

func (s *Store) Put(ctx context.Context, data []byte, mediaType string) (string, error) {
	ref := photostore.NewRef(mediaType)
	_, err := s.client.PutObject(ctx, s.bucket, keyPrefix+ref, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mediaType})
	if err != nil {
		return "", fmt.Errorf("failed to upload photo: %w", err)
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, keyPrefix+ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(err)
	}
	defer func() {
		if err := obj.Close(); err != nil {
			slog.Error("failed to close photo object", "error", err)
		}
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return data, nil
}

func (s *Store) PresignURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, keyPrefix+ref, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign photo url: %w", err)
	}
	return u.String(), nil
}

func (s *Store) mapErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return photostore.ErrNotFound
	}
	return fmt.Errorf("failed to download photo: %w", err)
}
