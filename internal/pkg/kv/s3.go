package kv

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ecofleet-io/ecofleet/pkg/log"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

// objectStore keeps one object per key in an S3 compatible bucket.
type objectStore struct {
	client     *minio.Client
	bucketName string
}

var _ Store = (*objectStore)(nil)

// NewS3 creates a store backed by an S3 compatible object store and makes
// sure the bucket exists.
func NewS3(ctx context.Context, opts *options.S3Options) (Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	s := &objectStore{client: client, bucketName: opts.BucketName}
	if err := s.checkBucket(ctx, opts.Region); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *objectStore) checkBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", s.bucketName)
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (s *objectStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(key, "get", err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(key, "get", err)
	}
	return data, nil
}

func (s *objectStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("kv: set %q: %w", key, err)
	}
	return nil
}

func (s *objectStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return s.translate(key, "delete", err)
	}
	return nil
}

func (s *objectStore) Close() error {
	return nil
}

func (s *objectStore) translate(key, op string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		if op == "delete" {
			return nil
		}
		return ErrNotFound
	}
	return fmt.Errorf("kv: %s %q: %w", op, key, err)
}
