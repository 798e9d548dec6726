package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/schaermu/gitcom/internal/structure"
)

// S3Config locates the snapshot object in an S3-compatible bucket
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// S3Store keeps the snapshot as a single object. The encoding is the same as
// the file backend.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	key        string
	initOnce   sync.Once
	initErr    error
}

// NewS3Store creates a store; the bucket is created lazily on first use.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		key:        objectKey(cfg.Prefix),
	}, nil
}

// Key returns the object key the snapshot is stored under
func (s *S3Store) Key() string {
	return s.key
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

func (s *S3Store) Load(ctx context.Context) (structure.State, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return structure.New(), fmt.Errorf("ensure bucket: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, s.key, minio.GetObjectOptions{})
	if err != nil {
		return structure.New(), fmt.Errorf("get snapshot object: %w", err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	if _, err := obj.Stat(); err != nil {
		if isNotFound(err) {
			return structure.New(), nil
		}
		return structure.New(), fmt.Errorf("stat snapshot object: %w", err)
	}
	return Decode(obj)
}

func (s *S3Store) Save(ctx context.Context, st structure.State, meta Meta) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	data := Encode(st, meta)
	_, err := s.client.PutObject(ctx, s.bucketName, s.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put snapshot object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func objectKey(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return FileName
	}
	return prefix + "/" + FileName
}
