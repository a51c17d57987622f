package s3client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Region          string `yaml:"region" env:"REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" env:"USE_SSL"`
}

func (c *Config) Enabled() bool {
	return c != nil && c.Endpoint != ""
}

type Client struct {
	cfg            *Config
	minio          *minio.Client
	ensuredBuckets sync.Map
	logger         *slog.Logger
}

func New(cfg *Config, logger *slog.Logger) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		cfg:    cfg,
		minio:  mc,
		logger: logger,
	}, nil
}

func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	if _, ok := c.ensuredBuckets.Load(bucket); ok {
		return nil
	}

	exists, err := c.minio.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := c.minio.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.cfg.Region}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		c.logger.Info("created bucket", "bucket", bucket)
	}
	c.ensuredBuckets.Store(bucket, struct{}{})

	return nil
}

// UploadFile puts the file at path under bucket/objectName, creating the bucket on first use.
func (c *Client) UploadFile(ctx context.Context, bucket, objectName, path, contentType string) error {
	if err := c.EnsureBucket(ctx, bucket); err != nil {
		return err
	}

	info, err := c.minio.FPutObject(ctx, bucket, objectName, path, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s to %s/%s: %w", path, bucket, objectName, err)
	}

	c.logger.Info("uploaded object", "bucket", bucket, "object", objectName, "size", info.Size)

	return nil
}

func (c *Client) StatObject(ctx context.Context, bucket, objectName string) (minio.ObjectInfo, error) {
	return c.minio.StatObject(ctx, bucket, objectName, minio.StatObjectOptions{})
}
