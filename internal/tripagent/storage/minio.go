package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/capsule-io/timelapse-trip/pkg/log"
	"github.com/capsule-io/timelapse-trip/pkg/options"
)

type minioProvider struct {
	client     *minio.Client
	bucketName string
	region     string
	log        log.Logger
}

// NewMinIOProvider returns an S3 backed Provider, or nil when uploads are disabled.
func NewMinIOProvider(opts *options.S3Options) (Provider, error) {
	if opts == nil || !opts.Enabled {
		return nil, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioProvider{
		client:     client,
		bucketName: opts.BucketName,
		region:     opts.Region,
		log:        log.WithName("storage"),
	}, nil
}

func (p *minioProvider) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		p.log.Info("Bucket does not exist, creating", "bucket", p.bucketName)
		if err := p.client.MakeBucket(ctx, p.bucketName, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (p *minioProvider) Upload(ctx context.Context, key, localPath string) error {
	info, err := p.client.FPutObject(ctx, p.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	p.log.Info("Uploaded video", "bucket", p.bucketName, "key", key, "size", info.Size)
	return nil
}
