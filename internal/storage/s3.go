package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the S3 client.
type S3Options struct {
	Region string
	Bucket string
	// Endpoint is an optional custom endpoint (MinIO and other S3-compatible stores).
	Endpoint  string
	PathStyle bool
	// AccessKeyID and SecretAccessKey select static credentials; when empty the
	// default credential chain applies.
	AccessKeyID     string
	SecretAccessKey string
}

type S3Provider struct {
	client *s3.Client
	bucket string
}

func NewS3Provider(client *s3.Client, bucket string) *S3Provider {
	return &S3Provider{
		client: client,
		bucket: bucket,
	}
}

// NewS3ProviderFromOptions loads the AWS configuration and builds the client.
func NewS3ProviderFromOptions(ctx context.Context, opts S3Options) (*S3Provider, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})
	return NewS3Provider(client, opts.Bucket), nil
}

func (p *S3Provider) Create(ctx context.Context, key string) (io.WriteCloser, <-chan error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, failed(err)
	}

	reader, writer := io.Pipe()
	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)

		uploader := manager.NewUploader(p.client, func(u *manager.Uploader) {
			u.PartSize = 10 * 1024 * 1024 // 10MB chunks
			u.Concurrency = 5
		})

		slog.Info("Starting S3 upload", "key", k)
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(k),
			Body:   reader,
		})

		// Unblocks the writer if the upload stopped early.
		_ = reader.CloseWithError(err)

		if err != nil {
			slog.Error("S3 Upload failed", "key", k, "error", err)
			errChan <- fmt.Errorf("s3 upload failed: %w", err)
		} else {
			slog.Info("S3 Upload finished successfully", "key", k)
			errChan <- nil
		}
	}()

	// A writer closed with an error makes the uploader abort the multipart
	// upload, so no partial object is left behind.
	return writer, errChan
}

func (p *S3Provider) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	k, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (p *S3Provider) URL(key string) string {
	return fmt.Sprintf("s3://%s/%s", p.bucket, key)
}
