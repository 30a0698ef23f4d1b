package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"

	appconfig "fraudflow/config"
	"fraudflow/logger"
)

// S3Store implements ObjectStore on an S3-compatible bucket. A custom
// endpoint with path-style addressing points it at MinIO in compose
// environments. All requests run under a shared rate limiter and a
// per-request timeout.
type S3Store struct {
	client  *s3.Client
	bucket  string
	limiter *rate.Limiter
	timeout appconfig.Duration
	log     *logger.Log
}

// NewS3Store configures the AWS SDK and validates credentials before
// returning a usable store.
func NewS3Store(cfg appconfig.S3Config) (*S3Store, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_store").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 50
	}

	store := &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: cfg.RequestTimeout,
		log:     log,
	}

	log.WithComponent("s3_store").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("s3 store initialized")

	return store, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return &WriteError{Key: key, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout.Std())
	defer cancel()

	// IfNoneMatch turns the upload into a conditional create, matching the
	// write-once contract even if a key is ever reused.
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		s.log.WithComponent("s3_store").WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": s.bucket, "key": key}).
			Error("failed to upload object")
		return &WriteError{Key: key, Err: err}
	}

	logger.IncrementStoreWrite(int64(len(data)))
	s.log.WithComponent("s3_store").WithFields(logger.Fields{
		"key":  key,
		"size": len(data),
	}).Debug("object uploaded")
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return &WriteError{Key: key, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout.Std())
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return &WriteError{Key: key, Err: err}
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &ReadError{Key: prefix, Err: err}
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &ReadError{Key: prefix, Err: err}
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &ReadError{Key: key, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout.Std())
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &ReadError{Key: key, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &ReadError{Key: key, Err: err}
	}
	return data, nil
}
