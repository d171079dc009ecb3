package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // MinIO / LocalStack
	PublicURL       string // base de las URLs devueltas; vacío = URL virtual-host de AWS
	AccessKeyID     string
	SecretAccessKey string
}

// putObjectAPI es el subconjunto del cliente S3 que se usa.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage sube los PDF a un bucket pasando por el circuit breaker.
type S3Storage struct {
	client  putObjectAPI
	bucket  string
	baseURL string
	breaker *circuitbreaker.Breaker
}

func NewS3Storage(ctx context.Context, cfg S3Config, breaker *circuitbreaker.Breaker) (*S3Storage, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Storage(client, cfg, breaker), nil
}

func newS3Storage(client putObjectAPI, cfg S3Config, breaker *circuitbreaker.Breaker) *S3Storage {
	base := strings.TrimSuffix(cfg.PublicURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return &S3Storage{client: client, bucket: cfg.Bucket, baseURL: base, breaker: breaker}
}

func (s *S3Storage) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

var _ domain.ObjectStorage = (*S3Storage)(nil)
