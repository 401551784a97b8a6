package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config contains S3 connection settings. Credentials fall back to the
// default AWS provider chain when not set explicitly.
type Config struct {
	Bucket         string `env:"FARMBUS_S3_BUCKET,required"`
	Region         string `env:"FARMBUS_S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"FARMBUS_S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"FARMBUS_S3_SECRET_KEY"`
	Endpoint       string `env:"FARMBUS_S3_ENDPOINT"`
	ForcePathStyle bool   `env:"FARMBUS_S3_FORCE_PATH_STYLE" envDefault:"false"`
}

// Validate checks that the config can address a bucket.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}
	if c.Region == "" {
		return fmt.Errorf("%w: region is required", ErrInvalidConfig)
	}
	return nil
}

// NewClient builds an S3 client from the config. ForcePathStyle is required
// for MinIO and some other S3-compatible services.
func NewClient(ctx context.Context, cfg Config) (*s3aws.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3aws.NewFromConfig(awsCfg, func(o *s3aws.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}
