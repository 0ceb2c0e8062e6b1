// Package archive keeps a copy of every bulk payload pushed to the index in
// S3-compatible object storage.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Ramsey-B/fern/pkg/codec"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Config holds the S3 settings
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	// PathStyle addresses buckets as endpoint/bucket, as MinIO expects.
	PathStyle bool
}

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes payloads under prefix/source/configuration/date/time.ndjson
type S3Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	logger ectologger.Logger
}

func NewS3Archiver(ctx context.Context, cfg Config, logger ectologger.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return newS3Archiver(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Archiver(client putObjectAPI, bucket, prefix string, logger ectologger.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// ObjectKey is where the payload of cfg executed at executedAt is stored
func (a *S3Archiver) ObjectKey(cfg *models.ImportConfiguration, executedAt time.Time) string {
	at := executedAt.UTC()
	return path.Join(
		a.prefix,
		cfg.SourceID,
		cfg.ID.String(),
		at.Format("2006/01/02"),
		at.Format("20060102T150405.000Z")+".ndjson",
	)
}

func (a *S3Archiver) Archive(ctx context.Context, cfg *models.ImportConfiguration, executedAt time.Time, payload string) error {
	ctx, span := tracing.StartSpan(ctx, "S3Archiver.Archive")
	defer span.End()

	key := a.ObjectKey(cfg, executedAt)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String(codec.ContentType),
		Metadata: map[string]string{
			"configuration-id": cfg.ID.String(),
			"item-count":       fmt.Sprintf("%d", codec.GetItemCount(payload)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive payload to s3://%s/%s: %w", a.bucket, key, err)
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id": cfg.ID,
		"key":              key,
	}).Debug("Archived bulk payload")
	return nil
}
