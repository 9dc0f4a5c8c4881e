package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/logging"
)

// PutObjectAPI is the subset of *s3.Client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PresignGetAPI is the subset of *s3.PresignClient used to share uploads.
type PresignGetAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Options configures an S3Uploader.
type S3Options struct {
	Bucket     string
	Prefix     string
	PresignTTL time.Duration

	// PublicBaseURL, when set, is joined with the object key instead of presigning.
	PublicBaseURL string
}

// S3Uploader stores objects in a bucket. The returned URL is either public or presigned.
type S3Uploader struct {
	client  PutObjectAPI
	presign PresignGetAPI
	opts    S3Options
	logger  *zap.Logger
}

// NewS3Uploader wires an uploader to an SDK client.
func NewS3Uploader(client *s3.Client, opts S3Options, logger *zap.Logger) *S3Uploader {
	return newS3Uploader(client, s3.NewPresignClient(client), opts, logger)
}

func newS3Uploader(client PutObjectAPI, presign PresignGetAPI, opts S3Options, logger *zap.Logger) *S3Uploader {
	return &S3Uploader{
		client:  client,
		presign: presign,
		opts:    opts,
		logger:  logger.Named("s3_storage"),
	}
}

func (u *S3Uploader) Upload(ctx context.Context, obj Object) (string, error) {
	key := path.Join(u.opts.Prefix, obj.Name)

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.opts.Bucket),
		Key:         aws.String(key),
		Body:        obj.reader(),
		ContentType: aws.String(obj.ContentType),
	})
	if err != nil {
		return "", logging.NewOperationError("storage.s3_put", "", fmt.Errorf("put s3://%s/%s: %w", u.opts.Bucket, key, err))
	}

	u.logger.Debug("uploaded object", zap.String("bucket", u.opts.Bucket), zap.String("key", key))

	if u.opts.PublicBaseURL != "" {
		return u.opts.PublicBaseURL + "/" + key, nil
	}

	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.opts.Bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = u.opts.PresignTTL
	})
	if err != nil {
		return "", logging.NewOperationError("storage.s3_presign", "", fmt.Errorf("presign GetObject: %w", err))
	}
	return req.URL, nil
}
