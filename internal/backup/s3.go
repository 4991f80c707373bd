package backup

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// s3API is the subset of the S3 client used for backups.
type s3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Backup uploads originals to a bucket.
type S3Backup struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Backup creates an S3Backup using the default AWS credential chain.
func NewS3Backup(ctx context.Context, bucket, prefix string) (*S3Backup, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newS3BackupWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func newS3BackupWithClient(client s3API, bucket, prefix string) *S3Backup {
	return &S3Backup{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Store uploads data unless an object already exists under the path's key.
func (b *S3Backup) Store(ctx context.Context, filePath string, data []byte) (string, error) {
	key, err := b.key(filePath)
	if err != nil {
		return "", err
	}
	location := fmt.Sprintf("s3://%s/%s", b.bucket, key)

	_, err = b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return location, nil
	}
	if !isNotFoundError(err) {
		return "", fmt.Errorf("failed to check S3 object existence: %w", err)
	}

	sum := md5.Sum(data)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:     aws.String(b.bucket),
		Key:        aws.String(key),
		Body:       bytes.NewReader(data),
		ContentMD5: aws.String(base64.StdEncoding.EncodeToString(sum[:])),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return location, nil
}

func (b *S3Backup) key(filePath string) (string, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel := strings.TrimPrefix(abs, filepath.VolumeName(abs))
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	if b.prefix == "" {
		return rel, nil
	}
	return path.Join(b.prefix, rel), nil
}

// isNotFoundError checks if the error is a NotFound error
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey" {
			return true
		}
	}

	// HeadObject errors carry no body, so the code is sometimes only in the message
	errMsg := err.Error()
	return strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "StatusCode: 404")
}
