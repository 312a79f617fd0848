// Package s3upload stores captured photos in an S3 compatible bucket.
package s3upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/config"
	"github.com/dmitrijs2005/fieldsync/internal/models"
)

const contentType = "image/jpeg"

// PutObjectAPI is the part of *s3.Client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

type Uploader struct {
	api    PutObjectAPI
	bucket string
}

// New builds an uploader from cfg. Static credentials are used when an
// access key is configured; otherwise the default AWS chain applies.
func New(ctx context.Context, cfg config.S3) (*Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithAPI(client, cfg.Bucket), nil
}

func NewWithAPI(api PutObjectAPI, bucket string) *Uploader {
	return &Uploader{api: api, bucket: bucket}
}

// Key is the object key of a photo: jobs/{jobId}/{type}/{photoId}.jpg.
func Key(p *models.Photo) string {
	return fmt.Sprintf("jobs/%d/%s/%s.jpg", p.JobID, p.PhotoType, p.ID)
}

// Upload puts the photo file and its watermark as object metadata and
// returns the object key. Transport failures, throttling and server errors
// are retryable; a missing file or a rejected request is not.
func (u *Uploader) Upload(ctx context.Context, p *models.Photo) (string, error) {
	if !p.HasFile() {
		return "", fmt.Errorf("photo %s has no file: %w", p.ID, common.ErrInvalidState)
	}

	f, err := os.Open(p.LocalURI)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("photo %s: file %s is gone", p.ID, p.LocalURI)
	}
	if err != nil {
		return "", common.NewRetryableError(err)
	}
	defer f.Close()

	key := Key(p)
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
		Metadata:    metadata(p),
	})
	if err != nil {
		return "", classify(fmt.Errorf("put %s: %w", key, err))
	}
	return key, nil
}

func metadata(p *models.Photo) map[string]string {
	w := p.Watermark
	md := map[string]string{
		"job-id":     strconv.FormatInt(w.JobID, 10),
		"photo-type": string(w.PhotoType),
		"room":       w.Room,
		"device-id":  w.DeviceID,
		"taken-at":   w.Timestamp.UTC().Format(time.RFC3339),
		"watermark":  strconv.Itoa(w.Version),
	}
	if w.Digest != "" {
		md["digest"] = w.Digest
	}
	return md
}

func classify(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return err
		}
	}
	return common.NewRetryableError(err)
}
