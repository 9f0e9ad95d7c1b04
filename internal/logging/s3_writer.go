package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"llm_fanout/internal/utils"
)

// ObjectPutter is the part of the S3 client the writer uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the activity log bucket
type S3Config struct {
	Bucket   string
	Region   string
	Prefix   string
	Instance string // distinguishes replicas in object keys
	Endpoint string // optional, for S3-compatible stores such as MinIO
}

// S3Writer writes batches of records to S3 as JSON Lines objects
type S3Writer struct {
	client   ObjectPutter
	bucket   string
	prefix   string
	instance string
	now      func() time.Time
	logger   *utils.Logger
}

// NewS3Writer loads the default AWS credential chain and creates a writer
func NewS3Writer(ctx context.Context, cfg S3Config) (*S3Writer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3WriterWithClient(client, cfg), nil
}

// NewS3WriterWithClient creates a writer on an existing client
func NewS3WriterWithClient(client ObjectPutter, cfg S3Config) *S3Writer {
	instance := cfg.Instance
	if instance == "" {
		instance = "fanout"
	}
	return &S3Writer{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		instance: instance,
		now:      time.Now,
		logger:   utils.NewLogger("s3-writer"),
	}
}

// WriteBatch uploads records and returns the object key
func (w *S3Writer) WriteBatch(ctx context.Context, records []Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	// Format: activity/2025/11/30/api-0-20251130-143022-123456789.jsonl
	now := w.now().UTC()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%09d.jsonl",
		w.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		w.instance,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range records {
		if err := encoder.Encode(&records[i]); err != nil {
			w.logger.Error("Failed to encode record", "request_id", records[i].RequestID, "error", err)
		}
	}

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		err = fmt.Errorf("failed to upload to S3: %w", err)
		if isPermanentS3Error(err) {
			return "", utils.Permanent(err)
		}
		return "", err
	}

	w.logger.Debug("Wrote activity batch", "key", key, "count", len(records), "bytes", buf.Len())
	return key, nil
}

// permanentS3Codes are API errors that a retry of the same upload cannot fix
var permanentS3Codes = map[string]bool{
	"NoSuchBucket":          true,
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"InvalidBucketName":     true,
}

func isPermanentS3Error(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && permanentS3Codes[apiErr.ErrorCode()]
}
