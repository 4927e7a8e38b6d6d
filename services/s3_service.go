package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Service archives operator-facing artifacts: consistency report snapshots
// and audit records for administrative bulk operations.
type S3Service struct {
	Client *s3.Client
	Bucket string
}

// NewS3Service builds the client from the ambient AWS config. Returns nil
// when no bucket is configured, which callers treat as "archival disabled".
func NewS3Service() *S3Service {
	bucket := os.Getenv("S3_BUCKET_NAME")
	if bucket == "" {
		return nil
	}
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(os.Getenv("AWS_REGION")))
	if err != nil {
		panic(err)
	}
	return &S3Service{Client: s3.NewFromConfig(cfg), Bucket: bucket}
}

// UploadReport stores a consistency report snapshot as JSON.
func (ss *S3Service) UploadReport(ctx context.Context, report interface{}) error {
	key := "consistency-reports/" + time.Now().UTC().Format("20060102150405") + ".json"
	return ss.uploadJSON(ctx, key, report)
}

// UploadAuditRecord stores the outcome of an administrative bulk operation.
func (ss *S3Service) UploadAuditRecord(ctx context.Context, operation string, record interface{}) error {
	key := "admin-audit/" + operation + "/" + time.Now().UTC().Format("20060102150405") + ".json"
	return ss.uploadJSON(ctx, key, record)
}

func (ss *S3Service) uploadJSON(ctx context.Context, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", key, err)
	}

	_, err = ss.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ss.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
