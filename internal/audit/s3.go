package audit

import (
	"bytes"
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/ptr"
)

// S3Sink writes session batches to an S3 bucket under
// <owner>/<session>/<name>. The content hash travels as object metadata so
// batches can be verified without a download.
type S3Sink struct {
	client *s3.Client
	bucket string
}

// NewS3Sink builds a sink from the ambient AWS configuration.
func NewS3Sink(ctx context.Context, bucket string) (*S3Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Sink{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (s *S3Sink) PutBatch(ctx context.Context, ownerID, sessionID string, blobs []Blob) error {
	for _, blob := range blobs {
		key := fmt.Sprintf("%s/%s/%s", ownerID, sessionID, blob.Name)
		input := &s3.PutObjectInput{
			Bucket: ptr.String(s.bucket),
			Key:    ptr.String(key),
			Body:   bytes.NewReader(blob.Data),
		}
		if blob.ContentType != "" {
			input.ContentType = ptr.String(blob.ContentType)
		}
		if blob.SHA256 != "" {
			input.Metadata = map[string]string{"sha256": blob.SHA256}
		}
		if _, err := s.client.PutObject(ctx, input); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
	}
	return nil
}
