package aws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"designboard/handlers/api/media"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func jsonReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

// MediaDeleter removes uploaded media objects from the media bucket.
type MediaDeleter struct {
	s3Client *s3.Client
	bucket   string
}

// NewMediaDeleter creates a deleter for the given media bucket.
func NewMediaDeleter(bucketName string) *MediaDeleter {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	return &MediaDeleter{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

// DeleteMedia removes the object stored under publicID. Path-like ids are
// reported as rejections, not server errors.
func (d *MediaDeleter) DeleteMedia(ctx context.Context, publicID string) error {
	key, err := safeKey("media", publicID)
	if err != nil {
		return fmt.Errorf("%w: %v", media.ErrRejected, err)
	}
	_, err = d.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete media %s: %v", publicID, err)
	}
	return nil
}
