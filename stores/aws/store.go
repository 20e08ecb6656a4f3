package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"designboard/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based store. Objects are JSON blobs under
// projects/, versions/<projectID>/ and subscriptions/ prefixes.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func safeKey(prefix, id string) (string, error) {
	// Ids become object key segments; reject anything path-like.
	if id == "" || path.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return path.Join(prefix, id), nil
}

func notFound(err error) bool {
	var noKey *s3types.NoSuchKey
	return errors.As(err, &noKey)
}

func (s *s3Store) getJSON(ctx context.Context, key string, out any) error {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %v", key, err)
	}
	return json.Unmarshal(data, out)
}

func (s *s3Store) putJSON(ctx context.Context, key string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   jsonReader(data),
	})
	return err
}

// ProjectStore implementation
func (s *s3Store) GetProject(ctx context.Context, projectID string) (*core.ProjectSnapshot, error) {
	key, err := safeKey("projects", projectID)
	if err != nil {
		return nil, err
	}

	var snapshot core.ProjectSnapshot
	if err := s.getJSON(ctx, key, &snapshot); err != nil {
		if notFound(err) {
			return core.NewProjectSnapshot(projectID), nil
		}
		return nil, fmt.Errorf("failed to get project %s: %v", projectID, err)
	}
	return &snapshot, nil
}

func (s *s3Store) SaveProject(ctx context.Context, snapshot *core.ProjectSnapshot) error {
	key, err := safeKey("projects", snapshot.ProjectID)
	if err != nil {
		return err
	}
	if err := s.putJSON(ctx, key, snapshot); err != nil {
		return fmt.Errorf("failed to save project %s: %v", snapshot.ProjectID, err)
	}
	return nil
}

// VersionStore implementation
func (s *s3Store) versionKey(projectID, id string) (string, error) {
	prefix, err := safeKey("versions", projectID)
	if err != nil {
		return "", err
	}
	return safeKey(prefix, id)
}

func (s *s3Store) CreateVersion(ctx context.Context, version *core.VersionSnapshot) (string, error) {
	id := ulid.Make().String()
	key, err := s.versionKey(version.ProjectID, id)
	if err != nil {
		return "", err
	}

	stored := *version
	stored.ID = id
	stored.CreatedAt = time.Now()
	if err := s.putJSON(ctx, key, &stored); err != nil {
		return "", fmt.Errorf("failed to upload version: %v", err)
	}
	return id, nil
}

func (s *s3Store) GetVersion(ctx context.Context, projectID, id string) (*core.VersionSnapshot, error) {
	key, err := s.versionKey(projectID, id)
	if err != nil {
		return nil, err
	}

	var version core.VersionSnapshot
	if err := s.getJSON(ctx, key, &version); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("version with id %s not found for project %s", id, projectID)
		}
		return nil, err
	}
	return &version, nil
}

func (s *s3Store) ListVersions(ctx context.Context, projectID string) ([]*core.VersionSnapshot, error) {
	prefix, err := safeKey("versions", projectID)
	if err != nil {
		return nil, err
	}

	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix + "/"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for project %s: %v", projectID, err)
	}

	versions := make([]*core.VersionSnapshot, 0, len(output.Contents))
	for _, object := range output.Contents {
		var version core.VersionSnapshot
		if err := s.getJSON(ctx, *object.Key, &version); err != nil {
			logrus.WithField("key", *object.Key).WithError(err).Warn("Failed to read version object, skipping")
			continue
		}
		// For list view, we don't need the layer payload.
		version.Layers = nil
		versions = append(versions, &version)
	}
	return versions, nil
}

// SubscriptionStore implementation
func (s *s3Store) GetSubscription(ctx context.Context, userID string) (*core.Subscription, error) {
	key, err := safeKey("subscriptions", userID)
	if err != nil {
		return nil, err
	}

	var sub core.Subscription
	if err := s.getJSON(ctx, key, &sub); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("subscription for user %s not found", userID)
		}
		return nil, err
	}
	return &sub, nil
}

func (s *s3Store) SaveSubscription(ctx context.Context, sub *core.Subscription) error {
	key, err := safeKey("subscriptions", sub.UserID)
	if err != nil {
		return err
	}
	stored := *sub
	stored.UpdatedAt = time.Now()
	return s.putJSON(ctx, key, &stored)
}
