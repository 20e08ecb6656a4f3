package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"designboard/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type fsStore struct {
	basePath string
}

// NewStore creates a new filesystem-based store. Layout under basePath:
// projects/<projectID>.json, versions/<projectID>/<versionID>.json,
// subscriptions/<userID>.json.
func NewStore(basePath string) *fsStore {
	for _, dir := range []string{"projects", "versions", "subscriptions"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			log.Fatalf("failed to create storage directory: %v", err)
		}
	}
	return &fsStore{basePath: basePath}
}

// safeJoin joins id under dir and rejects path traversal.
func (s *fsStore) safeJoin(dir, id string) (string, error) {
	if id == "" || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid id: must not be empty or a path")
	}
	absDir, err := filepath.Abs(filepath.Join(s.basePath, dir))
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(filepath.Join(absDir, id))
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, absDir) {
		return "", fmt.Errorf("invalid path: access denied")
	}
	return absPath, nil
}

// ProjectStore implementation
func (s *fsStore) GetProject(ctx context.Context, projectID string) (*core.ProjectSnapshot, error) {
	filePath, err := s.safeJoin("projects", projectID+".json")
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"project_id": projectID, "path": filePath})

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return core.NewProjectSnapshot(projectID), nil
		}
		log.WithError(err).Error("Failed to read project snapshot")
		return nil, err
	}

	var snapshot core.ProjectSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.WithError(err).Error("Failed to unmarshal project snapshot")
		return nil, err
	}
	return &snapshot, nil
}

func (s *fsStore) SaveProject(ctx context.Context, snapshot *core.ProjectSnapshot) error {
	filePath, err := s.safeJoin("projects", snapshot.ProjectID+".json")
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"project_id": snapshot.ProjectID, "path": filePath})

	data, err := json.Marshal(snapshot)
	if err != nil {
		log.WithError(err).Error("Failed to marshal project snapshot")
		return err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write project snapshot")
		return err
	}
	return nil
}

// VersionStore implementation
func (s *fsStore) versionDir(projectID string) (string, error) {
	if projectID == "" || filepath.Base(projectID) != projectID {
		return "", fmt.Errorf("invalid project id")
	}
	return filepath.Join(s.basePath, "versions", projectID), nil
}

func (s *fsStore) CreateVersion(ctx context.Context, version *core.VersionSnapshot) (string, error) {
	dir, err := s.versionDir(version.ProjectID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	id := ulid.Make().String()
	stored := *version
	stored.ID = id
	stored.CreatedAt = time.Now()

	data, err := json.Marshal(&stored)
	if err != nil {
		return "", err
	}
	filePath := filepath.Join(dir, id+".json")
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		logrus.WithError(err).Error("Failed to write version snapshot")
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"project_id": version.ProjectID,
		"version_id": id,
	}).Info("Version snapshot created")
	return id, nil
}

func (s *fsStore) GetVersion(ctx context.Context, projectID, id string) (*core.VersionSnapshot, error) {
	dir, err := s.versionDir(projectID)
	if err != nil {
		return nil, err
	}
	if id == "" || filepath.Base(id) != id {
		return nil, fmt.Errorf("invalid version id")
	}

	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("version with id %s not found for project %s", id, projectID)
		}
		return nil, err
	}

	var version core.VersionSnapshot
	if err := json.Unmarshal(data, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

func (s *fsStore) ListVersions(ctx context.Context, projectID string) ([]*core.VersionSnapshot, error) {
	dir, err := s.versionDir(projectID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("project_id", projectID)

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*core.VersionSnapshot{}, nil
		}
		log.WithError(err).Error("Failed to read versions directory")
		return nil, err
	}

	versions := make([]*core.VersionSnapshot, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read version file %s, skipping", file.Name())
			continue
		}
		var version core.VersionSnapshot
		if err := json.Unmarshal(data, &version); err != nil {
			log.WithError(err).Warnf("Failed to unmarshal version file %s, skipping", file.Name())
			continue
		}
		// For list view, we don't need the layer payload.
		version.Layers = nil
		versions = append(versions, &version)
	}
	return versions, nil
}

// SubscriptionStore implementation
func (s *fsStore) GetSubscription(ctx context.Context, userID string) (*core.Subscription, error) {
	filePath, err := s.safeJoin("subscriptions", userID+".json")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("subscription for user %s not found", userID)
		}
		return nil, err
	}

	var sub core.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *fsStore) SaveSubscription(ctx context.Context, sub *core.Subscription) error {
	if sub.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	filePath, err := s.safeJoin("subscriptions", sub.UserID+".json")
	if err != nil {
		return err
	}

	stored := *sub
	stored.UpdatedAt = time.Now()
	data, err := json.Marshal(&stored)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0644)
}
