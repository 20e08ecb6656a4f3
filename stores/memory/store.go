package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"designboard/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore implements ProjectStore, VersionStore and SubscriptionStore for
// in-memory storage. The default backend for development and tests.
type memStore struct {
	mu sync.RWMutex

	projects map[string]*core.ProjectSnapshot
	// versions is keyed by projectID, then versionID.
	versions      map[string]map[string]*core.VersionSnapshot
	subscriptions map[string]*core.Subscription
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		projects:      make(map[string]*core.ProjectSnapshot),
		versions:      make(map[string]map[string]*core.VersionSnapshot),
		subscriptions: make(map[string]*core.Subscription),
	}
}

// GetProject retrieves the current snapshot. Part of the ProjectStore
// interface. Unknown projects start from an empty snapshot.
func (s *memStore) GetProject(ctx context.Context, projectID string) (*core.ProjectSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if snap, ok := s.projects[projectID]; ok {
		return snap.Clone(), nil
	}
	return core.NewProjectSnapshot(projectID), nil
}

// SaveProject replaces the stored snapshot. Part of the ProjectStore
// interface.
func (s *memStore) SaveProject(ctx context.Context, snapshot *core.ProjectSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.ProjectID == "" {
		return fmt.Errorf("project id cannot be empty")
	}
	s.projects[snapshot.ProjectID] = snapshot.Clone()
	return nil
}

// CreateVersion stores a new version snapshot. Part of the VersionStore
// interface.
func (s *memStore) CreateVersion(ctx context.Context, version *core.VersionSnapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version.ProjectID == "" {
		return "", fmt.Errorf("project id cannot be empty")
	}

	id := ulid.Make().String()
	stored := *version
	stored.ID = id
	stored.CreatedAt = time.Now()
	stored.Layers = append([]core.Layer{}, version.Layers...)

	projectVersions, ok := s.versions[version.ProjectID]
	if !ok {
		projectVersions = make(map[string]*core.VersionSnapshot)
		s.versions[version.ProjectID] = projectVersions
	}
	projectVersions[id] = &stored

	logrus.WithFields(logrus.Fields{
		"project_id": version.ProjectID,
		"version_id": id,
	}).Info("Version snapshot created")
	return id, nil
}

// GetVersion returns a single version, scoped to its project. Part of the
// VersionStore interface.
func (s *memStore) GetVersion(ctx context.Context, projectID, id string) (*core.VersionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projectVersions, ok := s.versions[projectID]
	if !ok {
		return nil, fmt.Errorf("version with id %s not found for project %s", id, projectID)
	}
	version, ok := projectVersions[id]
	if !ok {
		return nil, fmt.Errorf("version with id %s not found for project %s", id, projectID)
	}
	out := *version
	out.Layers = append([]core.Layer{}, version.Layers...)
	return &out, nil
}

// ListVersions returns metadata for all versions of a project, without the
// Layers payload. Part of the VersionStore interface.
func (s *memStore) ListVersions(ctx context.Context, projectID string) ([]*core.VersionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	projectVersions, ok := s.versions[projectID]
	if !ok {
		return []*core.VersionSnapshot{}, nil
	}

	versions := make([]*core.VersionSnapshot, 0, len(projectVersions))
	for _, v := range projectVersions {
		versions = append(versions, &core.VersionSnapshot{
			ID:        v.ID,
			ProjectID: v.ProjectID,
			Name:      v.Name,
			CreatedBy: v.CreatedBy,
			CreatedAt: v.CreatedAt,
		})
	}
	return versions, nil
}

// GetSubscription returns a user's billing record. Part of the
// SubscriptionStore interface.
func (s *memStore) GetSubscription(ctx context.Context, userID string) (*core.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, fmt.Errorf("subscription for user %s not found", userID)
	}
	out := *sub
	return &out, nil
}

// SaveSubscription creates or replaces a user's billing record. Part of the
// SubscriptionStore interface.
func (s *memStore) SaveSubscription(ctx context.Context, sub *core.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	stored := *sub
	stored.UpdatedAt = time.Now()
	s.subscriptions[sub.UserID] = &stored
	return nil
}
