package core

import (
	"context"
	"time"
)

type (
	// VersionSnapshot is a named, timestamped copy of a project's layer
	// collection, taken explicitly by a user. Read-only once created; only
	// the differ/merger consumes it.
	VersionSnapshot struct {
		ID        string    `json:"id"`
		ProjectID string    `json:"projectId"`
		Name      string    `json:"name"`
		Layers    []Layer   `json:"layers"`
		CreatedBy string    `json:"createdBy"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// VersionStore defines the persistence layer for version snapshots.
	VersionStore interface {
		// CreateVersion stores a new version and returns its generated id.
		CreateVersion(ctx context.Context, version *VersionSnapshot) (string, error)

		// GetVersion returns a single version, scoped to its project.
		GetVersion(ctx context.Context, projectID, id string) (*VersionSnapshot, error)

		// ListVersions returns metadata for all versions of a project.
		// The returned versions should not contain the Layers field to keep
		// the response light.
		ListVersions(ctx context.Context, projectID string) ([]*VersionSnapshot, error)
	}
)
