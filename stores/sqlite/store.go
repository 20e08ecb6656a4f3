package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"designboard/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db *sql.DB
}

// NewStore creates a new SQLite-based store.
func NewStore(dataSourceName string) *sqliteStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	projectTableStmt := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		data BLOB,
		updated_at DATETIME
	);`
	if _, err = db.Exec(projectTableStmt); err != nil {
		log.Fatalf("failed to create projects table: %v", err)
	}

	versionTableStmt := `
	CREATE TABLE IF NOT EXISTS versions (
		id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		name TEXT,
		created_by TEXT,
		created_at DATETIME,
		layers BLOB,
		PRIMARY KEY (project_id, id)
	);`
	if _, err = db.Exec(versionTableStmt); err != nil {
		log.Fatalf("failed to create versions table: %v", err)
	}

	subscriptionTableStmt := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id TEXT PRIMARY KEY,
		status TEXT,
		subscr_id TEXT,
		payer_email TEXT,
		gross TEXT,
		updated_at DATETIME
	);`
	if _, err = db.Exec(subscriptionTableStmt); err != nil {
		log.Fatalf("failed to create subscriptions table: %v", err)
	}

	return &sqliteStore{db}
}

// ProjectStore implementation
func (s *sqliteStore) GetProject(ctx context.Context, projectID string) (*core.ProjectSnapshot, error) {
	log := logrus.WithField("project_id", projectID)
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM projects WHERE id = ?", projectID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.NewProjectSnapshot(projectID), nil
		}
		log.WithError(err).Error("Failed to retrieve project snapshot")
		return nil, err
	}

	var snapshot core.ProjectSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		log.WithError(err).Error("Failed to unmarshal project snapshot")
		return nil, err
	}
	return &snapshot, nil
}

func (s *sqliteStore) SaveProject(ctx context.Context, snapshot *core.ProjectSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		snapshot.ProjectID, data, time.Now())
	if err != nil {
		logrus.WithField("project_id", snapshot.ProjectID).WithError(err).Error("Failed to save project snapshot")
	}
	return err
}

// VersionStore implementation
func (s *sqliteStore) CreateVersion(ctx context.Context, version *core.VersionSnapshot) (string, error) {
	id := ulid.Make().String()
	layers, err := json.Marshal(version.Layers)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO versions (id, project_id, name, created_by, created_at, layers) VALUES (?, ?, ?, ?, ?, ?)",
		id, version.ProjectID, version.Name, version.CreatedBy, time.Now(), layers)
	if err != nil {
		logrus.WithField("project_id", version.ProjectID).WithError(err).Error("Failed to create version snapshot")
		return "", err
	}
	return id, nil
}

func (s *sqliteStore) GetVersion(ctx context.Context, projectID, id string) (*core.VersionSnapshot, error) {
	version := core.VersionSnapshot{ID: id, ProjectID: projectID}
	var layers []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT name, created_by, created_at, layers FROM versions WHERE project_id = ? AND id = ?",
		projectID, id).Scan(&version.Name, &version.CreatedBy, &version.CreatedAt, &layers)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("version with id %s not found for project %s", id, projectID)
		}
		return nil, err
	}
	if err := json.Unmarshal(layers, &version.Layers); err != nil {
		return nil, err
	}
	return &version, nil
}

func (s *sqliteStore) ListVersions(ctx context.Context, projectID string) ([]*core.VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_by, created_at FROM versions WHERE project_id = ? ORDER BY created_at",
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := []*core.VersionSnapshot{}
	for rows.Next() {
		version := core.VersionSnapshot{ProjectID: projectID}
		if err := rows.Scan(&version.ID, &version.Name, &version.CreatedBy, &version.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, &version)
	}
	return versions, rows.Err()
}

// SubscriptionStore implementation
func (s *sqliteStore) GetSubscription(ctx context.Context, userID string) (*core.Subscription, error) {
	sub := core.Subscription{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		"SELECT status, subscr_id, payer_email, gross, updated_at FROM subscriptions WHERE user_id = ?",
		userID).Scan(&sub.Status, &sub.SubscrID, &sub.PayerEmail, &sub.Gross, &sub.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subscription for user %s not found", userID)
		}
		return nil, err
	}
	return &sub, nil
}

func (s *sqliteStore) SaveSubscription(ctx context.Context, sub *core.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, status, subscr_id, payer_email, gross, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, subscr_id = excluded.subscr_id,
		 payer_email = excluded.payer_email, gross = excluded.gross, updated_at = excluded.updated_at`,
		sub.UserID, sub.Status, sub.SubscrID, sub.PayerEmail, sub.Gross, time.Now())
	return err
}
