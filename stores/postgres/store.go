package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"designboard/core"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type pgStore struct {
	db *sql.DB
}

// NewStore creates a new PostgreSQL-based store using the pgx driver.
func NewStore(connString string) *pgStore {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		log.Fatalf("failed to open postgres database: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			data BYTEA,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS versions (
			id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			name TEXT,
			created_by TEXT,
			created_at TIMESTAMPTZ,
			layers BYTEA,
			PRIMARY KEY (project_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id TEXT PRIMARY KEY,
			status TEXT,
			subscr_id TEXT,
			payer_email TEXT,
			gross TEXT,
			updated_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("failed to initialize postgres schema: %v", err)
		}
	}

	return &pgStore{db}
}

// ProjectStore implementation
func (s *pgStore) GetProject(ctx context.Context, projectID string) (*core.ProjectSnapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM projects WHERE id = $1", projectID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.NewProjectSnapshot(projectID), nil
		}
		logrus.WithField("project_id", projectID).WithError(err).Error("Failed to retrieve project snapshot")
		return nil, err
	}

	var snapshot core.ProjectSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (s *pgStore) SaveProject(ctx context.Context, snapshot *core.ProjectSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		snapshot.ProjectID, data, time.Now())
	if err != nil {
		logrus.WithField("project_id", snapshot.ProjectID).WithError(err).Error("Failed to save project snapshot")
	}
	return err
}

// VersionStore implementation
func (s *pgStore) CreateVersion(ctx context.Context, version *core.VersionSnapshot) (string, error) {
	id := ulid.Make().String()
	layers, err := json.Marshal(version.Layers)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO versions (id, project_id, name, created_by, created_at, layers) VALUES ($1, $2, $3, $4, $5, $6)",
		id, version.ProjectID, version.Name, version.CreatedBy, time.Now(), layers)
	if err != nil {
		logrus.WithField("project_id", version.ProjectID).WithError(err).Error("Failed to create version snapshot")
		return "", err
	}
	return id, nil
}

func (s *pgStore) GetVersion(ctx context.Context, projectID, id string) (*core.VersionSnapshot, error) {
	version := core.VersionSnapshot{ID: id, ProjectID: projectID}
	var layers []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT name, created_by, created_at, layers FROM versions WHERE project_id = $1 AND id = $2",
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

func (s *pgStore) ListVersions(ctx context.Context, projectID string) ([]*core.VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_by, created_at FROM versions WHERE project_id = $1 ORDER BY created_at",
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
func (s *pgStore) GetSubscription(ctx context.Context, userID string) (*core.Subscription, error) {
	sub := core.Subscription{UserID: userID}
	err := s.db.QueryRowContext(ctx,
		"SELECT status, subscr_id, payer_email, gross, updated_at FROM subscriptions WHERE user_id = $1",
		userID).Scan(&sub.Status, &sub.SubscrID, &sub.PayerEmail, &sub.Gross, &sub.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("subscription for user %s not found", userID)
		}
		return nil, err
	}
	return &sub, nil
}

func (s *pgStore) SaveSubscription(ctx context.Context, sub *core.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, status, subscr_id, payer_email, gross, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status, subscr_id = EXCLUDED.subscr_id,
		 payer_email = EXCLUDED.payer_email, gross = EXCLUDED.gross, updated_at = EXCLUDED.updated_at`,
		sub.UserID, sub.Status, sub.SubscrID, sub.PayerEmail, sub.Gross, time.Now())
	return err
}
