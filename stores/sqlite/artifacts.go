package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"quicksign-server/core"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type artifactStore struct {
	db *sql.DB
}

func NewArtifactStore(dataSourceName string) core.ArtifactStore {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	artifactsTable := `CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		recipient TEXT NOT NULL,
		content_type TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		data BLOB NOT NULL
	);`
	if _, err = db.Exec(artifactsTable); err != nil {
		log.Fatalf("failed to create artifacts table: %v", err)
	}
	// Archives created before artifacts carried an owner.
	if _, err = db.Exec("ALTER TABLE artifacts ADD COLUMN owner TEXT NOT NULL DEFAULT ''"); err != nil {
		logrus.WithError(err).Debug("artifacts.owner column already present")
	}

	return &artifactStore{db}
}

func (s *artifactStore) FindID(ctx context.Context, id string) (*core.Artifact, error) {
	log := logrus.WithField("artifact_id", id)
	log.Debug("Retrieving artifact by ID")

	var artifact core.Artifact
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, session_id, owner, recipient, content_type, created_at, data FROM artifacts WHERE id = ?",
		id).Scan(&artifact.ID, &artifact.SessionID, &artifact.Owner, &artifact.Recipient, &artifact.ContentType, &createdAt, &artifact.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.WithField("error", "artifact not found").Warn("Artifact with specified ID not found")
			return nil, fmt.Errorf("artifact with id %s: %w", id, core.ErrArtifactNotFound)
		}
		log.WithError(err).Error("Failed to retrieve artifact")
		return nil, err
	}
	artifact.CreatedAt = time.UnixMilli(createdAt)

	log.Info("Artifact retrieved successfully")
	return &artifact, nil
}

func (s *artifactStore) Create(ctx context.Context, artifact *core.Artifact) (string, error) {
	id := ulid.Make().String()
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	log := logrus.WithFields(logrus.Fields{
		"artifact_id": id,
		"session_id":  artifact.SessionID,
		"data_length": len(artifact.Data),
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO artifacts (id, session_id, owner, recipient, content_type, created_at, data) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, artifact.SessionID, artifact.Owner, artifact.Recipient, artifact.ContentType, createdAt.UnixMilli(), artifact.Data)
	if err != nil {
		log.WithError(err).Error("Failed to create artifact")
		return "", err
	}

	log.Info("Artifact created successfully")
	return id, nil
}
