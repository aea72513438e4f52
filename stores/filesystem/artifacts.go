package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"quicksign-server/core"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type artifactStore struct {
	basePath string
}

// NewArtifactStore stores each artifact as a JSON file under basePath.
func NewArtifactStore(basePath string) core.ArtifactStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &artifactStore{basePath: basePath}
}

func (s *artifactStore) path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	return filepath.Join(s.basePath, id+".json"), nil
}

func (s *artifactStore) FindID(ctx context.Context, id string) (*core.Artifact, error) {
	log := logrus.WithField("artifact_id", id)

	filePath, err := s.path(id)
	if err != nil {
		log.WithError(err).Warn("Rejected artifact id")
		return nil, fmt.Errorf("artifact with id %s: %w", id, core.ErrArtifactNotFound)
	}

	log.WithField("file_path", filePath).Debug("Retrieving artifact by ID")
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("error", "artifact not found").Warn("Artifact with specified ID not found")
			return nil, fmt.Errorf("artifact with id %s: %w", id, core.ErrArtifactNotFound)
		}
		log.WithError(err).Error("Failed to retrieve artifact")
		return nil, err
	}

	var artifact core.Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		log.WithError(err).Error("Failed to unmarshal artifact")
		return nil, err
	}

	log.Info("Artifact retrieved successfully")
	return &artifact, nil
}

func (s *artifactStore) Create(ctx context.Context, artifact *core.Artifact) (string, error) {
	id := ulid.Make().String()
	filePath, err := s.path(id)
	if err != nil {
		return "", err
	}
	log := logrus.WithFields(logrus.Fields{
		"artifact_id": id,
		"file_path":   filePath,
	})

	stored := *artifact
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	data, err := json.Marshal(stored)
	if err != nil {
		log.WithError(err).Error("Failed to marshal artifact")
		return "", err
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to create artifact")
		return "", err
	}

	log.Info("Artifact created successfully")
	return id, nil
}
