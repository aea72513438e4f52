package memory

import (
	"context"
	"fmt"
	"quicksign-server/core"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type artifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]core.Artifact
}

func NewArtifactStore() core.ArtifactStore {
	return &artifactStore{
		artifacts: make(map[string]core.Artifact),
	}
}

func (s *artifactStore) FindID(ctx context.Context, id string) (*core.Artifact, error) {
	log := logrus.WithField("artifact_id", id)

	s.mu.RLock()
	artifact, ok := s.artifacts[id]
	s.mu.RUnlock()

	if ok {
		log.Info("Artifact retrieved successfully")
		return &artifact, nil
	}

	log.WithField("error", "artifact not found").Warn("Artifact with specified ID not found")
	return nil, fmt.Errorf("artifact with id %s: %w", id, core.ErrArtifactNotFound)
}

func (s *artifactStore) Create(ctx context.Context, artifact *core.Artifact) (string, error) {
	id := ulid.Make().String()

	stored := *artifact
	stored.ID = id
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.Data = append([]byte(nil), artifact.Data...)

	s.mu.Lock()
	s.artifacts[id] = stored
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"artifact_id": id,
		"session_id":  artifact.SessionID,
		"data_length": len(artifact.Data),
	}).Info("Artifact created successfully")

	return id, nil
}
