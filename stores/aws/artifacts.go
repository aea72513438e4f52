package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"quicksign-server/core"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "artifacts"

// Object metadata keys. S3 lower-cases user metadata keys.
const (
	metaSessionID = "session-id"
	metaOwner     = "owner"
	metaRecipient = "recipient"
	metaCreatedAt = "created-at"
)

type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewArtifactStore stores each artifact as an object whose body is the signed
// document and whose user metadata carries the delivery details.
func NewArtifactStore(bucketName string) core.ArtifactStore {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func objectKey(id string) (string, error) {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	return path.Join(keyPrefix, id), nil
}

func objectMetadata(artifact *core.Artifact, createdAt time.Time) map[string]string {
	return map[string]string{
		metaSessionID: artifact.SessionID,
		metaOwner:     artifact.Owner,
		metaRecipient: artifact.Recipient,
		metaCreatedAt: strconv.FormatInt(createdAt.UnixMilli(), 10),
	}
}

// artifactFromObject rebuilds an artifact from an object body and its user
// metadata. A missing or malformed timestamp leaves CreatedAt zero.
func artifactFromObject(id string, metadata map[string]string, contentType string, data []byte) *core.Artifact {
	artifact := &core.Artifact{
		ID:          id,
		SessionID:   metadata[metaSessionID],
		Owner:       metadata[metaOwner],
		Recipient:   metadata[metaRecipient],
		ContentType: contentType,
		Data:        data,
	}
	if ms, err := strconv.ParseInt(metadata[metaCreatedAt], 10, 64); err == nil {
		artifact.CreatedAt = time.UnixMilli(ms)
	}
	return artifact
}

func (s *s3Store) FindID(ctx context.Context, id string) (*core.Artifact, error) {
	key, err := objectKey(id)
	if err != nil {
		return nil, fmt.Errorf("artifact with id %s: %w", id, core.ErrArtifactNotFound)
	}

	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("artifact with id %s: %w", id, core.ErrArtifactNotFound)
		}
		return nil, fmt.Errorf("failed to get artifact %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact data: %w", err)
	}

	artifact := artifactFromObject(id, resp.Metadata, aws.ToString(resp.ContentType), data)

	logrus.WithField("artifact_id", id).Info("Artifact retrieved successfully")
	return artifact, nil
}

func (s *s3Store) Create(ctx context.Context, artifact *core.Artifact) (string, error) {
	id := ulid.Make().String()
	key, err := objectKey(id)
	if err != nil {
		return "", err
	}
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(artifact.Data),
		ContentType: aws.String(artifact.ContentType),
		Metadata:    objectMetadata(artifact, createdAt),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"artifact_id": id,
		"key":         key,
		"data_length": len(artifact.Data),
	}).Info("Artifact created successfully")
	return id, nil
}
