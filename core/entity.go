package core

import (
	"context"
	"time"
)

type (
	// Document is an uploaded document image. Data is treated as an opaque blob
	// and must not be mutated after upload.
	Document struct {
		ID          string
		Name        string
		ContentType string
		Data        []byte
	}

	// DeliveryRequest is built at send time and handed to the delivery relay.
	DeliveryRequest struct {
		SessionID string
		Owner     string
		Recipient string
		Filename  string
		Image     []byte
	}

	// Artifact is an archived copy of a delivered signed document.
	Artifact struct {
		ID          string    `json:"id"`
		SessionID   string    `json:"sessionId"`
		Owner       string    `json:"owner,omitempty"`
		Recipient   string    `json:"recipient"`
		ContentType string    `json:"contentType"`
		Data        []byte    `json:"data,omitempty"`
		CreatedAt   time.Time `json:"createdAt"`
	}

	// ArtifactStore archives signed documents after a successful delivery.
	ArtifactStore interface {
		FindID(ctx context.Context, id string) (*Artifact, error)
		Create(ctx context.Context, artifact *Artifact) (string, error)
	}
)
