package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"quicksign-server/core"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// LogSender accepts every delivery and only logs it. Used when no relay is
// configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, req *core.DeliveryRequest) (Receipt, error) {
	id := ulid.Make().String()
	logrus.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"recipient":  req.Recipient,
		"filename":   req.Filename,
		"data_size":  len(req.Image),
		"message_id": id,
	}).Warn("No delivery relay configured, signed document was not sent")
	return Receipt{MessageID: id}, nil
}

type relayRequest struct {
	Recipient   string `json:"recipient"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Document    string `json:"document"`
}

type relayResponse struct {
	ID string `json:"id"`
}

// RelaySender posts the signed document to a remote mail relay.
type RelaySender struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewRelaySender(url, token string) *RelaySender {
	return &RelaySender{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: time.Minute},
	}
}

func (s *RelaySender) Send(ctx context.Context, req *core.DeliveryRequest) (Receipt, error) {
	body, err := json.Marshal(relayRequest{
		Recipient:   req.Recipient,
		Filename:    req.Filename,
		ContentType: "image/png",
		Document:    base64.StdEncoding.EncodeToString(req.Image),
	})
	if err != nil {
		return Receipt{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if s.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to read relay response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Receipt{}, fmt.Errorf("relay responded %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var out relayResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			logrus.WithError(err).Debug("Relay response is not JSON, ignoring message id")
		}
	}
	return Receipt{MessageID: out.ID}, nil
}

// ArchivingSender delivers through Next and then archives the signed document.
// Archive failures are logged; the delivery itself already happened.
type ArchivingSender struct {
	Next  Sender
	Store core.ArtifactStore
}

func (s *ArchivingSender) Send(ctx context.Context, req *core.DeliveryRequest) (Receipt, error) {
	receipt, err := s.Next.Send(ctx, req)
	if err != nil {
		return receipt, err
	}

	id, err := s.Store.Create(ctx, &core.Artifact{
		SessionID:   req.SessionID,
		Owner:       req.Owner,
		Recipient:   req.Recipient,
		ContentType: "image/png",
		Data:        req.Image,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": req.SessionID,
			"error":      err,
		}).Error("Failed to archive signed document")
		return receipt, nil
	}
	receipt.ArtifactID = id
	return receipt, nil
}
