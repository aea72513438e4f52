// Package delivery runs the "email signed document" dialog and hands the
// composed document to a remote delivery relay.
package delivery

import (
	"context"
	"fmt"
	"quicksign-server/core"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultTimeout = 30 * time.Second

type (
	// Sender delivers a signed document to its recipient.
	Sender interface {
		Send(ctx context.Context, req *core.DeliveryRequest) (Receipt, error)
	}

	// Source produces the signed document at send time.
	Source interface {
		ID() string
		RenderPNG() ([]byte, error)
	}

	// Owned is implemented by sources that belong to an authenticated subject.
	Owned interface {
		Owner() string
	}

	Receipt struct {
		MessageID  string `json:"messageId,omitempty"`
		ArtifactID string `json:"artifactId,omitempty"`
	}

	// Result is published once per Send when the delivery settles.
	Result struct {
		Recipient string
		Receipt   Receipt
		Err       error
	}

	Status struct {
		Open           bool   `json:"open"`
		Pending        bool   `json:"pending"`
		Recipient      string `json:"recipient"`
		LastError      string `json:"lastError,omitempty"`
		LastMessageID  string `json:"lastMessageId,omitempty"`
		LastArtifactID string `json:"lastArtifactId,omitempty"`
	}
)

// DeliveryFailure reports a rejected or failed delivery. It matches
// core.ErrDeliveryFailed.
type DeliveryFailure struct {
	Recipient string
	Err       error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("delivery to %q failed: %v", e.Recipient, e.Err)
}

func (e *DeliveryFailure) Unwrap() error {
	return e.Err
}

func (e *DeliveryFailure) Is(target error) bool {
	return target == core.ErrDeliveryFailed
}

// Coordinator owns the dialog state. Send returns immediately; the dialog
// closes only once the sender reports success.
type Coordinator struct {
	mu      sync.Mutex
	sender  Sender
	timeout time.Duration

	open      bool
	opened    uint64
	recipient string
	pending   bool
	lastErr   error
	receipt   Receipt
}

func NewCoordinator(sender Sender, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{sender: sender, timeout: timeout}
}

// Open shows the dialog and clears the previous outcome. The recipient is kept.
func (c *Coordinator) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		c.opened++
	}
	c.open = true
	c.lastErr = nil
}

// Close hides the dialog. A pending send keeps running.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *Coordinator) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Coordinator) SetRecipient(recipient string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recipient = recipient
}

func (c *Coordinator) Recipient() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recipient
}

func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// LastError returns the *DeliveryFailure of the last settled send, if any.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Open:           c.open,
		Pending:        c.pending,
		Recipient:      c.recipient,
		LastMessageID:  c.receipt.MessageID,
		LastArtifactID: c.receipt.ArtifactID,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Send renders src and delivers it to the current recipient in the
// background. The returned channel receives exactly one Result.
func (c *Coordinator) Send(ctx context.Context, src Source) (<-chan Result, error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil, core.ErrDialogClosed
	}
	if c.pending {
		c.mu.Unlock()
		return nil, core.ErrSendInFlight
	}

	image, err := src.RenderPNG()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	req := &core.DeliveryRequest{
		SessionID: src.ID(),
		Recipient: c.recipient,
		Filename:  fmt.Sprintf("signed-%s.png", src.ID()),
		Image:     image,
	}
	if owned, ok := src.(Owned); ok {
		req.Owner = owned.Owner()
	}
	c.pending = true
	c.lastErr = nil
	opened := c.opened
	c.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"recipient":  req.Recipient,
		"data_size":  len(req.Image),
	})
	log.Info("Delivery started")

	results := make(chan Result, 1)
	go func() {
		defer close(results)

		sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		receipt, err := c.sender.Send(sendCtx, req)
		res := Result{Recipient: req.Recipient, Receipt: receipt}
		if err != nil {
			res.Err = &DeliveryFailure{Recipient: req.Recipient, Err: err}
		}
		c.settle(res, opened)

		if res.Err != nil {
			log.WithError(res.Err).Warn("Delivery failed")
		} else {
			log.WithField("message_id", receipt.MessageID).Info("Delivery completed")
		}
		results <- res
	}()

	return results, nil
}

// settle records the outcome of a send. A success closes the dialog only if
// it has not been reopened since the send started.
func (c *Coordinator) settle(res Result, opened uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = false
	if res.Err != nil {
		c.lastErr = res.Err
		return
	}
	c.receipt = res.Receipt
	if c.opened == opened {
		c.open = false
	}
}
