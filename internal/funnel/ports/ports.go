// Package ports defines what the funnel module needs from external systems:
// message delivery, scheduler wake-ups and object storage. Implementations are
// wired by the composition root so the funnel never imports them directly.
package ports

import (
	"context"
	"errors"
	"io"
	"time"

	"funnel_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

// ErrPermanentDelivery marks a delivery error that retrying cannot fix, such
// as a lead without an email address for an email step.
var ErrPermanentDelivery = errors.New("permanent delivery failure")

// Recipient is the contact data a channel needs.
type Recipient struct {
	FirstName string
	LastName  string
	Email     *string
	Phone     *string
}

// Message is one rendered-by-reference sequence step ready for delivery.
type Message struct {
	TenantID    uuid.UUID
	LeadID      uuid.UUID
	StepID      uuid.UUID
	Channel     domain.Channel
	TemplateRef string
	Recipient   Recipient
	Variables   map[string]string
}

// Sender delivers a message through its channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Waker asks the scheduler to run a tenant-scoped sweep at a given time.
type Waker interface {
	WakeAt(ctx context.Context, tenantID uuid.UUID, at time.Time) error
}

// ObjectStore stores generated files and hands out download links.
type ObjectStore interface {
	UploadFile(ctx context.Context, bucket, folder, fileName, contentType string, reader io.Reader, size int64) (string, error)
	DownloadURL(ctx context.Context, bucket, fileKey string) (string, time.Time, error)
}
