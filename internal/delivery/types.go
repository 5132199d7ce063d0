package delivery

import (
	"context"
	"time"

	"bookdrop/internal/books"
	"bookdrop/internal/services"
	"bookdrop/internal/staging"
)

// Kind is the shape of a finished delivery.
type Kind string

const (
	KindSentInline Kind = "sent_inline"
	KindSentAsLink Kind = "sent_as_link"
	KindFailed     Kind = "failed"
)

// Recipient addresses the delivery surface. EditMessageID, when set, asks
// the surface to replace an existing link message instead of sending a new
// one.
type Recipient struct {
	ChatID        int64
	ReplyTo       int64
	EditMessageID int64
}

// Request asks for one book in one format.
type Request struct {
	BookID int64
	Format books.Format
	To     Recipient
}

// Outcome reports how a request was served.
type Outcome struct {
	Kind      Kind
	RequestID string
	Handle    string
	FromCache bool
	Filename  string
	ShareURL  string
	ExpiresAt time.Time
	Size      int64
	Reason    services.Reason
	Err       error
}

// Document describes an artifact being sent inline.
type Document struct {
	BookID   int64
	Format   books.Format
	FileName string
	Caption  string
}

// Link describes a staged artifact offered through a share URL.
type Link struct {
	BookID    int64
	Format    books.Format
	FileName  string
	Caption   string
	URL       string
	ExpiresAt time.Time
}

// Surface is the messaging platform that receives deliveries.
//
// Resend and Upload return an error wrapping services.ErrDeliveryRejected
// when the platform refuses the handle or the upload.
type Surface interface {
	Resend(ctx context.Context, to Recipient, handle string, doc Document) error
	Upload(ctx context.Context, to Recipient, data []byte, doc Document) (string, error)
	SendLink(ctx context.Context, to Recipient, link Link) error
}

// Stager is the staging directory as used by the coordinator.
type Stager interface {
	Stage(ctx context.Context, name string, data []byte) (staging.File, error)
	Touch(ctx context.Context, name string) (staging.File, bool, error)
}

var _ Stager = (*staging.Store)(nil)
