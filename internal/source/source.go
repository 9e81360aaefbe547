package source

import (
	"context"
	"time"

	"github.com/nhle/mailgateway/internal/model"
)

// Page holds one page of a message listing returned by the provider.
type Page struct {
	Messages []model.MessageSummary

	// NextLink is the provider-issued opaque cursor for the next page.
	// Empty when there are no more pages.
	NextLink string

	// Malformed counts listing entries that could not be decoded into a
	// MessageSummary. They are dropped from Messages.
	Malformed int
}

// HasMore reports whether the provider returned a cursor for another page.
func (p *Page) HasMore() bool {
	return p != nil && p.NextLink != ""
}

// Source defines the contract of the remote mail provider as consumed by the
// ingestion pipeline and the gateway service.
type Source interface {
	// TestConnection verifies credentials and mailbox access.
	// Returns a human-readable status message on success.
	TestConnection(ctx context.Context) (string, error)

	// Send submits an outgoing message. Success means the provider
	// accepted it for asynchronous delivery.
	Send(ctx context.Context, msg model.OutgoingMessage) error

	// ListMessages retrieves the first page of inbox messages received at
	// or after since, newest first, at most pageSize per page.
	ListMessages(
		ctx context.Context,
		since time.Time,
		pageSize int,
	) (*Page, error)

	// NextPage follows a cursor returned by a previous page.
	NextPage(ctx context.Context, cursor string) (*Page, error)

	// GetDetail retrieves the full body of a message.
	GetDetail(
		ctx context.Context,
		messageID string,
	) (*model.MessageDetail, error)

	// GetAttachments retrieves attachment metadata for a message.
	GetAttachments(
		ctx context.Context,
		messageID string,
	) ([]model.AttachmentInfo, error)

	// GetAttachmentContent downloads a single attachment.
	GetAttachmentContent(
		ctx context.Context,
		messageID, attachmentID string,
	) (*model.AttachmentContent, error)
}
