package model

import "time"

// Importance levels reported by the provider.
const (
	ImportanceLow    = "low"
	ImportanceNormal = "normal"
	ImportanceHigh   = "high"
)

// Body content types.
const (
	BodyTypeHTML = "html"
	BodyTypeText = "text"
)

// MessageSummary is a provider listing entry. It is immutable once decoded
// from the wire.
type MessageSummary struct {
	// MessageID is the provider-assigned remote id, the natural dedup key.
	MessageID string `json:"message_id" db:"message_id"`

	Subject string `json:"subject" db:"subject"`

	// BodyPreview is the short preview text the provider includes in
	// listings.
	BodyPreview string `json:"body_preview" db:"body_preview"`

	// Sender is the sender's address; SenderName its display name.
	Sender     string `json:"sender" db:"sender"`
	SenderName string `json:"sender_name" db:"sender_name"`

	Recipients   []string `json:"recipients" db:"-"`
	CCRecipients []string `json:"cc_recipients" db:"-"`

	ReceivedAt     time.Time `json:"received_at" db:"received_at"`
	HasAttachments bool      `json:"has_attachments" db:"has_attachments"`

	// Importance is one of the Importance* constants.
	Importance string `json:"importance" db:"importance"`

	IsRead bool `json:"is_read" db:"is_read"`
}

// MessageDetail is the full body of a message, fetched on demand.
type MessageDetail struct {
	Body     string `json:"body"`
	BodyType string `json:"body_type"`
}

// AttachmentInfo describes a single attachment without its content.
type AttachmentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	IsInline    bool   `json:"is_inline"`
}

// AttachmentContent is a downloaded attachment.
type AttachmentContent struct {
	AttachmentInfo
	Content []byte `json:"-"`
}

// StoredMessage is the persisted record of an ingested message.
type StoredMessage struct {
	MessageSummary

	// Body and BodyType are set only when the full body was fetched.
	Body     *string `json:"body,omitempty"`
	BodyType *string `json:"body_type,omitempty"`

	// BodyText is a plain-text rendition of Body used for search.
	BodyText string `json:"-"`

	// Attachments is set only when attachment metadata was fetched.
	Attachments []AttachmentInfo `json:"attachment_info,omitempty"`

	// ProcessedAt is when the message was first ingested.
	ProcessedAt time.Time `json:"processed_at"`

	// UpdatedAt is when the read flag was last changed by a sync.
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// OutgoingAttachment is a decoded file to attach to an outgoing message.
type OutgoingAttachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// OutgoingMessage is a message to be sent through the provider. Body is
// always submitted as HTML.
type OutgoingMessage struct {
	To          []string
	CC          []string
	BCC         []string
	Subject     string
	Body        string
	Attachments []OutgoingAttachment
}
