package testutil

import (
	"fmt"
	"time"

	"github.com/nhle/mailgateway/internal/model"
)

// Summary returns a plausible unread, normal-importance listing entry.
func Summary(id string, receivedAt time.Time) model.MessageSummary {
	return model.MessageSummary{
		MessageID:    id,
		Subject:      "Subject " + id,
		BodyPreview:  fmt.Sprintf("Preview text for message %s that is long enough to skip body fetch", id),
		Sender:       "sender@example.com",
		SenderName:   "Sender",
		Recipients:   []string{"inbox@example.com"},
		CCRecipients: []string{},
		ReceivedAt:   receivedAt.UTC(),
		Importance:   model.ImportanceNormal,
	}
}

// Stored wraps Summary into a StoredMessage processed at receivedAt.
func Stored(id string, receivedAt time.Time) model.StoredMessage {
	return model.StoredMessage{
		MessageSummary: Summary(id, receivedAt),
		ProcessedAt:    receivedAt.UTC(),
	}
}
