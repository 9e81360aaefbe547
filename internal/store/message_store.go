package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/nhle/mailgateway/internal/model"
)

// emailRow mirrors the emails table. JSON columns are decoded by toModel.
type emailRow struct {
	MessageID      string     `db:"message_id"`
	Subject        string     `db:"subject"`
	BodyPreview    string     `db:"body_preview"`
	Sender         string     `db:"sender"`
	SenderName     string     `db:"sender_name"`
	Recipients     string     `db:"recipients"`
	CCRecipients   string     `db:"cc_recipients"`
	ReceivedAt     time.Time  `db:"received_at"`
	HasAttachments bool       `db:"has_attachments"`
	Importance     string     `db:"importance"`
	IsRead         bool       `db:"is_read"`
	Body           *string    `db:"body"`
	BodyType       *string    `db:"body_type"`
	BodyText       string     `db:"body_text"`
	AttachmentInfo *string    `db:"attachment_info"`
	ProcessedAt    time.Time  `db:"processed_at"`
	UpdatedAt      *time.Time `db:"updated_at"`
}

const emailColumns = `
	message_id, subject, body_preview, sender, sender_name,
	recipients, cc_recipients, received_at, has_attachments,
	importance, is_read, body, body_type, body_text,
	attachment_info, processed_at, updated_at`

func (r emailRow) toModel() (model.StoredMessage, error) {
	m := model.StoredMessage{
		MessageSummary: model.MessageSummary{
			MessageID:      r.MessageID,
			Subject:        r.Subject,
			BodyPreview:    r.BodyPreview,
			Sender:         r.Sender,
			SenderName:     r.SenderName,
			ReceivedAt:     r.ReceivedAt.UTC(),
			HasAttachments: r.HasAttachments,
			Importance:     r.Importance,
			IsRead:         r.IsRead,
		},
		Body:        r.Body,
		BodyType:    r.BodyType,
		BodyText:    r.BodyText,
		ProcessedAt: r.ProcessedAt.UTC(),
	}
	if r.UpdatedAt != nil {
		t := r.UpdatedAt.UTC()
		m.UpdatedAt = &t
	}

	if err := json.Unmarshal([]byte(r.Recipients), &m.Recipients); err != nil {
		return model.StoredMessage{}, fmt.Errorf("unmarshaling recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(r.CCRecipients), &m.CCRecipients); err != nil {
		return model.StoredMessage{}, fmt.Errorf("unmarshaling cc_recipients: %w", err)
	}
	if r.AttachmentInfo != nil {
		if err := json.Unmarshal([]byte(*r.AttachmentInfo), &m.Attachments); err != nil {
			return model.StoredMessage{}, fmt.Errorf("unmarshaling attachment_info: %w", err)
		}
	}

	return m, nil
}

func toModels(rows []emailRow) ([]model.StoredMessage, error) {
	msgs := make([]model.StoredMessage, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", r.MessageID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// InsertMessage stores msg if its message id is new. A duplicate id is not
// an error: it reports false and leaves the existing row untouched.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg model.StoredMessage) (bool, error) {
	if msg.MessageID == "" {
		return false, storeErr("insert message", errors.New("message id must not be empty"))
	}
	if msg.ProcessedAt.IsZero() {
		msg.ProcessedAt = time.Now()
	}
	if msg.Importance == "" {
		msg.Importance = model.ImportanceNormal
	}

	recipients, err := marshalList(msg.Recipients)
	if err != nil {
		return false, storeErr("insert message", err)
	}
	ccRecipients, err := marshalList(msg.CCRecipients)
	if err != nil {
		return false, storeErr("insert message", err)
	}

	var attachmentInfo *string
	if msg.Attachments != nil {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return false, storeErr("insert message", fmt.Errorf("marshaling attachment_info: %w", err))
		}
		v := string(data)
		attachmentInfo = &v
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		msg.MessageID, msg.Subject, msg.BodyPreview, msg.Sender, msg.SenderName,
		recipients, ccRecipients, msg.ReceivedAt.UTC(), boolToInt(msg.HasAttachments),
		msg.Importance, boolToInt(msg.IsRead), msg.Body, msg.BodyType, msg.BodyText,
		attachmentInfo, msg.ProcessedAt.UTC(), utcPtr(msg.UpdatedAt),
	)
	if err != nil {
		return false, storeErr("insert message", fmt.Errorf("inserting %s: %w", msg.MessageID, err))
	}

	n, err := rowsAffected("insert message", result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateReadStatus sets the read flag and stamps updated_at. It reports
// whether a row changed.
func (s *SQLiteStore) UpdateReadStatus(ctx context.Context, messageID string, isRead bool) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE emails SET is_read = ?, updated_at = ? WHERE message_id = ? AND is_read <> ?",
		boolToInt(isRead), time.Now().UTC(), messageID, boolToInt(isRead),
	)
	if err != nil {
		return false, storeErr("update read status", fmt.Errorf("updating %s: %w", messageID, err))
	}

	n, err := rowsAffected("update read status", result)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetByMessageID retrieves a single message by its provider id.
func (s *SQLiteStore) GetByMessageID(ctx context.Context, messageID string) (*model.StoredMessage, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+emailColumns+" FROM emails WHERE message_id = ?", messageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get message", fmt.Errorf("getting %s: %w", messageID, err))
	}

	m, err := row.toModel()
	if err != nil {
		return nil, storeErr("get message", err)
	}
	return &m, nil
}

// Find retrieves messages matching the provided filter.
func (s *SQLiteStore) Find(ctx context.Context, filter MessageFilter) ([]model.StoredMessage, error) {
	where, args := filterClause(filter)
	query := "SELECT " + emailColumns + " FROM emails" + where

	sortBy := "received_at"
	if filter.SortBy != "" {
		allowedSorts := map[string]bool{
			"received_at":  true,
			"processed_at": true,
			"subject":      true,
			"sender":       true,
		}
		if allowedSorts[filter.SortBy] {
			sortBy = filter.SortBy
		}
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, message_id %s", sortBy, direction, direction)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeErr("find messages", err)
	}

	msgs, err := toModels(rows)
	if err != nil {
		return nil, storeErr("find messages", err)
	}
	return msgs, nil
}

// Count returns the number of messages matching the filter. Sorting and
// pagination fields are ignored.
func (s *SQLiteStore) Count(ctx context.Context, filter MessageFilter) (int, error) {
	where, args := filterClause(filter)

	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM emails"+where, args...); err != nil {
		return 0, storeErr("count messages", err)
	}
	return n, nil
}

// Search returns messages whose subject, body, preview or sender contain
// query, case-insensitively, newest first.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]model.StoredMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	pattern := likePattern(query)
	columns := []string{"subject", "body", "body_text", "body_preview", "sender", "sender_name"}
	conditions := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns)+1)
	for _, c := range columns {
		conditions = append(conditions, c+` LIKE ? ESCAPE '\'`)
		args = append(args, pattern)
	}
	args = append(args, limit)

	q := "SELECT " + emailColumns + " FROM emails WHERE " +
		strings.Join(conditions, " OR ") +
		" ORDER BY received_at DESC, message_id DESC LIMIT ?"

	var rows []emailRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, storeErr("search messages", err)
	}

	msgs, err := toModels(rows)
	if err != nil {
		return nil, storeErr("search messages", err)
	}
	return msgs, nil
}

// filterClause builds the WHERE clause shared by Find and Count.
func filterClause(f MessageFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if f.UnreadOnly {
		conditions = append(conditions, "is_read = 0")
	}
	if f.HasAttachments != nil {
		conditions = append(conditions, "has_attachments = ?")
		args = append(args, boolToInt(*f.HasAttachments))
	}
	if f.Sender != nil && *f.Sender != "" {
		conditions = append(conditions, `sender LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(*f.Sender))
	}
	if f.ReceivedFrom != nil {
		conditions = append(conditions, "received_at >= ?")
		args = append(args, f.ReceivedFrom.UTC())
	}
	if f.ReceivedTo != nil {
		conditions = append(conditions, "received_at <= ?")
		args = append(args, f.ReceivedTo.UTC())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", fmt.Errorf("marshaling address list: %w", err)
	}
	return string(data), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
