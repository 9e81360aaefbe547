package graph

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/source"
)

// selectFields are the message fields requested in inbox listings.
var selectFields = []string{
	"id", "subject", "bodyPreview", "from", "toRecipients", "ccRecipients",
	"receivedDateTime", "hasAttachments", "importance", "isRead",
}

// Options tunes Adapter behavior beyond the connection settings.
type Options struct {
	// MaxRetries bounds retries on HTTP 429 for listing calls. Send and
	// the single-message reads never retry a 429.
	MaxRetries int

	// RetryAuthOnPages makes NextPage refresh and retry once on 401, like
	// the first page does.
	RetryAuthOnPages bool
}

// Adapter implements source.Source for a single Graph mailbox.
type Adapter struct {
	client           *Client
	mailbox          string
	retryAuthOnPages bool
	logger           zerolog.Logger
	now              func() time.Time
}

// NewAdapter creates a Graph source adapter for the configured mailbox.
func NewAdapter(
	cfg model.GraphConfig,
	tokens TokenSource,
	opts Options,
	logger zerolog.Logger,
) *Adapter {
	logger = logger.With().Str("component", "graph").Logger()
	return &Adapter{
		client:           NewClient(cfg.BaseURL(), tokens, opts.MaxRetries, logger),
		mailbox:          cfg.Mailbox,
		retryAuthOnPages: opts.RetryAuthOnPages,
		logger:           logger,
		now:              time.Now,
	}
}

// userPath returns the path of the configured mailbox plus suffix.
func (a *Adapter) userPath(suffix string) string {
	return "/users/" + url.PathEscape(a.mailbox) + suffix
}

// TestConnection verifies credentials by reading the mailbox's user
// resource. Returns the display name on success.
func (a *Adapter) TestConnection(ctx context.Context) (string, error) {
	resp, err := a.client.do(ctx, http.MethodGet, a.userPath(""), nil, authOnce)
	if err != nil {
		return "", fmt.Errorf("testing Graph connection: %w", err)
	}
	if resp.status != http.StatusOK {
		return "", &source.RemoteAPIError{
			Op: "connection test", Status: resp.status, Body: string(resp.body),
		}
	}

	var u User
	if err := decode(resp, &u); err != nil {
		return "", err
	}
	if u.DisplayName == "" {
		return a.mailbox, nil
	}
	return u.DisplayName, nil
}

// Send submits a message through sendMail. Only 202 Accepted counts as
// success; the provider queues delivery asynchronously.
func (a *Adapter) Send(ctx context.Context, msg model.OutgoingMessage) error {
	req := SendMailRequest{
		Message: OutgoingMessage{
			Subject:       msg.Subject,
			Body:          ItemBody{ContentType: "HTML", Content: msg.Body},
			ToRecipients:  toRecipients(msg.To),
			CcRecipients:  toRecipients(msg.CC),
			BccRecipients: toRecipients(msg.BCC),
		},
		SaveToSentItems: true,
	}
	for _, att := range msg.Attachments {
		req.Message.Attachments = append(req.Message.Attachments, Attachment{
			ODataType:    fileAttachmentType,
			Name:         att.Name,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	a.logger.Info().
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Msg("sending email")

	resp, err := a.client.do(ctx, http.MethodPost, a.userPath("/sendMail"), req, authOnce)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if resp.status != http.StatusAccepted {
		apiErr := &source.RemoteAPIError{
			Op: "send email", Status: resp.status, Body: string(resp.body),
		}
		a.logger.Error().Err(apiErr).Msg("send rejected")
		return apiErr
	}

	a.logger.Info().Strs("to", msg.To).Msg("email accepted for delivery")
	return nil
}

// ListMessages fetches the first inbox page of messages received at or
// after since, newest first. A 401 is retried once with a fresh token.
func (a *Adapter) ListMessages(
	ctx context.Context,
	since time.Time,
	pageSize int,
) (*source.Page, error) {
	if pageSize < 1 {
		pageSize = 50
	}

	q := url.Values{}
	q.Set("$filter", "receivedDateTime ge "+since.UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$top", strconv.Itoa(pageSize))
	q.Set("$select", strings.Join(selectFields, ","))

	path := a.userPath("/mailFolders/inbox/messages") + "?" + q.Encode()

	a.logger.Info().
		Time("since", since).
		Str("mailbox", a.mailbox).
		Msg("listing messages")

	return a.fetchPage(ctx, "list messages", path, listingRetry)
}

// NextPage follows an @odata.nextLink cursor. It does not retry on 401
// unless the adapter was built with RetryAuthOnPages.
func (a *Adapter) NextPage(ctx context.Context, cursor string) (*source.Page, error) {
	return a.fetchPage(ctx, "list next page", cursor, retryPolicy{
		auth:     a.retryAuthOnPages,
		throttle: true,
	})
}

func (a *Adapter) fetchPage(
	ctx context.Context,
	op string,
	path string,
	policy retryPolicy,
) (*source.Page, error) {
	resp, err := a.client.do(ctx, http.MethodGet, path, nil, policy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.status != http.StatusOK {
		return nil, &source.RemoteAPIError{
			Op: op, Status: resp.status, Body: string(resp.body),
		}
	}

	var list MessageList
	if err := decode(resp, &list); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	page := &source.Page{
		Messages: make([]model.MessageSummary, 0, len(list.Value)),
		NextLink: list.NextLink,
	}
	for _, m := range list.Value {
		summary, err := a.mapSummary(m)
		if err != nil {
			a.logger.Error().
				Err(err).
				Str("message_id", m.ID).
				Msg("skipping malformed message")
			page.Malformed++
			continue
		}
		page.Messages = append(page.Messages, summary)
	}

	return page, nil
}

// GetDetail fetches the full body of a message.
func (a *Adapter) GetDetail(ctx context.Context, messageID string) (*model.MessageDetail, error) {
	path := a.userPath("/messages/"+url.PathEscape(messageID)) + "?$select=body"
	resp, err := a.get(ctx, "get message detail", path)
	if err != nil {
		return nil, err
	}

	var m Message
	if err := decode(resp, &m); err != nil {
		return nil, err
	}
	if m.Body == nil {
		return &model.MessageDetail{BodyType: model.BodyTypeText}, nil
	}
	return &model.MessageDetail{
		Body:     m.Body.Content,
		BodyType: normalizeBodyType(m.Body.ContentType),
	}, nil
}

// GetAttachments lists attachment metadata for a message.
func (a *Adapter) GetAttachments(ctx context.Context, messageID string) ([]model.AttachmentInfo, error) {
	path := a.userPath("/messages/"+url.PathEscape(messageID)+"/attachments") +
		"?$select=id,name,contentType,size,isInline"
	resp, err := a.get(ctx, "get attachments", path)
	if err != nil {
		return nil, err
	}

	var list AttachmentList
	if err := decode(resp, &list); err != nil {
		return nil, err
	}

	infos := make([]model.AttachmentInfo, 0, len(list.Value))
	for _, att := range list.Value {
		infos = append(infos, toAttachmentInfo(att))
	}
	return infos, nil
}

// GetAttachmentContent downloads a single attachment.
func (a *Adapter) GetAttachmentContent(
	ctx context.Context,
	messageID string,
	attachmentID string,
) (*model.AttachmentContent, error) {
	path := a.userPath(
		"/messages/" + url.PathEscape(messageID) +
			"/attachments/" + url.PathEscape(attachmentID),
	)
	resp, err := a.get(ctx, "get attachment content", path)
	if err != nil {
		return nil, err
	}

	var att Attachment
	if err := decode(resp, &att); err != nil {
		return nil, err
	}

	content, err := base64.StdEncoding.DecodeString(att.ContentBytes)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment %s: %w", attachmentID, err)
	}

	return &model.AttachmentContent{
		AttachmentInfo: toAttachmentInfo(att),
		Content:        content,
	}, nil
}

// get performs a single-shot GET that must return 200. Failures are logged
// here so callers can treat them as "absent" without losing the diagnostic.
func (a *Adapter) get(ctx context.Context, op string, path string) (*response, error) {
	resp, err := a.client.do(ctx, http.MethodGet, path, nil, singleShot)
	if err != nil {
		a.logger.Error().Err(err).Str("op", op).Msg("request failed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.status != http.StatusOK {
		apiErr := &source.RemoteAPIError{Op: op, Status: resp.status, Body: string(resp.body)}
		a.logger.Error().Err(apiErr).Str("op", op).Msg("unexpected status")
		return nil, apiErr
	}
	return resp, nil
}

// mapSummary converts a wire message into a MessageSummary. A missing
// receivedDateTime falls back to now; an unparsable one is an error.
func (a *Adapter) mapSummary(m Message) (model.MessageSummary, error) {
	if m.ID == "" {
		return model.MessageSummary{}, fmt.Errorf("message without id")
	}

	receivedAt := a.now().UTC()
	if m.ReceivedDateTime != "" {
		t, err := time.Parse(time.RFC3339, m.ReceivedDateTime)
		if err != nil {
			return model.MessageSummary{}, fmt.Errorf(
				"parsing receivedDateTime %q: %w", m.ReceivedDateTime, err,
			)
		}
		receivedAt = t.UTC()
	}

	importance := strings.ToLower(m.Importance)
	if importance == "" {
		importance = model.ImportanceNormal
	}

	s := model.MessageSummary{
		MessageID:      m.ID,
		Subject:        m.Subject,
		BodyPreview:    m.BodyPreview,
		Recipients:     addresses(m.ToRecipients),
		CCRecipients:   addresses(m.CcRecipients),
		ReceivedAt:     receivedAt,
		HasAttachments: m.HasAttachments,
		Importance:     importance,
		IsRead:         m.IsRead,
	}
	if m.From != nil {
		s.Sender = m.From.EmailAddress.Address
		s.SenderName = m.From.EmailAddress.Name
	}
	return s, nil
}

func toRecipients(addrs []string) []Recipient {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]Recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, Recipient{EmailAddress: EmailAddress{Address: addr}})
	}
	return out
}

func addresses(rs []Recipient) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.EmailAddress.Address)
	}
	return out
}

func toAttachmentInfo(att Attachment) model.AttachmentInfo {
	return model.AttachmentInfo{
		ID:          att.ID,
		Name:        att.Name,
		ContentType: att.ContentType,
		Size:        att.Size,
		IsInline:    att.IsInline,
	}
}

func normalizeBodyType(contentType string) string {
	if strings.EqualFold(contentType, "html") {
		return model.BodyTypeHTML
	}
	return model.BodyTypeText
}

// Ensure Adapter satisfies source.Source.
var _ source.Source = (*Adapter)(nil)
