package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/nhle/mailgateway/internal/auth"
	"github.com/nhle/mailgateway/internal/lock"
	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/source"
	"github.com/nhle/mailgateway/internal/source/graph"
	"github.com/nhle/mailgateway/internal/store"
	appsync "github.com/nhle/mailgateway/internal/sync"
)

const (
	defaultListLimit   = 20
	defaultSearchLimit = 20
	defaultHistory     = 20
)

// AttachmentParam is an outgoing attachment with base64-encoded content.
type AttachmentParam struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

// SendParams is the caller-facing form of an outgoing message.
type SendParams struct {
	To          []string          `json:"to"`
	CC          []string          `json:"cc"`
	BCC         []string          `json:"bcc"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments []AttachmentParam `json:"attachments"`
}

// Health reports liveness plus the scheduler's view of recent runs.
type Health struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Store     string                  `json:"store"`
	Scheduler appsync.SchedulerStatus `json:"scheduler"`
}

// Service is the gateway: it owns the remote source, the store, the
// ingestion pipeline and its scheduler.
type Service struct {
	src       source.Source
	store     store.Store
	pipeline  *appsync.Pipeline
	scheduler *appsync.Scheduler
	lookback  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// New wires a Service against the Graph API described by cfg. A nil locker
// uses a process-local lock.
func New(cfg *model.AppConfig, st store.Store, locker lock.Locker, logger zerolog.Logger) *Service {
	tokens := auth.NewProvider(auth.NewClientCredentials(cfg.Graph), logger)
	src := graph.NewAdapter(cfg.Graph, tokens, graph.Options{
		MaxRetries:       cfg.Sync.MaxRetries,
		RetryAuthOnPages: cfg.Sync.RetryAuthOnPages,
	}, logger)
	return NewWithSource(src, st, locker, cfg.Sync, logger)
}

// NewWithSource wires a Service against an arbitrary source.
func NewWithSource(
	src source.Source,
	st store.Store,
	locker lock.Locker,
	cfg model.SyncConfig,
	logger zerolog.Logger,
) *Service {
	pipeline := appsync.NewPipeline(src, st, locker, appsync.SettingsFromConfig(cfg), logger)
	scheduler := appsync.NewScheduler(pipeline, st, appsync.SchedulerConfigFromConfig(cfg), logger)
	return &Service{
		src:       src,
		store:     st,
		pipeline:  pipeline,
		scheduler: scheduler,
		lookback:  cfg.Lookback(),
		logger:    logger.With().Str("component", "gateway").Logger(),
		now:       time.Now,
	}
}

// Start begins scheduled ingestion.
func (s *Service) Start() error {
	return s.scheduler.Start()
}

// Stop halts scheduled ingestion, waiting up to ctx for an in-flight run.
func (s *Service) Stop(ctx context.Context) error {
	return s.scheduler.Stop(ctx)
}

// DefaultLookback is the configured ingestion window.
func (s *Service) DefaultLookback() time.Duration {
	return s.lookback
}

// SendEmail validates params and submits the message.
func (s *Service) SendEmail(ctx context.Context, params SendParams) error {
	msg, err := toOutgoing(params)
	if err != nil {
		return err
	}
	return s.src.Send(ctx, msg)
}

// SyncNow runs the pipeline immediately, waiting for any run in progress,
// and returns the newly stored messages.
func (s *Service) SyncNow(ctx context.Context, lookback time.Duration) ([]model.MessageSummary, error) {
	if lookback <= 0 {
		return nil, &source.ValidationError{Field: "lookback", Message: "must be positive"}
	}
	result, err := s.pipeline.Run(ctx, model.TriggerManual, lookback)
	if err != nil {
		return nil, err
	}
	return result.Summaries(), nil
}

// GetAttachmentContent downloads one attachment straight from the provider.
func (s *Service) GetAttachmentContent(ctx context.Context, messageID, attachmentID string) (*model.AttachmentContent, error) {
	return s.src.GetAttachmentContent(ctx, messageID, attachmentID)
}

// ListMessages returns one page of stored messages.
func (s *Service) ListMessages(ctx context.Context, filter store.MessageFilter) ([]model.StoredMessage, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	return s.store.Find(ctx, filter)
}

// CountMessages counts stored messages matching filter.
func (s *Service) CountMessages(ctx context.Context, filter store.MessageFilter) (int, error) {
	return s.store.Count(ctx, filter)
}

// MessagesSince returns stored messages received at or after since, newest
// first.
func (s *Service) MessagesSince(ctx context.Context, since time.Time, unreadOnly bool) ([]model.StoredMessage, error) {
	return s.store.Find(ctx, store.MessageFilter{
		UnreadOnly:   unreadOnly,
		ReceivedFrom: &since,
		SortBy:       "received_at",
		SortDesc:     true,
	})
}

// SearchMessages runs a case-insensitive text search over stored messages.
func (s *Service) SearchMessages(ctx context.Context, query string, limit int) ([]model.StoredMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &source.ValidationError{Field: "q", Message: "search query is required"}
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return s.store.Search(ctx, query, limit)
}

// GetMessage returns one stored message, or store.ErrNotFound.
func (s *Service) GetMessage(ctx context.Context, messageID string) (*model.StoredMessage, error) {
	return s.store.GetByMessageID(ctx, messageID)
}

// Stats aggregates the stored mailbox.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	return s.store.Stats(ctx)
}

// SyncHistory returns the most recent ingestion runs, newest first.
func (s *Service) SyncHistory(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = defaultHistory
	}
	return s.store.RecentSyncRuns(ctx, limit)
}

// Health reports service liveness. The store is probed with a count.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:    "ok",
		Timestamp: s.now().UTC(),
		Store:     "ok",
		Scheduler: s.scheduler.Status(),
	}
	if _, err := s.store.Count(ctx, store.MessageFilter{}); err != nil {
		s.logger.Error().Err(err).Msg("store health check failed")
		h.Status = "degraded"
		h.Store = err.Error()
	}
	return h
}

// TestConnection checks credentials and mailbox access at the provider.
func (s *Service) TestConnection(ctx context.Context) (string, error) {
	return s.src.TestConnection(ctx)
}

// toOutgoing validates recipients and decodes attachments.
func toOutgoing(p SendParams) (model.OutgoingMessage, error) {
	if len(p.To) == 0 {
		return model.OutgoingMessage{}, &source.ValidationError{Field: "to", Message: "at least one recipient is required"}
	}

	to, err := parseAddresses("to", p.To)
	if err != nil {
		return model.OutgoingMessage{}, err
	}
	cc, err := parseAddresses("cc", p.CC)
	if err != nil {
		return model.OutgoingMessage{}, err
	}
	bcc, err := parseAddresses("bcc", p.BCC)
	if err != nil {
		return model.OutgoingMessage{}, err
	}

	msg := model.OutgoingMessage{
		To:      to,
		CC:      cc,
		BCC:     bcc,
		Subject: p.Subject,
		Body:    p.Body,
	}

	for i, att := range p.Attachments {
		field := fmt.Sprintf("attachments[%d]", i)
		if strings.TrimSpace(att.Name) == "" {
			return model.OutgoingMessage{}, &source.ValidationError{Field: field + ".name", Message: "is required"}
		}
		content, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			return model.OutgoingMessage{}, &source.ValidationError{Field: field + ".content", Message: "invalid base64 content"}
		}
		msg.Attachments = append(msg.Attachments, model.OutgoingAttachment{
			Name:        att.Name,
			ContentType: contentType(att),
			Content:     content,
		})
	}

	return msg, nil
}

// parseAddresses accepts bare or named addresses and returns bare ones.
func parseAddresses(field string, raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		addr, err := mail.ParseAddress(strings.TrimSpace(r))
		if err != nil {
			return nil, &source.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%q is not a valid email address", r),
			}
		}
		out = append(out, addr.Address)
	}
	return out, nil
}

func contentType(att AttachmentParam) string {
	if att.ContentType != "" {
		return att.ContentType
	}
	if ct := mime.TypeByExtension(filepath.Ext(att.Name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// IsNotFound reports whether err means the requested message does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
