package sync

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/k3a/html2text"
	"github.com/rs/zerolog"

	"github.com/nhle/mailgateway/internal/lock"
	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/source"
	"github.com/nhle/mailgateway/internal/store"
)

// ErrBusy is returned by TryRun when another run holds the sync lock.
var ErrBusy = errors.New("sync already running")

const (
	// shortPreviewLen is the preview length, in characters, under which an
	// unread message gets its full body fetched.
	shortPreviewLen = 50

	// recordTimeout bounds the write of a run's history entry.
	recordTimeout = 5 * time.Second
)

// Settings controls a Pipeline.
type Settings struct {
	PageSize            int
	RetrieveBody        bool
	RetrieveAttachments bool

	// PageDelay is waited before following each next-page cursor.
	PageDelay time.Duration

	// MaxPages and MaxRunTime stop the page-follow loop early. Zero means
	// no bound.
	MaxPages   int
	MaxRunTime time.Duration
}

// SettingsFromConfig maps configuration onto pipeline settings.
func SettingsFromConfig(c model.SyncConfig) Settings {
	return Settings{
		PageSize:            c.BatchSize,
		RetrieveBody:        c.RetrieveBody,
		RetrieveAttachments: c.RetrieveAttachments,
		PageDelay:           c.PageDelay(),
		MaxPages:            c.MaxPages,
		MaxRunTime:          c.MaxRunDuration(),
	}
}

// RunResult summarizes one ingestion run.
type RunResult struct {
	RunID string

	// Processed holds the messages newly inserted by this run, in arrival
	// order.
	Processed []model.StoredMessage

	// Updated counts existing messages whose read flag changed.
	Updated int

	// Skipped counts messages dropped because of malformed fields or store
	// failures.
	Skipped int

	// Pages is the number of listing pages fetched.
	Pages int
}

// Summaries returns the listing entries of the newly inserted messages.
func (r *RunResult) Summaries() []model.MessageSummary {
	out := make([]model.MessageSummary, 0, len(r.Processed))
	for _, m := range r.Processed {
		out = append(out, m.MessageSummary)
	}
	return out
}

// Pipeline pulls recent mail from a source into the store. All runs are
// serialized through its Locker.
type Pipeline struct {
	src      source.Source
	store    store.Store
	locker   lock.Locker
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPipeline creates a Pipeline. A nil locker defaults to a process-local
// lock.
func NewPipeline(
	src source.Source,
	st store.Store,
	locker lock.Locker,
	settings Settings,
	logger zerolog.Logger,
) *Pipeline {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if settings.PageSize < 1 {
		settings.PageSize = 50
	}
	return &Pipeline{
		src:      src,
		store:    st,
		locker:   locker,
		settings: settings,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Run waits for the sync lock and then ingests messages received within
// lookback. It fails only when the first listing page cannot be fetched.
func (p *Pipeline) Run(
	ctx context.Context,
	trigger model.SyncTrigger,
	lookback time.Duration,
) (*RunResult, error) {
	if err := p.locker.Lock(ctx); err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	defer p.unlock()

	return p.run(ctx, trigger, lookback)
}

// TryRun is Run without waiting: it returns ErrBusy if a run is already in
// progress.
func (p *Pipeline) TryRun(
	ctx context.Context,
	trigger model.SyncTrigger,
	lookback time.Duration,
) (*RunResult, error) {
	ok, err := p.locker.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	defer p.unlock()

	return p.run(ctx, trigger, lookback)
}

func (p *Pipeline) unlock() {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := p.locker.Unlock(ctx); err != nil {
		p.logger.Error().Err(err).Msg("releasing sync lock")
	}
}

func (p *Pipeline) run(
	ctx context.Context,
	trigger model.SyncTrigger,
	lookback time.Duration,
) (*RunResult, error) {
	started := p.now()
	result := &RunResult{RunID: uuid.NewString()}
	log := p.logger.With().
		Str("run_id", result.RunID).
		Str("trigger", string(trigger)).
		Logger()

	since := started.Add(-lookback)
	log.Info().Time("since", since).Msg("sync started")

	err := p.ingest(ctx, log, started, since, result)
	p.record(trigger, started, result, err)

	if err != nil {
		log.Error().Err(err).Msg("sync failed")
		return nil, err
	}

	log.Info().
		Int("processed", len(result.Processed)).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("pages", result.Pages).
		Dur("duration", p.now().Sub(started)).
		Msg("sync finished")

	return result, nil
}

// ingest fetches the first page, failing the run if that fails, then
// follows cursors until the provider stops returning them or a bound is
// reached. Follow-up failures end the loop but keep what was processed.
func (p *Pipeline) ingest(
	ctx context.Context,
	log zerolog.Logger,
	started time.Time,
	since time.Time,
	result *RunResult,
) error {
	page, err := p.src.ListMessages(ctx, since, p.settings.PageSize)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}
	result.Pages = 1
	p.processPage(ctx, log, page, result)

	for page.HasMore() {
		if p.settings.MaxPages > 0 && result.Pages >= p.settings.MaxPages {
			log.Warn().Int("max_pages", p.settings.MaxPages).Msg("page limit reached, not following further")
			break
		}
		if p.settings.MaxRunTime > 0 && p.now().Sub(started) >= p.settings.MaxRunTime {
			log.Warn().Dur("max_run_time", p.settings.MaxRunTime).Msg("run time limit reached, not following further")
			break
		}
		if err := p.sleep(ctx, p.settings.PageDelay); err != nil {
			log.Warn().Err(err).Msg("sync interrupted between pages")
			break
		}

		next, err := p.src.NextPage(ctx, page.NextLink)
		if err != nil {
			log.Error().Err(err).Int("page", result.Pages+1).Msg("failed to fetch next page")
			break
		}
		result.Pages++
		page = next
		p.processPage(ctx, log, page, result)
	}

	return nil
}

func (p *Pipeline) processPage(
	ctx context.Context,
	log zerolog.Logger,
	page *source.Page,
	result *RunResult,
) {
	result.Skipped += page.Malformed
	for _, summary := range page.Messages {
		p.processMessage(ctx, log, summary, result)
	}
}

// processMessage inserts a first-seen message, enriched per the fetch
// policies, or syncs the read flag of a known one. Failures are logged and
// counted as skipped.
func (p *Pipeline) processMessage(
	ctx context.Context,
	log zerolog.Logger,
	summary model.MessageSummary,
	result *RunResult,
) {
	log = log.With().Str("message_id", summary.MessageID).Logger()

	existing, err := p.store.GetByMessageID(ctx, summary.MessageID)
	switch {
	case err == nil:
		if existing.IsRead == summary.IsRead {
			return
		}
		changed, err := p.store.UpdateReadStatus(ctx, summary.MessageID, summary.IsRead)
		if err != nil {
			log.Error().Err(err).Msg("updating read status")
			result.Skipped++
			return
		}
		if changed {
			log.Debug().Bool("is_read", summary.IsRead).Msg("read status updated")
			result.Updated++
		}
		return

	case !errors.Is(err, store.ErrNotFound):
		log.Error().Err(err).Msg("looking up message")
		result.Skipped++
		return
	}

	msg := model.StoredMessage{
		MessageSummary: summary,
		ProcessedAt:    p.now().UTC(),
	}

	if p.ShouldFetchBody(summary) {
		detail, err := p.src.GetDetail(ctx, summary.MessageID)
		if err != nil {
			log.Warn().Err(err).Msg("body unavailable, storing without it")
		} else {
			body, bodyType := detail.Body, detail.BodyType
			msg.Body = &body
			msg.BodyType = &bodyType
			msg.BodyText = plainText(body, bodyType)
		}
	}

	if p.ShouldFetchAttachments(summary) {
		infos, err := p.src.GetAttachments(ctx, summary.MessageID)
		if err != nil {
			log.Warn().Err(err).Msg("attachment info unavailable, storing without it")
		} else {
			msg.Attachments = infos
		}
	}

	inserted, err := p.store.InsertMessage(ctx, msg)
	if err != nil {
		log.Error().Err(err).Msg("storing message")
		result.Skipped++
		return
	}
	if !inserted {
		log.Debug().Msg("message stored concurrently, skipping")
		return
	}

	log.Info().
		Str("subject", summary.Subject).
		Str("sender", summary.Sender).
		Msg("stored new message")
	result.Processed = append(result.Processed, msg)
}

// ShouldFetchBody reports whether the full body is worth a request:
// high-importance mail always, and unread mail whose preview is too short
// to be useful.
func (p *Pipeline) ShouldFetchBody(s model.MessageSummary) bool {
	if !p.settings.RetrieveBody {
		return false
	}
	if s.Importance == model.ImportanceHigh {
		return true
	}
	return !s.IsRead && utf8.RuneCountInString(s.BodyPreview) < shortPreviewLen
}

// ShouldFetchAttachments reports whether attachment metadata is requested.
func (p *Pipeline) ShouldFetchAttachments(s model.MessageSummary) bool {
	return s.HasAttachments && p.settings.RetrieveAttachments
}

// record persists the run outcome. It uses its own context so that a
// cancelled run is still recorded.
func (p *Pipeline) record(
	trigger model.SyncTrigger,
	started time.Time,
	result *RunResult,
	runErr error,
) {
	run := model.SyncRun{
		ID:         result.RunID,
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: p.now(),
		Processed:  len(result.Processed),
		Updated:    result.Updated,
		Skipped:    result.Skipped,
		Pages:      result.Pages,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := p.store.RecordSyncRun(ctx, run); err != nil {
		p.logger.Error().Err(err).Str("run_id", run.ID).Msg("recording sync run")
	}
}

func plainText(body string, bodyType string) string {
	if bodyType == model.BodyTypeHTML {
		return html2text.HTML2Text(body)
	}
	return body
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
