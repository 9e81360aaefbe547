package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/source"
	"github.com/nhle/mailgateway/internal/store"
	"github.com/nhle/mailgateway/internal/testutil"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestPipeline(t *testing.T, src source.Source, settings Settings) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	st := testutil.NewTestStore(t)
	p := NewPipeline(src, st, nil, settings, zerolog.Nop())
	p.now = func() time.Time { return now }
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p, st
}

func defaultSettings() Settings {
	return Settings{
		PageSize:            50,
		RetrieveBody:        true,
		RetrieveAttachments: true,
		PageDelay:           time.Second,
		MaxPages:            100,
		MaxRunTime:          30 * time.Minute,
	}
}

// summaries builds n read messages with ids prefix-0..prefix-(n-1).
func summaries(prefix string, n int) []model.MessageSummary {
	out := make([]model.MessageSummary, 0, n)
	for i := 0; i < n; i++ {
		s := testutil.Summary(fmt.Sprintf("%s-%d", prefix, i), now.Add(-time.Duration(i)*time.Minute))
		s.IsRead = true
		out = append(out, s)
	}
	return out
}

func TestShouldFetchBody(t *testing.T) {
	tests := []struct {
		name       string
		retrieve   bool
		importance string
		isRead     bool
		preview    string
		want       bool
	}{
		{"high importance unread long preview", true, model.ImportanceHigh, false, strings.Repeat("x", 80), true},
		{"normal read long preview", true, model.ImportanceNormal, true, strings.Repeat("x", 80), false},
		{"normal unread short preview", true, model.ImportanceNormal, false, strings.Repeat("x", 10), true},
		{"normal read short preview", true, model.ImportanceNormal, true, "hi", false},
		{"high importance read", true, model.ImportanceHigh, true, strings.Repeat("x", 80), true},
		{"unread preview of exactly 50", true, model.ImportanceNormal, false, strings.Repeat("x", 50), false},
		{"unread preview of 49", true, model.ImportanceNormal, false, strings.Repeat("x", 49), true},
		{"multibyte preview counts characters", true, model.ImportanceNormal, false, strings.Repeat("é", 40), true},
		{"retrieval disabled", false, model.ImportanceHigh, false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultSettings()
			s.RetrieveBody = tt.retrieve
			p := NewPipeline(newFakeSource(), nil, nil, s, zerolog.Nop())

			got := p.ShouldFetchBody(model.MessageSummary{
				Importance:  tt.importance,
				IsRead:      tt.isRead,
				BodyPreview: tt.preview,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShouldFetchAttachments(t *testing.T) {
	s := defaultSettings()
	p := NewPipeline(newFakeSource(), nil, nil, s, zerolog.Nop())
	assert.True(t, p.ShouldFetchAttachments(model.MessageSummary{HasAttachments: true}))
	assert.False(t, p.ShouldFetchAttachments(model.MessageSummary{HasAttachments: false}))

	s.RetrieveAttachments = false
	p = NewPipeline(newFakeSource(), nil, nil, s, zerolog.Nop())
	assert.False(t, p.ShouldFetchAttachments(model.MessageSummary{HasAttachments: true}))
}

func TestRunIngestsTwoPages(t *testing.T) {
	src := newFakeSource()
	src.pages[""] = &source.Page{Messages: summaries("a", 50), NextLink: "page-2"}
	src.pages["page-2"] = &source.Page{Messages: summaries("b", 12)}

	p, st := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	result, err := p.Run(ctx, model.TriggerManual, 24*time.Hour)
	require.NoError(t, err)

	assert.Len(t, result.Processed, 62)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, now.Add(-24*time.Hour), src.since)

	n, err := st.Count(ctx, store.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 62, n)

	seen := map[string]bool{}
	for _, m := range result.Processed {
		seen[m.MessageID] = true
	}
	assert.Len(t, seen, 62)
}

func TestRunFollowsCursorsInOrder(t *testing.T) {
	src := newFakeSource()
	src.pages[""] = &source.Page{Messages: summaries("a", 3), NextLink: "cursor-b"}
	src.pages["cursor-b"] = &source.Page{Messages: summaries("b", 3), NextLink: "cursor-c"}
	src.pages["cursor-c"] = &source.Page{Messages: summaries("c", 3)}

	p, _ := newTestPipeline(t, src, defaultSettings())
	var delays []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	result, err := p.Run(context.Background(), model.TriggerManual, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "cursor-b", "cursor-c"}, src.calls())
	assert.Len(t, result.Processed, 9)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, delays)

	// Arrival order is preserved.
	assert.Equal(t, "a-0", result.Processed[0].MessageID)
	assert.Equal(t, "c-2", result.Processed[8].MessageID)
}

func TestRunIsIdempotent(t *testing.T) {
	src := newFakeSource()
	src.pages[""] = &source.Page{Messages: summaries("a", 5)}

	p, st := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	first, err := p.Run(ctx, model.TriggerScheduled, 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, first.Processed, 5)

	second, err := p.Run(ctx, model.TriggerScheduled, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, second.Processed)

	src.pages[""] = &source.Page{Messages: append(summaries("a", 5), summaries("new", 1)...)}
	third, err := p.Run(ctx, model.TriggerScheduled, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, third.Processed, 1)
	assert.Equal(t, "new-0", third.Processed[0].MessageID)

	n, err := st.Count(ctx, store.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestRunUpdatesReadFlagOnly(t *testing.T) {
	src := newFakeSource()
	msg := testutil.Summary("m1", now)
	msg.IsRead = false
	src.pages[""] = &source.Page{Messages: []model.MessageSummary{msg}}

	p, st := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	_, err := p.Run(ctx, model.TriggerScheduled, time.Hour)
	require.NoError(t, err)

	changed := msg
	changed.IsRead = true
	changed.Subject = "edited upstream"
	src.pages[""] = &source.Page{Messages: []model.MessageSummary{changed}}

	result, err := p.Run(ctx, model.TriggerScheduled, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, result.Processed)
	assert.Equal(t, 1, result.Updated)

	got, err := st.GetByMessageID(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	assert.NotNil(t, got.UpdatedAt)
	assert.Equal(t, msg.Subject, got.Subject)

	// Unchanged flag: nothing to update.
	result, err = p.Run(ctx, model.TriggerScheduled, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, result.Updated)
}

func TestRunEnrichesPerPolicy(t *testing.T) {
	src := newFakeSource()

	urgent := testutil.Summary("urgent", now)
	urgent.Importance = model.ImportanceHigh
	urgent.IsRead = true
	urgent.HasAttachments = true

	plain := testutil.Summary("plain", now)
	plain.IsRead = true

	terse := testutil.Summary("terse", now)
	terse.BodyPreview = "ok"

	src.pages[""] = &source.Page{Messages: []model.MessageSummary{urgent, plain, terse}}
	src.details["urgent"] = &model.MessageDetail{
		Body:     "<p>Server <b>down</b></p>",
		BodyType: model.BodyTypeHTML,
	}
	src.attachments["urgent"] = []model.AttachmentInfo{{ID: "a1", Name: "log.txt", Size: 12}}

	p, st := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	_, err := p.Run(ctx, model.TriggerManual, time.Hour)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"urgent", "terse"}, src.detailRequests())
	assert.Equal(t, []string{"urgent"}, src.attachmentRequests())

	got, err := st.GetByMessageID(ctx, "urgent")
	require.NoError(t, err)
	require.NotNil(t, got.Body)
	assert.Equal(t, model.BodyTypeHTML, *got.BodyType)
	assert.Contains(t, got.BodyText, "Server")
	assert.NotContains(t, got.BodyText, "<b>")
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "log.txt", got.Attachments[0].Name)

	got, err = st.GetByMessageID(ctx, "plain")
	require.NoError(t, err)
	assert.Nil(t, got.Body)
}

func TestRunSkipsEnrichmentForStoredMessages(t *testing.T) {
	src := newFakeSource()

	// Every policy would fetch body and attachments for this message.
	urgent := testutil.Summary("urgent", now)
	urgent.Importance = model.ImportanceHigh
	urgent.BodyPreview = "ok"
	urgent.HasAttachments = true
	src.pages[""] = &source.Page{Messages: []model.MessageSummary{urgent}}
	src.attachments["urgent"] = []model.AttachmentInfo{{ID: "a1", Name: "log.txt"}}

	p, st := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	inserted, err := st.InsertMessage(ctx, model.StoredMessage{
		MessageSummary: urgent,
		ProcessedAt:    now.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, inserted)

	result, err := p.Run(ctx, model.TriggerScheduled, time.Hour)
	require.NoError(t, err)

	assert.Empty(t, result.Processed)
	assert.Zero(t, result.Updated)
	assert.Empty(t, src.detailRequests())
	assert.Empty(t, src.attachmentRequests())

	got, err := st.GetByMessageID(ctx, "urgent")
	require.NoError(t, err)
	assert.Nil(t, got.Body)
	assert.Empty(t, got.Attachments)
}

func TestRunStoresMessageWhenDetailFails(t *testing.T) {
	src := newFakeSource()
	msg := testutil.Summary("m1", now)
	msg.Importance = model.ImportanceHigh
	src.pages[""] = &source.Page{Messages: []model.MessageSummary{msg}}
	src.detailErr = &source.RemoteAPIError{Op: "get message detail", Status: 404, Body: "gone"}

	p, st := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	result, err := p.Run(ctx, model.TriggerManual, time.Hour)
	require.NoError(t, err)
	assert.Len(t, result.Processed, 1)

	got, err := st.GetByMessageID(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, got.Body)
}

func TestRunCountsMalformedAsSkipped(t *testing.T) {
	src := newFakeSource()
	src.pages[""] = &source.Page{Messages: summaries("a", 2), Malformed: 3}

	p, _ := newTestPipeline(t, src, defaultSettings())

	result, err := p.Run(context.Background(), model.TriggerManual, time.Hour)
	require.NoError(t, err)
	assert.Len(t, result.Processed, 2)
	assert.Equal(t, 3, result.Skipped)
}

func TestRunFailsWhenFirstPageFails(t *testing.T) {
	src := newFakeSource()
	src.listErr = &source.RemoteAPIError{Op: "list messages", Status: 503, Body: "down"}

	p, st := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	result, err := p.Run(ctx, model.TriggerScheduled, time.Hour)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 503, source.StatusCode(err))

	runs, err := st.RecentSyncRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error, "503")
}

func TestRunKeepsResultsWhenFollowFails(t *testing.T) {
	src := newFakeSource()
	src.pages[""] = &source.Page{Messages: summaries("a", 4), NextLink: "page-2"}
	src.nextErr["page-2"] = &source.RemoteAPIError{Op: "list next page", Status: 401}

	p, st := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	result, err := p.Run(ctx, model.TriggerScheduled, time.Hour)
	require.NoError(t, err)
	assert.Len(t, result.Processed, 4)
	assert.Equal(t, 1, result.Pages)

	runs, err := st.RecentSyncRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Succeeded())
	assert.Equal(t, 4, runs[0].Processed)
}

func TestRunStopsAtPageLimit(t *testing.T) {
	src := newFakeSource()
	src.pages[""] = &source.Page{Messages: summaries("p0", 1), NextLink: "p1"}
	for i := 1; i < 10; i++ {
		src.pages[fmt.Sprintf("p%d", i)] = &source.Page{
			Messages: summaries(fmt.Sprintf("p%d", i), 1),
			NextLink: fmt.Sprintf("p%d", i+1),
		}
	}

	settings := defaultSettings()
	settings.MaxPages = 3
	p, _ := newTestPipeline(t, src, settings)

	result, err := p.Run(context.Background(), model.TriggerManual, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pages)
	assert.Len(t, result.Processed, 3)
}

func TestRunStopsAtTimeLimit(t *testing.T) {
	src := newFakeSource()
	src.pages[""] = &source.Page{Messages: summaries("p0", 1), NextLink: "p1"}
	src.pages["p1"] = &source.Page{Messages: summaries("p1", 1), NextLink: "p2"}
	src.pages["p2"] = &source.Page{Messages: summaries("p2", 1)}

	settings := defaultSettings()
	settings.MaxRunTime = time.Minute
	p, _ := newTestPipeline(t, src, settings)

	clock := now
	p.now = func() time.Time { return clock }
	p.sleep = func(context.Context, time.Duration) error {
		clock = clock.Add(61 * time.Second)
		return nil
	}

	result, err := p.Run(context.Background(), model.TriggerManual, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pages)
}

func TestTryRunReportsBusy(t *testing.T) {
	src := newFakeSource()
	src.entered = make(chan struct{})
	src.release = make(chan struct{})

	p, _ := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, model.TriggerManual, time.Hour)
		done <- err
	}()
	<-src.entered

	_, err := p.TryRun(ctx, model.TriggerScheduled, time.Hour)
	assert.True(t, errors.Is(err, ErrBusy))

	close(src.release)
	require.NoError(t, <-done)

	src.entered = nil
	_, err = p.TryRun(ctx, model.TriggerScheduled, time.Hour)
	assert.NoError(t, err)
}

func TestRunWaitsForLock(t *testing.T) {
	src := newFakeSource()
	src.entered = make(chan struct{})
	src.release = make(chan struct{})

	p, _ := newTestPipeline(t, src, defaultSettings())
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, model.TriggerManual, time.Hour)
		first <- err
	}()
	<-src.entered

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := p.Run(shortCtx, model.TriggerManual, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(src.release)
	require.NoError(t, <-first)
}
