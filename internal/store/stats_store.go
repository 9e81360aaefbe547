package store

import (
	"context"
	"fmt"

	"github.com/nhle/mailgateway/internal/model"
)

const (
	topSendersLimit = 5
	perDayLimit     = 7
)

// Stats aggregates totals, the most frequent senders, and message counts
// for the most recent days that have mail (newest first).
func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{
		TopSenders: []model.SenderCount{},
		PerDay:     []model.DayCount{},
	}

	err := s.db.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_read = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(has_attachments), 0)
		FROM emails`,
	).Scan(&stats.Total, &stats.Unread, &stats.WithAttachments)
	if err != nil {
		return nil, storeErr("stats", fmt.Errorf("counting messages: %w", err))
	}

	err = s.db.SelectContext(ctx, &stats.TopSenders, `
		SELECT sender, COUNT(*) AS count
		FROM emails
		GROUP BY sender
		ORDER BY count DESC, sender ASC
		LIMIT ?`, topSendersLimit,
	)
	if err != nil {
		return nil, storeErr("stats", fmt.Errorf("top senders: %w", err))
	}

	// received_at is stored as "YYYY-MM-DD HH:MM:SS..." in UTC.
	err = s.db.SelectContext(ctx, &stats.PerDay, `
		SELECT substr(received_at, 1, 10) AS day, COUNT(*) AS count
		FROM emails
		GROUP BY day
		ORDER BY day DESC
		LIMIT ?`, perDayLimit,
	)
	if err != nil {
		return nil, storeErr("stats", fmt.Errorf("per-day counts: %w", err))
	}

	return stats, nil
}
