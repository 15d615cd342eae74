package ledger

import (
	"context"
	"fmt"
	"time"

	"crosswatch/internal/storage"
)

// Stats summarises closed trades within a window.
type Stats struct {
	Total      int64
	Wins       int64
	Losses     int64
	Expired    int64
	WinratePct float64
}

// Stats counts closed trades by reason within [from, to). Zero times widen
// the window to all history. Winrate is wins/(wins+losses), zero when both
// are zero; expired trades do not count against it.
func (l *Ledger) Stats(ctx context.Context, from, to time.Time) (Stats, error) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Second)
	}

	counts, err := l.store.CountCloseReasons(ctx, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	stats := Stats{
		Wins:    counts[storage.CloseTP],
		Losses:  counts[storage.CloseSL],
		Expired: counts[storage.CloseExpired],
	}
	stats.Total = stats.Wins + stats.Losses + stats.Expired
	if decided := stats.Wins + stats.Losses; decided > 0 {
		stats.WinratePct = float64(stats.Wins) / float64(decided) * 100.0
	}
	return stats, nil
}
