package signal

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Recorder aggregates per-scan admission outcomes. Safe for concurrent use
// by the per-symbol workers.
type Recorder struct {
	logger  zerolog.Logger
	verbose bool

	mu         sync.Mutex
	scanID     string
	admitted   int
	counts     map[Reason]int
	rejections []Rejection
}

// NewRecorder constructs a recorder for one scan. With verbose set, every
// rejection is traced individually at debug level.
func NewRecorder(scanID string, verbose bool, logger zerolog.Logger) *Recorder {
	return &Recorder{
		logger:  logger.With().Str("component", "recorder").Str("scan_id", scanID).Logger(),
		verbose: verbose,
		scanID:  scanID,
		counts:  make(map[Reason]int),
	}
}

// Record tallies one outcome.
func (r *Recorder) Record(outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if outcome.Signal != nil {
		r.admitted++
		return
	}
	if outcome.Rejection == nil {
		return
	}

	rej := *outcome.Rejection
	r.counts[rej.Reason]++
	r.rejections = append(r.rejections, rej)

	if r.verbose {
		event := r.logger.Debug().Str("symbol", rej.Symbol).Str("reason", string(rej.Reason))
		for k, v := range rej.Details {
			event = event.Float64(k, v)
		}
		event.Msg("candidate rejected")
	}
}

// Rejections returns the accumulated rejection records for persistence.
func (r *Recorder) Rejections() []Rejection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Rejection, len(r.rejections))
	copy(out, r.rejections)
	return out
}

// Summary logs the aggregate counts, reasons ranked by how many candidates
// each filter eliminated.
func (r *Recorder) Summary() {
	r.mu.Lock()
	defer r.mu.Unlock()

	type reasonCount struct {
		reason Reason
		count  int
	}
	ranked := make([]reasonCount, 0, len(r.counts))
	for reason, count := range r.counts {
		ranked = append(ranked, reasonCount{reason, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count == ranked[j].count {
			return ranked[i].reason < ranked[j].reason
		}
		return ranked[i].count > ranked[j].count
	})

	event := r.logger.Info().Int("admitted", r.admitted).Int("rejected", len(r.rejections))
	for _, rc := range ranked {
		event = event.Int("reject_"+string(rc.reason), rc.count)
	}
	event.Msg("scan summary")
}
