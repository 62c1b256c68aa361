package continuity

import (
	"go.uber.org/atomic"

	"Fabelwerk/server/internal/logger"
)

// Metrics counts merge outcomes across all series
type Metrics struct {
	merges           atomic.Int64
	threadRegression atomic.Int64
	shrinkSuppressed atomic.Int64
	factsRestored    atomic.Int64
	charsRestored    atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	Merges             int64 `json:"merges"`
	ThreadRegressions  int64 `json:"thread_regressions"`
	ShrinkSuppressed   int64 `json:"shrink_suppressed"`
	FactsRestored      int64 `json:"facts_restored"`
	CharactersRestored int64 `json:"characters_restored"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Merges:             m.merges.Load(),
		ThreadRegressions:  m.threadRegression.Load(),
		ShrinkSuppressed:   m.shrinkSuppressed.Load(),
		FactsRestored:      m.factsRestored.Load(),
		CharactersRestored: m.charsRestored.Load(),
	}
}

func (m *Metrics) record(report Report) {
	m.merges.Inc()
	m.factsRestored.Add(int64(report.RestoredFacts))
	m.charsRestored.Add(int64(len(report.RestoredCharacters)))
	if report.ShrinkSuppressed {
		m.shrinkSuppressed.Inc()
	}
	for _, w := range report.Warnings {
		if w.Kind == WarningThreadRegression {
			m.threadRegression.Inc()
		}
	}
}

// Reconciler runs Merge and makes its warnings observable
type Reconciler struct {
	log     *logger.Logger
	metrics *Metrics
}

func NewReconciler(log *logger.Logger, metrics *Metrics) *Reconciler {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Reconciler{
		log:     logger.OrNop(log).With("component", "continuity"),
		metrics: metrics,
	}
}

func (r *Reconciler) Metrics() *Metrics { return r.metrics }

// Reconcile merges and logs. The returned state is always complete.
func (r *Reconciler) Reconcile(seriesID string, prev, next *State, episode int, mode Mode) (*State, Report) {
	merged, report := Merge(prev, next, episode, mode)
	r.metrics.record(report)

	log := r.log.With("series_id", seriesID, "episode", episode, "mode", string(mode))
	if next == nil && prev != nil {
		log.Warn("generator returned no continuity state, keeping previous")
	}
	for _, w := range report.Warnings {
		switch w.Kind {
		case WarningThreadRegression:
			log.Warn("possible continuity regression",
				"previous_threads", len(prev.OpenThreads),
				"next_threads", len(next.OpenThreads),
				"dropped", w.Items,
			)
		default:
			log.Info(w.Message, "kind", string(w.Kind), "items", w.Items)
		}
	}
	if report.ShrinkSuppressed {
		log.Debug("open threads resolved in final episode", "resolved", len(report.ResolvedThreads))
	}
	if report.RestoredFacts > 0 || len(report.RestoredCharacters) > 0 {
		log.Debug("restored omitted continuity",
			"facts", report.RestoredFacts,
			"characters", report.RestoredCharacters,
		)
	}
	return merged, report
}
