package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ContextMetrics tracks health of the context assembly pipeline that builds
// decision and plan context blocks under a token budget.
type ContextMetrics struct {
	tokensBySection prometheus.GaugeVec
	truncations     prometheus.CounterVec
	emptySections   prometheus.CounterVec
	budgetOverflow  prometheus.Counter
	docshotHits     prometheus.Counter
	docshotMisses   prometheus.Counter
	assemblyErrors  prometheus.Counter
}

var (
	defaultContextMetrics     *ContextMetrics
	defaultContextMetricsOnce sync.Once
)

// NewContextMetrics builds a ContextMetrics recorder using the default registry.
func NewContextMetrics() *ContextMetrics {
	defaultContextMetricsOnce.Do(func() {
		defaultContextMetrics = newContextMetrics(prometheus.DefaultRegisterer)
	})
	return defaultContextMetrics
}

// NewContextMetricsWithRegisterer allows tests to provide a dedicated registry.
func NewContextMetricsWithRegisterer(reg prometheus.Registerer) *ContextMetrics {
	return newContextMetrics(reg)
}

func newContextMetrics(reg prometheus.Registerer) *ContextMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &ContextMetrics{
		tokensBySection: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "membria",
			Subsystem: "context",
			Name:      "tokens_by_section",
			Help:      "Approximate tokens per section in the most recent context build",
		}, []string{"section"}),
		truncations: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membria",
			Subsystem: "context",
			Name:      "truncation_total",
			Help:      "Times a section was cut to fit the token budget",
		}, []string{"section"}),
		emptySections: *factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "membria",
			Subsystem: "context",
			Name:      "empty_section_total",
			Help:      "Context builds where a section had no rows to show",
		}, []string{"section"}),
		budgetOverflow: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "membria",
			Subsystem: "context",
			Name:      "budget_overflow_total",
			Help:      "Builds whose raw sections exceeded max_tokens before trimming",
		}),
		docshotHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "membria",
			Subsystem: "context",
			Name:      "docshot_hit_total",
			Help:      "Context builds that resolved a pinned docshot",
		}),
		docshotMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "membria",
			Subsystem: "context",
			Name:      "docshot_miss_total",
			Help:      "Context builds referencing a docshot that no longer resolves",
		}),
		assemblyErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "membria",
			Subsystem: "context",
			Name:      "assembly_error_total",
			Help:      "Backing queries that failed while assembling a context build",
		}),
	}
}

// RecordTokensBySection sets the latest token measurement for a section.
func (m *ContextMetrics) RecordTokensBySection(section string, tokens int) {
	if m == nil {
		return
	}
	m.tokensBySection.WithLabelValues(section).Set(float64(tokens))
}

// RecordTruncation increments the truncation counter for a section.
func (m *ContextMetrics) RecordTruncation(section string) {
	if m == nil {
		return
	}
	m.truncations.WithLabelValues(section).Inc()
}

// RecordEmptySection notes a section that produced no rows.
func (m *ContextMetrics) RecordEmptySection(section string) {
	if m == nil {
		return
	}
	m.emptySections.WithLabelValues(section).Inc()
}

// RecordBudgetOverflow notes a build that needed trimming.
func (m *ContextMetrics) RecordBudgetOverflow() {
	if m == nil || m.budgetOverflow == nil {
		return
	}
	m.budgetOverflow.Inc()
}

// RecordDocShot tracks whether a pinned docshot resolved.
func (m *ContextMetrics) RecordDocShot(hit bool) {
	if m == nil {
		return
	}
	if hit {
		if m.docshotHits != nil {
			m.docshotHits.Inc()
		}
		return
	}
	if m.docshotMisses != nil {
		m.docshotMisses.Inc()
	}
}

// RecordAssemblyError counts a backing query that failed mid-build.
func (m *ContextMetrics) RecordAssemblyError() {
	if m == nil || m.assemblyErrors == nil {
		return
	}
	m.assemblyErrors.Inc()
}
