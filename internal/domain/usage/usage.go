// Package usage defines encoder usage accounting and budget state.
package usage

// Period is the aggregation granularity.
type Period string

// Aggregation period constants.
const (
	PeriodDay   Period = "day"
	PeriodTotal Period = "total"
)

// Metrics aggregates encoder provider consumption.
type Metrics struct {
	textCalls   int
	imageCalls  int
	totalTokens int
	cacheHits   int
	cacheMisses int
}

// NewMetrics creates a usage metrics snapshot.
func NewMetrics(textCalls, imageCalls, totalTokens, cacheHits, cacheMisses int) Metrics {
	return Metrics{
		textCalls:   textCalls,
		imageCalls:  imageCalls,
		totalTokens: totalTokens,
		cacheHits:   cacheHits,
		cacheMisses: cacheMisses,
	}
}

// TextCalls returns the number of text encode calls.
func (m Metrics) TextCalls() int { return m.textCalls }

// ImageCalls returns the number of image encode calls.
func (m Metrics) ImageCalls() int { return m.imageCalls }

// TotalTokens returns the provider-reported token total.
func (m Metrics) TotalTokens() int { return m.totalTokens }

// CacheHits returns the embedding cache hit count.
func (m Metrics) CacheHits() int { return m.cacheHits }

// CacheMisses returns the embedding cache miss count.
func (m Metrics) CacheMisses() int { return m.cacheMisses }

// Report is an encoder usage report for a time period.
type Report struct {
	period      Period
	periodStart int64
	periodEnd   int64
	metrics     Metrics
	budget      Budget
}

// NewReport creates a usage report.
func NewReport(period Period, start, end int64, m Metrics, b Budget) Report {
	return Report{
		period:      period,
		periodStart: start,
		periodEnd:   end,
		metrics:     m,
		budget:      b,
	}
}

// Period returns the aggregation granularity.
func (r *Report) Period() Period { return r.period }

// PeriodStart returns the period start timestamp (unix millis).
func (r *Report) PeriodStart() int64 { return r.periodStart }

// PeriodEnd returns the period end timestamp (unix millis).
func (r *Report) PeriodEnd() int64 { return r.periodEnd }

// Metrics returns the usage metrics.
func (r *Report) Metrics() Metrics { return r.metrics }

// Budget returns the budget status.
func (r *Report) Budget() Budget { return r.budget }
