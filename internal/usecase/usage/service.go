// Package usage assembles encoder usage reports from the budget tracker
// and the decorator counters.
package usage

import (
	"context"
	"time"

	domusage "github.com/deepfield-io/zoomdex/internal/domain/usage"
)

// Service handles usage reporting.
type Service struct {
	br    BudgetReader
	calls CallReader
	cache CacheReader
}

// New creates a Service. Any reader can be nil; missing readers report
// zeros (unlimited budget, no counters).
func New(br BudgetReader, calls CallReader, cache CacheReader) *Service {
	return &Service{br: br, calls: calls, cache: cache}
}

// Report builds a usage report for the given period. Call and cache
// counters are process-lifetime values; only the budget axis is periodic.
func (s *Service) Report(_ context.Context, period domusage.Period) domusage.Report {
	now := time.Now().UTC()
	var start, end int64
	var limit, remaining int64

	switch period {
	case domusage.PeriodDay:
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		dayEnd := dayStart.Add(24 * time.Hour)
		start = dayStart.UnixMilli()
		end = dayEnd.UnixMilli()
		if s.br != nil {
			limit = s.br.DailyLimit()
			remaining = s.br.RemainingDaily()
		}
	default:
		// total: no period boundaries, budget from the monthly axis
		if s.br != nil {
			limit = s.br.MonthlyLimit()
			remaining = s.br.RemainingMonthly()
		}
	}

	exhausted := limit > 0 && remaining <= 0

	var textCalls, imageCalls, tokens int64
	if s.calls != nil {
		textCalls = s.calls.TextCalls()
		imageCalls = s.calls.ImageCalls()
		tokens = s.calls.TotalTokens()
	}
	var hits, misses int64
	if s.cache != nil {
		hits = s.cache.CacheHits()
		misses = s.cache.CacheMisses()
	}

	b := domusage.NewBudget(int(limit), int(remaining), exhausted, end)
	m := domusage.NewMetrics(int(textCalls), int(imageCalls), int(tokens), int(hits), int(misses))

	return domusage.NewReport(period, start, end, m, b)
}
