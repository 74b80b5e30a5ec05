package usage

import (
	"context"
	"testing"
	"time"

	domusage "github.com/deepfield-io/zoomdex/internal/domain/usage"
)

// --- Mocks ---

type mockBudgetReader struct {
	dailyLimit       int64
	monthlyLimit     int64
	dailyUsed        int64
	monthlyUsed      int64
	remainingDaily   int64
	remainingMonthly int64
}

func (m *mockBudgetReader) DailyLimit() int64       { return m.dailyLimit }
func (m *mockBudgetReader) MonthlyLimit() int64     { return m.monthlyLimit }
func (m *mockBudgetReader) DailyUsed() int64        { return m.dailyUsed }
func (m *mockBudgetReader) MonthlyUsed() int64      { return m.monthlyUsed }
func (m *mockBudgetReader) RemainingDaily() int64   { return m.remainingDaily }
func (m *mockBudgetReader) RemainingMonthly() int64 { return m.remainingMonthly }

type mockCallReader struct {
	text, image, tokens int64
}

func (m *mockCallReader) TextCalls() int64   { return m.text }
func (m *mockCallReader) ImageCalls() int64  { return m.image }
func (m *mockCallReader) TotalTokens() int64 { return m.tokens }

type mockCacheReader struct {
	hits, misses int64
}

func (m *mockCacheReader) CacheHits() int64   { return m.hits }
func (m *mockCacheReader) CacheMisses() int64 { return m.misses }

// --- Tests ---

func TestReport_DailyPeriod(t *testing.T) {
	br := &mockBudgetReader{
		dailyLimit:       10000,
		dailyUsed:        3000,
		remainingDaily:   7000,
		monthlyLimit:     100000,
		monthlyUsed:      50000,
		remainingMonthly: 50000,
	}
	svc := New(br, nil, nil)
	r := svc.Report(context.Background(), domusage.PeriodDay)

	if r.Period() != domusage.PeriodDay {
		t.Errorf("expected period %q, got %q", domusage.PeriodDay, r.Period())
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if r.PeriodStart() != dayStart.UnixMilli() {
		t.Errorf("expected period start %d, got %d", dayStart.UnixMilli(), r.PeriodStart())
	}

	dayEnd := dayStart.Add(24 * time.Hour)
	if r.PeriodEnd() != dayEnd.UnixMilli() {
		t.Errorf("expected period end %d, got %d", dayEnd.UnixMilli(), r.PeriodEnd())
	}

	if r.Budget().TokensLimit() != 10000 {
		t.Errorf("expected limit 10000, got %d", r.Budget().TokensLimit())
	}
	if r.Budget().TokensRemaining() != 7000 {
		t.Errorf("expected remaining 7000, got %d", r.Budget().TokensRemaining())
	}
	if r.Budget().IsExhausted() {
		t.Error("budget should not be exhausted")
	}
	if r.Budget().ResetsAt() != dayEnd.UnixMilli() {
		t.Errorf("expected resets_at %d, got %d", dayEnd.UnixMilli(), r.Budget().ResetsAt())
	}
}

func TestReport_TotalPeriod(t *testing.T) {
	br := &mockBudgetReader{
		monthlyLimit:     100000,
		monthlyUsed:      80000,
		remainingMonthly: 20000,
	}
	svc := New(br, nil, nil)
	r := svc.Report(context.Background(), domusage.PeriodTotal)

	if r.Period() != domusage.PeriodTotal {
		t.Errorf("expected period %q, got %q", domusage.PeriodTotal, r.Period())
	}

	// total period has no boundaries
	if r.PeriodStart() != 0 {
		t.Errorf("expected period start 0 for total, got %d", r.PeriodStart())
	}
	if r.PeriodEnd() != 0 {
		t.Errorf("expected period end 0 for total, got %d", r.PeriodEnd())
	}

	if r.Budget().TokensLimit() != 100000 {
		t.Errorf("expected limit 100000, got %d", r.Budget().TokensLimit())
	}
}

func TestReport_CountersIncluded(t *testing.T) {
	svc := New(nil,
		&mockCallReader{text: 12, image: 340, tokens: 9900},
		&mockCacheReader{hits: 7, misses: 5},
	)
	r := svc.Report(context.Background(), domusage.PeriodDay)

	m := r.Metrics()
	if m.TextCalls() != 12 || m.ImageCalls() != 340 {
		t.Errorf("calls = %d/%d, want 12/340", m.TextCalls(), m.ImageCalls())
	}
	if m.TotalTokens() != 9900 {
		t.Errorf("tokens = %d, want 9900", m.TotalTokens())
	}
	if m.CacheHits() != 7 || m.CacheMisses() != 5 {
		t.Errorf("cache = %d/%d, want 7/5", m.CacheHits(), m.CacheMisses())
	}
}

func TestReport_NilReaders(t *testing.T) {
	svc := New(nil, nil, nil)
	r := svc.Report(context.Background(), domusage.PeriodDay)

	if r.Budget().TokensLimit() != 0 {
		t.Errorf("expected limit 0, got %d", r.Budget().TokensLimit())
	}
	if r.Budget().TokensRemaining() != 0 {
		t.Errorf("expected remaining 0, got %d", r.Budget().TokensRemaining())
	}
	if r.Budget().IsExhausted() {
		t.Error("nil budget reader should not be exhausted")
	}
	if r.Metrics().TextCalls() != 0 {
		t.Errorf("expected zero counters, got %d", r.Metrics().TextCalls())
	}
}

func TestReport_Exhausted(t *testing.T) {
	br := &mockBudgetReader{
		dailyLimit:     5000,
		dailyUsed:      5000,
		remainingDaily: 0,
	}
	svc := New(br, nil, nil)
	r := svc.Report(context.Background(), domusage.PeriodDay)

	if !r.Budget().IsExhausted() {
		t.Error("budget should be exhausted when remaining is 0")
	}
}
