package usage

// BudgetReader provides read-only access to token budget state.
type BudgetReader interface {
	DailyLimit() int64
	MonthlyLimit() int64
	DailyUsed() int64
	MonthlyUsed() int64
	RemainingDaily() int64
	RemainingMonthly() int64
}

// CallReader provides lifetime encoder call counters.
type CallReader interface {
	TextCalls() int64
	ImageCalls() int64
	TotalTokens() int64
}

// CacheReader provides lifetime embedding cache counters.
type CacheReader interface {
	CacheHits() int64
	CacheMisses() int64
}
