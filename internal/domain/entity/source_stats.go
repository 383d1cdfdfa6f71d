package entity

import "time"

// APIType distinguishes stats recorded by the internal scheduler loop from
// stats recorded on behalf of an external HTTP caller (scheduler-originated
// calls are "internal", handler-originated ones are
// "external").
type APIType string

const (
	APITypeInternal APIType = "internal"
	APITypeExternal APIType = "external"
)

// SourceStats is the in-memory accumulator for one (source_id, api_type)
// pair. It is created lazily on first use and reset after each successful
// flush to the metadata store; a failed flush leaves it intact so the next
// accumulation merges with it rather than losing the delta.
type SourceStats struct {
	SourceID           string
	APIType            APIType
	TotalRequests      int64
	SuccessCount       int64
	ErrorCount         int64
	TotalResponseTime  time.Duration
	LastResponseTime   time.Duration
	NewsCount          int64
	LastError          string
}

// SuccessRate returns the derived success rate, or 0 when there have been no
// requests yet.
func (s *SourceStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalRequests)
}

// AvgResponseTime returns the derived average response time across all
// recorded requests.
func (s *SourceStats) AvgResponseTime() time.Duration {
	if s.TotalRequests == 0 {
		return 0
	}
	return s.TotalResponseTime / time.Duration(s.TotalRequests)
}

// RecordSuccess folds a successful fetch outcome into the accumulator.
func (s *SourceStats) RecordSuccess(elapsed time.Duration, newsCount int) {
	s.TotalRequests++
	s.SuccessCount++
	s.TotalResponseTime += elapsed
	s.LastResponseTime = elapsed
	s.NewsCount += int64(newsCount)
}

// RecordError folds a failed fetch outcome into the accumulator.
func (s *SourceStats) RecordError(elapsed time.Duration, errMsg string) {
	s.TotalRequests++
	s.ErrorCount++
	s.TotalResponseTime += elapsed
	s.LastResponseTime = elapsed
	s.LastError = errMsg
}

// Reset clears accumulated counters after a successful flush, keeping the
// identity fields.
func (s *SourceStats) Reset() {
	s.TotalRequests = 0
	s.SuccessCount = 0
	s.ErrorCount = 0
	s.TotalResponseTime = 0
	s.LastResponseTime = 0
	s.NewsCount = 0
	s.LastError = ""
}

// Merge folds another accumulator's counters into this one, used when a
// flush attempt fails and the next cycle's deltas must combine with the
// unflushed ones instead of overwriting them.
func (s *SourceStats) Merge(other *SourceStats) {
	s.TotalRequests += other.TotalRequests
	s.SuccessCount += other.SuccessCount
	s.ErrorCount += other.ErrorCount
	s.TotalResponseTime += other.TotalResponseTime
	if other.LastResponseTime != 0 {
		s.LastResponseTime = other.LastResponseTime
	}
	s.NewsCount += other.NewsCount
	if other.LastError != "" {
		s.LastError = other.LastError
	}
}
