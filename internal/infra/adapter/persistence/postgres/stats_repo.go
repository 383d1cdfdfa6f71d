package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/repository"
)

// StatsRepo persists the Stats Collector's flushed accumulators as an
// append-only history in source_stats.
type StatsRepo struct{ db dbExecutor }

func NewStatsRepo(db dbExecutor) repository.StatsRepository {
	return &StatsRepo{db: db}
}

func (repo *StatsRepo) AppendFlush(ctx context.Context, s *entity.SourceStats, flushedAt time.Time) error {
	const query = `
INSERT INTO source_stats (source_id, api_type, total_requests, success_count, error_count,
                           total_response_time_ms, news_count, last_error, flushed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := repo.db.ExecContext(ctx, query,
		s.SourceID, s.APIType, s.TotalRequests, s.SuccessCount, s.ErrorCount,
		s.TotalResponseTime.Milliseconds(), s.NewsCount, s.LastError, flushedAt,
	)
	if err != nil {
		return fmt.Errorf("AppendFlush: %w", err)
	}
	return nil
}

func (repo *StatsRepo) LatestBySource(ctx context.Context, sourceID string) ([]*entity.SourceStats, error) {
	const query = `
SELECT DISTINCT ON (api_type) source_id, api_type, total_requests, success_count, error_count,
       total_response_time_ms, news_count, last_error
FROM source_stats
WHERE source_id = $1
ORDER BY api_type, flushed_at DESC`

	rows, err := repo.db.QueryContext(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("LatestBySource: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.SourceStats
	for rows.Next() {
		var s entity.SourceStats
		var totalMs int64
		if err := rows.Scan(&s.SourceID, &s.APIType, &s.TotalRequests, &s.SuccessCount, &s.ErrorCount,
			&totalMs, &s.NewsCount, &s.LastError); err != nil {
			return nil, fmt.Errorf("LatestBySource: scan: %w", err)
		}
		s.TotalResponseTime = time.Duration(totalMs) * time.Millisecond
		if s.TotalRequests > 0 {
			s.LastResponseTime = s.TotalResponseTime / time.Duration(s.TotalRequests)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
