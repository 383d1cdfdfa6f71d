package postgres_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/infra/adapter/persistence/postgres"
)

func TestStatsRepo_AppendFlush(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := postgres.NewStatsRepo(db)
	s := &entity.SourceStats{
		SourceID: "demo_rss", APIType: entity.APITypeInternal,
		TotalRequests: 5, SuccessCount: 4, ErrorCount: 1,
		TotalResponseTime: 500 * time.Millisecond, NewsCount: 12, LastError: "boom",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO source_stats")).
		WithArgs(s.SourceID, s.APIType, s.TotalRequests, s.SuccessCount, s.ErrorCount,
			int64(500), s.NewsCount, s.LastError, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.AppendFlush(context.Background(), s, time.Now()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsRepo_LatestBySource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := postgres.NewStatsRepo(db)
	rows := sqlmock.NewRows([]string{
		"source_id", "api_type", "total_requests", "success_count", "error_count",
		"total_response_time_ms", "news_count", "last_error",
	}).AddRow("demo_rss", entity.APITypeInternal, int64(10), int64(9), int64(1), int64(1000), int64(30), "")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (api_type)")).
		WithArgs("demo_rss").
		WillReturnRows(rows)

	out, err := repo.LatestBySource(context.Background(), "demo_rss")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(9), out[0].SuccessCount)
	assert.Equal(t, 100*time.Millisecond, out[0].LastResponseTime)
	require.NoError(t, mock.ExpectationsWereMet())
}
