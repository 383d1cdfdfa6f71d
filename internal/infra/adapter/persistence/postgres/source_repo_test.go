package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/infra/adapter/persistence/postgres"
)

var sourceColumnNames = []string{
	"source_id", "name", "description", "type", "category", "country", "language",
	"update_interval_seconds", "cache_ttl_seconds", "status", "config", "needs_proxy",
	"proxy_group", "last_updated", "last_error", "news_count",
}

func row(s *entity.Source, configJSON []byte) *sqlmock.Rows {
	return sqlmock.NewRows(sourceColumnNames).AddRow(
		s.SourceID, s.Name, s.Description, s.Type, s.Category, s.Country, s.Language,
		s.UpdateIntervalSeconds, s.CacheTTLSeconds, s.Status, configJSON, s.NeedsProxy,
		s.ProxyGroup, s.LastUpdated, s.LastError, s.NewsCount,
	)
}

func emptyRows() *sqlmock.Rows {
	return sqlmock.NewRows(sourceColumnNames)
}

func demoSource() *entity.Source {
	return &entity.Source{
		SourceID:              "demo_rss",
		Name:                  "Demo RSS",
		Type:                  entity.SourceTypeRSS,
		Category:              "general",
		Country:               "us",
		Language:              "en",
		UpdateIntervalSeconds: 600,
		CacheTTLSeconds:       300,
		Status:                entity.SourceStatusActive,
	}
}

func TestSourceRepo_Get(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	want := demoSource()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT source_id`)).
		WithArgs("demo_rss").
		WillReturnRows(row(want, nil))

	repo := postgres.NewSourceRepo(db)
	got, err := repo.Get(context.Background(), "demo_rss")
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceRepo_Get_NotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT source_id`)).
		WithArgs("missing").
		WillReturnRows(emptyRows())

	repo := postgres.NewSourceRepo(db)
	got, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get should not error for missing row, err=%v", err)
	}
	if got != nil {
		t.Fatalf("Get should return nil for missing row, got=%v", got)
	}
}

func TestSourceRepo_Get_DatabaseError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT source_id`)).
		WithArgs("demo_rss").
		WillReturnError(errors.New("connection lost"))

	repo := postgres.NewSourceRepo(db)
	got, err := repo.Get(context.Background(), "demo_rss")
	if err == nil {
		t.Fatal("Get should return error for database error")
	}
	if got != nil {
		t.Errorf("Get should return nil on error, got=%v", got)
	}
}

func TestSourceRepo_Get_DecodesConfig(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	want := demoSource()
	configJSON := []byte(`{"feed_url":"https://example.com/feed.xml"}`)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT source_id`)).
		WithArgs("demo_rss").
		WillReturnRows(row(want, configJSON))

	repo := postgres.NewSourceRepo(db)
	got, err := repo.Get(context.Background(), "demo_rss")
	if err != nil {
		t.Fatalf("Get err=%v", err)
	}
	if got.Config["feed_url"] != "https://example.com/feed.xml" {
		t.Fatalf("Config not decoded: %#v", got.Config)
	}
}

func TestSourceRepo_List(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM sources`).WillReturnRows(row(demoSource(), nil))

	repo := postgres.NewSourceRepo(db)
	got, err := repo.List(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("List err=%v len=%d", err, len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceRepo_ListActive(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	s2 := demoSource()
	s2.SourceID = "demo_json"
	rows := emptyRows()
	for _, s := range []*entity.Source{demoSource(), s2} {
		rows.AddRow(
			s.SourceID, s.Name, s.Description, s.Type, s.Category, s.Country, s.Language,
			s.UpdateIntervalSeconds, s.CacheTTLSeconds, s.Status, nil, s.NeedsProxy,
			s.ProxyGroup, s.LastUpdated, s.LastError, s.NewsCount,
		)
	}
	mock.ExpectQuery(`FROM sources WHERE status`).WithArgs(entity.SourceStatusActive).WillReturnRows(rows)

	repo := postgres.NewSourceRepo(db)
	sources, err := repo.ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive err=%v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("ListActive expected 2 sources, got %d", len(sources))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceRepo_ByCategory(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM sources WHERE category`).WithArgs("general").WillReturnRows(row(demoSource(), nil))

	repo := postgres.NewSourceRepo(db)
	got, err := repo.ByCategory(context.Background(), "general")
	if err != nil || len(got) != 1 {
		t.Fatalf("ByCategory err=%v len=%d", err, len(got))
	}
}

func TestSourceRepo_Search(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM sources WHERE name`).WithArgs("%go%").WillReturnRows(emptyRows())

	repo := postgres.NewSourceRepo(db)
	if _, err := repo.Search(context.Background(), "go"); err != nil {
		t.Fatalf("Search err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceRepo_Create(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	s := demoSource()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sources`)).
		WithArgs(s.SourceID, s.Name, s.Description, s.Type, s.Category, s.Country, s.Language,
			s.UpdateIntervalSeconds, s.CacheTTLSeconds, s.Status, []byte("null"), s.NeedsProxy, s.ProxyGroup).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := postgres.NewSourceRepo(db)
	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("Create err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceRepo_Create_DatabaseError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	s := demoSource()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sources`)).
		WithArgs(s.SourceID, s.Name, s.Description, s.Type, s.Category, s.Country, s.Language,
			s.UpdateIntervalSeconds, s.CacheTTLSeconds, s.Status, []byte("null"), s.NeedsProxy, s.ProxyGroup).
		WillReturnError(errors.New("unique constraint violation"))

	repo := postgres.NewSourceRepo(db)
	if err := repo.Create(context.Background(), s); err == nil {
		t.Fatal("Create should return error for database error")
	}
}

func TestSourceRepo_Update(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	s := demoSource()
	mock.ExpectExec(`UPDATE sources`).
		WithArgs(s.Name, s.Description, s.Type, s.Category, s.Country, s.Language,
			s.UpdateIntervalSeconds, s.CacheTTLSeconds, s.Status, []byte("null"), s.NeedsProxy, s.ProxyGroup, s.SourceID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := postgres.NewSourceRepo(db)
	if err := repo.Update(context.Background(), s); err != nil {
		t.Fatalf("Update err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceRepo_Update_NoRowsAffected(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	s := demoSource()
	mock.ExpectExec(`UPDATE sources`).
		WithArgs(s.Name, s.Description, s.Type, s.Category, s.Country, s.Language,
			s.UpdateIntervalSeconds, s.CacheTTLSeconds, s.Status, []byte("null"), s.NeedsProxy, s.ProxyGroup, s.SourceID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := postgres.NewSourceRepo(db)
	if err := repo.Update(context.Background(), s); err == nil {
		t.Fatal("Update should fail when no rows affected")
	}
}

func TestSourceRepo_Delete(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`DELETE FROM sources`).WithArgs("demo_rss").WillReturnResult(sqlmock.NewResult(0, 1))

	repo := postgres.NewSourceRepo(db)
	if err := repo.Delete(context.Background(), "demo_rss"); err != nil {
		t.Fatalf("Delete err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceRepo_Delete_NoRowsAffected(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`DELETE FROM sources`).WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := postgres.NewSourceRepo(db)
	if err := repo.Delete(context.Background(), "missing"); err == nil {
		t.Fatal("Delete should fail when no rows affected")
	}
}

func TestSourceRepo_TouchStatus(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`UPDATE sources SET status`).
		WithArgs(entity.SourceStatusError, "boom", 3, sqlmock.AnyArg(), "demo_rss").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := postgres.NewSourceRepo(db)
	err := repo.TouchStatus(context.Background(), "demo_rss", entity.SourceStatusError, "boom", 3)
	if err != nil {
		t.Fatalf("TouchStatus err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSourceRepo_List_ScanError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM sources`).WillReturnRows(
		sqlmock.NewRows(sourceColumnNames).AddRow(
			"demo", "n", "d", "RSS", "c", "co", "l", "not-an-int", 300, "ACTIVE", nil, false, "", nil, "", 0,
		),
	)

	repo := postgres.NewSourceRepo(db)
	got, err := repo.List(context.Background())
	if err == nil {
		t.Fatal("List should return error for scan error")
	}
	if got != nil {
		t.Errorf("List should return nil on error, got=%v", got)
	}
}

func TestSourceRepo_Get_InvalidConfigJSON(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT source_id`)).
		WithArgs("demo_rss").
		WillReturnRows(row(demoSource(), []byte(`{invalid`)))

	repo := postgres.NewSourceRepo(db)
	got, err := repo.Get(context.Background(), "demo_rss")
	if err == nil {
		t.Fatal("Get should return error for invalid config JSON")
	}
	if got != nil {
		t.Errorf("Get should return nil on JSON unmarshal error, got=%v", got)
	}
}

var _ = time.Now
