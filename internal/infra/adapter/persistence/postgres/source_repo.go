package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/repository"
)

type SourceRepo struct{ db dbExecutor }

func NewSourceRepo(db dbExecutor) repository.SourceRepository {
	return &SourceRepo{db: db}
}

const sourceColumns = `source_id, name, description, type, category, country, language,
       update_interval_seconds, cache_ttl_seconds, status, config, needs_proxy,
       proxy_group, last_updated, last_error, news_count`

func scanSource(row interface{ Scan(...any) error }) (*entity.Source, error) {
	var s entity.Source
	var configJSON []byte
	if err := row.Scan(
		&s.SourceID, &s.Name, &s.Description, &s.Type, &s.Category, &s.Country, &s.Language,
		&s.UpdateIntervalSeconds, &s.CacheTTLSeconds, &s.Status, &configJSON, &s.NeedsProxy,
		&s.ProxyGroup, &s.LastUpdated, &s.LastError, &s.NewsCount,
	); err != nil {
		return nil, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &s.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return &s, nil
}

func (repo *SourceRepo) queryMany(ctx context.Context, query string, args ...any) ([]*entity.Source, error) {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	sources := make([]*entity.Source, 0, 50)
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func (repo *SourceRepo) Get(ctx context.Context, sourceID string) (*entity.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE source_id = $1`
	s, err := scanSource(repo.db.QueryRowContext(ctx, query, sourceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return s, nil
}

func (repo *SourceRepo) List(ctx context.Context) ([]*entity.Source, error) {
	sources, err := repo.queryMany(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY source_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return sources, nil
}

func (repo *SourceRepo) ListActive(ctx context.Context) ([]*entity.Source, error) {
	sources, err := repo.queryMany(ctx, `SELECT `+sourceColumns+` FROM sources WHERE status = $1 ORDER BY source_id ASC`, entity.SourceStatusActive)
	if err != nil {
		return nil, fmt.Errorf("ListActive: %w", err)
	}
	return sources, nil
}

func (repo *SourceRepo) ByCategory(ctx context.Context, category string) ([]*entity.Source, error) {
	sources, err := repo.queryMany(ctx, `SELECT `+sourceColumns+` FROM sources WHERE category = $1 ORDER BY source_id ASC`, category)
	if err != nil {
		return nil, fmt.Errorf("ByCategory: %w", err)
	}
	return sources, nil
}

func (repo *SourceRepo) ByCountry(ctx context.Context, country string) ([]*entity.Source, error) {
	sources, err := repo.queryMany(ctx, `SELECT `+sourceColumns+` FROM sources WHERE country = $1 ORDER BY source_id ASC`, country)
	if err != nil {
		return nil, fmt.Errorf("ByCountry: %w", err)
	}
	return sources, nil
}

func (repo *SourceRepo) ByLanguage(ctx context.Context, language string) ([]*entity.Source, error) {
	sources, err := repo.queryMany(ctx, `SELECT `+sourceColumns+` FROM sources WHERE language = $1 ORDER BY source_id ASC`, language)
	if err != nil {
		return nil, fmt.Errorf("ByLanguage: %w", err)
	}
	return sources, nil
}

func (repo *SourceRepo) Search(ctx context.Context, keyword string) ([]*entity.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE name ILIKE $1 OR description ILIKE $1 ORDER BY source_id ASC`
	sources, err := repo.queryMany(ctx, query, "%"+keyword+"%")
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	return sources, nil
}

func (repo *SourceRepo) Create(ctx context.Context, s *entity.Source) error {
	configJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("Create: marshal config: %w", err)
	}

	const query = `
INSERT INTO sources (source_id, name, description, type, category, country, language,
                      update_interval_seconds, cache_ttl_seconds, status, config, needs_proxy, proxy_group)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = repo.db.ExecContext(ctx, query,
		s.SourceID, s.Name, s.Description, s.Type, s.Category, s.Country, s.Language,
		s.UpdateIntervalSeconds, s.CacheTTLSeconds, s.Status, configJSON, s.NeedsProxy, s.ProxyGroup,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *SourceRepo) Update(ctx context.Context, s *entity.Source) error {
	configJSON, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("Update: marshal config: %w", err)
	}

	const query = `
UPDATE sources SET
       name = $1, description = $2, type = $3, category = $4, country = $5, language = $6,
       update_interval_seconds = $7, cache_ttl_seconds = $8, status = $9, config = $10,
       needs_proxy = $11, proxy_group = $12
WHERE source_id = $13`
	res, err := repo.db.ExecContext(ctx, query,
		s.Name, s.Description, s.Type, s.Category, s.Country, s.Language,
		s.UpdateIntervalSeconds, s.CacheTTLSeconds, s.Status, configJSON,
		s.NeedsProxy, s.ProxyGroup, s.SourceID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Update: no rows affected")
	}
	return nil
}

func (repo *SourceRepo) Delete(ctx context.Context, sourceID string) error {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM sources WHERE source_id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("Delete: no rows affected")
	}
	return nil
}

func (repo *SourceRepo) TouchStatus(ctx context.Context, sourceID string, status entity.SourceStatus, lastError string, newsCount int) error {
	const query = `
UPDATE sources SET status = $1, last_error = $2, news_count = $3, last_updated = $4
WHERE source_id = $5`
	_, err := repo.db.ExecContext(ctx, query, status, lastError, newsCount, time.Now(), sourceID)
	return err
}
