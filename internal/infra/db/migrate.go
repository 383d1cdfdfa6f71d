package db

import (
	"database/sql"
	_ "embed"
)

//go:embed seeds/sources.sql
var seedSourcesSQL string

// MigrateUp creates the catalog schema: sources (the Registry's persisted
// catalog), source_stats (append-only health history), categories (the
// taxonomy list sources/news are grouped under), and proxy_configs (the
// Proxy Manager's metadata store).
func MigrateUp(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sources (
    source_id               TEXT PRIMARY KEY,
    name                    TEXT NOT NULL,
    description             TEXT,
    type                    VARCHAR(20) NOT NULL DEFAULT 'RSS',
    category                TEXT,
    country                 TEXT,
    language                TEXT,
    update_interval_seconds INTEGER NOT NULL DEFAULT 600,
    cache_ttl_seconds       INTEGER NOT NULL DEFAULT 300,
    status                  VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
    config                  JSONB,
    needs_proxy             BOOLEAN NOT NULL DEFAULT FALSE,
    proxy_group             TEXT,
    last_updated            TIMESTAMPTZ,
    last_error              TEXT,
    news_count              INTEGER NOT NULL DEFAULT 0,
    CHECK (update_interval_seconds >= cache_ttl_seconds)
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS source_stats (
    id                  SERIAL PRIMARY KEY,
    source_id           TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
    api_type            VARCHAR(20) NOT NULL DEFAULT 'internal',
    total_requests      BIGINT NOT NULL DEFAULT 0,
    success_count       BIGINT NOT NULL DEFAULT 0,
    error_count         BIGINT NOT NULL DEFAULT 0,
    total_response_time_ms BIGINT NOT NULL DEFAULT 0,
    news_count          BIGINT NOT NULL DEFAULT 0,
    last_error          TEXT,
    flushed_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS categories (
    name         TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    sort_order   INTEGER NOT NULL DEFAULT 0
)`); err != nil {
		return err
	}

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS proxy_configs (
    id                SERIAL PRIMARY KEY,
    name              TEXT NOT NULL,
    protocol          VARCHAR(10) NOT NULL DEFAULT 'http',
    host              TEXT NOT NULL,
    port              INTEGER NOT NULL,
    username          TEXT,
    password          TEXT,
    proxy_group       TEXT NOT NULL DEFAULT 'default',
    status            VARCHAR(20) NOT NULL DEFAULT 'ACTIVE',
    priority          INTEGER NOT NULL DEFAULT 0,
    avg_response_time_ms BIGINT NOT NULL DEFAULT 0,
    last_check_time   TIMESTAMPTZ,
    last_error        TEXT
)`); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sources_status ON sources(status) WHERE status = 'ACTIVE'`,
		`CREATE INDEX IF NOT EXISTS idx_sources_category ON sources(category)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_country ON sources(country)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_language ON sources(language)`,
		`CREATE INDEX IF NOT EXISTS idx_source_stats_source_id ON source_stats(source_id, flushed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_proxy_configs_group ON proxy_configs(proxy_group) WHERE status = 'ACTIVE'`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	// pg_trgm speeds up the Registry's ILIKE-based name/description search;
	// tolerate its absence (no superuser privilege, extension not packaged).
	_, _ = db.Exec(`CREATE EXTENSION IF NOT EXISTS pg_trgm`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sources_name_gin ON sources USING gin(name gin_trgm_ops)`)

	if _, err := db.Exec(seedSourcesSQL); err != nil {
		return err
	}

	return nil
}

// MigrateDown rolls back the catalog schema. Use with caution: this
// deletes all source stats history and proxy configuration.
func MigrateDown(db *sql.DB) error {
	dropStatements := []string{
		`DROP TABLE IF EXISTS source_stats CASCADE`,
		`DROP TABLE IF EXISTS proxy_configs CASCADE`,
		`DROP TABLE IF EXISTS categories CASCADE`,
		`DROP TABLE IF EXISTS sources CASCADE`,
	}

	for _, stmt := range dropStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
