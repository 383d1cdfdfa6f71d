package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"newsfeed/internal/repository"
)

// ProxyRepo is the proxy_configs catalog store consulted by the Proxy
// Manager on refresh and health-check cycles.
type ProxyRepo struct{ db dbExecutor }

func NewProxyRepo(db dbExecutor) repository.ProxyRepository {
	return &ProxyRepo{db: db}
}

const proxyColumns = `id, name, protocol, host, port, username, password, proxy_group, status,
       priority, avg_response_time_ms, last_check_time, last_error`

func scanProxy(row interface{ Scan(...any) error }) (*repository.ProxyConfig, error) {
	var p repository.ProxyConfig
	var avgMs int64
	var username, password sql.NullString
	if err := row.Scan(
		&p.ID, &p.Name, &p.Protocol, &p.Host, &p.Port, &username, &password, &p.Group, &p.Status,
		&p.Priority, &avgMs, &p.LastCheckTime, &p.LastError,
	); err != nil {
		return nil, err
	}
	p.Username = username.String
	p.Password = password.String
	p.AvgResponseTime = time.Duration(avgMs) * time.Millisecond
	return &p, nil
}

func (repo *ProxyRepo) List(ctx context.Context) ([]*repository.ProxyConfig, error) {
	rows, err := repo.db.QueryContext(ctx, `SELECT `+proxyColumns+` FROM proxy_configs ORDER BY proxy_group, priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*repository.ProxyConfig
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("List: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (repo *ProxyRepo) ByGroup(ctx context.Context, group string) ([]*repository.ProxyConfig, error) {
	query := `SELECT ` + proxyColumns + ` FROM proxy_configs WHERE proxy_group = $1 ORDER BY priority ASC`
	rows, err := repo.db.QueryContext(ctx, query, group)
	if err != nil {
		return nil, fmt.Errorf("ByGroup: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*repository.ProxyConfig
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("ByGroup: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (repo *ProxyRepo) UpdateHealth(ctx context.Context, id int64, status string, avgResponseTime time.Duration, lastError string) error {
	const query = `
UPDATE proxy_configs SET status = $1, avg_response_time_ms = $2, last_check_time = $3, last_error = $4
WHERE id = $5`
	_, err := repo.db.ExecContext(ctx, query, status, avgResponseTime.Milliseconds(), time.Now(), lastError, id)
	if err != nil {
		return fmt.Errorf("UpdateHealth: %w", err)
	}
	return nil
}
