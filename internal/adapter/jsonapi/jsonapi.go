// Package jsonapi fetches a source's JSON endpoint and extracts items by a
// configured dot-path plus field mapping.
package jsonapi

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"newsfeed/internal/adapter"
	"newsfeed/internal/domain/entity"
	"newsfeed/internal/httptransport"
	"newsfeed/internal/resilience/circuitbreaker"
	"newsfeed/internal/resilience/retry"
)

// limiter bounds this family's outbound request rate across every source
// using jsonapi, independent of the scheduler's worker pool.
var limiter = adapter.NewFamilyLimiter()

// Config is the typed configuration decoded from entity.Source.Config for
// SourceTypeAPI entries.
type Config struct {
	Endpoint     string   `json:"endpoint" validate:"required,url"`
	BackupURLs   []string `json:"backup_urls" validate:"omitempty,dive,url"`
	ItemsPath    string   `json:"items_path"`
	IDField      string   `json:"id_field"`
	TitleField   string   `json:"title_field" validate:"required"`
	URLField     string   `json:"url_field" validate:"required"`
	DateField    string   `json:"date_field"`
	DateFormat   string   `json:"date_format"`
	ImageField   string   `json:"image_field"`
	SummaryField string   `json:"summary_field"`
	ContentField string   `json:"content_field"`
	UseCache     bool     `json:"use_cache"`
}

// New builds an adapter.Base whose FetchFunc requests the configured
// endpoint, navigates to items_path, and maps each element's fields per cfg.
func New(source *entity.Source, client *http.Client, store adapter.Store, log *slog.Logger) (*adapter.Base, error) {
	var cfg Config
	if err := source.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("jsonapi: %w", err)
	}
	if err := adapter.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("jsonapi: source %s: %w", source.SourceID, err)
	}

	f := &fetcher{
		source: source,
		cfg:    cfg,
		urls:   append([]string{cfg.Endpoint}, cfg.BackupURLs...),
		client: client,
		cb:     circuitbreaker.New(circuitbreaker.JSONAPIConfig()),
		retry:  retry.JSONAPIConfig(),
		log:    log,
	}
	return adapter.New(source, store, f.fetch, log), nil
}

type fetcher struct {
	source *entity.Source
	cfg    Config
	urls   []string
	client *http.Client
	cb     *circuitbreaker.CircuitBreaker
	retry  retry.Config
	log    *slog.Logger
}

func (f *fetcher) fetch(ctx context.Context) ([]entity.NewsItem, error) {
	if f.cfg.UseCache {
		ctx = httptransport.WithCache(ctx)
	}

	var lastErr error
	for i, url := range f.urls {
		items, err := f.fetchOne(ctx, url)
		if err == nil {
			if i > 0 {
				tagSourceFrom(items, url)
			}
			return items, nil
		}
		lastErr = err
		f.log.Warn("jsonapi: endpoint failed, trying next",
			slog.String("source_id", f.source.SourceID), slog.String("url", url), slog.Any("error", err))
	}
	return nil, lastErr
}

// tagSourceFrom records the backup endpoint host each item was actually
// fetched from, so a caller can tell a backup-served batch apart from the
// primary endpoint's.
func tagSourceFrom(items []entity.NewsItem, rawURL string) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	for i := range items {
		if items[i].Extra == nil {
			items[i].Extra = make(map[string]any, 1)
		}
		items[i].Extra["source_from"] = host
	}
}

func (f *fetcher) fetchOne(ctx context.Context, url string) ([]entity.NewsItem, error) {
	var items []entity.NewsItem
	retryErr := retry.WithBackoff(ctx, f.retry, func() error {
		result, err := f.cb.Execute(func() (interface{}, error) {
			return f.request(ctx, url)
		})
		if err != nil {
			return err
		}
		items = result.([]entity.NewsItem)
		return nil
	})
	if retryErr != nil {
		if errors.Is(retryErr, gobreaker.ErrOpenState) {
			f.log.Warn("jsonapi: circuit breaker open", slog.String("url", url))
		}
		return nil, retryErr
	}
	return items, nil
}

func (f *fetcher) request(ctx context.Context, url string) ([]entity.NewsItem, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "newsfeed-bot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("unexpected status: %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	rawItems, err := navigate(root, f.cfg.ItemsPath)
	if err != nil {
		return nil, err
	}
	list, ok := rawItems.([]any)
	if !ok {
		return nil, fmt.Errorf("items_path %q did not resolve to an array", f.cfg.ItemsPath)
	}

	out := make([]entity.NewsItem, 0, len(list))
	for _, raw := range list {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item, ok := f.mapItem(obj)
		if !ok {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// navigate walks a dot-separated path ("" means the root itself) into a
// decoded JSON value.
func navigate(root any, path string) (any, error) {
	if path == "" {
		return root, nil
	}
	cur := root
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("items_path: %q is not an object at segment %q", path, key)
		}
		next, ok := obj[key]
		if !ok {
			return nil, fmt.Errorf("items_path: segment %q not found", key)
		}
		cur = next
	}
	return cur, nil
}

func (f *fetcher) mapItem(obj map[string]any) (entity.NewsItem, bool) {
	title := stringField(obj, f.cfg.TitleField)
	url := stringField(obj, f.cfg.URLField)
	if title == "" || url == "" {
		return entity.NewsItem{}, false
	}

	item := entity.NewsItem{
		SourceID:   f.source.SourceID,
		SourceName: f.source.Name,
		Title:      title,
		URL:        url,
		Content:    stringField(obj, f.cfg.ContentField),
		Summary:    stringField(obj, f.cfg.SummaryField),
		ImageURL:   stringField(obj, f.cfg.ImageField),
	}

	if dateStr := stringField(obj, f.cfg.DateField); dateStr != "" {
		if t, ok := parseDate(dateStr, f.cfg.DateFormat); ok {
			item.PublishedAt = &t
		}
	}

	return entity.NormalizeNewsItem(item, naturalKey(f.source.SourceID, obj, f.cfg.IDField, url)), true
}

// naturalKey implements the id-generation precedence: id_field
// value if present, else url, else the canonicalized item JSON.
func naturalKey(sourceID string, obj map[string]any, idField, url string) string {
	if idField != "" {
		if v, ok := obj[idField]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	if url != "" {
		return url
	}
	canon, _ := json.Marshal(obj)
	h := sha1.Sum(canon)
	return hex.EncodeToString(h[:])
}

func stringField(obj map[string]any, field string) string {
	if field == "" {
		return ""
	}
	v, ok := obj[field]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// parseDate implements the date-parsing fallback chain: the
// configured format, then ISO-8601 with a trailing "Z" normalized to
// "+00:00", then RFC-1123, else give up.
func parseDate(value, format string) (time.Time, bool) {
	if format != "" {
		if t, err := time.Parse(format, value); err == nil {
			return t, true
		}
	}
	iso := strings.Replace(value, "Z", "+00:00", 1)
	if t, err := time.Parse(time.RFC3339, iso); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return t, true
	}
	return time.Time{}, false
}
