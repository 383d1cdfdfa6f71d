// Package htmladapter scrapes a source's HTML page via goquery, extracting
// items through configured CSS selectors.
package htmladapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sony/gobreaker"

	"newsfeed/internal/adapter"
	"newsfeed/internal/domain/entity"
	"newsfeed/internal/httptransport"
	"newsfeed/internal/resilience/circuitbreaker"
	"newsfeed/internal/resilience/retry"
)

const maxBodySize = 10 << 20

// limiter bounds this family's outbound request rate across every source
// using htmladapter, independent of the scheduler's worker pool.
var limiter = adapter.NewFamilyLimiter()

// Config is the typed configuration decoded from entity.Source.Config for
// SourceTypeHTML entries.
type Config struct {
	PageURL       string   `json:"page_url" validate:"required,url"`
	BackupURLs    []string `json:"backup_urls" validate:"omitempty,dive,url"`
	ItemSelector  string   `json:"item_selector" validate:"required"`
	TitleSelector string   `json:"title_selector" validate:"required"`
	URLSelector   string   `json:"url_selector"`
	DateSelector  string   `json:"date_selector"`
	DateFormat    string   `json:"date_format"`
	ImageSelector string   `json:"image_selector"`
	UseCache      bool     `json:"use_cache"`
}

// New builds an adapter.Base whose FetchFunc requests the configured page
// and extracts items via CSS selectors. Relative links resolve against
// page_url's origin; relative timestamps ("5 minutes ago", "yesterday
// 14:30") resolve against wall-clock time at parse time.
func New(source *entity.Source, client *http.Client, store adapter.Store, log *slog.Logger) (*adapter.Base, error) {
	var cfg Config
	if err := source.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("htmladapter: %w", err)
	}
	if err := adapter.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("htmladapter: source %s: %w", source.SourceID, err)
	}

	f := &fetcher{
		source: source,
		cfg:    cfg,
		urls:   append([]string{cfg.PageURL}, cfg.BackupURLs...),
		client: client,
		cb:     circuitbreaker.New(circuitbreaker.WebScraperConfig()),
		retry:  retry.WebScraperConfig(),
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
	for i, pageURL := range f.urls {
		items, err := f.fetchOne(ctx, pageURL)
		if err == nil {
			if i > 0 {
				tagSourceFrom(items, pageURL)
			}
			return items, nil
		}
		lastErr = err
		f.log.Warn("htmladapter: page URL failed, trying next",
			slog.String("source_id", f.source.SourceID), slog.String("url", pageURL), slog.Any("error", err))
	}
	return nil, lastErr
}

// tagSourceFrom records the backup page's host each item was actually
// scraped from, so a caller can tell a backup-served batch apart from the
// primary page's.
func tagSourceFrom(items []entity.NewsItem, pageURL string) {
	host := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		host = u.Host
	}
	for i := range items {
		if items[i].Extra == nil {
			items[i].Extra = make(map[string]any, 1)
		}
		items[i].Extra["source_from"] = host
	}
}

func (f *fetcher) fetchOne(ctx context.Context, pageURL string) ([]entity.NewsItem, error) {
	if err := entity.ValidateURL(pageURL); err != nil {
		return nil, fmt.Errorf("validate page URL: %w", err)
	}

	var items []entity.NewsItem
	retryErr := retry.WithBackoff(ctx, f.retry, func() error {
		result, err := f.cb.Execute(func() (interface{}, error) {
			return f.scrape(ctx, pageURL)
		})
		if err != nil {
			return err
		}
		items = result.([]entity.NewsItem)
		return nil
	})
	if retryErr != nil {
		if errors.Is(retryErr, gobreaker.ErrOpenState) {
			f.log.Warn("htmladapter: circuit breaker open", slog.String("url", pageURL))
		}
		return nil, retryErr
	}
	return items, nil
}

func (f *fetcher) scrape(ctx context.Context, pageURL string) ([]entity.NewsItem, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "newsfeed-bot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("unexpected status: %s", resp.Status)}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}

	items := extract(f.source, f.cfg, doc, base)
	if len(items) == 0 {
		return nil, fmt.Errorf("no items matched selector %q", f.cfg.ItemSelector)
	}
	return items, nil
}

// ExtractFromHTML applies cfg's selectors to an already-rendered HTML
// document, shared by browseradapter so a headless-rendered page reuses the
// same extraction logic as a plain HTTP fetch.
func ExtractFromHTML(source *entity.Source, cfg Config, html string) ([]entity.NewsItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	base, err := url.Parse(cfg.PageURL)
	if err != nil {
		return nil, err
	}
	items := extract(source, cfg, doc, base)
	if len(items) == 0 {
		return nil, fmt.Errorf("no items matched selector %q", cfg.ItemSelector)
	}
	return items, nil
}

func extract(source *entity.Source, cfg Config, doc *goquery.Document, base *url.URL) []entity.NewsItem {
	var items []entity.NewsItem
	now := time.Now()

	doc.Find(cfg.ItemSelector).Each(func(i int, el *goquery.Selection) {
		title := strings.TrimSpace(el.Find(cfg.TitleSelector).Text())
		if title == "" {
			return
		}

		itemURL := ""
		if cfg.URLSelector != "" {
			sel := el.Find(cfg.URLSelector)
			if href, ok := sel.Attr("href"); ok {
				itemURL = strings.TrimSpace(href)
			}
		}
		if itemURL == "" {
			return
		}
		itemURL = resolveURL(base, itemURL)

		var publishedAt *time.Time
		if cfg.DateSelector != "" {
			dateText := strings.TrimSpace(el.Find(cfg.DateSelector).Text())
			if t, ok := parseTimestamp(dateText, cfg.DateFormat, now); ok {
				publishedAt = &t
			}
		}

		imageURL := ""
		if cfg.ImageSelector != "" {
			if src, ok := el.Find(cfg.ImageSelector).Attr("src"); ok {
				imageURL = resolveURL(base, src)
			}
		}

		item := entity.NewsItem{
			SourceID:    source.SourceID,
			SourceName:  source.Name,
			Title:       title,
			URL:         itemURL,
			ImageURL:    imageURL,
			PublishedAt: publishedAt,
		}
		items = append(items, entity.NormalizeNewsItem(item, itemURL))
	})

	return items
}

func resolveURL(base *url.URL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// parseTimestamp resolves the relative-time vocabulary a scraped page uses
// ("X minutes ago", "X hours ago", "yesterday HH:MM", "HH:MM")
// against now, falling back to an explicit layout or a short list of
// common absolute formats.
func parseTimestamp(text, format string, now time.Time) (time.Time, bool) {
	if text == "" {
		return time.Time{}, false
	}
	lower := strings.ToLower(text)

	if d, ok := parseRelativeAgo(lower); ok {
		return now.Add(-d), true
	}
	if strings.HasPrefix(lower, "yesterday") {
		if t, ok := parseClockTime(strings.TrimSpace(strings.TrimPrefix(lower, "yesterday")), now.AddDate(0, 0, -1)); ok {
			return t, true
		}
	}
	if t, ok := parseClockTime(lower, now); ok {
		return t, true
	}

	if format != "" {
		if t, err := time.Parse(format, text); err == nil {
			return t, true
		}
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05Z", time.RFC3339, "Jan 2, 2006", "January 2, 2006"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseRelativeAgo(lower string) (time.Duration, bool) {
	fields := strings.Fields(lower)
	if len(fields) < 3 || fields[len(fields)-1] != "ago" {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(fields[0], "%d", &n); err != nil {
		return 0, false
	}
	unit := strings.TrimSuffix(fields[1], "s")
	switch unit {
	case "second":
		return time.Duration(n) * time.Second, true
	case "minute":
		return time.Duration(n) * time.Minute, true
	case "hour":
		return time.Duration(n) * time.Hour, true
	case "day":
		return time.Duration(n) * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func parseClockTime(text string, day time.Time) (time.Time, bool) {
	text = strings.TrimSpace(text)
	t, err := time.Parse("15:04", text)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), true
}
