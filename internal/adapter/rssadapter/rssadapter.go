// Package rssadapter fetches RSS/Atom feeds via mmcdole/gofeed, normalizing
// both <item> (RSS) and <entry> (Atom) elements into entity.NewsItem.
package rssadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sony/gobreaker"

	"newsfeed/internal/adapter"
	"newsfeed/internal/domain/entity"
	"newsfeed/internal/httptransport"
	"newsfeed/internal/resilience/circuitbreaker"
	"newsfeed/internal/resilience/retry"
)

// Config is the typed configuration decoded from entity.Source.Config for
// SourceTypeRSS entries.
type Config struct {
	FeedURL    string   `json:"feed_url" validate:"required,url"`
	BackupURLs []string `json:"backup_urls" validate:"omitempty,dive,url"`
	UseCache   bool     `json:"use_cache"`
}

// New builds an adapter.Base whose FetchFunc parses the configured feed,
// trying each backup URL in order once the primary is exhausted.
func New(source *entity.Source, client *http.Client, store adapter.Store, log *slog.Logger) (*adapter.Base, error) {
	var cfg Config
	if err := source.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("rssadapter: %w", err)
	}
	if err := adapter.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("rssadapter: source %s: %w", source.SourceID, err)
	}

	f := &fetcher{
		source: source,
		cfg:    cfg,
		urls:   append([]string{cfg.FeedURL}, cfg.BackupURLs...),
		client: client,
		cb:     circuitbreaker.New(circuitbreaker.FeedFetchConfig()),
		retry:  retry.FeedFetchConfig(),
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
	for i, feedURL := range f.urls {
		items, err := f.fetchOne(ctx, feedURL)
		if err == nil {
			if i > 0 {
				tagSourceFrom(items, feedURL)
			}
			return items, nil
		}
		lastErr = err
		f.log.Warn("rssadapter: feed URL failed, trying next",
			slog.String("source_id", f.source.SourceID), slog.String("url", feedURL), slog.Any("error", err))
	}
	return nil, lastErr
}

// tagSourceFrom records the backup feed's host each item was actually
// parsed from, so a caller can tell a backup-served batch apart from the
// primary feed's.
func tagSourceFrom(items []entity.NewsItem, feedURL string) {
	host := feedURL
	if u, err := url.Parse(feedURL); err == nil && u.Host != "" {
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
			return f.parse(ctx, url)
		})
		if err != nil {
			return err
		}
		items = result.([]entity.NewsItem)
		return nil
	})
	if retryErr != nil {
		if errors.Is(retryErr, gobreaker.ErrOpenState) {
			f.log.Warn("rssadapter: circuit breaker open", slog.String("url", url))
		}
		return nil, retryErr
	}
	return items, nil
}

func (f *fetcher) parse(ctx context.Context, url string) ([]entity.NewsItem, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fp := gofeed.NewParser()
	fp.UserAgent = "newsfeed-bot/1.0"
	fp.Client = f.client

	feed, err := fp.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, err
	}

	items := make([]entity.NewsItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		items = append(items, normalize(f.source, it))
	}
	return items, nil
}

func normalize(source *entity.Source, it *gofeed.Item) entity.NewsItem {
	content := firstNonEmpty(it.Content, it.Description)
	summary := it.Description
	if summary == "" {
		summary = content
	}

	var publishedAt *time.Time
	if it.PublishedParsed != nil {
		publishedAt = it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		publishedAt = it.UpdatedParsed
	}

	imageURL := ""
	if it.Image != nil {
		imageURL = it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if imageURL != "" {
			break
		}
		if strings.HasPrefix(enc.Type, "image/") {
			imageURL = enc.URL
		}
	}

	item := entity.NewsItem{
		SourceID:    source.SourceID,
		SourceName:  source.Name,
		Title:       collapseWhitespace(it.Title),
		URL:         it.Link,
		Content:     collapseWhitespace(content),
		Summary:     collapseWhitespace(summary),
		ImageURL:    imageURL,
		PublishedAt: publishedAt,
	}

	naturalKey := it.GUID
	if naturalKey == "" {
		naturalKey = it.Link
	}
	return entity.NormalizeNewsItem(item, naturalKey)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
