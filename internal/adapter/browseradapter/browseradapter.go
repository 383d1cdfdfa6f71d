// Package browseradapter drives a headless Chrome instance for sources that
// require JavaScript rendering or resist plain HTTP scraping, then hands
// the rendered page source to htmladapter's selector-based extraction.
package browseradapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"newsfeed/internal/adapter"
	"newsfeed/internal/adapter/htmladapter"
	"newsfeed/internal/domain/entity"
)

// desktopUA and a large window size force the desktop variant of sites that
// otherwise redirect headless/mobile-looking clients to a stripped page.
const (
	desktopUA     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	windowWidth   = 1920
	windowHeight  = 1080
	renderTimeout = 30 * time.Second
)

// limiter bounds this family's concurrent/outbound render rate across every
// source using browseradapter. A headless Chrome tab is far heavier than a
// plain HTTP request, so this family shares the same per-family cap as the
// others rather than being left to spawn tabs unbounded.
var limiter = adapter.NewFamilyLimiter()

// Config is the typed configuration decoded from entity.Source.Config for
// SourceTypeBrowser entries; selector fields are shared with htmladapter
// since the rendered page is handed to the same extraction logic.
type Config struct {
	htmladapter.Config `validate:"required"`
}

// New builds an adapter.Base whose FetchFunc renders cfg.PageURL in a
// headless Chrome tab, waits for <body>, and reuses htmladapter's selector
// extraction on the resulting HTML.
func New(source *entity.Source, store adapter.Store, log *slog.Logger) (*adapter.Base, error) {
	var cfg Config
	if err := source.DecodeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("browseradapter: %w", err)
	}
	if err := adapter.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("browseradapter: source %s: %w", source.SourceID, err)
	}

	f := &fetcher{source: source, cfg: cfg, log: log}
	return adapter.New(source, store, f.fetch, log), nil
}

type fetcher struct {
	source *entity.Source
	cfg    Config
	log    *slog.Logger
}

func (f *fetcher) fetch(ctx context.Context) ([]entity.NewsItem, error) {
	html, err := f.render(ctx)
	if err != nil {
		return nil, err
	}
	return htmladapter.ExtractFromHTML(f.source, f.cfg.Config, html)
}

// render opens a fresh headless-Chrome tab, clears cookies so no stale
// mobile/consent state survives between fetches, navigates to the desktop
// variant of the configured URL, waits for <body>, and captures the
// post-render page source. The allocator and its child process are always
// torn down before returning, including on error or cancellation.
func (f *fetcher) render(ctx context.Context) (string, error) {
	if err := limiter.Wait(ctx); err != nil {
		return "", err
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(desktopUA),
		chromedp.WindowSize(windowWidth, windowHeight),
		chromedp.Flag("headless", true),
	)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, renderTimeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(browserCtx,
		network.ClearBrowserCookies(),
		chromedp.Navigate(desktopURL(f.cfg.PageURL)),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("browseradapter: render %s: %w", f.source.SourceID, err)
	}
	return html, nil
}

// mobileSubdomains lists the leading host labels that mark a mobile-variant
// URL, checked in order so "mobile." isn't shadowed by a bare "m." match.
var mobileSubdomains = []string{"mobile.", "m."}

// desktopURL strips mobile-subdomain markers ("m.", "mobile.") so the
// headless tab always requests the desktop-variant URL. Malformed URLs are
// returned unchanged; chromedp.Navigate surfaces the parse failure itself.
func desktopURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}

	host := u.Host
	for _, marker := range mobileSubdomains {
		if strings.HasPrefix(strings.ToLower(host), marker) {
			host = host[len(marker):]
			break
		}
	}
	if host == u.Host {
		return pageURL
	}

	u.Host = host
	return u.String()
}
