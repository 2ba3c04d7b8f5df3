// Package headless renders JavaScript-heavy report pages with headless Chrome.
package headless

import (
	"cmp"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/alisufyan143/location-analyzer-v2/internal/scraper"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	// WaitSelector is awaited after navigation; defaults to body.
	WaitSelector string
	// Settle is an extra pause after WaitSelector is visible so late XHR
	// content lands in the DOM.
	Settle time.Duration
}

// Fetcher implements scraper.Fetcher using chromedp and headless Chrome.
// Requests through a proxy get a dedicated browser allocator.
type Fetcher struct {
	cfg        Config
	slots      *semaphore.Weighted
	mu         sync.Mutex
	allocators map[string]context.Context
	cancels    []context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var slots *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = "body"
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}

	return &Fetcher{
		cfg:        cfg,
		slots:      slots,
		allocators: make(map[string]context.Context),
	}, nil
}

// Close cancels every allocator context.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cancel := range f.cancels {
		cancel()
	}
	f.cancels = nil
	f.allocators = make(map[string]context.Context)
}

func (f *Fetcher) allocator(proxy string) context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	if alloc, ok := f.allocators[proxy]; ok {
		return alloc
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(proxy)...)
	f.allocators[proxy] = allocCtx
	f.cancels = append(f.cancels, allocCancel)
	return allocCtx
}

func allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return opts
}

// Fetch navigates with a headless browser and returns the fully rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return scraper.FetchResponse{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator(request.Identity.Proxy))
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(taskCtx, doc.listen)

	start := time.Now()
	html, finalURL, err := f.runHeadless(taskCtx, request)
	if err != nil {
		return scraper.FetchResponse{}, err
	}

	status, headers, responseURL := doc.result(request.URL, finalURL)
	return scraper.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) runHeadless(ctx context.Context, request scraper.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		networkSetupAction(request),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func networkSetupAction(request scraper.FetchRequest) chromedp.Action {
	headers := requestHeaders(request)
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := request.Identity.UserAgent; ua != "" {
			override := emulation.SetUserAgentOverride(ua).
				WithAcceptLanguage(headers.Get("Accept-Language"))
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(extraHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// requestHeaders merges identity headers with per-request ones. The user
// agent is applied through emulation instead.
func requestHeaders(request scraper.FetchRequest) http.Header {
	headers := request.Identity.Headers()
	headers.Del("User-Agent")
	for key, values := range request.Headers {
		headers.Del(key)
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	return headers
}

// acquire waits for a browser slot; MaxParallel 0 means unlimited.
func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("headless slot wait canceled: %w", err)
	}
	return nil
}

func (f *Fetcher) release() {
	if f.slots != nil {
		f.slots.Release(1)
	}
}

// documentResponse records the main document's response as the browser
// reports it. Sub-resource responses are ignored.
type documentResponse struct {
	mu      sync.Mutex
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) listen(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := make(http.Header, len(resp.Response.Headers))
	for key, value := range resp.Response.Headers {
		headers.Set(key, headerValue(value))
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.headers = headers
	d.url = resp.Response.URL
	d.mu.Unlock()
}

// result fills what the browser never reported: the URL falls back to the
// final location and then the requested one, and the status to 200 since the
// DOM did render.
func (d *documentResponse) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	url := cmp.Or(d.url, finalURL, requestURL)
	status := cmp.Or(d.status, http.StatusOK)
	headers := d.headers
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

// headerValue flattens a CDP header value; repeated headers arrive joined
// by newlines or as a list.
func headerValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "\n", ", ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// extraHeaders converts merged request headers to the CDP form, joining
// repeated values.
func extraHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[key] = strings.Join(values, ", ")
		}
	}
	return out
}
