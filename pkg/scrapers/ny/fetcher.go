package ny

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Wait tells a Fetcher when a rendered page is ready
type Wait struct {
	// Selector must match an element
	Selector string
	// HiddenID is the id of an element, typically a loading overlay, whose
	// inline style must be display: none
	HiddenID string
}

// hiddenJS reports whether the element with the given id exists and is
// hidden by its inline style
const hiddenJS = `(id) => {
	const el = document.getElementById(id);
	return el !== null && el.style.display === "none";
}`

// Fetcher retrieves the rendered HTML of a page once wait is satisfied
type Fetcher interface {
	Fetch(ctx context.Context, url string, wait Wait) (string, error)
	Close() error
}

// HTTPFetcher does a plain GET and ignores wait
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher creates a fetcher with a 60s client timeout
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 60 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, wait Wait) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "openpuc-scrapers/1.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return string(body), nil
}

func (f *HTTPFetcher) Close() error { return nil }

// RodFetcher renders pages in a headless Chromium driven by go-rod. The
// search pages fill their tables from script, so a plain GET sees nothing.
type RodFetcher struct {
	Timeout time.Duration

	headless bool

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodFetcher creates a fetcher; the browser is launched on first use
func NewRodFetcher(headless bool, timeout time.Duration) *RodFetcher {
	return &RodFetcher{headless: headless, Timeout: timeout}
}

func (f *RodFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	controlURL, err := launcher.New().Headless(f.headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	f.browser = browser
	return browser, nil
}

func (f *RodFetcher) Fetch(ctx context.Context, url string, wait Wait) (string, error) {
	browser, err := f.connect()
	if err != nil {
		return "", err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("open %s: %w", url, err)
	}
	defer page.Close()

	if f.Timeout > 0 {
		page = page.Timeout(f.Timeout)
	}

	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("load %s: %w", url, err)
	}
	if wait.Selector != "" {
		if _, err := page.Element(wait.Selector); err != nil {
			return "", fmt.Errorf("wait for %s on %s: %w", wait.Selector, url, err)
		}
	}
	if wait.HiddenID != "" {
		if err := page.Wait(rod.Eval(hiddenJS, wait.HiddenID)); err != nil {
			return "", fmt.Errorf("wait for #%s to hide on %s: %w", wait.HiddenID, url, err)
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return html, nil
}

// Close shuts the browser down
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}
