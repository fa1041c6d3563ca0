// Package headless implements archive.Fetcher for JavaScript-heavy pages
// using chromedp and headless Chrome.
package headless

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkvault/archiver/internal/archive"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
}

// Fetcher renders pages in a headless browser and archives the resulting
// DOM. It is registered after the plain web fetcher so it only runs when
// the fast path produced nothing usable.
type Fetcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New builds a Fetcher; the browser allocator is created in Setup.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, logger: logger}
}

// Name implements archive.Fetcher.
func (f *Fetcher) Name() string { return "headless" }

// Setup creates the shared Chrome exec allocator.
func (f *Fetcher) Setup(_ context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	if f.allocCancel != nil {
		f.allocCancel()
	}
}

// SanitizeURL is the identity transform; the browser handles redirects.
func (f *Fetcher) SanitizeURL(rawURL string) string { return rawURL }

// IsRearchivable implements archive.Fetcher.
func (f *Fetcher) IsRearchivable(string) bool { return true }

// Download navigates with a headless browser and archives the fully
// rendered DOM.
func (f *Fetcher) Download(ctx context.Context, rec *archive.Record) (*archive.Record, error) {
	if f.allocator == nil {
		return nil, fmt.Errorf("fetcher not set up")
	}

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()

	// Tie browser navigation to the pipeline context.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.userAgentAction(),
		chromedp.Navigate(rec.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if html == "" {
		return nil, nil
	}

	target := filepath.Join(rec.TmpDir, uuid.NewString()+".html")
	if err := os.WriteFile(target, []byte(html), 0o600); err != nil {
		return nil, fmt.Errorf("write rendered snapshot: %w", err)
	}

	media := archive.NewMedia(target)
	media.MimeType = "text/html; charset=utf-8"
	media.Set("final_url", archive.ScalarProperty(finalURL))
	media.Set("rendered", archive.ScalarProperty(true))

	out := archive.NewRecord("")
	out.AddMedia(media)
	out.Success = true
	out.Status = "headless: success"
	return out, nil
}

func (f *Fetcher) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if f.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}
