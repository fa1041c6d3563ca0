// Package web implements archive.Fetcher for plain HTTP pages using the
// Colly collector.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkvault/archiver/internal/archive"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher downloads page snapshots over HTTP. Live web pages change, so
// everything it recognizes is rearchivable.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, logger: logger}
}

// Name implements archive.Fetcher.
func (f *Fetcher) Name() string { return "web" }

// Setup builds the base collector with a pooled transport.
func (f *Fetcher) Setup(_ context.Context) error {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)
	f.baseCollector = c
	return nil
}

// SanitizeURL normalizes the URL to avoid cache-key duplicates: lowercase
// scheme and host, default ports and fragments removed, tracking query
// parameters stripped, remaining parameters sorted. Unparseable input is
// returned unchanged.
func (f *Fetcher) SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if isTrackingParam(key) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IsRearchivable implements archive.Fetcher.
func (f *Fetcher) IsRearchivable(string) bool { return true }

// Download fetches the record's URL and returns a record holding the page
// snapshot media.
func (f *Fetcher) Download(ctx context.Context, rec *archive.Record) (*archive.Record, error) {
	if f.baseCollector == nil {
		return nil, fmt.Errorf("fetcher not set up")
	}

	var (
		resp     *colly.Response
		title    string
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.OnResponse(func(r *colly.Response) {
		resp = r
	})
	collector.OnHTML("title", func(e *colly.HTMLElement) {
		title = strings.TrimSpace(e.Text)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := f.visit(ctx, collector, rec.URL); err != nil {
		return nil, err
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("fetch %s: %w", rec.URL, fetchErr)
	}
	if resp == nil {
		return nil, nil
	}

	target := filepath.Join(rec.TmpDir, uuid.NewString()+".html")
	if err := os.WriteFile(target, resp.Body, 0o600); err != nil {
		return nil, fmt.Errorf("write page snapshot: %w", err)
	}

	media := archive.NewMedia(target)
	media.MimeType = resp.Headers.Get("Content-Type")
	media.Set("status_code", archive.ScalarProperty(resp.StatusCode))
	media.Set("final_url", archive.ScalarProperty(resp.Request.URL.String()))

	out := archive.NewRecord("")
	out.AddMedia(media)
	if title != "" {
		out.SetMeta("title", title)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		out.Success = true
		out.Status = "web: success"
	} else {
		out.Status = fmt.Sprintf("web: status %d", resp.StatusCode)
	}
	return out, nil
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("web fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", target, err)
		}
		return nil
	}
}

func isTrackingParam(key string) bool {
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	switch key {
	case "fbclid", "gclid", "igshid", "mc_cid", "mc_eid":
		return true
	default:
		return false
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
