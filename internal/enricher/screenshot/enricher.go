// Package screenshot captures a full-page screenshot of the archived URL
// as an additional media object.
package screenshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linkvault/archiver/internal/archive"
)

// Config controls screenshot capture.
type Config struct {
	NavigationTimeout time.Duration
	// Quality is the PNG/JPEG encoder quality passed to chromedp.
	Quality int
}

// Enricher renders the record's URL in headless Chrome and attaches the
// screenshot to the record. Capture failures are logged and swallowed so
// an unreachable page never fails an otherwise archived item.
type Enricher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New builds the enricher and its browser allocator.
func New(cfg Config, logger *zap.Logger) *Enricher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 90
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocator, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Enricher{
		cfg:         cfg,
		allocator:   allocator,
		allocCancel: allocCancel,
		logger:      logger,
	}
}

// Name implements archive.Enricher.
func (e *Enricher) Name() string { return "screenshot" }

// Close cancels the allocator context.
func (e *Enricher) Close() { e.allocCancel() }

// Enrich captures the screenshot and appends it to the record's media.
func (e *Enricher) Enrich(ctx context.Context, rec *archive.Record) error {
	if rec.URL == "" || rec.TmpDir == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, e.cfg.NavigationTimeout)
	defer cancel()

	var buf []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(rec.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.FullScreenshot(&buf, e.cfg.Quality),
	)
	if err != nil {
		e.logger.Warn("screenshot capture failed",
			zap.String("url", rec.URL), zap.Error(err))
		return nil
	}

	target := filepath.Join(rec.TmpDir, uuid.NewString()+".png")
	if err := os.WriteFile(target, buf, 0o600); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}

	media := archive.NewMedia(target)
	media.MimeType = "image/png"
	media.Set("source", archive.ScalarProperty("screenshot"))
	rec.AddMedia(media)
	return nil
}
