// internal/browser/session/browser.go
package session

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domlens/api/schemas"
	"github.com/xkilldash9x/domlens/internal/config"
)

// Browser owns one Chrome process and the chromedp contexts attached to it.
// Pages are created from the browser context; the session Cache is scoped to
// this instance so several browsers can run side by side.
type Browser struct {
	logger *zap.Logger
	cfg    *config.BrowserConfig

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	cache *Cache
}

// Launch starts the browser process and verifies it is responsive.
func Launch(ctx context.Context, cfg *config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	b := &Browser{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}

	opts := b.buildAllocatorOptions()
	b.allocatorCtx, b.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocatorCtx)

	// Run a trivial task to confirm the process started and answers commands.
	warmupCtx, cancelWarmup := context.WithTimeout(b.browserCtx, 30*time.Second)
	defer cancelWarmup()
	if err := chromedp.Run(warmupCtx, chromedp.Navigate("about:blank")); err != nil {
		b.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	b.cache = NewCache(logger)
	b.logger.Info("Browser launched and responsive.")
	return b, nil
}

func (b *Browser) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// Later flags override the defaults; a false bool drops the flag from
		// the command line entirely, which is how enable-automation is unset.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", b.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", b.cfg.Headless),
	)

	for _, arg := range b.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// Cache returns the per-browser protocol session cache.
func (b *Browser) Cache() *Cache { return b.cache }

// NewPage opens a fresh tab attached to this browser.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	return NewPage(ctx, b.browserCtx, b.logger)
}

// ListTabs enumerates the open page targets of this browser instance.
func (b *Browser) ListTabs(ctx context.Context) ([]schemas.TabInfo, error) {
	runCtx, cancel := CombineContext(b.browserCtx, ctx)
	defer cancel()
	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	tabs := make([]schemas.TabInfo, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		tabs = append(tabs, schemas.TabInfo{
			TargetID: info.TargetID,
			URL:      info.URL,
			Title:    info.Title,
		})
	}
	return tabs, nil
}

// Shutdown tears the browser down in grades: ask the process to exit cleanly,
// then cancel the allocator (which kills the process), and finally report if
// the process still refuses to die. Session cache state is dropped first so
// no in-flight extraction can complete against the dying browser.
func (b *Browser) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down browser.")
	if b.cache != nil {
		b.cache.ClearAll()
	}

	graceful := make(chan error, 1)
	go func() { graceful <- chromedp.Cancel(b.browserCtx) }()

	select {
	case err := <-graceful:
		if err == nil {
			b.allocatorCancel()
			b.logger.Info("Browser closed gracefully.")
			return nil
		}
		b.logger.Warn("Graceful browser close failed, escalating.", zap.Error(err))
	case <-time.After(b.cfg.ShutdownGrace):
		b.logger.Warn("Timeout waiting for graceful browser close, escalating.",
			zap.Duration("grace", b.cfg.ShutdownGrace))
	case <-ctx.Done():
		b.logger.Warn("Shutdown context cancelled, escalating.", zap.Error(ctx.Err()))
	}

	// Forceful: cancelling the allocator kills the browser process.
	b.allocatorCancel()

	c := chromedp.FromContext(b.allocatorCtx)
	if c == nil || c.Allocator == nil {
		return nil
	}
	dead := make(chan struct{})
	go func() {
		c.Allocator.Wait()
		close(dead)
	}()
	select {
	case <-dead:
		b.logger.Info("Browser process terminated after forceful cancel.")
		return nil
	case <-time.After(b.cfg.ShutdownKill):
		b.logger.Error("Browser process did not exit after forceful cancel.",
			zap.Duration("kill_timeout", b.cfg.ShutdownKill))
		return fmt.Errorf("browser process did not exit within %s", b.cfg.ShutdownKill)
	}
}
