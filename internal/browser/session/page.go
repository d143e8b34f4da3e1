// internal/browser/session/page.go
package session

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domlens/api/schemas"
)

// PageHandle abstracts the protocol primitives of one page target: raw
// request/response plus event subscription. The extraction engine only ever
// talks to the browser through this interface, which keeps the engine testable
// against canned protocol fixtures.
//
// Execute matches cdp.Executor, so typed cdproto commands can be issued
// through a handle with cdp.WithExecutor.
type PageHandle interface {
	Execute(ctx context.Context, method string, params, res any) error
	TargetID() target.ID
	SessionID() target.SessionID
	// Listen subscribes fn to protocol events for this target until the
	// target closes. Used for cache invalidation (navigation, target gone).
	Listen(fn func(ev interface{}))
}

// Ensure the handle is protocol-executor compatible.
var _ cdp.Executor = (PageHandle)(nil)

// Page is the chromedp-backed PageHandle for a live browser tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	tgt    *chromedp.Target
}

var _ PageHandle = (*Page)(nil)

// NewPage creates a new tab in the given browser context and attaches to it.
// attachCtx bounds only the initial attachment; the tab's lifetime is tied to
// browserCtx. The returned Page owns the tab; Close releases it.
func NewPage(attachCtx, browserCtx context.Context, logger *zap.Logger) (*Page, error) {
	ctx, cancel := chromedp.NewContext(browserCtx)

	// Force target creation and CDP attachment now, not lazily on first use.
	runCtx, cancelRun := CombineContext(ctx, attachCtx)
	defer cancelRun()
	if err := chromedp.Run(runCtx); err != nil {
		cancel()
		return nil, &schemas.TargetUnavailableError{Cause: err}
	}

	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		cancel()
		return nil, &schemas.TargetUnavailableError{Cause: fmt.Errorf("no target attached")}
	}

	return &Page{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.Named("page").With(zap.String("target_id", string(c.Target.TargetID))),
		tgt:    c.Target,
	}, nil
}

// Execute issues one raw protocol request against this page's session. The
// call respects both the page lifetime and the caller's deadline.
func (p *Page) Execute(ctx context.Context, method string, params, res any) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		return cdp.Execute(c, method, params, res)
	}))
	if err != nil && p.ctx.Err() != nil {
		// The page itself is gone; surface the typed error, not a raw
		// context cancellation.
		return &schemas.TargetUnavailableError{TargetID: p.TargetID(), Cause: err}
	}
	return err
}

// TargetID identifies the page target.
func (p *Page) TargetID() target.ID {
	return p.tgt.TargetID
}

// SessionID returns the protocol session attached to this target.
func (p *Page) SessionID() target.SessionID {
	return p.tgt.SessionID
}

// Listen subscribes fn to protocol events emitted by this target.
func (p *Page) Listen(fn func(ev interface{})) {
	chromedp.ListenTarget(p.ctx, fn)
}

// Navigate loads the given URL and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// URL returns the page's current document URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Close detaches from and closes the tab.
func (p *Page) Close() {
	p.cancel()
}
