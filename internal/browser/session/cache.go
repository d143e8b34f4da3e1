// internal/browser/session/cache.go
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/domlens/api/schemas"
)

// Protocol domains the extraction engine needs enabled on a page session.
const (
	DomainDOM           = "DOM"
	DomainDOMSnapshot   = "DOMSnapshot"
	DomainAccessibility = "Accessibility"
	DomainPage          = "Page"
)

// Entry holds the cached protocol state for one page target: session
// identifier, which domains have been enabled, the last-known viewport size
// and merged-tree node count, and a generation stamp.
//
// The generation is bumped whenever the document is replaced (navigation) or
// the target goes away. An extraction step records the generation at start and
// compares at completion; a mismatch means the in-flight results describe a
// document that no longer exists and must be discarded.
type Entry struct {
	targetID  target.ID
	sessionID target.SessionID

	generation atomic.Uint64

	mu            sync.Mutex
	enabled       map[string]struct{}
	viewportW     int64
	viewportH     int64
	lastNodeCount int
}

// Generation returns the current generation stamp.
func (e *Entry) Generation() uint64 { return e.generation.Load() }

// SessionID returns the protocol session identifier for the target.
func (e *Entry) SessionID() target.SessionID { return e.sessionID }

// SetViewport records the last-known viewport size.
func (e *Entry) SetViewport(w, h int64) {
	e.mu.Lock()
	e.viewportW, e.viewportH = w, h
	e.mu.Unlock()
}

// Viewport returns the last-known viewport size (zero if never recorded).
func (e *Entry) Viewport() (w, h int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewportW, e.viewportH
}

// SetLastNodeCount records the merged-tree size of the most recent step. The
// adaptive mode selector reads it to pick the acquisition profile for the
// next step.
func (e *Entry) SetLastNodeCount(n int) {
	e.mu.Lock()
	e.lastNodeCount = n
	e.mu.Unlock()
}

// LastNodeCount returns the most recent merged-tree size (zero on first contact).
func (e *Entry) LastNodeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastNodeCount
}

func (e *Entry) missingDomains(domains []string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var need []string
	for _, d := range domains {
		if _, ok := e.enabled[d]; !ok {
			need = append(need, d)
		}
	}
	return need
}

func (e *Entry) markEnabled(domain string) {
	e.mu.Lock()
	e.enabled[domain] = struct{}{}
	e.mu.Unlock()
}

// Cache owns the per-target session entries for one independently
// orchestrated browser. It is an explicit object passed by handle into every
// call; there is no ambient/global cache state, which is what allows many
// browser instances to be driven concurrently without cross-contamination.
type Cache struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[target.ID]*Entry
	watched map[target.ID]bool
}

// NewCache creates an empty session cache.
func NewCache(logger *zap.Logger) *Cache {
	return &Cache{
		logger:  logger.Named("session_cache"),
		entries: make(map[target.ID]*Entry),
		watched: make(map[target.ID]bool),
	}
}

// GetOrCreate returns the cached entry for the page, creating it (and
// registering the invalidation watcher) on first contact. Creation for a gone
// target surfaces a typed "target unavailable" error; callers must not retry
// silently.
func (c *Cache) GetOrCreate(ctx context.Context, h PageHandle) (*Entry, error) {
	id := h.TargetID()

	c.mu.Lock()
	if entry, ok := c.entries[id]; ok {
		c.mu.Unlock()
		return entry, nil
	}

	sessionID := h.SessionID()
	if sessionID == "" {
		c.mu.Unlock()
		return nil, &schemas.TargetUnavailableError{TargetID: id}
	}

	entry := &Entry{
		targetID:  id,
		sessionID: sessionID,
		enabled:   make(map[string]struct{}),
	}
	c.entries[id] = entry

	// The watcher lives for the target's lifetime; register it once even if
	// the entry is dropped and recreated.
	if !c.watched[id] {
		c.watched[id] = true
		c.mu.Unlock()
		h.Listen(func(ev interface{}) {
			switch e := ev.(type) {
			case *page.EventFrameNavigated:
				// Only a main-frame navigation replaces the document.
				if e.Frame != nil && e.Frame.ParentID == "" {
					c.invalidate(id, "navigation")
				}
			case *inspector.EventDetached:
				c.invalidate(id, "inspector detached")
			case *target.EventDetachedFromTarget:
				c.invalidate(id, "target detached")
			}
		})
	} else {
		c.mu.Unlock()
	}

	c.logger.Debug("Created session cache entry.",
		zap.String("target_id", string(id)),
		zap.String("session_id", string(sessionID)))
	return entry, nil
}

// EnsureDomains enables any not-yet-enabled protocol domains on the page's
// session. The enable calls are independent, so they are issued as a single
// fan-out rather than sequentially. Any failure invalidates the entry and is
// surfaced as a target-unavailable error.
func (c *Cache) EnsureDomains(ctx context.Context, h PageHandle, domains ...string) (*Entry, error) {
	entry, err := c.GetOrCreate(ctx, h)
	if err != nil {
		return nil, err
	}

	need := entry.missingDomains(domains)
	if len(need) == 0 {
		return entry, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, domain := range need {
		g.Go(func() error {
			if err := h.Execute(gctx, domain+".enable", nil, nil); err != nil {
				return err
			}
			entry.markEnabled(domain)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.ClearPage(h.TargetID())
		return nil, &schemas.TargetUnavailableError{TargetID: h.TargetID(), Cause: err}
	}
	return entry, nil
}

// ClearPage drops the cached entry for one page. In-flight extractions
// holding the old entry observe the generation bump and discard their results.
func (c *Cache) ClearPage(id target.ID) {
	c.invalidate(id, "explicit clear")
}

// ClearAll drops every cached entry.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	ids := make([]target.ID, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.invalidate(id, "clear all")
	}
}

func (c *Cache) invalidate(id target.ID, reason string) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok {
		entry.generation.Add(1)
		delete(c.entries, id)
	}
	c.mu.Unlock()

	if ok {
		c.logger.Debug("Invalidated session cache entry.",
			zap.String("target_id", string(id)),
			zap.String("reason", reason))
	}
}
