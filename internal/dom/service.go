// internal/dom/service.go
package dom

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domlens/api/schemas"
	"github.com/xkilldash9x/domlens/internal/browser/session"
	"github.com/xkilldash9x/domlens/internal/config"
)

// TabLister enumerates the open page targets of the owning browser. Optional;
// when absent the product snapshot simply carries no tab list.
type TabLister interface {
	ListTabs(ctx context.Context) ([]schemas.TabInfo, error)
}

// Service is the extraction engine: one instance per browser, safe for
// concurrent use across pages.
type Service struct {
	cfg    *config.ExtractionConfig
	logger *zap.Logger
	cache  *session.Cache
	tabs   TabLister
}

// NewService wires the engine. tabs may be nil.
func NewService(cfg *config.ExtractionConfig, logger *zap.Logger, cache *session.Cache, tabs TabLister) *Service {
	return &Service{
		cfg:    cfg,
		logger: logger.Named("dom"),
		cache:  cache,
		tabs:   tabs,
	}
}

// CapturePageState runs one extraction step against the page: acquire, merge,
// classify, filter, serialize. previous is the prior step's state for the
// same page, nil on first contact; the returned SerializedState should be fed
// back in on the next step to compute new-element flags.
//
// The page generation is sampled before acquisition and re-checked before
// returning; a navigation in between yields ErrStaleExtraction and the caller
// should retry.
func (s *Service) CapturePageState(ctx context.Context, h session.PageHandle, previous *SerializedState) (*schemas.BrowserStateSnapshot, *SerializedState, error) {
	stepID := uuid.NewString()
	log := s.logger.With(
		zap.String("step_id", stepID),
		zap.String("target_id", string(h.TargetID())),
	)

	entry, err := s.cache.EnsureDomains(ctx, h,
		session.DomainDOM, session.DomainDOMSnapshot,
		session.DomainAccessibility, session.DomainPage)
	if err != nil {
		return nil, nil, err
	}
	gen := entry.Generation()

	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	// The acquisition profile for this step comes from the size the page had
	// last time; first contact always pays for the full profile.
	profile := ProfileFull
	if last := entry.LastNodeCount(); last > s.cfg.FastModeThreshold {
		profile = ProfileFast
	}

	timings := schemas.StepTimings{}
	mark := time.Now()

	data, err := s.acquire(stepCtx, h, profile)
	timings["acquire_ms"] = msSince(mark)
	if err != nil {
		return nil, nil, err
	}

	mark = time.Now()
	tree := s.mergeTree(data)
	timings["merge_ms"] = msSince(mark)
	if tree.Root == nil {
		return nil, nil, fmt.Errorf("page %s produced an empty document", h.TargetID())
	}

	// Processing mode is a pure function of this step's size; it never
	// sticks across steps.
	fastProcessing := tree.NodeCount > s.cfg.FastModeThreshold

	mark = time.Now()
	filter := NewAXFilter(s.cfg.StrictFilter)
	filter.Filter(tree.Root)
	stats := filter.Stats()
	stats.PartialFrames = len(data.PartialFrames)
	timings["filter_ms"] = msSince(mark)

	url, title := mainDocumentInfo(data)

	// New-element flags only make sense within an unchanged document.
	var prevIDs schemas.BackendIDSet
	if previous != nil && previous.URL == url {
		prevIDs = previous.BackendIDs()
	}

	paintOrder := profile == ProfileFull && s.cfg.PaintOrderEnabled() && !fastProcessing

	mark = time.Now()
	ser := NewSerializer(s.cfg, filter.Kept())
	state := ser.Serialize(tree, prevIDs, paintOrder)
	state.URL = url
	timings["serialize_ms"] = msSince(mark)

	if entry.Generation() != gen {
		return nil, nil, fmt.Errorf("page %s navigated during extraction: %w",
			h.TargetID(), schemas.ErrStaleExtraction)
	}
	entry.SetLastNodeCount(tree.NodeCount)
	entry.SetViewport(data.ViewportWidth, data.ViewportHeight)

	var openTabs []schemas.TabInfo
	if s.tabs != nil {
		openTabs, err = s.tabs.ListTabs(ctx)
		if err != nil {
			// Tab enumeration is decoration, not a reason to drop the step.
			log.Warn("tab enumeration failed", zap.Error(err))
			openTabs = nil
		}
	}

	log.Debug("extraction step complete",
		zap.String("url", url),
		zap.String("profile", profile.String()),
		zap.Bool("fast_processing", fastProcessing),
		zap.Int("node_count", tree.NodeCount),
		zap.Int("indexed", len(state.SelectorMap)),
		zap.Int("malformed_skipped", tree.MalformedSkipped),
		zap.Int("partial_frames", stats.PartialFrames),
	)

	domTree, selectorMap := ser.Tree(state)
	snapshot := &schemas.BrowserStateSnapshot{
		StepID:      stepID,
		URL:         url,
		Title:       title,
		OpenTabs:    openTabs,
		Elements:    ser.Elements(state),
		DOMTree:     domTree,
		SelectorMap: selectorMap,
		ElementTree: ser.Render(state),
		Stats:       stats,
		Timings:     timings,
	}
	return snapshot, state, nil
}

// ClearPageCache drops the cached session state for one page.
func (s *Service) ClearPageCache(h session.PageHandle) {
	s.cache.ClearPage(h.TargetID())
}

// ClearAllCaches drops every cached session entry.
func (s *Service) ClearAllCaches() {
	s.cache.ClearAll()
}

// mainDocumentInfo reads URL and title from the top-level snapshot document.
func mainDocumentInfo(data *SnapshotData) (url, title string) {
	if len(data.Documents) == 0 {
		return "", ""
	}
	doc := data.Documents[0]
	if v, ok := stringAt(data.Strings, int64(doc.DocumentURL)); ok {
		url = v
	}
	if v, ok := stringAt(data.Strings, int64(doc.Title)); ok {
		title = v
	}
	return url, title
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
