// internal/dom/snapshot.go
package dom

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/domsnapshot"
	cdppage "github.com/chromedp/cdproto/page"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/domlens/api/schemas"
	"github.com/xkilldash9x/domlens/internal/browser/session"
)

// acquire fetches one step's raw protocol bundle. The four top-level requests
// are independent and issued as a fan-out; any required failure aborts the
// whole acquisition. Per-frame accessibility fetches are optional and degrade
// to an empty subtree.
func (s *Service) acquire(ctx context.Context, h session.PageHandle, profile AcquisitionProfile) (*SnapshotData, error) {
	ec := cdp.WithExecutor(ctx, h)

	styles := s.cfg.ComputedStyles
	if profile == ProfileFast {
		styles = s.cfg.FastComputedStyles
	}

	data := &SnapshotData{Profile: profile, StyleNames: styles, DevicePixelRatio: 1.0}

	g, gctx := errgroup.WithContext(ec)

	g.Go(func() error {
		params := domsnapshot.CaptureSnapshot(styles)
		if profile == ProfileFull {
			params = params.WithIncludePaintOrder(true).WithIncludeDOMRects(true)
		}
		docs, strs, err := params.Do(gctx)
		if err != nil {
			return fmt.Errorf("DOMSnapshot.captureSnapshot: %w", err)
		}
		data.Documents, data.Strings = docs, strs
		return nil
	})

	g.Go(func() error {
		root, err := cdpdom.GetDocument().WithDepth(-1).WithPierce(true).Do(gctx)
		if err != nil {
			return fmt.Errorf("DOM.getDocument: %w", err)
		}
		data.DOMRoot = root
		return nil
	})

	g.Go(func() error {
		// Viewport metrics degrade to a 1.0 pixel ratio rather than failing
		// the step.
		_, visual, _, _, cssVisual, _, err := cdppage.GetLayoutMetrics().Do(gctx)
		if err != nil {
			s.logger.Debug("Layout metrics unavailable, assuming pixel ratio 1.0.", zap.Error(err))
			return nil
		}
		if cssVisual != nil {
			data.ViewportWidth = int64(cssVisual.ClientWidth)
			data.ViewportHeight = int64(cssVisual.ClientHeight)
			if visual != nil && cssVisual.ClientWidth > 0 {
				data.DevicePixelRatio = visual.ClientWidth / cssVisual.ClientWidth
			}
		}
		return nil
	})

	g.Go(func() error {
		nodes, partial, err := s.acquireAXForAllFrames(gctx)
		if err != nil {
			return err
		}
		data.AXNodes = nodes
		data.PartialFrames = partial
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot acquisition aborted: %w", err)
	}

	if len(data.Documents) > s.cfg.MaxIframes {
		s.logger.Warn("Page exceeds iframe document cap, truncating snapshot.",
			zap.Int("documents", len(data.Documents)),
			zap.Int("max_iframes", s.cfg.MaxIframes))
		data.Documents = data.Documents[:s.cfg.MaxIframes]
	}

	return data, nil
}

// acquireAXForAllFrames fans out one getFullAXTree call per frame and merges
// the results in frame-tree order. The frame tree itself is required; each
// per-frame fetch is optional (cross-origin frames routinely refuse).
func (s *Service) acquireAXForAllFrames(ctx context.Context) ([]*accessibility.Node, []string, error) {
	tree, err := cdppage.GetFrameTree().Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("Page.getFrameTree: %w", err)
	}
	frameIDs := collectFrameIDs(tree)

	perFrame := make([][]*accessibility.Node, len(frameIDs))
	var mu sync.Mutex
	var partial []string

	var g errgroup.Group
	for i, frameID := range frameIDs {
		g.Go(func() error {
			nodes, err := accessibility.GetFullAXTree().WithFrameID(frameID).Do(ctx)
			if err != nil {
				perr := &schemas.PartialAcquisitionError{FrameID: string(frameID), Cause: err}
				s.logger.Warn("Accessibility tree degraded to empty subtree.", zap.Error(perr))
				mu.Lock()
				partial = append(partial, string(frameID))
				mu.Unlock()
				return nil
			}
			perFrame[i] = nodes
			return nil
		})
	}
	_ = g.Wait()

	var merged []*accessibility.Node
	for _, nodes := range perFrame {
		merged = append(merged, nodes...)
	}
	return merged, partial, nil
}

// collectFrameIDs flattens the frame tree depth-first with an explicit stack.
func collectFrameIDs(root *cdppage.FrameTree) []cdp.FrameID {
	var ids []cdp.FrameID
	stack := []*cdppage.FrameTree{root}
	for len(stack) > 0 {
		ft := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if ft == nil || ft.Frame == nil {
			continue
		}
		ids = append(ids, ft.Frame.ID)
		for i := len(ft.ChildFrames) - 1; i >= 0; i-- {
			stack = append(stack, ft.ChildFrames[i])
		}
	}
	return ids
}
