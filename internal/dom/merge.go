// internal/dom/merge.go
package dom

import (
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/domsnapshot"
	"go.uber.org/zap"

	"github.com/xkilldash9x/domlens/api/schemas"
)

// mergeTree stitches the pierced DOM tree, the snapshot lookup and the AX
// lookup into one unified tree. Frame-local coordinates are translated into
// page coordinates with accumulated iframe offsets and HTML scroll offsets;
// visibility is evaluated against every ancestor frame's viewport.
func (s *Service) mergeTree(data *SnapshotData) *MergedTree {
	tree := &MergedTree{FrameRoots: make(map[cdp.FrameID]*Node)}
	if data == nil || data.DOMRoot == nil {
		return tree
	}

	snapLookup, malformed := buildSnapshotLookup(data)
	tree.MalformedSkipped += malformed

	axLookup := make(map[cdp.BackendNodeID]*AXNode, len(data.AXNodes))
	for _, raw := range data.AXNodes {
		if raw == nil || raw.BackendDOMNodeID == 0 {
			continue
		}
		if _, seen := axLookup[raw.BackendDOMNodeID]; seen {
			continue
		}
		axLookup[raw.BackendDOMNodeID] = buildAXNode(raw)
	}

	type mergeItem struct {
		raw          *cdp.Node
		parent       *Node
		frames       []*Node
		offset       DOMRect
		iframeDepth  int
		isContentDoc bool
	}

	stack := []mergeItem{{raw: data.DOMRoot}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		raw := it.raw
		if raw == nil {
			continue
		}
		switch raw.NodeType {
		case cdp.NodeTypeElement, cdp.NodeTypeText, cdp.NodeTypeDocument, cdp.NodeTypeDocumentFragment:
		default:
			continue
		}
		if raw.BackendNodeID == 0 {
			tree.MalformedSkipped++
			s.logger.Warn("Skipping DOM node with missing required fields.",
				zap.Error(&schemas.MalformedNodeError{NodeIndex: int(raw.NodeID), Reason: "missing backend node id"}))
			continue
		}

		n := &Node{
			NodeID:            raw.NodeID,
			BackendID:         raw.BackendNodeID,
			Type:              raw.NodeType,
			Tag:               strings.ToLower(raw.NodeName),
			Value:             raw.NodeValue,
			FrameID:           raw.FrameID,
			IsScrollable:      raw.IsScrollable,
			ShadowRootType:    string(raw.ShadowRootType),
			IsContentDocument: it.isContentDoc,
			Snapshot:          snapLookup[raw.BackendNodeID],
			AX:                axLookup[raw.BackendNodeID],
		}
		if len(raw.Attributes) > 1 {
			n.Attrs = make(map[string]string, len(raw.Attributes)/2)
			for i := 0; i+1 < len(raw.Attributes); i += 2 {
				n.Attrs[raw.Attributes[i]] = raw.Attributes[i+1]
			}
		}
		if n.Snapshot != nil && n.Snapshot.Bounds != nil {
			n.AbsolutePosition = &DOMRect{
				X:      n.Snapshot.Bounds.X + it.offset.X,
				Y:      n.Snapshot.Bounds.Y + it.offset.Y,
				Width:  n.Snapshot.Bounds.Width,
				Height: n.Snapshot.Bounds.Height,
			}
		}

		tree.NodeCount++
		if it.parent == nil {
			tree.Root = n
		} else {
			it.parent.Children = append(it.parent.Children, n)
		}
		if raw.FrameID != "" {
			if _, seen := tree.FrameRoots[raw.FrameID]; !seen && (raw.NodeType == cdp.NodeTypeDocument || n.Tag == "html") {
				tree.FrameRoots[raw.FrameID] = n
			}
		}

		// Each HTML frame document and each <iframe> element extends the
		// frame context its descendants are evaluated in.
		childFrames := it.frames
		childOffset := it.offset
		if n.IsElement() && n.Tag == "html" && raw.FrameID != "" {
			childFrames = appendFrame(it.frames, n)
			if n.Snapshot != nil && n.Snapshot.ScrollRect != nil {
				childOffset.X -= n.Snapshot.ScrollRect.X
				childOffset.Y -= n.Snapshot.ScrollRect.Y
			}
		}
		if n.IsFrameElement() && n.Snapshot != nil && n.Snapshot.Bounds != nil {
			childFrames = appendFrame(it.frames, n)
			childOffset.X += n.Snapshot.Bounds.X
			childOffset.Y += n.Snapshot.Bounds.Y
		}

		n.Visible = visibleThroughFrames(n, childFrames)

		// Push in reverse so pops preserve document order: shadow roots,
		// regular children, then the iframe content document.
		var pending []mergeItem
		for _, shadow := range raw.ShadowRoots {
			pending = append(pending, mergeItem{
				raw: shadow, parent: n, frames: childFrames,
				offset: childOffset, iframeDepth: it.iframeDepth,
			})
		}
		for _, child := range raw.Children {
			pending = append(pending, mergeItem{
				raw: child, parent: n, frames: childFrames,
				offset: childOffset, iframeDepth: it.iframeDepth,
			})
		}
		if raw.ContentDocument != nil {
			if it.iframeDepth+1 > s.cfg.MaxIframeDepth {
				s.logger.Debug("Skipping iframe content past depth cap.",
					zap.Int("depth", it.iframeDepth+1),
					zap.Int("max_iframe_depth", s.cfg.MaxIframeDepth))
			} else {
				pending = append(pending, mergeItem{
					raw: raw.ContentDocument, parent: n, frames: childFrames,
					offset: childOffset, iframeDepth: it.iframeDepth + 1,
					isContentDoc: true,
				})
			}
		}
		for i := len(pending) - 1; i >= 0; i-- {
			stack = append(stack, pending[i])
		}
	}

	return tree
}

// appendFrame copies the frame context so sibling subtrees never share a
// backing array.
func appendFrame(frames []*Node, n *Node) []*Node {
	out := make([]*Node, len(frames), len(frames)+1)
	copy(out, frames)
	return append(out, n)
}

// visibleThroughFrames reports whether the node, positioned in its own
// frame's coordinates, survives its own style checks and intersects the
// viewport of every ancestor frame. Frames are walked innermost-first,
// translating through iframe offsets and scroll positions on the way up.
func visibleThroughFrames(n *Node, frames []*Node) bool {
	sn := n.Snapshot
	if sn == nil {
		return false
	}
	if strings.EqualFold(sn.ComputedStyles["display"], "none") ||
		strings.EqualFold(sn.ComputedStyles["visibility"], "hidden") {
		return false
	}
	if op, err := strconv.ParseFloat(sn.ComputedStyles["opacity"], 64); err == nil && op <= 0 {
		return false
	}
	if sn.Bounds == nil {
		return false
	}

	cur := *sn.Bounds
	for i := len(frames) - 1; i >= 0; i-- {
		fs := frames[i].Snapshot
		if fs == nil {
			continue
		}
		if frames[i].IsFrameElement() && fs.Bounds != nil {
			cur.X += fs.Bounds.X
			cur.Y += fs.Bounds.Y
		}
		if frames[i].Tag == "html" && fs.ScrollRect != nil && fs.ClientRect != nil {
			// Position relative to the frame's viewport after scroll.
			adjX := cur.X - fs.ScrollRect.X
			adjY := cur.Y - fs.ScrollRect.Y
			intersects := adjX < fs.ClientRect.Width &&
				adjX+cur.Width > 0 &&
				adjY < fs.ClientRect.Height &&
				adjY+cur.Height > 0
			if !intersects {
				return false
			}
			cur.X -= fs.ScrollRect.X
			cur.Y -= fs.ScrollRect.Y
		}
	}
	return true
}

// buildSnapshotLookup resolves the flat snapshot arrays of every document
// into per-backend-ID layout/style data in CSS pixels. Rows pointing at
// out-of-range node indices are counted as malformed and skipped.
func buildSnapshotLookup(data *SnapshotData) (map[cdp.BackendNodeID]*SnapshotNode, int) {
	lookup := make(map[cdp.BackendNodeID]*SnapshotNode)
	malformed := 0

	dpr := data.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1.0
	}

	for _, doc := range data.Documents {
		if doc == nil || doc.Nodes == nil {
			continue
		}
		nodes := doc.Nodes

		ensure := func(nodeIdx int64) *SnapshotNode {
			if nodeIdx < 0 || int(nodeIdx) >= len(nodes.BackendNodeID) {
				return nil
			}
			backendID := nodes.BackendNodeID[nodeIdx]
			if backendID == 0 {
				return nil
			}
			sn, ok := lookup[backendID]
			if !ok {
				sn = &SnapshotNode{}
				lookup[backendID] = sn
			}
			return sn
		}

		if nodes.IsClickable != nil {
			for _, nodeIdx := range nodes.IsClickable.Index {
				if sn := ensure(nodeIdx); sn != nil {
					sn.IsClickable = true
				}
			}
		}

		layout := doc.Layout
		if layout == nil {
			continue
		}
		for li, nodeIdx := range layout.NodeIndex {
			sn := ensure(nodeIdx)
			if sn == nil {
				malformed++
				continue
			}
			if b := rectAt(layout.Bounds, li, dpr); b != nil {
				sn.Bounds = b
			}
			if r := rectAt(layout.ScrollRects, li, dpr); r != nil {
				sn.ScrollRect = r
			}
			if r := rectAt(layout.ClientRects, li, dpr); r != nil {
				sn.ClientRect = r
			}
			if li < len(layout.PaintOrders) {
				sn.PaintOrder = layout.PaintOrders[li]
				sn.HasPaintOrder = true
			}
			if m := stylesAt(layout.Styles, li, data.StyleNames, data.Strings); m != nil {
				sn.ComputedStyles = m
			}
		}
	}

	return lookup, malformed
}

func rectAt(rects []domsnapshot.Rectangle, i int, dpr float64) *DOMRect {
	if i < 0 || i >= len(rects) {
		return nil
	}
	r := rects[i]
	if len(r) < 4 {
		return nil
	}
	return &DOMRect{X: r[0] / dpr, Y: r[1] / dpr, Width: r[2] / dpr, Height: r[3] / dpr}
}

// stylesAt maps one layout row's style indices back onto the requested
// property names.
func stylesAt(entries []domsnapshot.ArrayOfStrings, i int, names, strs []string) map[string]string {
	if i < 0 || i >= len(entries) {
		return nil
	}
	vals := entries[i]
	m := make(map[string]string, len(names))
	for j, name := range names {
		if j >= len(vals) {
			break
		}
		if v, ok := stringAt(strs, vals[j]); ok {
			m[name] = v
		}
	}
	return m
}

func stringAt(strs []string, idx int64) (string, bool) {
	if idx < 0 || idx >= int64(len(strs)) {
		return "", false
	}
	return strs[idx], true
}
