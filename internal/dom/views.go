// internal/dom/views.go
package dom

import (
	"strings"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/domsnapshot"
	"github.com/go-json-experiment/json/jsontext"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/domlens/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DOMRect is an axis-aligned rectangle in CSS pixels.
type DOMRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Intersects reports whether the two rectangles overlap.
func (r DOMRect) Intersects(o DOMRect) bool {
	return r.X < o.X+o.Width && r.X+r.Width > o.X &&
		r.Y < o.Y+o.Height && r.Y+r.Height > o.Y
}

// Area returns the rectangle's area.
func (r DOMRect) Area() float64 { return r.Width * r.Height }

// intersectionArea returns the overlapping area of two rectangles, zero when
// they do not overlap.
func intersectionArea(a, b DOMRect) float64 {
	x1 := maxF(a.X, b.X)
	y1 := maxF(a.Y, b.Y)
	x2 := minF(a.X+a.Width, b.X+b.Width)
	y2 := minF(a.Y+a.Height, b.Y+b.Height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	return (x2 - x1) * (y2 - y1)
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// SnapshotNode is the layout/style data for one DOM node, already resolved
// from the flat snapshot arrays into CSS-pixel values.
type SnapshotNode struct {
	Bounds         *DOMRect
	ClientRect     *DOMRect
	ScrollRect     *DOMRect
	ComputedStyles map[string]string
	PaintOrder     int64
	HasPaintOrder  bool
	IsClickable    bool
}

// Cursor returns the computed cursor style, empty when not captured.
func (s *SnapshotNode) Cursor() string {
	if s == nil {
		return ""
	}
	return s.ComputedStyles["cursor"]
}

// AXProperty is one accessibility property with its decoded value
// (bool, float64, or string depending on the property).
type AXProperty struct {
	Name  string
	Value interface{}
}

// BoolValue interprets the property as a boolean flag.
func (p AXProperty) BoolValue() bool {
	b, ok := p.Value.(bool)
	return ok && b
}

// Truthy reports whether the property carries any non-empty value.
func (p AXProperty) Truthy() bool {
	switch v := p.Value.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return true
	case nil:
		return false
	default:
		return true
	}
}

// AXNode is the subset of accessibility data the engine consumes, resolved
// to plain values.
type AXNode struct {
	Ignored     bool
	Role        string
	Name        string
	Description string
	Value       string
	Properties  []AXProperty
}

// Property returns the named property and whether it exists.
func (a *AXNode) Property(name string) (AXProperty, bool) {
	if a == nil {
		return AXProperty{}, false
	}
	for _, p := range a.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return AXProperty{}, false
}

// Node is one element/text/document occurrence in the merged tree. Strict
// tree: children owned by parent, no back-edges. Frame-owner references live
// in MergedTree.FrameRoots instead.
type Node struct {
	NodeID    cdp.NodeID
	BackendID cdp.BackendNodeID
	Type      cdp.NodeType
	// Tag is the lower-cased node name for element nodes ("button", "#document").
	Tag   string
	Value string
	Attrs map[string]string

	FrameID        cdp.FrameID
	IsScrollable   bool
	ShadowRootType string
	// IsContentDocument marks the root of an iframe's content document,
	// attached as a child of its <iframe> element.
	IsContentDocument bool

	Snapshot *SnapshotNode
	AX       *AXNode

	// AbsolutePosition is Bounds translated into top-level page coordinates.
	AbsolutePosition *DOMRect
	Visible          bool

	Children []*Node
}

// Attr returns the attribute value, empty when absent.
func (n *Node) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// HasAttr reports whether the attribute is present at all.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attrs[name]
	return ok
}

// IsElement reports whether this is an element node.
func (n *Node) IsElement() bool { return n.Type == cdp.NodeTypeElement }

// IsText reports whether this is a text node.
func (n *Node) IsText() bool { return n.Type == cdp.NodeTypeText }

// IsFrameElement reports whether the node is an <iframe> or <frame>.
func (n *Node) IsFrameElement() bool {
	return n.IsElement() && (n.Tag == "iframe" || n.Tag == "frame")
}

// MergedTree is the unified cross-frame tree plus the non-owning frame-root
// lookup table.
type MergedTree struct {
	Root       *Node
	FrameRoots map[cdp.FrameID]*Node
	NodeCount  int
	// MalformedSkipped counts snapshot entries that were dropped because
	// required fields were missing.
	MalformedSkipped int
}

// AcquisitionProfile selects how much data a snapshot round-trip requests.
type AcquisitionProfile int

const (
	// ProfileFull includes paint order, DOM rects and the full style set.
	ProfileFull AcquisitionProfile = iota
	// ProfileFast omits paint order and DOM rects and shrinks the style set.
	ProfileFast
)

func (p AcquisitionProfile) String() string {
	if p == ProfileFast {
		return "fast"
	}
	return "full"
}

// SnapshotData is one step's raw acquisition bundle.
type SnapshotData struct {
	Documents []*domsnapshot.DocumentSnapshot
	Strings   []string
	// StyleNames are the computed-style properties requested for this step,
	// in request order; layout style rows are parallel to it.
	StyleNames []string
	DOMRoot    *cdp.Node
	AXNodes    []*accessibility.Node
	// DevicePixelRatio converts snapshot device pixels to CSS pixels.
	DevicePixelRatio float64
	// ViewportWidth/Height are the CSS visual viewport dimensions.
	ViewportWidth  int64
	ViewportHeight int64
	// PartialFrames lists frames whose optional AX fetch degraded to empty.
	PartialFrames []string
	Profile       AcquisitionProfile
}

// SelectorMap is the per-step integer index to node mapping exposed to the
// action layer.
type SelectorMap map[int]*Node

// Resolve looks up an interactive index. A missing index means the caller is
// holding a stale map and must re-extract before retrying.
func (m SelectorMap) Resolve(idx int) (*Node, error) {
	n, ok := m[idx]
	if !ok {
		return nil, &schemas.StaleIndexError{Index: idx}
	}
	return n, nil
}

// SimplifiedNode wraps a merged-tree node selected for serialization.
type SimplifiedNode struct {
	Node     *Node
	Children []*SimplifiedNode

	// InteractiveIndex is the assigned selector-map index, -1 when the node
	// did not receive one.
	InteractiveIndex    int
	IsNew               bool
	IgnoredByPaintOrder bool
	IsIframeBoundary    bool
	IsIframeContent     bool
}

func newSimplifiedNode(n *Node) *SimplifiedNode {
	return &SimplifiedNode{Node: n, InteractiveIndex: -1}
}

// SerializedState is the per-step serialization product. URL is recorded so
// the next step's diff can detect navigations.
type SerializedState struct {
	Root        *SimplifiedNode
	SelectorMap SelectorMap
	URL         string
}

// ElementByIndex resolves an interactive index from this step's selector map.
func (s *SerializedState) ElementByIndex(idx int) (*Node, error) {
	if s == nil {
		return nil, &schemas.StaleIndexError{Index: idx}
	}
	return s.SelectorMap.Resolve(idx)
}

// BackendIDs collects the selector map's backend identifiers into a set,
// precomputed once so the diff walk is O(n).
func (s *SerializedState) BackendIDs() map[cdp.BackendNodeID]struct{} {
	if s == nil {
		return nil
	}
	ids := make(map[cdp.BackendNodeID]struct{}, len(s.SelectorMap))
	for _, n := range s.SelectorMap {
		ids[n.BackendID] = struct{}{}
	}
	return ids
}

// axValueDecode decodes a raw protocol AX value payload into a plain Go value.
func axValueDecode(raw jsontext.Value) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}

// axValueString extracts the string form of an AX value, empty when absent.
func axValueString(v *accessibility.Value) string {
	if v == nil {
		return ""
	}
	switch d := axValueDecode(v.Value).(type) {
	case string:
		return d
	case nil:
		return ""
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}

// buildAXNode resolves a raw protocol AX node into the engine's view. Unknown
// property payloads are kept with a nil value rather than dropped.
func buildAXNode(raw *accessibility.Node) *AXNode {
	if raw == nil {
		return nil
	}
	ax := &AXNode{
		Ignored:     raw.Ignored,
		Role:        axValueString(raw.Role),
		Name:        axValueString(raw.Name),
		Description: axValueString(raw.Description),
		Value:       axValueString(raw.Value),
	}
	for _, p := range raw.Properties {
		if p == nil || p.Value == nil {
			continue
		}
		ax.Properties = append(ax.Properties, AXProperty{
			Name:  string(p.Name),
			Value: axValueDecode(p.Value.Value),
		})
	}
	return ax
}
