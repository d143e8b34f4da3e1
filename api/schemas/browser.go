package schemas

import (
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
)

// -- Browser State Schemas --

// TabInfo describes one open page target in the browser.
type TabInfo struct {
	TargetID target.ID `json:"targetId"`
	URL      string    `json:"url"`
	Title    string    `json:"title"`
}

// Rect is an axis-aligned rectangle in CSS pixels, in top-level page
// coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementNode is one node of the filtered tree as handed to the action layer.
// Index is the 1-based interactive index, zero when the node was not indexed.
// Text nodes carry Text and no Tag.
type ElementNode struct {
	BackendID    cdp.BackendNodeID `json:"backendId"`
	Tag          string            `json:"tag,omitempty"`
	Text         string            `json:"text,omitempty"`
	Index        int               `json:"index,omitempty"`
	IsNew        bool              `json:"isNew,omitempty"`
	IsScrollable bool              `json:"isScrollable,omitempty"`
	Bounds       *Rect             `json:"bounds,omitempty"`
	Attrs        map[string]string `json:"attrs,omitempty"`
	Children     []*ElementNode    `json:"children,omitempty"`
}

// SerializedElement is one row of the element list handed to the agent layer.
// Depth preserves the parent/child nesting of the filtered tree so a consumer
// can reconstruct the hierarchy from the flat list.
type SerializedElement struct {
	Index int               `json:"index"`
	Tag   string            `json:"tag"`
	Text  string            `json:"text,omitempty"`
	IsNew bool              `json:"isNew,omitempty"`
	Depth int               `json:"depth"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// FilterCriterion identifies which rule kept a node during accessibility
// filtering. Used for the per-run statistics breakdown, never for control flow.
type FilterCriterion string

const (
	CriterionInteractiveRole FilterCriterion = "interactive_role"
	CriterionLandmarkRole    FilterCriterion = "landmark_role"
	CriterionContainerRole   FilterCriterion = "container_role"
	CriterionHasName         FilterCriterion = "has_name"
	CriterionHasValue        FilterCriterion = "has_value"
	CriterionHasDescription  FilterCriterion = "has_description"
	CriterionFocusable       FilterCriterion = "focusable"
	CriterionStateProperty   FilterCriterion = "state_property"
)

// FilterStats records what the accessibility filter did on one extraction
// step. Surfaced for observability and regression testing.
type FilterStats struct {
	NodesVisited int                     `json:"nodesVisited"`
	NodesKept    int                     `json:"nodesKept"`
	Criteria     map[FilterCriterion]int `json:"criteria,omitempty"`
	// PartialFrames counts optional per-frame fetches that degraded to an
	// empty subtree instead of failing the step.
	PartialFrames int `json:"partialFrames,omitempty"`
}

// StepTimings holds the wall-clock breakdown of one extraction step in
// milliseconds, keyed by stage (acquire_ms, merge_ms, filter_ms, serialize_ms).
type StepTimings map[string]float64

// BrowserStateSnapshot is the per-step product of the extraction engine: what
// is on the page and can be interacted with, indexed for the action layer.
type BrowserStateSnapshot struct {
	StepID   string              `json:"stepId"`
	URL      string              `json:"url"`
	Title    string              `json:"title,omitempty"`
	OpenTabs []TabInfo           `json:"openTabs,omitempty"`
	Elements []SerializedElement `json:"elements"`
	// DOMTree is the root of the filtered tree the indices were assigned on.
	DOMTree *ElementNode `json:"domTree,omitempty"`
	// SelectorMap resolves an interactive index to its node within DOMTree.
	SelectorMap map[int]*ElementNode `json:"selectorMap,omitempty"`
	// ElementTree is the LLM-oriented text rendering of the filtered tree.
	ElementTree string      `json:"elementTree"`
	Stats       FilterStats `json:"stats"`
	Timings     StepTimings `json:"timings,omitempty"`
}

// BackendIDSet is the fast-lookup set of backend node identifiers from a
// previous step's selector map, used for new-element diffing.
type BackendIDSet map[cdp.BackendNodeID]struct{}

// Contains reports whether the backend identifier was present.
func (s BackendIDSet) Contains(id cdp.BackendNodeID) bool {
	_, ok := s[id]
	return ok
}
