// internal/dom/clickable.go
package dom

import (
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/cdp"
)

// candidateTags is the cheap tag allow-list: any tag the final test can
// accept must be in here, or interactivity detection silently fails for it.
var candidateTags = map[string]struct{}{
	"a": {}, "button": {}, "input": {}, "select": {}, "textarea": {},
	"details": {}, "summary": {}, "label": {}, "option": {}, "optgroup": {},
}

// interactiveTags are the tags the final test accepts outright. Must be a
// subset of candidateTags.
var interactiveTags = map[string]struct{}{
	"a": {}, "button": {}, "input": {}, "select": {}, "textarea": {},
	"details": {}, "summary": {}, "label": {}, "option": {}, "optgroup": {},
}

// interactiveRoles are the ARIA role equivalents of the tag allow-list.
var interactiveRoles = map[string]struct{}{
	"button": {}, "link": {}, "menuitem": {}, "menuitemcheckbox": {},
	"menuitemradio": {}, "radio": {}, "checkbox": {}, "tab": {},
	"switch": {}, "slider": {}, "spinbutton": {}, "combobox": {},
	"searchbox": {}, "textbox": {}, "listbox": {}, "option": {},
	"gridcell": {}, "treeitem": {},
}

// interactiveCursors mark elements styled to invite pointer interaction.
var interactiveCursors = map[string]struct{}{
	"pointer": {}, "move": {}, "text": {}, "grab": {}, "grabbing": {},
	"cell": {}, "copy": {}, "alias": {}, "all-scroll": {}, "col-resize": {},
	"context-menu": {}, "crosshair": {}, "help": {}, "zoom-in": {}, "zoom-out": {},
}

// eventHandlerAttrs indicate scripted or keyboard interactivity.
var eventHandlerAttrs = []string{
	"onclick", "onmousedown", "onmouseup", "onkeydown", "onkeyup",
	"tabindex", "contenteditable",
}

// isCandidate is the cheap pre-filter. Only candidates are worth the full
// interactivity evaluation; everything else is skipped without materializing
// attribute or accessibility data.
func isCandidate(n *Node) bool {
	if n == nil || !n.IsElement() {
		return false
	}
	if _, ok := candidateTags[n.Tag]; ok {
		return true
	}
	if _, ok := interactiveRoles[n.Attr("role")]; ok {
		return true
	}
	if n.AX != nil && !n.AX.Ignored && len(n.AX.Properties) > 0 {
		return true
	}
	for _, attr := range eventHandlerAttrs {
		if n.HasAttr(attr) {
			return true
		}
	}
	if n.Snapshot != nil {
		if n.Snapshot.IsClickable {
			return true
		}
		if cursor := n.Snapshot.Cursor(); cursor != "" && cursor != "auto" && cursor != "default" {
			return true
		}
	}
	return false
}

// classifier runs the two-tier interactivity decision, memoized per backend
// ID for the duration of one extraction step.
type classifier struct {
	cache map[cdp.BackendNodeID]bool
}

func newClassifier() *classifier {
	return &classifier{cache: make(map[cdp.BackendNodeID]bool)}
}

// IsInteractive reports whether the node passes the full interactivity test.
func (c *classifier) IsInteractive(n *Node) bool {
	if n == nil || !n.IsElement() {
		return false
	}
	if v, ok := c.cache[n.BackendID]; ok {
		return v
	}
	v := evaluateInteractive(n)
	c.cache[n.BackendID] = v
	return v
}

func evaluateInteractive(n *Node) bool {
	if n.Tag == "html" || n.Tag == "body" {
		return false
	}
	if !isCandidate(n) {
		return false
	}

	// Collapsed elements are usually currently-hidden menus and dropdown
	// content. Missing bounds are assumed visible.
	if n.Snapshot != nil && n.Snapshot.Bounds != nil {
		if n.Snapshot.Bounds.Width <= 0 || n.Snapshot.Bounds.Height <= 0 {
			return false
		}
	}
	if n.Snapshot != nil {
		styles := n.Snapshot.ComputedStyles
		if strings.EqualFold(styles["display"], "none") ||
			strings.EqualFold(styles["visibility"], "hidden") ||
			strings.EqualFold(styles["pointer-events"], "none") {
			return false
		}
		if op, err := strconv.ParseFloat(styles["opacity"], 64); err == nil && op <= 0 {
			return false
		}
	}

	if n.HasAttr("disabled") || n.HasAttr("inert") || n.HasAttr("readonly") {
		return false
	}
	if strings.EqualFold(n.Attr("aria-disabled"), "true") {
		return false
	}

	if accepted, decided := checkAXProperties(n.AX); decided {
		return accepted
	}

	if _, ok := interactiveTags[n.Tag]; ok {
		return true
	}
	if _, ok := interactiveRoles[n.Attr("role")]; ok {
		return true
	}
	for _, attr := range eventHandlerAttrs {
		if n.HasAttr(attr) {
			return true
		}
	}
	if _, ok := interactiveCursors[n.Snapshot.Cursor()]; ok {
		return true
	}
	return false
}

// checkAXProperties evaluates the accessibility-property tiers. The second
// return is false when the properties are inconclusive and the remaining
// checks should run.
func checkAXProperties(ax *AXNode) (accepted, decided bool) {
	if ax == nil || len(ax.Properties) == 0 {
		return false, false
	}
	if ax.Ignored {
		return false, true
	}
	for _, prop := range ax.Properties {
		switch prop.Name {
		// Direct interaction capability.
		case "focusable", "editable", "settable":
			if prop.BoolValue() {
				return true, true
			}
		// Widget states only exist on interactive elements.
		case "checked", "expanded", "pressed", "selected":
			return true, true
		case "disabled", "readonly", "busy":
			if prop.BoolValue() {
				return false, true
			}
		case "hasPopup", "multiselectable":
			if prop.Truthy() {
				return true, true
			}
		// Form/input context.
		case "required", "autocomplete", "valuemin", "valuemax", "valuetext":
			if prop.Truthy() {
				return true, true
			}
		case "keyshortcuts":
			if prop.Truthy() {
				return true, true
			}
		}
	}
	return false, false
}
