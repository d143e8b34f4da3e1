// internal/dom/axfilter.go
package dom

import (
	"strings"

	"github.com/xkilldash9x/domlens/api/schemas"
)

// Role tables for the accessibility filter. Classification of a node depends
// only on its own role/properties and its subtree's classifications, which is
// what makes the single-pass memoized algorithm possible.
var (
	axInteractiveRoles = map[string]struct{}{
		"button": {}, "link": {}, "menuitem": {}, "menuitemradio": {},
		"menuitemcheckbox": {}, "radio": {}, "checkbox": {}, "tab": {},
		"switch": {}, "slider": {}, "spinbutton": {}, "combobox": {},
		"searchbox": {}, "textbox": {}, "listbox": {}, "option": {},
		"scrollbar": {},
	}

	axLandmarkRoles = map[string]struct{}{
		"banner": {}, "contentinfo": {}, "main": {}, "navigation": {},
		"region": {}, "complementary": {}, "form": {}, "search": {},
		"application": {},
	}

	axContainerRoles = map[string]struct{}{
		"list": {}, "listbox": {}, "menu": {}, "menubar": {}, "tablist": {},
		"tree": {}, "grid": {}, "table": {}, "toolbar": {}, "group": {},
		"radiogroup": {},
	}

	// axStructuralRoles are pure layout wrappers: never interesting, their
	// interesting descendants get promoted to the nearest interesting
	// ancestor.
	axStructuralRoles = map[string]struct{}{
		"generic": {}, "none": {}, "presentation": {}, "": {},
	}

	axStateProperties = []string{"checked", "selected", "expanded", "pressed", "disabled"}
)

// AXFilter reduces a merged tree to its accessibility-relevant nodes. One
// instance is good for one run; per-signature verdicts are memoized so
// structurally identical siblings are evaluated once.
type AXFilter struct {
	strict bool
	memo   map[string][]schemas.FilterCriterion
	stats  schemas.FilterStats
	kept   schemas.BackendIDSet
}

// NewAXFilter creates a filter. In strict mode container roles need at least
// two independent criteria (an interesting descendant counts as one) before
// they are kept.
func NewAXFilter(strict bool) *AXFilter {
	return &AXFilter{
		strict: strict,
		memo:   make(map[string][]schemas.FilterCriterion),
		stats:  schemas.FilterStats{Criteria: make(map[schemas.FilterCriterion]int)},
	}
}

// Stats returns the statistics of the last Filter run.
func (f *AXFilter) Stats() schemas.FilterStats { return f.stats }

// Kept returns the backend identifiers of the nodes the last run retained.
// The serializer consults this set for accessible-name labeling.
func (f *AXFilter) Kept() schemas.BackendIDSet { return f.kept }

// Filter returns the interesting-only copy of the tree. The input tree is
// never modified. The returned root is always present (the root acts as the
// container for promoted top-level nodes), nil only for a nil input.
//
// The walk is post-order with an explicit stack: container verdicts need the
// children's verdicts first, and page depth must not be able to overflow the
// call stack.
func (f *AXFilter) Filter(root *Node) *Node {
	f.stats = schemas.FilterStats{Criteria: make(map[schemas.FilterCriterion]int)}
	f.kept = make(schemas.BackendIDSet)
	if root == nil {
		return nil
	}

	type frame struct {
		node     *Node
		childIdx int
		kept     []*Node
	}

	stack := []frame{{node: root}}
	// results receives the promoted-node list of the fully processed child.
	var result []*Node

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if top.childIdx < len(top.node.Children) {
			child := top.node.Children[top.childIdx]
			top.childIdx++
			stack = append(stack, frame{node: child})
			continue
		}

		// All children resolved; decide this node.
		f.stats.NodesVisited++
		kept := top.kept
		node := top.node

		criteria := f.criteriaFor(node)
		interesting := len(criteria) > 0

		// Containers earn their keep through interesting descendants.
		role := axRole(node)
		if _, isContainer := axContainerRoles[role]; isContainer && len(kept) > 0 {
			if !containsCriterion(criteria, schemas.CriterionContainerRole) {
				criteria = append(criteria, schemas.CriterionContainerRole)
			}
			if f.strict {
				interesting = len(criteria) >= 2
			} else {
				interesting = true
			}
		}

		// Structural wrappers are never kept, regardless of anything else.
		if _, structural := axStructuralRoles[role]; structural {
			interesting = false
			criteria = nil
		}

		var promoted []*Node
		if interesting {
			f.stats.NodesKept++
			f.kept[node.BackendID] = struct{}{}
			for _, c := range criteria {
				f.stats.Criteria[c]++
			}
			copied := *node
			copied.Children = kept
			promoted = []*Node{&copied}
		} else {
			promoted = kept
		}

		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			result = promoted
			break
		}
		parent := &stack[len(stack)-1]
		parent.kept = append(parent.kept, promoted...)
	}

	// Keep a single root: if the root itself was filtered out, it still
	// anchors its promoted descendants.
	if len(result) == 1 && result[0].BackendID == root.BackendID {
		return result[0]
	}
	anchor := *root
	anchor.Children = result
	return &anchor
}

// criteriaFor evaluates the node's own rules 1 and 3, memoized by signature.
func (f *AXFilter) criteriaFor(n *Node) []schemas.FilterCriterion {
	if n.AX == nil || n.AX.Ignored {
		return nil
	}
	sig := f.signature(n.AX)
	if cached, ok := f.memo[sig]; ok {
		return cached
	}

	var criteria []schemas.FilterCriterion
	role := strings.ToLower(n.AX.Role)

	if _, ok := axInteractiveRoles[role]; ok {
		criteria = append(criteria, schemas.CriterionInteractiveRole)
	}
	if _, ok := axLandmarkRoles[role]; ok {
		criteria = append(criteria, schemas.CriterionLandmarkRole)
	}
	if strings.TrimSpace(n.AX.Name) != "" {
		criteria = append(criteria, schemas.CriterionHasName)
	}
	if strings.TrimSpace(n.AX.Value) != "" {
		criteria = append(criteria, schemas.CriterionHasValue)
	}
	if strings.TrimSpace(n.AX.Description) != "" {
		criteria = append(criteria, schemas.CriterionHasDescription)
	}
	if p, ok := n.AX.Property("focusable"); ok && p.BoolValue() {
		criteria = append(criteria, schemas.CriterionFocusable)
	}
	for _, name := range axStateProperties {
		if _, ok := n.AX.Property(name); ok {
			criteria = append(criteria, schemas.CriterionStateProperty)
			break
		}
	}

	f.memo[sig] = criteria
	return criteria
}

// signature folds the role and the property flags that affect the verdict.
// Node identity deliberately stays out so identical siblings share a verdict.
func (f *AXFilter) signature(ax *AXNode) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(ax.Role))
	b.WriteByte('|')
	writeFlag(&b, strings.TrimSpace(ax.Name) != "")
	writeFlag(&b, strings.TrimSpace(ax.Value) != "")
	writeFlag(&b, strings.TrimSpace(ax.Description) != "")
	if p, ok := ax.Property("focusable"); ok && p.BoolValue() {
		writeFlag(&b, true)
	} else {
		writeFlag(&b, false)
	}
	for _, name := range axStateProperties {
		_, ok := ax.Property(name)
		writeFlag(&b, ok)
	}
	return b.String()
}

func writeFlag(b *strings.Builder, v bool) {
	if v {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
}

func axRole(n *Node) string {
	if n.AX == nil {
		return ""
	}
	return strings.ToLower(n.AX.Role)
}

func containsCriterion(list []schemas.FilterCriterion, c schemas.FilterCriterion) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}
