// internal/dom/serializer.go
package dom

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/domlens/api/schemas"

	"github.com/xkilldash9x/domlens/internal/config"
)

// skippedTags never contribute to the serialized view, neither themselves nor
// their subtrees.
var skippedTags = map[string]struct{}{
	"style": {}, "script": {}, "head": {}, "meta": {}, "link": {}, "title": {},
}

// attrDedupMinLen is the shortest attribute value that participates in value
// deduplication. Short values like "on" or "1" legitimately repeat.
const attrDedupMinLen = 5

// attrValueCap truncates long attribute values in the rendered view.
const attrValueCap = 15

// Serializer turns a merged tree into the indexed element view. One instance
// is good for one step; the embedded classifier memoizes per backend node.
type Serializer struct {
	cfg        *config.ExtractionConfig
	classifier *classifier
	// labelIDs are the accessibility filter's kept nodes; for these the
	// accessible name stands in when the element has no visible text.
	labelIDs schemas.BackendIDSet
}

// NewSerializer builds a per-step serializer. labelIDs may be nil.
func NewSerializer(cfg *config.ExtractionConfig, labelIDs schemas.BackendIDSet) *Serializer {
	return &Serializer{cfg: cfg, classifier: newClassifier(), labelIDs: labelIDs}
}

// Serialize selects the relevant subset of the tree, optionally applies paint
// order occlusion, and assigns interactive indices. previousIDs carries the
// prior step's indexed backend identifiers; nil means no node is flagged new
// (first contact, or the page navigated in between).
func (s *Serializer) Serialize(tree *MergedTree, previousIDs schemas.BackendIDSet, paintOrder bool) *SerializedState {
	if tree == nil || tree.Root == nil {
		return &SerializedState{SelectorMap: SelectorMap{}}
	}
	root := s.simplify(tree.Root)
	if root == nil {
		root = newSimplifiedNode(tree.Root)
	}
	if paintOrder {
		applyPaintOrder(root)
	}
	selectorMap := s.assignIndices(root, previousIDs)
	return &SerializedState{Root: root, SelectorMap: selectorMap}
}

// simplify is a post-order reduction with an explicit stack. A node survives
// when it is interactive-and-visible, scrollable, a frame element, a content
// document, or when any descendant survived; everything else dissolves and
// its kept children are promoted to the nearest kept ancestor. Nodes inside
// iframe content use relaxed visibility, since cross-origin geometry cannot
// always be resolved.
func (s *Serializer) simplify(root *Node) *SimplifiedNode {
	type frame struct {
		node         *Node
		childIdx     int
		kept         []*SimplifiedNode
		inIframeDoc  bool
		isContentDoc bool
	}

	stack := []frame{{node: root}}
	var result []*SimplifiedNode

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if top.childIdx < len(top.node.Children) {
			child := top.node.Children[top.childIdx]
			top.childIdx++
			if child.IsElement() {
				if _, skip := skippedTags[child.Tag]; skip {
					continue
				}
			}
			stack = append(stack, frame{
				node:        child,
				inIframeDoc: top.inIframeDoc || child.IsContentDocument,
			})
			continue
		}

		node := top.node
		kept := top.kept
		inIframe := top.inIframeDoc

		var promoted []*SimplifiedNode
		switch {
		case node.IsText():
			if len(strings.TrimSpace(node.Value)) > 1 {
				sn := newSimplifiedNode(node)
				sn.IsIframeContent = inIframe
				promoted = []*SimplifiedNode{sn}
			}
		case node.IsElement() || node.IsContentDocument || node == root:
			include := false
			if node.IsElement() {
				interactive := s.classifier.IsInteractive(node)
				include = (interactive && (node.Visible || inIframe)) ||
					node.IsScrollable ||
					node.IsFrameElement()
			}
			if node.IsContentDocument || node == root {
				include = len(kept) > 0 || node == root
			}
			if include || len(kept) > 0 {
				sn := newSimplifiedNode(node)
				sn.Children = kept
				sn.IsIframeContent = inIframe && node != root
				if node.IsContentDocument {
					sn.IsIframeBoundary = true
				}
				promoted = []*SimplifiedNode{sn}
			} else {
				promoted = kept
			}
		default:
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

	if len(result) == 0 {
		return nil
	}
	return result[0]
}

// assignIndices walks the simplified tree in document order with an explicit
// stack, handing out 1-based indices to interactive, non-occluded nodes.
// Index order is the single tie-breaker consumers rely on, so the walk must
// be deterministic.
func (s *Serializer) assignIndices(root *SimplifiedNode, previousIDs schemas.BackendIDSet) SelectorMap {
	selector := SelectorMap{}
	next := 1

	stack := []*SimplifiedNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Node.IsElement() && !n.IgnoredByPaintOrder &&
			s.classifier.IsInteractive(n.Node) &&
			(n.Node.Visible || n.IsIframeContent) {
			n.InteractiveIndex = next
			selector[next] = n.Node
			if previousIDs != nil && !previousIDs.Contains(n.Node.BackendID) {
				n.IsNew = true
			}
			next++
		}

		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return selector
}

// Render produces the text form of the state for model consumption. The walk
// uses an explicit stack; nested iframe chains must not be able to overflow
// the call stack.
func (s *Serializer) Render(state *SerializedState) string {
	if state == nil || state.Root == nil {
		return ""
	}

	type item struct {
		node  *SimplifiedNode
		depth int
		// literal is emitted verbatim when node is nil; used for the closing
		// iframe marker, which must follow the boundary's children.
		literal string
	}

	var b strings.Builder
	stack := []item{{node: state.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		indent := strings.Repeat("\t", it.depth)
		if it.node == nil {
			b.WriteString(indent)
			b.WriteString(it.literal)
			b.WriteByte('\n')
			continue
		}

		n := it.node
		childDepth := it.depth
		switch {
		case n.IsIframeBoundary:
			b.WriteString(indent)
			b.WriteString("┌── IFRAME START (content document) ──\n")
			childDepth = it.depth + 1
			stack = append(stack, item{literal: "└── IFRAME END ──", depth: it.depth})
		case n.Node.IsText():
			b.WriteString(indent)
			b.WriteString(normalizeText(n.Node.Value, s.cfg.MaxTextLength))
			b.WriteByte('\n')
			continue
		case n.Node.IsElement():
			if line := s.renderElement(n); line != "" {
				b.WriteString(indent)
				b.WriteString(line)
				b.WriteByte('\n')
				childDepth = it.depth + 1
			}
		}

		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: n.Children[i], depth: childDepth})
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderElement formats one element line. Only indexed, scrollable or frame
// nodes get their own line; pure structural survivors render as indentation
// for their children.
func (s *Serializer) renderElement(n *SimplifiedNode) string {
	indexed := n.InteractiveIndex >= 0
	if !indexed && !n.Node.IsScrollable && !n.Node.IsFrameElement() {
		return ""
	}

	var b strings.Builder
	if n.IsNew {
		b.WriteByte('*')
	}
	if indexed {
		fmt.Fprintf(&b, "[%d]", n.InteractiveIndex)
	}
	if n.Node.IsScrollable {
		b.WriteString("|SCROLL|")
	}
	b.WriteByte('<')
	b.WriteString(n.Node.Tag)

	text := s.nodeText(n)
	if attrs := s.buildAttrString(n.Node, text); attrs != "" {
		b.WriteByte(' ')
		b.WriteString(attrs)
	}
	if text != "" {
		b.WriteByte('>')
		b.WriteString(text)
	}
	b.WriteString(" />")
	return b.String()
}

// nodeText gathers the node's own text content: descendant text nodes up to
// the text cap, stopping at children that carry their own index so their
// labels are not duplicated on the parent line.
func (s *Serializer) nodeText(n *SimplifiedNode) string {
	var parts []string
	total := 0

	stack := make([]*SimplifiedNode, 0, len(n.Children))
	for i := len(n.Children) - 1; i >= 0; i-- {
		stack = append(stack, n.Children[i])
	}
	for len(stack) > 0 && total < s.cfg.MaxTextLength {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if c.InteractiveIndex >= 0 || c.IsIframeBoundary {
			continue
		}
		if c.Node.IsText() {
			t := normalizeText(c.Node.Value, s.cfg.MaxTextLength-total)
			if t != "" {
				parts = append(parts, t)
				total += len(t)
			}
			continue
		}
		for i := len(c.Children) - 1; i >= 0; i-- {
			stack = append(stack, c.Children[i])
		}
	}
	text := normalizeText(strings.Join(parts, " "), s.cfg.MaxTextLength)

	// Accessible-name fallback for otherwise mute elements the filter kept.
	if text == "" && s.labelIDs != nil && n.Node.AX != nil {
		if _, ok := s.labelIDs[n.Node.BackendID]; ok {
			text = normalizeText(n.Node.AX.Name, s.cfg.MaxTextLength)
		}
	}
	return text
}

// buildAttrString emits the configured attribute subset in stable order with
// the noise rules applied: the role attribute is dropped when it repeats the
// tag name, label-like attributes are dropped when they repeat the element
// text, and longer values are emitted once even when several attributes
// share them.
func (s *Serializer) buildAttrString(n *Node, text string) string {
	seen := make(map[string]struct{})
	var parts []string

	for _, key := range s.cfg.IncludeAttributes {
		val, ok := n.Attrs[key]
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		if key == "role" && val == n.Tag {
			continue
		}
		if (key == "aria-label" || key == "placeholder" || key == "title") &&
			strings.TrimSpace(val) == strings.TrimSpace(text) && text != "" {
			continue
		}
		if len(val) > attrDedupMinLen {
			if _, dup := seen[val]; dup {
				continue
			}
			seen[val] = struct{}{}
		}
		parts = append(parts, key+"="+capText(val, attrValueCap))
	}
	return strings.Join(parts, " ")
}

// Elements flattens the indexed nodes into rows, in index order.
func (s *Serializer) Elements(state *SerializedState) []schemas.SerializedElement {
	if state == nil || state.Root == nil {
		return nil
	}

	type item struct {
		node  *SimplifiedNode
		depth int
	}
	out := make([]schemas.SerializedElement, len(state.SelectorMap))

	stack := []item{{node: state.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if idx := it.node.InteractiveIndex; idx >= 1 && idx <= len(out) {
			attrs := make(map[string]string, len(s.cfg.IncludeAttributes))
			for _, key := range s.cfg.IncludeAttributes {
				if v, ok := it.node.Node.Attrs[key]; ok && v != "" {
					attrs[key] = v
				}
			}
			out[idx-1] = schemas.SerializedElement{
				Index: idx,
				Tag:   it.node.Node.Tag,
				Text:  s.nodeText(it.node),
				IsNew: it.node.IsNew,
				Depth: it.depth,
				Attrs: attrs,
			}
		}
		for i := len(it.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: it.node.Children[i], depth: it.depth + 1})
		}
	}
	return out
}

// Tree exports the simplified tree into the product schema, returning the
// root and the index lookup into it.
func (s *Serializer) Tree(state *SerializedState) (*schemas.ElementNode, map[int]*schemas.ElementNode) {
	if state == nil || state.Root == nil {
		return nil, nil
	}

	type item struct {
		sn     *SimplifiedNode
		parent *schemas.ElementNode
	}
	selector := make(map[int]*schemas.ElementNode, len(state.SelectorMap))
	var root *schemas.ElementNode

	stack := []item{{sn: state.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		out := s.exportNode(it.sn)
		if it.parent == nil {
			root = out
		} else {
			it.parent.Children = append(it.parent.Children, out)
		}
		if it.sn.InteractiveIndex >= 1 {
			selector[it.sn.InteractiveIndex] = out
		}
		for i := len(it.sn.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{sn: it.sn.Children[i], parent: out})
		}
	}
	return root, selector
}

func (s *Serializer) exportNode(sn *SimplifiedNode) *schemas.ElementNode {
	n := sn.Node
	out := &schemas.ElementNode{
		BackendID:    n.BackendID,
		IsNew:        sn.IsNew,
		IsScrollable: n.IsScrollable,
	}
	if sn.InteractiveIndex >= 1 {
		out.Index = sn.InteractiveIndex
	}
	if n.IsText() {
		out.Text = normalizeText(n.Value, s.cfg.MaxTextLength)
	} else {
		out.Tag = n.Tag
		out.Text = s.nodeText(sn)
		attrs := make(map[string]string, len(s.cfg.IncludeAttributes))
		for _, key := range s.cfg.IncludeAttributes {
			if v, ok := n.Attrs[key]; ok && v != "" {
				attrs[key] = v
			}
		}
		if len(attrs) > 0 {
			out.Attrs = attrs
		}
	}
	if n.AbsolutePosition != nil {
		out.Bounds = &schemas.Rect{
			X:      n.AbsolutePosition.X,
			Y:      n.AbsolutePosition.Y,
			Width:  n.AbsolutePosition.Width,
			Height: n.AbsolutePosition.Height,
		}
	}
	return out
}

// normalizeText collapses runs of whitespace and caps length.
func normalizeText(v string, max int) string {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return ""
	}
	return capText(strings.Join(fields, " "), max)
}

// capText truncates to at most max bytes without splitting a rune, so the
// capped text is always valid UTF-8.
func capText(v string, max int) string {
	if max <= 0 || len(v) <= max {
		return v
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(v[cut]) {
		cut--
	}
	return v[:cut]
}
