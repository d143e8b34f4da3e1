// internal/dom/serializer_test.go
package dom

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/domlens/api/schemas"
)

func pageTree(bodyChildren ...*Node) *MergedTree {
	return mergedTree(document(1,
		elem("html", 2,
			elem("body", 3, bodyChildren...),
		),
	))
}

func indexToBackend(m SelectorMap) map[int]cdp.BackendNodeID {
	out := make(map[int]cdp.BackendNodeID, len(m))
	for idx, n := range m {
		out[idx] = n.BackendID
	}
	return out
}

func TestSerializeSingleButtonAmongHiddenDivs(t *testing.T) {
	children := []*Node{
		elem("button", 10, textNode(11, "Click me")),
	}
	for i := int64(0); i < 10; i++ {
		children = append(children, hidden(withAttrs(elem("div", 20+i), "onclick", "go()")))
	}

	state := NewSerializer(testCfg(), nil).Serialize(pageTree(children...), nil, false)

	require.Len(t, state.SelectorMap, 1)
	assert.Equal(t, "button", state.SelectorMap[1].Tag)
}

func TestSerializeSelectWithOptions(t *testing.T) {
	tree := pageTree(
		elem("select", 10,
			elem("option", 11, textNode(21, "One")),
			elem("option", 12, textNode(22, "Two")),
			elem("option", 13, textNode(23, "Three")),
		),
	)
	state := NewSerializer(testCfg(), nil).Serialize(tree, nil, false)

	require.Len(t, state.SelectorMap, 4)
	assert.Equal(t, "select", state.SelectorMap[1].Tag)
	for idx := 2; idx <= 4; idx++ {
		assert.Equal(t, "option", state.SelectorMap[idx].Tag)
	}
}

func TestSerializeDeterminism(t *testing.T) {
	tree := pageTree(
		elem("a", 10, textNode(20, "Home")),
		elem("select", 11,
			elem("option", 12, textNode(21, "One")),
		),
		elem("button", 13, textNode(22, "Send")),
	)

	first := NewSerializer(testCfg(), nil)
	second := NewSerializer(testCfg(), nil)
	s1 := first.Serialize(tree, nil, false)
	s2 := second.Serialize(tree, nil, false)

	assert.Equal(t, indexToBackend(s1.SelectorMap), indexToBackend(s2.SelectorMap))
	assert.Equal(t, first.Render(s1), second.Render(s2))
}

func TestSerializeDiffFlagsOnlyNewNodes(t *testing.T) {
	stepN := pageTree(
		elem("a", 10, textNode(20, "Home")),
		elem("button", 11, textNode(21, "Send")),
	)
	s1 := NewSerializer(testCfg(), nil).Serialize(stepN, nil, false)
	require.Len(t, s1.SelectorMap, 2)

	stepN1 := pageTree(
		elem("a", 10, textNode(20, "Home")),
		elem("button", 11, textNode(21, "Send")),
		elem("button", 12, textNode(22, "Retry")),
	)
	prev := schemas.BackendIDSet(s1.BackendIDs())
	ser := NewSerializer(testCfg(), nil)
	s2 := ser.Serialize(stepN1, prev, false)

	require.Len(t, s2.SelectorMap, 3)
	assert.Equal(t, cdp.BackendNodeID(12), s2.SelectorMap[3].BackendID)

	flagged := map[cdp.BackendNodeID]bool{}
	collectNewFlags(s2.Root, flagged)
	assert.True(t, flagged[12], "the added button must be flagged")
	assert.False(t, flagged[10])
	assert.False(t, flagged[11])

	rendered := ser.Render(s2)
	assert.Contains(t, rendered, "*[3]<button")
	assert.NotContains(t, rendered, "*[1]")
	assert.NotContains(t, rendered, "*[2]")
}

func collectNewFlags(n *SimplifiedNode, out map[cdp.BackendNodeID]bool) {
	if n.InteractiveIndex >= 0 {
		out[n.Node.BackendID] = n.IsNew
	}
	for _, c := range n.Children {
		collectNewFlags(c, out)
	}
}

func TestSerializeNilPreviousFlagsNothing(t *testing.T) {
	tree := pageTree(elem("button", 10, textNode(20, "Send")))
	state := NewSerializer(testCfg(), nil).Serialize(tree, nil, false)

	flagged := map[cdp.BackendNodeID]bool{}
	collectNewFlags(state.Root, flagged)
	assert.False(t, flagged[10], "no baseline, nothing is new")
}

func TestRenderFormat(t *testing.T) {
	scrollable := elem("div", 10,
		withAttrs(elem("button", 11, textNode(20, "Send")), "type", "submit"),
	)
	scrollable.IsScrollable = true

	ser := NewSerializer(testCfg(), nil)
	state := ser.Serialize(pageTree(scrollable), nil, false)
	rendered := ser.Render(state)

	lines := strings.Split(rendered, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "|SCROLL|<div />", lines[0])
	assert.Equal(t, "\t[1]<button type=submit>Send />", lines[1])
	assert.Equal(t, "\t\tSend", lines[2])
}

func TestRenderIframeBoundaryMarkers(t *testing.T) {
	contentDoc := document(30, elem("button", 31, textNode(32, "Inner")))
	contentDoc.IsContentDocument = true
	iframe := elem("iframe", 10, contentDoc)

	ser := NewSerializer(testCfg(), nil)
	state := ser.Serialize(pageTree(iframe), nil, false)
	rendered := ser.Render(state)

	assert.Contains(t, rendered, "IFRAME START (content document)")
	assert.Contains(t, rendered, "IFRAME END")
	assert.Contains(t, rendered, "<button")
}

func TestAccessibleNameLabelFallback(t *testing.T) {
	button := elem("button", 10)
	button.AX = &AXNode{Role: "button", Name: "Search"}

	labels := schemas.BackendIDSet{10: {}}
	ser := NewSerializer(testCfg(), labels)
	state := ser.Serialize(pageTree(button), nil, false)

	assert.Contains(t, ser.Render(state), "[1]<button>Search />")
}

func TestBuildAttrString(t *testing.T) {
	ser := NewSerializer(testCfg(), nil)

	t.Run("role matching tag dropped", func(t *testing.T) {
		n := withAttrs(elem("button", 1), "role", "button", "type", "submit")
		assert.Equal(t, "type=submit", ser.buildAttrString(n, ""))
	})

	t.Run("label matching text dropped", func(t *testing.T) {
		n := withAttrs(elem("button", 2), "aria-label", "Send")
		assert.Equal(t, "", ser.buildAttrString(n, "Send"))
	})

	t.Run("duplicate long values emitted once", func(t *testing.T) {
		n := withAttrs(elem("input", 3), "title", "Duplicate", "aria-label", "Duplicate")
		assert.Equal(t, "title=Duplicate", ser.buildAttrString(n, ""))
	})

	t.Run("long values capped", func(t *testing.T) {
		n := withAttrs(elem("input", 4), "placeholder", "Type your search query here")
		assert.Equal(t, "placeholder=Type your searc", ser.buildAttrString(n, ""))
	})
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", normalizeText("  a\n\n b\tc  ", 100))
	assert.Equal(t, "abcde", normalizeText("abcdefgh", 5))
	assert.Equal(t, "", normalizeText("   \n\t ", 100))
}

func TestCapTextNeverSplitsRunes(t *testing.T) {
	capped := normalizeText("日本語テキスト", 5)
	assert.Equal(t, "日", capped, "cap backs off to the last whole rune")
	assert.True(t, utf8.ValidString(capped))

	for max := 1; max <= 12; max++ {
		assert.True(t, utf8.ValidString(capText("héllo wörld", max)), "max=%d", max)
	}
	assert.Equal(t, "ascii", capText("ascii", 10), "short values pass through untouched")
}

func TestTreeExport(t *testing.T) {
	tree := pageTree(
		withAttrs(elem("a", 10, textNode(20, "Home")), "title", "Go home"),
		elem("button", 11, textNode(21, "Send")),
	)
	ser := NewSerializer(testCfg(), nil)
	state := ser.Serialize(tree, nil, false)

	root, selector := ser.Tree(state)
	require.NotNil(t, root)
	require.Len(t, selector, 2)

	assert.Equal(t, cdp.BackendNodeID(10), selector[1].BackendID)
	assert.Equal(t, "a", selector[1].Tag)
	assert.Equal(t, "Home", selector[1].Text)
	assert.Equal(t, 1, selector[1].Index)
	assert.Equal(t, "Go home", selector[1].Attrs["title"])
	assert.Equal(t, cdp.BackendNodeID(11), selector[2].BackendID)

	// The map entries are the tree's own nodes, not copies.
	found := map[int]bool{}
	stack := []*schemas.ElementNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Index > 0 {
			assert.Same(t, selector[n.Index], n)
			found[n.Index] = true
		}
		stack = append(stack, n.Children...)
	}
	assert.Len(t, found, 2)
}

func TestSelectorMapResolve(t *testing.T) {
	tree := pageTree(elem("button", 10, textNode(20, "Send")))
	state := NewSerializer(testCfg(), nil).Serialize(tree, nil, false)

	n, err := state.ElementByIndex(1)
	require.NoError(t, err)
	assert.Equal(t, cdp.BackendNodeID(10), n.BackendID)

	_, err = state.ElementByIndex(7)
	var stale *schemas.StaleIndexError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 7, stale.Index)

	var nilState *SerializedState
	_, err = nilState.ElementByIndex(1)
	assert.ErrorAs(t, err, &stale)
}

func TestRenderSurvivesDeepNesting(t *testing.T) {
	// A pathologically deep simplified chain; structural divs render no line
	// of their own, so the output stays small while the walk goes deep.
	button := newSimplifiedNode(elem("button", 1))
	button.InteractiveIndex = 1
	chain := button
	for i := int64(0); i < 200000; i++ {
		parent := newSimplifiedNode(elem("div", 100+i))
		parent.Children = []*SimplifiedNode{chain}
		chain = parent
	}
	state := &SerializedState{Root: chain, SelectorMap: SelectorMap{1: button.Node}}

	rendered := NewSerializer(testCfg(), nil).Render(state)
	assert.Contains(t, rendered, "[1]<button />")
}

func TestSerializeDropsSingleCharacterFragments(t *testing.T) {
	tree := pageTree(elem("button", 10, textNode(20, " x ")))
	ser := NewSerializer(testCfg(), nil)
	state := ser.Serialize(tree, nil, false)

	assert.Contains(t, ser.Render(state), "[1]<button />")
}

func TestElementsRows(t *testing.T) {
	tree := pageTree(
		withAttrs(elem("a", 10, textNode(20, "Home")), "title", "Go home"),
		elem("button", 11, textNode(21, "Send")),
	)
	ser := NewSerializer(testCfg(), nil)
	state := ser.Serialize(tree, nil, false)
	rows := ser.Elements(state)

	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Index)
	assert.Equal(t, "a", rows[0].Tag)
	assert.Equal(t, "Home", rows[0].Text)
	assert.Equal(t, "Go home", rows[0].Attrs["title"])
	assert.Equal(t, 2, rows[1].Index)
	assert.Equal(t, "button", rows[1].Tag)
}
