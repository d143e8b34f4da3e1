// internal/dom/axfilter_test.go
package dom

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/domlens/api/schemas"
)

func withAX(n *Node, ax *AXNode) *Node {
	n.AX = ax
	return n
}

func axRoleName(role, name string) *AXNode {
	return &AXNode{Role: role, Name: name}
}

func filterTags(n *Node) []string {
	var out []string
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur.Tag)
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
	return out
}

func TestAXFilterKeepsInteractiveAndLandmarkRoles(t *testing.T) {
	root := document(1,
		withAX(elem("nav", 2), axRoleName("navigation", "")),
		withAX(elem("button", 3), axRoleName("button", "")),
		withAX(elem("div", 4), axRoleName("generic", "")),
	)
	f := NewAXFilter(false)
	got := f.Filter(root)
	require.NotNil(t, got)

	assert.Equal(t, []string{"#document", "nav", "button"}, filterTags(got))
	stats := f.Stats()
	assert.Equal(t, 4, stats.NodesVisited)
	assert.Equal(t, 2, stats.NodesKept)
	assert.Equal(t, 1, stats.Criteria[schemas.CriterionInteractiveRole])
	assert.Equal(t, 1, stats.Criteria[schemas.CriterionLandmarkRole])
}

func TestAXFilterFlattensStructuralWrappers(t *testing.T) {
	// button is buried under two generic wrappers; it must surface as a
	// direct child of the root.
	root := document(1,
		withAX(elem("div", 2,
			withAX(elem("span", 3,
				withAX(elem("button", 4), axRoleName("button", "Go")),
			), axRoleName("generic", "")),
		), axRoleName("generic", "")),
	)
	got := NewAXFilter(false).Filter(root)
	require.Len(t, got.Children, 1)
	assert.Equal(t, "button", got.Children[0].Tag)
}

func TestAXFilterContainerNeedsInterestingDescendant(t *testing.T) {
	empty := document(1,
		withAX(elem("ul", 2,
			withAX(elem("li", 3), axRoleName("generic", "")),
		), axRoleName("list", "")),
	)
	got := NewAXFilter(false).Filter(empty)
	assert.Empty(t, got.Children, "container with nothing interesting inside")

	populated := document(1,
		withAX(elem("ul", 2,
			withAX(elem("a", 3), axRoleName("link", "Home")),
		), axRoleName("list", "")),
	)
	got = NewAXFilter(false).Filter(populated)
	require.Len(t, got.Children, 1)
	assert.Equal(t, "ul", got.Children[0].Tag)
	require.Len(t, got.Children[0].Children, 1)
	assert.Equal(t, "a", got.Children[0].Children[0].Tag)
}

func TestAXFilterStrictMode(t *testing.T) {
	// One interesting descendant but no second criterion on the container
	// itself: lax keeps the container, strict flattens it away.
	tree := func() *Node {
		return document(1,
			withAX(elem("ul", 2,
				withAX(elem("a", 3), axRoleName("link", "Home")),
			), axRoleName("list", "")),
		)
	}

	lax := NewAXFilter(false).Filter(tree())
	require.Len(t, lax.Children, 1)
	assert.Equal(t, "ul", lax.Children[0].Tag)

	strict := NewAXFilter(true).Filter(tree())
	require.Len(t, strict.Children, 1)
	assert.Equal(t, "a", strict.Children[0].Tag, "link promoted past the dropped container")

	// A named container carries a second criterion and survives strict mode.
	named := document(1,
		withAX(elem("ul", 2,
			withAX(elem("a", 3), axRoleName("link", "Home")),
		), axRoleName("list", "Site menu")),
	)
	got := NewAXFilter(true).Filter(named)
	require.Len(t, got.Children, 1)
	assert.Equal(t, "ul", got.Children[0].Tag)
}

func TestAXFilterIdempotence(t *testing.T) {
	root := document(1,
		withAX(elem("nav", 2,
			withAX(elem("ul", 3,
				withAX(elem("a", 4), axRoleName("link", "Home")),
				withAX(elem("a", 5), axRoleName("link", "About")),
				withAX(elem("li", 6), axRoleName("generic", "")),
			), axRoleName("list", "")),
		), axRoleName("navigation", "Main")),
		withAX(elem("div", 7,
			withAX(elem("button", 8), axRoleName("button", "Send")),
		), axRoleName("generic", "")),
	)

	once := NewAXFilter(false).Filter(root)
	twice := NewAXFilter(false).Filter(once)
	assert.Empty(t, cmp.Diff(once, twice), "filtering a filtered tree must be a no-op")
}

func TestAXFilterKeptSet(t *testing.T) {
	root := document(1,
		withAX(elem("button", 2), axRoleName("button", "Go")),
		withAX(elem("div", 3), axRoleName("generic", "")),
	)
	f := NewAXFilter(false)
	f.Filter(root)
	assert.True(t, f.Kept().Contains(2))
	assert.False(t, f.Kept().Contains(3))
}
