// internal/dom/paintorder.go
package dom

// coverageThreshold is the fraction of a node's area another element must
// cover, at a strictly higher paint order, before the node counts as hidden.
const coverageThreshold = 0.99

type paintEntry struct {
	node  *SimplifiedNode
	in    int
	out   int
	order int64
	rect  *DOMRect
}

// applyPaintOrder flags simplified nodes that are fully painted over by a
// later element. It only ever removes candidates (sets IgnoredByPaintOrder);
// it never promotes anything, so skipping it only errs towards extra
// elements. Runs before interactive indices are assigned.
func applyPaintOrder(root *SimplifiedNode) {
	if root == nil {
		return
	}

	entries := numberPaintEntries(root)

	for i := range entries {
		victim := &entries[i]
		area := victim.rect.Area()
		if area <= 0 {
			continue
		}
		for j := range entries {
			if i == j {
				continue
			}
			occ := &entries[j]
			if occ.order <= victim.order {
				continue
			}
			// A container painting over its own subtree, or a child over
			// its parent, is stacking, not occlusion.
			if occ.in <= victim.in && occ.out >= victim.out {
				continue
			}
			if occ.in >= victim.in && occ.out <= victim.out {
				continue
			}
			if occ.node.Node.Snapshot != nil &&
				occ.node.Node.Snapshot.ComputedStyles["pointer-events"] == "none" {
				continue
			}
			if intersectionArea(*victim.rect, *occ.rect)/area >= coverageThreshold {
				victim.node.IgnoredByPaintOrder = true
				break
			}
		}
	}
}

// numberPaintEntries collects every node carrying paint data, interval
// numbered so ancestor/descendant pairs can be told apart in O(1). Explicit
// stack; page depth must not be able to overflow the call stack.
func numberPaintEntries(root *SimplifiedNode) []paintEntry {
	type frame struct {
		node     *SimplifiedNode
		childIdx int
		entry    int // index into entries, -1 when the node has no paint data
	}

	var entries []paintEntry
	clock := 0

	push := func(stack []frame, n *SimplifiedNode) []frame {
		clock++
		idx := -1
		if snap := n.Node.Snapshot; snap != nil && snap.HasPaintOrder && snap.Bounds != nil && snap.Bounds.Area() > 0 {
			idx = len(entries)
			entries = append(entries, paintEntry{
				node:  n,
				in:    clock,
				order: snap.PaintOrder,
				rect:  snap.Bounds,
			})
		}
		return append(stack, frame{node: n, entry: idx})
	}

	stack := push(nil, root)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.childIdx < len(top.node.Children) {
			child := top.node.Children[top.childIdx]
			top.childIdx++
			stack = push(stack, child)
			continue
		}
		clock++
		if top.entry >= 0 {
			entries[top.entry].out = clock
		}
		stack = stack[:len(stack)-1]
	}
	return entries
}
