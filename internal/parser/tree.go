package parser

import (
	"fmt"
	"sort"
)

// Flatten returns the parts of the tree rooted at root in order.
func Flatten(root *Part) []*Part {
	var parts []*Part
	Walk(root, func(p *Part) {
		parts = append(parts, p)
	})
	return parts
}

// Walk visits the tree depth-first in document order.
func Walk(root *Part, fn func(*Part)) {
	if root == nil {
		return
	}
	fn(root)
	for _, c := range root.Children {
		Walk(c, fn)
	}
}

// Rebuild reconstructs a part tree from flat parts using only their Order
// and ParentOrder. Existing Children slices are discarded.
func Rebuild(parts []*Part) (*Part, error) {
	sorted := make([]*Part, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	byOrder := make(map[int]*Part, len(sorted))
	for _, p := range sorted {
		if _, dup := byOrder[p.Order]; dup {
			return nil, fmt.Errorf("duplicate part order %d", p.Order)
		}
		p.Children = nil
		byOrder[p.Order] = p
	}

	var root *Part
	for _, p := range sorted {
		if p.ParentOrder == NoParent {
			if root != nil {
				return nil, fmt.Errorf("part %d: second root part", p.Order)
			}
			root = p
			continue
		}
		parent, ok := byOrder[p.ParentOrder]
		if !ok {
			return nil, fmt.Errorf("part %d: parent %d not found", p.Order, p.ParentOrder)
		}
		// A parent always precedes its children in document order, which
		// also rules out cycles.
		if parent.Order >= p.Order {
			return nil, fmt.Errorf("part %d: parent %d does not precede it", p.Order, p.ParentOrder)
		}
		if parent.Kind != KindContainer {
			return nil, fmt.Errorf("part %d: parent %d is not a container", p.Order, p.ParentOrder)
		}
		parent.Children = append(parent.Children, p)
	}
	if root == nil {
		return nil, fmt.Errorf("no root part")
	}
	return root, nil
}
