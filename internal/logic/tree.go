package logic

import "stratline/internal/domain"

// EnsureGroupID returns g unchanged when it already has an id, otherwise a copy with a fresh one.
func EnsureGroupID(g *domain.Group) *domain.Group {
	if g == nil {
		return domain.NewGroup(NewID())
	}
	if g.ID != "" {
		return g
	}
	cp := *g
	cp.ID = NewID()
	return &cp
}

// NormalizeTree assigns ids to every group lacking one and defaults empty operators to AND.
// Refs are untouched. Subtrees that need no change are shared with the input, so applying it
// to an already normalized tree returns the same tree.
func NormalizeTree(g *domain.Group) *domain.Group {
	if g == nil {
		return domain.NewGroup(NewID())
	}
	out := mapChildren(g, func(n domain.Node) (domain.Node, bool) {
		switch v := n.(type) {
		case *domain.Group:
			return NormalizeTree(v), true
		case domain.Ref:
			return v, true
		default:
			return nil, false
		}
	})
	if out.ID != "" && out.Operator != "" {
		return out
	}
	if out == g {
		cp := *g
		out = &cp
	}
	if out.ID == "" {
		out.ID = NewID()
	}
	if out.Operator == "" {
		out.Operator = domain.OperatorAnd
	}
	return out
}

// AppendToGroup appends child to the first group, in depth-first pre-order, whose id is
// targetID. When there is no such group the tree is returned as is and found is false.
func AppendToGroup(root *domain.Group, targetID string, child domain.Node) (tree *domain.Group, found bool) {
	if root == nil || targetID == "" {
		return root, false
	}
	if root.ID == targetID {
		cp := *root
		cp.Children = make([]domain.Node, 0, len(root.Children)+1)
		cp.Children = append(cp.Children, root.Children...)
		cp.Children = append(cp.Children, child)
		return &cp, true
	}
	for i, c := range root.Children {
		g, ok := c.(*domain.Group)
		if !ok {
			continue
		}
		if ng, ok := AppendToGroup(g, targetID, child); ok {
			return replaceChild(root, i, ng), true
		}
	}
	return root, false
}

// UpdateGroupInTree replaces the group whose id matches updated.ID. Only groups on the path
// from root to the match are rebuilt; every other subtree is shared with root.
func UpdateGroupInTree(root, updated *domain.Group) *domain.Group {
	if root == nil || updated == nil {
		return root
	}
	if root.ID == updated.ID {
		return updated
	}
	return mapChildren(root, func(n domain.Node) (domain.Node, bool) {
		if g, ok := n.(*domain.Group); ok {
			return UpdateGroupInTree(g, updated), true
		}
		return n, true
	})
}

// RemoveGroupFromTree removes the first group, in depth-first pre-order, whose id is targetID.
// The root is never removed; clearing it is the caller's job (see ClearGroup).
func RemoveGroupFromTree(root *domain.Group, targetID string) *domain.Group {
	if root == nil || targetID == "" {
		return root
	}
	out, _ := removeGroup(root, targetID)
	return out
}

func removeGroup(g *domain.Group, targetID string) (*domain.Group, bool) {
	for i, c := range g.Children {
		child, ok := c.(*domain.Group)
		if !ok || child == nil {
			continue
		}
		if child.ID == targetID {
			return withoutChild(g, i), true
		}
		if ng, ok := removeGroup(child, targetID); ok {
			return replaceChild(g, i, ng), true
		}
	}
	return g, false
}

// RemoveRefFromTree removes every ref to refID. A non-root group left with no children by the
// removal is pruned from its parent, which can cascade upward. Groups that were already empty
// are kept, and the root stays even when emptied.
func RemoveRefFromTree(root *domain.Group, refID string) *domain.Group {
	if root == nil {
		return root
	}
	return mapChildren(root, func(n domain.Node) (domain.Node, bool) {
		switch v := n.(type) {
		case domain.Ref:
			return v, v.ID != refID
		case *domain.Group:
			if v == nil {
				return n, true
			}
			ng := RemoveRefFromTree(v, refID)
			if len(v.Children) > 0 && len(ng.Children) == 0 {
				return nil, false
			}
			return ng, true
		default:
			return n, true
		}
	})
}

// ClearGroup returns g with its children dropped; id and operator are kept.
func ClearGroup(g *domain.Group) *domain.Group {
	if g == nil {
		return g
	}
	cp := *g
	cp.Children = nil
	return &cp
}

// WithOperator returns g with op set.
func WithOperator(g *domain.Group, op domain.Operator) *domain.Group {
	cp := *g
	cp.Operator = op
	return &cp
}

// FindGroup returns the first group with the given id in depth-first pre-order.
func FindGroup(root *domain.Group, id string) (*domain.Group, bool) {
	if root == nil {
		return nil, false
	}
	if root.ID == id {
		return root, true
	}
	for _, c := range root.Children {
		if g, ok := c.(*domain.Group); ok {
			if found, ok := FindGroup(g, id); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// GroupAt resolves a child-index path such as [0 2] (root's first child, then its third child).
// An empty path is the root. Every step must land on a group.
func GroupAt(root *domain.Group, path []int) (*domain.Group, bool) {
	g := root
	for _, idx := range path {
		if g == nil || idx < 0 || idx >= len(g.Children) {
			return nil, false
		}
		next, ok := g.Children[idx].(*domain.Group)
		if !ok {
			return nil, false
		}
		g = next
	}
	return g, g != nil
}

// RefIDs lists the condition ids referenced anywhere in the tree, in traversal order.
func RefIDs(root *domain.Group) []string {
	var ids []string
	var walk func(g *domain.Group)
	walk = func(g *domain.Group) {
		if g == nil {
			return
		}
		for _, c := range g.Children {
			switch v := c.(type) {
			case domain.Ref:
				ids = append(ids, v.ID)
			case *domain.Group:
				walk(v)
			}
		}
	}
	if root != nil {
		walk(root)
	}
	return ids
}

// CountGroups counts root and every nested group.
func CountGroups(root *domain.Group) int {
	if root == nil {
		return 0
	}
	n := 1
	for _, c := range root.Children {
		if g, ok := c.(*domain.Group); ok {
			n += CountGroups(g)
		}
	}
	return n
}

// mapChildren applies fn to each child; fn returns the replacement and whether to keep it.
// g itself is returned when every child comes back identical and kept.
func mapChildren(g *domain.Group, fn func(domain.Node) (domain.Node, bool)) *domain.Group {
	var out []domain.Node
	changed := false
	for i, c := range g.Children {
		n, keep := fn(c)
		if !changed && (!keep || n != c) {
			changed = true
			out = make([]domain.Node, i, len(g.Children))
			copy(out, g.Children[:i])
		}
		if changed && keep {
			out = append(out, n)
		}
	}
	if !changed {
		return g
	}
	cp := *g
	if len(out) == 0 {
		out = nil
	}
	cp.Children = out
	return &cp
}

func replaceChild(g *domain.Group, i int, n domain.Node) *domain.Group {
	cp := *g
	cp.Children = make([]domain.Node, len(g.Children))
	copy(cp.Children, g.Children)
	cp.Children[i] = n
	return &cp
}

func withoutChild(g *domain.Group, i int) *domain.Group {
	cp := *g
	out := make([]domain.Node, 0, len(g.Children)-1)
	out = append(out, g.Children[:i]...)
	out = append(out, g.Children[i+1:]...)
	if len(out) == 0 {
		out = nil
	}
	cp.Children = out
	return &cp
}
