package logic

import "stratline/internal/domain"

// AddConditionToGroup creates a condition of type t and appends a ref to it under the group
// targetID. The condition always enters the registry; when the group does not exist the tree
// comes back unchanged.
func AddConditionToGroup(reg Registry, root *domain.Group, targetID string, t domain.ConditionType, asset string) (Registry, *domain.Group, domain.Condition) {
	c := CreateCondition(t, asset)
	tree, _ := AppendToGroup(root, targetID, domain.Ref{ID: c.ID})
	return reg.Add(c), tree, c
}

// AddGroupToGroup appends a fresh empty AND group under targetID. Missing targets are a no-op.
func AddGroupToGroup(root *domain.Group, targetID string) (*domain.Group, *domain.Group) {
	g := domain.NewGroup(NewID())
	tree, _ := AppendToGroup(root, targetID, g)
	return tree, g
}

// RemoveCondition deletes the condition and purges every ref to it from the tree.
func RemoveCondition(reg Registry, root *domain.Group, id string) (Registry, *domain.Group) {
	return reg.Remove(id), RemoveRefFromTree(root, id)
}

// StripGroupIDs copies the tree without group ids, which is the wire form of a logic tree.
func StripGroupIDs(g *domain.Group) *domain.Group {
	if g == nil {
		return nil
	}
	out := &domain.Group{Operator: g.Operator}
	for _, c := range g.Children {
		switch v := c.(type) {
		case domain.Ref:
			out.Children = append(out.Children, v)
		case *domain.Group:
			if v != nil {
				out.Children = append(out.Children, StripGroupIDs(v))
			}
		}
	}
	return out
}

// EqualModuloIDs compares operators and child structure and order, ignoring group ids.
// A nil and an empty child list are equal.
func EqualModuloIDs(a, b *domain.Group) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Operator != b.Operator || len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		switch av := a.Children[i].(type) {
		case domain.Ref:
			bv, ok := b.Children[i].(domain.Ref)
			if !ok || av.ID != bv.ID {
				return false
			}
		case *domain.Group:
			bv, ok := b.Children[i].(*domain.Group)
			if !ok || !EqualModuloIDs(av, bv) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
