// Package graph projects a strategy's registry and logic tree onto positioned nodes and
// edges for the visual editor. The projection is derived state and is never persisted.
package graph

import (
	"stratline/internal/domain"
	"stratline/internal/logic"
)

type Kind string

const (
	KindCondition Kind = "condition"
	KindGroup     Kind = "group"
	// KindMissing stands in for a ref whose condition is not in the registry.
	KindMissing Kind = "missing"
)

// Layout is the grid the projector places nodes on.
type Layout struct {
	RowHeight   int `json:"row_height" yaml:"row_height"`
	ColumnWidth int `json:"column_width" yaml:"column_width"`
}

func DefaultLayout() Layout {
	return Layout{RowHeight: 180, ColumnWidth: 320}
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Actions are the editor mutations a projected node can trigger.
type Actions interface {
	UpdateCondition(id string, patch domain.ConditionPatch) error
	RemoveCondition(id string)
	SetGroupOperator(id string, op domain.Operator)
	RemoveGroup(id string)
	// AddConditionToGroup always registers a new default condition; the ref is only
	// appended when groupID exists.
	AddConditionToGroup(groupID string) domain.Condition
	// AddGroupToGroup returns the new group id, or "" when groupID does not exist.
	AddGroupToGroup(groupID string) string
}

// ConditionHandlers are bound to one condition id.
type ConditionHandlers struct {
	OnUpdate func(patch domain.ConditionPatch) error
	OnRemove func()
}

// GroupHandlers are bound to one group id.
type GroupHandlers struct {
	OnOperator     func(op domain.Operator)
	OnRemove       func()
	OnAddCondition func() domain.Condition
	OnAddGroup     func() string
}

type Node struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"type"`
	Position  Position          `json:"position"`
	Depth     int               `json:"depth"`
	Root      bool              `json:"root,omitempty"`
	Operator  domain.Operator   `json:"operator,omitempty"`
	Condition *domain.Condition `json:"condition,omitempty"`

	ConditionActions *ConditionHandlers `json:"-"`
	GroupActions     *GroupHandlers     `json:"-"`
}

type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type Projection struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node looks up a projected node by id.
func (p Projection) Node(id string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Project walks the tree depth first from root. Each leaf placement (a condition, a missing
// ref or a group without children) advances the horizontal counter by one column; depth sets
// the row. Ids already emitted are skipped, and each (parent, child) edge is emitted once, so a
// tree that reuses an id still produces unique nodes and edges. actions may be nil, in which
// case nodes carry no handlers.
func Project(reg logic.Registry, root *domain.Group, layout Layout, actions Actions) Projection {
	p := projector{
		conditions:   make(map[string]domain.Condition, len(reg)),
		layout:       layout,
		actions:      actions,
		visitedNodes: map[string]struct{}{},
		visitedEdges: map[string]struct{}{},
	}
	for _, c := range reg {
		if _, dup := p.conditions[c.ID]; !dup {
			p.conditions[c.ID] = c
		}
	}
	if root != nil {
		p.traverse(root, "", 0)
	}
	return Projection{Nodes: p.nodes, Edges: p.edges}
}

type projector struct {
	conditions   map[string]domain.Condition
	layout       Layout
	actions      Actions
	visitedNodes map[string]struct{}
	visitedEdges map[string]struct{}
	counter      int
	nodes        []Node
	edges        []Edge
}

func (p *projector) traverse(n domain.Node, parentID string, depth int) {
	id := domain.ChildID(n)
	if id == "" {
		return
	}
	if _, seen := p.visitedNodes[id]; seen {
		return
	}
	p.visitedNodes[id] = struct{}{}
	pos := Position{X: p.counter * p.layout.ColumnWidth, Y: depth * p.layout.RowHeight}

	switch v := n.(type) {
	case domain.Ref:
		c, ok := p.conditions[v.ID]
		node := Node{ID: v.ID, Kind: KindMissing, Position: pos, Depth: depth}
		if ok {
			node.Kind = KindCondition
			node.Condition = &c
		}
		node.ConditionActions = p.conditionHandlers(v.ID, ok)
		p.nodes = append(p.nodes, node)
		p.counter++
	case *domain.Group:
		p.nodes = append(p.nodes, Node{
			ID:           v.ID,
			Kind:         KindGroup,
			Position:     pos,
			Depth:        depth,
			Root:         parentID == "",
			Operator:     v.Operator,
			GroupActions: p.groupHandlers(v.ID),
		})
		if parentID != "" {
			p.edge(parentID, v.ID)
		}
		if len(v.Children) == 0 {
			p.counter++
			return
		}
		for _, child := range v.Children {
			childID := domain.ChildID(child)
			if childID == "" {
				continue
			}
			p.edge(v.ID, childID)
			p.traverse(child, v.ID, depth+1)
		}
	}
}

func (p *projector) edge(source, target string) {
	id := source + "-" + target
	if _, seen := p.visitedEdges[id]; seen {
		return
	}
	p.visitedEdges[id] = struct{}{}
	p.edges = append(p.edges, Edge{ID: id, Source: source, Target: target})
}

func (p *projector) conditionHandlers(id string, present bool) *ConditionHandlers {
	return BindCondition(p.actions, id, present)
}

func (p *projector) groupHandlers(id string) *GroupHandlers {
	return BindGroup(p.actions, id)
}

// BindCondition scopes the condition mutations of a to id. Missing conditions can only be
// removed. A nil a yields nil.
func BindCondition(a Actions, id string, present bool) *ConditionHandlers {
	if a == nil {
		return nil
	}
	h := &ConditionHandlers{OnRemove: func() { a.RemoveCondition(id) }}
	if present {
		h.OnUpdate = func(patch domain.ConditionPatch) error { return a.UpdateCondition(id, patch) }
	}
	return h
}

// BindGroup scopes the group mutations of a to id.
func BindGroup(a Actions, id string) *GroupHandlers {
	if a == nil {
		return nil
	}
	return &GroupHandlers{
		OnOperator:     func(op domain.Operator) { a.SetGroupOperator(id, op) },
		OnRemove:       func() { a.RemoveGroup(id) },
		OnAddCondition: func() domain.Condition { return a.AddConditionToGroup(id) },
		OnAddGroup:     func() string { return a.AddGroupToGroup(id) },
	}
}
