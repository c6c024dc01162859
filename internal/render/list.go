// Package render walks a strategy's registry and logic tree without coordinates for the
// non-visual editor. Rows bind the same editor actions as the graph projection.
package render

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/list"

	"stratline/internal/domain"
	"stratline/internal/graph"
	"stratline/internal/logic"
)

type Row struct {
	Depth int        `json:"depth"`
	Kind  graph.Kind `json:"type"`
	ID    string     `json:"id"`
	// Path is the child-index path from root, e.g. "0/2". Root has an empty path.
	Path      string            `json:"path"`
	Root      bool              `json:"root,omitempty"`
	Operator  domain.Operator   `json:"operator,omitempty"`
	Condition *domain.Condition `json:"condition,omitempty"`
	Summary   string            `json:"summary,omitempty"`

	ConditionActions *graph.ConditionHandlers `json:"-"`
	GroupActions     *graph.GroupHandlers     `json:"-"`
}

// Rows renders root inline at depth 0 followed by its children in order, nested groups
// one level deeper. Refs to conditions not in reg become missing rows.
func Rows(reg logic.Registry, root *domain.Group, actions graph.Actions) []Row {
	if root == nil {
		return nil
	}
	w := walker{reg: reg, actions: actions}
	w.group(root, nil, 0)
	return w.rows
}

type walker struct {
	reg     logic.Registry
	actions graph.Actions
	rows    []Row
}

func (w *walker) group(g *domain.Group, path []int, depth int) {
	w.rows = append(w.rows, Row{
		Depth:        depth,
		Kind:         graph.KindGroup,
		ID:           g.ID,
		Path:         joinPath(path),
		Root:         depth == 0,
		Operator:     g.Operator,
		GroupActions: graph.BindGroup(w.actions, g.ID),
	})
	for i, child := range g.Children {
		childPath := append(path[:len(path):len(path)], i)
		switch v := child.(type) {
		case domain.Ref:
			w.ref(v, childPath, depth+1)
		case *domain.Group:
			if v != nil {
				w.group(v, childPath, depth+1)
			}
		}
	}
}

func (w *walker) ref(r domain.Ref, path []int, depth int) {
	row := Row{Depth: depth, Kind: graph.KindMissing, ID: r.ID, Path: joinPath(path)}
	c, ok := w.reg.Get(r.ID)
	if ok {
		row.Kind = graph.KindCondition
		row.Condition = &c
		row.Summary = c.Summary()
	}
	row.ConditionActions = graph.BindCondition(w.actions, r.ID, ok)
	w.rows = append(w.rows, row)
}

func joinPath(path []int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, "/")
}

// Text renders rows as an indented list for terminals.
func Text(rows []Row) string {
	if len(rows) == 0 {
		return ""
	}
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedRounded)
	depth := 0
	for _, r := range rows {
		for depth < r.Depth {
			l.Indent()
			depth++
		}
		for depth > r.Depth {
			l.UnIndent()
			depth--
		}
		l.AppendItem(label(r))
	}
	return l.Render()
}

func label(r Row) string {
	switch r.Kind {
	case graph.KindGroup:
		s := strings.ToUpper(string(r.Operator))
		if r.Path != "" {
			s = "[" + r.Path + "] " + s
		}
		return s
	case graph.KindMissing:
		return "[" + r.Path + "] missing condition " + r.ID
	default:
		s := "[" + r.Path + "] " + r.Summary
		if r.Condition.Label != "" {
			s += " (" + r.Condition.Label + ")"
		}
		if !r.Condition.IsEnabled() {
			s += " [disabled]"
		}
		return s
	}
}
