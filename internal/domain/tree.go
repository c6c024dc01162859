package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Operator combines the children of a Group.
type Operator string

const (
	OperatorAnd Operator = "AND"
	OperatorOr  Operator = "OR"
)

// Valid reports whether o is AND or OR.
func (o Operator) Valid() bool {
	return o == OperatorAnd || o == OperatorOr
}

// ErrMalformedNode is returned when a logic tree child is neither a ref nor a group.
var ErrMalformedNode = errors.New("malformed logic node")

// Node is either a Ref or a *Group.
type Node interface {
	node()
}

// Ref points at exactly one Condition in the registry.
type Ref struct {
	ID string
}

// Group is an AND/OR combinator. Groups are treated as immutable once built;
// mutators return new groups along the edited path and share everything else.
type Group struct {
	ID       string
	Operator Operator
	Children []Node
}

func (Ref) node()    {}
func (*Group) node() {}

// NewGroup returns an empty AND group with the given id.
func NewGroup(id string) *Group {
	return &Group{ID: id, Operator: OperatorAnd}
}

// ChildID returns the id a child is keyed by: the referenced condition for a Ref,
// the group id for a Group.
func ChildID(n Node) string {
	switch v := n.(type) {
	case Ref:
		return v.ID
	case *Group:
		if v == nil {
			return ""
		}
		return v.ID
	default:
		return ""
	}
}

type refJSON struct {
	Ref string `json:"ref"`
}

type groupJSON struct {
	ID         string            `json:"id,omitempty"`
	Operator   Operator          `json:"operator"`
	Conditions []json.RawMessage `json:"conditions"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(refJSON{Ref: r.ID})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var aux refJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ID = aux.Ref
	return nil
}

// MarshalJSON writes {id?, operator, conditions}. The id is omitted when empty, which is
// how the wire format (no client ids) is produced.
func (g *Group) MarshalJSON() ([]byte, error) {
	if g == nil {
		return []byte("null"), nil
	}
	children := make([]json.RawMessage, 0, len(g.Children))
	for _, c := range g.Children {
		var (
			b   []byte
			err error
		)
		switch v := c.(type) {
		case Ref:
			b, err = v.MarshalJSON()
		case *Group:
			b, err = v.MarshalJSON()
		default:
			err = fmt.Errorf("%w: %T", ErrMalformedNode, c)
		}
		if err != nil {
			return nil, err
		}
		children = append(children, b)
	}
	return json.Marshal(groupJSON{ID: g.ID, Operator: g.Operator, Conditions: children})
}

// UnmarshalJSON accepts groups with or without ids. A missing conditions array decodes as empty.
func (g *Group) UnmarshalJSON(data []byte) error {
	var aux groupJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	out := Group{ID: aux.ID, Operator: aux.Operator}
	for i, raw := range aux.Conditions {
		n, err := decodeNode(raw)
		if err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
		out.Children = append(out.Children, n)
	}
	*g = out
	return nil
}

func decodeNode(raw json.RawMessage) (Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, ErrMalformedNode
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNode, err)
	}
	if _, ok := probe["ref"]; ok {
		var r Ref
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNode, err)
		}
		return r, nil
	}
	_, hasOp := probe["operator"]
	_, hasChildren := probe["conditions"]
	_, hasID := probe["id"]
	if !hasOp && !hasChildren && !hasID {
		return nil, ErrMalformedNode
	}
	g := &Group{}
	if err := json.Unmarshal(raw, g); err != nil {
		return nil, err
	}
	return g, nil
}
