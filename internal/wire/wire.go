// Package wire converts between the backend strategy payload and the editable state.
// Loading reinstates group ids; saving strips them and sanitizes condition payloads.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"stratline/internal/domain"
	"stratline/internal/logic"
)

// ErrInvalidPayload wraps any failure to decode a strategy payload.
var ErrInvalidPayload = errors.New("invalid strategy payload")

// State is what the editor works on. Tree always has ids on every group.
type State struct {
	Meta       domain.StrategyMeta
	Conditions logic.Registry
	Tree       *domain.Group
}

// Load normalizes a wire strategy into editable state. A missing logic tree becomes an
// empty root AND group.
func Load(s domain.Strategy) State {
	conds := make(logic.Registry, len(s.Conditions))
	copy(conds, s.Conditions)
	meta := s.StrategyMeta
	meta.Assets = append([]string(nil), s.Assets...)
	return State{
		Meta:       meta,
		Conditions: conds,
		Tree:       logic.NormalizeTree(s.LogicTree),
	}
}

// Decode parses a JSON strategy payload and loads it.
func Decode(data []byte) (State, error) {
	var s domain.Strategy
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return State{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return Load(s), nil
}

// Save flattens state to the wire payload: group ids are stripped and every condition
// payload is reduced to the keys recognized for its type.
func Save(st State) (domain.Strategy, error) {
	conds := make([]domain.Condition, 0, len(st.Conditions))
	for _, c := range st.Conditions {
		p, err := domain.DecodePayload(c.Type, domain.EncodePayload(c.Payload))
		if err != nil {
			return domain.Strategy{}, fmt.Errorf("%w: condition %s: %v", ErrInvalidPayload, c.ID, err)
		}
		c.Payload = p
		conds = append(conds, c)
	}
	tree := logic.StripGroupIDs(st.Tree)
	if tree == nil {
		tree = &domain.Group{Operator: domain.OperatorAnd}
	}
	meta := st.Meta
	if meta.Assets == nil {
		meta.Assets = []string{}
	}
	return domain.Strategy{
		StrategyMeta: meta,
		Conditions:   conds,
		LogicTree:    tree,
	}, nil
}

// Encode saves state and marshals it to JSON.
func Encode(st State) ([]byte, error) {
	s, err := Save(st)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}
