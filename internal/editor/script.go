package editor

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"stratline/internal/domain"
	"stratline/internal/graph"
	"stratline/internal/render"
)

var (
	ErrUnknownOp      = errors.New("unknown script op")
	ErrTargetNotFound = errors.New("script target not found")
)

// Op is one scripted edit. Groups are addressed by their child-index path in the list
// view ("" is the root, "1/0" the first child of the root's second child) or by id.
// Conditions may be addressed by id or by path.
type Op struct {
	Op        string         `yaml:"op"`
	Group     string         `yaml:"group,omitempty"`
	Condition string         `yaml:"condition,omitempty"`
	Type      string         `yaml:"type,omitempty"`
	Operator  string         `yaml:"operator,omitempty"`
	Label     *string        `yaml:"label,omitempty"`
	Enabled   *bool          `yaml:"enabled,omitempty"`
	Payload   map[string]any `yaml:"payload,omitempty"`
	Asset     string         `yaml:"asset,omitempty"`
	// Target picks the history for undo/redo: conditions, tree, or empty for both.
	Target string `yaml:"target,omitempty"`

	Name        *string `yaml:"name,omitempty"`
	Description *string `yaml:"description,omitempty"`
	Schedule    *string `yaml:"schedule,omitempty"`
	Status      *string `yaml:"status,omitempty"`
}

var knownOps = map[string]bool{
	"add_condition":    true,
	"add_group":        true,
	"update_condition": true,
	"remove_condition": true,
	"set_operator":     true,
	"remove_group":     true,
	"set_meta":         true,
	"add_asset":        true,
	"remove_asset":     true,
	"undo":             true,
	"redo":             true,
}

// ParseScript reads a YAML list of ops.
func ParseScript(data []byte) ([]Op, error) {
	var ops []Op
	if err := yaml.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	for i, op := range ops {
		if !knownOps[op.Op] {
			return nil, fmt.Errorf("op %d: %w %q", i, ErrUnknownOp, op.Op)
		}
	}
	return ops, nil
}

// Run applies ops in order and stops at the first failure.
func (s *Session) Run(ops []Op) error {
	for i, op := range ops {
		if _, err := s.Apply(op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Op, err)
		}
	}
	return nil
}

// Apply performs one op through the handlers the list view binds, the same way a user
// clicking a row would. Add ops return the new condition or group id.
func (s *Session) Apply(op Op) (string, error) {
	switch op.Op {
	case "add_condition":
		row, err := s.groupRow(op.Group)
		if err != nil {
			return "", err
		}
		if op.Type != "" {
			return s.AddConditionOfType(row.ID, domain.ConditionType(op.Type)).ID, nil
		}
		return row.GroupActions.OnAddCondition().ID, nil
	case "add_group":
		row, err := s.groupRow(op.Group)
		if err != nil {
			return "", err
		}
		return row.GroupActions.OnAddGroup(), nil
	case "set_operator":
		operator := domain.Operator(strings.ToUpper(op.Operator))
		if !operator.Valid() {
			return "", fmt.Errorf("operator %q must be AND or OR", op.Operator)
		}
		row, err := s.groupRow(op.Group)
		if err != nil {
			return "", err
		}
		row.GroupActions.OnOperator(operator)
		return row.ID, nil
	case "remove_group":
		row, err := s.groupRow(op.Group)
		if err != nil {
			return "", err
		}
		row.GroupActions.OnRemove()
		return row.ID, nil
	case "update_condition":
		id, h, err := s.conditionHandlers(op.Condition)
		if err != nil {
			return "", err
		}
		if h.OnUpdate == nil {
			return "", fmt.Errorf("%w: condition %s is missing from the registry", ErrTargetNotFound, id)
		}
		patch := domain.ConditionPatch{Label: op.Label, Enabled: op.Enabled, Payload: op.Payload}
		if op.Type != "" {
			t := domain.ConditionType(op.Type)
			patch.Type = &t
		}
		return id, h.OnUpdate(patch)
	case "remove_condition":
		id, h, err := s.conditionHandlers(op.Condition)
		if err != nil {
			return "", err
		}
		h.OnRemove()
		return id, nil
	case "set_meta":
		s.UpdateMeta(func(m *domain.StrategyMeta) {
			if op.Name != nil {
				m.Name = *op.Name
			}
			if op.Description != nil {
				m.Description = *op.Description
			}
			if op.Schedule != nil {
				m.Schedule = *op.Schedule
			}
			if op.Status != nil {
				m.Status = *op.Status
			}
		})
		return "", nil
	case "add_asset":
		s.AddAsset(op.Asset)
		return "", nil
	case "remove_asset":
		s.RemoveAsset(op.Asset)
		return "", nil
	case "undo", "redo":
		return "", s.undoRedo(op.Op, op.Target)
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownOp, op.Op)
	}
}

func (s *Session) undoRedo(dir, target string) error {
	var fn func() bool
	switch {
	case dir == "undo" && target == "":
		fn = s.Undo
	case dir == "undo" && target == "conditions":
		fn = s.UndoConditions
	case dir == "undo" && target == "tree":
		fn = s.UndoTree
	case dir == "redo" && target == "":
		fn = s.Redo
	case dir == "redo" && target == "conditions":
		fn = s.RedoConditions
	case dir == "redo" && target == "tree":
		fn = s.RedoTree
	default:
		return fmt.Errorf("%s target %q must be conditions, tree or empty", dir, target)
	}
	fn()
	return nil
}

func normalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

func (s *Session) groupRow(target string) (render.Row, error) {
	key := normalizePath(target)
	for _, row := range s.List() {
		if row.Kind != graph.KindGroup {
			continue
		}
		if row.Path == key || (key != "" && row.ID == key) {
			return row, nil
		}
	}
	return render.Row{}, fmt.Errorf("%w: group %q", ErrTargetNotFound, target)
}

// conditionHandlers finds a condition in the list view. Conditions that are registered but
// not referenced from the tree have no row, so they are bound directly.
func (s *Session) conditionHandlers(target string) (string, *graph.ConditionHandlers, error) {
	key := normalizePath(target)
	if key == "" {
		return "", nil, fmt.Errorf("%w: condition target required", ErrTargetNotFound)
	}
	for _, row := range s.List() {
		if row.Kind == graph.KindGroup {
			continue
		}
		if row.ID == key || row.Path == key {
			return row.ID, row.ConditionActions, nil
		}
	}
	if s.State().Conditions.Has(key) {
		return key, graph.BindCondition(s, key, true), nil
	}
	return "", nil, fmt.Errorf("%w: condition %q", ErrTargetNotFound, target)
}
