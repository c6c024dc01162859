// Package editor owns one strategy editing session: the two undo histories, the metadata,
// and the guarded save through a Store.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"stratline/internal/domain"
	"stratline/internal/graph"
	"stratline/internal/history"
	"stratline/internal/logging"
	"stratline/internal/logic"
	"stratline/internal/metrics"
	"stratline/internal/render"
	"stratline/internal/wire"
)

var (
	ErrSaveInFlight  = errors.New("save already in flight")
	ErrSessionClosed = errors.New("editor session closed")
	ErrNoStore       = errors.New("editor has no store")
)

// Store persists strategies. Create is used until the strategy has an id.
type Store interface {
	CreateStrategy(ctx context.Context, s domain.Strategy) (domain.Strategy, error)
	UpdateStrategy(ctx context.Context, id string, s domain.Strategy) (domain.Strategy, error)
}

// Notifier reports failures to the user.
type Notifier interface {
	Notify(ctx context.Context, msg string, err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg string, err error)

func (f NotifierFunc) Notify(ctx context.Context, msg string, err error) { f(ctx, msg, err) }

type Options struct {
	// SeedDefault adds one default condition under root when the state has neither
	// conditions nor children.
	SeedDefault  bool
	DefaultAsset string
	DefaultType  domain.ConditionType
	Layout       graph.Layout
	Validate     wire.Options
	Store        Store
	Notifier     Notifier
	Logger       *slog.Logger
}

// Session is safe for use from multiple goroutines, but edits are expected to come from one
// user. Condition and tree edits go to separate histories, so an edit touching both needs two
// undos to reverse.
type Session struct {
	mu     sync.Mutex
	opts   Options
	log    *slog.Logger
	meta   domain.StrategyMeta
	conds  *history.History[logic.Registry]
	tree   *history.History[*domain.Group]
	saving bool
	closed bool
}

var _ graph.Actions = (*Session)(nil)

// New starts a session on st. The tree is normalized first.
func New(st wire.State, opts Options) *Session {
	if opts.DefaultType == "" {
		opts.DefaultType = domain.TypeTechnicalIndicator
	}
	if opts.Layout == (graph.Layout{}) {
		opts.Layout = graph.DefaultLayout()
	}
	reg := st.Conditions
	root := logic.NormalizeTree(st.Tree)
	s := &Session{opts: opts, log: logging.OrNop(opts.Logger), meta: st.Meta}
	if opts.SeedDefault && len(reg) == 0 && len(root.Children) == 0 {
		reg, root, _ = logic.AddConditionToGroup(reg, root, root.ID, opts.DefaultType, s.defaultAsset())
	}
	s.conds = history.New(reg)
	s.tree = history.New(root)
	return s
}

func (s *Session) defaultAsset() string {
	if len(s.meta.Assets) > 0 && s.meta.Assets[0] != "" {
		return s.meta.Assets[0]
	}
	if s.opts.DefaultAsset != "" {
		return s.opts.DefaultAsset
	}
	return "BTC"
}

// State returns the current editable state.
func (s *Session) State() wire.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() wire.State {
	meta := s.meta
	meta.Assets = slices.Clone(s.meta.Assets)
	return wire.State{Meta: meta, Conditions: s.conds.Current(), Tree: s.tree.Current()}
}

// Root is the current root group id.
func (s *Session) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Current().ID
}

func (s *Session) AddConditionToGroup(groupID string) domain.Condition {
	return s.AddConditionOfType(groupID, s.opts.DefaultType)
}

// AddConditionOfType registers a new condition of type t and refs it from groupID.
func (s *Session) AddConditionOfType(groupID string, t domain.ConditionType) domain.Condition {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, root, c := logic.AddConditionToGroup(s.conds.Current(), s.tree.Current(), groupID, t, s.defaultAsset())
	s.conds.Set(reg)
	s.tree.Set(root)
	s.track("add_condition")
	return c
}

func (s *Session) AddGroupToGroup(groupID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, g := logic.AddGroupToGroup(s.tree.Current(), groupID)
	if !s.tree.Set(root) {
		return ""
	}
	s.track("add_group")
	return g.ID
}

func (s *Session) UpdateCondition(id string, patch domain.ConditionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, err := s.conds.Current().Update(id, patch, s.defaultAsset())
	if err != nil {
		return err
	}
	s.conds.Set(reg)
	s.track("update_condition")
	return nil
}

// RemoveCondition drops the condition and every ref to it. Refs to ids that are not in the
// registry are purged too.
func (s *Session) RemoveCondition(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, root := logic.RemoveCondition(s.conds.Current(), s.tree.Current(), id)
	s.conds.Set(reg)
	s.tree.Set(root)
	s.track("remove_condition")
}

func (s *Session) SetGroupOperator(id string, op domain.Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root := s.tree.Current()
	g, ok := logic.FindGroup(root, id)
	if !ok {
		return
	}
	s.tree.Set(logic.UpdateGroupInTree(root, logic.WithOperator(g, op)))
	s.track("set_operator")
}

// UpdateGroup replaces the group with the same id.
func (s *Session) UpdateGroup(g *domain.Group) {
	if g == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.Set(logic.UpdateGroupInTree(s.tree.Current(), logic.NormalizeTree(g)))
	s.track("update_group")
}

// RemoveGroup removes a nested group with its subtree. Removing the root clears it instead.
// Conditions referenced only from the removed subtree stay in the registry.
func (s *Session) RemoveGroup(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root := s.tree.Current()
	if id == root.ID {
		s.tree.Set(logic.ClearGroup(root))
	} else {
		s.tree.Set(logic.RemoveGroupFromTree(root, id))
	}
	s.track("remove_group")
}

// UpdateMeta edits the strategy metadata in place. Metadata is not part of either history.
func (s *Session) UpdateMeta(fn func(m *domain.StrategyMeta)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.meta)
}

// AddAsset appends asset unless it is already targeted.
func (s *Session) AddAsset(asset string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset == "" || slices.Contains(s.meta.Assets, asset) {
		return false
	}
	s.meta.Assets = append(slices.Clone(s.meta.Assets), asset)
	return true
}

func (s *Session) RemoveAsset(asset string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.meta.Assets, asset)
	if i < 0 {
		return false
	}
	s.meta.Assets = slices.Delete(slices.Clone(s.meta.Assets), i, i+1)
	return true
}

func (s *Session) UndoConditions() bool { return s.step(func() bool { return s.conds.Undo() }) }
func (s *Session) RedoConditions() bool { return s.step(func() bool { return s.conds.Redo() }) }
func (s *Session) UndoTree() bool       { return s.step(func() bool { return s.tree.Undo() }) }
func (s *Session) RedoTree() bool       { return s.step(func() bool { return s.tree.Redo() }) }

// Undo steps both histories back once. It reports whether either moved.
func (s *Session) Undo() bool {
	return s.step(func() bool {
		c := s.conds.Undo()
		t := s.tree.Undo()
		return c || t
	})
}

func (s *Session) Redo() bool {
	return s.step(func() bool {
		c := s.conds.Redo()
		t := s.tree.Redo()
		return c || t
	})
}

func (s *Session) CanUndo() (conditions, tree bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conds.CanUndo(), s.tree.CanUndo()
}

func (s *Session) CanRedo() (conditions, tree bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conds.CanRedo(), s.tree.CanRedo()
}

func (s *Session) step(fn func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Graph projects the current state with handlers bound to this session.
func (s *Session) Graph() graph.Projection {
	st := s.State()
	return graph.Project(st.Conditions, st.Tree, s.opts.Layout, s)
}

// List renders the current state as rows bound to this session.
func (s *Session) List() []render.Row {
	st := s.State()
	return render.Rows(st.Conditions, st.Tree, s)
}

func (s *Session) Validate() wire.ValidationErrors {
	return wire.Validate(s.State(), s.opts.Validate)
}

// Save validates and writes the strategy through the store. Validation problems are returned
// as wire.ValidationErrors without contacting the store. A store failure is reported to the
// notifier and leaves the session untouched, so calling Save again retries. If the session is
// closed while the store call runs, the response is dropped and ErrSessionClosed returned.
func (s *Session) Save(ctx context.Context) (domain.Strategy, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Strategy{}, ErrSessionClosed
	}
	if s.saving {
		s.mu.Unlock()
		return domain.Strategy{}, ErrSaveInFlight
	}
	if s.opts.Store == nil {
		s.mu.Unlock()
		return domain.Strategy{}, ErrNoStore
	}
	st := s.stateLocked()
	if errs := wire.Validate(st, s.opts.Validate); len(errs) > 0 {
		s.mu.Unlock()
		metrics.ObserveValidation(errs.Codes())
		s.log.Info("save blocked by validation", "strategy_id", st.Meta.ID, "problems", len(errs))
		return domain.Strategy{}, errs
	}
	payload, err := wire.Save(st)
	if err != nil {
		s.mu.Unlock()
		return domain.Strategy{}, err
	}
	s.saving = true
	s.mu.Unlock()

	var saved domain.Strategy
	op := "update"
	if payload.ID == "" {
		op = "create"
		saved, err = s.opts.Store.CreateStrategy(ctx, payload)
	} else {
		saved, err = s.opts.Store.UpdateStrategy(ctx, payload.ID, payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if s.closed {
		s.log.Debug("discarding save response for closed session", "operation", op)
		return domain.Strategy{}, ErrSessionClosed
	}
	if err != nil {
		s.log.Warn("strategy save failed", "operation", op, "strategy_id", payload.ID, "error", err)
		if s.opts.Notifier != nil {
			s.opts.Notifier.Notify(ctx, "Failed to save strategy", err)
		}
		return domain.Strategy{}, fmt.Errorf("%s strategy: %w", op, err)
	}
	s.meta.ID = saved.ID
	if saved.Status != "" {
		s.meta.Status = saved.Status
	}
	s.meta.LastRunAt = saved.LastRunAt
	s.meta.TriggerCount = saved.TriggerCount
	s.log.Info("strategy saved", "operation", op, "strategy_id", saved.ID)
	return saved, nil
}

// Saving reports whether a save is in flight.
func (s *Session) Saving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// Close ends the session. A save still in flight will discard its response.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) track(op string) {
	metrics.EditorOperations.WithLabelValues(op).Inc()
}
