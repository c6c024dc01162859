package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stratline/internal/config"
	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/logging"
	"stratline/internal/metrics"
	"stratline/internal/repo"
	"stratline/internal/wire"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger *slog.Logger
}

func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: logging.OrNop(logger),
	}
}

func (e Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	return logging.OrNop(e.Logger)
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// withDefaults fills the fields a new strategy may omit.
func (e Engine) withDefaults(s domain.Strategy) domain.Strategy {
	if s.Schedule == "" {
		s.Schedule = e.Config.Strategy.DefaultSchedule
	}
	if s.Status == "" {
		s.Status = e.Config.Strategy.DefaultStatus
	}
	if s.NotificationPreferences == nil {
		s.NotificationPreferences = domain.DefaultNotificationPreferences()
	}
	return s
}

// prepare validates s and returns the sanitized wire form that gets stored.
func (e Engine) prepare(s domain.Strategy) (domain.Strategy, error) {
	st := wire.Load(e.withDefaults(s))
	if errs := wire.Validate(st, e.Config.WireOptions()); len(errs) > 0 {
		metrics.ObserveValidation(errs.Codes())
		return domain.Strategy{}, errs
	}
	return wire.Save(st)
}

// Validate reports what would block saving s, after the same defaults Create applies.
func (e Engine) Validate(s domain.Strategy) (wire.ValidationErrors, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return wire.Validate(wire.Load(e.withDefaults(s)), e.Config.WireOptions()), nil
}

// CreateStrategy stores a new strategy and assigns its id. Any id in s is ignored.
func (e Engine) CreateStrategy(ctx context.Context, s domain.Strategy, actorID string) (rec domain.StrategyRecord, err error) {
	defer func() { metrics.ObserveSave("create", err) }()
	if e.Config == nil {
		return rec, errors.New("config not loaded")
	}
	clean, err := e.prepare(s)
	if err != nil {
		return rec, err
	}
	now := e.now()
	zero := 0
	clean.ID = uuid.NewString()
	clean.LastRunAt = nil
	clean.TriggerCount = &zero
	rec = domain.StrategyRecord{Strategy: clean, CreatedBy: actorID, CreatedAt: now, UpdatedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return rec, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.InsertStrategy(ctx, tx, rec); err != nil {
		return rec, fmt.Errorf("insert strategy: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.StrategyCreated, events.EntityStrategy, rec.ID, actorID, events.EventPayload{
		"name":       rec.Name,
		"status":     rec.Status,
		"conditions": len(rec.Conditions),
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	e.log().Info("strategy created", "strategy_id", rec.ID, "actor_id", actorID)
	return rec, nil
}

// UpdateStrategy replaces the editable parts of strategy id. Run bookkeeping and creation
// stamps are kept from the stored row.
func (e Engine) UpdateStrategy(ctx context.Context, id string, s domain.Strategy, actorID string) (rec domain.StrategyRecord, err error) {
	defer func() { metrics.ObserveSave("update", err) }()
	if e.Config == nil {
		return rec, errors.New("config not loaded")
	}
	existing, err := e.Repo.GetStrategy(ctx, id)
	if err != nil {
		return rec, err
	}
	if s.Status == "" {
		s.Status = existing.Status
	}
	clean, err := e.prepare(s)
	if err != nil {
		return rec, err
	}
	clean.ID = id
	clean.LastRunAt = existing.LastRunAt
	clean.TriggerCount = existing.TriggerCount
	rec = existing
	rec.Strategy = clean
	rec.UpdatedAt = e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, rec.UpdatedAt); err != nil {
		return rec, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.UpdateStrategy(ctx, tx, rec); err != nil {
		return rec, err
	}
	if err := e.events().Append(ctx, tx, events.StrategyUpdated, events.EntityStrategy, id, actorID, events.EventPayload{
		"from_status": existing.Status,
		"to_status":   rec.Status,
		"conditions":  len(rec.Conditions),
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	e.log().Info("strategy updated", "strategy_id", id, "actor_id", actorID)
	return rec, nil
}

func (e Engine) GetStrategy(ctx context.Context, id string) (domain.StrategyRecord, error) {
	return e.Repo.GetStrategy(ctx, id)
}

func (e Engine) ListStrategies(ctx context.Context, f repo.StrategyFilter) ([]domain.StrategyRecord, error) {
	if f.Status != "" && f.Status != domain.StatusActive && f.Status != domain.StatusPaused {
		return nil, invalidStatus(f.Status)
	}
	return e.Repo.ListStrategies(ctx, f)
}

func (e Engine) DeleteStrategy(ctx context.Context, id, actorID string) (err error) {
	defer func() { metrics.ObserveSave("delete", err) }()
	existing, err := e.Repo.GetStrategy(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, e.now()); err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.DeleteStrategy(ctx, tx, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.StrategyDeleted, events.EntityStrategy, id, actorID, events.EventPayload{"name": existing.Name}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().Info("strategy deleted", "strategy_id", id, "actor_id", actorID)
	return nil
}

func invalidStatus(status string) wire.ValidationErrors {
	return wire.ValidationErrors{{
		Code:    wire.CodeInvalidStatus,
		Field:   "status",
		Message: fmt.Sprintf("status %q must be active or paused", status),
	}}
}

// SetStatus pauses or resumes a strategy. Setting the current status is a no-op without an event.
func (e Engine) SetStatus(ctx context.Context, id, status, actorID string) (rec domain.StrategyRecord, err error) {
	defer func() { metrics.ObserveSave("status", err) }()
	if status != domain.StatusActive && status != domain.StatusPaused {
		return rec, invalidStatus(status)
	}
	rec, err = e.Repo.GetStrategy(ctx, id)
	if err != nil {
		return rec, err
	}
	if rec.Status == status {
		return rec, nil
	}
	from := rec.Status
	rec.Status = status
	rec.UpdatedAt = e.now()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, rec.UpdatedAt); err != nil {
		return rec, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.UpdateStrategyStatus(ctx, tx, id, status, rec.UpdatedAt); err != nil {
		return rec, err
	}
	if err := e.events().Append(ctx, tx, events.StrategyStatusChanged, events.EntityStrategy, id, actorID, events.EventPayload{
		"from_status": from,
		"to_status":   status,
	}); err != nil {
		return rec, err
	}
	if err := tx.Commit(); err != nil {
		return rec, err
	}
	e.log().Info("strategy status changed", "strategy_id", id, "from", from, "to", status)
	return rec, nil
}

// RecordRun is called by the evaluator each time a strategy fires.
func (e Engine) RecordRun(ctx context.Context, id, actorID string) (domain.StrategyRecord, error) {
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StrategyRecord{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.StrategyRecord{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.RecordRun(ctx, tx, id, now); err != nil {
		return domain.StrategyRecord{}, err
	}
	if err := e.events().Append(ctx, tx, events.StrategyTriggered, events.EntityStrategy, id, actorID, nil); err != nil {
		return domain.StrategyRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StrategyRecord{}, err
	}
	return e.Repo.GetStrategy(ctx, id)
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

// CreateAPIKey issues a key for actorID. The raw key is returned once and never stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	raw, err := repo.GenerateAPIKey()
	if err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, actorID, key.CreatedAt); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("ensure actor: %w", err)
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.events().Append(ctx, tx, events.APIKeyCreated, events.EntityAPIKey, key.ID, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}
