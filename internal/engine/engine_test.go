package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/editor"
	"stratline/internal/engine"
	"stratline/internal/migrate"
	"stratline/internal/repo"
	"stratline/internal/wire"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func rsiStrategy(name string) domain.Strategy {
	return domain.Strategy{
		StrategyMeta: domain.StrategyMeta{Name: name, Assets: []string{"BTC"}},
		Conditions: []domain.Condition{{
			ID:   "c1",
			Type: domain.TypeTechnicalIndicator,
			Payload: domain.TechnicalIndicatorPayload{
				Indicator: "RSI", Operator: "lt", Value: 30, Timeframe: "1h", Asset: "BTC",
			},
		}},
		LogicTree: &domain.Group{Operator: domain.OperatorAnd, Children: []domain.Node{domain.Ref{ID: "c1"}}},
	}
}

func TestCreateStrategyAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.Engine.CreateStrategy(env.Ctx, rsiStrategy("Oversold"), "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if rec.Schedule != "1m" || rec.Status != domain.StatusPaused {
		t.Fatalf("defaults not applied: schedule=%q status=%q", rec.Schedule, rec.Status)
	}
	if rec.TriggerCount == nil || *rec.TriggerCount != 0 {
		t.Fatalf("expected trigger count 0, got %v", rec.TriggerCount)
	}
	got, err := env.Engine.GetStrategy(env.Ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Oversold" || got.CreatedBy != "tester" || got.CreatedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected record %+v", got)
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Summary() != "RSI lt 30" {
		t.Fatalf("conditions not stored: %+v", got.Conditions)
	}
	if got.LogicTree == nil || len(got.LogicTree.Children) != 1 || got.LogicTree.ID != "" {
		t.Fatalf("expected stored tree without group ids, got %+v", got.LogicTree)
	}
	cd, err := got.NotificationPreferences.Cooldown()
	if err != nil || cd.DurationUnit != "h" {
		t.Fatalf("expected default cooldown, got %+v err=%v", cd, err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilter{EntityID: rec.ID})
	if err != nil || len(evts) != 1 || evts[0].Type != "strategy.created" {
		t.Fatalf("expected one create event, got %+v err=%v", evts, err)
	}
}

func TestCreateStrategyRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	s := rsiStrategy("  ")
	s.LogicTree.Children = append(s.LogicTree.Children, domain.Ref{ID: "ghost"})
	_, err := env.Engine.CreateStrategy(env.Ctx, s, "tester")
	var verrs wire.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	if !verrs.Has(wire.CodeNameRequired) || !verrs.Has(wire.CodeDanglingRef) {
		t.Fatalf("unexpected codes %v", verrs.Codes())
	}
	list, err := env.Engine.ListStrategies(env.Ctx, repo.StrategyFilter{})
	if err != nil || len(list) != 0 {
		t.Fatalf("nothing should be stored: %v %v", list, err)
	}
}

func TestUpdateStrategyKeepsRunBookkeeping(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.Engine.CreateStrategy(env.Ctx, rsiStrategy("First"), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordRun(env.Ctx, rec.ID, "evaluator"); err != nil {
		t.Fatalf("record run: %v", err)
	}
	s := rsiStrategy("Renamed")
	s.Status = domain.StatusActive
	zero := 0
	s.TriggerCount = &zero
	updated, err := env.Engine.UpdateStrategy(env.Ctx, rec.ID, s, "tester")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Renamed" || updated.Status != domain.StatusActive {
		t.Fatalf("update not applied: %+v", updated.StrategyMeta)
	}
	if updated.TriggerCount == nil || *updated.TriggerCount != 1 || updated.LastRunAt == nil {
		t.Fatalf("run bookkeeping lost: %+v", updated.StrategyMeta)
	}
	got, _ := env.Engine.GetStrategy(env.Ctx, rec.ID)
	if got.CreatedAt != rec.CreatedAt || *got.TriggerCount != 1 {
		t.Fatalf("stored record drifted: %+v", got)
	}
}

func TestUpdateMissingStrategy(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpdateStrategy(env.Ctx, "nope", rsiStrategy("x"), "tester")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.Engine.CreateStrategy(env.Ctx, rsiStrategy("Toggle"), "tester")
	if err != nil {
		t.Fatal(err)
	}
	rec, err = env.Engine.SetStatus(env.Ctx, rec.ID, domain.StatusActive, "tester")
	if err != nil || rec.Status != domain.StatusActive {
		t.Fatalf("activate: %v %q", err, rec.Status)
	}
	active, _ := env.Engine.ListStrategies(env.Ctx, repo.StrategyFilter{Status: domain.StatusActive})
	if len(active) != 1 {
		t.Fatalf("expected one active strategy, got %d", len(active))
	}
	if _, err := env.Engine.SetStatus(env.Ctx, rec.ID, "archived", "tester"); err == nil {
		t.Fatalf("expected invalid status error")
	}
	// repeating the current status writes no event
	if _, err := env.Engine.SetStatus(env.Ctx, rec.ID, domain.StatusActive, "tester"); err != nil {
		t.Fatal(err)
	}
	evts, _ := env.Engine.ListEvents(env.Ctx, repo.EventFilter{Type: "strategy.status_changed"})
	if len(evts) != 1 {
		t.Fatalf("expected one status event, got %d", len(evts))
	}
}

func TestDeleteStrategy(t *testing.T) {
	env := newTestEnv(t)
	rec, err := env.Engine.CreateStrategy(env.Ctx, rsiStrategy("Gone"), "tester")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteStrategy(env.Ctx, rec.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetStrategy(env.Ctx, rec.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := env.Engine.DeleteStrategy(env.Ctx, rec.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestStoreBacksEditorSession(t *testing.T) {
	env := newTestEnv(t)
	sess := editor.New(wire.Load(domain.Strategy{StrategyMeta: domain.StrategyMeta{Name: "Draft", Schedule: "5m"}}), editor.Options{
		SeedDefault: true,
		Validate:    env.Engine.Config.WireOptions(),
		Store:       engine.Store{Engine: env.Engine, ActorID: "tester"},
	})
	saved, err := sess.Save(env.Ctx)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if saved.ID == "" || sess.State().Meta.ID != saved.ID {
		t.Fatalf("session did not adopt the new id")
	}
	sess.AddGroupToGroup(sess.Root())
	sess.UpdateMeta(func(m *domain.StrategyMeta) { m.Name = "Draft v2" })
	if _, err := sess.Save(env.Ctx); err != nil {
		t.Fatalf("second save: %v", err)
	}
	all, _ := env.Engine.ListStrategies(env.Ctx, repo.StrategyFilter{})
	if len(all) != 1 || all[0].Name != "Draft v2" {
		t.Fatalf("expected a single updated strategy, got %+v", all)
	}
	if len(all[0].LogicTree.Children) != 2 {
		t.Fatalf("expected seeded condition and new group, got %d children", len(all[0].LogicTree.Children))
	}
}

func TestCreateAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, "bot", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(raw, repo.KeyPrefix) || key.KeyHash == raw {
		t.Fatalf("unexpected key material")
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(raw))
	if err != nil || got.ActorID != "bot" || got.Name != "ci" {
		t.Fatalf("lookup by hash: %+v %v", got, err)
	}
}
