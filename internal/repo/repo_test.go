package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/events"
	"stratline/internal/migrate"
	"stratline/internal/repo"
)

func openRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	return repo.Repo{DB: conn}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func record(id, status, updated string) domain.StrategyRecord {
	return domain.StrategyRecord{
		Strategy: domain.Strategy{
			StrategyMeta: domain.StrategyMeta{
				ID:       id,
				Name:     "s-" + id,
				Schedule: "1m",
				Assets:   []string{"BTC"},
				Status:   status,
			},
			Conditions: []domain.Condition{{
				ID:      "1",
				Type:    domain.TypePriceAlert,
				Payload: domain.PriceAlertPayload{Asset: "BTC", Direction: "below", TargetPrice: 30000},
			}},
			LogicTree: &domain.Group{Operator: domain.OperatorAnd, Children: []domain.Node{domain.Ref{ID: "1"}}},
		},
		CreatedBy: "alice",
		CreatedAt: "2024-01-01T00:00:00Z",
		UpdatedAt: updated,
	}
}

func TestStrategyRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	inTx(t, r, func(tx *sql.Tx) error {
		if err := r.EnsureActor(ctx, tx, "alice", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		return r.InsertStrategy(ctx, tx, record("a", domain.StatusPaused, "2024-01-01T00:00:00Z"))
	})

	got, err := r.GetStrategy(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "s-a" || got.CreatedBy != "alice" || len(got.Conditions) != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
	p, ok := got.Conditions[0].Payload.(domain.PriceAlertPayload)
	if !ok || p.TargetPrice != 30000 {
		t.Fatalf("payload not restored: %#v", got.Conditions[0].Payload)
	}
	if got.LogicTree == nil || len(got.LogicTree.Children) != 1 {
		t.Fatalf("tree not restored: %+v", got.LogicTree)
	}
	if got.TriggerCount == nil || *got.TriggerCount != 0 || got.LastRunAt != nil {
		t.Fatalf("unexpected run bookkeeping: %v %v", got.TriggerCount, got.LastRunAt)
	}

	inTx(t, r, func(tx *sql.Tx) error { return r.RecordRun(ctx, tx, "a", "2024-01-02T00:00:00Z") })
	got, _ = r.GetStrategy(ctx, "a")
	if *got.TriggerCount != 1 || got.LastRunAt == nil || *got.LastRunAt != "2024-01-02T00:00:00Z" {
		t.Fatalf("run not recorded: %v %v", *got.TriggerCount, got.LastRunAt)
	}
}

func TestMissingStrategy(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	if _, err := r.GetStrategy(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.UpdateStrategyStatus(ctx, tx, "nope", domain.StatusActive, "x"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("status: %v", err)
	}
	if err := r.DeleteStrategy(ctx, tx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("delete: %v", err)
	}
}

func TestListStrategiesOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	inTx(t, r, func(tx *sql.Tx) error {
		if err := r.EnsureActor(ctx, tx, "alice", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		for _, rec := range []domain.StrategyRecord{
			record("old", domain.StatusActive, "2024-01-01T00:00:00Z"),
			record("new", domain.StatusActive, "2024-01-03T00:00:00Z"),
			record("mid", domain.StatusPaused, "2024-01-02T00:00:00Z"),
		} {
			if err := r.InsertStrategy(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})

	all, err := r.ListStrategies(ctx, repo.StrategyFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "new" || all[1].ID != "mid" || all[2].ID != "old" {
		t.Fatalf("unexpected order: %v", ids(all))
	}
	active, err := r.ListStrategies(ctx, repo.StrategyFilter{Status: domain.StatusActive, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != "new" {
		t.Fatalf("unexpected filtered list: %v", ids(active))
	}
}

func TestLatestEventsCursor(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	w := events.Writer{DB: r.DB, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	inTx(t, r, func(tx *sql.Tx) error {
		for i, typ := range []string{events.StrategyCreated, events.StrategyUpdated, events.StrategyStatusChanged} {
			if err := w.Append(ctx, tx, typ, "strategy", "a", "alice", events.EventPayload{"n": i}); err != nil {
				return err
			}
		}
		return nil
	})

	page, err := r.LatestEvents(ctx, repo.EventFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Type != events.StrategyStatusChanged {
		t.Fatalf("unexpected first page: %+v", page)
	}
	rest, err := r.LatestEvents(ctx, repo.EventFilter{Cursor: page[1].ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 1 || rest[0].Type != events.StrategyCreated || rest[0].TS != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected second page: %+v", rest)
	}
	byType, err := r.LatestEvents(ctx, repo.EventFilter{Type: events.StrategyUpdated})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].Payload != `{"n":1}` {
		t.Fatalf("unexpected type filter: %+v", byType)
	}
}

func TestAPIKeys(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	raw, err := repo.GenerateAPIKey()
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) <= len(repo.KeyPrefix) || raw[:len(repo.KeyPrefix)] != repo.KeyPrefix {
		t.Fatalf("unexpected key %q", raw)
	}
	inTx(t, r, func(tx *sql.Tx) error {
		if err := r.EnsureActor(ctx, tx, "alice", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		return r.InsertAPIKey(ctx, tx, domain.APIKey{
			ID: "k1", ActorID: "alice", Name: "ci", KeyHash: repo.HashAPIKey(raw), CreatedAt: "2024-01-01T00:00:00Z",
		})
	})
	k, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		t.Fatal(err)
	}
	if k.ID != "k1" || k.ActorID != "alice" {
		t.Fatalf("unexpected key: %+v", k)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteAPIKey(ctx, "k1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func ids(recs []domain.StrategyRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
