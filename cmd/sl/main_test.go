package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"stratline/internal/app"
	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/logging"
	"stratline/internal/wire"
)

func TestSetEnvValueReplacesKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("A=1\nSTRATLINE_TOKEN=old\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := setEnvValue(path, "STRATLINE_TOKEN", "new"); err != nil {
		t.Fatal(err)
	}
	if err := setEnvValue(path, "B", "2"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), "A=1\nSTRATLINE_TOKEN=new\nB=2\n"; got != want {
		t.Fatalf("unexpected file:\n%s", got)
	}
}

func TestLocalBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	ws, err := app.Open(ctx, t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	var b backend = localBackend{engine.Store{Engine: ws.Engine, ActorID: "cli"}}
	created, err := b.CreateStrategy(ctx, domain.Strategy{
		StrategyMeta: domain.StrategyMeta{Name: "Dip", Schedule: "5m", Assets: []string{"BTC"}},
		Conditions:   []domain.Condition{},
		LogicTree:    &domain.Group{Operator: domain.OperatorAnd},
	})
	if err != nil {
		t.Fatal(err)
	}
	items, err := b.ListStrategies(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != created.ID || items[0].ConditionCount != 0 {
		t.Fatalf("unexpected list: %+v", items)
	}
	rec, err := b.SetStatus(ctx, created.ID, domain.StatusActive)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != domain.StatusActive {
		t.Fatalf("status = %q", rec.Status)
	}
	errs, err := b.Validate(ctx, domain.Strategy{StrategyMeta: domain.StrategyMeta{Schedule: "5m"}})
	if err != nil {
		t.Fatal(err)
	}
	if !errs.Has(wire.CodeNameRequired) {
		t.Fatalf("expected name_required, got %v", errs)
	}
	if err := b.DeleteStrategy(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := b.GetStrategy(ctx, created.ID); err == nil {
		t.Fatal("expected not found after delete")
	}
}
