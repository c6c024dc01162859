package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"stratline/internal/config"
	"stratline/internal/domain"
	"stratline/internal/editor"
	"stratline/internal/engine"
	"stratline/internal/logging"
	"stratline/internal/repo"
	"stratline/internal/wire"
)

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	if ws.Config.Strategy.DefaultSchedule != "1m" {
		t.Fatalf("expected default config, got %+v", ws.Config.Strategy)
	}
	if _, err := ws.Engine.ListStrategies(context.Background(), repo.StrategyFilter{}); err != nil {
		t.Fatalf("engine not usable: %v", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	bad := "strategy:\n  default_schedule: 2m\n"
	if err := os.WriteFile(config.Path(dir), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), dir, nil); err == nil {
		t.Fatalf("expected config validation error")
	}
}

func TestEditorOptionsSeedNewStrategies(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	store := engine.Store{Engine: ws.Engine, ActorID: "tester"}
	sess := editor.New(wire.State{Meta: domain.StrategyMeta{Name: "New"}}, EditorOptions(ws.Config, store, nil, true))
	st := sess.State()
	if len(st.Conditions) != 1 || st.Conditions[0].Type != domain.TypeTechnicalIndicator {
		t.Fatalf("expected one seeded condition, got %+v", st.Conditions)
	}
	loaded := editor.New(wire.State{Meta: domain.StrategyMeta{Name: "Old"}}, EditorOptions(ws.Config, store, nil, false))
	if len(loaded.State().Conditions) != 0 {
		t.Fatalf("loaded strategies must not be seeded")
	}
}

type failingStore struct{ err error }

func (f failingStore) CreateStrategy(context.Context, domain.Strategy) (domain.Strategy, error) {
	return domain.Strategy{}, f.err
}

func (f failingStore) UpdateStrategy(context.Context, string, domain.Strategy) (domain.Strategy, error) {
	return domain.Strategy{}, f.err
}

func TestEditorOptionsReportSaveFailures(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	var buf bytes.Buffer
	logger := logging.NewWriter(&buf, slog.LevelDebug)
	store := failingStore{err: errors.New("disk full")}
	meta := domain.StrategyMeta{Name: "New", Schedule: "5m", Assets: []string{"ETH"}}
	sess := editor.New(wire.State{Meta: meta}, EditorOptions(ws.Config, store, logger, true))
	if _, err := sess.Save(context.Background()); err == nil {
		t.Fatalf("expected save error")
	}
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, `msg="Failed to save strategy"`) || !strings.Contains(out, `err="disk full"`) {
		t.Fatalf("save failure not reported: %s", out)
	}
}
