package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratline/internal/app"
	"stratline/internal/config"
	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/logging"
	"stratline/internal/repo"
	"stratline/internal/wire"
	stratlinesdk "stratline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stratline CLI",
	Long: `Stratline stores trading strategies as a registry of conditions combined by an AND/OR logic tree.
- Workspace: a directory holding stratline.yml and the .stratline database.
- Conditions: leaf checks (technical indicator, price, volume, wallet flow, exchange flow, custom).
- Logic tree: nested AND/OR groups whose leaves reference conditions by id.
- Status: strategies are active or paused; an external evaluator runs active ones.
Commands talk to the local workspace unless --server points at a running 'sl serve'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STRATLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("server", "", "API base URL; empty uses the local workspace")
	flags.String("api-key", "", "API key for --server")
	flags.String("token", "", "bearer token for --server")
	flags.String("log-level", "", "log level (debug, info, warn, error); defaults to the config")
	for _, name := range []string{"workspace", "json", "actor-id", "server", "api-key", "token", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(strategyCmd())
	rootCmd.AddCommand(logCmd())
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level := viper.GetString("log-level")
	if level == "" && cfg != nil {
		level = cfg.Log.Level
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return logging.New(lvl), nil
}

// backend is what strategy commands need. The local engine and the SDK client both serve it.
type backend interface {
	CreateStrategy(ctx context.Context, s domain.Strategy) (domain.Strategy, error)
	UpdateStrategy(ctx context.Context, id string, s domain.Strategy) (domain.Strategy, error)
	GetStrategy(ctx context.Context, id string) (domain.StrategyRecord, error)
	ListStrategies(ctx context.Context, status string, limit int) ([]domain.StrategySummary, error)
	DeleteStrategy(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id, status string) (domain.StrategyRecord, error)
	Validate(ctx context.Context, s domain.Strategy) (wire.ValidationErrors, error)
}

type localBackend struct {
	engine.Store
}

func (b localBackend) GetStrategy(ctx context.Context, id string) (domain.StrategyRecord, error) {
	return b.Engine.GetStrategy(ctx, id)
}

func (b localBackend) ListStrategies(ctx context.Context, status string, limit int) ([]domain.StrategySummary, error) {
	recs, err := b.Engine.ListStrategies(ctx, repo.StrategyFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]domain.StrategySummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Summary())
	}
	return out, nil
}

func (b localBackend) DeleteStrategy(ctx context.Context, id string) error {
	return b.Engine.DeleteStrategy(ctx, id, b.ActorID)
}

func (b localBackend) SetStatus(ctx context.Context, id, status string) (domain.StrategyRecord, error) {
	return b.Engine.SetStatus(ctx, id, status, b.ActorID)
}

func (b localBackend) Validate(_ context.Context, s domain.Strategy) (wire.ValidationErrors, error) {
	return b.Engine.Validate(s)
}

// withBackend runs fn against --server when set, otherwise against the local workspace.
func withBackend(ctx context.Context, fn func(context.Context, backend, *config.Config, *slog.Logger) error) error {
	workspace := viper.GetString("workspace")
	if server := viper.GetString("server"); server != "" {
		cfg, err := config.LoadOptional(workspace)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		c := stratlinesdk.New(server)
		c.APIKey = viper.GetString("api-key")
		c.BearerToken = viper.GetString("token")
		c.ActorID = viper.GetString("actor-id")
		return fn(ctx, c, cfg, logger)
	}
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace, logger *slog.Logger) error {
		b := localBackend{engine.Store{Engine: ws.Engine, ActorID: viper.GetString("actor-id")}}
		return fn(ctx, b, ws.Config, logger)
	})
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace, *slog.Logger) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ws, err := app.Open(ctx, workspace, logger)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws, logger)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
