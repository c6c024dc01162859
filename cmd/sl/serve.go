package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"stratline/internal/app"
	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/engine/auth"
	"stratline/internal/repo"
	"stratline/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, actorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace, logger *slog.Logger) error {
				authCfg := server.AuthConfig{
					JWTSecret:        os.Getenv("STRATLINE_JWT_SECRET"),
					AllowActorHeader: actorHeader,
					EnableDevLogin:   devLogin,
					Logger:           logger,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("STRATLINE_JWT_SECRET is required for bearer auth")
				}
				if !cmd.Flags().Changed("addr") {
					addr = ws.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = ws.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:   ws.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Layout:   ws.Config.Layout,
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						logger.Warn("shutdown", "error", err)
					}
				}()
				logger.Info("serving strategy API", "addr", addr, "base_path", basePath, "dev_login", devLogin)
				fmt.Printf("Serving Stratline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().BoolVar(&actorHeader, "allow-actor-header", false, "trust a bare X-Actor-Id header")
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Issue API credentials",
		Long:  "Bearer tokens are signed with STRATLINE_JWT_SECRET and carry scopes. API keys are stored hashed in the workspace and grant every scope.",
	}
	cmd.AddCommand(authTokenCmd())
	key := &cobra.Command{Use: "key", Short: "Manage API keys"}
	key.AddCommand(authKeyCreateCmd())
	key.AddCommand(authKeyListCmd())
	key.AddCommand(authKeyDeleteCmd())
	cmd.AddCommand(key)
	return cmd
}

func authTokenCmd() *cobra.Command {
	var actor string
	var scopes []string
	var ttl time.Duration
	var save bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("STRATLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("STRATLINE_JWT_SECRET is required")
			}
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			token, err := auth.IssueToken(secret, actor, scopes, ttl, time.Now().UTC())
			if err != nil {
				return err
			}
			if save {
				path := filepath.Join(viper.GetString("workspace"), ".env")
				if err := setEnvValue(path, "STRATLINE_TOKEN", token); err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": token, "actor_id": actor, "scopes": scopes})
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringArrayVar(&scopes, "scope", auth.AllScopes, "scope to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "write STRATLINE_TOKEN to the workspace .env")
	return cmd
}

func authKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ *slog.Logger) error {
				k, raw, err := ws.Engine.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": k.ID, "actor_id": k.ActorID, "name": k.Name, "key": raw})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", k.ID, k.ActorID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func authKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys of the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ *slog.Logger) error {
				keys, err := ws.Engine.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func authKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ *slog.Logger) error {
				if err := ws.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("api key %s not found", args[0])
					}
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stratline.yml",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default stratline.yml and create the database directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
	cmd.AddCommand(initCmd, show)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the event log",
	}
	var f repo.EventFilter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ *slog.Logger) error {
				events, err := ws.Engine.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.AddCommand(tail)
	return cmd
}

// setEnvValue sets key in a dotenv file, keeping other lines.
func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
