package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stratline/internal/app"
	"stratline/internal/config"
	"stratline/internal/domain"
	"stratline/internal/editor"
	"stratline/internal/graph"
	"stratline/internal/render"
	"stratline/internal/wire"
)

func strategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "strategy",
		Aliases: []string{"s"},
		Short:   "Manage strategies",
		Long:    "A strategy combines conditions with nested AND/OR groups. Paused strategies are stored but never evaluated; 'sl strategy status <id> active' hands one to the evaluator.",
	}
	cmd.AddCommand(strategyListCmd())
	cmd.AddCommand(strategyShowCmd())
	cmd.AddCommand(strategyCreateCmd())
	cmd.AddCommand(strategyEditCmd())
	cmd.AddCommand(strategyDeleteCmd())
	cmd.AddCommand(strategyStatusCmd())
	cmd.AddCommand(strategyValidateCmd())
	cmd.AddCommand(strategyTreeCmd())
	cmd.AddCommand(strategyGraphCmd())
	return cmd
}

func strategyListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ *config.Config, _ *slog.Logger) error {
				items, err := b.ListStrategies(ctx, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Schedule", "Assets", "Conditions", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Status, s.Schedule, strings.Join(s.Assets, ","), s.ConditionCount, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (active, paused)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum strategies")
	return cmd
}

func strategyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ *config.Config, _ *slog.Logger) error {
				rec, err := b.GetStrategy(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				printMeta(rec)
				st := wire.Load(rec.Strategy)
				fmt.Println(render.Text(render.Rows(st.Conditions, st.Tree, nil)))
				return nil
			})
		},
	}
}

func printMeta(rec domain.StrategyRecord) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"ID", rec.ID})
	tw.AppendRow(table.Row{"Name", rec.Name})
	if rec.Description != "" {
		tw.AppendRow(table.Row{"Description", rec.Description})
	}
	tw.AppendRow(table.Row{"Status", rec.Status})
	tw.AppendRow(table.Row{"Schedule", rec.Schedule})
	tw.AppendRow(table.Row{"Assets", strings.Join(rec.Assets, ", ")})
	if c, err := rec.NotificationPreferences.Cooldown(); err == nil && c.Enabled {
		tw.AppendRow(table.Row{"Cooldown", fmt.Sprintf("%d%s", c.DurationValue, c.DurationUnit)})
	}
	if rec.TriggerCount != nil {
		tw.AppendRow(table.Row{"Triggers", *rec.TriggerCount})
	}
	if rec.LastRunAt != nil {
		tw.AppendRow(table.Row{"Last run", *rec.LastRunAt})
	}
	tw.AppendRow(table.Row{"Updated", rec.UpdatedAt})
	tw.Render()
}

func strategyCreateCmd() *cobra.Command {
	var file, name, description, schedule string
	var assets []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a strategy",
		Long:  "With --file the JSON payload is created as is. Otherwise a new strategy is started from flags with one default condition; refine it with 'sl strategy edit'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, cfg *config.Config, logger *slog.Logger) error {
				var st wire.State
				seed := file == ""
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					if st, err = wire.Decode(data); err != nil {
						return err
					}
					st.Meta.ID = ""
				} else {
					st = wire.State{Meta: domain.StrategyMeta{
						Name:        name,
						Description: description,
						Schedule:    schedule,
						Assets:      assets,
						Status:      cfg.Strategy.DefaultStatus,
					}}
					if st.Meta.Schedule == "" {
						st.Meta.Schedule = cfg.Strategy.DefaultSchedule
					}
				}
				s := editor.New(st, app.EditorOptions(cfg, b, logger, seed))
				defer s.Close()
				saved, err := s.Save(ctx)
				if err != nil {
					return explain(err)
				}
				if viper.GetBool("json") {
					return printJSON(saved)
				}
				fmt.Printf("Created strategy %s (%s)\n", saved.ID, saved.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "strategy JSON file")
	cmd.Flags().StringVar(&name, "name", "", "strategy name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&schedule, "schedule", "", "evaluation schedule (defaults to strategy.default_schedule)")
	cmd.Flags().StringArrayVar(&assets, "asset", nil, "asset symbol (repeatable)")
	return cmd
}

func strategyEditCmd() *cobra.Command {
	var script string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Apply an edit script to a strategy",
		Long: `Edit scripts are YAML lists of operations applied in order, for example:

  - op: add_condition
    group: ""          # root; groups are addressed by path ("0/1") or id
    type: price_alert
  - op: update_condition
    condition: "1"     # row path or condition id
    payload: {direction: above, target_price: 50000}
  - op: set_operator
    group: ""
    operator: OR

Undo and redo operations are available with target conditions, tree or both.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(script)
			if err != nil {
				return err
			}
			ops, err := editor.ParseScript(data)
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, cfg *config.Config, logger *slog.Logger) error {
				rec, err := b.GetStrategy(ctx, args[0])
				if err != nil {
					return err
				}
				s := editor.New(wire.Load(rec.Strategy), app.EditorOptions(cfg, b, logger, false))
				defer s.Close()
				if err := s.Run(ops); err != nil {
					return err
				}
				if dryRun {
					fmt.Println(render.Text(s.List()))
					if errs := s.Validate(); len(errs) > 0 {
						printProblems(errs)
					}
					return nil
				}
				saved, err := s.Save(ctx)
				if err != nil {
					return explain(err)
				}
				if viper.GetBool("json") {
					return printJSON(saved)
				}
				fmt.Printf("Updated strategy %s (%d operations)\n", saved.ID, len(ops))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "YAML edit script")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the edited tree without saving")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func strategyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ *config.Config, _ *slog.Logger) error {
				if err := b.DeleteStrategy(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func strategyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "status <id> <active|paused>",
		Short:     "Activate or pause a strategy",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{domain.StatusActive, domain.StatusPaused},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ *config.Config, _ *slog.Logger) error {
				rec, err := b.SetStatus(ctx, args[0], args[1])
				if err != nil {
					return explain(err)
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("%s is %s\n", rec.ID, rec.Status)
				return nil
			})
		},
	}
}

func strategyValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate [id]",
		Short: "Report validation problems for a stored strategy or a JSON file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (len(args) == 0) {
				return fmt.Errorf("pass either a strategy id or --file")
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ *config.Config, _ *slog.Logger) error {
				var s domain.Strategy
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					st, err := wire.Decode(data)
					if err != nil {
						return err
					}
					if s, err = wire.Save(st); err != nil {
						return err
					}
				} else {
					rec, err := b.GetStrategy(ctx, args[0])
					if err != nil {
						return err
					}
					s = rec.Strategy
				}
				errs, err := b.Validate(ctx, s)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"valid": len(errs) == 0, "errors": errs})
				}
				if len(errs) == 0 {
					fmt.Println("valid")
					return nil
				}
				printProblems(errs)
				return fmt.Errorf("%d validation problem(s)", len(errs))
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "strategy JSON file")
	return cmd
}

func strategyTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <id>",
		Short: "Print the logic tree as an indented list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ *config.Config, _ *slog.Logger) error {
				rec, err := b.GetStrategy(ctx, args[0])
				if err != nil {
					return err
				}
				st := wire.Load(rec.Strategy)
				rows := render.Rows(st.Conditions, st.Tree, nil)
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				fmt.Println(render.Text(rows))
				return nil
			})
		},
	}
}

func strategyGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <id>",
		Short: "Print the logic tree as a Mermaid flowchart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, cfg *config.Config, _ *slog.Logger) error {
				rec, err := b.GetStrategy(ctx, args[0])
				if err != nil {
					return err
				}
				st := wire.Load(rec.Strategy)
				p := graph.Project(st.Conditions, st.Tree, cfg.Layout, nil)
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Println(graph.Mermaid(p))
				return nil
			})
		},
	}
}

func printProblems(errs wire.ValidationErrors) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Code", "Field", "Message"})
	for _, e := range errs {
		tw.AppendRow(table.Row{e.Code, e.Field, e.Message})
	}
	tw.Render()
}

// explain prints validation problems as a table and returns a short error.
func explain(err error) error {
	var errs wire.ValidationErrors
	if errors.As(err, &errs) {
		printProblems(errs)
		return fmt.Errorf("%d validation problem(s)", len(errs))
	}
	return err
}
