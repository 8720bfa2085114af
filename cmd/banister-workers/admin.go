package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/csvfile"
	"github.com/Dm1try555/banister-backend-sub000/internal/adapter/postgres"
	"github.com/Dm1try555/banister-backend-sub000/internal/config"
	"github.com/Dm1try555/banister-backend-sub000/internal/domain/task"
	"github.com/Dm1try555/banister-backend-sub000/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "list-tasks":
		return runAdminListTasks(args[1:])
	case "prune":
		return runAdminPrune(args[1:])
	case "recover":
		return runAdminRecover(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: banister-workers admin <command> [options]

Commands:
  migrate      Apply pending database migrations
  rollback     Roll back the most recent migrations
  version      Print the current migration version
  list-tasks   List tasks, newest first
  prune        Delete terminal tasks past the retention age
  recover      Fail processing tasks whose worker stopped heartbeating
  help         Show this help message

Examples:
  banister-workers admin migrate
  banister-workers admin rollback --steps 2
  banister-workers admin list-tasks --state failed --limit 20
  banister-workers admin list-tasks --type bookings_export --json
  banister-workers admin prune
`)
}

// adminDeps holds what admin commands that touch tasks need.
type adminDeps struct {
	cfg       *config.Config
	store     *postgres.TaskStore
	artifacts *csvfile.Store
}

func loadAdminDeps(ctx context.Context) (*adminDeps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	deps := &adminDeps{
		cfg:       cfg,
		store:     postgres.NewTaskStore(pool),
		artifacts: csvfile.New(cfg.Workers.ResultsDir),
	}
	return deps, pool.Close, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := postgres.RunMigrations(context.Background(), cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Migrations applied")
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, *steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

func runAdminVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("version: %w", err)
	}
	fmt.Println(v)
	return nil
}

func runAdminListTasks(args []string) error {
	fs := flag.NewFlagSet("list-tasks", flag.ContinueOnError)
	state := fs.String("state", "", "only tasks in this state")
	typ := fs.String("type", "", "only tasks of this type")
	limit := fs.Int("limit", service.DefaultListLimit, "maximum number of tasks")
	asJSON := fs.Bool("json", false, "print JSON even on a terminal")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := service.NewTaskService(deps.store, nil, deps.artifacts)
	tasks, err := svc.List(ctx, task.ListFilter{
		State: task.State(*state),
		Type:  task.Type(*typ),
		Limit: *limit,
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if *asJSON || !term.IsTerminal(int(os.Stdout.Fd())) { //nolint:gosec // fd fits in int
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tasks)
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATE\tPROGRESS\tPROCESSED\tFAILED\tTOTAL\tCREATED")
	for i := range tasks {
		t := &tasks[i]
		v := t.Status(now)
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%.1f%%\t%d\t%d\t%d\t%s\n",
			t.ID, t.Type, t.State, v.ProgressPercent, t.ProcessedRecords, t.FailedRecords, t.TotalRecords,
			t.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runAdminPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	maxAge := fs.Duration("max-age", 0, "override the configured retention age")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	age := deps.cfg.Retention.MaxAge
	if *maxAge > 0 {
		age = *maxAge
	}
	n, err := service.NewRetention(deps.store, deps.artifacts, nil, age, slog.Default()).Prune(ctx)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Pruned %d task(s) older than %s\n", n, age)
	return nil
}

func runAdminRecover(args []string) error {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	staleAfter := fs.Duration("stale-after", 0, "override the configured heartbeat age")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	age := deps.cfg.Workers.StaleAfter
	if *staleAfter > 0 {
		age = *staleAfter
	}
	ids, err := service.NewRecovery(deps.store, nil, age, slog.Default()).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	fmt.Fprintf(os.Stderr, "Failed %d stale task(s)\n", len(ids))
	return nil
}
