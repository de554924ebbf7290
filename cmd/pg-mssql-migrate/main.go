package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/pg-mssql-migrate/internal/checkpoint"
	"github.com/johndauphine/pg-mssql-migrate/internal/config"
	"github.com/johndauphine/pg-mssql-migrate/internal/credentials"
	_ "github.com/johndauphine/pg-mssql-migrate/internal/driver/mssql"
	_ "github.com/johndauphine/pg-mssql-migrate/internal/driver/postgres"
	"github.com/johndauphine/pg-mssql-migrate/internal/exitcodes"
	"github.com/johndauphine/pg-mssql-migrate/internal/logging"
	"github.com/johndauphine/pg-mssql-migrate/internal/notify"
	"github.com/johndauphine/pg-mssql-migrate/internal/orchestrator"
	"github.com/johndauphine/pg-mssql-migrate/internal/progress"
)

var version = "dev"

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		code := exitCode(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Debug("Exit code %d: %s", code, exitcodes.Description(code))
		os.Exit(code)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "pg-mssql-migrate",
		Usage:   "Copy PostgreSQL schemas and data into SQL Server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file (optional unless set explicitly)",
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Value: cli.NewStringSlice(".env"),
				Usage: "Load connection strings from these .env files; accepted prompted strings are saved to the first",
			},
			&cli.StringFlag{
				Name:  "state-file",
				Usage: "Keep run history in this YAML file instead of SQLite",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Explicit run ID (default: generated)",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Write JSON progress to stderr and the JSON result to stdout",
			},
			&cli.BoolFlag{
				Name:  "no-prompt",
				Usage: "Never ask for connection strings interactively",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}
			if c.Bool("output-json") {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Create the destination schemas and copy every table",
				Action: runMigration,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Tables moved concurrently",
					},
					&cli.StringSliceFlag{
						Name:  "include",
						Usage: "Only migrate tables matching these namespace.table globs",
					},
					&cli.StringSliceFlag{
						Name:  "exclude",
						Usage: "Skip tables matching these namespace.table globs",
					},
				},
			},
			{
				Name:   "plan",
				Usage:  "Print the DDL a run would apply without touching SQL Server",
				Action: planMigration,
			},
			{
				Name:   "validate",
				Usage:  "Compare row counts between source and destination",
				Action: validateMigration,
			},
			{
				Name:  "history",
				Usage: "List migration runs, or view the tables of one run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of runs to list",
					},
					&cli.DurationFlag{
						Name:  "prune",
						Usage: "Delete finished runs older than this (e.g. 720h) before listing; SQLite history only",
					},
				},
				Action: showHistory,
			},
		},
	}
}

// exitCode maps an error to the process exit code. Interrupts win over
// whatever the interrupted step reported.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitcodes.Cancelled
	}
	return exitcodes.FromError(err)
}

func runMigration(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("workers") {
		cfg.Migration.Workers = c.Int("workers")
		if cfg.Migration.MaxConnections < cfg.Migration.Workers {
			cfg.Migration.MaxConnections = cfg.Migration.Workers + 2
		}
	}
	if c.IsSet("include") {
		cfg.Migration.IncludeTables = c.StringSlice("include")
	}
	if c.IsSet("exclude") {
		cfg.Migration.ExcludeTables = c.StringSlice("exclude")
	}

	store, err := checkpoint.Open(cfg.State)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.StateError)
	}
	defer store.Close()

	sink, finish := buildSink(c, cfg)
	defer finish()

	orch, err := orchestrator.New(cfg, newProvider(c, cfg), orchestrator.Options{
		RunID: c.String("run-id"),
		Store: store,
		Sink:  sink,
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, stop := signalContext()
	defer stop()

	rep, runErr := orch.Run(ctx)

	if c.Bool("output-json") {
		if err := outputJSON(orch.Result(runErr)); err != nil {
			logging.Warn("Failed to output JSON: %v", err)
		}
	} else if rep != nil {
		if err := rep.Render(os.Stdout); err != nil {
			logging.Warn("Failed to render report: %v", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if failed := len(rep.Failed()); failed > 0 {
		return exitcodes.NewExitError(fmt.Errorf("%d of %d tables failed", failed, rep.Summary().Tables), exitcodes.TransferError)
	}
	return nil
}

func planMigration(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(cfg, newProvider(c, cfg), orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, stop := signalContext()
	defer stop()

	plan, err := orch.Plan(ctx)
	if err != nil {
		return err
	}
	return plan.WriteScript(os.Stdout)
}

func validateMigration(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(cfg, newProvider(c, cfg), orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, stop := signalContext()
	defer stop()

	results, err := orch.Validate(ctx)
	if c.Bool("output-json") && results != nil {
		if jerr := outputJSON(results); jerr != nil {
			logging.Warn("Failed to output JSON: %v", jerr)
		}
	}
	if err != nil && results != nil {
		return exitcodes.NewExitError(err, exitcodes.ValidationError)
	}
	return err
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	store, err := checkpoint.Open(cfg.State)
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.StateError)
	}
	defer store.Close()

	if retention := c.Duration("prune"); retention > 0 {
		pruner, ok := store.(interface {
			CleanupOldRuns(time.Duration) (int64, error)
		})
		if !ok {
			return exitcodes.NewExitError(fmt.Errorf("history backend %q cannot prune runs", cfg.State.Backend), exitcodes.ConfigError)
		}
		n, err := pruner.CleanupOldRuns(retention)
		if err != nil {
			return exitcodes.NewExitError(fmt.Errorf("pruning history: %w", err), exitcodes.StateError)
		}
		logging.Info("Pruned %d runs older than %s", n, retention)
	}

	if runID := c.String("run"); runID != "" {
		if c.Bool("output-json") {
			result, err := orchestrator.RunResult(store, runID)
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.StateError)
			}
			return outputJSON(result)
		}
		return orchestrator.ShowRunDetails(os.Stdout, store, runID)
	}
	return orchestrator.ShowHistory(os.Stdout, store, c.Int("limit"))
}

// loadConfig reads the config file when there is one. Without a file the
// defaults apply and connection strings come from the environment, the
// .env files or the prompt.
func loadConfig(c *cli.Context) (*config.Config, error) {
	envFiles := c.StringSlice("env-file")
	path := c.String("config")

	var cfg *config.Config
	if _, statErr := os.Stat(path); statErr != nil && errors.Is(statErr, os.ErrNotExist) && !c.IsSet("config") {
		if err := config.LoadEnvFiles(envFiles...); err != nil {
			return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
		}
		cfg = config.Default()
	} else {
		loaded, err := config.LoadWithOptions(path, config.LoadOptions{EnvFiles: envFiles})
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if sf := c.String("state-file"); sf != "" {
		cfg.State = config.StateConfig{Backend: "file", Path: sf}
	}
	return cfg, nil
}

func newProvider(c *cli.Context, cfg *config.Config) *credentials.Provider {
	opts := credentials.ProviderOptions{}
	if envFiles := c.StringSlice("env-file"); len(envFiles) > 0 {
		opts.EnvFile = envFiles[0]
	}
	if !c.Bool("no-prompt") {
		opts.Prompter = credentials.Interactive(os.Stdin, os.Stderr)
	}
	return credentials.NewProvider(cfg, opts)
}

// buildSink assembles the progress display and notifier for a run. The
// progress bar finishes itself on run_finished; the returned func stops
// the JSON reporter.
func buildSink(c *cli.Context, cfg *config.Config) (progress.Sink, func()) {
	var sinks []progress.Sink
	finish := func() {}

	if c.Bool("output-json") {
		reporter := progress.NewJSONReporter(os.Stderr, 2*time.Second)
		sinks = append(sinks, reporter)
		finish = reporter.Close
	} else {
		sinks = append(sinks, progress.NewTracker(os.Stderr))
	}

	if notifier := notify.New(&cfg.Slack); notifier.IsEnabled() {
		sinks = append(sinks, notify.NewSink(notifier, cfg.Source.Database, cfg.Target.Database))
	}
	return progress.Multi(sinks...), finish
}

// signalContext is cancelled on SIGINT or SIGTERM. Tables in flight fail
// and the report still lists everything attempted.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// outputJSON writes v as indented JSON to stdout.
func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
