package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/labtracksimple/labtrack/internal/adapter/postgres"
	"github.com/labtracksimple/labtrack/internal/config"
	"github.com/labtracksimple/labtrack/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate()
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion()
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "sweep-orphans":
		return runAdminSweepOrphans(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: labtrack admin <command> [options]

Commands:
  migrate          Apply all pending database migrations
  rollback [n]     Roll back the last n migrations (default 1)
  version          Print the current migration version
  hash-key         Hash a service API key for auth.service_key_hash
  sweep-orphans    Soft-delete draft reports that never received a file
  help             Show this help message

Examples:
  labtrack admin migrate
  labtrack admin rollback 2
  labtrack admin hash-key
  labtrack admin sweep-orphans --older-than 48h
`)
}

func runAdminMigrate() error {
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
	steps := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("rollback: step count must be a positive integer, got %q", args[0])
		}
		steps = n
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, steps); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", steps)
	return nil
}

func runAdminVersion() error {
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

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	key := fs.String("key", "", "service key (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	k := *key
	if k == "" {
		var err error
		k, err = promptSecret("Service key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		confirm, err := promptSecret("Confirm key: ")
		if err != nil {
			return fmt.Errorf("read key: %w", err)
		}
		if k != confirm {
			return fmt.Errorf("keys do not match")
		}
	}
	if len(k) < 16 {
		return fmt.Errorf("service key must be at least 16 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(k), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}
	fmt.Println(string(hash))
	return nil
}

func runAdminSweepOrphans(args []string) error {
	fs := flag.NewFlagSet("sweep-orphans", flag.ContinueOnError)
	ttl := fs.Duration("older-than", 0, "minimum draft age (defaults to janitor.orphan_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *ttl > 0 {
		cfg.Janitor.OrphanTTL = *ttl
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	ids, err := service.NewJanitorService(postgres.NewStore(pool), cfg.Janitor.OrphanTTL, nil).Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	fmt.Fprintf(os.Stderr, "Removed %d orphan draft(s)\n", len(ids))
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
