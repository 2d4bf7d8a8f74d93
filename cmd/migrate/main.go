package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"clubmailer/internal/app"
	"clubmailer/internal/config"
	"clubmailer/migrations"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func main() {
	command := "help"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up", "down", "status", "reset", "seed":
	case "help":
		printUsage()
		return
	default:
		printUsage()
		os.Exit(1)
	}

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	if err := run(context.Background(), command); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printSuccess("\nDone.")
}

func run(ctx context.Context, command string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	printSuccess("✓ Connected to database\n")

	all, err := migrations.Load()
	if err != nil {
		return err
	}
	runner := migrations.NewRunner(db, all)
	if err := runner.Init(ctx); err != nil {
		return err
	}

	switch command {
	case "up":
		return up(ctx, runner)
	case "down":
		m, err := runner.Down(ctx)
		if err != nil {
			return err
		}
		if m == nil {
			printWarning("No migrations to roll back")
			return nil
		}
		printSuccess(fmt.Sprintf("✓ Rolled back %03d_%s", m.Version, m.Name))
		return nil
	case "reset":
		printWarning("Rolling back every migration...")
		for {
			m, err := runner.Down(ctx)
			if err != nil {
				return err
			}
			if m == nil {
				break
			}
			printSuccess(fmt.Sprintf("  ✓ Rolled back %03d_%s", m.Version, m.Name))
		}
		return up(ctx, runner)
	case "seed":
		seeds, err := migrations.Seeds()
		if err != nil {
			return err
		}
		for i, seed := range seeds {
			if _, err := db.ExecContext(ctx, seed); err != nil {
				return fmt.Errorf("failed to run seed %d: %w", i+1, err)
			}
		}
		printSuccess(fmt.Sprintf("✓ Ran %d seed file(s)", len(seeds)))
		return nil
	default:
		return status(ctx, runner)
	}
}

func up(ctx context.Context, runner *migrations.Runner) error {
	done, err := runner.Up(ctx)
	for _, m := range done {
		printSuccess(fmt.Sprintf("  ✓ Applied %03d_%s", m.Version, m.Name))
	}
	if err != nil {
		return err
	}
	if len(done) == 0 {
		printSuccess("✓ All migrations are up to date")
	}
	return nil
}

func status(ctx context.Context, runner *migrations.Runner) error {
	all, err := runner.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s%-10s %-40s %-12s %-20s%s\n", colorBold, "VERSION", "NAME", "STATUS", "APPLIED AT", colorReset)
	fmt.Println(strings.Repeat("-", 85))

	applied := 0
	for _, m := range all {
		state, color, at := "pending", colorYellow, "-"
		if m.Applied() {
			applied++
			state, color, at = "applied", colorGreen, m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-10s %-40s %s%-12s%s %-20s\n", fmt.Sprintf("%03d", m.Version), m.Name, color, state, colorReset, at)
	}

	fmt.Println(strings.Repeat("-", 85))
	printInfo(fmt.Sprintf("\nSummary: %d/%d migrations applied", applied, len(all)))
	return nil
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}

func printUsage() {
	printInfo("=== clubmailer migration runner ===\n")
	fmt.Println("Usage: migrate [command]")
	fmt.Println("\nCommands:")
	fmt.Println("  up       - Apply all pending migrations")
	fmt.Println("  down     - Roll back the last applied migration")
	fmt.Println("  status   - Show current migration status")
	fmt.Println("  reset    - Roll back all migrations and reapply them")
	fmt.Println("  seed     - Load the demo tenant data")
	fmt.Println("  help     - Show this help message")
	fmt.Println("\nMigrations are embedded from migrations/*.up.sql and *.down.sql")
	fmt.Println("and tracked in the 'schema_migrations' table.")
}
