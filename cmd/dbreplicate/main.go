// Command dbreplicate synchronizes an Upstream API database into a target
// relational engine, following the phase sequence owned by internal/executor.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dbashand/dbreplicate/internal/config"
	"github.com/dbashand/dbreplicate/internal/executor"
	"github.com/dbashand/dbreplicate/internal/logger"
	"github.com/dbashand/dbreplicate/internal/model"
	"github.com/dbashand/dbreplicate/internal/upstream"
)

func printUsage() {
	fmt.Println("Usage: dbreplicate [flags]")
	fmt.Println("\nFlags:")
	fmt.Println("  --dry-run, -d        Analyze the target without mutating it")
	fmt.Println("  --ignore-errors, -i  Continue past table failures instead of rolling back")
	fmt.Println("  --help, -h           Print this usage and exit")
	fmt.Println("\nEnvironment variables are read from the process environment and an")
	fmt.Println("optional .env file in the working directory.")
}

// parseFlags is a hand-rolled parser over a trivial closed flag set; it
// never errors, treating an unknown flag the same as --help.
func parseFlags(args []string) (dryRun, ignoreErrors, help, unknown bool) {
	for _, a := range args {
		switch a {
		case "--dry-run", "-d":
			dryRun = true
		case "--ignore-errors", "-i":
			ignoreErrors = true
		case "--help", "-h":
			help = true
		default:
			unknown = true
		}
	}
	return
}

func main() {
	dryRun, ignoreErrors, help, unknown := parseFlags(os.Args[1:])
	if help || unknown {
		printUsage()
		os.Exit(0)
	}

	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if dryRun {
		cfg.Mode = config.ModeDryRun
	}
	if ignoreErrors {
		cfg.ContinueOnError = true
		cfg.EnableRollback = false
	}

	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	client := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamDatabaseID, time.Duration(cfg.ConnectTimeoutMs)*time.Millisecond)
	exec := executor.New(cfg, client, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, runErr := exec.Run(ctx)
	printSummary(stats)

	if runErr != nil {
		fmt.Printf("Error: %v\n", runErr)
		os.Exit(1)
	}
}

// printSummary renders the tabular end-of-run summary: duration, tables
// synchronized over total, rows synchronized, and either success or the
// failed-table list with kind and detail per entry.
func printSummary(stats *model.RunStats) {
	fmt.Println()
	fmt.Println("=== Run Summary ===")
	fmt.Printf("Duration:    %s\n", stats.Duration().Round(time.Millisecond))
	fmt.Printf("Tables:      %d / %d synchronized\n", stats.SuccessfulTables, stats.TotalTables)
	fmt.Printf("Rows:        %d synchronized\n", stats.RowsInserted)

	if len(stats.TableTimings) > 0 {
		names := make([]string, 0, len(stats.TableTimings))
		for name := range stats.TableTimings {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("Timings (extract / transform / load):")
		for _, name := range names {
			t := stats.TableTimings[name]
			fmt.Printf("  - %-30s %s / %s / %s\n", name, t.Extract.Round(time.Millisecond), t.Transform.Round(time.Millisecond), t.Load.Round(time.Millisecond))
		}
	}

	if len(stats.FailedTables) == 0 {
		fmt.Println("Result:      success")
		return
	}

	fmt.Printf("Result:      %d table(s) failed\n", len(stats.FailedTables))
	for _, f := range stats.FailedTables {
		fmt.Printf("  - %-30s %-24s %s\n", f.Name, f.Kind, f.Detail)
	}
}
