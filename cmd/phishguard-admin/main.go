package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"phishguard/internal/analytics"
	"phishguard/internal/config"
	"phishguard/internal/lifecycle"
	"phishguard/internal/repository"
)

var (
	// Color printers
	infoColor    = color.New(color.FgBlue).SprintFunc()
	successColor = color.New(color.FgGreen).SprintFunc()
	warningColor = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	headerColor  = color.New(color.FgCyan, color.Bold).SprintFunc()
)

func printInfo(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", infoColor("[*]"), fmt.Sprintf(format, args...))
}

func printSuccess(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", successColor("[+]"), fmt.Sprintf(format, args...))
}

func printError(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", errorColor("[-]"), fmt.Sprintf(format, args...))
}

func main() {
	var (
		cfgPath   = flag.String("config", "configs/config.yml", "Path to the configuration file")
		report    = flag.Bool("report", true, "Print the analytics report")
		days      = flag.Int("days", 7, "Trailing window in days for trends")
		bins      = flag.Int("bins", 10, "Number of risk histogram bins")
		top       = flag.Int("top", 5, "Number of top users to list")
		retention = flag.Bool("retention", false, "Run the retention sweep once")
		anonymize = flag.Bool("anonymize", false, "Run the anonymization sweep once")
		verbose   = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Parse()

	if p := os.Getenv("PHISHGUARD_CONFIG"); p != "" && !isFlagSet("config") {
		*cfgPath = p
	}

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		printError("Failed to load config: %v", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			printError("Failed to create logger: %v", err)
			os.Exit(1)
		}
	}

	db, err := repository.NewDB(cfg.Database.Driver, cfg.Database.URL, logger)
	if err != nil {
		printError("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.MigrateDB(db, logger); err != nil {
		printError("Failed to run migrations: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	manager := lifecycle.NewManager(db, lifecycle.Policy{
		RetentionAge:     cfg.RetentionAge(),
		AnonymizationAge: cfg.AnonymizationAge(),
		Interval:         cfg.SweepInterval(),
	}, logger)

	failed := false
	if *retention {
		printInfo("Deleting scans older than %d days", cfg.Retention.DataRetentionDays)
		failed = !runSweep(ctx, manager.RetentionSweep) || failed
	}
	if *anonymize {
		printInfo("Anonymizing scans older than %d days", cfg.Retention.AnonymizationDays)
		failed = !runSweep(ctx, manager.AnonymizationSweep) || failed
	}

	if *report {
		engine := analytics.NewEngine(repository.NewScanRepository(db, logger), repository.NewStatisticsRepository(db, logger), cfg.Model.Version, logger)
		r, err := buildReport(ctx, engine, *days, *bins, *top)
		if err != nil {
			printError("Failed to build report: %v", err)
			os.Exit(1)
		}
		printReport(os.Stdout, r)
	}

	if failed {
		os.Exit(1)
	}
}

func runSweep(ctx context.Context, sweep func(context.Context) (lifecycle.SweepResult, error)) bool {
	result, err := sweep(ctx)
	if err != nil {
		printError("Sweep %s failed: %v", result.RunID, err)
		return false
	}
	printSuccess("Sweep %s (%s) affected %d rows", result.Sweep, result.RunID, result.Affected)
	return true
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
