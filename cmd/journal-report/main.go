package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ducminhle1904/order-pipeline/cmd/common"
	"github.com/ducminhle1904/order-pipeline/internal/config"
	"github.com/ducminhle1904/order-pipeline/internal/logger"
	"github.com/ducminhle1904/order-pipeline/internal/risk"
	"github.com/ducminhle1904/order-pipeline/internal/state"
	"github.com/ducminhle1904/order-pipeline/pkg/reporting"
)

func main() {
	var (
		configFile = flag.String("config", "", "Pipeline configuration file (.json, .yaml or .yml)")
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		rebuild    = flag.Bool("rebuild", false, "Rebuild the checkpoint from the journal before reporting")
		xlsxOut    = flag.String("xlsx", "", "Excel output path (default: reports/<class>_<day>.xlsx)")
		csvOut     = flag.String("csv", "", "Optional CSV export of the journal")
		limit      = flag.Int("limit", 20, "Journal rows to print, 0 for all")
		noExcel    = flag.Bool("console-only", false, "Print tables only, skip the workbook")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		common.PrintVersion("journal-report")
		return
	}
	if *configFile == "" {
		log.Fatal("Please specify a config file with -config flag")
	}
	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load env file (%v)", err)
	}
	// reporting never sends orders, so live configs load without credentials
	os.Setenv(config.EnvDryRun, "true")

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg := logger.NewWriterLogger(os.Stderr, false)
	loc, err := risk.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}
	store, err := state.Open(state.Options{
		Root:        cfg.Store.Root,
		Mode:        cfg.Mode,
		Class:       cfg.InstrumentClass,
		CapitalBase: cfg.Capital,
		Location:    loc,
		Now:         time.Now,
	}, lg)
	if err != nil {
		log.Fatalf("Failed to open state store: %v", err)
	}
	defer store.Close()

	if *rebuild {
		cp, err := store.RebuildFromJournal()
		if err != nil {
			log.Fatalf("Rebuild failed: %v", err)
		}
		fmt.Printf("🔁 Checkpoint rebuilt: equity $%.2f, realized $%.2f\n\n", cp.Equity, cp.RealizedPnL)
	}

	report, err := reporting.FromStore(store)
	if err != nil {
		log.Fatalf("Failed to read journal: %v", err)
	}

	console := reporting.NewConsoleReporter(os.Stdout)
	console.PrintSummary(report)
	console.PrintPositions(report)
	console.PrintJournal(report, *limit)

	if *csvOut != "" {
		if err := reporting.WriteJournalCSV(report, *csvOut); err != nil {
			log.Fatalf("CSV export failed: %v", err)
		}
		fmt.Printf("📄 Journal CSV written to %s\n", *csvOut)
	}
	if *noExcel {
		return
	}
	path := *xlsxOut
	if path == "" {
		path = reporting.DefaultOutputPath(cfg.InstrumentClass, time.Now(), "xlsx")
	}
	if err := reporting.WriteXLSX(report, path); err != nil {
		log.Fatalf("Excel export failed: %v", err)
	}
	fmt.Printf("📊 Workbook written to %s\n", path)
}
