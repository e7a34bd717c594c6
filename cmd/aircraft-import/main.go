package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"vdl2_feed/internal/database"
)

func main() {
	dbPath := pflag.String("db", "aircraft.db", "Path to the reference database (created if missing)")
	csvPaths := pflag.StringArray("csv", nil, "CSV file to load (repeatable; parts must share the first file's header)")
	batchSize := pflag.Int("batch", 5000, "Rows per transaction")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if len(*csvPaths) == 0 {
		slog.Error("At least one --csv file is required")
		pflag.Usage()
		os.Exit(2)
	}
	if *batchSize <= 0 {
		slog.Error("--batch must be greater than 0", "batch", *batchSize)
		os.Exit(2)
	}

	db, err := database.OpenWritable(*dbPath)
	if err != nil {
		slog.Error("Failed to open database", "db", *dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	start := time.Now()
	slog.Info("Loading aircraft reference data", "db", *dbPath, "csv_paths", *csvPaths, "batch", *batchSize)

	if err := db.Aircraft().LoadFromMultipleCSV(*csvPaths, *batchSize); err != nil {
		slog.Error("Failed to load aircraft from CSV", "error", err)
		db.Close()
		os.Exit(1)
	}

	slog.Info("Successfully loaded aircraft database", "elapsed", time.Since(start).Round(time.Millisecond))
}
