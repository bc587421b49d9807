package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/database"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		dbPath      = flag.String("db", "./data/bookings.db", "path to sqlite db")
		requeue     = flag.Bool("requeue-sync", false, "move failed Sheets sync tasks back to pending")
	)
	flag.Parse()

	catalog, err := config.LoadCatalog(*catalogPath)
	if err != nil {
		return err
	}
	if len(catalog.Salons) == 0 {
		return fmt.Errorf("no salons in %s", *catalogPath)
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.SyncCatalog(ctx, catalog); err != nil {
		return err
	}

	if *requeue {
		n, err := db.RequeueFailedSyncTasks(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("requeued sync tasks: %d\n", n)
	}

	fmt.Printf("done: salons=%d services=%d staff=%d\n", len(catalog.Salons), len(catalog.Services), len(catalog.Staff))
	return nil
}
