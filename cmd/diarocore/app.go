package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/clinisys/diarocore/internal/archive"
	"github.com/clinisys/diarocore/internal/audit"
	"github.com/clinisys/diarocore/internal/config"
	"github.com/clinisys/diarocore/internal/governor"
	"github.com/clinisys/diarocore/internal/jobs"
	"github.com/clinisys/diarocore/internal/logging"
	"github.com/clinisys/diarocore/internal/scheduler"
)

// app bundles every wired component a subcommand might need. It is
// built lazily from Settings so commands like "authors"-equivalent
// informational subcommands never have to open the archive.
type app struct {
	settings  *config.Settings
	log       logging.Logger
	store     *archive.Store
	ledger    *audit.Ledger
	registry  *jobs.Registry
	governor  *governor.Governor
	scheduler *scheduler.Scheduler
}

func newApp(settings *config.Settings) (*app, error) {
	log := logging.New(os.Stderr, slog.LevelInfo)

	store, err := archive.Open(settings.Archive.Path, settings.Archive.OwnerID, settings.Archive.OwnerSalt,
		settings.Archive.MaxBatchRows, settings.Scheduler.WriteQueueCapacity, log)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	ledger := audit.New(store, log)
	registry, err := jobs.NewRegistry(store, ledger, log)
	if err != nil {
		return nil, fmt.Errorf("rebuild job registry: %w", err)
	}
	gov := governor.New(governor.Params{
		IdleThresholdPct:  settings.Governor.IdleThresholdPct,
		WindowSec:         settings.Governor.WindowSec,
		SampleIntervalSec: settings.Governor.SampleIntervalSec,
	}, log, nil)

	return &app{
		settings: settings,
		log:      log,
		store:    store,
		ledger:   ledger,
		registry: registry,
		governor: gov,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
