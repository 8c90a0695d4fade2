package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"settleup/internal/cli"
	"settleup/internal/config"
	"settleup/internal/log"
	"settleup/internal/services"
	"settleup/internal/sheets"
	gsheet "settleup/internal/sheets/google"
	mem "settleup/internal/sheets/memory"
	"settleup/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	logger.Info("Starting settleup-worker")
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()
	if cfg.DataBackend == "memory" {
		logger.Warn("Worker is running on the memory backend and will only see its own groups")
	}

	exporter, err := newExporter(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize report exporter", log.FieldError, err)
		return 1
	}

	svc := res.NewGroupService(logger)
	exportWorker := worker.NewExportWorker(svc, exporter, logger)
	reconciler := services.NewReconcileProcessor(svc, services.ReconcileProcessorConfig{
		Interval: cfg.ReconcileInterval,
	}, logger)

	// Catch up on changes published while the worker was down.
	logger.Info("Performing startup export")
	if err := exportWorker.ExportAll(ctx); err != nil {
		logger.Error("Startup export failed", log.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := reconciler.Start(gctx); err != nil {
		logger.Error("Failed to start reconcile processor", log.FieldError, err)
		return 1
	}

	if res.AMQP != nil {
		g.Go(func() error {
			err := res.AMQP.ConsumeGroupChanged(gctx, exportWorker.HandleGroupChanged)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Info("AMQP disabled - exporting on the reconcile interval only")
		g.Go(func() error {
			ticker := time.NewTicker(cfg.ReconcileInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := exportWorker.ExportAll(gctx); err != nil {
						logger.Error("Periodic export failed", log.FieldError, err)
					}
				}
			}
		})
	}

	code := 0
	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		code = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	logger.Info("Shutting down worker...")
	if err := reconciler.Stop(shutdownCtx); err != nil {
		logger.Warn("Reconcile processor did not stop cleanly", log.FieldError, err)
	}
	logger.Info("Worker shutdown complete")
	return code
}

func newExporter(ctx context.Context, cfg *config.Config, logger *log.Logger) (sheets.ReportExporter, error) {
	if !cfg.ExportEnabled {
		logger.Info("Google Sheets export disabled - keeping reports in memory")
		return mem.New(), nil
	}
	client, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetPrefix:     cfg.GoogleSheetPrefix,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}
