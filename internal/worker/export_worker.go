// Package worker consumes group change events and keeps the exported
// reports current.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"settleup/internal/amqp"
	"settleup/internal/core"
	"settleup/internal/log"
	"settleup/internal/services"
	"settleup/internal/sheets"
	"settleup/internal/storage"
)

// ExportWorker writes a group's report whenever the group changes.
type ExportWorker struct {
	service  *services.GroupService
	exporter sheets.ReportExporter
	logger   *log.Logger

	mu       sync.Mutex
	exported map[int64]int64 // group id -> last exported version
}

func NewExportWorker(service *services.GroupService, exporter sheets.ReportExporter, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &ExportWorker{
		service:  service,
		exporter: exporter,
		logger:   logger.WithComponent(log.ComponentWorker),
		exported: make(map[int64]int64),
	}
}

// HandleGroupChanged exports the group's current report. Events older than
// what was already exported are acknowledged without work, so redelivery
// and out-of-order delivery are harmless.
func (w *ExportWorker) HandleGroupChanged(ctx context.Context, msg *amqp.GroupChangedMessage) error {
	if w.alreadyExported(msg.GroupID, msg.Version) {
		w.logger.DebugContext(ctx, "Skipping stale group change",
			log.FieldGroupID, msg.GroupID,
			log.FieldVersion, msg.Version)
		return nil
	}

	g, err := w.service.GetGroup(ctx, msg.GroupID)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.WarnContext(ctx, "Group from change event not found, dropping",
			log.FieldGroupID, msg.GroupID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get group %d: %w", msg.GroupID, err)
	}

	w.logger.InfoContext(ctx, "Processing group change",
		log.FieldGroupID, g.ID,
		log.FieldVersion, g.Version,
		"event_version", msg.Version,
		"reason", msg.Reason)
	return w.export(ctx, g)
}

// ExportAll exports every group once. Used at startup to catch up on events
// missed while the worker was down.
func (w *ExportWorker) ExportAll(ctx context.Context) error {
	ids, err := w.service.GroupIDs(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}

	var success, failed int
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		g, err := w.service.GetGroup(ctx, id)
		if err == nil {
			err = w.export(ctx, g)
		}
		if err != nil {
			failed++
			w.logger.ErrorContext(ctx, "Failed to export group during startup",
				log.FieldGroupID, id,
				log.FieldError, err)
			continue
		}
		success++
	}

	w.logger.InfoContext(ctx, "Startup export completed",
		"total", len(ids),
		"exported", success,
		"errors", failed)
	return nil
}

func (w *ExportWorker) export(ctx context.Context, g core.Group) error {
	if w.alreadyExported(g.ID, g.Version) {
		return nil
	}
	report, err := w.service.Report(ctx, g)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	ref, err := w.exporter.ExportReport(ctx, report)
	if err != nil {
		return fmt.Errorf("export report: %w", err)
	}

	w.mu.Lock()
	if w.exported[g.ID] < report.Version {
		w.exported[g.ID] = report.Version
	}
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "Exported group",
		log.FieldGroupID, g.ID,
		log.FieldVersion, report.Version,
		log.FieldSettlements, len(report.Settlements),
		"ref", ref)
	return nil
}

func (w *ExportWorker) alreadyExported(groupID, version int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.exported[groupID]
	return ok && v >= version
}
