// Package sheets defines the outbound port for publishing group reports to
// a spreadsheet.
package sheets

import (
	"context"

	"settleup/internal/core"
)

// ReportExporter writes the latest report of a group somewhere humans can
// read it. Exports are idempotent: writing the same report twice leaves the
// same result.
type ReportExporter interface {
	ExportReport(ctx context.Context, r core.GroupReport) (ref string, err error)
}
