package memory

import (
	"context"
	"testing"

	"settleup/internal/core"
)

func TestStore_KeepsNewestVersion(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.ExportReport(ctx, core.GroupReport{GroupID: 1, Version: 5}); err != nil {
		t.Fatal(err)
	}
	ref, err := s.ExportReport(ctx, core.GroupReport{GroupID: 1, Version: 3})
	if err != nil {
		t.Fatal(err)
	}
	if ref != "mem:1@3" {
		t.Errorf("ref = %q", ref)
	}

	r, ok := s.Report(1)
	if !ok || r.Version != 5 {
		t.Errorf("Report(1) = %+v, %v; want version 5", r, ok)
	}
	if s.Writes() != 2 {
		t.Errorf("Writes() = %d, want 2", s.Writes())
	}
	if _, ok := s.Report(2); ok {
		t.Error("Report(2) should be missing")
	}
}
