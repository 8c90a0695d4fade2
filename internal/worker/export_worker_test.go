package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settleup/internal/amqp"
	"settleup/internal/core"
	"settleup/internal/services"
	sheetsmem "settleup/internal/sheets/memory"
	"settleup/internal/storage/memory"
)

func setup(t *testing.T) (*services.GroupService, core.Group) {
	t.Helper()
	svc := services.NewGroupService(memory.New(), nil, nil)
	g, err := svc.CreateGroup(context.Background(), "Flat", []core.Member{{Username: "A"}, {Username: "B"}})
	require.NoError(t, err)
	return svc, g
}

func TestHandleGroupChanged_ExportsCurrentReport(t *testing.T) {
	ctx := context.Background()
	svc, g := setup(t)
	exp := sheetsmem.New()
	w := NewExportWorker(svc, exp, nil)

	_, err := svc.AddPayment(ctx, g.ID, core.Payment{Amount: core.Cents(500), PaidFrom: "A", PaidTo: "B"})
	require.NoError(t, err)

	require.NoError(t, w.HandleGroupChanged(ctx, amqp.NewGroupChangedMessage(g.ID, 1, amqp.ReasonPaymentAdded)))

	r, ok := exp.Report(g.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), r.Version)
	assert.Equal(t, []core.Settlement{{Creditor: "A", Debtor: "B", Amount: core.Cents(500)}}, r.Settlements)

	// Redelivery of the same or an older event does no work.
	require.NoError(t, w.HandleGroupChanged(ctx, amqp.NewGroupChangedMessage(g.ID, 1, amqp.ReasonPaymentAdded)))
	require.NoError(t, w.HandleGroupChanged(ctx, amqp.NewGroupChangedMessage(g.ID, 0, amqp.ReasonMembersChanged)))
	assert.Equal(t, 1, exp.Writes())
}

func TestHandleGroupChanged_MissingGroupIsDropped(t *testing.T) {
	svc, _ := setup(t)
	exp := sheetsmem.New()
	w := NewExportWorker(svc, exp, nil)

	err := w.HandleGroupChanged(context.Background(), amqp.NewGroupChangedMessage(404, 1, amqp.ReasonExpenseAdded))
	assert.NoError(t, err)
	assert.Equal(t, 0, exp.Writes())
}

type failingExporter struct{ calls int }

func (f *failingExporter) ExportReport(context.Context, core.GroupReport) (string, error) {
	f.calls++
	return "", errors.New("quota exceeded")
}

func TestHandleGroupChanged_ExportErrorIsReturned(t *testing.T) {
	svc, g := setup(t)
	exp := &failingExporter{}
	w := NewExportWorker(svc, exp, nil)

	msg := amqp.NewGroupChangedMessage(g.ID, 0, amqp.ReasonMembersChanged)
	assert.Error(t, w.HandleGroupChanged(context.Background(), msg))
	// Not recorded as exported, so the retry does the work again.
	assert.Error(t, w.HandleGroupChanged(context.Background(), msg))
	assert.Equal(t, 2, exp.calls)
}

func TestExportAll(t *testing.T) {
	ctx := context.Background()
	svc, g1 := setup(t)
	g2, err := svc.CreateGroup(ctx, "Trip", []core.Member{{Username: "C"}, {Username: "D"}})
	require.NoError(t, err)

	exp := sheetsmem.New()
	w := NewExportWorker(svc, exp, nil)
	require.NoError(t, w.ExportAll(ctx))

	for _, id := range []int64{g1.ID, g2.ID} {
		_, ok := exp.Report(id)
		assert.True(t, ok, "group %d should be exported", id)
	}

	// Nothing changed, so a second pass writes nothing.
	require.NoError(t, w.ExportAll(ctx))
	assert.Equal(t, 2, exp.Writes())
}
