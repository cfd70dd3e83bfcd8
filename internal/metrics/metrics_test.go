package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveLedgerMutation("deduct_credits", "ok")
		m.ObserveConflictRetry("deduct_credits")
		m.ObserveEntryAppendFailure()
		m.ObserveImageNormalize("threshold", "ok")
		m.ObserveOutboxPublish("sent")
		m.ObserveOrderClosed()
		m.ObserveEntryReconciled()
	})
}

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLedgerMutation("deduct_credits", "ok")
	m.ObserveLedgerMutation("deduct_credits", "ok")
	m.ObserveLedgerMutation("deduct_credits", "insufficient")
	m.ObserveImageNormalize("threshold", "fallback")
	m.ObserveEntryAppendFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LedgerMutations().WithLabelValues("deduct_credits", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerMutations().WithLabelValues("deduct_credits", "insufficient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageNormalize().WithLabelValues("threshold", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntryAppendFailures()))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
