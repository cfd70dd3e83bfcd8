// Package metrics 定义服务的 prometheus 指标。
// *Metrics 为 nil 时所有方法都是空操作，方便在测试里省略。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "biblesketch"

type Metrics struct {
	ledgerMutations     *prometheus.CounterVec
	conflictRetries     *prometheus.CounterVec
	entryAppendFailures prometheus.Counter
	imageNormalize      *prometheus.CounterVec
	outboxPublished     *prometheus.CounterVec
	ordersClosed        prometheus.Counter
	entriesReconciled   prometheus.Counter
}

// New 创建并注册全部指标
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ledgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "Balance mutations by operation and result.",
		}, []string{"op", "result"}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_conflict_retries_total",
			Help:      "Transactions retried after an optimistic version conflict.",
		}, []string{"op"}),
		entryAppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entry_append_failures_total",
			Help:      "Ledger entries dropped after the balance change committed.",
		}),
		imageNormalize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_normalize_total",
			Help:      "Image normalization calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox messages handed to the broker.",
		}, []string{"result"}),
		ordersClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_orders_closed_total",
			Help:      "Purchase orders closed after expiring unpaid.",
		}),
		entriesReconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_reconciled_total",
			Help:      "Purchase ledger entries backfilled by the reconciler.",
		}),
	}

	reg.MustRegister(
		m.ledgerMutations,
		m.conflictRetries,
		m.entryAppendFailures,
		m.imageNormalize,
		m.outboxPublished,
		m.ordersClosed,
		m.entriesReconciled,
	)
	return m
}

func (m *Metrics) ObserveLedgerMutation(op, result string) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveConflictRetry(op string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveEntryAppendFailure() {
	if m == nil {
		return
	}
	m.entryAppendFailures.Inc()
}

func (m *Metrics) ObserveImageNormalize(op, outcome string) {
	if m == nil {
		return
	}
	m.imageNormalize.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveOutboxPublish(result string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveOrderClosed() {
	if m == nil {
		return
	}
	m.ordersClosed.Inc()
}

func (m *Metrics) ObserveEntryReconciled() {
	if m == nil {
		return
	}
	m.entriesReconciled.Inc()
}

// 以下供测试读取当前值

func (m *Metrics) LedgerMutations() *prometheus.CounterVec { return m.ledgerMutations }
func (m *Metrics) ConflictRetries() *prometheus.CounterVec { return m.conflictRetries }
func (m *Metrics) EntryAppendFailures() prometheus.Counter { return m.entryAppendFailures }
func (m *Metrics) ImageNormalize() *prometheus.CounterVec  { return m.imageNormalize }
func (m *Metrics) OutboxPublished() *prometheus.CounterVec { return m.outboxPublished }
func (m *Metrics) OrdersClosed() prometheus.Counter        { return m.ordersClosed }
func (m *Metrics) EntriesReconciled() prometheus.Counter   { return m.entriesReconciled }
