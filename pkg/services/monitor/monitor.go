/*
Package monitor provides a signal subscriber exporting chain progress as
Prometheus metrics.
*/
package monitor

import (
	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "chainmux"

// Monitor keeps chain progress metrics up to date with the signals received.
// Its collectors are registered on the Registerer given to New, so several
// monitors can coexist with separate registries.
type Monitor struct {
	log *zap.Logger

	startedIndex       prometheus.Gauge
	acceptedHeight     prometheus.Gauge
	irreversibleHeight prometheus.Gauge
	transactions       *prometheus.CounterVec
	discardedBlocks    prometheus.Counter
	appliedTxs         prometheus.Counter
}

var _ signalmux.Subscriber = (*Monitor)(nil)

// New creates a Monitor and registers its collectors on reg. A nil reg means
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, log *zap.Logger) (*Monitor, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Monitor{
		log: log,
		startedIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Help:      "Index of the latest started block",
			Name:      "started_index",
			Namespace: namespace,
		}),
		acceptedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Help:      "Index of the latest accepted block",
			Name:      "accepted_height",
			Namespace: namespace,
		}),
		irreversibleHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Help:      "Index of the latest irreversible block",
			Name:      "irreversible_height",
			Namespace: namespace,
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Help:      "Number of transactions in accepted blocks by status",
			Name:      "block_transactions_total",
			Namespace: namespace,
		}, []string{"status"}),
		discardedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Help:      "Number of started blocks that were never accepted",
			Name:      "discarded_blocks_total",
			Namespace: namespace,
		}),
		appliedTxs: prometheus.NewCounter(prometheus.CounterOpts{
			Help:      "Number of transactions received one by one",
			Name:      "applied_transactions_total",
			Namespace: namespace,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.startedIndex,
		m.acceptedHeight,
		m.irreversibleHeight,
		m.transactions,
		m.discardedBlocks,
		m.appliedTxs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Name returns the service name.
func (m *Monitor) Name() string {
	return "monitor"
}

// OnTransactionBatch implements the signalmux.Subscriber interface.
func (m *Monitor) OnTransactionBatch(batch []signalmux.TransactionRecord, b *chain.Block) error {
	if b == nil {
		m.discardedBlocks.Inc()
		m.log.Info("block discarded", zap.Int("txs", len(batch)))
		return nil
	}
	for _, rec := range batch {
		m.transactions.WithLabelValues(rec.Trace.Status.String()).Inc()
	}
	m.acceptedHeight.Set(float64(b.Index))
	return nil
}

// OnIrreversibleBlock implements the signalmux.Subscriber interface.
func (m *Monitor) OnIrreversibleBlock(b *chain.Block) error {
	m.irreversibleHeight.Set(float64(b.Index))
	return nil
}

// OnBlockStart implements the signalmux.Subscriber interface.
func (m *Monitor) OnBlockStart(index uint32) error {
	m.startedIndex.Set(float64(index))
	return nil
}

// OnAcceptedBlock implements the signalmux.Subscriber interface.
func (m *Monitor) OnAcceptedBlock(b *chain.Block) error {
	m.acceptedHeight.Set(float64(b.Index))
	return nil
}

// OnTransactionApplied implements the signalmux.Subscriber interface.
func (m *Monitor) OnTransactionApplied(t *chain.Trace, _ *chain.PackedTx) error {
	m.appliedTxs.Inc()
	m.transactions.WithLabelValues(t.Status.String()).Inc()
	return nil
}
