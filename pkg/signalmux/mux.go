package signalmux

import (
	"fmt"

	"github.com/nspcc-dev/chainmux/pkg/chain"
	"go.uber.org/zap"
)

// Event tags used in logs and metrics to identify the failed handler.
const (
	EventTransactionBatch   = "transaction_batch"
	EventIrreversibleBlock  = "irreversible_block"
	EventBlockStart         = "block_start"
	EventAcceptedBlock      = "accepted_block"
	EventTransactionApplied = "transaction_applied"
)

// Config is the Multiplexer configuration.
type Config struct {
	// AlternateInterface selects the direct mode (every event is forwarded
	// as is) instead of the default buffered one (transactions are
	// delivered in per-block batches). It can't be changed after creation.
	AlternateInterface bool
	// Log is used to report subscriber failures, zap.NewNop() is used if
	// it's nil.
	Log *zap.Logger
}

// Multiplexer fans engine signals out to subscribers. It must be used from a
// single goroutine.
type Multiplexer struct {
	log    *zap.Logger
	direct bool

	subscribers []Subscriber
	// pending holds transactions applied in the current block, buffered
	// mode only.
	pending   []TransactionRecord
	blockOpen bool
}

// New creates a Multiplexer in the mode selected by the configuration.
func New(cfg Config) *Multiplexer {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Multiplexer{
		log:    log,
		direct: cfg.AlternateInterface,
	}
}

// Register adds a subscriber. Subscribers are invoked in registration order
// and can't be removed, registering the same subscriber twice makes it
// receive every event twice.
func (m *Multiplexer) Register(s Subscriber) {
	m.subscribers = append(m.subscribers, s)
}

// Direct returns true if the multiplexer works in direct mode.
func (m *Multiplexer) Direct() bool {
	return m.direct
}

// BlockOpen returns true if a block was started, but not yet accepted.
func (m *Multiplexer) BlockOpen() bool {
	return m.blockOpen
}

// Pending returns the number of buffered transactions.
func (m *Multiplexer) Pending() int {
	return len(m.pending)
}

// Subscribers returns the number of registered subscribers.
func (m *Multiplexer) Subscribers() int {
	return len(m.subscribers)
}

// OnBlockStart handles the start of a new block. If the previous block was
// never accepted, its buffered transactions are flushed with a nil block
// before the start is announced.
func (m *Multiplexer) OnBlockStart(index uint32) {
	signalsTotal.WithLabelValues(EventBlockStart).Inc()
	if m.blockOpen && !m.direct {
		m.log.Debug("flushing transactions of unaccepted block",
			zap.Uint32("next", index),
			zap.Int("transactions", len(m.pending)))
		forcedFlushes.Inc()
		m.flush(nil)
	}
	m.blockOpen = true
	m.dispatch(EventBlockStart, func(s Subscriber) error {
		return s.OnBlockStart(index)
	})
}

// OnTransactionApplied handles an applied transaction. It's buffered until
// the block is accepted in buffered mode and delivered immediately in direct
// mode.
func (m *Multiplexer) OnTransactionApplied(t *chain.Trace, p *chain.PackedTx) {
	signalsTotal.WithLabelValues(EventTransactionApplied).Inc()
	if !m.direct {
		m.pending = append(m.pending, TransactionRecord{Trace: t, Packed: p})
		return
	}
	m.dispatch(EventTransactionApplied, func(s Subscriber) error {
		return s.OnTransactionApplied(t, p)
	})
}

// OnBlockAccepted handles an accepted block. In buffered mode the block is
// delivered together with all transactions buffered since the block start.
func (m *Multiplexer) OnBlockAccepted(b *chain.Block) {
	signalsTotal.WithLabelValues(EventAcceptedBlock).Inc()
	if m.direct {
		m.dispatch(EventAcceptedBlock, func(s Subscriber) error {
			return s.OnAcceptedBlock(b)
		})
	} else {
		m.flush(b)
	}
	m.blockOpen = false
}

// OnBlockIrreversible handles a block becoming irreversible, it's delivered
// as is in both modes.
func (m *Multiplexer) OnBlockIrreversible(b *chain.Block) {
	signalsTotal.WithLabelValues(EventIrreversibleBlock).Inc()
	m.dispatch(EventIrreversibleBlock, func(s Subscriber) error {
		return s.OnIrreversibleBlock(b)
	})
}

// flush delivers buffered transactions with the given block and clears the
// buffer. Delivered batch is never modified afterwards, so subscribers can
// retain it.
func (m *Multiplexer) flush(b *chain.Block) {
	batch := m.pending
	batchSize.Observe(float64(len(batch)))
	m.dispatch(EventTransactionBatch, func(s Subscriber) error {
		return s.OnTransactionBatch(batch, b)
	})
	m.pending = nil
}

// dispatch calls the handler for every subscriber, a failure of one of them
// doesn't prevent others from being called.
func (m *Multiplexer) dispatch(event string, handler func(Subscriber) error) {
	for i, s := range m.subscribers {
		err := invoke(s, handler)
		if err != nil {
			subscriberFaults.WithLabelValues(event).Inc()
			m.log.Warn("subscriber failed to handle event",
				zap.String("event", event),
				zap.Int("subscriber", i),
				zap.Error(err))
		}
	}
}

func invoke(s Subscriber, handler func(Subscriber) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(s)
}
