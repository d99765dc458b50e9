/*
Package feed provides a signalmux.Subscriber delivering multiplexed events to
any number of Go channels from a separate goroutine.
*/
package feed

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"go.uber.org/zap"
)

// EventType represents feed event type.
type EventType byte

// Feed event types, one per signalmux.Subscriber handler.
const (
	BlockStarted EventType = iota + 1
	TransactionApplied
	BlockAccepted
	TransactionBatch
	BlockIrreversible
)

// DefaultCapacity is the default event queue capacity.
const DefaultCapacity = 64

// ErrNotRunning is returned when the feed is not started or is already
// stopped.
var ErrNotRunning = errors.New("feed is not running")

// String implements the fmt.Stringer interface.
func (e EventType) String() string {
	switch e {
	case BlockStarted:
		return signalmux.EventBlockStart
	case TransactionApplied:
		return signalmux.EventTransactionApplied
	case BlockAccepted:
		return signalmux.EventAcceptedBlock
	case TransactionBatch:
		return signalmux.EventTransactionBatch
	case BlockIrreversible:
		return signalmux.EventIrreversibleBlock
	default:
		return fmt.Sprintf("unknown(%d)", byte(e))
	}
}

// Event represents one of multiplexer events. Only the fields relevant for
// the event type are set.
type Event struct {
	Type   EventType
	Index  uint32
	Block  *chain.Block
	Batch  []signalmux.TransactionRecord
	Trace  *chain.Trace
	Packed *chain.PackedTx
}

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

type subscription struct {
	id uuid.UUID
	ch chan<- Event
}

// Feed is a signalmux.Subscriber forwarding events to subscribed channels.
// Events are queued and delivered by a dispatcher goroutine, so a slow
// channel reader only blocks the engine when the queue is full.
type Feed struct {
	log   *zap.Logger
	state atomic.Int32

	events  chan Event
	subCh   chan subscription
	unsubCh chan uuid.UUID
	stopCh  chan struct{}
	done    chan struct{}
}

var _ signalmux.Subscriber = (*Feed)(nil)

// New creates a feed with the given event queue capacity. Non-positive
// capacity means DefaultCapacity.
func New(capacity int, log *zap.Logger) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		log:     log,
		events:  make(chan Event, capacity),
		subCh:   make(chan subscription),
		unsubCh: make(chan uuid.UUID),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name returns service name.
func (f *Feed) Name() string {
	return "feed"
}

// Start runs the dispatcher goroutine. The feed only starts once, subsequent
// calls to Start are no-op.
func (f *Feed) Start() {
	if !f.state.CompareAndSwap(stateNew, stateRunning) {
		return
	}
	f.log.Info("starting event feed", zap.Int("capacity", cap(f.events)))
	go f.dispatcher()
}

// Shutdown stops the dispatcher. Events still queued are dropped. It can't be
// started again after that.
func (f *Feed) Shutdown() {
	if !f.state.CompareAndSwap(stateRunning, stateStopped) {
		return
	}
	f.log.Info("shutting down event feed", zap.Int("queued", len(f.events)))
	close(f.stopCh)
	<-f.done
}

// IsRunning returns true if the feed is started and not yet stopped.
func (f *Feed) IsRunning() bool {
	return f.state.Load() == stateRunning
}

// Subscribe adds the given channel to the event broadcast. The channel should
// be read from continuously, a blocked reader delays all other subscribers.
func (f *Feed) Subscribe(ch chan<- Event) (uuid.UUID, error) {
	if !f.IsRunning() {
		return uuid.Nil, ErrNotRunning
	}
	s := subscription{id: uuid.New(), ch: ch}
	select {
	case f.subCh <- s:
		return s.id, nil
	case <-f.stopCh:
		return uuid.Nil, ErrNotRunning
	}
}

// Unsubscribe removes the subscription, the channel can be closed after that.
// Unknown identifiers are ignored.
func (f *Feed) Unsubscribe(id uuid.UUID) {
	if !f.IsRunning() {
		return
	}
	select {
	case f.unsubCh <- id:
	case <-f.stopCh:
	}
}

func (f *Feed) post(e Event) error {
	if !f.IsRunning() {
		return ErrNotRunning
	}
	select {
	case f.events <- e:
		return nil
	case <-f.stopCh:
		return ErrNotRunning
	}
}

// OnTransactionBatch implements the signalmux.Subscriber interface.
func (f *Feed) OnTransactionBatch(batch []signalmux.TransactionRecord, b *chain.Block) error {
	e := Event{Type: TransactionBatch, Batch: batch, Block: b}
	if b != nil {
		e.Index = b.Index
	}
	return f.post(e)
}

// OnIrreversibleBlock implements the signalmux.Subscriber interface.
func (f *Feed) OnIrreversibleBlock(b *chain.Block) error {
	return f.post(Event{Type: BlockIrreversible, Index: b.Index, Block: b})
}

// OnBlockStart implements the signalmux.Subscriber interface.
func (f *Feed) OnBlockStart(index uint32) error {
	return f.post(Event{Type: BlockStarted, Index: index})
}

// OnAcceptedBlock implements the signalmux.Subscriber interface.
func (f *Feed) OnAcceptedBlock(b *chain.Block) error {
	return f.post(Event{Type: BlockAccepted, Index: b.Index, Block: b})
}

// OnTransactionApplied implements the signalmux.Subscriber interface.
func (f *Feed) OnTransactionApplied(t *chain.Trace, p *chain.PackedTx) error {
	return f.post(Event{Type: TransactionApplied, Index: t.BlockIndex, Trace: t, Packed: p})
}

// dispatcher manages subscriptions and broadcasts events.
func (f *Feed) dispatcher() {
	defer close(f.done)
	// Not a lot of subscriptions is really expected, but maps are
	// convenient for adding/deleting elements.
	subs := make(map[uuid.UUID]chan<- Event)
	for {
		select {
		case <-f.stopCh:
			return
		case s := <-f.subCh:
			subs[s.id] = s.ch
			f.log.Debug("feed subscription added", zap.Stringer("id", s.id), zap.Int("total", len(subs)))
		case id := <-f.unsubCh:
			delete(subs, id)
			f.log.Debug("feed subscription removed", zap.Stringer("id", id), zap.Int("total", len(subs)))
		case e := <-f.events:
			for _, ch := range subs {
				select {
				case ch <- e:
				case <-f.stopCh:
					return
				}
			}
		}
	}
}
