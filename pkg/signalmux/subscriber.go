package signalmux

import "github.com/nspcc-dev/chainmux/pkg/chain"

// TransactionRecord is an applied transaction: its execution trace and the
// packed transaction itself.
type TransactionRecord struct {
	Trace  *chain.Trace
	Packed *chain.PackedTx
}

// Subscriber is a consumer of multiplexed signals. Handlers are invoked
// synchronously from the engine's signal path, so they should be fast; an
// error returned from a handler is logged and otherwise ignored.
type Subscriber interface {
	// OnTransactionBatch receives all transactions applied during a block
	// along with the accepted block. The block is nil for transactions of a
	// block that was started, but never accepted. Buffered mode only.
	OnTransactionBatch(batch []TransactionRecord, b *chain.Block) error
	// OnIrreversibleBlock is called when the block becomes irreversible.
	OnIrreversibleBlock(b *chain.Block) error
	// OnBlockStart is called when the engine starts a new block.
	OnBlockStart(index uint32) error
	// OnAcceptedBlock is called for every accepted block. Direct mode only.
	OnAcceptedBlock(b *chain.Block) error
	// OnTransactionApplied is called for every applied transaction. Direct
	// mode only.
	OnTransactionApplied(t *chain.Trace, p *chain.PackedTx) error
}

// NopSubscriber implements Subscriber doing nothing, embed it to handle only
// a subset of events.
type NopSubscriber struct{}

// OnTransactionBatch implements the Subscriber interface.
func (NopSubscriber) OnTransactionBatch([]TransactionRecord, *chain.Block) error { return nil }

// OnIrreversibleBlock implements the Subscriber interface.
func (NopSubscriber) OnIrreversibleBlock(*chain.Block) error { return nil }

// OnBlockStart implements the Subscriber interface.
func (NopSubscriber) OnBlockStart(uint32) error { return nil }

// OnAcceptedBlock implements the Subscriber interface.
func (NopSubscriber) OnAcceptedBlock(*chain.Block) error { return nil }

// OnTransactionApplied implements the Subscriber interface.
func (NopSubscriber) OnTransactionApplied(*chain.Trace, *chain.PackedTx) error { return nil }

// Funcs is a Subscriber made of separate handler functions, nil handlers are
// no-op.
type Funcs struct {
	TransactionBatch   func(batch []TransactionRecord, b *chain.Block) error
	IrreversibleBlock  func(b *chain.Block) error
	BlockStart         func(index uint32) error
	AcceptedBlock      func(b *chain.Block) error
	TransactionApplied func(t *chain.Trace, p *chain.PackedTx) error
}

// OnTransactionBatch implements the Subscriber interface.
func (f Funcs) OnTransactionBatch(batch []TransactionRecord, b *chain.Block) error {
	if f.TransactionBatch == nil {
		return nil
	}
	return f.TransactionBatch(batch, b)
}

// OnIrreversibleBlock implements the Subscriber interface.
func (f Funcs) OnIrreversibleBlock(b *chain.Block) error {
	if f.IrreversibleBlock == nil {
		return nil
	}
	return f.IrreversibleBlock(b)
}

// OnBlockStart implements the Subscriber interface.
func (f Funcs) OnBlockStart(index uint32) error {
	if f.BlockStart == nil {
		return nil
	}
	return f.BlockStart(index)
}

// OnAcceptedBlock implements the Subscriber interface.
func (f Funcs) OnAcceptedBlock(b *chain.Block) error {
	if f.AcceptedBlock == nil {
		return nil
	}
	return f.AcceptedBlock(b)
}

// OnTransactionApplied implements the Subscriber interface.
func (f Funcs) OnTransactionApplied(t *chain.Trace, p *chain.PackedTx) error {
	if f.TransactionApplied == nil {
		return nil
	}
	return f.TransactionApplied(t, p)
}
