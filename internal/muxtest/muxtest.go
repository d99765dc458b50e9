/*
Package muxtest contains helpers for testing signal multiplexer consumers.
*/
package muxtest

import (
	"encoding/binary"
	"fmt"

	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/crypto/hash"
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"github.com/nspcc-dev/chainmux/pkg/util"
)

// Call is a single recorded handler invocation.
type Call struct {
	Subscriber string
	Event      string
	Index      uint32
	Block      *chain.Block
	Batch      []signalmux.TransactionRecord
	Trace      *chain.Trace
	Packed     *chain.PackedTx
}

// Journal is a list of calls shared between several recorders, so that the
// relative order of invocations can be checked.
type Journal struct {
	Calls []Call
}

// Filter returns calls of the given event type.
func (j *Journal) Filter(event string) []Call {
	var res []Call
	for _, c := range j.Calls {
		if c.Event == event {
			res = append(res, c)
		}
	}
	return res
}

// Events returns "subscriber:event" pairs of all calls in order.
func (j *Journal) Events() []string {
	res := make([]string, 0, len(j.Calls))
	for _, c := range j.Calls {
		res = append(res, c.Subscriber+":"+c.Event)
	}
	return res
}

// Recorder is a signalmux.Subscriber writing every call into a Journal. It
// can be configured to fail after recording.
type Recorder struct {
	Name    string
	Journal *Journal
	// Err is returned from every handler if set.
	Err error
	// Panic makes every handler panic.
	Panic bool
}

var _ signalmux.Subscriber = (*Recorder)(nil)

// NewRecorder creates a Recorder writing into the given journal.
func NewRecorder(name string, j *Journal) *Recorder {
	return &Recorder{Name: name, Journal: j}
}

func (r *Recorder) record(c Call) error {
	c.Subscriber = r.Name
	r.Journal.Calls = append(r.Journal.Calls, c)
	if r.Panic {
		panic(fmt.Sprintf("%s: %s", r.Name, c.Event))
	}
	return r.Err
}

// OnTransactionBatch implements the signalmux.Subscriber interface.
func (r *Recorder) OnTransactionBatch(batch []signalmux.TransactionRecord, b *chain.Block) error {
	return r.record(Call{Event: signalmux.EventTransactionBatch, Batch: batch, Block: b})
}

// OnIrreversibleBlock implements the signalmux.Subscriber interface.
func (r *Recorder) OnIrreversibleBlock(b *chain.Block) error {
	return r.record(Call{Event: signalmux.EventIrreversibleBlock, Block: b})
}

// OnBlockStart implements the signalmux.Subscriber interface.
func (r *Recorder) OnBlockStart(index uint32) error {
	return r.record(Call{Event: signalmux.EventBlockStart, Index: index})
}

// OnAcceptedBlock implements the signalmux.Subscriber interface.
func (r *Recorder) OnAcceptedBlock(b *chain.Block) error {
	return r.record(Call{Event: signalmux.EventAcceptedBlock, Block: b})
}

// OnTransactionApplied implements the signalmux.Subscriber interface.
func (r *Recorder) OnTransactionApplied(t *chain.Trace, p *chain.PackedTx) error {
	return r.record(Call{Event: signalmux.EventTransactionApplied, Trace: t, Packed: p})
}

// NewBlock returns a block with the given index and deterministic hashes.
func NewBlock(index uint32) *chain.Block {
	return &chain.Block{
		Index:     index,
		Hash:      blockHash(index),
		PrevHash:  blockHash(index - 1),
		Timestamp: 1600000000000 + uint64(index)*500,
		Producer:  "producer1",
		Validated: true,
	}
}

// NewTransaction returns a trace and a packed transaction for the n-th
// transaction of the given block.
func NewTransaction(block uint32, n int) (*chain.Trace, *chain.PackedTx) {
	raw := []byte(fmt.Sprintf("transfer %d.0000 SYS block %d", n, block))
	p, err := chain.NewPackedTx(raw, chain.CompressionNone)
	if err != nil {
		panic(err)
	}
	return &chain.Trace{
		ID:         hash.Sha256(raw),
		BlockIndex: block,
		Status:     chain.Executed,
		CPUUsage:   100,
		NetUsage:   uint64(len(raw)),
	}, p
}

// NewRecord is like NewTransaction, but returns a TransactionRecord.
func NewRecord(block uint32, n int) signalmux.TransactionRecord {
	t, p := NewTransaction(block, n)
	return signalmux.TransactionRecord{Trace: t, Packed: p}
}

func blockHash(index uint32) util.Uint256 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], index)
	return hash.Sha256(b[:])
}
