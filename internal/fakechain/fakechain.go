/*
Package fakechain implements a deterministic fake engine emitting block and
transaction lifecycle signals in the order a real engine does.
*/
package fakechain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/config"
	"github.com/nspcc-dev/chainmux/pkg/crypto/hash"
	"github.com/nspcc-dev/chainmux/pkg/util"
	"go.uber.org/zap"
)

// GenesisTimestamp is the timestamp of block zero in milliseconds, every
// next block is BlockInterval later.
const (
	GenesisTimestamp = 1600000000000
	BlockInterval    = 500
)

// Sink receives engine signals, *signalmux.Multiplexer implements it.
type Sink interface {
	OnBlockStart(index uint32)
	OnTransactionApplied(t *chain.Trace, p *chain.PackedTx)
	OnBlockAccepted(b *chain.Block)
	OnBlockIrreversible(b *chain.Block)
}

// FakeChain produces blocks with deterministic contents. Every
// Simulation.DiscardEvery-th started block is abandoned, the engine then
// starts the same index again.
type FakeChain struct {
	cfg         config.Simulation
	compression chain.Compression
	sink        Sink
	log         *zap.Logger

	Blockheight  atomic.Uint32
	Irreversible atomic.Uint32
	Discarded    atomic.Uint32

	prevHash util.Uint256
	// pending are accepted blocks waiting to become irreversible.
	pending []*chain.Block
}

// New returns a FakeChain sending signals to the given sink.
func New(cfg config.Simulation, sink Sink, log *zap.Logger) (*FakeChain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c, err := chain.CompressionFromString(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FakeChain{
		cfg:         cfg,
		compression: c,
		sink:        sink,
		log:         log,
		prevHash:    BlockHash(0, util.Uint256{}),
	}, nil
}

// Run produces Simulation.Blocks accepted blocks. It stops between blocks
// when the context is cancelled and returns the context error then.
func (c *FakeChain) Run(ctx context.Context) error {
	var (
		index   = c.Blockheight.Load() + 1
		last    = c.Blockheight.Load() + c.cfg.Blocks
		attempt uint32
	)
	for index <= last {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		attempt++
		discard := c.cfg.DiscardEvery != 0 && attempt%c.cfg.DiscardEvery == 0
		if err := c.produce(index, discard); err != nil {
			return err
		}
		if !discard {
			index++
		}
		if c.cfg.Interval > 0 {
			t := time.NewTimer(c.cfg.Interval)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	c.log.Info("simulation finished",
		zap.Uint32("height", c.Blockheight.Load()),
		zap.Uint32("discarded", c.Discarded.Load()))
	return nil
}

func (c *FakeChain) produce(index uint32, discard bool) error {
	c.sink.OnBlockStart(index)
	for n := 0; n < c.cfg.TxPerBlock; n++ {
		t, p, err := NewTransaction(index, n, c.compression)
		if err != nil {
			return fmt.Errorf("block %d transaction %d: %w", index, n, err)
		}
		c.sink.OnTransactionApplied(t, p)
	}
	if discard {
		c.Discarded.Add(1)
		c.log.Debug("block discarded", zap.Uint32("index", index))
		return nil
	}

	b := NewBlock(index, c.prevHash)
	c.sink.OnBlockAccepted(b)
	c.prevHash = b.Hash
	c.Blockheight.Store(index)

	c.pending = append(c.pending, b)
	for uint32(len(c.pending)) > c.cfg.IrreversibleLag {
		irr := c.pending[0]
		c.pending = c.pending[1:]
		c.sink.OnBlockIrreversible(irr)
		c.Irreversible.Store(irr.Index)
	}
	return nil
}

// BlockHash returns the deterministic hash of the block with the given index
// and previous block hash.
func BlockHash(index uint32, prev util.Uint256) util.Uint256 {
	var buf [4 + util.Uint256Size]byte
	binary.LittleEndian.PutUint32(buf[:], index)
	copy(buf[4:], prev[:])
	return hash.DoubleSha256(buf[:])
}

// NewBlock returns an accepted block with the given index.
func NewBlock(index uint32, prev util.Uint256) *chain.Block {
	return &chain.Block{
		Index:     index,
		Hash:      BlockHash(index, prev),
		PrevHash:  prev,
		Timestamp: GenesisTimestamp + uint64(index)*BlockInterval,
		Producer:  fmt.Sprintf("producer%d", index%21),
		Validated: true,
	}
}

// NewTransaction returns the n-th transaction of the block with the given
// index. Some of them fail deterministically.
func NewTransaction(index uint32, n int, c chain.Compression) (*chain.Trace, *chain.PackedTx, error) {
	raw := []byte(fmt.Sprintf("transfer %d.%04d SYS from account%d to account%d memo block %d tx %d",
		n+1, index%10000, n, n+1, index, n))
	sig := hash.DoubleSha256(raw)
	p, err := chain.NewPackedTx(raw, c, sig.BytesBE())
	if err != nil {
		return nil, nil, err
	}
	t := &chain.Trace{
		ID:         hash.Sha256(raw),
		BlockIndex: index,
		Status:     chain.Executed,
		CPUUsage:   uint32(100 + len(raw)),
		NetUsage:   uint64(len(raw)),
		Elapsed:    time.Duration(100+len(raw)) * time.Microsecond,
	}
	switch k := int(index) + n; {
	case k%11 == 0:
		t.Status = chain.HardFail
		t.Except = "assertion failure"
	case k%13 == 0:
		t.Status = chain.SoftFail
		t.Except = "deadline exceeded"
	}
	return t, p, nil
}
