package signalmux_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nspcc-dev/chainmux/internal/muxtest"
	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func newMux(t *testing.T, direct bool, names ...string) (*signalmux.Multiplexer, *muxtest.Journal, []*muxtest.Recorder) {
	m := signalmux.New(signalmux.Config{AlternateInterface: direct, Log: zaptest.NewLogger(t)})
	j := new(muxtest.Journal)
	recs := make([]*muxtest.Recorder, len(names))
	for i, name := range names {
		recs[i] = muxtest.NewRecorder(name, j)
		m.Register(recs[i])
	}
	return m, j, recs
}

func TestNew(t *testing.T) {
	m := signalmux.New(signalmux.Config{})
	require.False(t, m.Direct())
	require.False(t, m.BlockOpen())
	require.Equal(t, 0, m.Pending())
	require.Equal(t, 0, m.Subscribers())

	m = signalmux.New(signalmux.Config{AlternateInterface: true})
	require.True(t, m.Direct())

	// No subscribers is fine.
	m.OnBlockStart(1)
	t1, p1 := muxtest.NewTransaction(1, 0)
	m.OnTransactionApplied(t1, p1)
	m.OnBlockAccepted(muxtest.NewBlock(1))
	m.OnBlockIrreversible(muxtest.NewBlock(1))
}

func TestRegister(t *testing.T) {
	m := signalmux.New(signalmux.Config{})
	j := new(muxtest.Journal)
	r := muxtest.NewRecorder("s", j)
	m.Register(r)
	m.Register(r)
	require.Equal(t, 2, m.Subscribers())

	m.OnBlockStart(3)
	require.Equal(t, []string{"s:block_start", "s:block_start"}, j.Events())
}

func TestBufferedBatch(t *testing.T) {
	// Scenario A.
	m, j, _ := newMux(t, false, "s")
	m.OnBlockStart(5)
	require.True(t, m.BlockOpen())

	r1 := muxtest.NewRecord(5, 1)
	r2 := muxtest.NewRecord(5, 2)
	m.OnTransactionApplied(r1.Trace, r1.Packed)
	m.OnTransactionApplied(r2.Trace, r2.Packed)
	require.Equal(t, 2, m.Pending())
	require.Empty(t, j.Filter(signalmux.EventTransactionApplied))

	b := muxtest.NewBlock(5)
	m.OnBlockAccepted(b)
	require.Equal(t, 0, m.Pending())
	require.False(t, m.BlockOpen())

	batches := j.Filter(signalmux.EventTransactionBatch)
	require.Len(t, batches, 1)
	require.Equal(t, []signalmux.TransactionRecord{r1, r2}, batches[0].Batch)
	require.Same(t, b, batches[0].Block)
	require.Same(t, r1.Trace, batches[0].Batch[0].Trace)
	require.Empty(t, j.Filter(signalmux.EventAcceptedBlock))
	require.Equal(t, []string{"s:block_start", "s:transaction_batch"}, j.Events())
}

func TestBufferedBatchPerBlock(t *testing.T) {
	// Property P1 over several consecutive blocks.
	m, j, _ := newMux(t, false, "s")
	var expected [][]signalmux.TransactionRecord
	for i := uint32(1); i <= 4; i++ {
		m.OnBlockStart(i)
		var recs []signalmux.TransactionRecord
		for n := 0; n < int(i); n++ {
			r := muxtest.NewRecord(i, n)
			recs = append(recs, r)
			m.OnTransactionApplied(r.Trace, r.Packed)
		}
		m.OnBlockAccepted(muxtest.NewBlock(i))
		require.Equal(t, 0, m.Pending())
		expected = append(expected, recs)
	}
	batches := j.Filter(signalmux.EventTransactionBatch)
	require.Len(t, batches, 4)
	for i, c := range batches {
		require.Equal(t, expected[i], c.Batch)
		require.Equal(t, uint32(i+1), c.Block.Index)
	}
}

func TestBufferedEmptyBlock(t *testing.T) {
	m, j, _ := newMux(t, false, "s")
	m.OnBlockStart(1)
	m.OnBlockAccepted(muxtest.NewBlock(1))

	batches := j.Filter(signalmux.EventTransactionBatch)
	require.Len(t, batches, 1)
	require.Empty(t, batches[0].Batch)
	require.Equal(t, uint32(1), batches[0].Block.Index)
}

func TestBufferedBatchRetained(t *testing.T) {
	m, j, _ := newMux(t, false, "s")
	m.OnBlockStart(1)
	r1 := muxtest.NewRecord(1, 0)
	m.OnTransactionApplied(r1.Trace, r1.Packed)
	m.OnBlockAccepted(muxtest.NewBlock(1))

	m.OnBlockStart(2)
	r2 := muxtest.NewRecord(2, 0)
	m.OnTransactionApplied(r2.Trace, r2.Packed)
	m.OnBlockAccepted(muxtest.NewBlock(2))

	batches := j.Filter(signalmux.EventTransactionBatch)
	require.Len(t, batches, 2)
	// The first batch is not affected by transactions of the next block.
	require.Equal(t, []signalmux.TransactionRecord{r1}, batches[0].Batch)
	require.Equal(t, []signalmux.TransactionRecord{r2}, batches[1].Batch)
}

func TestBufferedForcedFlush(t *testing.T) {
	// Scenario C and property P4.
	m, j, _ := newMux(t, false, "a", "b")
	m.OnBlockStart(1)
	r1 := muxtest.NewRecord(1, 0)
	m.OnTransactionApplied(r1.Trace, r1.Packed)
	m.OnBlockStart(2)

	require.True(t, m.BlockOpen())
	require.Equal(t, 0, m.Pending())
	require.Equal(t, []string{
		"a:block_start", "b:block_start",
		"a:transaction_batch", "b:transaction_batch",
		"a:block_start", "b:block_start",
	}, j.Events())

	batches := j.Filter(signalmux.EventTransactionBatch)
	require.Len(t, batches, 2)
	for _, c := range batches {
		require.Nil(t, c.Block)
		require.Equal(t, []signalmux.TransactionRecord{r1}, c.Batch)
	}
	starts := j.Filter(signalmux.EventBlockStart)
	require.Equal(t, uint32(2), starts[3].Index)

	// Block 2 is then accepted normally, its batch doesn't contain r1.
	r2 := muxtest.NewRecord(2, 0)
	m.OnTransactionApplied(r2.Trace, r2.Packed)
	m.OnBlockAccepted(muxtest.NewBlock(2))
	batches = j.Filter(signalmux.EventTransactionBatch)
	require.Len(t, batches, 4)
	require.Equal(t, []signalmux.TransactionRecord{r2}, batches[2].Batch)
	require.Equal(t, uint32(2), batches[2].Block.Index)
}

func TestBufferedForcedFlushEmpty(t *testing.T) {
	// A discarded block without transactions still produces an empty batch
	// with no block.
	m, j, _ := newMux(t, false, "s")
	m.OnBlockStart(1)
	m.OnBlockStart(1)
	batches := j.Filter(signalmux.EventTransactionBatch)
	require.Len(t, batches, 1)
	require.Nil(t, batches[0].Block)
	require.Empty(t, batches[0].Batch)
}

func TestBufferedNoFlushAfterAccept(t *testing.T) {
	m, j, _ := newMux(t, false, "s")
	m.OnBlockStart(1)
	m.OnBlockAccepted(muxtest.NewBlock(1))
	m.OnBlockStart(2)
	require.Len(t, j.Filter(signalmux.EventTransactionBatch), 1)
}

func TestDirect(t *testing.T) {
	// Scenario B and property P2.
	m, j, _ := newMux(t, true, "a", "b")
	m.OnBlockStart(7)
	require.True(t, m.BlockOpen())

	t1, p1 := muxtest.NewTransaction(7, 1)
	m.OnTransactionApplied(t1, p1)
	require.Equal(t, 0, m.Pending())
	applied := j.Filter(signalmux.EventTransactionApplied)
	require.Len(t, applied, 2)
	require.Equal(t, "a", applied[0].Subscriber)
	require.Equal(t, "b", applied[1].Subscriber)
	for _, c := range applied {
		require.Same(t, t1, c.Trace)
		require.Same(t, p1, c.Packed)
	}

	b := muxtest.NewBlock(7)
	m.OnBlockAccepted(b)
	require.False(t, m.BlockOpen())
	require.Equal(t, 0, m.Pending())
	accepted := j.Filter(signalmux.EventAcceptedBlock)
	require.Len(t, accepted, 2)
	require.Same(t, b, accepted[0].Block)
	require.Empty(t, j.Filter(signalmux.EventTransactionBatch))
}

func TestDirectNoForcedFlush(t *testing.T) {
	m, j, _ := newMux(t, true, "s")
	m.OnBlockStart(1)
	t1, p1 := muxtest.NewTransaction(1, 0)
	m.OnTransactionApplied(t1, p1)
	m.OnBlockStart(2)
	require.Empty(t, j.Filter(signalmux.EventTransactionBatch))
	require.Equal(t, []string{"s:block_start", "s:transaction_applied", "s:block_start"}, j.Events())
}

func TestIrreversible(t *testing.T) {
	for _, direct := range []bool{false, true} {
		m, j, _ := newMux(t, direct, "a", "b")
		m.OnBlockStart(1)
		r := muxtest.NewRecord(1, 0)
		m.OnTransactionApplied(r.Trace, r.Packed)
		pending := m.Pending()

		// Irreversibility of an older block doesn't touch the open one.
		old := muxtest.NewBlock(0)
		m.OnBlockIrreversible(old)
		require.True(t, m.BlockOpen())
		require.Equal(t, pending, m.Pending())

		irr := j.Filter(signalmux.EventIrreversibleBlock)
		require.Len(t, irr, 2)
		require.Same(t, old, irr[0].Block)
		require.Equal(t, "a", irr[0].Subscriber)
		require.Equal(t, "b", irr[1].Subscriber)
	}
}

func TestAcceptClosesBlock(t *testing.T) {
	// Property P5.
	for _, direct := range []bool{false, true} {
		m, _, _ := newMux(t, direct, "s")
		m.OnBlockAccepted(muxtest.NewBlock(1))
		require.False(t, m.BlockOpen())
		m.OnBlockStart(2)
		m.OnBlockAccepted(muxtest.NewBlock(2))
		require.False(t, m.BlockOpen())
	}
}

func TestFaultIsolation(t *testing.T) {
	// Property P3.
	for _, direct := range []bool{false, true} {
		m, j, recs := newMux(t, direct, "a", "b", "c")
		recs[0].Err = errors.New("bad subscriber")
		recs[1].Panic = true

		m.OnBlockStart(1)
		t1, p1 := muxtest.NewTransaction(1, 0)
		m.OnTransactionApplied(t1, p1)
		m.OnBlockAccepted(muxtest.NewBlock(1))
		m.OnBlockIrreversible(muxtest.NewBlock(1))

		var expected []string
		events := []string{signalmux.EventBlockStart, signalmux.EventTransactionBatch, signalmux.EventIrreversibleBlock}
		if direct {
			events = []string{signalmux.EventBlockStart, signalmux.EventTransactionApplied,
				signalmux.EventAcceptedBlock, signalmux.EventIrreversibleBlock}
		}
		for _, e := range events {
			expected = append(expected, "a:"+e, "b:"+e, "c:"+e)
		}
		require.Equal(t, expected, j.Events())
		require.False(t, m.BlockOpen())
		require.Equal(t, 0, m.Pending())
	}
}

func TestFaultLogging(t *testing.T) {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	buf := &zaptest.Buffer{}
	log := zap.New(zapcore.NewCore(enc, buf, zapcore.InfoLevel))

	m := signalmux.New(signalmux.Config{Log: log})
	m.Register(signalmux.NopSubscriber{})
	m.Register(signalmux.Funcs{
		BlockStart: func(uint32) error { return errors.New("oops") },
		IrreversibleBlock: func(*chain.Block) error {
			panic("boom")
		},
	})
	m.OnBlockStart(1)
	m.OnBlockIrreversible(muxtest.NewBlock(1))

	ls := buf.Lines()
	require.Len(t, ls, 2)

	var msg map[string]any
	require.NoError(t, json.Unmarshal([]byte(ls[0]), &msg))
	require.Equal(t, "warn", msg["level"])
	require.Equal(t, signalmux.EventBlockStart, msg["event"])
	require.Equal(t, float64(1), msg["subscriber"])
	require.Equal(t, "oops", msg["error"])

	require.NoError(t, json.Unmarshal([]byte(ls[1]), &msg))
	require.Equal(t, signalmux.EventIrreversibleBlock, msg["event"])
	require.Equal(t, "panic: boom", msg["error"])
}

func TestFuncs(t *testing.T) {
	var (
		f     signalmux.Funcs
		calls []string
	)
	// Nil handlers are no-op.
	require.NoError(t, f.OnBlockStart(1))
	require.NoError(t, f.OnTransactionApplied(nil, nil))
	require.NoError(t, f.OnTransactionBatch(nil, nil))
	require.NoError(t, f.OnAcceptedBlock(nil))
	require.NoError(t, f.OnIrreversibleBlock(nil))

	f = signalmux.Funcs{
		TransactionBatch: func([]signalmux.TransactionRecord, *chain.Block) error {
			calls = append(calls, "batch")
			return nil
		},
		IrreversibleBlock: func(*chain.Block) error {
			calls = append(calls, "irreversible")
			return nil
		},
		BlockStart: func(uint32) error {
			calls = append(calls, "start")
			return nil
		},
		AcceptedBlock: func(*chain.Block) error {
			calls = append(calls, "accepted")
			return nil
		},
		TransactionApplied: func(*chain.Trace, *chain.PackedTx) error {
			calls = append(calls, "applied")
			return nil
		},
	}
	m := signalmux.New(signalmux.Config{AlternateInterface: true})
	m.Register(f)
	m.OnBlockStart(1)
	m.OnTransactionApplied(muxtest.NewTransaction(1, 0))
	m.OnBlockAccepted(muxtest.NewBlock(1))
	m.OnBlockIrreversible(muxtest.NewBlock(1))
	require.Equal(t, []string{"start", "applied", "accepted", "irreversible"}, calls)

	calls = nil
	m = signalmux.New(signalmux.Config{})
	m.Register(f)
	m.OnBlockStart(1)
	m.OnTransactionApplied(muxtest.NewTransaction(1, 0))
	m.OnBlockAccepted(muxtest.NewBlock(1))
	require.Equal(t, []string{"start", "batch"}, calls)
}
