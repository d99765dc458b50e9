package tracestore

import (
	"fmt"

	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/io"
	"github.com/nspcc-dev/chainmux/pkg/util"
)

// MaxBlockTransactions is the maximum number of transaction IDs stored
// along with a single block or orphan batch.
const MaxBlockTransactions = 0x10000

type (
	// BlockRecord is an accepted block along with IDs of the transactions
	// applied in it, in application order.
	BlockRecord struct {
		Block        *chain.Block   `json:"block"`
		Transactions []util.Uint256 `json:"transactions"`
	}

	// TxRecord is a stored applied transaction.
	TxRecord struct {
		Trace  *chain.Trace    `json:"trace"`
		Packed *chain.PackedTx `json:"packed"`
	}

	// Orphan is a batch of transactions applied in a block that was never
	// accepted.
	Orphan struct {
		// Seq is the orphan batch sequence number, starting from 1.
		Seq uint32 `json:"seq"`
		// Index is the index of the started block the transactions were
		// applied in.
		Index        uint32         `json:"index"`
		Transactions []util.Uint256 `json:"transactions"`
	}
)

func encodeIDs(w *io.BinWriter, ids []util.Uint256) {
	if len(ids) > MaxBlockTransactions {
		if w.Err == nil {
			w.Err = fmt.Errorf("too many transactions: %d (max %d)", len(ids), MaxBlockTransactions)
		}
		return
	}
	w.WriteVarUint(uint64(len(ids)))
	for i := range ids {
		ids[i].EncodeBinary(w)
	}
}

func decodeIDs(r *io.BinReader) []util.Uint256 {
	return io.ReadArray[util.Uint256](r, MaxBlockTransactions)
}

// EncodeBinary implements the io.Serializable interface.
func (b *BlockRecord) EncodeBinary(w *io.BinWriter) {
	b.Block.EncodeBinary(w)
	encodeIDs(w, b.Transactions)
}

// DecodeBinary implements the io.Serializable interface.
func (b *BlockRecord) DecodeBinary(r *io.BinReader) {
	b.Block = new(chain.Block)
	b.Block.DecodeBinary(r)
	b.Transactions = decodeIDs(r)
}

// EncodeBinary implements the io.Serializable interface.
func (t *TxRecord) EncodeBinary(w *io.BinWriter) {
	t.Trace.EncodeBinary(w)
	w.WriteBool(t.Packed != nil)
	if t.Packed != nil {
		t.Packed.EncodeBinary(w)
	}
}

// DecodeBinary implements the io.Serializable interface.
func (t *TxRecord) DecodeBinary(r *io.BinReader) {
	t.Trace = new(chain.Trace)
	t.Trace.DecodeBinary(r)
	if r.ReadBool() {
		t.Packed = new(chain.PackedTx)
		t.Packed.DecodeBinary(r)
	}
}

// EncodeBinary implements the io.Serializable interface.
func (o *Orphan) EncodeBinary(w *io.BinWriter) {
	w.WriteU32LE(o.Seq)
	w.WriteU32LE(o.Index)
	encodeIDs(w, o.Transactions)
}

// DecodeBinary implements the io.Serializable interface.
func (o *Orphan) DecodeBinary(r *io.BinReader) {
	o.Seq = r.ReadU32LE()
	o.Index = r.ReadU32LE()
	o.Transactions = decodeIDs(r)
}
