package chain

import (
	"fmt"

	"github.com/nspcc-dev/chainmux/pkg/io"
	"github.com/nspcc-dev/chainmux/pkg/util"
)

// MaxProducerLen is the maximum length of a block producer name.
const MaxProducerLen = 64

// Block represents the engine's block state: a candidate block being
// produced or a validated one received from the network.
type Block struct {
	// Index is the block number (height).
	Index uint32 `json:"index"`
	// Hash is the block identifier.
	Hash util.Uint256 `json:"hash"`
	// PrevHash is the identifier of the previous block.
	PrevHash util.Uint256 `json:"previousblockhash"`
	// Timestamp in milliseconds since the Unix epoch.
	Timestamp uint64 `json:"time"`
	// Producer is the name of the account that produced the block.
	Producer string `json:"producer"`
	// Validated is true for blocks that were fully validated by the engine.
	Validated bool `json:"validated"`
}

// EncodeBinary implements the io.Serializable interface.
func (b *Block) EncodeBinary(w *io.BinWriter) {
	w.WriteU32LE(b.Index)
	b.Hash.EncodeBinary(w)
	b.PrevHash.EncodeBinary(w)
	w.WriteU64LE(b.Timestamp)
	w.WriteString(b.Producer)
	w.WriteBool(b.Validated)
}

// DecodeBinary implements the io.Serializable interface.
func (b *Block) DecodeBinary(r *io.BinReader) {
	b.Index = r.ReadU32LE()
	b.Hash.DecodeBinary(r)
	b.PrevHash.DecodeBinary(r)
	b.Timestamp = r.ReadU64LE()
	b.Producer = r.ReadString(MaxProducerLen)
	b.Validated = r.ReadBool()
}

// String implements the fmt.Stringer interface.
func (b *Block) String() string {
	return fmt.Sprintf("#%d (%s)", b.Index, b.Hash.String())
}
