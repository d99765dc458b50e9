package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nspcc-dev/chainmux/pkg/crypto/hash"
	"github.com/nspcc-dev/chainmux/pkg/io"
	"github.com/nspcc-dev/chainmux/pkg/util"
	"github.com/pierrec/lz4"
)

const (
	// MaxTransactionSize is the upper limit of the unpacked transaction size.
	MaxTransactionSize = 512 * 1024
	// MaxSignatures is the maximum number of signatures attached to a
	// packed transaction.
	MaxSignatures = 16
	// MaxSignatureSize is the maximum size of a single signature.
	MaxSignatureSize = 128
)

// Compression is the compression scheme of a packed transaction.
type Compression byte

// Supported compression schemes.
const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
)

// ErrInvalidCompression is returned for unknown compression schemes.
var ErrInvalidCompression = errors.New("invalid compression")

// String implements the fmt.Stringer interface.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", byte(c))
	}
}

// CompressionFromString parses a textual compression scheme name.
func CompressionFromString(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidCompression, s)
	}
}

// MarshalJSON implements the json.Marshaler interface.
func (c Compression) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (c *Compression) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := CompressionFromString(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// PackedTx is the serialized form of a transaction paired with its trace.
type PackedTx struct {
	Compression Compression `json:"compression"`
	Signatures  [][]byte    `json:"signatures"`
	// Data is the (possibly compressed) serialized transaction.
	Data []byte `json:"packed_trx"`
}

// NewPackedTx packs the given serialized transaction with the requested
// compression. LZ4 falls back to CompressionNone when the data can't be
// compressed.
func NewPackedTx(raw []byte, c Compression, sigs ...[]byte) (*PackedTx, error) {
	if len(raw) > MaxTransactionSize {
		return nil, fmt.Errorf("transaction is too big: %d", len(raw))
	}
	p := &PackedTx{Compression: CompressionNone, Signatures: sigs, Data: raw}
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		data, err := compress(raw)
		if err != nil {
			return nil, err
		}
		if data != nil {
			p.Compression = CompressionLZ4
			p.Data = data
		}
	default:
		return nil, ErrInvalidCompression
	}
	return p, nil
}

// Unpack returns the serialized transaction, decompressing it if needed.
func (p *PackedTx) Unpack() ([]byte, error) {
	switch p.Compression {
	case CompressionNone:
		return p.Data, nil
	case CompressionLZ4:
		return decompress(p.Data)
	default:
		return nil, ErrInvalidCompression
	}
}

// ID returns the transaction identifier, the hash of the unpacked
// transaction.
func (p *PackedTx) ID() (util.Uint256, error) {
	raw, err := p.Unpack()
	if err != nil {
		return util.Uint256{}, err
	}
	return hash.Sha256(raw), nil
}

// EncodeBinary implements the io.Serializable interface.
func (p *PackedTx) EncodeBinary(w *io.BinWriter) {
	w.WriteB(byte(p.Compression))
	w.WriteVarUint(uint64(len(p.Signatures)))
	for _, sig := range p.Signatures {
		w.WriteVarBytes(sig)
	}
	w.WriteVarBytes(p.Data)
}

// DecodeBinary implements the io.Serializable interface.
func (p *PackedTx) DecodeBinary(r *io.BinReader) {
	p.Compression = Compression(r.ReadB())
	n := r.ReadVarUint()
	if r.Err != nil {
		return
	}
	if n > MaxSignatures {
		r.Err = fmt.Errorf("too many signatures: %d", n)
		return
	}
	p.Signatures = nil
	for i := uint64(0); i < n; i++ {
		p.Signatures = append(p.Signatures, r.ReadVarBytes(MaxSignatureSize))
	}
	p.Data = r.ReadVarBytes(MaxTransactionSize)
	if r.Err == nil && p.Compression > CompressionLZ4 {
		r.Err = ErrInvalidCompression
	}
}

// compress compresses bytes using lz4, it returns nil if the data can't be
// compressed.
func compress(source []byte) ([]byte, error) {
	dest := make([]byte, lz4.CompressBlockBound(len(source)))
	size, err := lz4.CompressBlock(source, dest, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 || size >= len(source) {
		return nil, nil
	}
	return dest[:size], nil
}

// decompress decompresses bytes using lz4.
func decompress(source []byte) ([]byte, error) {
	maxSize := len(source) * 255
	if maxSize > MaxTransactionSize {
		maxSize = MaxTransactionSize
	}
	dest := make([]byte, maxSize)
	size, err := lz4.UncompressBlock(source, dest)
	if err != nil {
		return nil, err
	}
	return dest[:size], nil
}
