package util

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nspcc-dev/chainmux/pkg/io"
)

// Uint256Size is the size of Uint256 in bytes.
const Uint256Size = 32

// Uint256 is a 32 byte long unsigned integer used for block and transaction
// identifiers. It's stored and printed in the big-endian (natural hash) order.
type Uint256 [Uint256Size]uint8

// Uint256DecodeStringBE attempts to decode the given string (in BE
// representation, optionally 0x-prefixed) into a Uint256.
func Uint256DecodeStringBE(s string) (u Uint256, err error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != Uint256Size*2 {
		return u, fmt.Errorf("expected string size of %d got %d", Uint256Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return u, err
	}
	return Uint256DecodeBytesBE(b)
}

// Uint256DecodeBytesBE attempts to decode the given bytes (in BE
// representation) into a Uint256.
func Uint256DecodeBytesBE(b []byte) (u Uint256, err error) {
	if len(b) != Uint256Size {
		return u, fmt.Errorf("expected []byte of size %d got %d", Uint256Size, len(b))
	}
	copy(u[:], b)
	return u, nil
}

// BytesBE returns a byte slice representation of u.
func (u Uint256) BytesBE() []byte {
	return u[:]
}

// Equals returns true if both Uint256 values are the same.
func (u Uint256) Equals(other Uint256) bool {
	return u == other
}

// IsZero returns true if u is the zero value.
func (u Uint256) IsZero() bool {
	return u == Uint256{}
}

// Compare performs three-way comparison of two Uint256. Possible output: 1, -1, 0
//
//	1 implies u > other.
//	-1 implies u < other.
//	0 implies  u = other.
func (u Uint256) Compare(other Uint256) int {
	return bytes.Compare(u[:], other[:])
}

// String implements the stringer interface.
func (u Uint256) String() string {
	return hex.EncodeToString(u[:])
}

// UnmarshalJSON implements the json unmarshaller interface.
func (u *Uint256) UnmarshalJSON(data []byte) (err error) {
	var js string
	if err = json.Unmarshal(data, &js); err != nil {
		return err
	}
	*u, err = Uint256DecodeStringBE(js)
	return err
}

// MarshalJSON implements the json marshaller interface.
func (u Uint256) MarshalJSON() ([]byte, error) {
	r := make([]byte, 3+Uint256Size*2+1)
	copy(r, `"0x`)
	r[len(r)-1] = '"'
	hex.Encode(r[3:], u[:])
	return r, nil
}

// EncodeBinary implements the io.Serializable interface.
func (u *Uint256) EncodeBinary(w *io.BinWriter) {
	w.WriteBytes(u[:])
}

// DecodeBinary implements the io.Serializable interface.
func (u *Uint256) DecodeBinary(r *io.BinReader) {
	r.ReadBytes(u[:])
}
