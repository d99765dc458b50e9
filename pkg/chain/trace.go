package chain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nspcc-dev/chainmux/pkg/io"
	"github.com/nspcc-dev/chainmux/pkg/util"
)

// MaxExceptLen is the maximum length of a trace failure description.
const MaxExceptLen = 1024

// TxStatus is the outcome of a transaction execution.
type TxStatus byte

// Transaction execution outcomes.
const (
	// Executed means the transaction succeeded, no error handler executed.
	Executed TxStatus = iota
	// SoftFail means the transaction failed objectively, but an error handler
	// executed.
	SoftFail
	// HardFail means the transaction failed objectively and no error handler
	// executed.
	HardFail
	// Delayed means the transaction is scheduled to be executed later.
	Delayed
	// Expired means the transaction expired and its storage was refunded.
	Expired
)

var txStatusNames = []string{"executed", "soft_fail", "hard_fail", "delayed", "expired"}

// String implements the fmt.Stringer interface.
func (s TxStatus) String() string {
	if int(s) < len(txStatusNames) {
		return txStatusNames[s]
	}
	return fmt.Sprintf("unknown(%d)", byte(s))
}

// TxStatusFromString parses a textual status representation.
func TxStatusFromString(s string) (TxStatus, error) {
	for i, name := range txStatusNames {
		if name == s {
			return TxStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transaction status: %q", s)
}

// MarshalJSON implements the json.Marshaler interface.
func (s TxStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *TxStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	st, err := TxStatusFromString(str)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Trace is the result of applying a single transaction.
type Trace struct {
	ID         util.Uint256  `json:"id"`
	BlockIndex uint32        `json:"block_num"`
	Status     TxStatus      `json:"status"`
	CPUUsage   uint32        `json:"cpu_usage_us"`
	NetUsage   uint64        `json:"net_usage"`
	Elapsed    time.Duration `json:"elapsed"`
	// Except holds the failure description for failed transactions.
	Except string `json:"except,omitempty"`
}

// Failed returns true for transactions that did not execute successfully.
func (t *Trace) Failed() bool {
	return t.Status == SoftFail || t.Status == HardFail
}

// EncodeBinary implements the io.Serializable interface.
func (t *Trace) EncodeBinary(w *io.BinWriter) {
	t.ID.EncodeBinary(w)
	w.WriteU32LE(t.BlockIndex)
	w.WriteB(byte(t.Status))
	w.WriteU32LE(t.CPUUsage)
	w.WriteU64LE(t.NetUsage)
	w.WriteU64LE(uint64(t.Elapsed))
	w.WriteString(t.Except)
}

// DecodeBinary implements the io.Serializable interface.
func (t *Trace) DecodeBinary(r *io.BinReader) {
	t.ID.DecodeBinary(r)
	t.BlockIndex = r.ReadU32LE()
	t.Status = TxStatus(r.ReadB())
	t.CPUUsage = r.ReadU32LE()
	t.NetUsage = r.ReadU64LE()
	t.Elapsed = time.Duration(r.ReadU64LE())
	t.Except = r.ReadString(MaxExceptLen)
	if r.Err == nil && int(t.Status) >= len(txStatusNames) {
		r.Err = fmt.Errorf("invalid transaction status %d", t.Status)
	}
}
