package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/chainmux/pkg/chain"
)

// Simulation configures the built-in fake engine.
type Simulation struct {
	// Blocks is the number of blocks to produce.
	Blocks uint32 `yaml:"Blocks"`
	// TxPerBlock is the number of transactions applied in every block.
	TxPerBlock int `yaml:"TxPerBlock"`
	// DiscardEvery makes every N-th block discarded (started, but never
	// accepted). Zero disables discarding.
	DiscardEvery uint32 `yaml:"DiscardEvery"`
	// IrreversibleLag is the number of accepted blocks after which a block
	// becomes irreversible.
	IrreversibleLag uint32 `yaml:"IrreversibleLag"`
	// Compression is the packed transaction compression, "none" or "lz4".
	Compression string `yaml:"Compression"`
	// Interval is the delay between blocks.
	Interval time.Duration `yaml:"Interval"`
}

// Validate checks Simulation for internal consistency. It returns an error if
// the configuration is invalid.
func (s Simulation) Validate() error {
	if s.TxPerBlock < 0 {
		return fmt.Errorf("negative TxPerBlock: %d", s.TxPerBlock)
	}
	if s.DiscardEvery == 1 {
		return errors.New("DiscardEvery of 1 discards every block")
	}
	if s.Interval < 0 {
		return fmt.Errorf("negative Interval: %s", s.Interval)
	}
	if _, err := chain.CompressionFromString(s.Compression); err != nil {
		return err
	}
	return nil
}
