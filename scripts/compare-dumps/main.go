package main

import (
	"errors"
	"fmt"
	"os"

	json "github.com/nspcc-dev/go-ordered-json"
	"github.com/urfave/cli"
)

type dump struct {
	Irreversible *uint32       `json:"irreversible"`
	Blocks       []blockDump   `json:"blocks"`
	Orphans      []orphanBatch `json:"orphans"`
}

type blockDump struct {
	Block struct {
		Index uint32 `json:"index"`
		Hash  string `json:"hash"`
	} `json:"block"`
	Transactions []txDump `json:"transactions"`
}

type txDump struct {
	Trace struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"trace"`
}

type orphanBatch struct {
	Seq          uint32   `json:"seq"`
	Index        uint32   `json:"index"`
	Transactions []string `json:"transactions"`
}

func readFile(path string) (*dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d := new(dump)
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	return d, nil
}

func irreversibleString(h *uint32) string {
	if h == nil {
		return "none"
	}
	return fmt.Sprint(*h)
}

func compare(a, b string) error {
	dumpA, err := readFile(a)
	if err != nil {
		return fmt.Errorf("reading file %s: %w", a, err)
	}
	dumpB, err := readFile(b)
	if err != nil {
		return fmt.Errorf("reading file %s: %w", b, err)
	}
	if ia, ib := irreversibleString(dumpA.Irreversible), irreversibleString(dumpB.Irreversible); ia != ib {
		return fmt.Errorf("irreversible height mismatch: %s vs %s", ia, ib)
	}
	if len(dumpA.Blocks) != len(dumpB.Blocks) {
		return fmt.Errorf("dump files differ in size: %d vs %d", len(dumpA.Blocks), len(dumpB.Blocks))
	}
	fail := false
	for i := range dumpA.Blocks {
		blockA := &dumpA.Blocks[i]
		blockB := &dumpB.Blocks[i]
		if blockA.Block.Index != blockB.Block.Index {
			return fmt.Errorf("block number mismatch: %d vs %d", blockA.Block.Index, blockB.Block.Index)
		}
		if blockA.Block.Hash != blockB.Block.Hash {
			return fmt.Errorf("block %d: hash mismatch: %s vs %s", blockA.Block.Index, blockA.Block.Hash, blockB.Block.Hash)
		}
		if len(blockA.Transactions) != len(blockB.Transactions) {
			return fmt.Errorf("block %d, transactions number mismatch: %d vs %d", blockA.Block.Index, len(blockA.Transactions), len(blockB.Transactions))
		}
		for j := range blockA.Transactions {
			txA, txB := blockA.Transactions[j].Trace, blockB.Transactions[j].Trace
			if txA.ID != txB.ID {
				return fmt.Errorf("block %d: transaction %d mismatch: %s vs %s", blockA.Block.Index, j, txA.ID, txB.ID)
			}
			if txA.Status != txB.Status {
				fail = true
				fmt.Printf("block %d: status mismatch for transaction %s: %s vs %s\n", blockA.Block.Index, txA.ID, txA.Status, txB.Status)
			}
		}
	}
	if len(dumpA.Orphans) != len(dumpB.Orphans) {
		return fmt.Errorf("orphan batches number mismatch: %d vs %d", len(dumpA.Orphans), len(dumpB.Orphans))
	}
	for i := range dumpA.Orphans {
		oA, oB := &dumpA.Orphans[i], &dumpB.Orphans[i]
		if oA.Index != oB.Index || len(oA.Transactions) != len(oB.Transactions) {
			fail = true
			fmt.Printf("orphan batch %d mismatch: block %d with %d transactions vs block %d with %d transactions\n",
				oA.Seq, oA.Index, len(oA.Transactions), oB.Index, len(oB.Transactions))
		}
	}
	if fail {
		return errors.New("fail")
	}
	return nil
}

func cliMain(c *cli.Context) error {
	a := c.Args().Get(0)
	b := c.Args().Get(1)
	if a == "" {
		return errors.New("no arguments given")
	}
	if b == "" {
		return errors.New("missing second argument")
	}
	return compare(a, b)
}

func main() {
	ctl := cli.NewApp()
	ctl.Name = "compare-dumps"
	ctl.Version = "1.0"
	ctl.Usage = "compare-dumps dumpA.json dumpB.json"
	ctl.Action = cliMain

	if err := ctl.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, ctl.Usage)
		os.Exit(1)
	}
}
