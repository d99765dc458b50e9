package server

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nspcc-dev/chainmux/cli/cmdargs"
	"github.com/nspcc-dev/chainmux/cli/options"
	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/core/storage/dbconfig"
	"github.com/nspcc-dev/chainmux/pkg/services/tracestore"
	json "github.com/nspcc-dev/go-ordered-json"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

type dump struct {
	Irreversible *uint32             `json:"irreversible"`
	Blocks       []blockDump         `json:"blocks"`
	Orphans      []tracestore.Orphan `json:"orphans"`
}

type blockDump struct {
	Block        *chain.Block           `json:"block"`
	Transactions []*tracestore.TxRecord `json:"transactions"`
}

// collectDump reads count blocks starting from start (all of them if count
// is zero) along with their transactions.
func collectDump(ts *tracestore.Service, start, count uint32) (*dump, error) {
	d := &dump{Blocks: []blockDump{}}
	if h, ok := ts.IrreversibleHeight(); ok {
		d.Irreversible = &h
	}
	var err error
	iterErr := ts.Blocks(start, func(b *tracestore.BlockRecord) bool {
		bd := blockDump{Block: b.Block, Transactions: make([]*tracestore.TxRecord, 0, len(b.Transactions))}
		for _, id := range b.Transactions {
			var tx *tracestore.TxRecord
			tx, err = ts.GetTrace(id)
			if err != nil {
				err = fmt.Errorf("block %d: %w", b.Block.Index, err)
				return false
			}
			bd.Transactions = append(bd.Transactions, tx)
		}
		d.Blocks = append(d.Blocks, bd)
		return count == 0 || uint32(len(d.Blocks)) < count
	})
	if err = errors.Join(err, iterErr); err != nil {
		return nil, err
	}
	orphans, err := ts.GetOrphans()
	if err != nil {
		return nil, err
	}
	d.Orphans = orphans
	if d.Orphans == nil {
		d.Orphans = []tracestore.Orphan{}
	}
	return d, nil
}

func dumpTraces(ctx *cli.Context) error {
	if err := cmdargs.EnsureNone(ctx); err != nil {
		return err
	}
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, _, logCloser, err := options.HandleLoggingParams(ctx.Bool("debug"), cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = log.Sync() }()
	if logCloser != nil {
		defer func() { _ = logCloser() }()
	}

	tsCfg := cfg.ApplicationConfiguration.TraceStore
	switch tsCfg.DBConfiguration.Type {
	case dbconfig.InMemoryDB:
		return cli.NewExitError("in-memory trace store can't be dumped", 1)
	case dbconfig.LevelDB:
		tsCfg.DBConfiguration.LevelDBOptions.ReadOnly = true
	case dbconfig.BoltDB:
		tsCfg.DBConfiguration.BoltDBOptions.ReadOnly = true
	}
	ts, err := initStore(tsCfg, log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() {
		if err := ts.Close(); err != nil {
			log.Error("failed to close trace store", zap.Error(err))
		}
	}()

	d, err := collectDump(ts, uint32(ctx.Uint("start")), uint32(ctx.Uint("count")))
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	var w io.Writer = ctx.App.Writer
	if out := ctx.String("out"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return cli.NewExitError(fmt.Errorf("can't create file: %w", err), 1)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	if err := enc.Encode(d); err != nil {
		return cli.NewExitError(err, 1)
	}
	log.Info("dumped", zap.Int("blocks", len(d.Blocks)), zap.Int("orphans", len(d.Orphans)))
	return nil
}
