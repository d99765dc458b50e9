package tracestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nspcc-dev/chainmux/pkg/chain"
	"github.com/nspcc-dev/chainmux/pkg/core/storage"
	"github.com/nspcc-dev/chainmux/pkg/io"
	"github.com/nspcc-dev/chainmux/pkg/signalmux"
	"github.com/nspcc-dev/chainmux/pkg/util"
	"go.uber.org/zap"
)

const (
	// Version is the storage schema version written into SYSVersion.
	Version = "0.1.0"
	// DefaultCacheSize is the number of read entries kept in cache if
	// Config.CacheSize is not set.
	DefaultCacheSize = 128
)

// ErrNotFound is returned when the requested item is not stored.
var ErrNotFound = errors.New("not found")

type (
	// Config is the trace store configuration.
	Config struct {
		Store     storage.Store
		CacheSize int
		Log       *zap.Logger
	}

	// Service is a signal subscriber persisting transaction batches, blocks
	// and irreversibility marks into the given Store. It can be read from
	// concurrently with signal processing.
	Service struct {
		store storage.Store
		log   *zap.Logger
		cache *lru.Cache

		// irreversible is the latest irreversible index plus one, zero
		// means no block is irreversible yet.
		irreversible atomic.Uint64

		lock    sync.Mutex
		started uint32
		open    bool
		// current holds transactions applied to the open block in direct
		// mode.
		current []util.Uint256
		orphans uint32
	}
)

// blockKey and the transaction ID (util.Uint256) are cache keys.
type blockKey uint32

var _ signalmux.Subscriber = (*Service)(nil)

// New creates a Service over the Store given in the configuration, checking
// the schema version and restoring counters persisted earlier.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("no store")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store: cfg.Store,
		log:   cfg.Log,
		cache: cache,
	}

	ver, err := s.store.Get(storage.SYSVersion.Bytes())
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		err = s.store.PutChangeSet(map[string][]byte{string(storage.SYSVersion.Bytes()): []byte(Version)})
		if err != nil {
			return nil, fmt.Errorf("failed to store version: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read version: %w", err)
	case string(ver) != Version:
		return nil, fmt.Errorf("storage version mismatch: %s (expected %s)", ver, Version)
	}

	if v, err := s.store.Get(storage.SYSIrreversibleBlock.Bytes()); err == nil {
		if len(v) != 4 {
			return nil, errors.New("invalid irreversible block record")
		}
		s.irreversible.Store(uint64(binary.LittleEndian.Uint32(v)) + 1)
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}
	if v, err := s.store.Get(storage.SYSOrphanCounter.Bytes()); err == nil {
		if len(v) != 4 {
			return nil, errors.New("invalid orphan counter")
		}
		s.orphans = binary.LittleEndian.Uint32(v)
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}
	return s, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return "tracestore"
}

// Close closes the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

// OnTransactionBatch implements the signalmux.Subscriber interface. Batches
// with a nil block are stored as orphans.
func (s *Service) OnTransactionBatch(batch []signalmux.TransactionRecord, b *chain.Block) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	var (
		puts = make(map[string][]byte, len(batch)+2)
		ids  = make([]util.Uint256, 0, len(batch))
	)
	for _, rec := range batch {
		txr := &TxRecord{Trace: rec.Trace, Packed: rec.Packed}
		data, err := encode(txr)
		if err != nil {
			return err
		}
		puts[string(traceKey(rec.Trace.ID))] = data
		ids = append(ids, rec.Trace.ID)
	}
	if b == nil {
		if err := s.putOrphan(puts, s.started, ids); err != nil {
			return err
		}
		s.log.Debug("orphan batch stored", zap.Uint32("index", s.started), zap.Int("txs", len(ids)))
		return nil
	}
	if err := s.putBlock(puts, &BlockRecord{Block: b, Transactions: ids}); err != nil {
		return err
	}
	s.open = false
	s.log.Debug("batch stored", zap.Uint32("index", b.Index), zap.Int("txs", len(ids)))
	return nil
}

// OnIrreversibleBlock implements the signalmux.Subscriber interface. Marks
// below the already stored height are ignored.
func (s *Service) OnIrreversibleBlock(b *chain.Block) error {
	if b == nil {
		return errors.New("nil block")
	}
	if cur := s.irreversible.Load(); cur != 0 && uint64(b.Index) < cur-1 {
		return nil
	}
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], b.Index)
	err := s.store.PutChangeSet(map[string][]byte{string(storage.SYSIrreversibleBlock.Bytes()): v[:]})
	if err != nil {
		return fmt.Errorf("failed to store irreversible block %d: %w", b.Index, err)
	}
	s.irreversible.Store(uint64(b.Index) + 1)
	return nil
}

// OnBlockStart implements the signalmux.Subscriber interface. Transactions
// applied directly to a block that was never accepted are stored as an
// orphan batch.
func (s *Service) OnBlockStart(index uint32) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	var err error
	if s.open && len(s.current) != 0 {
		err = s.putOrphan(make(map[string][]byte, 2), s.started, s.current)
	}
	s.started = index
	s.open = true
	s.current = nil
	return err
}

// OnAcceptedBlock implements the signalmux.Subscriber interface, the block is
// stored along with the transactions applied to it since it was started.
func (s *Service) OnAcceptedBlock(b *chain.Block) error {
	if b == nil {
		return errors.New("nil block")
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	var ids []util.Uint256
	if s.open && s.started == b.Index {
		ids = s.current
	}
	err := s.putBlock(make(map[string][]byte, 1), &BlockRecord{Block: b, Transactions: ids})
	s.open = false
	s.current = nil
	return err
}

// OnTransactionApplied implements the signalmux.Subscriber interface, the
// transaction is stored immediately.
func (s *Service) OnTransactionApplied(t *chain.Trace, p *chain.PackedTx) error {
	if t == nil {
		return errors.New("nil trace")
	}
	txr := &TxRecord{Trace: t, Packed: p}
	data, err := encode(txr)
	if err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.store.PutChangeSet(map[string][]byte{string(traceKey(t.ID)): data}); err != nil {
		return fmt.Errorf("failed to store transaction %s: %w", t.ID, err)
	}
	s.cache.Add(t.ID, txr)
	s.current = append(s.current, t.ID)
	return nil
}

func (s *Service) putBlock(puts map[string][]byte, rec *BlockRecord) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	puts[string(blockKeyBytes(rec.Block.Index))] = data
	if err := s.store.PutChangeSet(puts); err != nil {
		return fmt.Errorf("failed to store block %d: %w", rec.Block.Index, err)
	}
	s.cache.Add(blockKey(rec.Block.Index), rec)
	return nil
}

func (s *Service) putOrphan(puts map[string][]byte, index uint32, ids []util.Uint256) error {
	o := &Orphan{Seq: s.orphans + 1, Index: index, Transactions: ids}
	data, err := encode(o)
	if err != nil {
		return err
	}
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], o.Seq)
	puts[string(orphanKey(o.Seq))] = data
	puts[string(storage.SYSOrphanCounter.Bytes())] = cnt[:]
	if err := s.store.PutChangeSet(puts); err != nil {
		return fmt.Errorf("failed to store orphan batch %d: %w", o.Seq, err)
	}
	s.orphans = o.Seq
	return nil
}

// GetBlock returns the accepted block with the given index.
func (s *Service) GetBlock(index uint32) (*BlockRecord, error) {
	if v, ok := s.cache.Get(blockKey(index)); ok {
		return v.(*BlockRecord), nil
	}
	rec := new(BlockRecord)
	if err := s.get(blockKeyBytes(index), rec); err != nil {
		return nil, fmt.Errorf("block %d: %w", index, err)
	}
	s.cache.Add(blockKey(index), rec)
	return rec, nil
}

// GetTrace returns the stored transaction with the given ID.
func (s *Service) GetTrace(id util.Uint256) (*TxRecord, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(*TxRecord), nil
	}
	rec := new(TxRecord)
	if err := s.get(traceKey(id), rec); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, err)
	}
	s.cache.Add(id, rec)
	return rec, nil
}

// GetOrphans returns all stored orphan batches ordered by their sequence
// numbers.
func (s *Service) GetOrphans() ([]Orphan, error) {
	var (
		res []Orphan
		err error
	)
	s.store.Seek(storage.SeekRange{Prefix: storage.DataOrphan.Bytes()}, func(_, v []byte) bool {
		var o Orphan
		r := io.NewBinReaderFromBuf(v)
		o.DecodeBinary(r)
		if r.Err != nil {
			err = fmt.Errorf("bad orphan record: %w", r.Err)
			return false
		}
		res = append(res, o)
		return true
	})
	return res, err
}

// IrreversibleHeight returns the index of the latest irreversible block,
// false is returned if there is none.
func (s *Service) IrreversibleHeight() (uint32, bool) {
	h := s.irreversible.Load()
	if h == 0 {
		return 0, false
	}
	return uint32(h - 1), true
}

// Blocks iterates over stored blocks in ascending index order starting from
// the given one, until f returns false.
func (s *Service) Blocks(from uint32, f func(*BlockRecord) bool) error {
	var (
		start [4]byte
		err   error
	)
	binary.BigEndian.PutUint32(start[:], from)
	s.store.Seek(storage.SeekRange{Prefix: storage.DataBlock.Bytes(), Start: start[:]}, func(_, v []byte) bool {
		rec := new(BlockRecord)
		r := io.NewBinReaderFromBuf(v)
		rec.DecodeBinary(r)
		if r.Err != nil {
			err = fmt.Errorf("bad block record: %w", r.Err)
			return false
		}
		return f(rec)
	})
	return err
}

func (s *Service) get(key []byte, item io.Serializable) error {
	v, err := s.store.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	r := io.NewBinReaderFromBuf(v)
	item.DecodeBinary(r)
	return r.Err
}

func encode(item io.Serializable) ([]byte, error) {
	w := io.NewBufBinWriter()
	item.EncodeBinary(w.BinWriter)
	if w.Err != nil {
		return nil, w.Err
	}
	return w.Bytes(), nil
}

// blockKeyBytes uses big-endian index to keep blocks ordered in the store.
func blockKeyBytes(index uint32) []byte {
	k := make([]byte, 5)
	k[0] = byte(storage.DataBlock)
	binary.BigEndian.PutUint32(k[1:], index)
	return k
}

func orphanKey(seq uint32) []byte {
	k := make([]byte, 5)
	k[0] = byte(storage.DataOrphan)
	binary.BigEndian.PutUint32(k[1:], seq)
	return k
}

func traceKey(id util.Uint256) []byte {
	k := make([]byte, 1+util.Uint256Size)
	k[0] = byte(storage.DataTrace)
	copy(k[1:], id[:])
	return k
}
