package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/carbonledger/pkg/consensus"
)

// PebbleStore keeps committed blocks and their certificates.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// keys: b:<8-byte-height>, c:<8-byte-height>, h:<32-byte-hash>, cm:committed
func kBlock(h consensus.Height) []byte { return append([]byte("b:"), heightKey(h)...) }
func kCert(h consensus.Height) []byte  { return append([]byte("c:"), heightKey(h)...) }
func kHash(h consensus.Hash) []byte    { return append([]byte("h:"), h[:]...) }
func kCommitted() []byte               { return []byte("cm") }

// SaveBlock writes the block, its certificate, the hash index and the new
// committed height in one synced batch.
func (s *PebbleStore) SaveBlock(b consensus.Block, c consensus.Certificate) error {
	bv, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	cv, err := encodeGob(c)
	if err != nil {
		return fmt.Errorf("encode cert: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kBlock(b.Height), bv, nil); err != nil {
		return err
	}
	if err := batch.Set(kCert(b.Height), cv, nil); err != nil {
		return err
	}
	if err := batch.Set(kHash(consensus.HashOfBlock(b)), heightKey(b.Height), nil); err != nil {
		return err
	}
	if err := batch.Set(kCommitted(), heightKey(b.Height), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) get(key []byte, v any) (bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := decodeGob(val, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStore) GetBlock(h consensus.Height) (consensus.Block, bool, error) {
	var out consensus.Block
	ok, err := s.get(kBlock(h), &out)
	return out, ok, err
}

func (s *PebbleStore) GetCert(h consensus.Height) (consensus.Certificate, bool, error) {
	var out consensus.Certificate
	ok, err := s.get(kCert(h), &out)
	return out, ok, err
}

func (s *PebbleStore) readHeight(key []byte) (consensus.Height, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, fmt.Errorf("corrupt height under %q", key)
	}
	return consensus.Height(binary.BigEndian.Uint64(val)), true, nil
}

func (s *PebbleStore) GetBlockByHash(h consensus.Hash) (consensus.Block, bool, error) {
	height, ok, err := s.readHeight(kHash(h))
	if err != nil || !ok {
		return consensus.Block{}, false, err
	}
	return s.GetBlock(height)
}

func (s *PebbleStore) Committed() (consensus.Height, bool, error) {
	return s.readHeight(kCommitted())
}

var _ consensus.BlockStore = (*PebbleStore)(nil)
