package storage

import (
	"sync"

	"github.com/uhyunpark/carbonledger/pkg/consensus"
)

// InMemoryBlockStore is a BlockStore for tests and throwaway devnets.
type InMemoryBlockStore struct {
	mu        sync.Mutex
	blocks    map[consensus.Height]consensus.Block
	certs     map[consensus.Height]consensus.Certificate
	byHash    map[consensus.Hash]consensus.Height
	committed *consensus.Height
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{
		blocks: make(map[consensus.Height]consensus.Block),
		certs:  make(map[consensus.Height]consensus.Certificate),
		byHash: make(map[consensus.Hash]consensus.Height),
	}
}

func (s *InMemoryBlockStore) SaveBlock(b consensus.Block, c consensus.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	s.certs[b.Height] = c
	s.byHash[consensus.HashOfBlock(b)] = b.Height
	h := b.Height
	s.committed = &h
	return nil
}

func (s *InMemoryBlockStore) GetBlock(h consensus.Height) (consensus.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok, nil
}

func (s *InMemoryBlockStore) GetCert(h consensus.Height) (consensus.Certificate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.certs[h]
	return c, ok, nil
}

func (s *InMemoryBlockStore) GetBlockByHash(h consensus.Hash) (consensus.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	height, ok := s.byHash[h]
	if !ok {
		return consensus.Block{}, false, nil
	}
	return s.blocks[height], true, nil
}

func (s *InMemoryBlockStore) Committed() (consensus.Height, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == nil {
		return 0, false, nil
	}
	return *s.committed, true, nil
}

var _ consensus.BlockStore = (*InMemoryBlockStore)(nil)
