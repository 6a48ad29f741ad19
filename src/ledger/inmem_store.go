package ledger

import (
	"strconv"
	"sync"

	cm "github.com/fieldmesh/fieldmesh/src/common"
)

// InmemStore keeps the chain in memory. It is the default backend and the one
// used by tests and simulations.
type InmemStore struct {
	sync.RWMutex
	blocks     []*Block
	superseded []*Block
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		blocks:     []*Block{},
		superseded: []*Block{},
	}
}

// LastIndex implements the Store interface.
func (s *InmemStore) LastIndex() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.blocks) - 1
}

// LastBlock implements the Store interface.
func (s *InmemStore) LastBlock() (*Block, error) {
	s.RLock()
	defer s.RUnlock()

	if len(s.blocks) == 0 {
		return nil, cm.NewErr("Block", cm.KeyNotFound, "tip")
	}

	return s.blocks[len(s.blocks)-1], nil
}

// GetBlock implements the Store interface.
func (s *InmemStore) GetBlock(index int) (*Block, error) {
	s.RLock()
	defer s.RUnlock()

	if index < 0 || index >= len(s.blocks) {
		return nil, cm.NewErr("Block", cm.KeyNotFound, strconv.Itoa(index))
	}

	return s.blocks[index], nil
}

// SetBlock implements the Store interface.
func (s *InmemStore) SetBlock(block *Block) error {
	s.Lock()
	defer s.Unlock()

	index := block.Index()

	if index < len(s.blocks) {
		return cm.NewErr("Block", cm.KeyAlreadyExists, strconv.Itoa(index))
	}
	if index != len(s.blocks) {
		return cm.NewErr("Block", cm.Integrity, strconv.Itoa(index))
	}

	s.blocks = append(s.blocks, block)

	return nil
}

// Blocks implements the Store interface.
func (s *InmemStore) Blocks(from int) ([]*Block, error) {
	s.RLock()
	defer s.RUnlock()

	if from < 0 {
		from = 0
	}
	if from > len(s.blocks) {
		return nil, cm.NewErr("Block", cm.KeyNotFound, strconv.Itoa(from))
	}

	res := make([]*Block, len(s.blocks)-from)
	copy(res, s.blocks[from:])

	return res, nil
}

// Reset implements the Store interface.
func (s *InmemStore) Reset(forkIndex int, canonical []*Block) error {
	s.Lock()
	defer s.Unlock()

	if forkIndex < 0 || forkIndex > len(s.blocks) {
		return cm.NewErr("Block", cm.KeyNotFound, strconv.Itoa(forkIndex))
	}

	// archive the displaced branch
	for _, b := range s.blocks[forkIndex:] {
		b.Superseded = true
		s.superseded = append(s.superseded, b)
	}

	s.blocks = append(s.blocks[:forkIndex], canonical...)

	return nil
}

// SupersededBlocks implements the Store interface.
func (s *InmemStore) SupersededBlocks() []*Block {
	s.RLock()
	defer s.RUnlock()

	res := make([]*Block, len(s.superseded))
	copy(res, s.superseded)

	return res
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
