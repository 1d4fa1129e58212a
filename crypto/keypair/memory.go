package keypair

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryStoreSize bounds the number of owners kept by a MemoryStore.
const DefaultMemoryStoreSize = 256

// MemoryStore is a bounded in-memory Store. Least recently used keypairs are
// evicted once the store is full.
type MemoryStore struct {
	cache *lru.Cache[common.Address, *Keypair]
}

// NewMemoryStore creates a store holding up to size keypairs, or
// DefaultMemoryStoreSize when size is not positive.
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = DefaultMemoryStoreSize
	}
	cache, err := lru.New[common.Address, *Keypair](size)
	if err != nil {
		panic(fmt.Sprintf("could not create keypair cache: %v", err))
	}
	return &MemoryStore{cache: cache}
}

// Get implements Store.
func (s *MemoryStore) Get(owner common.Address) (*Keypair, error) {
	kp, ok := s.cache.Get(owner)
	if !ok {
		return nil, ErrNotFound
	}
	return kp, nil
}

// Put implements Store.
func (s *MemoryStore) Put(owner common.Address, kp *Keypair) error {
	s.cache.Add(owner, kp)
	return nil
}

// Len returns the number of keypairs kept.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
