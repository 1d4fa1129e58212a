/*
Package storage provides the persistent storage layer of the mock
coprocessor.

# Storage Organization

The storage uses a key-value database with prefixed namespaces:

  - ct/ : handle → CiphertextRecord (kind, plaintext payload, ACL, public flag)
  - kp/ : owner address → keypair.Keypair (user decryption keypairs)

Artifacts are encoded with deterministic CBOR. Ciphertext records are
immutable except for their ACL and public flag, which are only modified
through UpdateCiphertext.
*/
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vocdoni/fhevm-go/crypto/keypair"
	"github.com/vocdoni/fhevm-go/db"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrKeyAlreadyExists = errors.New("key already exists")

	// Prefixes
	ciphertextPrefix = []byte("ct/")
	keypairPrefix    = []byte("kp/")
)

// DefaultCacheSize is the number of ciphertext records kept in memory.
const DefaultCacheSize = 1000

// CiphertextRecord is what the coprocessor keeps for each handle. Value is
// the fixed-size big-endian plaintext, the mock stands in for a real
// ciphertext.
type CiphertextRecord struct {
	Handle    types.Handle     `cbor:"1,keyasint"`
	Type      types.FheType    `cbor:"2,keyasint"`
	Value     []byte           `cbor:"3,keyasint"`
	ACL       []common.Address `cbor:"4,keyasint"`
	Public    bool             `cbor:"5,keyasint"`
	Contract  common.Address   `cbor:"6,keyasint"`
	CreatedAt int64            `cbor:"7,keyasint"`
}

// Allowed reports whether addr is on the record ACL.
func (r *CiphertextRecord) Allowed(addr common.Address) bool {
	for _, a := range r.ACL {
		if a == addr {
			return true
		}
	}
	return false
}

// Allow adds addr to the ACL, it is a no-op if already present.
func (r *CiphertextRecord) Allow(addr common.Address) {
	if !r.Allowed(addr) {
		r.ACL = append(r.ACL, addr)
	}
}

// Storage manages ciphertext records and keypairs.
type Storage struct {
	db     db.Database
	ctLock sync.Mutex
	cache  *lru.Cache[types.Handle, CiphertextRecord]
}

// New creates a new Storage instance on top of database.
func New(database db.Database) *Storage {
	cache, err := lru.New[types.Handle, CiphertextRecord](DefaultCacheSize)
	if err != nil {
		log.Fatalf("failed to create LRU cache: %v", err)
	}
	return &Storage{db: database, cache: cache}
}

// Close closes the underlying database.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("could not close database", "error", err.Error())
	}
}

// SetCiphertexts stores a batch of new records atomically. It fails with
// ErrKeyAlreadyExists if any handle is already known.
func (s *Storage) SetCiphertexts(records ...*CiphertextRecord) error {
	s.ctLock.Lock()
	defer s.ctLock.Unlock()

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	for _, rec := range records {
		key := ciphertextKey(rec.Handle)
		if _, err := wTx.Get(key); err == nil {
			return fmt.Errorf("%w: %s", ErrKeyAlreadyExists, rec.Handle)
		} else if !errors.Is(err, db.ErrKeyNotFound) {
			return err
		}
		if err := setArtifact(wTx, key, rec); err != nil {
			return err
		}
	}
	if err := wTx.Commit(); err != nil {
		return err
	}
	for _, rec := range records {
		s.cache.Add(rec.Handle, *rec)
	}
	return nil
}

// Ciphertext returns the record of handle, or ErrNotFound.
func (s *Storage) Ciphertext(handle types.Handle) (*CiphertextRecord, error) {
	if rec, ok := s.cache.Get(handle); ok {
		return cloneRecord(&rec), nil
	}
	s.ctLock.Lock()
	defer s.ctLock.Unlock()
	return s.loadCiphertext(handle)
}

// loadCiphertext reads handle through the cache, filling it on a miss. The
// caller must hold ctLock so a fill never races with an update.
func (s *Storage) loadCiphertext(handle types.Handle) (*CiphertextRecord, error) {
	if rec, ok := s.cache.Get(handle); ok {
		return cloneRecord(&rec), nil
	}
	var rec CiphertextRecord
	if err := getArtifact(s.db, ciphertextKey(handle), &rec); err != nil {
		return nil, err
	}
	s.cache.Add(handle, rec)
	return cloneRecord(&rec), nil
}

// UpdateCiphertext loads the record of handle, applies fn and stores the
// result. Updates are serialized. If fn fails nothing is written.
func (s *Storage) UpdateCiphertext(handle types.Handle, fn func(*CiphertextRecord) error) error {
	s.ctLock.Lock()
	defer s.ctLock.Unlock()

	rec, err := s.loadCiphertext(handle)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.Handle = handle

	wTx := s.db.WriteTx()
	defer wTx.Discard()
	if err := setArtifact(wTx, ciphertextKey(handle), rec); err != nil {
		return err
	}
	if err := wTx.Commit(); err != nil {
		return err
	}
	s.cache.Add(handle, *rec)
	return nil
}

// ListCiphertexts returns every stored handle in key order.
func (s *Storage) ListCiphertexts() ([]types.Handle, error) {
	var handles []types.Handle
	err := s.db.Iterate(ciphertextPrefix, func(k, _ []byte) bool {
		h, err := types.BytesToHandle(k)
		if err != nil {
			log.Warnw("skipping malformed ciphertext key", "key", fmt.Sprintf("%x", k))
			return true
		}
		handles = append(handles, h)
		return true
	})
	return handles, err
}

// Keypairs returns a keypair.Store persisted in this storage.
func (s *Storage) Keypairs() keypair.Store {
	return &keypairStore{db: s.db}
}

type keypairStore struct {
	db db.Database
}

func (k *keypairStore) Get(owner common.Address) (*keypair.Keypair, error) {
	var kp keypair.Keypair
	if err := getArtifact(k.db, keypairKey(owner), &kp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, keypair.ErrNotFound
		}
		return nil, err
	}
	return &kp, nil
}

func (k *keypairStore) Put(owner common.Address, kp *keypair.Keypair) error {
	wTx := k.db.WriteTx()
	defer wTx.Discard()
	if err := setArtifact(wTx, keypairKey(owner), kp); err != nil {
		return err
	}
	return wTx.Commit()
}

func ciphertextKey(h types.Handle) []byte {
	return append(append([]byte{}, ciphertextPrefix...), h[:]...)
}

func keypairKey(owner common.Address) []byte {
	return append(append([]byte{}, keypairPrefix...), owner.Bytes()...)
}

// setArtifact encodes artifact and writes it under key in wTx.
func setArtifact(wTx db.WriteTx, key []byte, artifact any) error {
	data, err := EncodeArtifact(artifact)
	if err != nil {
		return err
	}
	return wTx.Set(key, data)
}

// getArtifact reads and decodes the artifact stored under key.
func getArtifact(r db.Reader, key []byte, out any) error {
	data, err := r.Get(key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := DecodeArtifact(data, out); err != nil {
		return fmt.Errorf("could not decode artifact: %w", err)
	}
	return nil
}

func cloneRecord(r *CiphertextRecord) *CiphertextRecord {
	out := *r
	out.Value = append([]byte(nil), r.Value...)
	out.ACL = append([]common.Address(nil), r.ACL...)
	return &out
}
