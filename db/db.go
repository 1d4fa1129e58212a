// Package db defines the key-value database used by the storage layer.
package db

import "errors"

var (
	// ErrKeyNotFound is returned when a key is not present in the database.
	ErrKeyNotFound = errors.New("key not found")
	// ErrTxClosed is returned when a committed or discarded transaction is
	// used again.
	ErrTxClosed = errors.New("transaction already closed")
)

// Options holds the database configuration. An empty Path opens an
// ephemeral in-memory database.
type Options struct {
	Path string
}

// Reader is the read side of a Database or a WriteTx.
type Reader interface {
	// Get returns a copy of the value stored under key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls callback for every key with the given prefix in
	// ascending key order, the prefix is stripped from the keys. Iteration
	// stops when callback returns false. The slices are only valid during
	// the callback.
	Iterate(prefix []byte, callback func(key, value []byte) bool) error
}

// WriteTx batches writes which become visible on Commit. Reads through the
// transaction observe its own pending writes.
type WriteTx interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	// Discard releases the transaction. It is safe to call after Commit.
	Discard()
}

// Database is a persistent ordered key-value store.
type Database interface {
	Reader
	WriteTx() WriteTx
	Close() error
}
