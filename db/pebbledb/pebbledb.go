// Package pebbledb implements db.Database on top of cockroachdb/pebble.
package pebbledb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/vocdoni/fhevm-go/db"
)

// PebbleDB implements db.Database.
type PebbleDB struct {
	db *pebble.DB
}

var _ db.Database = (*PebbleDB)(nil)

// New opens (or creates) the database at opts.Path. An empty path keeps the
// data in memory.
func New(opts db.Options) (*PebbleDB, error) {
	o := &pebble.Options{}
	dir := opts.Path
	if dir == "" {
		o.FS = vfs.NewMem()
		dir = "memdb"
	} else if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("could not create database directory: %w", err)
	}
	pdb, err := pebble.Open(dir, o)
	if err != nil {
		return nil, fmt.Errorf("could not open pebble database: %w", err)
	}
	return &PebbleDB{db: pdb}, nil
}

// Get implements db.Reader.
func (d *PebbleDB) Get(key []byte) ([]byte, error) {
	return get(d.db, key)
}

// Iterate implements db.Reader.
func (d *PebbleDB) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	iter, err := d.db.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	return iterate(iter, prefix, callback)
}

// WriteTx implements db.Database.
func (d *PebbleDB) WriteTx() db.WriteTx {
	return &WriteTx{batch: d.db.NewIndexedBatch()}
}

// Close implements db.Database.
func (d *PebbleDB) Close() error {
	return d.db.Close()
}

// WriteTx is a pebble indexed batch. It does not detect conflicts with
// concurrent transactions, callers serialize writers that need it.
type WriteTx struct {
	batch *pebble.Batch
}

var _ db.WriteTx = (*WriteTx)(nil)

// Get implements db.Reader.
func (tx *WriteTx) Get(key []byte) ([]byte, error) {
	if tx.batch == nil {
		return nil, db.ErrTxClosed
	}
	return get(tx.batch, key)
}

// Iterate implements db.Reader.
func (tx *WriteTx) Iterate(prefix []byte, callback func(key, value []byte) bool) error {
	if tx.batch == nil {
		return db.ErrTxClosed
	}
	iter, err := tx.batch.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	return iterate(iter, prefix, callback)
}

// Set implements db.WriteTx.
func (tx *WriteTx) Set(key, value []byte) error {
	if tx.batch == nil {
		return db.ErrTxClosed
	}
	return tx.batch.Set(key, value, nil)
}

// Delete implements db.WriteTx.
func (tx *WriteTx) Delete(key []byte) error {
	if tx.batch == nil {
		return db.ErrTxClosed
	}
	return tx.batch.Delete(key, nil)
}

// Commit implements db.WriteTx.
func (tx *WriteTx) Commit() error {
	if tx.batch == nil {
		return db.ErrTxClosed
	}
	err := tx.batch.Commit(pebble.Sync)
	tx.Discard()
	return err
}

// Discard implements db.WriteTx.
func (tx *WriteTx) Discard() {
	if tx.batch == nil {
		return
	}
	_ = tx.batch.Close()
	tx.batch = nil
}

type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func get(r getter, key []byte) ([]byte, error) {
	value, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(value), nil
}

func iterate(iter *pebble.Iterator, prefix []byte, callback func(key, value []byte) bool) (err error) {
	defer func() {
		if cerr := iter.Close(); err == nil {
			err = cerr
		}
	}()
	for valid := iter.First(); valid; valid = iter.Next() {
		if !callback(iter.Key()[len(prefix):], iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func prefixOptions(prefix []byte) *pebble.IterOptions {
	if len(prefix) == 0 {
		return nil
	}
	return &pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)}
}

// upperBound returns the smallest key greater than every key with the
// given prefix, nil when there is none.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
