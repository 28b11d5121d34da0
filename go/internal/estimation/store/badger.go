package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const revisionSize = 8

// BadgerStore is an embedded store backed by BadgerDB. Each value is stored
// as an 8-byte big-endian revision followed by the payload; TTLs use
// Badger's native entry expiry.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a Badger database at path. An empty
// path opens an in-memory database.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func encodeValue(revision uint64, value []byte) []byte {
	buf := make([]byte, revisionSize+len(value))
	binary.BigEndian.PutUint64(buf, revision)
	copy(buf[revisionSize:], value)
	return buf
}

func decodeValue(raw []byte) (Entry, error) {
	if len(raw) < revisionSize {
		return Entry{}, fmt.Errorf("corrupt entry: %d bytes", len(raw))
	}
	return Entry{
		Revision: binary.BigEndian.Uint64(raw[:revisionSize]),
		Value:    append([]byte(nil), raw[revisionSize:]...),
	}, nil
}

func readEntry(txn *badger.Txn, key []byte) (Entry, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrKeyNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	err = item.Value(func(val []byte) error {
		entry, err = decodeValue(val)
		return err
	})
	return entry, err
}

func writeEntry(txn *badger.Txn, key []byte, revision uint64, value []byte, ttl time.Duration) error {
	e := badger.NewEntry(key, encodeValue(revision, value))
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}

func (s *BadgerStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = readEntry(txn, []byte(key))
		return err
	})
	return entry, err
}

func (s *BadgerStore) Create(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := readEntry(txn, []byte(key))
		switch {
		case err == nil:
			return ErrKeyExists
		case !errors.Is(err, ErrKeyNotFound):
			return err
		}
		return writeEntry(txn, []byte(key), 1, value, ttl)
	})
	if errors.Is(err, badger.ErrConflict) {
		return 0, ErrKeyExists
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func (s *BadgerStore) Update(ctx context.Context, key string, value []byte, ttl time.Duration, revision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var next uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readEntry(txn, []byte(key))
		if err != nil {
			return err
		}
		if current.Revision != revision {
			return ErrRevisionMismatch
		}
		next = current.Revision + 1
		return writeEntry(txn, []byte(key), next, value, ttl)
	})
	if errors.Is(err, badger.ErrConflict) {
		return 0, ErrRevisionMismatch
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
