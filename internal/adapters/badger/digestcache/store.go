// Package digestcache persists verified entry digests in an embedded Badger
// database, for single-node deployments without Postgres.
package digestcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/ports/out/digestcache"
)

const keyPrefix = "digest/"

// maxTxnRetries bounds retries when concurrent writers touch the same key.
const maxTxnRetries = 3

type Store struct {
	db *badger.DB
}

// Open opens (or creates) a Badger database in dir. An empty dir keeps
// everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func encodeKey(key digestcache.Key) []byte {
	b := make([]byte, 0, len(keyPrefix)+len(key.NodeName)+len(key.EntryID)+len(key.RevisionID)+2)
	b = append(b, keyPrefix...)
	b = append(b, key.NodeName...)
	b = append(b, 0)
	b = append(b, key.EntryID...)
	b = append(b, 0)
	b = append(b, key.RevisionID...)
	return b
}

func (s *Store) Get(ctx context.Context, key digestcache.Key) (domain.Digest, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Digest{}, false, err
	}
	var (
		d     domain.Digest
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		d, found, err = readDigest(txn, encodeKey(key))
		return err
	})
	if err != nil {
		return domain.Digest{}, false, err
	}
	return d, found, nil
}

func (s *Store) Put(ctx context.Context, key digestcache.Key, digest domain.Digest) error {
	k := encodeKey(key)
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			existing, found, err := readDigest(txn, k)
			if err != nil {
				return err
			}
			if found {
				if existing != digest {
					return digestcache.ErrConflict
				}
				return nil
			}
			return txn.Set(k, digest[:])
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxTxnRetries {
			continue
		}
		return err
	}
}

func readDigest(txn *badger.Txn, k []byte) (domain.Digest, bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Digest{}, false, nil
	}
	if err != nil {
		return domain.Digest{}, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Digest{}, false, err
	}
	d, err := domain.DigestFromBytes(raw)
	if err != nil {
		return domain.Digest{}, false, fmt.Errorf("stored digest %q: %w", k, err)
	}
	return d, true, nil
}
