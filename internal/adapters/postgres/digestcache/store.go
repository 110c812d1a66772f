package digestcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/ports/out/digestcache"
)

// Store is a Postgres implementation of digestcache.Store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Get(ctx context.Context, key digestcache.Key) (domain.Digest, bool, error) {
	if s.pool == nil {
		return domain.Digest{}, false, errors.New("nil postgres pool")
	}
	row := s.pool.QueryRow(ctx, `
		SELECT digest
		FROM entry_digests
		WHERE node_name = $1
		  AND entry_id = $2
		  AND revision_id = $3
	`,
		string(key.NodeName),
		string(key.EntryID),
		string(key.RevisionID),
	)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Digest{}, false, nil
		}
		return domain.Digest{}, false, err
	}
	d, err := domain.DigestFromBytes(raw)
	if err != nil {
		return domain.Digest{}, false, fmt.Errorf("stored digest for %s/%s/%s: %w", key.NodeName, key.EntryID, key.RevisionID, err)
	}
	return d, true, nil
}

func (s *Store) Put(ctx context.Context, key digestcache.Key, digest domain.Digest) error {
	if s.pool == nil {
		return errors.New("nil postgres pool")
	}
	ct, err := s.pool.Exec(ctx, `
		INSERT INTO entry_digests (node_name, entry_id, revision_id, digest)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (node_name, entry_id, revision_id) DO NOTHING
	`,
		string(key.NodeName),
		string(key.EntryID),
		string(key.RevisionID),
		digest[:],
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	// Row already present: same digest is fine, anything else is a conflict.
	existing, ok, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok && existing != digest {
		return digestcache.ErrConflict
	}
	return nil
}
