package contracttest

import (
	"context"
	"errors"
	"testing"

	"github.com/fedsearch/search-api/internal/platform/fingerprint"
	digestcacheport "github.com/fedsearch/search-api/internal/ports/out/digestcache"
)

type CleanupFunc = func()

type DigestStoreFactory func(t *testing.T) (digestcacheport.Store, CleanupFunc)

// RunDigestStore exercises the write-once semantics every digest store must
// provide.
func RunDigestStore(t *testing.T, newStore DigestStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	key := digestcacheport.Key{NodeName: "alice_0", EntryID: "p-1", RevisionID: "r-1"}
	d1 := fingerprint.Sum([]byte("first"))
	d2 := fingerprint.Sum([]byte("second"))

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get before Put: ok=%v err=%v", ok, err)
	}

	if err := store.Put(ctx, key, d1); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != d1 {
		t.Fatalf("Get=%s, want %s", got, d1)
	}

	// Same value again is idempotent.
	if err := store.Put(ctx, key, d1); err != nil {
		t.Fatalf("Put same digest: %v", err)
	}

	// A different value is refused and the original survives.
	if err := store.Put(ctx, key, d2); !errors.Is(err, digestcacheport.ErrConflict) {
		t.Fatalf("Put different digest: err=%v, want ErrConflict", err)
	}
	got, ok, err = store.Get(ctx, key)
	if err != nil || !ok || got != d1 {
		t.Fatalf("after conflict: got=%s ok=%v err=%v, want %s", got, ok, err, d1)
	}

	// Each key component is significant.
	others := []digestcacheport.Key{
		{NodeName: "bob_0", EntryID: "p-1", RevisionID: "r-1"},
		{NodeName: "alice_0", EntryID: "p-2", RevisionID: "r-1"},
		{NodeName: "alice_0", EntryID: "p-1", RevisionID: "r-2"},
	}
	for _, k := range others {
		if _, ok, err := store.Get(ctx, k); err != nil || ok {
			t.Fatalf("Get(%+v): ok=%v err=%v, want miss", k, ok, err)
		}
	}
	if err := store.Put(ctx, others[2], d2); err != nil {
		t.Fatalf("Put other revision: %v", err)
	}
	if got, ok, _ := store.Get(ctx, others[2]); !ok || got != d2 {
		t.Fatalf("other revision: got=%s ok=%v", got, ok)
	}
}
