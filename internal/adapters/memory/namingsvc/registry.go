package namingsvc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fedsearch/search-api/internal/ports/out/namingsvc"
)

type nameKey struct {
	name       string
	generation int
}

// Registry is an in-memory naming service. It keeps the full key history of
// each name so past lookups can be answered. It is safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	history map[nameKey][]namingsvc.RegisteredName // sorted by ValidFrom

	failWith error
	gate     chan struct{}

	currentCalls int
	pastCalls    int
}

func NewRegistry() *Registry {
	return &Registry{history: make(map[nameKey][]namingsvc.RegisteredName)}
}

// Register records a new registration (or key rotation) for a name.
func (r *Registry) Register(rn namingsvc.RegisteredName) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := nameKey{name: rn.Name, generation: rn.Generation}
	rn.SigningKey = append([]byte(nil), rn.SigningKey...)
	h := append(r.history[k], rn)
	sort.SliceStable(h, func(i, j int) bool { return h[i].ValidFrom.Before(h[j].ValidFrom) })
	r.history[k] = h
}

// Remove drops every registration of a name.
func (r *Registry) Remove(name string, generation int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.history, nameKey{name: name, generation: generation})
}

// FailWith makes every subsequent call return err. Nil restores normal
// operation.
func (r *Registry) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

// Hold makes subsequent calls block until Release is called or their context
// ends.
func (r *Registry) Hold() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate == nil {
		r.gate = make(chan struct{})
	}
}

func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
}

// CurrentCalls reports how many GetCurrent calls were made.
func (r *Registry) CurrentCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentCalls
}

// PastCalls reports how many GetPast calls were made.
func (r *Registry) PastCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pastCalls
}

func (r *Registry) GetCurrent(ctx context.Context, name string, generation int) (*namingsvc.RegisteredName, error) {
	r.mu.Lock()
	r.currentCalls++
	gate := r.gate
	r.mu.Unlock()

	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	h := r.history[nameKey{name: name, generation: generation}]
	if len(h) == 0 {
		return nil, nil
	}
	return cloneRegistered(h[len(h)-1]), nil
}

func (r *Registry) GetPast(ctx context.Context, name string, generation int, at time.Time) (*namingsvc.RegisteredName, error) {
	r.mu.Lock()
	r.pastCalls++
	gate := r.gate
	r.mu.Unlock()

	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	h := r.history[nameKey{name: name, generation: generation}]
	for i := len(h) - 1; i >= 0; i-- {
		if !h[i].ValidFrom.After(at) {
			return cloneRegistered(h[i]), nil
		}
	}
	return nil, nil
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneRegistered(rn namingsvc.RegisteredName) *namingsvc.RegisteredName {
	out := rn
	out.SigningKey = append([]byte(nil), rn.SigningKey...)
	return &out
}
