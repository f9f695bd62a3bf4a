package transport

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/relay-protocol/relay-go/pkg/wire"
)

// Registry maps ConnectionIDs to the server-side stacks that own them.
// Channels are minted from a monotonically increasing counter and never
// reused within one registry.
type Registry struct {
	mu     sync.RWMutex
	stacks map[uint64]registryEntry
	next   uint64
}

type registryEntry struct {
	id      wire.ConnectionID
	harness *StackHarness
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stacks: make(map[uint64]registryEntry),
		next:   1,
	}
}

// register mints a ConnectionID for h. max bounds the number of live
// stacks; zero or negative means unbounded.
func (r *Registry) register(h *StackHarness, max int) (wire.ConnectionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max > 0 && len(r.stacks) >= max {
		return wire.NullConnectionID, fmt.Errorf("%w: %d", ErrMaxConnections, max)
	}
	id := wire.NewConnectionID(r.next)
	r.next++
	r.stacks[id.Channel] = registryEntry{id: id, harness: h}
	return id, nil
}

// Lookup returns the stack registered under id. A wrong token yields
// ErrInvalidConnectionID and leaves the registered stack untouched.
func (r *Registry) Lookup(id wire.ConnectionID) (*StackHarness, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.stacks[id.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: channel %d", ErrStackNotFound, id.Channel)
	}
	if subtle.ConstantTimeCompare(e.id.Token[:], id.Token[:]) != 1 {
		return nil, fmt.Errorf("%w: channel %d", ErrInvalidConnectionID, id.Channel)
	}
	return e.harness, nil
}

// Remove drops the stack registered under id. It is a no-op if the
// channel is held by a different token.
func (r *Registry) Remove(id wire.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.stacks[id.Channel]; ok && subtle.ConstantTimeCompare(e.id.Token[:], id.Token[:]) == 1 {
		delete(r.stacks, id.Channel)
	}
}

// Len returns the number of registered stacks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.stacks)
}

// All returns a snapshot of the registered stacks.
func (r *Registry) All() []*StackHarness {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*StackHarness, 0, len(r.stacks))
	for _, e := range r.stacks {
		out = append(out, e.harness)
	}
	return out
}
