package rpc

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// DefaultCooldown is how long a failing endpoint stays out of the rotation.
const DefaultCooldown = 5 * time.Minute

// Endpoint is a JSON-RPC provider serving a chain.
type Endpoint struct {
	ChainID    uint64
	URI        string
	client     *ethclient.Client
	disabledAt time.Time
}

// Client returns the underlying ethclient, nil for endpoints that were not
// dialed.
func (e *Endpoint) Client() *ethclient.Client {
	return e.client
}

// Rotation hands out the endpoints of a chain in round-robin order.
// Disabled endpoints come back once their cooldown has elapsed, or as soon
// as every endpoint of the chain is disabled.
type Rotation struct {
	mtx       sync.Mutex
	next      int
	available []*Endpoint
	disabled  []*Endpoint
	cooldown  time.Duration
	now       func() time.Time
}

// NewRotation creates a rotation over endpoints.
func NewRotation(cooldown time.Duration, endpoints ...*Endpoint) *Rotation {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Rotation{
		available: append([]*Endpoint{}, endpoints...),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Available returns the number of endpoints in the rotation.
func (r *Rotation) Available() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.available)
}

// Disabled returns the number of endpoints cooling down.
func (r *Rotation) Disabled() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.disabled)
}

// Add puts endpoints in the rotation.
func (r *Rotation) Add(endpoints ...*Endpoint) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.available = append(r.available, endpoints...)
}

// Next returns the next endpoint of the rotation.
func (r *Rotation) Next() (*Endpoint, error) {
	if r == nil {
		return nil, fmt.Errorf("nil rotation")
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.restoreCooledDown()
	if len(r.available) == 0 {
		return nil, fmt.Errorf("no registered endpoints")
	}
	if r.next >= len(r.available) {
		r.next = 0
	}
	ep := r.available[r.next]
	r.next = (r.next + 1) % len(r.available)
	return ep, nil
}

// restoreCooledDown must be called with the mutex held.
func (r *Rotation) restoreCooledDown() {
	if len(r.disabled) == 0 {
		return
	}
	now := r.now()
	kept := r.disabled[:0]
	for _, ep := range r.disabled {
		if now.Sub(ep.disabledAt) >= r.cooldown {
			ep.disabledAt = time.Time{}
			r.available = append(r.available, ep)
			continue
		}
		kept = append(kept, ep)
	}
	r.disabled = kept
}

// Disable takes the endpoint with the given URI out of the rotation. When it
// was the last one available, every endpoint of the rotation is restored.
func (r *Rotation) Disable(uri string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	index := -1
	for i, ep := range r.available {
		if ep.URI == uri {
			index = i
			break
		}
	}
	if index == -1 {
		return
	}
	ep := r.available[index]
	ep.disabledAt = r.now()
	r.available = append(r.available[:index], r.available[index+1:]...)
	r.disabled = append(r.disabled, ep)
	if r.next > index {
		r.next--
	}

	if len(r.available) == 0 {
		for _, ep := range r.disabled {
			ep.disabledAt = time.Time{}
		}
		r.available, r.disabled = r.disabled, nil
		r.next = 0
	} else if r.next >= len(r.available) {
		r.next = 0
	}
}

func (r *Rotation) endpoints() []*Endpoint {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	all := append([]*Endpoint{}, r.available...)
	return append(all, r.disabled...)
}
