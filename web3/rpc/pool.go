// Package rpc balances JSON-RPC calls over several providers per chain,
// retrying on the same endpoint first and then switching to the next one.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vocdoni/fhevm-go/log"
)

// Pool keeps a Rotation of endpoints per chain id.
type Pool struct {
	mtx       sync.RWMutex
	rotations map[uint64]*Rotation
	cooldown  time.Duration
}

// NewPool creates an empty pool. A zero cooldown selects DefaultCooldown.
func NewPool(cooldown time.Duration) *Pool {
	return &Pool{
		rotations: make(map[uint64]*Rotation),
		cooldown:  cooldown,
	}
}

// AddEndpoint dials uri, asks it for its chain id and registers it. The
// chain id is returned.
func (p *Pool) AddEndpoint(ctx context.Context, uri string) (uint64, error) {
	cli, err := ethclient.DialContext(ctx, uri)
	if err != nil {
		return 0, fmt.Errorf("could not dial %s: %w", uri, err)
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return 0, fmt.Errorf("could not get chain id from %s: %w", uri, err)
	}
	p.add(&Endpoint{ChainID: chainID.Uint64(), URI: uri, client: cli})
	log.Infow("web3 endpoint added", "chainId", chainID.Uint64(), "uri", uri)
	return chainID.Uint64(), nil
}

func (p *Pool) add(endpoints ...*Endpoint) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, ep := range endpoints {
		r, ok := p.rotations[ep.ChainID]
		if !ok {
			r = NewRotation(p.cooldown)
			p.rotations[ep.ChainID] = r
		}
		r.Add(ep)
	}
}

func (p *Pool) rotation(chainID uint64) (*Rotation, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	r, ok := p.rotations[chainID]
	return r, ok
}

// Endpoint returns the next endpoint for chainID.
func (p *Pool) Endpoint(chainID uint64) (*Endpoint, error) {
	r, ok := p.rotation(chainID)
	if !ok {
		return nil, fmt.Errorf("no endpoints for chain %d", chainID)
	}
	return r.Next()
}

// DisableEndpoint takes uri out of the rotation of chainID for a cooldown.
func (p *Pool) DisableEndpoint(chainID uint64, uri string) {
	if r, ok := p.rotation(chainID); ok {
		r.Disable(uri)
	}
}

// NumberOfEndpoints returns how many endpoints serve chainID, only counting
// those in the rotation when onlyAvailable is set.
func (p *Pool) NumberOfEndpoints(chainID uint64, onlyAvailable bool) int {
	r, ok := p.rotation(chainID)
	if !ok {
		return 0
	}
	if onlyAvailable {
		return r.Available()
	}
	return r.Available() + r.Disabled()
}

// Client returns a bind.ContractBackend balancing over the endpoints of
// chainID.
func (p *Pool) Client(chainID uint64) (*Client, error) {
	if p.NumberOfEndpoints(chainID, false) == 0 {
		return nil, fmt.Errorf("no endpoints for chain %d", chainID)
	}
	return &Client{pool: p, chainID: chainID}, nil
}

// Close closes every dialed endpoint.
func (p *Pool) Close() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, r := range p.rotations {
		for _, ep := range r.endpoints() {
			if ep.client != nil {
				ep.client.Close()
			}
		}
	}
	p.rotations = make(map[uint64]*Rotation)
}
