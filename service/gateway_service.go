// Package service wires the long running components of the gateway node.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/vocdoni/fhevm-go/api"
	"github.com/vocdoni/fhevm-go/coprocessor"
	"github.com/vocdoni/fhevm-go/log"
	"golang.org/x/sync/errgroup"
)

// GatewayService runs the HTTP gateway in front of a coprocessor.
type GatewayService struct {
	coprocessor *coprocessor.Coprocessor
	API         *api.API
	mu          sync.Mutex
	cancel      context.CancelFunc
	group       *errgroup.Group
	host        string
	port        int
}

// NewGateway creates a new GatewayService instance.
func NewGateway(cp *coprocessor.Coprocessor, host string, port int) *GatewayService {
	return &GatewayService{
		coprocessor: cp,
		host:        host,
		port:        port,
	}
}

// Start begins serving the API in the background. It returns an error if the
// service is already running or the API cannot be created.
func (gs *GatewayService) Start(ctx context.Context) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.cancel != nil {
		return fmt.Errorf("service already running")
	}

	var err error
	gs.API, err = api.New(&api.APIConfig{
		Host:        gs.host,
		Port:        gs.port,
		Coprocessor: gs.coprocessor,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	ctx, gs.cancel = context.WithCancel(ctx)
	gs.group, ctx = errgroup.WithContext(ctx)
	gs.group.Go(func() error {
		return gs.API.ListenAndServe(ctx)
	})
	return nil
}

// Wait blocks until the API server stops and returns its error.
func (gs *GatewayService) Wait() error {
	gs.mu.Lock()
	group := gs.group
	gs.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop halts the API server and waits for it to shut down.
func (gs *GatewayService) Stop() {
	gs.mu.Lock()
	cancel, group := gs.cancel, gs.group
	gs.cancel, gs.group = nil, nil
	gs.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if err := group.Wait(); err != nil {
		log.Warnw("gateway stopped with error", "error", err.Error())
	}
}

// HostPort returns the host and port of the API server.
func (gs *GatewayService) HostPort() (string, int) {
	return gs.host, gs.port
}
