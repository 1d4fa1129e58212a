// Package web3 holds the chain facing abstractions used by the SDK: the
// provider that tells which chain we are on, the signer that authorizes
// decryptions and a thin contract wrapper.
package web3

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vocdoni/fhevm-go/crypto/signatures/ethereum"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
	"github.com/vocdoni/fhevm-go/web3/rpc"
)

// Provider reports the chain it is connected to. *ethclient.Client and
// *rpc.Client satisfy it.
type Provider interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Signer signs EIP-712 typed data on behalf of an account.
type Signer interface {
	Address() common.Address
	SignTypedData(td apitypes.TypedData) (types.HexBytes, error)
}

var _ Signer = (*ethereum.Signer)(nil)

var _ Provider = (*rpc.Client)(nil)

const web3QueryTimeout = 10 * time.Second

// Dial registers every endpoint in a new pool and returns a client for
// their chain. Endpoints that cannot be reached are skipped, endpoints
// serving different chains are an error.
func Dial(ctx context.Context, endpoints ...string) (*rpc.Client, *rpc.Pool, error) {
	pool := rpc.NewPool(0)
	var chainID *uint64
	for _, uri := range endpoints {
		cID, err := pool.AddEndpoint(ctx, uri)
		if err != nil {
			log.Warnw("skipping web3 endpoint", "rpc", uri, "error", err)
			continue
		}
		if chainID == nil {
			chainID = &cID
		}
		if *chainID != cID {
			pool.Close()
			return nil, nil, fmt.Errorf("web3 endpoints have different chain IDs: %d and %d", *chainID, cID)
		}
	}
	if chainID == nil {
		return nil, nil, fmt.Errorf("no usable web3 endpoints")
	}
	cli, err := pool.Client(*chainID)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Infow("web3 client initialized", "chainId", *chainID, "numEndpoints", pool.NumberOfEndpoints(*chainID, false))
	return cli, pool, nil
}

// WaitReady polls the provider until it answers with a chain id or ctx is
// done.
func WaitReady(ctx context.Context, p Provider) (uint64, error) {
	const retryInterval = 500 * time.Millisecond
	for {
		qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
		id, err := p.ChainID(qctx)
		cancel()
		if err == nil {
			return id.Uint64(), nil
		}
		log.Debugw("waiting for provider", "error", err)
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("provider not ready: %w", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}
