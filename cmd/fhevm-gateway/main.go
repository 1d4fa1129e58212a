package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/fhevm-go/config"
	"github.com/vocdoni/fhevm-go/coprocessor"
	"github.com/vocdoni/fhevm-go/crypto/keypair"
	"github.com/vocdoni/fhevm-go/crypto/signatures/ethereum"
	"github.com/vocdoni/fhevm-go/db"
	"github.com/vocdoni/fhevm-go/db/pebbledb"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/service"
	"github.com/vocdoni/fhevm-go/storage"
	"github.com/vocdoni/fhevm-go/types"
	"github.com/vocdoni/fhevm-go/web3"
)

const rpcCheckTimeout = 30 * time.Second

// networkKeyOwner is the keypair store slot of the network key.
var networkKeyOwner = common.Address{}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting fhevm-gateway", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	network, err := networkConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to load network configuration: %v", err)
	}
	if len(cfg.Web3.Rpc) > 0 {
		if err := checkChainID(ctx, network.ChainID, cfg.Web3.Rpc); err != nil {
			log.Fatalf("RPC check failed: %v", err)
		}
	}

	log.Infow("initializing storage", "datadir", cfg.Datadir)
	database, err := pebbledb.New(db.Options{Path: cfg.Datadir})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	st := storage.New(database)
	defer st.Close()

	cp, err := newCoprocessor(st, network, cfg.Coprocessor.Signers)
	if err != nil {
		log.Fatalf("Failed to create coprocessor: %v", err)
	}

	gw := service.NewGateway(cp, cfg.API.Host, cfg.API.Port)
	if err := gw.Start(ctx); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}
	defer gw.Stop()
	log.Infow("fhevm-gateway is running", "network", network.Name, "chainId", network.ChainID)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Wait() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infow("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Errorw(err, "gateway stopped")
		}
	}
}

// networkConfig returns the selected network preset with the custom contract
// addresses applied.
func networkConfig(cfg *Config) (config.NetworkConfig, error) {
	network, err := config.Network(cfg.Web3.Network)
	if err != nil {
		return config.NetworkConfig{}, err
	}
	for _, o := range []struct {
		name  string
		value string
		dst   *string
	}{
		{"acl", cfg.Web3.ACLAddr, &network.ACLContractAddress},
		{"kms", cfg.Web3.KMSAddr, &network.KMSVerifierContractAddress},
		{"inputverifier", cfg.Web3.InputVerifier, &network.InputVerifierContractAddress},
	} {
		if o.value == "" {
			continue
		}
		if _, err := types.ParseAddress(o.value); err != nil {
			return config.NetworkConfig{}, fmt.Errorf("%s: %w", o.name, err)
		}
		*o.dst = o.value
	}
	log.Infow("using contract addresses",
		"network", network.Name,
		"acl", network.ACLContractAddress,
		"kmsVerifier", network.KMSVerifierContractAddress,
		"inputVerifier", network.InputVerifierContractAddress)
	return network, nil
}

// checkChainID makes sure the RPC endpoints serve the network chain.
func checkChainID(ctx context.Context, chainID uint64, endpoints []string) error {
	ctx, cancel := context.WithTimeout(ctx, rpcCheckTimeout)
	defer cancel()
	cli, pool, err := web3.Dial(ctx, endpoints...)
	if err != nil {
		return err
	}
	defer pool.Close()
	got, err := web3.WaitReady(ctx, cli)
	if err != nil {
		return err
	}
	if got != chainID {
		return fmt.Errorf("rpc endpoints serve chain %d, network is %d", got, chainID)
	}
	log.Infow("rpc endpoints ready", "chainId", got, "endpoints", len(endpoints))
	return nil
}

// newCoprocessor creates the coprocessor, reusing the network key kept in
// storage so sealed inputs survive restarts.
func newCoprocessor(st *storage.Storage, network config.NetworkConfig, signerKeys []string) (*coprocessor.Coprocessor, error) {
	netKey, err := st.Keypairs().Get(networkKeyOwner)
	if errors.Is(err, keypair.ErrNotFound) {
		if netKey, err = keypair.Generate(); err != nil {
			return nil, err
		}
		if err := st.Keypairs().Put(networkKeyOwner, netKey); err != nil {
			return nil, fmt.Errorf("could not store network key: %w", err)
		}
		log.Infow("network key generated")
	} else if err != nil {
		return nil, fmt.Errorf("could not load network key: %w", err)
	}

	var signers []*ethereum.Signer
	for i, k := range signerKeys {
		s, err := ethereum.NewSignerFromHex(k)
		if err != nil {
			return nil, fmt.Errorf("signer %d: %w", i, err)
		}
		signers = append(signers, s)
	}
	if len(signers) == 0 {
		log.Warnw("no signers configured, using a random one: input proofs will not verify after restart")
	}

	cp, err := coprocessor.New(st, coprocessor.Config{
		ChainID:              network.ChainID,
		ACLAddress:           common.HexToAddress(network.ACLContractAddress),
		KMSVerifierAddress:   common.HexToAddress(network.KMSVerifierContractAddress),
		InputVerifierAddress: common.HexToAddress(network.InputVerifierContractAddress),
		Signers:              signers,
		NetworkKey:           netKey,
	})
	if err != nil {
		return nil, err
	}
	info, err := cp.Info(context.Background())
	if err != nil {
		return nil, err
	}
	for _, s := range info.Signers {
		log.Infow("coprocessor signer", "address", s.Hex())
	}
	return cp, nil
}
