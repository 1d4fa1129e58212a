// Package config holds the per-network presets: chain id, default RPC, the
// fhEVM contract addresses and the gateway URL.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// NetworkConfig describes a network the SDK can be pointed at.
type NetworkConfig struct {
	ChainID                      uint64
	Name                         string
	RPCURL                       string
	GatewayURL                   string
	ACLContractAddress           string
	KMSVerifierContractAddress   string
	InputVerifierContractAddress string
}

const (
	// SepoliaNetwork is the fhEVM testnet on Sepolia.
	SepoliaNetwork = "sepolia"
	// LocalNetwork is a development node with a local gateway.
	LocalNetwork = "local"

	// DefaultNetwork is used by the commands when none is given.
	DefaultNetwork = SepoliaNetwork
)

// DefaultConfig contains the presets by network short name.
var DefaultConfig = map[string]NetworkConfig{
	SepoliaNetwork: {
		ChainID:                      11155111,
		Name:                         "Sepolia",
		RPCURL:                       "https://ethereum-sepolia-rpc.publicnode.com",
		GatewayURL:                   "https://relayer.testnet.zama.cloud",
		ACLContractAddress:           "0x687820221192C5B662b25367F70076A37bc79b6c",
		KMSVerifierContractAddress:   "0x1364cBBf2cDF5032C47d8226a6f6FBD2AFCDacAC",
		InputVerifierContractAddress: "0xbc91f3daD1A5F19F8390c400196e58073B6a0BC4",
	},
	LocalNetwork: {
		ChainID:                      31337,
		Name:                         "Hardhat",
		RPCURL:                       "http://127.0.0.1:8545",
		GatewayURL:                   "http://127.0.0.1:9090",
		ACLContractAddress:           "0x50157CFfD6bBFA2DECe204a89ec419c23ef5755D",
		KMSVerifierContractAddress:   "0x901F8942346f7AB3a01F6D7613119Bca447Bb030",
		InputVerifierContractAddress: "0x36772142b74871f255CbD7A3e89B401d3e45825f",
	},
}

// AvailableNetworks returns the preset names, sorted.
func AvailableNetworks() []string {
	names := make([]string, 0, len(DefaultConfig))
	for name := range DefaultConfig {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Network returns the preset for name, matched case-insensitively.
func Network(name string) (NetworkConfig, error) {
	cfg, ok := DefaultConfig[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unknown network %q, available: %s",
			name, strings.Join(AvailableNetworks(), ", "))
	}
	return cfg, nil
}

// NetworkByChainID returns the preset serving chainID.
func NetworkByChainID(chainID uint64) (NetworkConfig, bool) {
	for _, cfg := range DefaultConfig {
		if cfg.ChainID == chainID {
			return cfg, true
		}
	}
	return NetworkConfig{}, false
}
