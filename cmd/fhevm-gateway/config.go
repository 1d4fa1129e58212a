package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/vocdoni/fhevm-go/config"
)

const (
	defaultAPIHost   = "0.0.0.0"
	defaultAPIPort   = 9090
	defaultLogLevel  = "info"
	defaultLogOutput = "stdout"
	defaultDatadir   = ".fhevm-gateway" // Will be prefixed with user's home directory
)

// Version is the build version, set at build time with -ldflags
var Version = "dev"

// Config holds the application configuration
type Config struct {
	Web3        Web3Config
	API         APIConfig
	Coprocessor CoprocessorConfig
	Log         LogConfig
	Datadir     string
}

// Web3Config holds the network related configuration
type Web3Config struct {
	Network       string   `mapstructure:"network"`
	Rpc           []string `mapstructure:"rpc"`
	ACLAddr       string   `mapstructure:"acl"`
	KMSAddr       string   `mapstructure:"kms"`
	InputVerifier string   `mapstructure:"inputverifier"`
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// CoprocessorConfig holds the mock coprocessor configuration
type CoprocessorConfig struct {
	Signers []string `mapstructure:"signers"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	v.SetDefault("web3.network", config.DefaultNetwork)
	v.SetDefault("web3.rpc", []string{})
	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("coprocessor.signers", []string{})
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)

	flag.StringP("web3.network", "n", config.DefaultNetwork, fmt.Sprintf("network to serve %v", config.AvailableNetworks()))
	flag.StringSliceP("web3.rpc", "w", []string{}, "web3 rpc endpoint(s) used to check the chain id, comma-separated")
	flag.String("web3.acl", "", "custom ACL contract address (overrides network default)")
	flag.String("web3.kms", "", "custom KMS verifier contract address (overrides network default)")
	flag.String("web3.inputverifier", "", "custom input verifier contract address (overrides network default)")
	flag.StringP("api.host", "a", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.StringSliceP("coprocessor.signers", "s", []string{}, "hex private keys of the input proof signers, a random one is used if empty")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for the ciphertext database, empty for in-memory")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fhevm-gateway v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: fhevm-gateway [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, FHEVM_WEB3_NETWORK or FHEVM_API_PORT\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Serve the local network on port 9090\n")
		fmt.Fprintf(os.Stderr, "  fhevm-gateway --web3.network=local\n\n")
		fmt.Fprintf(os.Stderr, "  # Check the chain id against custom RPC endpoints\n")
		fmt.Fprintf(os.Stderr, "  fhevm-gateway --web3.network=sepolia --web3.rpc=https://rpc1.com,https://rpc2.com\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("FHEVM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if !slices.Contains(config.AvailableNetworks(), cfg.Web3.Network) {
		return fmt.Errorf("invalid network %s, available networks: %v", cfg.Web3.Network, config.AvailableNetworks())
	}
	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("invalid API port %d", cfg.API.Port)
	}
	return nil
}
