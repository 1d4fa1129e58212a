package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/vocdoni/fhevm-go/config"
	"github.com/vocdoni/fhevm-go/log"
)

var (
	network    = flag.StringP("network", "n", config.DefaultNetwork, fmt.Sprintf("network to use %v", config.AvailableNetworks()))
	gatewayURL = flag.StringP("gateway", "g", "", "gateway URL (overrides network default)")
	privKey    = flag.StringP("privkey", "k", "", "hex private key of the account signing decryption and ACL requests")
	web3rpcs   = flag.StringSliceP("rpc", "w", nil, "web3 rpc endpoint(s) used to read the chain id, comma-separated")
	user       = flag.StringP("user", "u", "", "user address for encrypt (defaults to the account of --privkey)")
	timeout    = flag.DurationP("timeout", "t", time.Minute, "timeout for the command")
	logLevel   = flag.StringP("log.level", "l", "warn", "log level (debug, info, warn, error, fatal)")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: fhevm-cli [flags] <command> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  keys                                 show the gateway network info\n")
	fmt.Fprintf(os.Stderr, "  encrypt <contract> <type:value>...   encrypt values in a single batch\n")
	fmt.Fprintf(os.Stderr, "  decrypt <handle> <contract>          user decrypt a handle\n")
	fmt.Fprintf(os.Stderr, "  public-decrypt <handle> <contract>   decrypt a publicly decryptable handle\n")
	fmt.Fprintf(os.Stderr, "  compute <op> <lhs> <rhs>             evaluate an operation over two handles\n")
	fmt.Fprintf(os.Stderr, "  allow <handle> <address>             grant access to a handle\n")
	fmt.Fprintf(os.Stderr, "  make-public <handle>                 make a handle publicly decryptable\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  fhevm-cli -n local -k 0x123... encrypt 0xAAAA... euint32:42 ebool:true\n")
	fmt.Fprintf(os.Stderr, "  fhevm-cli -n local -k 0x123... compute add 0x... 0x...\n")
}

func main() {
	flag.Usage = usage
	flag.CommandLine.SortFlags = false
	flag.Parse()
	log.Init(*logLevel, "stderr", nil)

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	netConf, err := config.Network(*network)
	if err != nil {
		log.Fatalf("invalid network: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cli, err := NewCLI(ctx, netConf, *gatewayURL, *privKey, *web3rpcs, os.Stdout)
	if err != nil {
		log.Fatalf("could not start: %v", err)
	}
	defer cli.Close()

	if err := run(ctx, cli, args[0], args[1:]); err != nil {
		log.Errorw(err, args[0]+" failed")
		cli.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cli *CLI, cmd string, args []string) error {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d arguments, got %d", cmd, n, len(args))
		}
		return nil
	}
	switch cmd {
	case "keys":
		return cli.Keys(ctx)
	case "encrypt":
		if err := need(1); err != nil {
			return err
		}
		return cli.Encrypt(ctx, args[0], *user, args[1:])
	case "decrypt":
		if err := need(2); err != nil {
			return err
		}
		return cli.Decrypt(ctx, args[0], args[1])
	case "public-decrypt":
		if err := need(2); err != nil {
			return err
		}
		return cli.PublicDecrypt(ctx, args[0], args[1])
	case "compute":
		if err := need(3); err != nil {
			return err
		}
		return cli.Compute(ctx, args[0], args[1], args[2])
	case "allow":
		if err := need(2); err != nil {
			return err
		}
		return cli.Allow(ctx, args[0], args[1])
	case "make-public":
		if err := need(1); err != nil {
			return err
		}
		return cli.MakePublic(ctx, args[0])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
