package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vocdoni/fhevm-go/client"
	"github.com/vocdoni/fhevm-go/config"
	"github.com/vocdoni/fhevm-go/coprocessor"
	"github.com/vocdoni/fhevm-go/crypto/signatures/ethereum"
	"github.com/vocdoni/fhevm-go/gateway"
	"github.com/vocdoni/fhevm-go/log"
	"github.com/vocdoni/fhevm-go/types"
	"github.com/vocdoni/fhevm-go/web3"
	"github.com/vocdoni/fhevm-go/web3/rpc"
)

// CLI holds the collaborators shared by the commands.
type CLI struct {
	network config.NetworkConfig
	gw      *gateway.Client
	client  *client.Client
	signer  *ethereum.Signer
	pool    *rpc.Pool
	out     io.Writer
}

// fixedChain is the provider used when no RPC endpoint is configured, it
// reports the network chain id.
type fixedChain uint64

func (f fixedChain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(uint64(f)), nil
}

// NewCLI connects to the gateway and initializes the SDK client.
func NewCLI(ctx context.Context, network config.NetworkConfig, gatewayURL, privKey string, rpcs []string, out io.Writer) (*CLI, error) {
	if gatewayURL != "" {
		network.GatewayURL = gatewayURL
	}
	gw, err := gateway.New(network.GatewayURL)
	if err != nil {
		return nil, err
	}
	cli := &CLI{network: network, gw: gw, out: out}
	if privKey != "" {
		if cli.signer, err = ethereum.NewSignerFromHex(privKey); err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
	}

	var provider web3.Provider = fixedChain(network.ChainID)
	if len(rpcs) > 0 {
		var rpcClient *rpc.Client
		if rpcClient, cli.pool, err = web3.Dial(ctx, rpcs...); err != nil {
			return nil, err
		}
		provider = rpcClient
	} else {
		log.Debugw("no rpc endpoints, trusting the network chain id", "chainId", network.ChainID)
	}

	if cli.client, err = client.New(client.NewConfig(network), client.WithBackend(gw)); err != nil {
		return nil, err
	}
	var signer web3.Signer
	if cli.signer != nil {
		signer = cli.signer
	}
	if err := cli.client.Init(ctx, provider, signer); err != nil {
		cli.Close()
		return nil, fmt.Errorf("could not initialize client: %w", err)
	}
	return cli, nil
}

// Close releases the RPC connections.
func (cli *CLI) Close() {
	if cli.pool != nil {
		cli.pool.Close()
	}
}

func (cli *CLI) print(v any) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (cli *CLI) account() (common.Address, error) {
	if cli.signer == nil {
		return common.Address{}, fmt.Errorf("a private key is required for this command")
	}
	return cli.signer.Address(), nil
}

// Keys prints the network info announced by the gateway.
func (cli *CLI) Keys(ctx context.Context) error {
	info, err := cli.gw.Info(ctx)
	if err != nil {
		return err
	}
	return cli.print(info)
}

// Encrypt encrypts values of the form type:value for contract. The user is
// the signer unless given.
func (cli *CLI) Encrypt(ctx context.Context, contract, user string, values []string) error {
	if user == "" {
		addr, err := cli.account()
		if err != nil {
			return fmt.Errorf("user address: %w", err)
		}
		user = addr.Hex()
	}
	typed := make([]types.TypedValue, 0, len(values))
	for _, v := range values {
		tv, err := parseValue(v)
		if err != nil {
			return err
		}
		typed = append(typed, tv)
	}
	out, err := cli.client.BatchEncrypt(ctx, contract, user, typed...)
	if err != nil {
		return err
	}
	return cli.print(out)
}

// Decrypt user-decrypts handle as the signer.
func (cli *CLI) Decrypt(ctx context.Context, handle, contract string) error {
	user, err := cli.account()
	if err != nil {
		return err
	}
	h, err := types.HexStringToHandle(handle)
	if err != nil {
		return err
	}
	tv, err := cli.client.DecryptOutput(ctx, h, contract, user.Hex())
	if err != nil {
		return err
	}
	return cli.print(map[string]string{"handle": h.String(), "type": tv.Type.String(), "value": plainString(tv)})
}

func plainString(tv types.TypedValue) string {
	switch tv.Type {
	case types.EBool:
		return fmt.Sprint(tv.Bool())
	case types.EAddress:
		return tv.Address().Hex()
	default:
		return tv.Value.String()
	}
}

// PublicDecrypt reads a publicly decryptable handle.
func (cli *CLI) PublicDecrypt(ctx context.Context, handle, contract string) error {
	h, err := types.HexStringToHandle(handle)
	if err != nil {
		return err
	}
	v, err := cli.client.PublicDecrypt(ctx, h, contract)
	if err != nil {
		return err
	}
	return cli.print(map[string]string{"handle": h.String(), "value": v.String()})
}

// Compute evaluates op over two handles owned by the signer.
func (cli *CLI) Compute(ctx context.Context, op, lhs, rhs string) error {
	caller, err := cli.account()
	if err != nil {
		return err
	}
	parsedOp, err := coprocessor.ParseOp(op)
	if err != nil {
		return err
	}
	a, err := types.HexStringToHandle(lhs)
	if err != nil {
		return err
	}
	b, err := types.HexStringToHandle(rhs)
	if err != nil {
		return err
	}
	h, err := cli.gw.Evaluate(ctx, parsedOp, a, b, caller)
	if err != nil {
		return err
	}
	return cli.print(map[string]string{"handle": h.String(), "type": h.Type().String()})
}

// Allow grants address access to handle.
func (cli *CLI) Allow(ctx context.Context, handle, address string) error {
	caller, err := cli.account()
	if err != nil {
		return err
	}
	h, err := types.HexStringToHandle(handle)
	if err != nil {
		return err
	}
	addr, err := types.ParseAddress(address)
	if err != nil {
		return err
	}
	return cli.gw.Allow(ctx, h, addr, caller)
}

// MakePublic marks handle as publicly decryptable.
func (cli *CLI) MakePublic(ctx context.Context, handle string) error {
	caller, err := cli.account()
	if err != nil {
		return err
	}
	h, err := types.HexStringToHandle(handle)
	if err != nil {
		return err
	}
	return cli.gw.MakePubliclyDecryptable(ctx, h, caller)
}

// parseValue parses a type:value pair such as euint32:42, ebool:true or
// eaddress:0x...
func parseValue(s string) (types.TypedValue, error) {
	kind, raw, ok := strings.Cut(s, ":")
	if !ok {
		return types.TypedValue{}, fmt.Errorf("value %q is not in type:value form", s)
	}
	t, err := types.ParseFheType(kind)
	if err != nil {
		return types.TypedValue{}, err
	}
	if t == types.EBool {
		switch strings.ToLower(raw) {
		case "true", "1":
			return types.NewBool(true), nil
		case "false", "0":
			return types.NewBool(false), nil
		default:
			return types.TypedValue{}, fmt.Errorf("%w: %q is not a bool", types.ErrValueOutOfRange, raw)
		}
	}
	return types.NewValue(t, raw)
}
