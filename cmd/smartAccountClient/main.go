package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"os"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/capability"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/chain"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/chainIdentifier"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/logger"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/messaging"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network/httpNetwork"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network/localNetwork"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/signatureVerifier"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/signingRouter"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/smartAccount"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/thresholdSigner"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const defaultMessage = "hello world"

func main() {
	app := &cli.App{
		Name:    "smart-account-client",
		Usage:   "Derive, sign with and verify Kernel smart accounts owned by custodied keys",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "network",
				Aliases: []string{"env"},
				Usage:   "Threshold network environment (local, dev, test, production)",
				Value:   string(config.NetworkEnvironment_Local),
				EnvVars: []string{config.EnvNetworkEnvironment},
			},
			&cli.StringFlag{
				Name:    "node-url",
				Usage:   "Signer node URL, required for remote networks",
				EnvVars: []string{config.EnvNodeURL},
			},
			&cli.StringFlag{
				Name:    "rpc-url",
				Aliases: []string{"rpc"},
				Usage:   "Ethereum RPC endpoint URL",
				Value:   "http://localhost:8545",
				EnvVars: []string{config.EnvChainRpcURL},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Usage:   fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				Value:   uint64(config.ChainId_EthereumSepolia),
				EnvVars: []string{config.EnvChainID},
			},
			&cli.StringFlag{
				Name:    "entry-point-version",
				Usage:   "ERC-4337 entry point version",
				Value:   string(config.EntryPointVersion_V07),
				EnvVars: []string{config.EnvEntryPointVersion},
			},
			&cli.StringFlag{
				Name:    "account-version",
				Usage:   "Kernel account version",
				Value:   string(config.AccountVersion_Kernel_V3_1),
				EnvVars: []string{config.EnvAccountVersion},
			},
			&cli.Uint64Flag{
				Name:  "account-index",
				Usage: "Account index for the owner",
			},
			&cli.StringFlag{
				Name:    "controller-private-key",
				Usage:   "Controller identity (hex). An ephemeral key is used on the local network when empty",
				EnvVars: []string{config.EnvControllerPrivateKey},
			},
			&cli.StringFlag{
				Name:    "key-id",
				Usage:   "Custodied key to sign with. A key is minted on the local network when empty",
				EnvVars: []string{config.EnvCustodiedKeyID},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvDebug},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "derive",
				Usage:  "Print the smart account address of the custodied key",
				Action: deriveCommand,
			},
			{
				Name:  "sign",
				Usage: "Sign a message as the smart account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Value: defaultMessage, Usage: "Message to sign"},
				},
				Action: signCommand,
			},
			{
				Name:  "sign-typed-data",
				Usage: "Sign EIP-712 typed data read from a JSON file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Typed data JSON file"},
				},
				Action: signTypedDataCommand,
			},
			{
				Name:  "verify",
				Usage: "Verify a message signature for an account, deployed or not",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Required: true, Usage: "Account address"},
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Value: defaultMessage, Usage: "Signed message"},
					&cli.StringFlag{Name: "signature", Aliases: []string{"sig"}, Required: true, Usage: "Signature (hex)"},
				},
				Action: verifyCommand,
			},
			{
				Name:  "sign-and-verify",
				Usage: "Sign a message as the smart account and verify it against the chain",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Value: defaultMessage, Usage: "Message to sign"},
				},
				Action: signAndVerifyCommand,
			},
			{
				Name:  "validate-id",
				Usage: "Check a scw:eip155:<chainId>:<address> identifier",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true, Usage: "Identifier to validate"},
				},
				Action: validateIdCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func parseClientConfig(c *cli.Context) *config.ClientConfig {
	return &config.ClientConfig{
		NetworkEnvironment: config.NetworkEnvironment(c.String("network")),
		NodeURL:            c.String("node-url"),
		ChainRpcURL:        c.String("rpc-url"),
		ChainID:            config.ChainId(c.Uint64("chain-id")),
		EntryPointVersion:  config.EntryPointVersion(c.String("entry-point-version")),
		AccountVersion:     config.AccountVersion(c.String("account-version")),
		AccountIndex:       c.Uint64("account-index"),
		Debug:              c.Bool("verbose"),
	}
}

// clientContext holds the wiring shared by every command
type clientContext struct {
	cfg     *config.ClientConfig
	logger  *zap.Logger
	reader  chain.IChainReader
	factory *smartAccount.Factory
}

func newClientContext(c *cli.Context) (*clientContext, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	cfg := parseClientConfig(c)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	reader, err := chain.NewChainReader(cfg.ChainRpcURL, l)
	if err != nil {
		return nil, err
	}
	if err := chain.CheckChainID(c.Context, reader, new(big.Int).SetUint64(uint64(cfg.ChainID))); err != nil {
		return nil, err
	}

	factory, err := smartAccount.NewFactory(c.Context, &smartAccount.FactoryConfig{
		EntryPointVersion: cfg.EntryPointVersion,
		AccountVersion:    cfg.AccountVersion,
	}, reader, l)
	if err != nil {
		return nil, err
	}

	return &clientContext{cfg: cfg, logger: l, reader: reader, factory: factory}, nil
}

func controllerIdentity(c *cli.Context, cfg *config.ClientConfig, l *zap.Logger) (*ecdsa.PrivateKey, error) {
	raw := c.String("controller-private-key")
	if raw != "" {
		key, err := crypto.HexToECDSA(trimHexPrefix(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid controller private key: %w", err)
		}
		return key, nil
	}
	if cfg.NetworkEnvironment.IsRemote() {
		return nil, fmt.Errorf("controller private key is required for network %s", cfg.NetworkEnvironment)
	}
	l.Sugar().Warn("Using an ephemeral controller identity")
	return crypto.GenerateKey()
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// resolveKeyHandle loads keyId, or on the in-process network mints a key controller may use
func resolveKeyHandle(ctx context.Context, net network.INetwork, keyId string, controller common.Address) (*types.CustodiedKeyHandle, error) {
	if keyId != "" {
		return net.GetKeyHandle(ctx, keyId)
	}
	local, ok := net.(*localNetwork.LocalNetwork)
	if !ok {
		return nil, fmt.Errorf("key id is required for remote networks")
	}
	return local.MintKey(ctx, "smart-account-client", controller)
}

// newAccount authenticates the controller, opens a session over the custodied key and
// derives the Kernel account it owns.
func (cc *clientContext) newAccount(c *cli.Context) (*smartAccount.SmartAccount, error) {
	ctx := c.Context

	net, err := httpNetwork.Connect(ctx, cc.cfg, cc.logger)
	if err != nil {
		return nil, err
	}
	identity, err := controllerIdentity(c, cc.cfg, cc.logger)
	if err != nil {
		return nil, err
	}
	handle, err := resolveKeyHandle(ctx, net, c.String("key-id"), crypto.PubkeyToAddress(identity.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve custodied key: %w", err)
	}

	issuer, err := capability.NewIssuer(net, cc.logger)
	if err != nil {
		return nil, err
	}
	proof, err := issuer.Authenticate(ctx, identity)
	if err != nil {
		return nil, err
	}
	grant, err := issuer.IssueCapability(ctx, proof, []types.ResourceAbility{
		capability.AccountSigning(types.ExactPattern(types.ResourceKind_CustodiedKey, handle.KeyId)),
	}, types.ValidityWindow{})
	if err != nil {
		return nil, err
	}

	signer, err := thresholdSigner.NewThresholdSigner(net, handle, cc.logger)
	if err != nil {
		return nil, err
	}

	return cc.factory.DeriveAccount(ctx, smartAccount.ValidatorConfig{
		Signer:            signingRouter.AdaptSigner(signer, grant),
		EntryPointVersion: cc.cfg.EntryPointVersion,
		AccountVersion:    cc.cfg.AccountVersion,
		Index:             cc.cfg.AccountIndex,
	}, cc.factory.ChainContext())
}

func deriveCommand(c *cli.Context) error {
	cc, err := newClientContext(c)
	if err != nil {
		return err
	}
	defer func() { _ = cc.logger.Sync() }()

	account, err := cc.newAccount(c)
	if err != nil {
		return err
	}
	deployed, err := account.IsDeployed(c.Context)
	if err != nil {
		return err
	}

	fmt.Printf("Owner:      %s\n", account.Owner().Hex())
	fmt.Printf("Account:    %s\n", account.Address().Hex())
	fmt.Printf("Identifier: %s\n", chainIdentifier.Format(account.ChainID(), account.Address()))
	fmt.Printf("Deployed:   %t\n", deployed)
	return nil
}

func signCommand(c *cli.Context) error {
	cc, err := newClientContext(c)
	if err != nil {
		return err
	}
	defer func() { _ = cc.logger.Sync() }()

	account, err := cc.newAccount(c)
	if err != nil {
		return err
	}
	sig, err := cc.factory.AccountSign(c.Context, account, []byte(c.String("message")))
	if err != nil {
		return err
	}

	fmt.Printf("Account:   %s\n", account.Address().Hex())
	fmt.Printf("Mode:      %s\n", sig.Mode)
	fmt.Printf("Signature: %s\n", sig.Hex())
	return nil
}

func signTypedDataCommand(c *cli.Context) error {
	cc, err := newClientContext(c)
	if err != nil {
		return err
	}
	defer func() { _ = cc.logger.Sync() }()

	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("failed to read typed data: %w", err)
	}
	var typedData apitypes.TypedData
	if err := json.Unmarshal(data, &typedData); err != nil {
		return fmt.Errorf("failed to parse typed data: %w", err)
	}

	account, err := cc.newAccount(c)
	if err != nil {
		return err
	}
	sig, err := cc.factory.AccountSignTypedData(c.Context, account, &typedData)
	if err != nil {
		return err
	}

	fmt.Printf("Account:   %s\n", account.Address().Hex())
	fmt.Printf("Mode:      %s\n", sig.Mode)
	fmt.Printf("Signature: %s\n", sig.Hex())
	return nil
}

func verifyCommand(c *cli.Context) error {
	cc, err := newClientContext(c)
	if err != nil {
		return err
	}
	defer func() { _ = cc.logger.Sync() }()

	accountHex := c.String("account")
	if !common.IsHexAddress(accountHex) {
		return fmt.Errorf("invalid account address: %s", accountHex)
	}
	sig, err := hexutil.Decode(c.String("signature"))
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	valid, err := cc.verify(c.Context, common.HexToAddress(accountHex), []byte(c.String("message")), sig)
	if err != nil {
		return err
	}
	fmt.Printf("Valid: %t\n", valid)
	return nil
}

func signAndVerifyCommand(c *cli.Context) error {
	cc, err := newClientContext(c)
	if err != nil {
		return err
	}
	defer func() { _ = cc.logger.Sync() }()

	account, err := cc.newAccount(c)
	if err != nil {
		return err
	}

	// sign through a messaging identity so the account id round trips
	identity, err := messaging.NewIdentity(c.Context, chainIdentifier.Format(account.ChainID(), account.Address()), account)
	if err != nil {
		return err
	}
	message := []byte(c.String("message"))
	sig, err := identity.SignMessage(c.Context, message)
	if err != nil {
		return err
	}

	valid, err := cc.verify(c.Context, account.Address(), message, sig)
	if err != nil {
		return err
	}

	fmt.Printf("Identifier: %s\n", identity.Identifier())
	fmt.Printf("Signature:  %s\n", hexutil.Encode(sig))
	fmt.Printf("Valid:      %t\n", valid)
	if !valid {
		return fmt.Errorf("signature did not verify for %s", account.Address().Hex())
	}
	return nil
}

func (cc *clientContext) verify(ctx context.Context, account common.Address, message []byte, sig []byte) (bool, error) {
	verifier, err := signatureVerifier.NewVerifier(cc.reader, cc.logger)
	if err != nil {
		return false, err
	}
	return verifier.Verify(ctx, account, common.BytesToHash(accounts.TextHash(message)), sig, cc.factory.ChainContext())
}

func validateIdCommand(c *cli.Context) error {
	id := c.String("id")
	if err := chainIdentifier.Parse(id); err != nil {
		fmt.Printf("Invalid: %v\n", err)
		return cli.Exit("", 1)
	}
	fmt.Println("Valid")
	return nil
}
