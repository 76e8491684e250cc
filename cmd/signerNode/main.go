package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	signerAws "github.com/Layr-Labs/eigenx-session-signer/internal/aws"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody/awsKmsCustodian"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody/localCustodian"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/logger"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network/localNetwork"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/node"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence/badger"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence/memory"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence/redis"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const defaultKeyName = "session-signer"

func main() {
	app := &cli.App{
		Name:  "signer-node",
		Usage: "EigenX session signer node",
		Description: `A reference signer node that custodies account keys and signs under session capabilities.

This server implements:
- Controller authentication and session capability issuance
- Grant checked signing of digests and raw messages
- Session revocation and expiry pruning`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultSignerNodePort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvNodePort},
			},
			&cli.Uint64Flag{
				Name:    "chain-id",
				Aliases: []string{"chain"},
				Value:   uint64(config.ChainId_EthereumSepolia),
				Usage:   fmt.Sprintf("Ethereum chain ID: %s", config.GetSupportedChainIDsString()),
				EnvVars: []string{config.EnvChainID},
			},
			&cli.StringFlag{
				Name:    "issuer",
				Usage:   "Issuer claim for session tokens",
				Value:   config.DefaultSignerNodeIssuer,
				EnvVars: []string{config.EnvNodeIssuer},
			},
			&cli.StringFlag{
				Name:    "custody",
				Usage:   "Key custody backend (local, aws-kms)",
				Value:   string(config.CustodyType_Local),
				EnvVars: []string{config.EnvNodeCustodyType},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "AWS region for KMS custody",
				EnvVars: []string{config.EnvNodeAWSRegion},
			},
			&cli.StringFlag{
				Name:    "aws-kms-key-id",
				Usage:   "Existing KMS key to serve. A new key is minted when empty",
				EnvVars: []string{config.EnvNodeAWSKMSKeyID},
			},
			&cli.StringFlag{
				Name:    "persistence",
				Usage:   "Session store (memory, badger, redis)",
				Value:   string(config.PersistenceType_Memory),
				EnvVars: []string{config.EnvNodePersistenceType},
			},
			&cli.StringFlag{
				Name:    "badger-path",
				Usage:   "Data directory for badger persistence",
				EnvVars: []string{config.EnvNodeBadgerPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis host:port for redis persistence",
				EnvVars: []string{config.EnvNodeRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password",
				EnvVars: []string{config.EnvNodeRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number",
				EnvVars: []string{config.EnvNodeRedisDB},
			},
			&cli.StringSliceFlag{
				Name:    "permitted-controller",
				Usage:   "Controller address allowed to authenticate and sign with the served key (repeatable)",
				EnvVars: []string{config.EnvNodePermittedControllers},
			},
			&cli.DurationFlag{
				Name:  "default-session-ttl",
				Usage: "Session length when the controller does not request a window",
				Value: config.DefaultSessionTTL,
			},
			&cli.DurationFlag{
				Name:  "max-session-ttl",
				Usage: "Longest session window the node grants",
				Value: config.MaxSessionTTL,
			},
			&cli.Float64Flag{
				Name:  "sign-rate-limit",
				Usage: "Signatures per second allowed per controller",
				Value: config.DefaultSignRateLimit,
			},
			&cli.IntFlag{
				Name:  "sign-rate-burst",
				Usage: "Signature burst allowed per controller",
				Value: config.DefaultSignRateBurst,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvDebug},
			},
		},
		Action: runSignerNode,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runSignerNode(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: c.Bool("verbose")})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	nodeConfig := parseSignerNodeConfig(c)
	if err := nodeConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	l.Sugar().Infow("Using chain", "name", config.ChainIdToName[nodeConfig.ChainID], "chain_id", nodeConfig.ChainID)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	custodian, err := newCustodian(ctx, nodeConfig, l)
	if err != nil {
		return err
	}

	store, err := newSessionStore(nodeConfig, l)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	netConfig := localNetwork.NewDefaultConfig()
	netConfig.Issuer = nodeConfig.Issuer
	netConfig.DefaultSessionTTL = nodeConfig.DefaultSessionTTL
	netConfig.MaxSessionTTL = nodeConfig.MaxSessionTTL
	netConfig.SignRateLimit = nodeConfig.SignRateLimit
	netConfig.SignRateBurst = nodeConfig.SignRateBurst

	net, err := localNetwork.NewLocalNetwork(netConfig, custodian, store, l)
	if err != nil {
		return fmt.Errorf("failed to create signer network: %w", err)
	}

	handle, err := resolveKey(ctx, net, nodeConfig)
	if err != nil {
		return err
	}
	address, err := handle.Address()
	if err != nil {
		return err
	}
	controllers := nodeConfig.PermittedControllerAddresses()
	net.PermitControllers(handle.KeyId, controllers...)
	l.Sugar().Infow("Serving custodied key", "key_id", handle.KeyId, "address", address.Hex(), "permitted_controllers", len(controllers))

	n, err := node.NewNode(node.Config{Port: nodeConfig.Port, Logger: l}, net)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	l.Sugar().Infow("Signer node running", "port", nodeConfig.Port, "custody", nodeConfig.CustodyType, "persistence", nodeConfig.PersistenceType)
	l.Sugar().Infow("Available endpoints",
		"auth", "GET /nonce, POST /auth",
		"session", "POST /session, POST /session/revoke",
		"sign", "POST /sign",
		"keys", "GET /keys/{keyId}, GET /.well-known/jwks.json")
	l.Sugar().Info("Press Ctrl+C to stop")

	<-ctx.Done()
	l.Sugar().Info("Shutting down signer node")
	return n.Stop()
}

func parseSignerNodeConfig(c *cli.Context) *config.SignerNodeConfig {
	return &config.SignerNodeConfig{
		Port:                 c.Int("port"),
		ChainID:              config.ChainId(c.Uint64("chain-id")),
		Issuer:               c.String("issuer"),
		CustodyType:          config.CustodyType(c.String("custody")),
		AWSRegion:            c.String("aws-region"),
		AWSKMSKeyID:          c.String("aws-kms-key-id"),
		PersistenceType:      config.PersistenceType(c.String("persistence")),
		BadgerPath:           c.String("badger-path"),
		RedisAddress:         c.String("redis-address"),
		RedisPassword:        c.String("redis-password"),
		RedisDB:              c.Int("redis-db"),
		PermittedControllers: c.StringSlice("permitted-controller"),
		DefaultSessionTTL:    c.Duration("default-session-ttl"),
		MaxSessionTTL:        c.Duration("max-session-ttl"),
		SignRateLimit:        c.Float64("sign-rate-limit"),
		SignRateBurst:        c.Int("sign-rate-burst"),
		Debug:                c.Bool("verbose"),
	}
}

func newCustodian(ctx context.Context, cfg *config.SignerNodeConfig, l *zap.Logger) (custody.ICustodian, error) {
	if cfg.CustodyType != config.CustodyType_AWSKMS {
		l.Sugar().Warn("Using local key custody, keys are lost on restart")
		return localCustodian.NewLocalCustodian(l), nil
	}

	awsCfg, err := signerAws.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	identity, err := signerAws.GetCallerIdentity(ctx, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve AWS caller identity: %w", err)
	}
	l.Sugar().Infow("Using AWS KMS custody", "region", awsCfg.Region, "caller_arn", aws.ToString(identity.Arn))

	return awsKmsCustodian.NewAWSKMSCustodian(awsCfg, string(config.ChainIdToName[cfg.ChainID]), l), nil
}

func newSessionStore(cfg *config.SignerNodeConfig, l *zap.Logger) (persistence.ISessionPersistence, error) {
	switch cfg.PersistenceType {
	case config.PersistenceType_Badger:
		return badger.NewBadgerPersistence(cfg.BadgerPath, l)
	case config.PersistenceType_Redis:
		return redis.NewRedisPersistence(&redis.RedisConfig{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, l)
	default:
		return memory.NewMemoryPersistence(), nil
	}
}

func resolveKey(ctx context.Context, net *localNetwork.LocalNetwork, cfg *config.SignerNodeConfig) (*types.CustodiedKeyHandle, error) {
	if cfg.CustodyType == config.CustodyType_AWSKMS && cfg.AWSKMSKeyID != "" {
		handle, err := net.GetKeyHandle(ctx, cfg.AWSKMSKeyID)
		if err != nil {
			return nil, fmt.Errorf("failed to load KMS key %s: %w", cfg.AWSKMSKeyID, err)
		}
		return handle, nil
	}
	handle, err := net.MintKey(ctx, defaultKeyName)
	if err != nil {
		return nil, fmt.Errorf("failed to mint custodied key: %w", err)
	}
	return handle, nil
}
