package httpNetwork

import (
	"context"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody/localCustodian"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/network/localNetwork"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence/memory"
	"go.uber.org/zap"
)

// DefaultJWKSRefreshInterval is used for remote environments
const DefaultJWKSRefreshInterval = 15 * time.Minute

// Connect returns the threshold network selected by cfg.NetworkEnvironment. The local
// environment runs an in-process network with ephemeral keys; every other environment
// is reached through its signer node.
func Connect(ctx context.Context, cfg *config.ClientConfig, logger *zap.Logger) (network.INetwork, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if !cfg.NetworkEnvironment.IsRemote() {
		logger.Sugar().Infow("Using in-process signer network", "environment", cfg.NetworkEnvironment)
		net, err := localNetwork.NewLocalNetwork(
			localNetwork.NewDefaultConfig(),
			localCustodian.NewLocalCustodian(logger),
			memory.NewMemoryPersistence(),
			logger,
		)
		if err != nil {
			return nil, err
		}
		return net, nil
	}

	logger.Sugar().Infow("Connecting to signer node", "environment", cfg.NetworkEnvironment, "node_url", cfg.NodeURL)
	client, err := NewClient(ctx, &ClientConfig{
		NodeURL:             cfg.NodeURL,
		Logger:              logger,
		JWKSRefreshInterval: DefaultJWKSRefreshInterval,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
