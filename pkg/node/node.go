package node

import (
	"context"
	"fmt"
	"time"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/network/localNetwork"
	"go.uber.org/zap"
)

const (
	// DefaultPruneInterval is how often expired sessions are dropped from the store
	DefaultPruneInterval = 5 * time.Minute
)

// Node is a reference signer node: the in-process network behind an HTTP API
type Node struct {
	Port int

	network       *localNetwork.LocalNetwork
	server        *Server
	logger        *zap.Logger
	pruneInterval time.Duration
	cancel        context.CancelFunc
}

// Config holds node configuration
type Config struct {
	Port          int
	PruneInterval time.Duration // Optional, defaults to DefaultPruneInterval
	Logger        *zap.Logger
}

func NewNode(cfg Config, net *localNetwork.LocalNetwork) (*Node, error) {
	if net == nil {
		return nil, fmt.Errorf("network is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}

	pruneInterval := cfg.PruneInterval
	if pruneInterval == 0 {
		pruneInterval = DefaultPruneInterval
	}

	n := &Node{
		Port:          cfg.Port,
		network:       net,
		logger:        cfg.Logger,
		pruneInterval: pruneInterval,
	}
	n.server = NewServer(n, cfg.Port)
	return n, nil
}

// Start serves the HTTP API and runs session pruning until ctx is done or Stop is called
func (n *Node) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	go n.network.RunPruner(ctx, n.pruneInterval)

	if err := n.server.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}
	return n.server.Stop()
}

// GetServer returns the HTTP server (for testing)
func (n *Node) GetServer() *Server {
	return n.server
}
