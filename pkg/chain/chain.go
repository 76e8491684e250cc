package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/chain-indexer/pkg/clients/ethereum"
	goEthereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// IChainReader is the read-only chain surface used for account derivation and
// signature verification. Nothing here writes or broadcasts.
type IChainReader interface {
	// CodeAt returns the contract code of account, empty when nothing is deployed.
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)

	// CallContract executes a read-only message call.
	CallContract(ctx context.Context, msg goEthereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	ChainID(ctx context.Context) (*big.Int, error)
}

var _ IChainReader = (*ethclient.Client)(nil)

// NewChainReader connects to the JSON-RPC endpoint at rpcURL.
func NewChainReader(rpcURL string, logger *zap.Logger) (*ethclient.Client, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := ethereum.NewEthereumClient(&ethereum.EthereumClientConfig{
		BaseUrl:   rpcURL,
		BlockType: ethereum.BlockType_Latest,
	}, logger)

	ethClient, err := client.GetEthereumContractCaller()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain at %s: %w", rpcURL, err)
	}
	return ethClient, nil
}

// HasCode reports whether account has deployed code.
func HasCode(ctx context.Context, reader IChainReader, account common.Address) (bool, error) {
	code, err := reader.CodeAt(ctx, account, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// CheckChainID fails when the endpoint serves a chain other than expected.
func CheckChainID(ctx context.Context, reader IChainReader, expected *big.Int) error {
	actual, err := reader.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to query chain id: %w", err)
	}
	if actual.Cmp(expected) != 0 {
		return fmt.Errorf("chain id mismatch: endpoint serves %s, expected %s", actual, expected)
	}
	return nil
}
