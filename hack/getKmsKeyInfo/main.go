package main

import (
	"context"
	"os"

	"github.com/Layr-Labs/eigenx-session-signer/internal/aws"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/config"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody/awsKmsCustodian"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/logger"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/smartAccount"
	"github.com/Layr-Labs/eigenx-session-signer/pkg/util"
)

// Prints the owner address of a KMS key and the Kernel account it would own at index 0.
func main() {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ctx := context.Background()

	awsCfg, err := aws.LoadAWSConfig(ctx, os.Getenv("AWS_REGION"))
	if err != nil {
		panic(err)
	}

	keyId := os.Getenv("KEY_ID")
	if keyId == "" {
		l.Sugar().Fatal("KEY_ID environment variable is not set")
	}

	custodian := awsKmsCustodian.NewAWSKMSCustodian(awsCfg, string(config.ChainName_EthereumSepolia), l)
	key, err := custodian.GetKeyById(ctx, keyId)
	if err != nil {
		l.Sugar().Fatalw("failed to load KMS key", "error", err)
	}

	pubKeyHex, err := key.GetPublicKeyHex()
	if err != nil {
		l.Sugar().Fatalw("failed to get public key hex", "error", err)
	}

	contracts, err := config.GetKernelContracts(config.EntryPointVersion_V07, config.AccountVersion_Kernel_V3_1)
	if err != nil {
		l.Sugar().Fatalw("failed to load Kernel contracts", "error", err)
	}
	initData, err := smartAccount.EncodeInitData(config.AccountVersion_Kernel_V3_1, contracts, key.Address)
	if err != nil {
		l.Sugar().Fatalw("failed to encode Kernel init data", "error", err)
	}

	l.Sugar().Infow("KMS key",
		"keyId", key.KeyId,
		"publicKeyHex", pubKeyHex,
		"address", key.Address.Hex(),
		"kernelAccount", smartAccount.ComputeAccountAddress(contracts, initData, util.Uint64ToBytes32(0)).Hex(),
	)
}
