package awsKmsCustodian

import (
	"context"
	cryptoEcdsa "crypto/ecdsa"
	"encoding/asn1"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/custody"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// IKMSClient is the subset of the AWS KMS API used for custody.
type IKMSClient interface {
	CreateKey(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	CreateAlias(ctx context.Context, params *kms.CreateAliasInput, optFns ...func(*kms.Options)) (*kms.CreateAliasOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// AWSKMSCustodian keeps signing keys in AWS KMS as ECC_SECG_P256K1 keys.
type AWSKMSCustodian struct {
	logger      *zap.Logger
	kmsClient   IKMSClient
	awsRegion   string
	environment string
}

var _ custody.ICustodian = (*AWSKMSCustodian)(nil)

func NewAWSKMSCustodian(awsCfg aws.Config, environment string, logger *zap.Logger) *AWSKMSCustodian {
	return NewAWSKMSCustodianWithClient(kms.NewFromConfig(awsCfg), awsCfg.Region, environment, logger)
}

func NewAWSKMSCustodianWithClient(client IKMSClient, awsRegion string, environment string, logger *zap.Logger) *AWSKMSCustodian {
	return &AWSKMSCustodian{
		logger:      logger,
		kmsClient:   client,
		awsRegion:   awsRegion,
		environment: environment,
	}
}

func (a *AWSKMSCustodian) SignDigest(ctx context.Context, keyId string, digest []byte) ([]byte, error) {
	sig, err := a.getSignatureFromKms(ctx, keyId, digest)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to sign digest with key %s in region %s", keyId, a.awsRegion)
	}
	return sig, nil
}

func (a *AWSKMSCustodian) GenerateKey(ctx context.Context, keyName string, aliasName string) (*custody.CustodiedKey, error) {
	keyRes, err := a.createEthereumSigningKey(ctx, keyName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create ECDSA key %s in region %s", keyName, a.awsRegion)
	}

	err = a.createKeyAlias(ctx, *keyRes.KeyMetadata.KeyId, aliasName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create alias %s for key %s in region %s", aliasName, *keyRes.KeyMetadata.KeyId, a.awsRegion)
	}

	return a.GetKeyById(ctx, *keyRes.KeyMetadata.KeyId)
}

func (a *AWSKMSCustodian) GetKeyById(ctx context.Context, keyId string) (*custody.CustodiedKey, error) {
	pub, err := a.getECDSAPublicKey(ctx, keyId)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get public key for key %s in region %s", keyId, a.awsRegion)
	}

	key, err := custody.NewCustodiedKey(keyId, pub)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to describe key %s in region %s", keyId, a.awsRegion)
	}
	return key, nil
}

// createEthereumSigningKey creates a secp256k1 sign/verify key
func (a *AWSKMSCustodian) createEthereumSigningKey(ctx context.Context, keyName string) (*kms.CreateKeyOutput, error) {
	input := &kms.CreateKeyInput{
		KeyUsage:    types.KeyUsageTypeSignVerify,
		KeySpec:     types.KeySpecEccSecgP256k1,
		Description: aws.String(fmt.Sprintf("Custodied smart account signing key - %s", keyName)),
		Tags: []types.Tag{
			{TagKey: aws.String("Name"), TagValue: aws.String(keyName)},
			{TagKey: aws.String("Environment"), TagValue: aws.String(a.environment)},
			{TagKey: aws.String("Purpose"), TagValue: aws.String("session-signer")},
			{TagKey: aws.String("Curve"), TagValue: aws.String("secp256k1")},
		},
	}

	result, err := a.kmsClient.CreateKey(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS key: %w", err)
	}
	return result, nil
}

func (a *AWSKMSCustodian) createKeyAlias(ctx context.Context, keyId, aliasName string) error {
	input := &kms.CreateAliasInput{
		AliasName:   aws.String(fmt.Sprintf("alias/%s", aliasName)),
		TargetKeyId: aws.String(keyId),
	}

	if _, err := a.kmsClient.CreateAlias(ctx, input); err != nil {
		return fmt.Errorf("failed to create key alias: %w", err)
	}

	a.logger.Sugar().Infow("Created KMS key alias", "alias", aliasName, "keyId", keyId)
	return nil
}

func (a *AWSKMSCustodian) getECDSAPublicKey(ctx context.Context, keyId string) (*cryptoEcdsa.PublicKey, error) {
	result, err := a.kmsClient.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyId),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return parseECDSAPublicKey(result.PublicKey)
}

// parseECDSAPublicKey parses the DER-encoded SubjectPublicKeyInfo returned by KMS
func parseECDSAPublicKey(derBytes []byte) (*cryptoEcdsa.PublicKey, error) {
	var asn1pubk asn1EcPublicKey
	_, err := asn1.Unmarshal(derBytes, &asn1pubk)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ASN.1 public key: %w", err)
	}

	return crypto.UnmarshalPubkey(asn1pubk.PublicKey.Bytes)
}

type asn1EcSig struct {
	R asn1.RawValue
	S asn1.RawValue
}

type asn1EcPublicKey struct {
	EcPublicKeyInfo asn1EcPublicKeyInfo
	PublicKey       asn1.BitString
}

type asn1EcPublicKeyInfo struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

func (a *AWSKMSCustodian) getSignatureFromKms(ctx context.Context, keyId string, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be exactly 32 bytes, got %d", len(digest))
	}

	expectedPubKey, err := a.getECDSAPublicKey(ctx, keyId)
	if err != nil {
		return nil, err
	}

	signOutput, err := a.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(keyId),
		Message:          digest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
		MessageType:      types.MessageTypeDigest,
	})
	if err != nil {
		return nil, err
	}

	return recoverableSignature(digest, signOutput.Signature, expectedPubKey, a.logger)
}

// recoverableSignature converts a DER (r, s) signature into r||s||v, normalizing s to the
// lower half of the curve order and picking the recovery id that yields expected.
func recoverableSignature(digest []byte, der []byte, expected *cryptoEcdsa.PublicKey, logger *zap.Logger) ([]byte, error) {
	var sigAsn1 asn1EcSig
	if _, err := asn1.Unmarshal(der, &sigAsn1); err != nil {
		return nil, fmt.Errorf("failed to parse ASN.1 signature: %w", err)
	}

	r := new(big.Int).SetBytes(sigAsn1.R.Bytes)
	s := new(big.Int).SetBytes(sigAsn1.S.Bytes)
	if s.Cmp(secp256k1HalfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}

	rBytes := r.FillBytes(make([]byte, 32))
	sBytes := s.FillBytes(make([]byte, 32))

	for recoveryId := 0; recoveryId < 2; recoveryId++ {
		signature := make([]byte, 65)
		copy(signature[0:32], rBytes)
		copy(signature[32:64], sBytes)
		signature[64] = byte(recoveryId)

		recovered, err := crypto.SigToPub(digest, signature)
		if err != nil {
			logger.Debug("Signature recovery failed", zap.Int("recoveryId", recoveryId), zap.Error(err))
			continue
		}
		if recovered.X.Cmp(expected.X) == 0 && recovered.Y.Cmp(expected.Y) == 0 {
			signature[64] += 27
			return signature, nil
		}
	}

	return nil, fmt.Errorf("could not determine valid recovery ID - signature recovery failed")
}
