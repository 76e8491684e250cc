package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the smart account client
const (
	EnvNetworkEnvironment   = "SIGNER_NETWORK_ENVIRONMENT"
	EnvNodeURL              = "SIGNER_NODE_URL"
	EnvChainRpcURL          = "SIGNER_CHAIN_RPC_URL"
	EnvChainID              = "SIGNER_CHAIN_ID"
	EnvEntryPointVersion    = "SIGNER_ENTRY_POINT_VERSION"
	EnvAccountVersion       = "SIGNER_ACCOUNT_VERSION"
	EnvControllerPrivateKey = "SIGNER_CONTROLLER_PRIVATE_KEY"
	EnvCustodiedKeyID       = "SIGNER_CUSTODIED_KEY_ID"
	EnvDebug                = "SIGNER_DEBUG"
)

// Environment variable names for the signer node
const (
	EnvNodePort            = "SIGNER_NODE_PORT"
	EnvNodeCustodyType     = "SIGNER_NODE_CUSTODY_TYPE"
	EnvNodeAWSRegion       = "SIGNER_NODE_AWS_REGION"
	EnvNodeAWSKMSKeyID     = "SIGNER_NODE_AWS_KMS_KEY_ID"
	EnvNodePersistenceType = "SIGNER_NODE_PERSISTENCE_TYPE"
	EnvNodeBadgerPath      = "SIGNER_NODE_BADGER_PATH"
	EnvNodeRedisAddress    = "SIGNER_NODE_REDIS_ADDRESS"
	EnvNodeRedisPassword   = "SIGNER_NODE_REDIS_PASSWORD"
	EnvNodeRedisDB         = "SIGNER_NODE_REDIS_DB"
	EnvNodeIssuer          = "SIGNER_NODE_ISSUER"

	EnvNodePermittedControllers = "SIGNER_NODE_PERMITTED_CONTROLLERS"
)

type ChainId uint

const (
	ChainId_EthereumMainnet ChainId = 1
	ChainId_EthereumSepolia ChainId = 11155111
	ChainId_EthereumAnvil   ChainId = 31337
)

type ChainName string

const (
	ChainName_EthereumMainnet ChainName = "mainnet"
	ChainName_EthereumSepolia ChainName = "sepolia"
	ChainName_EthereumAnvil   ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_EthereumMainnet: ChainName_EthereumMainnet,
	ChainId_EthereumSepolia: ChainName_EthereumSepolia,
	ChainId_EthereumAnvil:   ChainName_EthereumAnvil,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_EthereumMainnet: ChainId_EthereumMainnet,
	ChainName_EthereumSepolia: ChainId_EthereumSepolia,
	ChainName_EthereumAnvil:   ChainId_EthereumAnvil,
}

// NetworkEnvironment selects which threshold network cluster a client joins.
type NetworkEnvironment string

const (
	NetworkEnvironment_Local      NetworkEnvironment = "local"
	NetworkEnvironment_Dev        NetworkEnvironment = "dev"
	NetworkEnvironment_Test       NetworkEnvironment = "test"
	NetworkEnvironment_Production NetworkEnvironment = "production"
)

var supportedNetworkEnvironments = []NetworkEnvironment{
	NetworkEnvironment_Local,
	NetworkEnvironment_Dev,
	NetworkEnvironment_Test,
	NetworkEnvironment_Production,
}

func (n NetworkEnvironment) String() string {
	return string(n)
}

// IsRemote reports whether the environment is served by signer nodes over HTTP.
func (n NetworkEnvironment) IsRemote() bool {
	return n != NetworkEnvironment_Local
}

type EntryPointVersion string

const (
	EntryPointVersion_V06 EntryPointVersion = "0.6"
	EntryPointVersion_V07 EntryPointVersion = "0.7"
)

type AccountVersion string

const (
	AccountVersion_Kernel_V2_4 AccountVersion = "0.2.4"
	AccountVersion_Kernel_V3_0 AccountVersion = "0.3.0"
	AccountVersion_Kernel_V3_1 AccountVersion = "0.3.1"
)

var EntryPointAddresses = map[EntryPointVersion]common.Address{
	EntryPointVersion_V06: common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"),
	EntryPointVersion_V07: common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032"),
}

// KernelContractAddresses are the singleton contracts a Kernel account depends on.
// They are deployed at the same address on every supported chain.
type KernelContractAddresses struct {
	EntryPoint     common.Address
	Implementation common.Address
	Factory        common.Address
	MetaFactory    common.Address
	ECDSAValidator common.Address
}

// All returns every singleton address, used for deployment checks.
func (k *KernelContractAddresses) All() map[string]common.Address {
	return map[string]common.Address{
		"entryPoint":     k.EntryPoint,
		"implementation": k.Implementation,
		"factory":        k.Factory,
		"metaFactory":    k.MetaFactory,
		"ecdsaValidator": k.ECDSAValidator,
	}
}

var (
	kernelV3_0Contracts = &KernelContractAddresses{
		EntryPoint:     EntryPointAddresses[EntryPointVersion_V07],
		Implementation: common.HexToAddress("0x94F097E1ebEB4ecA3AAE54cabb08905B239A7D27"),
		Factory:        common.HexToAddress("0x6723b44Abeec4E71eBE3232BD5B455805baDD22f"),
		MetaFactory:    common.HexToAddress("0xd703aaE79538628d27099B8c4f621bE4CCd142d5"),
		ECDSAValidator: common.HexToAddress("0x8104e3Ad430EA6d354d013A6789fDFc71E671c43"),
	}
	kernelV3_1Contracts = &KernelContractAddresses{
		EntryPoint:     EntryPointAddresses[EntryPointVersion_V07],
		Implementation: common.HexToAddress("0xBAC849bB641841b44E965fB01A4Bf5F074f84b4D"),
		Factory:        common.HexToAddress("0xaac5D4240AF87249B3f71BC8E4A2cae074A3E419"),
		MetaFactory:    common.HexToAddress("0xd703aaE79538628d27099B8c4f621bE4CCd142d5"),
		ECDSAValidator: common.HexToAddress("0x845ADb2C711129d4f3966735eD98a9F09fC4cE57"),
	}

	// KernelContracts lists the supported (entry point, account) version pairs.
	KernelContracts = map[EntryPointVersion]map[AccountVersion]*KernelContractAddresses{
		EntryPointVersion_V07: {
			AccountVersion_Kernel_V3_0: kernelV3_0Contracts,
			AccountVersion_Kernel_V3_1: kernelV3_1Contracts,
		},
	}
)

func GetKernelContracts(entryPoint EntryPointVersion, account AccountVersion) (*KernelContractAddresses, error) {
	byAccount, ok := KernelContracts[entryPoint]
	if !ok {
		return nil, fmt.Errorf("unsupported entry point version: %s", entryPoint)
	}
	contracts, ok := byAccount[account]
	if !ok {
		return nil, fmt.Errorf("unsupported account version %s for entry point %s", account, entryPoint)
	}
	return contracts, nil
}

// ClientConfig is the configuration object handed to the signing pipeline.
type ClientConfig struct {
	// Threshold network selection
	NetworkEnvironment NetworkEnvironment `json:"network_environment"`
	NodeURL            string             `json:"node_url"` // required for remote environments

	// Chain configuration
	ChainRpcURL string  `json:"chain_rpc_url"`
	ChainID     ChainId `json:"chain_id"`

	// Smart account configuration
	EntryPointVersion EntryPointVersion `json:"entry_point_version"`
	AccountVersion    AccountVersion    `json:"account_version"`
	AccountIndex      uint64            `json:"account_index"`

	Debug bool `json:"debug"`
}

// NewDefaultClientConfig returns a Sepolia configuration for Kernel v3.1 on EntryPoint v0.7.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		NetworkEnvironment: NetworkEnvironment_Local,
		ChainID:            ChainId_EthereumSepolia,
		EntryPointVersion:  EntryPointVersion_V07,
		AccountVersion:     AccountVersion_Kernel_V3_1,
	}
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	var allErrors field.ErrorList

	if !isSupportedNetworkEnvironment(c.NetworkEnvironment) {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("networkEnvironment"), c.NetworkEnvironment, networkEnvironmentStrings()))
	}
	if c.NetworkEnvironment.IsRemote() {
		if c.NodeURL == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("nodeUrl"), "nodeUrl is required for remote network environments"))
		} else if err := validateURL(c.NodeURL); err != nil {
			allErrors = append(allErrors, field.Invalid(field.NewPath("nodeUrl"), c.NodeURL, err.Error()))
		}
	}

	if c.ChainRpcURL == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("chainRpcUrl"), "chainRpcUrl is required"))
	} else if err := validateURL(c.ChainRpcURL); err != nil {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainRpcUrl"), c.ChainRpcURL, err.Error()))
	}

	if _, ok := ChainIdToName[c.ChainID]; !ok {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainId"), c.ChainID, fmt.Sprintf("unsupported chain ID. Supported: %s", GetSupportedChainIDsString())))
	}

	if c.EntryPointVersion == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("entryPointVersion"), "entryPointVersion is required"))
	}
	if c.AccountVersion == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("accountVersion"), "accountVersion is required"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

type CustodyType string

const (
	CustodyType_Local  CustodyType = "local"
	CustodyType_AWSKMS CustodyType = "aws-kms"
)

type PersistenceType string

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
)

const (
	DefaultSessionTTL       = time.Hour
	MaxSessionTTL           = 24 * time.Hour
	DefaultAuthTokenTTL     = 10 * time.Minute
	DefaultSignRateLimit    = 10.0
	DefaultSignRateBurst    = 20
	DefaultSignerNodePort   = 8080
	DefaultSignerNodeIssuer = "eigenx-session-signer"
)

// SignerNodeConfig represents the configuration of a reference signer node
type SignerNodeConfig struct {
	Port    int     `json:"port"`
	ChainID ChainId `json:"chain_id"`
	Issuer  string  `json:"issuer"`

	// Custody backend
	CustodyType CustodyType `json:"custody_type"`
	AWSRegion   string      `json:"aws_region"`
	AWSKMSKeyID string      `json:"aws_kms_key_id"`

	// Session persistence
	PersistenceType PersistenceType `json:"persistence_type"`
	BadgerPath      string          `json:"badger_path"`
	RedisAddress    string          `json:"redis_address"`
	RedisPassword   string          `json:"redis_password"`
	RedisDB         int             `json:"redis_db"`

	// Controllers allowed to authenticate and sign with the served key
	PermittedControllers []string `json:"permitted_controllers"`

	// Session policy
	DefaultSessionTTL time.Duration `json:"default_session_ttl"`
	MaxSessionTTL     time.Duration `json:"max_session_ttl"`
	SignRateLimit     float64       `json:"sign_rate_limit"`
	SignRateBurst     int           `json:"sign_rate_burst"`

	Debug bool `json:"debug"`
}

func NewDefaultSignerNodeConfig() *SignerNodeConfig {
	return &SignerNodeConfig{
		Port:              DefaultSignerNodePort,
		ChainID:           ChainId_EthereumSepolia,
		Issuer:            DefaultSignerNodeIssuer,
		CustodyType:       CustodyType_Local,
		PersistenceType:   PersistenceType_Memory,
		DefaultSessionTTL: DefaultSessionTTL,
		MaxSessionTTL:     MaxSessionTTL,
		SignRateLimit:     DefaultSignRateLimit,
		SignRateBurst:     DefaultSignRateBurst,
	}
}

// PermittedControllerAddresses parses PermittedControllers. Call Validate first.
func (c *SignerNodeConfig) PermittedControllerAddresses() []common.Address {
	addresses := make([]common.Address, 0, len(c.PermittedControllers))
	for _, controller := range c.PermittedControllers {
		addresses = append(addresses, common.HexToAddress(controller))
	}
	return addresses
}

// Validate validates the signer node configuration
func (c *SignerNodeConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}
	if _, ok := ChainIdToName[c.ChainID]; !ok {
		allErrors = append(allErrors, field.Invalid(field.NewPath("chainId"), c.ChainID, fmt.Sprintf("unsupported chain ID. Supported: %s", GetSupportedChainIDsString())))
	}
	if c.Issuer == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("issuer"), "issuer is required"))
	}

	switch c.CustodyType {
	case CustodyType_Local:
	case CustodyType_AWSKMS:
		if c.AWSRegion == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("awsRegion"), "awsRegion is required for aws-kms custody"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("custodyType"), c.CustodyType, []string{string(CustodyType_Local), string(CustodyType_AWSKMS)}))
	}

	switch c.PersistenceType {
	case PersistenceType_Memory:
	case PersistenceType_Badger:
		if c.BadgerPath == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("badgerPath"), "badgerPath is required for badger persistence"))
		}
	case PersistenceType_Redis:
		if c.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("redisAddress"), "redisAddress is required for redis persistence"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(field.NewPath("persistenceType"), c.PersistenceType, []string{
			string(PersistenceType_Memory), string(PersistenceType_Badger), string(PersistenceType_Redis),
		}))
	}

	if len(c.PermittedControllers) == 0 {
		allErrors = append(allErrors, field.Required(field.NewPath("permittedControllers"), "at least one permitted controller is required"))
	}
	for i, controller := range c.PermittedControllers {
		if !common.IsHexAddress(controller) {
			allErrors = append(allErrors, field.Invalid(field.NewPath("permittedControllers").Index(i), controller, "must be a hex address"))
		}
	}

	if c.DefaultSessionTTL <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("defaultSessionTtl"), c.DefaultSessionTTL.String(), "must be positive"))
	}
	if c.MaxSessionTTL < c.DefaultSessionTTL {
		allErrors = append(allErrors, field.Invalid(field.NewPath("maxSessionTtl"), c.MaxSessionTTL.String(), "must not be shorter than defaultSessionTtl"))
	}
	if c.SignRateLimit <= 0 || c.SignRateBurst <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("signRateLimit"), c.SignRateLimit, "rate limit and burst must be positive"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// GetSupportedChainIDs returns all supported chain IDs
func GetSupportedChainIDs() []ChainId {
	return []ChainId{
		ChainId_EthereumMainnet,
		ChainId_EthereumSepolia,
		ChainId_EthereumAnvil,
	}
}

// GetSupportedChainIDsString returns supported chain IDs as strings for CLI help
func GetSupportedChainIDsString() string {
	return fmt.Sprintf("%d (mainnet), %d (sepolia), %d (anvil)",
		ChainId_EthereumMainnet, ChainId_EthereumSepolia, ChainId_EthereumAnvil)
}

func isSupportedNetworkEnvironment(n NetworkEnvironment) bool {
	for _, s := range supportedNetworkEnvironments {
		if s == n {
			return true
		}
	}
	return false
}

func networkEnvironmentStrings() []string {
	out := make([]string, 0, len(supportedNetworkEnvironments))
	for _, s := range supportedNetworkEnvironments {
		out = append(out, s.String())
	}
	return out
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url must include scheme and host")
	}
	if !strings.HasPrefix(u.Scheme, "http") && !strings.HasPrefix(u.Scheme, "ws") {
		return fmt.Errorf("unsupported url scheme: %s", u.Scheme)
	}
	return nil
}
