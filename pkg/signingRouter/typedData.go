package signingRouter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const domainTypeName = "EIP712Domain"

// baseTypeName strips array suffixes, "Mail[][2]" -> "Mail"
func baseTypeName(t string) string {
	if i := strings.Index(t, "["); i >= 0 {
		return t[:i]
	}
	return t
}

// ResolvePrimaryType returns the declared primary type, or the single struct type that no
// other type references. Zero or several candidates fail with ErrAmbiguousPrimaryType.
func ResolvePrimaryType(typedData *apitypes.TypedData) (string, error) {
	if typedData == nil {
		return "", fmt.Errorf("%w: typed data is nil", types.ErrInvalidPayload)
	}
	if typedData.PrimaryType != "" {
		if typedData.PrimaryType == domainTypeName {
			return "", fmt.Errorf("%w: %s cannot be the primary type", types.ErrAmbiguousPrimaryType, domainTypeName)
		}
		if _, ok := typedData.Types[typedData.PrimaryType]; !ok {
			return "", fmt.Errorf("%w: primary type %q is not defined", types.ErrAmbiguousPrimaryType, typedData.PrimaryType)
		}
		return typedData.PrimaryType, nil
	}

	referenced := make(map[string]bool)
	for name, fields := range typedData.Types {
		for _, f := range fields {
			if base := baseTypeName(f.Type); base != name {
				referenced[base] = true
			}
		}
	}

	var candidates []string
	for name := range typedData.Types {
		if name == domainTypeName || referenced[name] {
			continue
		}
		candidates = append(candidates, name)
	}
	sort.Strings(candidates)

	if len(candidates) != 1 {
		return "", fmt.Errorf("%w: found %d candidate primary types %v", types.ErrAmbiguousPrimaryType, len(candidates), candidates)
	}
	return candidates[0], nil
}

// domainFields lists the EIP712Domain fields present in domain, in canonical order
func domainFields(domain apitypes.TypedDataDomain) []apitypes.Type {
	var fields []apitypes.Type
	if domain.Name != "" {
		fields = append(fields, apitypes.Type{Name: "name", Type: "string"})
	}
	if domain.Version != "" {
		fields = append(fields, apitypes.Type{Name: "version", Type: "string"})
	}
	if domain.ChainId != nil {
		fields = append(fields, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if domain.VerifyingContract != "" {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	if domain.Salt != "" {
		fields = append(fields, apitypes.Type{Name: "salt", Type: "bytes32"})
	}
	return fields
}

// HashTypedData computes the EIP-712 signing hash. A missing EIP712Domain type is
// derived from the populated domain fields.
func HashTypedData(typedData *apitypes.TypedData) (common.Hash, error) {
	primaryType, err := ResolvePrimaryType(typedData)
	if err != nil {
		return common.Hash{}, err
	}

	td := *typedData
	td.PrimaryType = primaryType
	if _, ok := td.Types[domainTypeName]; !ok {
		td.Types = make(apitypes.Types, len(typedData.Types)+1)
		for name, fields := range typedData.Types {
			td.Types[name] = fields
		}
		td.Types[domainTypeName] = domainFields(td.Domain)
	}

	domainSeparator, err := td.HashStruct(domainTypeName, td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: failed to hash domain: %w", types.ErrInvalidPayload, err)
	}
	typedDataHash, err := td.HashStruct(primaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: failed to hash message: %w", types.ErrInvalidPayload, err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData), nil
}
