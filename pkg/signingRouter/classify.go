package signingRouter

import (
	"github.com/Layr-Labs/eigenx-session-signer/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// digestHexLength is "0x" followed by 64 hex characters
const digestHexLength = 2 + 2*common.HashLength

// Classify decides how a sign request is hashed. A value is a prehashed digest only if it
// is 0x-prefixed and decodes to exactly 32 bytes; anything else, including 66 character
// strings without the prefix and prefixed hex of any other length, is a raw message.
//
// Every signing path goes through this function. Signing a digest as a message (or the
// reverse) yields a valid signature over the wrong hash.
func Classify(value []byte) types.SignPayload {
	return ClassifyString(string(value))
}

func ClassifyString(value string) types.SignPayload {
	if digest, ok := parseDigest(value); ok {
		return types.NewPrehashedDigest(digest)
	}
	return types.NewRawMessage([]byte(value))
}

func parseDigest(value string) (common.Hash, bool) {
	if len(value) != digestHexLength {
		return common.Hash{}, false
	}
	// Decode rejects input without the 0x prefix
	decoded, err := hexutil.Decode(value)
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(decoded), true
}

// classifyRPCData applies the digest rule to a wallet RPC data parameter. Other hex
// strings are the RPC encoding of the message bytes; anything else is taken as UTF-8.
func classifyRPCData(value string) types.SignPayload {
	if digest, ok := parseDigest(value); ok {
		return types.NewPrehashedDigest(digest)
	}
	if decoded, err := hexutil.Decode(value); err == nil {
		return types.NewRawMessage(decoded)
	}
	return types.NewRawMessage([]byte(value))
}
