package smartAccount

import (
	"github.com/Layr-Labs/eigenx-session-signer/pkg/util"
)

const kernelV3_0ABI = `[
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[
		{"name":"_rootValidator","type":"bytes21"},
		{"name":"hook","type":"address"},
		{"name":"validatorData","type":"bytes"},
		{"name":"hookData","type":"bytes"}
	],"outputs":[]}
]`

const kernelV3_1ABI = `[
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[
		{"name":"_rootValidator","type":"bytes21"},
		{"name":"hook","type":"address"},
		{"name":"validatorData","type":"bytes"},
		{"name":"hookData","type":"bytes"},
		{"name":"initConfig","type":"bytes[]"}
	],"outputs":[]}
]`

const erc1271ABI = `[
	{"type":"function","name":"isValidSignature","stateMutability":"view","inputs":[
		{"name":"hash","type":"bytes32"},
		{"name":"signature","type":"bytes"}
	],"outputs":[{"name":"","type":"bytes4"}]}
]`

const kernelFactoryABI = `[
	{"type":"function","name":"createAccount","stateMutability":"payable","inputs":[
		{"name":"data","type":"bytes"},
		{"name":"salt","type":"bytes32"}
	],"outputs":[{"name":"","type":"address"}]}
]`

const metaFactoryABI = `[
	{"type":"function","name":"deployWithFactory","stateMutability":"payable","inputs":[
		{"name":"factory","type":"address"},
		{"name":"createData","type":"bytes"},
		{"name":"salt","type":"bytes32"}
	],"outputs":[{"name":"","type":"address"}]}
]`

var (
	kernelV3_0    = util.MustParseABI(kernelV3_0ABI)
	kernelV3_1    = util.MustParseABI(kernelV3_1ABI)
	erc1271       = util.MustParseABI(erc1271ABI)
	metaFactory   = util.MustParseABI(metaFactoryABI)
	kernelFactory = util.MustParseABI(kernelFactoryABI)
)
