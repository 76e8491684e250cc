package smartAccount

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/vm"
)

// evmProgram assembles EVM bytecode. Labels resolve to code offsets and are pushed as
// PUSH2 operands, so programs are limited to 64KiB.
type evmProgram struct {
	code   []byte
	labels map[string]int
	refs   map[int]string
}

func newEVMProgram() *evmProgram {
	return &evmProgram{
		labels: make(map[string]int),
		refs:   make(map[int]string),
	}
}

func (p *evmProgram) op(ops ...vm.OpCode) *evmProgram {
	for _, o := range ops {
		p.code = append(p.code, byte(o))
	}
	return p
}

// push emits value with the shortest PUSHn that holds it, keeping leading zero bytes.
func (p *evmProgram) push(value []byte) *evmProgram {
	if len(value) == 0 {
		value = []byte{0}
	}
	if len(value) > 32 {
		panic(fmt.Sprintf("push of %d bytes", len(value)))
	}
	p.code = append(p.code, byte(vm.PUSH1)+byte(len(value)-1))
	p.code = append(p.code, value...)
	return p
}

func (p *evmProgram) pushInt(value uint64) *evmProgram {
	return p.push(new(big.Int).SetUint64(value).Bytes())
}

func (p *evmProgram) pushLabel(name string) *evmProgram {
	p.code = append(p.code, byte(vm.PUSH2))
	p.refs[len(p.code)] = name
	p.code = append(p.code, 0, 0)
	return p
}

// jumpdest places a JUMPDEST named name.
func (p *evmProgram) jumpdest(name string) *evmProgram {
	p.mark(name)
	return p.op(vm.JUMPDEST)
}

// mark names the current offset without emitting code, e.g. for trailing data.
func (p *evmProgram) mark(name string) *evmProgram {
	if _, ok := p.labels[name]; ok {
		panic(fmt.Sprintf("label %q defined twice", name))
	}
	p.labels[name] = len(p.code)
	return p
}

func (p *evmProgram) raw(data []byte) *evmProgram {
	p.code = append(p.code, data...)
	return p
}

func (p *evmProgram) assemble() ([]byte, error) {
	code := append([]byte{}, p.code...)
	for at, name := range p.refs {
		offset, ok := p.labels[name]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", name)
		}
		if offset > 0xffff {
			return nil, fmt.Errorf("label %q at %d does not fit PUSH2", name, offset)
		}
		code[at] = byte(offset >> 8)
		code[at+1] = byte(offset)
	}
	return code, nil
}

func (p *evmProgram) mustAssemble() []byte {
	code, err := p.assemble()
	if err != nil {
		panic(err)
	}
	return code
}
