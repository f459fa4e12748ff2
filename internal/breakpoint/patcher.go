// Package breakpoint implements the breakpoint and field-watch interception tables.
package breakpoint

import (
	apperrors "github.com/vmti/pkg/errors"
	"github.com/vmti/pkg/vm"
)

// TrapOpcode is the reserved instruction that diverts the interpreter into breakpoint
// delivery.
const TrapOpcode byte = 0xCA

// CodePatcher is the only component allowed to read or write instruction bytes.
type CodePatcher struct {
	mem vm.CodeMemory
}

// NewCodePatcher wraps the runtime's instruction memory.
func NewCodePatcher(mem vm.CodeMemory) *CodePatcher {
	return &CodePatcher{mem: mem}
}

// Read returns the raw byte at addr.
func (p *CodePatcher) Read(addr vm.Address) (byte, error) {
	b, err := p.mem.ReadCode(addr)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidLocation, "read code", err)
	}
	return b, nil
}

// Install replaces the byte at addr with the trap and returns the byte it replaced.
func (p *CodePatcher) Install(addr vm.Address) (byte, error) {
	orig, err := p.Read(addr)
	if err != nil {
		return 0, err
	}
	if err := p.mem.WriteCode(addr, TrapOpcode); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidLocation, "write trap", err)
	}
	return orig, nil
}

// Restore writes orig back to addr.
func (p *CodePatcher) Restore(addr vm.Address, orig byte) error {
	if err := p.mem.WriteCode(addr, orig); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidLocation, "restore opcode", err)
	}
	return nil
}
