package vm

import (
	"errors"
	"fmt"
)

var (
	ErrRomTooLarge         = errors.New("rom too large")
	ErrUnmappedInstruction = errors.New("unmapped instruction")
	ErrStackOverflow       = errors.New("stack overflow")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrInvalidKey          = errors.New("invalid key code")
	ErrAddressOutOfRange   = errors.New("address out of range")
)

// InstructionError reports a failed Step. Err is one of the sentinel errors
// of this package.
type InstructionError struct {
	PC     uint16
	Opcode uint16
	Err    error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("pc 0x%04x: opcode 0x%04X: %v", e.PC, e.Opcode, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}
