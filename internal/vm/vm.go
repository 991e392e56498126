package vm

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16
	ScreenWidth   = 64
	ScreenHeight  = 32
	ScreenSize    = ScreenWidth * ScreenHeight
	KeyCount      = 16

	ProgramStart    = uint16(0x200)
	MaxProgramSize  = MemorySize - int(ProgramStart)
	InstructionSize = 2
)

// VM is the CHIP-8 machine state together with the fetch-decode-execute
// step. It performs no I/O and never schedules itself: the host calls Step
// at the instruction rate and TickTimers at 60 Hz.
//
// A VM is not safe for concurrent use.
type VM struct {
	memory    []uint8 // Memory (4k)
	registers []uint8 // V registers (V0-VF)

	stack []uint16 // Stack
	sp    uint16   // Stack pointer, one past the top

	pc    uint16 // Program counter
	index uint16 // Index register

	delayTimer uint8 // Delay timer
	soundTimer uint8 // Sound timer

	gfx      []uint8 // Graphics buffer
	keypad   []bool  // Keypad
	drawFlag bool    // Framebuffer changed since the last ClearDrawFlag

	rng    *rand.Rand
	logger *slog.Logger
}

// Option configures a VM created by New.
type Option func(*VM)

// WithSeed makes the random number generator deterministic.
func WithSeed(seed uint64) Option {
	return func(vm *VM) {
		vm.rng = newRand(seed)
	}
}

// WithRand replaces the random number generator.
func WithRand(rng *rand.Rand) Option {
	return func(vm *VM) {
		vm.rng = rng
	}
}

// WithLogger sets the logger used for the instruction trace.
func WithLogger(logger *slog.Logger) Option {
	return func(vm *VM) {
		vm.logger = logger
	}
}

func New(opts ...Option) *VM {
	vm := &VM{
		memory:    make([]uint8, MemorySize),
		registers: make([]uint8, RegisterCount),
		stack:     make([]uint16, StackSize),
		gfx:       make([]uint8, ScreenSize),
		keypad:    make([]bool, KeyCount),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(vm)
	}

	if vm.rng == nil {
		vm.rng = newRand(rand.Uint64())
	}

	vm.initialize()
	return vm
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

type Key uint8

const (
	Key0 = Key(iota)
	Key1
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
)

// Valid reports whether k names one of the 16 keypad keys.
func (k Key) Valid() bool {
	return k <= KeyF
}

func (k Key) String() string {
	return fmt.Sprintf("%X", uint8(k))
}

// Reset returns the machine to its power-on state. The random number
// generator keeps its current state and the program has to be loaded again.
func (vm *VM) Reset() {
	vm.initialize()
}

func (vm *VM) initialize() {
	vm.pc = ProgramStart
	vm.index = 0
	vm.sp = 0

	clear(vm.gfx)
	vm.drawFlag = false

	clear(vm.stack)
	clear(vm.keypad)
	clear(vm.registers)
	clear(vm.memory)

	vm.logger.Debug("load font", "at", fmt.Sprintf("0x%04x", 0), "n", len(chip8Font))
	copy(vm.memory[0:], chip8Font)

	vm.delayTimer = 0
	vm.soundTimer = 0
}

// Load copies program into memory at ProgramStart. Programs longer than
// MaxProgramSize are rejected and memory is left untouched.
func (vm *VM) Load(program []byte) error {
	if len(program) > MaxProgramSize {
		return fmt.Errorf("%w: %d bytes, at most %d fit", ErrRomTooLarge, len(program), MaxProgramSize)
	}

	clear(vm.memory[ProgramStart:])
	copy(vm.memory[ProgramStart:], program)

	vm.logger.Info("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(program))
	return nil
}

// Step executes exactly one instruction.
//
// An *InstructionError is returned when the instruction fails. For
// ErrUnmappedInstruction the program counter has already moved past the
// opcode and execution may continue. An instruction that would move the
// program counter to where no instruction can be fetched fails with
// ErrAddressOutOfRange and the program counter stays on it; jumps, calls and
// returns change nothing else in that case, other instructions keep their
// effect. For every other condition the machine state is left as it was
// before the step.
func (vm *VM) Step() error {
	opcode, err := vm.fetchOpcode()
	if err != nil {
		return err
	}

	return vm.executeOpcode(opcode)
}

// TickTimers decrements the delay and sound timers, stopping at zero.
func (vm *VM) TickTimers() {
	if vm.delayTimer > 0 {
		vm.delayTimer--
	}

	if vm.soundTimer > 0 {
		vm.soundTimer--
	}
}

func (vm *VM) PressKey(key Key) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidKey, uint8(key))
	}

	vm.keypad[key] = true
	return nil
}

func (vm *VM) ReleaseKey(key Key) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidKey, uint8(key))
	}

	vm.keypad[key] = false
	return nil
}

// Pixel reports whether the framebuffer cell i (row-major, 64 per row) is
// lit. Indexes outside the framebuffer read as unlit.
func (vm *VM) Pixel(i int) bool {
	if i < 0 || i >= len(vm.gfx) {
		return false
	}

	return vm.gfx[i] != 0
}

func (vm *VM) DrawFlag() bool {
	return vm.drawFlag
}

func (vm *VM) ClearDrawFlag() {
	vm.drawFlag = false
}

func (vm *VM) SoundTimer() uint8 {
	return vm.soundTimer
}

func (vm *VM) DelayTimer() uint8 {
	return vm.delayTimer
}

func (vm *VM) fetchOpcode() (uint16, error) {
	if !vm.canFetch(vm.pc) {
		return 0, &InstructionError{PC: vm.pc, Err: ErrAddressOutOfRange}
	}

	hi := vm.memory[vm.pc]
	lo := vm.memory[vm.pc+1]

	opcode := uint16(hi)<<8 | uint16(lo) // Op code is two bytes
	return opcode, nil
}

// canFetch reports whether a whole instruction can be read at addr.
func (vm *VM) canFetch(addr uint16) bool {
	return int(addr)+1 < len(vm.memory)
}

// checkRange fails unless memory[addr:addr+n] is addressable.
func (vm *VM) checkRange(addr, n uint16) error {
	if int(addr)+int(n) > len(vm.memory) {
		return ErrAddressOutOfRange
	}

	return nil
}
