package vm

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/retroenv/retrogolib/assert"
)

func TestDecode_Names(t *testing.T) {
	tests := []struct {
		opcode uint16
		name   string
	}{
		{0x00E0, "cls"},
		{0x00EE, "ret"},
		{0x1234, "jp 0x234"},
		{0x2ABC, "call 0xabc"},
		{0x3A42, "se va, 0x42"},
		{0x4B01, "sne vb, 0x01"},
		{0x5120, "se v1, v2"},
		{0x6F10, "ld vf, 0x10"},
		{0x7003, "add v0, 0x03"},
		{0x8120, "ld v1, v2"},
		{0x8124, "add v1, v2"},
		{0x8127, "subn v1, v2"},
		{0x812E, "shl v1, v2"},
		{0x9340, "sne v3, v4"},
		{0xA123, "ld i, 0x123"},
		{0xB300, "jp v0, 0x300"},
		{0xC5FF, "rnd v5, 0xff"},
		{0xD125, "drw v1, v2, 5"},
		{0xE69E, "skp v6"},
		{0xE7A1, "sknp v7"},
		{0xF30A, "ld v3, k"},
		{0xF233, "ld b, v2"},
		{0xF855, "ld [i], v8"},
		{0xF865, "ld v8, [i]"},
		{0x0123, "unmapped 0x0123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, decode(tt.opcode).Name(tt.opcode))
		})
	}
}

func TestCLS(t *testing.T) {
	vm := newTestVM(t, 0x00E0)
	for i := range vm.gfx {
		vm.gfx[i] = 1
	}

	assert.NoError(t, vm.Step())

	for i := 0; i < ScreenSize; i++ {
		if vm.Pixel(i) {
			t.Fatalf("pixel %d still lit after cls", i)
		}
	}
	assert.True(t, vm.DrawFlag())
	assert.Equal(t, ProgramStart+InstructionSize, vm.pc)
}

func TestJP(t *testing.T) {
	vm := newTestVM(t, 0x1456)

	assert.NoError(t, vm.Step())
	assert.Equal(t, uint16(0x456), vm.pc)
}

func TestCallRet(t *testing.T) {
	for target := uint16(0); target < 0xFFF; target++ {
		// Keep the call site clear of the subroutine.
		callAt := uint16(0x300)
		if target >= 0x2FF && target <= 0x301 {
			callAt = 0x400
		}

		vm := New(WithLogger(testLogger()))
		vm.pc = callAt
		vm.memory[callAt] = 0x20 | uint8(target>>8)
		vm.memory[callAt+1] = uint8(target)
		vm.memory[target] = 0x00
		vm.memory[target+1] = 0xEE

		assert.NoError(t, vm.Step())
		assert.Equal(t, target, vm.pc)
		assert.Equal(t, uint16(1), vm.sp)

		assert.NoError(t, vm.Step())
		assert.Equal(t, callAt+InstructionSize, vm.pc)
		assert.Equal(t, uint16(0), vm.sp)
	}
}

func TestCall_StackOverflow(t *testing.T) {
	// 0x200: call 0x200, recursing until the stack is full.
	vm := newTestVM(t, 0x2200)

	for i := 0; i < StackSize; i++ {
		assert.NoError(t, vm.Step())
	}
	assert.Equal(t, uint16(StackSize), vm.sp)

	err := vm.Step()
	assert.True(t, errors.Is(err, ErrStackOverflow))
	assert.Equal(t, uint16(StackSize), vm.sp)
	assert.Equal(t, ProgramStart, vm.pc)
}

func TestRet_StackUnderflow(t *testing.T) {
	vm := newTestVM(t, 0x00EE)

	err := vm.Step()
	assert.True(t, errors.Is(err, ErrStackUnderflow))

	var instrErr *InstructionError
	assert.True(t, errors.As(err, &instrErr))
	assert.Equal(t, uint16(0x00EE), instrErr.Opcode)
	assert.Equal(t, uint16(0), vm.sp)
	assert.Equal(t, ProgramStart, vm.pc)
}

func TestSkips(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		v1, v2 uint8
		skip   bool
	}{
		{"se imm equal", 0x3142, 0x42, 0, true},
		{"se imm different", 0x3142, 0x41, 0, false},
		{"sne imm equal", 0x4142, 0x42, 0, false},
		{"sne imm different", 0x4142, 0x41, 0, true},
		{"se reg equal", 0x5120, 7, 7, true},
		{"se reg different", 0x5120, 7, 8, false},
		{"sne reg equal", 0x9120, 7, 7, false},
		{"sne reg different", 0x9120, 7, 8, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t, tt.opcode)
			vm.registers[1] = tt.v1
			vm.registers[2] = tt.v2

			assert.NoError(t, vm.Step())

			want := ProgramStart + InstructionSize
			if tt.skip {
				want += InstructionSize
			}
			assert.Equal(t, want, vm.pc)
		})
	}
}

func TestLoadAndAddImmediate(t *testing.T) {
	vm := newTestVM(t, 0x63FE, 0x7303, 0x6F01, 0x7301)

	assert.NoError(t, vm.Step())
	assert.Equal(t, uint8(0xFE), vm.registers[3])

	assert.NoError(t, vm.Step())
	assert.Equal(t, uint8(0x01), vm.registers[3])

	// 7XNN leaves VF alone.
	assert.NoError(t, vm.Step())
	assert.NoError(t, vm.Step())
	assert.Equal(t, uint8(0x02), vm.registers[3])
	assert.Equal(t, uint8(1), vm.registers[flagRegister])
}

func TestBitwise(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		want   uint8
	}{
		{"ld", 0x8120, 0x0F},
		{"or", 0x8121, 0x3F},
		{"and", 0x8122, 0x00},
		{"xor", 0x8123, 0x3F},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t, tt.opcode)
			vm.registers[1] = 0x30
			vm.registers[2] = 0x0F
			vm.registers[flagRegister] = 0x55

			assert.NoError(t, vm.Step())
			assert.Equal(t, tt.want, vm.registers[1])
			assert.Equal(t, uint8(0x55), vm.registers[flagRegister])
		})
	}
}

func TestArithmetic_AllPairs(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		result func(a, b int) int
		flag   func(a, b int) bool
	}{
		{
			name:   "add",
			opcode: 0x8124,
			result: func(a, b int) int { return (a + b) % 256 },
			flag:   func(a, b int) bool { return a+b > 255 },
		},
		{
			name:   "sub",
			opcode: 0x8125,
			result: func(a, b int) int { return (a - b + 256) % 256 },
			flag:   func(a, b int) bool { return a > b },
		},
		{
			name:   "subn",
			opcode: 0x8127,
			result: func(a, b int) int { return (b - a + 256) % 256 },
			flag:   func(a, b int) bool { return b > a },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := New(WithLogger(testLogger()))
			vm.memory[ProgramStart] = uint8(tt.opcode >> 8)
			vm.memory[ProgramStart+1] = uint8(tt.opcode)

			for a := 0; a < 256; a++ {
				for b := 0; b < 256; b++ {
					vm.pc = ProgramStart
					vm.registers[1] = uint8(a)
					vm.registers[2] = uint8(b)

					if err := vm.Step(); err != nil {
						t.Fatalf("%d, %d: %v", a, b, err)
					}

					wantFlag := uint8(0)
					if tt.flag(a, b) {
						wantFlag = 1
					}
					if got := vm.registers[1]; got != uint8(tt.result(a, b)) {
						t.Fatalf("%s %d, %d: result %d, want %d", tt.name, a, b, got, tt.result(a, b))
					}
					if got := vm.registers[flagRegister]; got != wantFlag {
						t.Fatalf("%s %d, %d: vf %d, want %d", tt.name, a, b, got, wantFlag)
					}
				}
			}
		})
	}
}

func TestArithmetic_FlagWinsOverResult(t *testing.T) {
	vm := newTestVM(t, 0x8F14)
	vm.registers[flagRegister] = 0xFF
	vm.registers[1] = 0x01

	assert.NoError(t, vm.Step())
	assert.Equal(t, uint8(1), vm.registers[flagRegister])
}

func TestShifts(t *testing.T) {
	tests := []struct {
		name   string
		opcode uint16
		x      uint8
		want   uint8
		flag   uint8
	}{
		{"shr low bit set", 0x8126, 0x05, 0x02, 1},
		{"shr low bit clear", 0x8126, 0x04, 0x02, 0},
		{"shl high bit set", 0x812E, 0x81, 0x02, 1},
		{"shl high bit clear", 0x812E, 0x41, 0x82, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newTestVM(t, tt.opcode)
			vm.registers[1] = tt.x
			vm.registers[2] = 0xFF // ignored

			assert.NoError(t, vm.Step())
			assert.Equal(t, tt.want, vm.registers[1])
			assert.Equal(t, tt.flag, vm.registers[flagRegister])
			assert.Equal(t, uint8(0xFF), vm.registers[2])
		})
	}
}

func TestIndex(t *testing.T) {
	vm := newTestVM(t, 0xA123, 0xF51E)
	vm.registers[5] = 0x10

	assert.NoError(t, vm.Step())
	assert.Equal(t, uint16(0x123), vm.index)

	assert.NoError(t, vm.Step())
	assert.Equal(t, uint16(0x133), vm.index)
	assert.Equal(t, uint8(0), vm.registers[flagRegister])
}

func TestAddIndex_Overflow(t *testing.T) {
	vm := newTestVM(t, 0xAFFF, 0xF51E)
	vm.registers[5] = 0x02

	assert.NoError(t, vm.Step())
	assert.NoError(t, vm.Step())
	assert.Equal(t, uint16(0x001), vm.index)
	assert.Equal(t, uint8(1), vm.registers[flagRegister])
}

func TestJPV0(t *testing.T) {
	vm := newTestVM(t, 0xB300)
	vm.registers[0] = 0x20

	assert.NoError(t, vm.Step())
	assert.Equal(t, uint16(0x320), vm.pc)

	vm = newTestVM(t, 0xBFFF)
	vm.registers[0] = 0x01

	err := vm.Step()
	assert.True(t, errors.Is(err, ErrAddressOutOfRange))
	assert.Equal(t, ProgramStart, vm.pc)
}

func TestRND(t *testing.T) {
	a := newTestVM(t, 0xC10F, 0xC2FF, 0xC300)
	b := newTestVM(t, 0xC10F, 0xC2FF, 0xC300)
	b.registers[3] = 0x77

	for i := 0; i < 3; i++ {
		assert.NoError(t, a.Step())
		assert.NoError(t, b.Step())
	}

	assert.True(t, a.registers[1] <= 0x0F)
	assert.Equal(t, a.registers[1], b.registers[1])
	assert.Equal(t, a.registers[2], b.registers[2])
	assert.Equal(t, uint8(0), b.registers[3])
}

func TestDRW_Collision(t *testing.T) {
	vm := newTestVM(t, 0xA300, 0xD121, 0xD121)
	vm.memory[0x300] = 0xF0

	assert.NoError(t, vm.Step())
	assert.NoError(t, vm.Step())

	for i := 0; i < 8; i++ {
		assert.Equal(t, i < 4, vm.Pixel(i))
	}
	assert.Equal(t, uint8(0), vm.registers[flagRegister])
	assert.True(t, vm.DrawFlag())

	vm.ClearDrawFlag()
	assert.NoError(t, vm.Step())

	for i := 0; i < 4; i++ {
		assert.False(t, vm.Pixel(i))
	}
	assert.Equal(t, uint8(1), vm.registers[flagRegister])
	assert.True(t, vm.DrawFlag())
}

func TestDRW_Wraps(t *testing.T) {
	vm := newTestVM(t, 0xD122)
	vm.index = 0x300
	vm.memory[0x300] = 0xFF
	vm.memory[0x301] = 0x80
	vm.registers[1] = 62
	vm.registers[2] = ScreenHeight - 1

	assert.NoError(t, vm.Step())

	lit := []int{}
	for i := 0; i < ScreenSize; i++ {
		if vm.Pixel(i) {
			lit = append(lit, i)
		}
	}

	// Row 31 runs off the right edge into row 0, row 32 wraps to the top.
	bottom := (ScreenHeight - 1) * ScreenWidth
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 62, bottom + 62, bottom + 63}, lit); diff != "" {
		t.Errorf("lit pixels: (-want, +got)\n%s", diff)
	}
}

func TestDRW_OutOfMemory(t *testing.T) {
	vm := newTestVM(t, 0xAFFE, 0xD125)

	assert.NoError(t, vm.Step())
	err := vm.Step()
	assert.True(t, errors.Is(err, ErrAddressOutOfRange))
	assert.False(t, vm.DrawFlag())
	assert.Equal(t, ProgramStart+InstructionSize, vm.pc)
}

func TestKeySkips(t *testing.T) {
	vm := newTestVM(t, 0xE19E, 0xE1A1, 0xE19E, 0xE1A1)
	vm.registers[1] = 0x0B

	// not pressed: skp falls through, sknp skips
	assert.NoError(t, vm.Step())
	assert.Equal(t, ProgramStart+2, vm.pc)
	assert.NoError(t, vm.Step())
	assert.Equal(t, ProgramStart+6, vm.pc)

	// pressed: skp skips, sknp falls through
	assert.NoError(t, vm.PressKey(KeyB))
	vm.pc = ProgramStart
	assert.NoError(t, vm.Step())
	assert.Equal(t, ProgramStart+4, vm.pc)
	vm.pc = ProgramStart + 2
	assert.NoError(t, vm.Step())
	assert.Equal(t, ProgramStart+4, vm.pc)
}

func TestKeySkips_HighNibbleIgnored(t *testing.T) {
	vm := newTestVM(t, 0xE19E)
	vm.registers[1] = 0xF3
	assert.NoError(t, vm.PressKey(Key3))

	assert.NoError(t, vm.Step())
	assert.Equal(t, ProgramStart+4, vm.pc)
}

func TestWaitForKey(t *testing.T) {
	vm := newTestVM(t, 0xF40A)

	for i := 0; i < 5; i++ {
		assert.NoError(t, vm.Step())
		assert.Equal(t, ProgramStart, vm.pc)
	}

	assert.NoError(t, vm.PressKey(KeyE))
	assert.NoError(t, vm.PressKey(Key7))
	assert.NoError(t, vm.Step())
	assert.Equal(t, uint8(7), vm.registers[4])
	assert.Equal(t, ProgramStart+InstructionSize, vm.pc)
}

func TestTimers(t *testing.T) {
	vm := newTestVM(t, 0xF115, 0xF218, 0xF307)
	vm.registers[1] = 30
	vm.registers[2] = 5

	assert.NoError(t, vm.Step())
	assert.NoError(t, vm.Step())
	assert.Equal(t, uint8(30), vm.DelayTimer())
	assert.Equal(t, uint8(5), vm.SoundTimer())

	vm.TickTimers()
	assert.NoError(t, vm.Step())
	assert.Equal(t, uint8(29), vm.registers[3])
}

func TestFont(t *testing.T) {
	vm := newTestVM(t, 0xF129)
	vm.registers[1] = 0x0A

	assert.NoError(t, vm.Step())
	assert.Equal(t, uint16(50), vm.index)
	if diff := cmp.Diff(chip8Font[50:55], vm.memory[vm.index:vm.index+FontGlyphSize]); diff != "" {
		t.Errorf("glyph: (-want, +got)\n%s", diff)
	}
}

func TestBCD(t *testing.T) {
	vm := newTestVM(t, 0xA300, 0xF533)
	vm.registers[5] = 234

	assert.NoError(t, vm.Step())
	assert.NoError(t, vm.Step())

	if diff := cmp.Diff([]uint8{2, 3, 4}, vm.memory[0x300:0x303]); diff != "" {
		t.Errorf("bcd: (-want, +got)\n%s", diff)
	}
	assert.Equal(t, uint16(0x300), vm.index)
}

func TestBCD_OutOfMemory(t *testing.T) {
	vm := newTestVM(t, 0xAFFE, 0xF533)

	assert.NoError(t, vm.Step())
	assert.True(t, errors.Is(vm.Step(), ErrAddressOutOfRange))
	assert.Equal(t, uint8(0), vm.memory[0xFFE])
}

func TestStoreLoadRegisters(t *testing.T) {
	vm := newTestVM(t, 0xA400, 0xF355, 0x6000, 0x6100, 0x6200, 0x6300, 0xF265)
	for i := 0; i < RegisterCount; i++ {
		vm.registers[i] = uint8(0x10 + i)
	}

	assert.NoError(t, vm.Step())
	assert.NoError(t, vm.Step())
	if diff := cmp.Diff([]uint8{0x10, 0x11, 0x12, 0x13, 0x00}, vm.memory[0x400:0x405]); diff != "" {
		t.Errorf("stored: (-want, +got)\n%s", diff)
	}
	assert.Equal(t, uint16(0x400), vm.index)

	for i := 0; i < 5; i++ {
		assert.NoError(t, vm.Step())
	}
	if diff := cmp.Diff([]uint8{0x10, 0x11, 0x12, 0x00}, vm.registers[:4]); diff != "" {
		t.Errorf("loaded: (-want, +got)\n%s", diff)
	}
	assert.Equal(t, uint16(0x400), vm.index)
}

func TestStoreRegisters_OutOfMemory(t *testing.T) {
	vm := newTestVM(t, 0xAFFC, 0xFF55)

	assert.NoError(t, vm.Step())
	assert.True(t, errors.Is(vm.Step(), ErrAddressOutOfRange))
	if diff := cmp.Diff(make([]uint8, 4), vm.memory[0xFFC:]); diff != "" {
		t.Errorf("memory written: (-want, +got)\n%s", diff)
	}
}
