package vm

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	flagRegister = 0x0F
	spriteWidth  = uint16(8)
	addressMask  = uint16(0x0FFF)
)

func (vm *VM) executeOpcode(opcode uint16) error {
	instr := decode(opcode)
	pc := vm.pc

	if vm.logger.Enabled(context.Background(), slog.LevelDebug) {
		vm.logger.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", pc),
			"opcode", fmt.Sprintf("0x%04x", opcode),
			"instr", instr.Name(opcode),
		)
	}

	if err := instr.Execute(vm, opcode); err != nil {
		return &InstructionError{PC: pc, Opcode: opcode, Err: err}
	}

	if !vm.canFetch(vm.pc) {
		vm.pc = pc
		return &InstructionError{PC: pc, Opcode: opcode, Err: ErrAddressOutOfRange}
	}

	return nil
}

type instruction struct {
	Name    func(opcode uint16) string
	Execute func(vm *VM, opcode uint16) error
}

// Opcode fields.
func regX(opcode uint16) uint16 { return (opcode & 0x0F00) >> 8 }
func regY(opcode uint16) uint16 { return (opcode & 0x00F0) >> 4 }
func imm8(opcode uint16) uint8  { return uint8(opcode & 0x00FF) }
func imm4(opcode uint16) uint16 { return opcode & 0x000F }
func addr(opcode uint16) uint16 { return opcode & addressMask }

func decode(opcode uint16) instruction {
	switch opcode & 0xF000 {
	case 0x0000:
		switch opcode {
		case 0x00E0:
			// 00E0 - Clear screen
			return clsInstruction

		case 0x00EE:
			// 00EE - Return from subroutine
			return retInstruction
		}

	case 0x1000:
		// 1NNN - Jump to address NNN
		return jpInstruction

	case 0x2000:
		// 2NNN - Call subroutine at NNN
		return callInstruction

	case 0x3000:
		// 3XNN - Skip the next instruction if VX equals NN
		return seImmInstruction

	case 0x4000:
		// 4XNN - Skip the next instruction if VX does not equal NN
		return sneImmInstruction

	case 0x5000:
		if imm4(opcode) == 0 {
			// 5XY0 - Skip the next instruction if VX equals VY
			return seRegInstruction
		}

	case 0x6000:
		// 6XNN - Set VX to NN
		return ldImmInstruction

	case 0x7000:
		// 7XNN - Add NN to VX, no carry
		return addImmInstruction

	case 0x8000:
		// 8XY_
		switch imm4(opcode) {
		case 0x0000:
			// 8XY0 - VX = VY
			return ldRegInstruction

		case 0x0001:
			// 8XY1 - VX = VX OR VY
			return orInstruction

		case 0x0002:
			// 8XY2 - VX = VX AND VY
			return andInstruction

		case 0x0003:
			// 8XY3 - VX = VX XOR VY
			return xorInstruction

		case 0x0004:
			// 8XY4 - VX += VY, VF = carry
			return addRegInstruction

		case 0x0005:
			// 8XY5 - VX -= VY, VF = 1 when VX > VY
			return subInstruction

		case 0x0006:
			// 8XY6 - VX >>= 1, VF = old bit 0
			return shrInstruction

		case 0x0007:
			// 8XY7 - VX = VY - VX, VF = 1 when VY > VX
			return subnInstruction

		case 0x000E:
			// 8XYE - VX <<= 1, VF = old bit 7
			return shlInstruction
		}

	case 0x9000:
		if imm4(opcode) == 0 {
			// 9XY0 - Skip the next instruction if VX doesn't equal VY
			return sneRegInstruction
		}

	case 0xA000:
		// ANNN - I = NNN
		return ldIndexInstruction

	case 0xB000:
		// BNNN - Jump to NNN + V0
		return jpV0Instruction

	case 0xC000:
		// CXNN - VX = random byte AND NN
		return rndInstruction

	case 0xD000:
		// DXYN - Draw N rows of 8 pixels from memory[I] at (VX, VY).
		// Pixels are XORed onto the screen, VF is set when a lit pixel is
		// turned off.
		return drwInstruction

	case 0xE000:
		switch imm8(opcode) {
		case 0x9E:
			// EX9E - Skip the next instruction if key VX is pressed
			return skpInstruction

		case 0xA1:
			// EXA1 - Skip the next instruction if key VX isn't pressed
			return sknpInstruction
		}

	case 0xF000:
		switch imm8(opcode) {
		case 0x07:
			// FX07 - VX = delay timer
			return ldGetDelayInstruction

		case 0x0A:
			// FX0A - Wait for a key press, store it in VX
			return ldKeyInstruction

		case 0x15:
			// FX15 - delay timer = VX
			return ldSetDelayInstruction

		case 0x18:
			// FX18 - sound timer = VX
			return ldSetSoundInstruction

		case 0x1E:
			// FX1E - I += VX, VF = 1 when the sum leaves the 12-bit space
			return addIndexInstruction

		case 0x29:
			// FX29 - I = address of the font glyph for VX
			return ldFontInstruction

		case 0x33:
			// FX33 - memory[I..I+2] = BCD of VX
			return bcdInstruction

		case 0x55:
			// FX55 - memory[I..I+X] = V0..VX
			return storeInstruction

		case 0x65:
			// FX65 - V0..VX = memory[I..I+X]
			return loadInstruction
		}
	}

	return unmappedInstruction
}

func (vm *VM) skipIf(cond bool) {
	if cond {
		vm.pc += 2 * InstructionSize
	} else {
		vm.pc += InstructionSize
	}
}

func (vm *VM) setFlag(cond bool) {
	if cond {
		vm.registers[flagRegister] = 1
	} else {
		vm.registers[flagRegister] = 0
	}
}

func nameX(mnemonic string) func(uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x", mnemonic, regX(opcode))
	}
}

func nameXY(mnemonic string) func(uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x, v%x", mnemonic, regX(opcode), regY(opcode))
	}
}

func nameXImm(mnemonic string) func(uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s v%x, 0x%02x", mnemonic, regX(opcode), imm8(opcode))
	}
}

func nameAddr(mnemonic string) func(uint16) string {
	return func(opcode uint16) string {
		return fmt.Sprintf("%s 0x%03x", mnemonic, addr(opcode))
	}
}

// aluInstruction builds an 8XYN instruction. op returns the new VX and,
// when flag is true, the new VF. VF is written after VX.
func aluInstruction(mnemonic string, op func(x, y uint8) (result uint8, flag bool), setsFlag bool) instruction {
	return instruction{
		Name: nameXY(mnemonic),
		Execute: func(vm *VM, opcode uint16) error {
			vX := regX(opcode)
			x := vm.registers[vX]
			y := vm.registers[regY(opcode)]

			result, flag := op(x, y)
			vm.registers[vX] = result
			if setsFlag {
				vm.setFlag(flag)
			}

			vm.pc += InstructionSize
			return nil
		},
	}
}

var (
	clsInstruction = instruction{
		Name: func(opcode uint16) string {
			return "cls"
		},
		Execute: func(vm *VM, opcode uint16) error {
			clear(vm.gfx)
			vm.drawFlag = true
			vm.pc += InstructionSize
			return nil
		},
	}

	retInstruction = instruction{
		Name: func(opcode uint16) string {
			return "ret"
		},
		Execute: func(vm *VM, opcode uint16) error {
			if vm.sp == 0 {
				return ErrStackUnderflow
			}

			ret := vm.stack[vm.sp-1] + InstructionSize
			if !vm.canFetch(ret) {
				return ErrAddressOutOfRange
			}

			vm.sp--
			vm.pc = ret
			return nil
		},
	}

	jpInstruction = instruction{
		Name: nameAddr("jp"),
		Execute: func(vm *VM, opcode uint16) error {
			target := addr(opcode)
			if !vm.canFetch(target) {
				return ErrAddressOutOfRange
			}

			vm.pc = target
			return nil
		},
	}

	callInstruction = instruction{
		Name: nameAddr("call"),
		Execute: func(vm *VM, opcode uint16) error {
			if int(vm.sp) >= len(vm.stack) {
				return ErrStackOverflow
			}

			target := addr(opcode)
			if !vm.canFetch(target) {
				return ErrAddressOutOfRange
			}

			vm.stack[vm.sp] = vm.pc
			vm.sp++
			vm.pc = target
			return nil
		},
	}

	seImmInstruction = instruction{
		Name: nameXImm("se"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] == imm8(opcode))
			return nil
		},
	}

	sneImmInstruction = instruction{
		Name: nameXImm("sne"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] != imm8(opcode))
			return nil
		},
	}

	seRegInstruction = instruction{
		Name: nameXY("se"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] == vm.registers[regY(opcode)])
			return nil
		},
	}

	sneRegInstruction = instruction{
		Name: nameXY("sne"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.skipIf(vm.registers[regX(opcode)] != vm.registers[regY(opcode)])
			return nil
		},
	}

	ldImmInstruction = instruction{
		Name: nameXImm("ld"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = imm8(opcode)
			vm.pc += InstructionSize
			return nil
		},
	}

	addImmInstruction = instruction{
		Name: nameXImm("add"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] += imm8(opcode)
			vm.pc += InstructionSize
			return nil
		},
	}

	ldRegInstruction = aluInstruction("ld", func(_, y uint8) (uint8, bool) {
		return y, false
	}, false)

	orInstruction = aluInstruction("or", func(x, y uint8) (uint8, bool) {
		return x | y, false
	}, false)

	andInstruction = aluInstruction("and", func(x, y uint8) (uint8, bool) {
		return x & y, false
	}, false)

	xorInstruction = aluInstruction("xor", func(x, y uint8) (uint8, bool) {
		return x ^ y, false
	}, false)

	addRegInstruction = aluInstruction("add", func(x, y uint8) (uint8, bool) {
		sum := uint16(x) + uint16(y)
		return uint8(sum), sum > 0xFF
	}, true)

	subInstruction = aluInstruction("sub", func(x, y uint8) (uint8, bool) {
		return x - y, x > y
	}, true)

	// VY is ignored by both shifts.
	shrInstruction = aluInstruction("shr", func(x, _ uint8) (uint8, bool) {
		return x >> 1, x&0x01 != 0
	}, true)

	subnInstruction = aluInstruction("subn", func(x, y uint8) (uint8, bool) {
		return y - x, y > x
	}, true)

	shlInstruction = aluInstruction("shl", func(x, _ uint8) (uint8, bool) {
		return x << 1, x&0x80 != 0
	}, true)

	ldIndexInstruction = instruction{
		Name: nameAddr("ld i,"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.index = addr(opcode)
			vm.pc += InstructionSize
			return nil
		},
	}

	jpV0Instruction = instruction{
		Name: nameAddr("jp v0,"),
		Execute: func(vm *VM, opcode uint16) error {
			target := addr(opcode) + uint16(vm.registers[0])
			if !vm.canFetch(target) {
				return ErrAddressOutOfRange
			}

			vm.pc = target
			return nil
		},
	}

	rndInstruction = instruction{
		Name: nameXImm("rnd"),
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = uint8(vm.rng.IntN(256)) & imm8(opcode)
			vm.pc += InstructionSize
			return nil
		},
	}

	drwInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("drw v%x, v%x, %d", regX(opcode), regY(opcode), imm4(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			height := imm4(opcode)
			if err := vm.checkRange(vm.index, height); err != nil {
				return err
			}

			xLocation := uint16(vm.registers[regX(opcode)])
			yLocation := uint16(vm.registers[regY(opcode)])

			collision := false
			for y := uint16(0); y < height; y++ {
				row := vm.memory[vm.index+y]

				for x := uint16(0); x < spriteWidth; x++ {
					if row&(0x80>>x) == 0 {
						continue
					}

					screenAddr := getScreenAddr(xLocation+x, yLocation+y)
					if vm.gfx[screenAddr] != 0 {
						collision = true
					}

					vm.gfx[screenAddr] ^= 1
				}
			}

			vm.setFlag(collision)
			vm.drawFlag = true
			vm.pc += InstructionSize
			return nil
		},
	}

	skpInstruction = instruction{
		Name: nameX("skp"),
		Execute: func(vm *VM, opcode uint16) error {
			key := vm.registers[regX(opcode)] & 0x0F
			vm.skipIf(vm.keypad[key])
			return nil
		},
	}

	sknpInstruction = instruction{
		Name: nameX("sknp"),
		Execute: func(vm *VM, opcode uint16) error {
			key := vm.registers[regX(opcode)] & 0x0F
			vm.skipIf(!vm.keypad[key])
			return nil
		},
	}

	ldGetDelayInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ld v%x, dt", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.registers[regX(opcode)] = vm.delayTimer
			vm.pc += InstructionSize
			return nil
		},
	}

	// Does not advance until a key is down, so the host sees the same
	// instruction again on the next Step.
	ldKeyInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ld v%x, k", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			for i, pressed := range vm.keypad {
				if pressed {
					vm.registers[regX(opcode)] = uint8(i)
					vm.pc += InstructionSize
					return nil
				}
			}

			return nil
		},
	}

	ldSetDelayInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ld dt, v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.delayTimer = vm.registers[regX(opcode)]
			vm.pc += InstructionSize
			return nil
		},
	}

	ldSetSoundInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ld st, v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.soundTimer = vm.registers[regX(opcode)]
			vm.pc += InstructionSize
			return nil
		},
	}

	addIndexInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("add i, v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			sum := vm.index + uint16(vm.registers[regX(opcode)])

			vm.index = sum & addressMask
			vm.setFlag(sum > addressMask)
			vm.pc += InstructionSize
			return nil
		},
	}

	ldFontInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ld f, v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.index = uint16(vm.registers[regX(opcode)]) * FontGlyphSize
			vm.pc += InstructionSize
			return nil
		},
	}

	bcdInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ld b, v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			if err := vm.checkRange(vm.index, 3); err != nil {
				return err
			}

			x := vm.registers[regX(opcode)]
			vm.memory[vm.index] = x / 100
			vm.memory[vm.index+1] = (x / 10) % 10
			vm.memory[vm.index+2] = x % 10
			vm.pc += InstructionSize
			return nil
		},
	}

	// I is left unchanged by both bulk transfers.
	storeInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ld [i], v%x", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			n := regX(opcode)
			if err := vm.checkRange(vm.index, n+1); err != nil {
				return err
			}

			copy(vm.memory[vm.index:vm.index+n+1], vm.registers[:n+1])
			vm.pc += InstructionSize
			return nil
		},
	}

	loadInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("ld v%x, [i]", regX(opcode))
		},
		Execute: func(vm *VM, opcode uint16) error {
			n := regX(opcode)
			if err := vm.checkRange(vm.index, n+1); err != nil {
				return err
			}

			copy(vm.registers[:n+1], vm.memory[vm.index:vm.index+n+1])
			vm.pc += InstructionSize
			return nil
		},
	}

	// The program counter still moves on so a stray word does not stall
	// the machine.
	unmappedInstruction = instruction{
		Name: func(opcode uint16) string {
			return fmt.Sprintf("unmapped 0x%04X", opcode)
		},
		Execute: func(vm *VM, opcode uint16) error {
			vm.pc += InstructionSize
			return ErrUnmappedInstruction
		},
	}
)

// getScreenAddr wraps on the linear framebuffer index, so a sprite running
// off the right edge continues on the next row.
func getScreenAddr(x, y uint16) uint16 {
	return (x + y*ScreenWidth) % ScreenSize
}
