package cpu

import (
	"testing"

	"github.com/mholtcode/gbz80core/internal/bus"
)

func newCPUWithROM(code []byte) *CPU {
	rom := make([]byte, 0x8000)
	copy(rom, code)
	b := bus.New(rom)
	c := New(b)
	return c
}

func TestCPU_NopAndPC(t *testing.T) {
	c := newCPUWithROM([]byte{0x00}) // NOP
	if cycles := c.Step(); cycles != 4 {
		t.Fatalf("NOP cycles got %d want 4", cycles)
	}
	if c.PC != 1 {
		t.Fatalf("PC after NOP got %#04x want 0x0001", c.PC)
	}
}

func TestCPU_LD_A_d8_And_XOR_A(t *testing.T) {
	c := newCPUWithROM([]byte{0x3E, 0x12, 0xAF}) // LD A,0x12; XOR A
	c.Step()                                     // LD
	if c.A != 0x12 {
		t.Fatalf("A after LD got %02x want 12", c.A)
	}
	c.Step() // XOR A
	if c.A != 0x00 {
		t.Fatalf("A after XOR got %02x want 00", c.A)
	}
	if (c.F & 0x80) == 0 { // Z flag
		t.Fatalf("Z flag not set after XOR A")
	}
}

func TestCPU_LD_a16_A_and_LD_A_a16(t *testing.T) {
	// Program: LD A,0x77; LD (0xC000),A; LD A,0x00; LD A,(0xC000)
	prog := []byte{0x3E, 0x77, 0xEA, 0x00, 0xC0, 0x3E, 0x00, 0xFA, 0x00, 0xC0}
	c := newCPUWithROM(prog)
	c.Step() // LD A,77
	c.Step() // LD (C000),A
	if a := c.bus.Read(0xC000); a != 0x77 {
		t.Fatalf("WRAM at C000 got %02x want 77", a)
	}
	c.Step() // LD A,00
	c.Step() // LD A,(C000)
	if c.A != 0x77 {
		t.Fatalf("A after LD A,(C000) got %02x want 77", c.A)
	}
}

func TestCPU_JP_and_JR(t *testing.T) {
	// JP to 0x0010 then JR -2 to loop
	prog := []byte{0xC3, 0x10, 0x00} // at 0x0000: JP 0x0010
	// Fill until 0x0010 with NOPs
	rom := make([]byte, 0x8000)
	copy(rom, prog)
	for i := 0x0003; i < 0x0010; i++ {
		rom[i] = 0x00
	}
	// at 0x0010: JR -2 (0xFE), which will hop back to 0x0010 itself (infinite)
	rom[0x0010] = 0x18
	rom[0x0011] = 0xFE
	b := bus.New(rom)
	c := New(b)
	cycles := c.Step() // JP
	if cycles != 16 || c.PC != 0x0010 {
		t.Fatalf("JP cycles=%d PC=%#04x want cycles=16 PC=0x0010", cycles, c.PC)
	}
	pcBefore := c.PC
	c.Step()              // JR -2
	if c.PC != pcBefore { // stays at 0x0010
		t.Fatalf("JR -2 PC got %#04x want %#04x", c.PC, pcBefore)
	}
}

func TestCPU_INC_B_Flags(t *testing.T) {
	c := newCPUWithROM([]byte{0x04, 0x04}) // INC B twice
	c.B = 0x0F
	c.F = 0x10 // carry set initially
	c.Step()
	if c.B != 0x10 {
		t.Fatalf("INC B result got %02x want 10", c.B)
	}
	if (c.F & 0x20) == 0 { // H set
		t.Fatalf("INC B should set H flag")
	}
	if (c.F & 0x10) == 0 { // C preserved
		t.Fatalf("INC B should preserve C flag")
	}
	c.B = 0xFF
	c.Step()
	if c.B != 0x00 || (c.F&0x80) == 0 { // Z set
		t.Fatalf("INC B to 0 should set Z flag, B=%02x, F=%02x", c.B, c.F)
	}
}

func TestCPU_LD_16bit_and_LDH(t *testing.T) {
	// Program:
	// LD HL,0xC000; LD (HL),0x5A; LD A,0x00; LD A,(0xFF00+0x00); LD (0xFF00+1),A
	prog := []byte{
		0x21, 0x00, 0xC0, // LD HL, C000
		0x36, 0x5A,       // LD (HL), 5A
		0x3E, 0x00,       // LD A, 00
		0xF0, 0x00,       // LD A, (FF00+0)
		0xE0, 0x01,       // LD (FF00+1), A
	}
	c := newCPUWithROM(prog)
	// Deselect both joypad groups so the FF00 read is deterministic; 0xA7 goes to HRAM at FF80
	c.Bus().Write(0xFF00, 0x20) // select dpad so read is deterministic
	c.Bus().Write(0xFF00, 0x30) // select none to keep 0x0F
	c.Bus().Write(0xFF80, 0xA7) // HRAM base

	c.Step(); c.Step(); c.Step(); c.Step(); c.Step()
	if v := c.Bus().Read(0xC000); v != 0x5A {
		t.Fatalf("WRAM C000 got %02x want 5A", v)
	}
	if v := c.Bus().Read(0xFF01); v != c.A {
		t.Fatalf("LDH (FF00+1),A expected write to FF01 with A=%02x got %02x", c.A, v)
	}
}

func TestCPU_CALL_RET(t *testing.T) {
	// 0000: CALL 0005; 0003: NOP; NOP; 0005: RET
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xCD
	rom[0x0001] = 0x05
	rom[0x0002] = 0x00
	for i := 0x0003; i < 0x0005; i++ { rom[i] = 0x00 }
	rom[0x0005] = 0xC9 // RET
	b := bus.New(rom)
	c := New(b)
	c.Step() // CALL
	if c.PC != 0x0005 {
		t.Fatalf("PC after CALL got %04x want 0005", c.PC)
	}
	retCycles := c.Step()
	if c.PC != 0x0003 || retCycles != 16 {
		t.Fatalf("RET did not return to 0003; PC=%04x cyc=%d", c.PC, retCycles)
	}
}

func TestCPU_LD_r_HL_AllSeven(t *testing.T) {
	// Each opcode runs in its own fresh ROM as LD HL,C000 followed by the
	// LD r,(HL) under test, with 0x99 written to C000 through the bus first,
	// since LD H,(HL) and LD L,(HL) would clobber HL in a shared sequence.
	opcodes := []byte{0x46, 0x4E, 0x56, 0x5E, 0x66, 0x6E, 0x7E}
	for _, op := range opcodes {
		rom := make([]byte, 0x8000)
		rom[0x0000] = 0x21 // LD HL,C000
		rom[0x0001] = 0x00
		rom[0x0002] = 0xC0
		rom[0x0003] = op
		b := bus.New(rom)
		c := New(b)
		c.Bus().Write(0xC000, 0x99)
		c.Step() // LD HL,C000
		cycles := c.Step()
		if cycles != 8 {
			t.Fatalf("opcode %#02x cycles = %d, want 8", op, cycles)
		}
		var got byte
		switch op {
		case 0x46:
			got = c.B
		case 0x4E:
			got = c.C
		case 0x56:
			got = c.D
		case 0x5E:
			got = c.E
		case 0x66:
			got = c.H
		case 0x6E:
			got = c.L
		case 0x7E:
			got = c.A
		}
		// 0x66/0x6E load into H/L themselves, which is also the address
		// register, so they can't be checked against 0x99 the same way.
		if op == 0x66 || op == 0x6E {
			continue
		}
		if got != 0x99 {
			t.Fatalf("opcode %#02x loaded %02x, want 99", op, got)
		}
	}
}

func TestCPU_LD_H_HL_And_L_HL(t *testing.T) {
	// 0x99 is written to C000 through the bus; LD HL,C000 then
	// LD H,(HL) should load H with the byte at C000 (0x99).
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0x21 // LD HL,C000
	rom[0x0001] = 0x00
	rom[0x0002] = 0xC0
	rom[0x0003] = 0x66 // LD H,(HL)
	b := bus.New(rom)
	c := New(b)
	c.Bus().Write(0xC000, 0x99)
	c.Step() // LD HL,C000
	c.Step() // LD H,(HL)
	if c.H != 0x99 {
		t.Fatalf("LD H,(HL) got H=%02x want 99", c.H)
	}

	rom2 := make([]byte, 0x8000)
	rom2[0x0000] = 0x21
	rom2[0x0001] = 0x00
	rom2[0x0002] = 0xC0
	rom2[0x0003] = 0x6E // LD L,(HL)
	b2 := bus.New(rom2)
	c2 := New(b2)
	c2.Bus().Write(0xC000, 0x77)
	c2.Step()
	c2.Step()
	if c2.L != 0x77 {
		t.Fatalf("LD L,(HL) got L=%02x want 77", c2.L)
	}
}

func TestCPU_HaltNormalSleepsUntilInterruptPending(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0x76 // HALT
	b := bus.New(rom)
	c := New(b)
	c.IME = false // no pending interrupt at HALT time

	if cycles := c.Step(); cycles != 4 {
		t.Fatalf("HALT cycles = %d, want 4", cycles)
	}
	if !c.halted {
		t.Fatalf("HALT with no pending interrupt should actually halt")
	}
	// Still asleep: no progress, PC unchanged.
	pc := c.PC
	c.Step()
	if c.PC != pc || !c.halted {
		t.Fatalf("CPU should remain halted with no interrupt pending")
	}
	// Interrupt becomes pending: wakes without servicing (IME is off).
	c.Bus().Write(0xFF0F, 0x01)
	c.Bus().Write(0xFFFF, 0x01)
	c.Step()
	if c.halted {
		t.Fatalf("CPU should wake once an interrupt is pending, even with IME off")
	}
}

func TestCPU_HaltBugDoubleFetchesNextByte(t *testing.T) {
	// HALT executes with IME off and a VBlank interrupt already pending:
	// the halt bug fires, so the CPU never halts and the byte right after
	// HALT (0x3C, INC A) is executed twice instead of once.
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0x76 // HALT
	rom[0x0001] = 0x3C // INC A
	b := bus.New(rom)
	c := New(b)
	c.IME = false
	c.Bus().Write(0xFF0F, 0x01)
	c.Bus().Write(0xFFFF, 0x01)

	c.Step() // HALT: sets haltBug, does not actually halt
	if c.halted {
		t.Fatalf("HALT bug should not actually halt the CPU")
	}
	if c.PC != 0x0001 {
		t.Fatalf("PC after HALT (bug case) = %#04x, want 0x0001", c.PC)
	}

	c.Step() // first fetch of 0x3C: re-reads the same byte, PC does not advance
	if c.A != 1 {
		t.Fatalf("A after first post-HALT-bug INC A = %d, want 1", c.A)
	}
	if c.PC != 0x0001 {
		t.Fatalf("PC should not advance on the halt-bug double fetch, got %#04x", c.PC)
	}

	c.Step() // second fetch of 0x3C: now a normal fetch, PC advances
	if c.A != 2 {
		t.Fatalf("A after second post-HALT-bug INC A = %d, want 2", c.A)
	}
	if c.PC != 0x0002 {
		t.Fatalf("PC after the halt-bug's second fetch = %#04x, want 0x0002", c.PC)
	}
}

func TestCPU_EIDelaysIMEByOneInstruction(t *testing.T) {
	// EI; NOP; NOP -- IME must still read false immediately after EI and
	// during the very next instruction, only becoming true once that
	// instruction has completed.
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xFB // EI
	rom[0x0001] = 0x00 // NOP
	rom[0x0002] = 0x00 // NOP
	b := bus.New(rom)
	c := New(b)

	c.Step() // EI
	if c.IME {
		t.Fatalf("IME should still be false immediately after EI executes")
	}

	c.Step() // NOP (the instruction immediately following EI)
	if c.IME {
		t.Fatalf("IME should still be false during the instruction right after EI")
	}

	c.Step() // NOP (second instruction after EI): IME takes effect now
	if !c.IME {
		t.Fatalf("IME should be true by the second instruction after EI")
	}
}

func TestCPU_EIThenPendingInterruptDoesNotPreemptNextInstruction(t *testing.T) {
	// A pending interrupt right after EI must not fire until the
	// instruction following EI has fully executed.
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xFB // EI
	rom[0x0001] = 0x3C // INC A (the instruction EI must not preempt)
	b := bus.New(rom)
	c := New(b)
	c.Bus().Write(0xFF0F, 0x01)
	c.Bus().Write(0xFFFF, 0x01)

	c.Step() // EI
	c.Step() // should execute INC A, not dispatch the interrupt
	if c.A != 1 {
		t.Fatalf("instruction after EI should execute normally, A=%d want 1", c.A)
	}
	if c.PC != 0x0002 {
		t.Fatalf("PC after the instruction following EI = %#04x, want 0x0002", c.PC)
	}
}

func TestCPU_InterruptDispatchCostAndVector(t *testing.T) {
	rom := make([]byte, 0x8000)
	b := bus.New(rom)
	c := New(b)
	c.IME = true
	c.SP = 0xFFFE
	c.PC = 0x0150
	c.Bus().Write(0xFF0F, 0x01) // VBlank pending
	c.Bus().Write(0xFFFF, 0x01)

	cycles := c.Step()
	if cycles != 20 {
		t.Fatalf("interrupt dispatch cycles = %d, want 20", cycles)
	}
	if c.PC != 0x0040 {
		t.Fatalf("PC after VBlank dispatch = %#04x, want 0x0040", c.PC)
	}
	if c.IME {
		t.Fatalf("IME should be cleared on interrupt dispatch")
	}
	if got := c.Bus().Read(0xFF0F) & 0x01; got != 0 {
		t.Fatalf("IF VBlank bit should be acknowledged/cleared, got %#02x", got)
	}
	if ret := c.pop16(); ret != 0x0150 {
		t.Fatalf("pushed return address = %#04x, want 0x0150", ret)
	}
}

func TestCPU_STOPTogglesSpeed(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0x10 // STOP
	rom[0x0001] = 0x00 // padding byte
	b := bus.New(rom)
	b.SetCGBMode(true)
	c := New(b)
	c.Bus().Write(0xFF4D, 0x01) // arm the speed switch

	before := c.Bus().DoubleSpeed()
	c.Step()
	if c.Bus().DoubleSpeed() == before {
		t.Fatalf("STOP with KEY1 armed should toggle double speed")
	}
	if c.PC != 0x0002 {
		t.Fatalf("STOP should consume its padding byte, PC=%#04x want 0x0002", c.PC)
	}
}

func TestCPU_IllegalOpcodePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on illegal opcode")
		}
	}()
	c := newCPUWithROM([]byte{0xD3}) // illegal
	c.Step()
}

