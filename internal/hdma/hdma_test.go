package hdma

import "testing"

type fakeVRAM struct {
	mem map[uint16]byte
}

func newFakeVRAM() *fakeVRAM { return &fakeVRAM{mem: make(map[uint16]byte)} }

func (f *fakeVRAM) HDMAWriteVRAM(addr uint16, v byte) { f.mem[addr] = v }

func fakeSource(base uint16) Reader {
	return func(addr uint16) byte { return byte(addr - base) }
}

func TestGeneralPurposeTransferCopiesAllBlocks(t *testing.T) {
	c := New()
	vram := newFakeVRAM()
	c.WriteReg(0xFF51, 0x01) // src hi
	c.WriteReg(0xFF52, 0x00) // src lo
	c.WriteReg(0xFF53, 0x00) // dst hi (within 0x8000-0x9FFF)
	c.WriteReg(0xFF54, 0x00) // dst lo
	c.WriteReg(0xFF55, 0x01) // 2 blocks, general purpose (bit7=0)

	ticked := 0
	c.RunGeneralPurpose(fakeSource(0x0100), vram, func(cycles int) { ticked++ })

	if c.active {
		t.Fatalf("transfer should complete synchronously")
	}
	if ticked != 2 {
		t.Fatalf("tick called %d times, want 2 (one per block)", ticked)
	}
	if len(vram.mem) != 32 {
		t.Fatalf("wrote %d bytes, want 32 (2 blocks * 16)", len(vram.mem))
	}
	if vram.mem[0x8000] != 0 || vram.mem[0x800F] != 0x0F {
		t.Fatalf("unexpected first-block contents")
	}
	if vram.mem[0x8010] != 0x10 {
		t.Fatalf("unexpected second-block contents: %02X", vram.mem[0x8010])
	}
}

func TestHBlankModeRunsOneBlockPerCall(t *testing.T) {
	c := New()
	vram := newFakeVRAM()
	c.WriteReg(0xFF51, 0x01)
	c.WriteReg(0xFF52, 0x00)
	c.WriteReg(0xFF53, 0x00)
	c.WriteReg(0xFF54, 0x00)
	c.WriteReg(0xFF55, 0x81) // 2 blocks, HBlank mode (bit7=1)

	c.OnHBlank(fakeSource(0x0100), vram, nil)
	if !c.active {
		t.Fatalf("HBlank transfer should still be armed after one block")
	}
	if len(vram.mem) != 16 {
		t.Fatalf("wrote %d bytes after one HBlank call, want 16", len(vram.mem))
	}

	c.OnHBlank(fakeSource(0x0100), vram, nil)
	if c.active {
		t.Fatalf("HBlank transfer should complete after the second block")
	}
	if len(vram.mem) != 32 {
		t.Fatalf("wrote %d bytes total, want 32", len(vram.mem))
	}
}

func TestHBlankModeIgnoresGeneralPurposeRun(t *testing.T) {
	c := New()
	vram := newFakeVRAM()
	c.WriteReg(0xFF55, 0x80) // armed, HBlank mode, 1 block

	c.RunGeneralPurpose(fakeSource(0x0000), vram, func(int) {
		t.Fatalf("RunGeneralPurpose should not tick for an HBlank-mode transfer")
	})
	if !c.active {
		t.Fatalf("HBlank-mode transfer should remain armed until OnHBlank runs it")
	}
}

func TestCancelInProgressHBlankTransfer(t *testing.T) {
	c := New()
	c.WriteReg(0xFF55, 0x81) // armed, HBlank mode, 2 blocks
	c.WriteReg(0xFF55, 0x00) // bit7=0 while active cancels it

	if c.active {
		t.Fatalf("writing HDMA5 with bit7 clear while active should cancel the transfer")
	}
}

func TestReadHDMA5ReportsRemainingBlocks(t *testing.T) {
	c := New()
	if got := c.ReadHDMA5(); got != 0xFF {
		t.Fatalf("ReadHDMA5() with no transfer active = %02X, want FF", got)
	}
	c.WriteReg(0xFF55, 0x03) // 4 blocks, general purpose
	if got := c.ReadHDMA5(); got != 0x03 {
		t.Fatalf("ReadHDMA5() = %02X, want 03 (4 blocks - 1)", got)
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	c := New()
	c.SetDoubleSpeed(true)
	c.WriteReg(0xFF51, 0x02)
	c.WriteReg(0xFF52, 0x10)
	c.WriteReg(0xFF53, 0x01)
	c.WriteReg(0xFF54, 0x20)
	c.WriteReg(0xFF55, 0x85) // armed, HBlank mode, 6 blocks

	data := c.SaveState()

	c2 := New()
	c2.LoadState(data)
	if !c2.active || !c2.hblankMode || !c2.doubleSpeed {
		t.Fatalf("LoadState did not restore active/hblankMode/doubleSpeed flags")
	}
	if c2.source() != c.source() || c2.dest() != c.dest() {
		t.Fatalf("LoadState did not restore source/dest registers")
	}
	if c2.blocksLeft != c.blocksLeft {
		t.Fatalf("LoadState blocksLeft = %d, want %d", c2.blocksLeft, c.blocksLeft)
	}
}
