package cart

import "testing"

func mbc5ROM(banks int) []byte {
	rom := make([]byte, banks*0x4000)
	for b := 0; b < banks; b++ {
		rom[b*0x4000] = byte(b)
	}
	return rom
}

func TestMBC5LowByteBankSelect(t *testing.T) {
	m := NewMBC5(mbc5ROM(4), 0)
	m.Write(0x2000, 0x03)
	if got := m.Read(0x4000); got != 3 {
		t.Fatalf("Read(0x4000) = %d, want bank 3 marker", got)
	}
}

func TestMBC5BankZeroWriteAliasesToOne(t *testing.T) {
	// Writing 0 to the low-byte register (with bit 8 clear) does not select
	// bank 0: the romBank field itself lands at an aliased 1.
	m := NewMBC5(mbc5ROM(4), 0)
	m.Write(0x2000, 0x02)
	m.Write(0x2000, 0x00)
	if m.romBank != 1 {
		t.Fatalf("romBank after selecting 0 = %d, want aliased 1", m.romBank)
	}
}

func TestMBC5HighBitExtendsBankNumber(t *testing.T) {
	m := NewMBC5(mbc5ROM(2), 0)
	m.Write(0x2000, 0x00) // low byte 0 -> aliased to 1
	m.Write(0x3000, 0x01) // set bit 8
	if m.romBank != 0x101 {
		t.Fatalf("romBank = %#x, want 0x101", m.romBank)
	}
	m.Write(0x3000, 0x00) // clear bit 8
	if m.romBank != 0x001 {
		t.Fatalf("romBank after clearing bit8 = %#x, want 0x001", m.romBank)
	}
}

func TestMBC5RAMRequiresEnable(t *testing.T) {
	m := NewMBC5(mbc5ROM(2), 0x2000)
	m.Write(0xA000, 0x42) // RAM not enabled yet
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("Read(0xA000) before enabling RAM = %02X, want FF", got)
	}
	m.Write(0x0000, 0x0A) // enable RAM
	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("Read(0xA000) after enabling RAM = %02X, want 42", got)
	}
}

func TestMBC5RumbleBitDoesNotSelectRAMBank(t *testing.T) {
	m := NewMBC5Rumble(mbc5ROM(2), 0x8000) // 4 RAM banks
	m.Write(0x0000, 0x0A)
	m.Write(0x4000, 0x0F) // bit3 set (rumble) + bank bits 0-2
	if !m.RumbleActive() {
		t.Fatalf("expected rumble motor engaged")
	}
	if m.ramBank&0x08 != 0 {
		t.Fatalf("rumble bit must not leak into ramBank, got %#x", m.ramBank)
	}
}

func TestMBC5SaveLoadStateRoundTrip(t *testing.T) {
	m := NewMBC5(mbc5ROM(4), 0x2000)
	m.Write(0x2000, 0x02)
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x77)

	data := m.SaveState()

	m2 := NewMBC5(mbc5ROM(4), 0x2000)
	m2.LoadState(data)
	if m2.romBank != 2 {
		t.Fatalf("LoadState romBank = %d, want 2", m2.romBank)
	}
	if got := m2.Read(0xA000); got != 0x77 {
		t.Fatalf("LoadState RAM = %02X, want 77", got)
	}
}
