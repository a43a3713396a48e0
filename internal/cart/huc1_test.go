package cart

import "testing"

func huc1ROM(banks int) []byte {
	rom := make([]byte, banks*0x4000)
	for b := 0; b < banks; b++ {
		rom[b*0x4000] = byte(b)
	}
	return rom
}

func TestHuC1ROMBankSwitch(t *testing.T) {
	m := NewHuC1(huc1ROM(4), 0x2000)
	m.Write(0x2000, 0x02) // select bank 2
	if got := m.Read(0x4000); got != 2 {
		t.Fatalf("Read(0x4000) = %d, want bank 2 marker", got)
	}
	m.Write(0x2000, 0x00) // bank 0 aliases to bank 1
	if got := m.Read(0x4000); got != 1 {
		t.Fatalf("Read(0x4000) with bank=0 write = %d, want aliased bank 1", got)
	}
}

func TestHuC1RAMReadWrite(t *testing.T) {
	m := NewHuC1(huc1ROM(2), 0x2000)
	m.Write(0xA000, 0x42)
	if got := m.Read(0xA000); got != 0x42 {
		t.Fatalf("Read(0xA000) = %02X, want 42", got)
	}
}

func TestHuC1IRModeSharesRAMRange(t *testing.T) {
	m := NewHuC1(huc1ROM(2), 0x2000)
	m.Write(0xA000, 0x55) // RAM write before entering IR mode
	m.Write(0x0000, 0x0E) // enter IR mode
	if got := m.Read(0xA000); got != 0xC0 {
		t.Fatalf("Read(0xA000) in IR mode = %02X, want C0", got)
	}
	m.Write(0xA000, 0x01) // IR transmitter on
	if !m.irTransmitter {
		t.Fatalf("expected irTransmitter = true")
	}
	m.Write(0x0000, 0x00) // leave IR mode
	if got := m.Read(0xA000); got != 0x55 {
		t.Fatalf("RAM contents should be unaffected by IR mode, got %02X", got)
	}
}

func TestHuC1SaveLoadStateRoundTrip(t *testing.T) {
	m := NewHuC1(huc1ROM(4), 0x2000)
	m.Write(0x2000, 0x03)
	m.Write(0xA000, 0x99)

	data := m.SaveState()

	m2 := NewHuC1(huc1ROM(4), 0x2000)
	m2.LoadState(data)
	if m2.romBank != 3 {
		t.Fatalf("LoadState romBank = %d, want 3", m2.romBank)
	}
	if got := m2.Read(0xA000); got != 0x99 {
		t.Fatalf("LoadState RAM = %02X, want 99", got)
	}
}

func TestHuC1BatteryRAMRoundTrip(t *testing.T) {
	m := NewHuC1(huc1ROM(2), 0x2000)
	m.Write(0xA000, 0x77)
	saved := m.SaveRAM()
	if len(saved) == 0 {
		t.Fatalf("expected non-empty SaveRAM")
	}
	m2 := NewHuC1(huc1ROM(2), 0x2000)
	m2.LoadRAM(saved)
	if got := m2.Read(0xA000); got != 0x77 {
		t.Fatalf("LoadRAM did not restore RAM contents, got %02X", got)
	}
}
