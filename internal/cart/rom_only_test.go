package cart

import "testing"

func TestROMOnlyReadsFixedArea(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0150] = 0xAB
	c := NewROMOnly(rom)
	if got := c.Read(0x0150); got != 0xAB {
		t.Fatalf("Read(0x0150) = %02X, want AB", got)
	}
}

func TestROMOnlyHasNoExternalRAM(t *testing.T) {
	c := NewROMOnly(make([]byte, 0x8000))
	c.Write(0xA000, 0x42) // ignored
	if got := c.Read(0xA000); got != 0xFF {
		t.Fatalf("Read(0xA000) = %02X, want FF (no RAM)", got)
	}
}

func TestROMOnlyWritesToROMAreIgnored(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x2000] = 0x11
	c := NewROMOnly(rom)
	c.Write(0x2000, 0x99)
	if got := c.Read(0x2000); got != 0x11 {
		t.Fatalf("Read(0x2000) after write = %02X, want unchanged 11", got)
	}
}

func TestROMOnlyIsNotBatteryBacked(t *testing.T) {
	c := NewROMOnly(make([]byte, 0x8000))
	if _, ok := interface{}(c).(BatteryBacked); ok {
		t.Fatalf("ROMOnly must not implement BatteryBacked")
	}
}
