package cheat

import "testing"

func TestParseGameSharkRejectsOutOfRangeAddress(t *testing.T) {
	// BB=00 NN=00 AA=00 LH=00 -> address 0x0000, outside 0xA000-0xDFFF.
	if _, err := ParseGameShark("00000000"); err == nil {
		t.Fatalf("expected error for out-of-range GameShark address")
	}
}

func TestParseGameSharkValid(t *testing.T) {
	// bank=01 newData=2A addrLo=00 addrHi=C0 -> address 0xC000
	c, err := ParseGameShark("012A00C0")
	if err != nil {
		t.Fatalf("ParseGameShark: %v", err)
	}
	if c.Address != 0xC000 || c.NewData != 0x2A || !c.HasBank || c.Bank != 0x01 {
		t.Fatalf("unexpected cheat: %+v", c)
	}
}

func TestParseGameGenieRejectsOutOfRangeAddress(t *testing.T) {
	// addrHi digit '0' XORs with 0xF000 to land in 0xF000-0xFFFF, always
	// outside the cartridge ROM range Game Genie codes may target.
	if _, err := ParseGameGenie("001-230"); err == nil {
		t.Fatalf("expected error for Game Genie address >= 0x8000 after XOR decode")
	}
}

func TestRegisterEnforcesLimit(t *testing.T) {
	e := New()
	for i := 0; i < Limit; i++ {
		if err := e.Register(string(rune('a'+i)), Cheat{Address: uint16(i)}); err != nil {
			t.Fatalf("Register #%d: %v", i, err)
		}
	}
	if err := e.Register("overflow", Cheat{}); err == nil {
		t.Fatalf("expected error once Limit cheats are registered")
	}
	if e.Len() != Limit {
		t.Fatalf("Len() = %d, want %d", e.Len(), Limit)
	}
}

func TestApplyIfNeededBankMatch(t *testing.T) {
	e := New()
	c := Cheat{Address: 0xA100, NewData: 0x99, HasBank: true, Bank: 3}
	if err := e.Register("x", c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	bankOf := func(addr uint16) byte { return 3 }
	if got := e.ApplyIfNeeded(0xA100, 0x11, bankOf); got != 0x99 {
		t.Fatalf("ApplyIfNeeded matching bank = %02X, want 99", got)
	}
	bankOfWrong := func(addr uint16) byte { return 2 }
	if got := e.ApplyIfNeeded(0xA100, 0x11, bankOfWrong); got != 0x11 {
		t.Fatalf("ApplyIfNeeded wrong bank should leave data unchanged, got %02X", got)
	}
}

func TestApplyIfNeededOldDataMatch(t *testing.T) {
	e := New()
	c := Cheat{Address: 0x4000, NewData: 0x55, HasOldData: true, OldData: 0x11}
	if err := e.Register("x", c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := e.ApplyIfNeeded(0x4000, 0x11, nil); got != 0x55 {
		t.Fatalf("ApplyIfNeeded matching old data = %02X, want 55", got)
	}
	if got := e.ApplyIfNeeded(0x4000, 0x22, nil); got != 0x22 {
		t.Fatalf("ApplyIfNeeded mismatched old data should leave unchanged, got %02X", got)
	}
}

func TestUnregisterRemovesCheat(t *testing.T) {
	e := New()
	_ = e.Register("x", Cheat{Address: 0x4000, NewData: 0x55})
	e.Unregister("x")
	if e.Len() != 0 {
		t.Fatalf("Len() = %d after Unregister, want 0", e.Len())
	}
	if got := e.ApplyIfNeeded(0x4000, 0x22, nil); got != 0x22 {
		t.Fatalf("ApplyIfNeeded after Unregister = %02X, want unchanged 22", got)
	}
}
