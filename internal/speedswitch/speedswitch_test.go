package speedswitch

import "testing"

func TestToggleRequiresArmedAndCGB(t *testing.T) {
	s := New(true)
	if s.Toggle() {
		t.Fatalf("Toggle without arming should not change speed")
	}
	s.WriteKEY1(0x01)
	if !s.Toggle() {
		t.Fatalf("Toggle after arming should change speed")
	}
	if !s.Double() {
		t.Fatalf("Double() = false after a successful toggle")
	}
	if s.armed {
		t.Fatalf("Toggle should disarm after firing")
	}
}

func TestToggleIgnoredOnDMG(t *testing.T) {
	s := New(false)
	s.WriteKEY1(0x01)
	if s.armed {
		t.Fatalf("WriteKEY1 should be a no-op on DMG hardware")
	}
	if s.Toggle() {
		t.Fatalf("Toggle should never fire on DMG hardware")
	}
}

func TestReadKEY1Bits(t *testing.T) {
	s := New(true)
	if got := s.ReadKEY1(); got != 0x7E {
		t.Fatalf("ReadKEY1() = %02X, want 7E", got)
	}
	s.WriteKEY1(0x01)
	if got := s.ReadKEY1(); got != 0x7F {
		t.Fatalf("ReadKEY1() armed = %02X, want 7F", got)
	}
	s.Toggle()
	if got := s.ReadKEY1(); got != 0xFE {
		t.Fatalf("ReadKEY1() double-speed = %02X, want FE", got)
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	s := New(true)
	s.WriteKEY1(0x01)
	s.Toggle()

	data := s.SaveState()

	s2 := New(false)
	s2.LoadState(data)
	if !s2.Double() {
		t.Fatalf("LoadState did not restore double-speed")
	}
	if s2.Toggle() {
		t.Fatalf("restored switch should not be armed")
	}
	if !s2.cgb {
		t.Fatalf("LoadState did not restore cgb flag")
	}
}
