package emu

import (
	"encoding/binary"
	"testing"
)

// buildTestROM constructs a synthetic cartridge with a valid header/checksum
// and a JP 0x0100 instruction at the entry point, so the CPU has somewhere
// safe to spin without running off into unmapped opcode space.
func buildTestROM(title string, cgbFlag, cartType, ramSizeCode byte) []byte {
	rom := make([]byte, 32*1024)
	copy(rom[0x0134:0x0144], []byte(title))
	rom[0x0143] = cgbFlag
	rom[0x0144], rom[0x0145] = '0', '1'
	rom[0x0147] = cartType
	rom[0x0148] = 0x00 // 32 KiB, no banking
	rom[0x0149] = ramSizeCode
	rom[0x014B] = 0x33

	var hsum byte
	for addr := 0x0134; addr <= 0x014C; addr++ {
		hsum = hsum - rom[addr] - 1
	}
	rom[0x014D] = hsum

	var gsum uint16
	for i := range rom {
		if i == 0x014E || i == 0x014F {
			continue
		}
		gsum += uint16(rom[i])
	}
	binary.BigEndian.PutUint16(rom[0x014E:0x0150], gsum)

	rom[0x0100] = 0xC3 // JP 0x0100
	rom[0x0101] = 0x00
	rom[0x0102] = 0x01
	return rom
}

func TestLoadCartridgeAndStepFrame(t *testing.T) {
	m := New(Config{})
	rom := buildTestROM("TESTGAME", 0x00, 0x00, 0x00)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if m.ROMTitle() != "TESTGAME" {
		t.Fatalf("ROMTitle = %q, want TESTGAME", m.ROMTitle())
	}
	if m.UseCGBBG() {
		t.Fatalf("DMG-only cart should not auto-enable CGB hardware mode")
	}
	if !m.IsCGBCompat() {
		t.Fatalf("DMG-only cart should be compat-palette eligible")
	}

	m.StepFrame()
	fb := m.Framebuffer()
	if len(fb) != 160*144*4 {
		t.Fatalf("framebuffer size = %d, want %d", len(fb), 160*144*4)
	}
}

func TestStepFrameNoRenderSkipsCopy(t *testing.T) {
	m := New(Config{})
	rom := buildTestROM("TESTGAME", 0x00, 0x00, 0x00)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	before := append([]byte(nil), m.Framebuffer()...)
	m.StepFrameNoRender()
	after := m.Framebuffer()
	if len(after) != len(before) {
		t.Fatalf("framebuffer length changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("framebuffer byte %d changed without rendering: %02X -> %02X", i, before[i], after[i])
		}
	}
}

func TestCompatPaletteCycling(t *testing.T) {
	m := New(Config{})
	rom := buildTestROM("UNKNOWN TITLE", 0x00, 0x00, 0x00)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}

	m.SetCompatPalette(0)
	if got := m.CompatPaletteName(0); got != "Green" {
		t.Fatalf("CompatPaletteName(0) = %q, want Green", got)
	}

	m.CycleCompatPalette(1)
	if m.CurrentCompatPalette() != 1 {
		t.Fatalf("CycleCompatPalette(1) = %d, want 1", m.CurrentCompatPalette())
	}

	m.SetCompatPalette(-1)
	if want := len(cgbCompatSets) - 1; m.CurrentCompatPalette() != want {
		t.Fatalf("SetCompatPalette(-1) = %d, want %d (wrap)", m.CurrentCompatPalette(), want)
	}
}

func TestCGBHardwareModeAutoEnableAndToggle(t *testing.T) {
	m := New(Config{})
	rom := buildTestROM("TESTGAME", 0x80, 0x00, 0x00) // CGB-enhanced
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if !m.UseCGBBG() {
		t.Fatalf("CGB-flagged cart should auto-enable CGB hardware mode")
	}

	m.SetUseCGBBG(false)
	if m.UseCGBBG() || m.WantCGBColors() {
		t.Fatalf("SetUseCGBBG(false) did not stick")
	}

	m.ResetCGBPostBoot(true)
	if !m.UseCGBBG() {
		t.Fatalf("ResetCGBPostBoot(true) did not re-enable CGB hardware mode")
	}
}

func TestCGBOnlyCartIsNotCompatEligible(t *testing.T) {
	m := New(Config{})
	rom := buildTestROM("TESTGAME", 0xC0, 0x00, 0x00) // CGB-only
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if m.IsCGBCompat() {
		t.Fatalf("CGB-only cart should not be compat-palette eligible")
	}
	if !m.UseCGBBG() {
		t.Fatalf("CGB-only cart should auto-enable CGB hardware mode")
	}
}

func TestBatteryRoundTrip(t *testing.T) {
	m := New(Config{})
	rom := buildTestROM("TESTGAME", 0x00, 0x03, 0x02) // MBC1+RAM+BATTERY, 8KB RAM
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}

	data, ok := m.SaveBattery()
	if !ok {
		t.Fatalf("expected battery-backed cart to support SaveBattery")
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty RAM image")
	}
	data[0] = 0x42

	if !m.LoadBattery(data) {
		t.Fatalf("expected LoadBattery to succeed")
	}
	reloaded, ok := m.SaveBattery()
	if !ok || len(reloaded) == 0 || reloaded[0] != 0x42 {
		t.Fatalf("battery data did not round-trip: %v", reloaded)
	}
}

func TestBatteryRoundTripNoRAM(t *testing.T) {
	m := New(Config{})
	rom := buildTestROM("TESTGAME", 0x00, 0x00, 0x00) // plain ROM-only
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if _, ok := m.SaveBattery(); ok {
		t.Fatalf("ROM-only cart should not report battery-backed RAM")
	}
	if m.LoadBattery([]byte{1, 2, 3}) {
		t.Fatalf("ROM-only cart should reject LoadBattery")
	}
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	m := New(Config{})
	rom := buildTestROM("TESTGAME", 0x00, 0x00, 0x00)
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.StepFrame()

	dir := t.TempDir()
	path := dir + "/state.sav"
	if err := m.SaveStateToFile(path); err != nil {
		t.Fatalf("SaveStateToFile: %v", err)
	}
	if err := m.LoadStateFromFile(path); err != nil {
		t.Fatalf("LoadStateFromFile: %v", err)
	}
}

func TestSetButtonsDoesNotPanicWithoutCartridge(t *testing.T) {
	m := New(Config{})
	m.SetButtons(Buttons{A: true, Up: true})
}
