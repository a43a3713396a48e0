package emu

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mholtcode/gbz80core/internal/bus"
	"github.com/mholtcode/gbz80core/internal/cart"
	"github.com/mholtcode/gbz80core/internal/cpu"
)

// cyclesPerFrame is the classic DMG/CGB dot count per frame: 154 lines of
// 456 dots each. The bus advances the PPU one dot per CPU T-cycle in both
// speed modes, so the same budget covers one PPU frame in double speed too.
const cyclesPerFrame = 456 * 154

type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// Machine aggregates the CPU, bus, and cartridge into the single object the
// CLI and UI front ends drive. It owns no rendering/audio policy beyond
// exposing the PPU framebuffer and APU ring buffers for the host to present.
type Machine struct {
	cfg Config
	w, h int
	fb   []byte // RGBA 160x144*4, updated by StepFrame

	bus *bus.Bus
	cpu *cpu.CPU

	header  *cart.Header
	romPath string
	bootROM []byte

	useCGBBG        bool // CGB hardware register/banking semantics active
	compatPaletteID int

	serialWriter io.Writer
}

func New(cfg Config) *Machine {
	return &Machine{
		cfg: cfg, w: 160, h: 144,
		fb: make([]byte, 160*144*4),
	}
}

// LoadCartridge builds a fresh Bus/CPU pair around rom and resets to a
// post-boot state (or to the supplied boot ROM's entry point, if given).
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	m.header = h

	c := cart.NewCartridge(rom)
	b := bus.NewWithCartridge(c)
	m.bus = b
	m.cpu = cpu.New(b)

	if len(boot) >= 0x100 {
		m.bootROM = boot
	}
	if m.serialWriter != nil {
		b.SetSerialWriter(m.serialWriter)
	}

	// CGB-aware and CGB-only carts boot straight into CGB hardware mode;
	// DMG-only carts start in plain DMG mode until the user opts into
	// "CGB Colors" (SetUseCGBBG/ResetCGBPostBoot).
	m.useCGBBG = h.CGBFlag == 0x80 || h.CGBFlag == 0xC0
	b.SetCGBMode(m.useCGBBG)

	if len(m.bootROM) >= 0x100 {
		b.SetBootROM(m.bootROM)
		m.cpu.SetPC(0x0000)
	} else {
		m.cpu.ResetNoBoot()
		m.cpu.SetPC(0x0100)
	}

	if m.IsCGBCompat() {
		if id, ok := autoCompatPaletteFromHeader(h); ok {
			m.SetCompatPalette(id)
		}
	} else {
		m.compatPaletteID = 0
		b.PPU().SetCompatPalette(nil)
	}

	return nil
}

// LoadROMFromFile reads rom bytes from disk and loads them, remembering the
// path for ROMPath/save-file derivation. The currently configured boot ROM
// (if any) carries over.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(rom, m.bootROM); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path LoadROMFromFile was last called with.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title, or "" if no ROM is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// SetBootROM configures the boot ROM image used by subsequent LoadCartridge/
// LoadROMFromFile/ResetWithBoot calls.
func (m *Machine) SetBootROM(data []byte) {
	m.bootROM = data
	if m.bus != nil {
		m.bus.SetBootROM(data)
	}
}

// SetSerialWriter attaches a sink for serial-port bytes (used by test ROMs
// to report pass/fail over the link cable). Safe to call before or after a
// cartridge is loaded; the writer is reapplied to each new Bus.
func (m *Machine) SetSerialWriter(w io.Writer) {
	m.serialWriter = w
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// LoadBattery restores cartridge RAM from a .sav image. Returns false if the
// cartridge has no battery-backed RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns a copy of cartridge RAM for persisting to a .sav file.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// SaveStateToFile serializes the whole machine (bus, PPU, APU, cartridge,
// etc.) to path.
func (m *Machine) SaveStateToFile(path string) error {
	if m.bus == nil {
		return errors.New("emu: no cartridge loaded")
	}
	return os.WriteFile(path, m.bus.SaveState(), 0644)
}

// LoadStateFromFile restores a save state written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	if m.bus == nil {
		return errors.New("emu: no cartridge loaded")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.bus.LoadState(data)
	return nil
}

// stepCycles runs CPU instructions (each of which ticks the bus for its
// elapsed cycles) until at least budget cycles have elapsed.
func (m *Machine) stepCycles(budget int) {
	for budget > 0 {
		if m.cfg.Trace {
			pc := m.cpu.PC
			fmt.Fprintf(os.Stderr, "PC=%04X A=%02X F=%02X SP=%04X\n", pc, m.cpu.A, m.cpu.F, m.cpu.SP)
		}
		budget -= m.cpu.Step()
	}
}

// StepFrame advances emulation by one frame and copies the freshly rendered
// framebuffer out for the host to present.
func (m *Machine) StepFrame() {
	if m.cpu == nil {
		return
	}
	m.stepCycles(cyclesPerFrame)
	copy(m.fb, m.bus.PPU().Framebuffer())
}

// StepFrameNoRender advances emulation by one frame without copying the
// framebuffer, for headless test-ROM loops that only care about serial output.
func (m *Machine) StepFrameNoRender() {
	if m.cpu == nil {
		return
	}
	m.stepCycles(cyclesPerFrame)
}

func (m *Machine) Framebuffer() []byte { return m.fb }

// SetButtons applies the current input state to the joypad register.
func (m *Machine) SetButtons(btn Buttons) {
	if m.bus == nil {
		return
	}
	var mask byte
	if btn.Right {
		mask |= bus.JoypRight
	}
	if btn.Left {
		mask |= bus.JoypLeft
	}
	if btn.Up {
		mask |= bus.JoypUp
	}
	if btn.Down {
		mask |= bus.JoypDown
	}
	if btn.A {
		mask |= bus.JoypA
	}
	if btn.B {
		mask |= bus.JoypB
	}
	if btn.Select {
		mask |= bus.JoypSelectBtn
	}
	if btn.Start {
		mask |= bus.JoypStart
	}
	m.bus.SetJoypadState(mask)
}

// SetUseFetcherBG records the BG renderer preference for front ends that
// expose it. The PPU has one BG path per hardware mode (the fetcher for DMG,
// the attribute-aware scanline helpers for CGB), so rendering does not change.
func (m *Machine) SetUseFetcherBG(v bool) { m.cfg.UseFetcherBG = v }

// UseCGBBG/WantCGBColors both report whether CGB hardware register/banking
// semantics are currently active; the distinct names mirror how the UI
// layer asks the same question in different contexts (rendering vs. menu
// toggle state).
func (m *Machine) UseCGBBG() bool      { return m.useCGBBG }
func (m *Machine) WantCGBColors() bool { return m.useCGBBG }

// SetUseCGBBG flips CGB hardware mode on the live Bus/PPU without resetting
// CPU state (used mid-session by the UI's quick toggle before a full reset).
func (m *Machine) SetUseCGBBG(v bool) {
	m.useCGBBG = v
	if m.bus != nil {
		m.bus.SetCGBMode(v)
	}
}

// IsCGBCompat reports whether the loaded cartridge is eligible for the DMG
// color-compatibility palette overlay: any cart that isn't CGB-exclusive.
// CGB-exclusive carts (header flag 0xC0) supply their own tile-attribute
// colors and never fall back to the compat shades.
func (m *Machine) IsCGBCompat() bool {
	if m.header == nil {
		return false
	}
	return m.header.CGBFlag != 0xC0
}

// ResetPostBoot resets to typical post-boot register state and jumps
// straight to the cartridge entry point at 0x0100, bypassing any boot ROM.
func (m *Machine) ResetPostBoot() {
	if m.bus == nil {
		return
	}
	m.bus.SetBootROM(nil)
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
}

// ResetWithBoot resets and, if a boot ROM is configured, runs it from
// 0x0000; otherwise it falls back to ResetPostBoot.
func (m *Machine) ResetWithBoot() {
	if m.bus == nil {
		return
	}
	if len(m.bootROM) >= 0x100 {
		m.bus.SetBootROM(m.bootROM)
		m.cpu.SetPC(0x0000)
		return
	}
	m.ResetPostBoot()
}

// ResetCGBPostBoot resets to post-boot state with CGB hardware mode set to
// cgb, used when the user toggles "CGB Colors" for the currently loaded ROM.
func (m *Machine) ResetCGBPostBoot(cgb bool) {
	if m.bus == nil {
		return
	}
	m.useCGBBG = cgb
	m.bus.SetCGBMode(cgb)
	m.ResetPostBoot()
}

// CompatPaletteName returns the display name of compat palette id, or "" if
// out of range.
func (m *Machine) CompatPaletteName(id int) string {
	if id < 0 || id >= len(cgbCompatSetNames) {
		return ""
	}
	return cgbCompatSetNames[id]
}

// CurrentCompatPalette returns the active compat palette id.
func (m *Machine) CurrentCompatPalette() int { return m.compatPaletteID }

// SetCompatPalette selects compat palette id (wrapping into range) and
// applies it to the live PPU.
func (m *Machine) SetCompatPalette(id int) {
	n := len(cgbCompatSets)
	id %= n
	if id < 0 {
		id += n
	}
	m.compatPaletteID = id
	m.applyCompatPalette()
}

// CycleCompatPalette moves the active compat palette by delta (wrapping).
func (m *Machine) CycleCompatPalette(delta int) {
	m.SetCompatPalette(m.compatPaletteID + delta)
}

func (m *Machine) applyCompatPalette() {
	if m.bus == nil {
		return
	}
	colors := cgbCompatSets[m.compatPaletteID]
	m.bus.PPU().SetCompatPalette(&colors)
}

// APUBufferedStereo returns the number of stereo frames currently queued.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUCapBufferedStereo drops the oldest queued audio past max frames, used
// to bound playback latency after the UI stalls (e.g. menu navigation).
func (m *Machine) APUCapBufferedStereo(max int) {
	if m.bus != nil {
		m.bus.APU().CapBufferedStereo(max)
	}
}

// APUClearAudioLatency discards all queued audio outright.
func (m *Machine) APUClearAudioLatency() {
	if m.bus != nil {
		m.bus.APU().ClearAudioLatency()
	}
}

// APUPullStereo pulls up to n interleaved [L,R,...] int16 stereo frames.
func (m *Machine) APUPullStereo(n int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(n)
}
