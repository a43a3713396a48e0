package bus

import (
	"fmt"
	"io"
	"os"

	"github.com/mholtcode/gbz80core/internal/apu"
	"github.com/mholtcode/gbz80core/internal/cart"
	"github.com/mholtcode/gbz80core/internal/cheat"
	"github.com/mholtcode/gbz80core/internal/hdma"
	"github.com/mholtcode/gbz80core/internal/ppu"
	"github.com/mholtcode/gbz80core/internal/speedswitch"
	"github.com/mholtcode/gbz80core/internal/state"
)

// Bus wires CPU-visible address space to cartridge, WRAM, HRAM, IO, PPU, and APU.
type Bus struct {
	cart cart.Cartridge

	// Work RAM (WRAM): bank 0 fixed at 0xC000-0xCFFF, banks 1-7 switchable
	// (via SVBK, CGB only) at 0xD000-0xDFFF. Echo 0xE000-0xFDFF mirrors
	// 0xC000-0xDDFF.
	wram     [8][0x1000]byte
	wramBank byte // SVBK low 3 bits, 0 treated as 1

	// High RAM (HRAM) 0xFF80–0xFFFE (127 bytes)
	hram [0x7F]byte

	// PPU encapsulates VRAM/OAM and LCDC/STAT timing
	ppu *ppu.PPU

	// APU encapsulates sound channels and the frame sequencer
	apu *apu.APU

	// CGB subsystems
	cgb     bool
	speed   *speedswitch.Switch
	hdmaCtl *hdma.Controller
	key0    byte // FF4C, DMG-compat-mode latch (informational)

	cheats *cheat.Engine

	// Interrupt registers
	ie    byte // IE at 0xFFFF
	ifReg byte // IF at 0xFF0F (lower 5 bits used)

	// JOYP and Timers
	joypSelect byte
	joypad     byte
	joypLower4 byte

	div  byte // FF04 (upper 8 bits of internal divider)
	tima byte // FF05
	tma  byte // FF06
	tac  byte // FF07 (lower 3 bits used)

	timaReloadDelay int

	// Serial
	sb byte
	sc byte
	sw io.Writer

	divInternal uint16

	dma byte // FF46

	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int
	// dmaDelay counts down the 2-machine-cycle (8 T-cycle) arming delay
	// before the first byte moves; dmaTCycle paces one byte per
	// machine-cycle (4 T-cycles) once the delay has elapsed.
	dmaDelay  int
	dmaTCycle int

	// Boot ROM support
	bootROM     []byte
	bootEnabled bool

	debugTimer bool
}

// New constructs a Bus with a ROM-only cartridge for convenience.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c}
	b.ppu = ppu.New(func(bit int) { b.ifReg |= 1 << bit })
	b.apu = apu.New(48000)
	b.speed = speedswitch.New(false)
	b.hdmaCtl = hdma.New()
	b.cheats = cheat.New()
	if os.Getenv("GB_DEBUG_TIMER") != "" {
		b.debugTimer = true
	}
	return b
}

// SetCGBMode enables CGB register/banking semantics across the PPU, speed
// switch, and WRAM banking.
func (b *Bus) SetCGBMode(enabled bool) {
	b.cgb = enabled
	b.ppu.SetCGB(enabled)
	b.speed = speedswitch.New(enabled)
}

// PPU returns the internal PPU for read-only rendering helpers.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU returns the internal APU for audio pull/config helpers.
func (b *Bus) APU() *apu.APU { return b.apu }

// Cart returns the underlying cartridge for optional battery operations.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// Cheats returns the cheat engine for registration by the host layer.
func (b *Bus) Cheats() *cheat.Engine { return b.cheats }

// HDMAWriteVRAM implements hdma.VRAMWriter by delegating to the PPU's
// CPUWrite, so the mode-3 gate and the VBK bank selection apply to
// general-purpose and HBlank DMA writes as they do to CPU writes.
func (b *Bus) HDMAWriteVRAM(addr uint16, v byte) {
	b.ppu.CPUWrite(addr, v)
}

func (b *Bus) wramBankIndex() int {
	n := int(b.wramBank & 0x07)
	if n == 0 {
		n = 1
	}
	return n
}

func (b *Bus) Read(addr uint16) byte {
	var v byte
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			v = b.bootROM[addr]
		} else {
			v = b.cart.Read(addr)
		}
		return b.cheats.ApplyIfNeeded(addr, v, b.cheatBank)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		v = b.cart.Read(addr)
		return b.cheats.ApplyIfNeeded(addr, v, b.cheatBank)

	case addr >= 0xC000 && addr <= 0xCFFF:
		v = b.wram[0][addr-0xC000]
		return b.cheats.ApplyIfNeeded(addr, v, b.cheatBank)
	case addr >= 0xD000 && addr <= 0xDFFF:
		v = b.wram[b.wramBankIndex()][addr-0xD000]
		return b.cheats.ApplyIfNeeded(addr, v, b.cheatBank)

	case addr >= 0xE000 && addr <= 0xFDFF:
		mirror := addr - 0x2000
		return b.Read(mirror)

	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr == 0xFF00:
		res := byte(0xC0 | (b.joypSelect & 0x30) | 0x0F)
		if (b.joypSelect & 0x10) == 0 {
			if b.joypad&JoypRight != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypLeft != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypUp != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypDown != 0 {
				res &^= 0x08
			}
		}
		if (b.joypSelect & 0x20) == 0 {
			if b.joypad&JoypA != 0 {
				res &^= 0x01
			}
			if b.joypad&JoypB != 0 {
				res &^= 0x02
			}
			if b.joypad&JoypSelectBtn != 0 {
				res &^= 0x04
			}
			if b.joypad&JoypStart != 0 {
				res &^= 0x08
			}
		}
		return res
	case addr == 0xFF04:
		return b.div
	case addr == 0xFF05:
		return b.tima
	case addr == 0xFF06:
		return b.tma
	case addr == 0xFF07:
		return 0xF8 | (b.tac & 0x07)
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return 0x7E | (b.sc & 0x81)
	case addr >= 0xFF10 && addr <= 0xFF26:
		return b.apu.CPURead(addr)
	case addr >= 0xFF30 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF4C:
		return b.key0
	case addr == 0xFF4D:
		return b.speed.ReadKEY1()
	case addr == 0xFF4F:
		return b.ppu.CPURead(addr)
	case addr == 0xFF51, addr == 0xFF52, addr == 0xFF53, addr == 0xFF54:
		return 0xFF
	case addr == 0xFF55:
		return b.hdmaCtl.ReadHDMA5()
	case addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B, addr == 0xFF6C:
		return b.ppu.CPURead(addr)
	case addr == 0xFF70:
		return 0xF8 | (b.wramBank & 0x07)
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

// cheatBank resolves the active RAM bank for cheat bank-matching: work RAM
// bank for 0xC000-0xDFFF. Cartridge RAM banking isn't uniformly exposed
// across mapper types, so bank-gated GameShark codes targeting cartridge RAM
// always match (bank 0).
func (b *Bus) cheatBank(addr uint16) byte {
	if addr >= 0xC000 && addr <= 0xDFFF {
		return byte(b.wramBankIndex())
	}
	return 0
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
		return
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
		return
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
		return

	case addr >= 0xC000 && addr <= 0xCFFF:
		b.wram[0][addr-0xC000] = value
		return
	case addr >= 0xD000 && addr <= 0xDFFF:
		b.wram[b.wramBankIndex()][addr-0xD000] = value
		return

	case addr >= 0xE000 && addr <= 0xFDFF:
		b.Write(addr-0x2000, value)
		return

	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
		return
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
		b.updateJoypadIRQ()
		return
	case addr == 0xFF04:
		oldInput := b.timerInput()
		b.divInternal = 0
		b.div = 0
		if oldInput && !b.timerInput() {
			b.incrementTIMA()
		}
		if b.debugTimer {
			fmt.Printf("[TMR] DIV write -> reset (div=0000) tima=%02X tma=%02X tac=%02X reload=%d\n", b.tima, b.tma, b.tac, b.timaReloadDelay)
		}
		return
	case addr == 0xFF05:
		b.tima = value
		if b.timaReloadDelay > 0 {
			b.timaReloadDelay = 0
		}
		if b.debugTimer {
			fmt.Printf("[TMR] TIMA write %02X tma=%02X tac=%02X reload=%d\n", value, b.tma, b.tac, b.timaReloadDelay)
		}
		return
	case addr == 0xFF06:
		b.tma = value
		if b.debugTimer {
			fmt.Printf("[TMR] TMA write %02X (tima=%02X tac=%02X reload=%d)\n", value, b.tima, b.tac, b.timaReloadDelay)
		}
		return
	case addr == 0xFF07:
		oldInput := b.timerInput()
		b.tac = value & 0x07
		if oldInput && !b.timerInput() {
			b.incrementTIMA()
		}
		if b.debugTimer {
			fmt.Printf("[TMR] TAC write %02X (input %v->%v) tima=%02X tma=%02X reload=%d\n", b.tac, oldInput, b.timerInput(), b.tima, b.tma, b.timaReloadDelay)
		}
		return
	case addr == 0xFF01:
		b.sb = value
		return
	case addr == 0xFF02:
		b.sc = value & 0x81
		if (b.sc & 0x80) != 0 {
			if b.sw != nil {
				_, _ = b.sw.Write([]byte{b.sb})
			}
			b.ifReg |= 1 << 3
			b.sc &^= 0x80
		}
		return
	case addr >= 0xFF10 && addr <= 0xFF26:
		b.apu.CPUWrite(addr, value)
		return
	case addr >= 0xFF30 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
		return
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
		b.dmaDelay = 8 // 2 machine cycles before the first byte moves
		b.dmaTCycle = 0
		return
	case addr == 0xFF4C:
		b.key0 = value
		return
	case addr == 0xFF4D:
		b.speed.WriteKEY1(value)
		return
	case addr == 0xFF4F:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF51, addr == 0xFF52, addr == 0xFF53, addr == 0xFF54, addr == 0xFF55:
		b.hdmaCtl.WriteReg(addr, value)
		if addr == 0xFF55 {
			// General-purpose transfers run to completion immediately;
			// HBlank-mode transfers are driven one block at a time from Tick.
			b.hdmaCtl.RunGeneralPurpose(b.dmaUnsafeRead, b, b.Tick)
		}
		return
	case addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B, addr == 0xFF6C:
		b.ppu.CPUWrite(addr, value)
		return
	case addr == 0xFF70:
		b.wramBank = value & 0x07
		return
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
		return
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
		return
	case addr == 0xFFFF:
		b.ie = value
		return
	}
}

// dmaUnsafeRead is used by HDMA transfers to read the source byte: it can
// read ROM/WRAM but must never recurse into VRAM/OAM (the source range is
// restricted to 0x0000-0x7FFF and 0xA000-0xDFFF by hardware). Sources outside
// that range read as 0xFF.
func (b *Bus) dmaUnsafeRead(addr uint16) byte {
	if (addr >= 0x8000 && addr <= 0x9FFF) || addr >= 0xE000 {
		return 0xFF
	}
	return b.Read(addr)
}

// Joypad button bitmasks for SetJoypadState. Bits set mean "pressed".
const (
	JoypRight     = 1 << 0
	JoypLeft      = 1 << 1
	JoypUp        = 1 << 2
	JoypDown      = 1 << 3
	JoypA         = 1 << 4
	JoypB         = 1 << 5
	JoypSelectBtn = 1 << 6
	JoypStart     = 1 << 7
)

// SetJoypadState sets which buttons are currently pressed.
func (b *Bus) SetJoypadState(mask byte) {
	b.joypad = mask
	b.updateJoypadIRQ()
}

// SetSerialWriter sets a sink that receives bytes written via the serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.sw = w }

// SetBootROM loads a boot ROM to be mapped at 0x0000-0x00FF until disabled via 0xFF50 write.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// ToggleSpeed is invoked by the CPU's STOP handler to arm/execute the CGB
// double-speed switch. Returns true if the speed actually changed.
func (b *Bus) ToggleSpeed() bool {
	changed := b.speed.Toggle()
	if changed {
		b.hdmaCtl.SetDoubleSpeed(b.speed.Double())
	}
	return changed
}

// DoubleSpeed reports whether the CGB double-speed mode is currently active.
func (b *Bus) DoubleSpeed() bool { return b.speed.Double() }

// Tick advances timers, PPU, APU, and DMA by the given number of CPU cycles.
func (b *Bus) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		oldInput := b.timerInput()
		fsBit := uint(12) // DIV bit 4 (internal 16-bit divider bit 12, since DIV register = divInternal>>8)
		if b.speed.Double() {
			fsBit = 13
		}
		oldFS := (b.divInternal>>fsBit)&1 != 0
		b.divInternal++
		b.div = byte(b.divInternal >> 8)
		newInput := b.timerInput()
		falling := oldInput && !newInput
		newFS := (b.divInternal>>fsBit)&1 != 0
		if oldFS && !newFS {
			b.apu.StepFrameSequencer()
		}

		if b.timaReloadDelay > 0 {
			b.timaReloadDelay--
			if b.timaReloadDelay == 0 {
				b.tima = b.tma
				b.ifReg |= 1 << 2
			}
		}

		if falling {
			b.incrementTIMA()
		}
		if b.ppu != nil {
			b.ppu.Tick(1)
			if b.ppu.ConsumeHBlankEvent() {
				b.hdmaCtl.OnHBlank(b.dmaUnsafeRead, b, func(int) {})
			}
		}
		if b.apu != nil {
			b.apu.Tick(1)
		}

		if b.dmaActive {
			if b.dmaDelay > 0 {
				b.dmaDelay--
			} else {
				b.dmaTCycle++
				if b.dmaTCycle >= 4 {
					b.dmaTCycle = 0
					if b.dmaIndex < 0xA0 {
						v := b.Read(b.dmaSrc + uint16(b.dmaIndex))
						b.ppu.CPUWrite(0xFE00+uint16(b.dmaIndex), v)
						b.dmaIndex++
					}
					if b.dmaIndex >= 0xA0 {
						b.dmaActive = false
					}
				}
			}
		}
	}
}

// timerInput computes the current timer clock input (after TAC gating).
func (b *Bus) timerInput() bool {
	if (b.tac & 0x04) == 0 {
		return false
	}
	var bit uint
	switch b.tac & 0x03 {
	case 0x00:
		bit = 9
	case 0x01:
		bit = 3
	case 0x02:
		bit = 5
	case 0x03:
		bit = 7
	}
	return ((b.divInternal >> bit) & 1) != 0
}

func (b *Bus) incrementTIMA() {
	if b.timaReloadDelay > 0 {
		return
	}
	if b.tima == 0xFF {
		b.tima = 0x00
		b.timaReloadDelay = 4
		return
	}
	b.tima++
}

// updateJoypadIRQ recomputes JOYP lower 4 bits (active-low) and raises IF bit 4 on any 1->0 transition.
func (b *Bus) updateJoypadIRQ() {
	newLower := byte(0x0F)
	if (b.joypSelect & 0x10) == 0 {
		if b.joypad&JoypRight != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypLeft != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypUp != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypDown != 0 {
			newLower &^= 0x08
		}
	}
	if (b.joypSelect & 0x20) == 0 {
		if b.joypad&JoypA != 0 {
			newLower &^= 0x01
		}
		if b.joypad&JoypB != 0 {
			newLower &^= 0x02
		}
		if b.joypad&JoypSelectBtn != 0 {
			newLower &^= 0x04
		}
		if b.joypad&JoypStart != 0 {
			newLower &^= 0x08
		}
	}
	falling := b.joypLower4 &^ newLower
	if falling != 0 {
		b.ifReg |= 1 << 4
	}
	b.joypLower4 = newLower
}

// --- Save/Load state ---

func (b *Bus) SaveState() []byte {
	w := state.NewWriter()
	for i := range b.wram {
		w.Raw(b.wram[i][:])
	}
	w.U8(b.wramBank)
	w.Raw(b.hram[:])
	w.U8(b.ie)
	w.U8(b.ifReg)
	w.U8(b.joypSelect)
	w.U8(b.joypad)
	w.U8(b.joypLower4)
	w.U8(b.div)
	w.U8(b.tima)
	w.U8(b.tma)
	w.U8(b.tac)
	w.I32(int32(b.timaReloadDelay))
	w.U8(b.sb)
	w.U8(b.sc)
	w.U16(b.divInternal)
	w.U8(b.dma)
	w.Bool(b.dmaActive)
	w.U16(b.dmaSrc)
	w.I32(int32(b.dmaIndex))
	w.I32(int32(b.dmaDelay))
	w.I32(int32(b.dmaTCycle))
	w.Bool(b.bootEnabled)
	w.Bool(b.cgb)
	w.U8(b.key0)

	w.Slice(b.ppu.SaveState())
	w.Slice(b.apu.SaveState())
	w.Slice(b.speed.SaveState())
	w.Slice(b.hdmaCtl.SaveState())
	w.Slice(b.cart.SaveState())
	return w.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	r := state.NewReader(data)
	for i := range b.wram {
		copy(b.wram[i][:], r.Raw(len(b.wram[i])))
	}
	b.wramBank = r.U8()
	copy(b.hram[:], r.Raw(len(b.hram)))
	b.ie = r.U8()
	b.ifReg = r.U8()
	b.joypSelect = r.U8()
	b.joypad = r.U8()
	b.joypLower4 = r.U8()
	b.div = r.U8()
	b.tima = r.U8()
	b.tma = r.U8()
	b.tac = r.U8()
	b.timaReloadDelay = int(r.I32())
	b.sb = r.U8()
	b.sc = r.U8()
	b.divInternal = r.U16()
	b.dma = r.U8()
	b.dmaActive = r.Bool()
	b.dmaSrc = r.U16()
	b.dmaIndex = int(r.I32())
	b.dmaDelay = int(r.I32())
	b.dmaTCycle = int(r.I32())
	b.bootEnabled = r.Bool()
	b.cgb = r.Bool()
	b.key0 = r.U8()

	b.ppu.LoadState(r.Slice())
	b.apu.LoadState(r.Slice())
	b.speed.LoadState(r.Slice())
	b.hdmaCtl.LoadState(r.Slice())
	if cs := r.Slice(); len(cs) > 0 {
		b.cart.LoadState(cs)
	}
}
