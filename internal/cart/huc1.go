package cart

import "github.com/mholtcode/gbz80core/internal/state"

// HuC1 implements the Hudson HuC1 mapper: standard ROM/RAM banking plus an
// infrared-transmitter mode that shares the RAM-control register range.
type HuC1 struct {
	rom []byte
	ram []byte

	irMode        bool // true selects IR mode instead of RAM access over 0xA000-0xBFFF
	irTransmitter bool
	romBank       byte // 6 bits, 0 maps to 1
	ramBank       byte // 2 bits
}

func NewHuC1(rom []byte, ramSize int) *HuC1 {
	m := &HuC1{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

func (m *HuC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank)
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if m.irMode {
			return 0xC0
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		off := int(m.ramBank)*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *HuC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.irMode = value == 0x0E
	case addr < 0x4000:
		v := value & 0x3F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.ramBank = value & 0x03
	case addr < 0x8000:
		// No observed behavior for HuC1 cartridges in this range.
	case addr >= 0xA000 && addr <= 0xBFFF:
		if m.irMode {
			m.irTransmitter = value == 0x01
			return
		}
		if len(m.ram) == 0 {
			return
		}
		off := int(m.ramBank)*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *HuC1) SaveState() []byte {
	w := state.NewWriter()
	w.Bool(m.irMode)
	w.Bool(m.irTransmitter)
	w.U8(m.romBank)
	w.U8(m.ramBank)
	w.Slice(m.ram)
	return w.Bytes()
}

func (m *HuC1) LoadState(data []byte) {
	r := state.NewReader(data)
	m.irMode = r.Bool()
	m.irTransmitter = r.Bool()
	m.romBank = r.U8()
	m.ramBank = r.U8()
	if ram := r.Slice(); len(ram) > 0 {
		m.ram = ram
	}
}

func (m *HuC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *HuC1) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}
