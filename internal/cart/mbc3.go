package cart

import (
	"time"

	"github.com/mholtcode/gbz80core/internal/state"
)

// Clock returns the current wall-clock time in milliseconds; it is the
// cartridge-persistence host's `current_time_ms` collaborator. Tests can
// substitute a deterministic clock.
type Clock func() float64

func realClock() float64 { return float64(time.Now().UnixMilli()) }

// MBC3 implements ROM/RAM banking plus the real-time clock registers.
// Banking behavior:
//   - 0000-1FFF: RAM+RTC enable (0x0A in low nibble)
//   - 2000-3FFF: ROM bank, 7 bits (0 maps to 1)
//   - 4000-5FFF: RAM bank (0-3) or RTC register select (8-C)
//   - 6000-7FFF: latch clock on a 0-then-1 write sequence
//   - A000-BFFF: external RAM, or the latched RTC register, depending on selection
type MBC3 struct {
	rom []byte
	ram []byte

	ramRTCEnabled bool
	romBank       byte // 7 bits (1..127)
	selection     byte // 0-3 RAM bank, 8-C RTC register

	ramSupported   bool
	timerSupported bool

	// RTC: latched register values, readable/writable directly when selected.
	rtcSeconds byte
	rtcMinutes byte
	rtcHours   byte
	rtcDaysLo  byte
	rtcDaysHi  byte // bit0 day MSB, bit6 halt, bit7 day-carry (one-shot, sticky)

	rtcLatch        byte // last value written to 0x6000-0x7FFF
	baseTimestampMs float64
	clock           Clock
}

// NewMBC3 builds an MBC3 mapper. ramSupported/timerSupported reflect the
// cartridge type's declared capabilities (0x0F has a timer but no RAM; 0x10
// has both; 0x11 has neither; 0x12/0x13 have RAM but no timer).
func NewMBC3(rom []byte, ramSize int, ramSupported, timerSupported bool) *MBC3 {
	m := &MBC3{rom: rom, ramSupported: ramSupported, timerSupported: timerSupported}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	m.rtcLatch = 0xFF
	m.clock = realClock
	m.baseTimestampMs = m.clock()
	return m
}

// SetClock overrides the wall-clock collaborator (used by tests and by hosts
// that supply a deterministic or injected time source).
func (m *MBC3) SetClock(c Clock) {
	if c != nil {
		m.clock = c
	}
}

func (m *MBC3) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		return m.readRAMOrRTC(addr)
	default:
		return 0xFF
	}
}

func (m *MBC3) readRAMOrRTC(addr uint16) byte {
	if !m.ramRTCEnabled {
		return 0xFF
	}
	switch {
	case m.selection <= 0x03 && m.ramSupported:
		off := int(m.selection)*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	case m.selection >= 0x08 && m.selection <= 0x0C && m.timerSupported:
		switch m.selection {
		case 0x08:
			return m.rtcSeconds
		case 0x09:
			return m.rtcMinutes
		case 0x0A:
			return m.rtcHours
		case 0x0B:
			return m.rtcDaysLo
		case 0x0C:
			return m.rtcDaysHi
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		if m.ramSupported || m.timerSupported {
			m.ramRTCEnabled = (value & 0x0F) == 0x0A
		}
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		if value <= 0x03 || (value >= 0x08 && value <= 0x0C) {
			m.selection = value
		}
	case addr < 0x8000:
		if m.timerSupported {
			if m.rtcLatch == 0x00 && value == 0x01 {
				m.latch()
			}
			m.rtcLatch = value
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		m.writeRAMOrRTC(addr, value)
	}
}

func (m *MBC3) writeRAMOrRTC(addr uint16, value byte) {
	if !m.ramRTCEnabled {
		return
	}
	switch {
	case m.selection <= 0x03 && m.ramSupported:
		off := int(m.selection)*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	case m.selection >= 0x08 && m.selection <= 0x0C && m.timerSupported:
		switch m.selection {
		case 0x08:
			m.rtcSeconds = value
		case 0x09:
			m.rtcMinutes = value
		case 0x0A:
			m.rtcHours = value
		case 0x0B:
			m.rtcDaysLo = value
		case 0x0C:
			// Software may toggle halt (bit6) and clear carry (bit7) directly.
			m.rtcDaysHi = value & 0xC1
		}
	}
}

// latch folds elapsed wall-clock time into the live RTC fields, then snapshots
// them into the directly-readable registers. Field values that were pushed
// out of their normal range by a prior direct register write are normalized
// by the total-seconds recomputation below (the repo's resolution of the
// spec's "invalid field handling" open question).
func (m *MBC3) latch() {
	halted := (m.rtcDaysHi & 0x40) != 0
	now := m.clock()
	elapsedMs := now - m.baseTimestampMs
	m.baseTimestampMs = now
	if halted || elapsedMs <= 0 {
		return
	}
	elapsedSeconds := int64(elapsedMs / 1000.0)

	day := (int64(m.rtcDaysHi&0x01) << 8) | int64(m.rtcDaysLo)
	total := int64(m.rtcSeconds) + int64(m.rtcMinutes)*60 + int64(m.rtcHours)*3600 + day*86400
	total += elapsedSeconds

	days := total / 86400
	rem := total % 86400
	carry := (m.rtcDaysHi & 0x80) != 0
	if days > 511 {
		days %= 512
		carry = true
	}
	m.rtcSeconds = byte(rem % 60)
	m.rtcMinutes = byte((rem / 60) % 60)
	m.rtcHours = byte(rem / 3600)
	m.rtcDaysLo = byte(days & 0xFF)
	hi := byte((days>>8)&0x01) | (m.rtcDaysHi & 0x40)
	if carry {
		hi |= 0x80
	}
	m.rtcDaysHi = hi
}

func (m *MBC3) SaveState() []byte {
	w := state.NewWriter()
	w.Bool(m.ramRTCEnabled)
	w.U8(m.romBank)
	w.U8(m.selection)
	w.U8(m.rtcSeconds)
	w.U8(m.rtcMinutes)
	w.U8(m.rtcHours)
	w.U8(m.rtcDaysLo)
	w.U8(m.rtcDaysHi)
	w.U8(m.rtcLatch)
	w.F64(m.baseTimestampMs)
	w.Slice(m.ram)
	return w.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	r := state.NewReader(data)
	m.ramRTCEnabled = r.Bool()
	m.romBank = r.U8()
	m.selection = r.U8()
	m.rtcSeconds = r.U8()
	m.rtcMinutes = r.U8()
	m.rtcHours = r.U8()
	m.rtcDaysLo = r.U8()
	m.rtcDaysHi = r.U8()
	m.rtcLatch = r.U8()
	m.baseTimestampMs = r.F64()
	if ram := r.Slice(); len(ram) > 0 {
		m.ram = ram
	}
}

func (m *MBC3) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	out := make([]byte, len(m.ram))
	copy(out, m.ram)
	return out
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

// SaveRTC serializes only the RTC registers and base timestamp, for the
// cartridge-persistence host's save_rtc hook.
func (m *MBC3) SaveRTC() []byte {
	w := state.NewWriter()
	w.U8(m.rtcSeconds)
	w.U8(m.rtcMinutes)
	w.U8(m.rtcHours)
	w.U8(m.rtcDaysLo)
	w.U8(m.rtcDaysHi)
	w.F64(m.baseTimestampMs)
	return w.Bytes()
}

// LoadRTC restores RTC registers previously produced by SaveRTC.
func (m *MBC3) LoadRTC(data []byte) {
	if len(data) == 0 {
		return
	}
	r := state.NewReader(data)
	m.rtcSeconds = r.U8()
	m.rtcMinutes = r.U8()
	m.rtcHours = r.U8()
	m.rtcDaysLo = r.U8()
	m.rtcDaysHi = r.U8()
	m.baseTimestampMs = r.F64()
}
