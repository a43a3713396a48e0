// Package speedswitch models the CGB double-speed toggle (KEY1).
package speedswitch

import "github.com/mholtcode/gbz80core/internal/state"

// Switch holds the armed and double-speed bits from KEY1 (0xFF4D).
type Switch struct {
	armed  bool
	double bool
	cgb    bool
}

// New builds a switch. cgb selects whether STOP is allowed to toggle speed
// at all (DMG hardware ignores KEY1 entirely).
func New(cgb bool) *Switch { return &Switch{cgb: cgb} }

// Double reports whether the machine is currently running at double speed.
func (s *Switch) Double() bool { return s.double }

// ReadKEY1 returns the FF4D readback: bit7 = current speed, bit0 = armed.
func (s *Switch) ReadKEY1() byte {
	v := byte(0x7E)
	if s.double {
		v |= 0x80
	}
	if s.armed {
		v |= 0x01
	}
	return v
}

// WriteKEY1 arms (or disarms) the switch; only bit 0 is writable.
func (s *Switch) WriteKEY1(v byte) {
	if !s.cgb {
		return
	}
	s.armed = (v & 0x01) != 0
}

// Toggle is invoked by the CPU's STOP handler. Returns true if the speed
// actually changed (so callers can propagate the new rate to peripherals).
func (s *Switch) Toggle() bool {
	if !s.cgb || !s.armed {
		return false
	}
	s.double = !s.double
	s.armed = false
	return true
}

func (s *Switch) SaveState() []byte {
	w := state.NewWriter()
	w.Bool(s.armed)
	w.Bool(s.double)
	w.Bool(s.cgb)
	return w.Bytes()
}

func (s *Switch) LoadState(data []byte) {
	r := state.NewReader(data)
	s.armed = r.Bool()
	s.double = r.Bool()
	s.cgb = r.Bool()
}
