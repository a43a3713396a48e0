package apu

import "testing"

func TestTriggerCh2EnablesChannel(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF17, 0xF0) // NR22: max volume, envelope up
	a.CPUWrite(0xFF18, 0x00) // NR23: freq lo
	a.CPUWrite(0xFF19, 0x80) // NR24: trigger

	if got := a.CPURead(0xFF26); got&(1<<1) == 0 {
		t.Fatalf("NR52 = %02X, want CH2 status bit set", got)
	}
}

func TestTriggerCh2WithZeroVolumeAndDownEnvelopeStaysOff(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF17, 0x00) // NR22: vol=0, envelope down -> DAC off
	a.CPUWrite(0xFF19, 0x80) // trigger

	if got := a.CPURead(0xFF26); got&(1<<1) != 0 {
		t.Fatalf("NR52 = %02X, CH2 should not enable with DAC off", got)
	}
}

func TestLengthCounterDisablesChannelAtZero(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF16, 0x3F) // NR21: length = 63 -> ch2.length = 1
	a.CPUWrite(0xFF17, 0xF0) // NR22: DAC on
	a.CPUWrite(0xFF19, 0xC0) // NR24: length enable + trigger

	if !a.ch2.enabled {
		t.Fatalf("channel should be enabled immediately after trigger")
	}

	// clockLength only fires when fsStep lands on an even value; fsStep
	// starts at 0 and the first StepFrameSequencer call advances it to 1.
	a.StepFrameSequencer()
	a.StepFrameSequencer()
	if a.ch2.enabled {
		t.Fatalf("length=1 should expire and disable the channel on the first length clock")
	}
}

func TestPowerOffResetsRegisters(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF24, 0x77)
	a.CPUWrite(0xFF25, 0xFF)
	a.CPUWrite(0xFF17, 0xF0)
	a.CPUWrite(0xFF19, 0x80)

	a.CPUWrite(0xFF26, 0x00) // power off
	if a.enabled {
		t.Fatalf("APU should be disabled after NR52 power-off write")
	}
	if a.ch2.enabled {
		t.Fatalf("power-off should clear channel state")
	}
	if a.nr50 != 0 || a.nr51 != 0 {
		t.Fatalf("power-off should clear mixing registers, got nr50=%02X nr51=%02X", a.nr50, a.nr51)
	}
}

func TestStereoRingBufferPushPullAndCap(t *testing.T) {
	a := New(48000)
	for i := 0; i < 10; i++ {
		a.pushStereo(int16(i), int16(-i))
	}
	if got := a.StereoAvailable(); got != 10 {
		t.Fatalf("StereoAvailable() = %d, want 10", got)
	}

	a.CapBufferedStereo(4)
	if got := a.StereoAvailable(); got != 4 {
		t.Fatalf("StereoAvailable() after cap = %d, want 4", got)
	}

	frames := a.PullStereo(2)
	if len(frames) != 4 { // 2 frames * [L,R]
		t.Fatalf("PullStereo(2) returned %d int16s, want 4", len(frames))
	}
	if got := a.StereoAvailable(); got != 2 {
		t.Fatalf("StereoAvailable() after pulling 2 frames = %d, want 2", got)
	}

	a.ClearAudioLatency()
	if got := a.StereoAvailable(); got != 0 {
		t.Fatalf("StereoAvailable() after ClearAudioLatency = %d, want 0", got)
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF17, 0xF0)
	a.CPUWrite(0xFF18, 0x55)
	a.CPUWrite(0xFF19, 0x80)
	a.pushStereo(123, -123)

	data := a.SaveState()

	b := New(48000)
	b.LoadState(data)
	if !b.ch2.enabled {
		t.Fatalf("LoadState did not restore channel 2 enabled state")
	}
	if b.ch2.freq != a.ch2.freq {
		t.Fatalf("LoadState freq = %d, want %d", b.ch2.freq, a.ch2.freq)
	}
	if b.StereoAvailable() != a.StereoAvailable() {
		t.Fatalf("LoadState did not restore stereo buffer occupancy")
	}
}
