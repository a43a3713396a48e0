package ppu

import "github.com/mholtcode/gbz80core/internal/state"

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// LineSnapshot captures the registers that were live when a scanline's pixel
// transfer (mode 3) began, so tests (and the window layer) can recover the
// window-line counter for a line after the fact.
type LineSnapshot struct {
	SCX, SCY byte
	WY, WX   byte
	LCDC     byte
	WinLine  byte
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, CGB palette RAM, and the
// scanline renderer. It exposes CPU-facing Read/Write for VRAM/OAM and PPU
// IO registers, plus an RGBA framebuffer for the host to present.
type PPU struct {
	// memory
	vram  [0x2000]byte // bank 0, 0x8000–0x9FFF
	vram1 [0x2000]byte // bank 1 (CGB only)
	oam   [0xA0]byte   // 0xFE00–0xFE9F

	cgb bool // CGB register/palette/banking semantics enabled

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	vbk byte // FF4F, bit0 selects VRAM bank for CPU access

	bcpsIndex   byte // FF68 low 6 bits
	bcpsAutoInc bool
	ocpsIndex   byte // FF6A low 6 bits
	ocpsAutoInc bool
	opri        byte // FF6C bit0: object priority mode

	bgPalette  [64]byte // 8 palettes x 4 colors x 2 bytes (little-endian RGB555)
	objPalette [64]byte

	dot int // dots within current line [0..455]

	winLine         int
	windowTriggered bool
	lineRegs        [144]LineSnapshot

	fb [160 * 144 * 4]byte // RGBA8888 framebuffer, row-major

	// compatPalette, when non-nil, replaces the classic green-gray DMG shade
	// table with a curated 4-color RGB set (a GBC-style boot palette applied
	// to monochrome carts). Index 0 is the lightest shade.
	compatPalette *[4][3]byte

	// hblankEvent latches true for one Tick() caller observation each time
	// HBlank (mode 0) is freshly entered, so the bus can drive HDMA transfers
	// without the PPU importing the bus package.
	hblankEvent bool
	vblankEvent bool

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// SetCGB toggles CGB register/palette semantics.
func (p *PPU) SetCGB(cgb bool) { p.cgb = cgb }
func (p *PPU) IsCGB() bool     { return p.cgb }

// SetCompatPalette installs a 4-color RGB override for DMG shade rendering,
// or clears it when colors is nil (reverting to the classic green-gray set).
func (p *PPU) SetCompatPalette(colors *[4][3]byte) { p.compatPalette = colors }

func (p *PPU) shade(v byte) (r, g, b byte) {
	if p.compatPalette != nil {
		c := p.compatPalette[v&0x03]
		return c[0], c[1], c[2]
	}
	return dmgShade(v)
}

// ConsumeHBlankEvent reports and clears whether HBlank was freshly entered
// since the last call.
func (p *PPU) ConsumeHBlankEvent() bool {
	v := p.hblankEvent
	p.hblankEvent = false
	return v
}

// ConsumeVBlankEvent reports and clears whether VBlank was freshly entered
// since the last call.
func (p *PPU) ConsumeVBlankEvent() bool {
	v := p.vblankEvent
	p.vblankEvent = false
	return v
}

// Framebuffer returns the RGBA8888 pixel buffer for the last fully rendered frame.
func (p *PPU) Framebuffer() []byte { return p.fb[:] }

// LineRegs returns the register snapshot captured when pixel transfer began
// for scanline ly (0..143). Out-of-range ly returns a zero snapshot.
func (p *PPU) LineRegs(ly int) LineSnapshot {
	if ly < 0 || ly >= len(p.lineRegs) {
		return LineSnapshot{}
	}
	return p.lineRegs[ly]
}

// Read implements VRAMReader: a raw, gating-free read of VRAM bank 0, used
// internally by the renderer (which runs during mode 3, when CPURead would
// return 0xFF).
func (p *PPU) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return p.vram[addr-0x8000]
}

// ReadBank implements BankedVRAMReader for CGB tile/attribute lookups.
func (p *PPU) ReadBank(bank int, addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	if bank == 1 {
		return p.vram1[addr-0x8000]
	}
	return p.vram[addr-0x8000]
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		if p.cgb && (p.vbk&0x01) != 0 {
			return p.vram1[addr-0x8000]
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	case addr == 0xFF4F:
		if !p.cgb {
			return 0xFF
		}
		return 0xFE | (p.vbk & 0x01)
	case addr == 0xFF68:
		v := p.bcpsIndex & 0x3F
		if p.bcpsAutoInc {
			v |= 0x80
		}
		return v | 0x40
	case addr == 0xFF69:
		if !p.cgb {
			return 0xFF
		}
		return p.bgPalette[p.bcpsIndex&0x3F]
	case addr == 0xFF6A:
		v := p.ocpsIndex & 0x3F
		if p.ocpsAutoInc {
			v |= 0x80
		}
		return v | 0x40
	case addr == 0xFF6B:
		if !p.cgb {
			return 0xFF
		}
		return p.objPalette[p.ocpsIndex&0x3F]
	case addr == 0xFF6C:
		if !p.cgb {
			return 0xFF
		}
		return 0xFE | (p.opri & 0x01)
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		if p.cgb && (p.vbk&0x01) != 0 {
			p.vram1[addr-0x8000] = value
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
			p.windowTriggered = false
			p.winLine = 0
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			p.ly = 0
			p.dot = 0
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	case addr == 0xFF4F:
		if p.cgb {
			p.vbk = value & 0x01
		}
	case addr == 0xFF68:
		p.bcpsIndex = value & 0x3F
		p.bcpsAutoInc = (value & 0x80) != 0
	case addr == 0xFF69:
		if !p.cgb {
			return
		}
		p.bgPalette[p.bcpsIndex&0x3F] = value
		if p.bcpsAutoInc {
			p.bcpsIndex = (p.bcpsIndex + 1) & 0x3F
		}
	case addr == 0xFF6A:
		p.ocpsIndex = value & 0x3F
		p.ocpsAutoInc = (value & 0x80) != 0
	case addr == 0xFF6B:
		if !p.cgb {
			return
		}
		p.objPalette[p.ocpsIndex&0x3F] = value
		if p.ocpsAutoInc {
			p.ocpsIndex = (p.ocpsIndex + 1) & 0x3F
		}
	case addr == 0xFF6C:
		if p.cgb {
			p.opri = value & 0x01
		}
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		curMode := p.stat & 0x03
		if mode == 3 && curMode != 3 {
			p.captureLineRegs()
		}
		if mode == 0 && curMode == 3 {
			p.renderScanline(p.ly)
			p.hblankEvent = true
		}
		p.setMode(mode)

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				p.vblankEvent = true
				if p.req != nil {
					p.req(0)
				}
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				}
			} else if p.ly > 153 {
				p.ly = 0
				p.windowTriggered = false
				p.winLine = 0
			}
			p.updateLYC()
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	}
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// captureLineRegs snapshots the registers governing this scanline's render
// and advances the window-line counter, to be called exactly once per line
// at the moment pixel transfer (mode 3) begins.
func (p *PPU) captureLineRegs() {
	winVisible := (p.lcdc&0x20) != 0 && p.ly >= p.wy && p.wx <= 166
	if winVisible {
		if !p.windowTriggered {
			p.winLine = 0
			p.windowTriggered = true
		} else {
			p.winLine++
		}
	}
	if int(p.ly) < len(p.lineRegs) {
		p.lineRegs[p.ly] = LineSnapshot{
			SCX: p.scx, SCY: p.scy,
			WY: p.wy, WX: p.wx,
			LCDC:    p.lcdc,
			WinLine: byte(p.winLine),
		}
	}
}

// renderScanline composes BG, window, and sprites for ly into the framebuffer.
func (p *PPU) renderScanline(ly byte) {
	snap := p.lineRegs[ly]
	lcdc := snap.LCDC

	bgMapBase := uint16(0x9800)
	if (lcdc & 0x08) != 0 {
		bgMapBase = 0x9C00
	}
	winMapBase := uint16(0x9800)
	if (lcdc & 0x40) != 0 {
		winMapBase = 0x9C00
	}
	tileData8000 := (lcdc & 0x10) != 0

	var ci, pal [160]byte
	var pri [160]bool

	if p.cgb {
		ci, pal, pri = RenderBGScanlineCGB(p, bgMapBase, bgMapBase, tileData8000, snap.SCX, snap.SCY, ly)
	} else {
		ci = RenderBGScanlineUsingFetcher(p, bgMapBase, tileData8000, snap.SCX, snap.SCY, ly)
		if (lcdc & 0x01) == 0 {
			ci = [160]byte{}
		}
	}

	winVisible := (lcdc&0x20) != 0 && ly >= snap.WY && snap.WX <= 166
	if winVisible {
		wxStart := int(snap.WX) - 7
		if p.cgb {
			wci, wpal, wpri := RenderWindowScanlineCGB(p, winMapBase, winMapBase, tileData8000, wxStart, snap.WinLine)
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				ci[x] = wci[x]
				pal[x] = wpal[x]
				pri[x] = wpri[x]
			}
		} else {
			wci := RenderWindowScanlineUsingFetcher(p, winMapBase, tileData8000, wxStart, snap.WinLine)
			start := wxStart
			if start < 0 {
				start = 0
			}
			for x := start; x < 160; x++ {
				ci[x] = wci[x]
			}
		}
	}

	bgci := ci // snapshot BG/window color index for sprite priority arbitration

	var objCi [160]byte
	var objAttr [160]byte
	if (lcdc & 0x02) != 0 { // OBJ enable
		tall := (lcdc & 0x04) != 0
		sprites := p.scanOAM(ly, tall)
		if p.cgb {
			objCi, objAttr = p.composeSpritesCGB(sprites, ly, bgci, tall)
		} else {
			objCi = ComposeSpriteLine(p, sprites, ly, bgci, tall)
		}
	}

	for x := 0; x < 160; x++ {
		var r, g, b byte
		drawBG := true
		if objCi[x] != 0 {
			if p.cgb {
				masterPriority := (lcdc & 0x01) != 0
				bgBlocksObj := masterPriority && (pri[x] || (objAttr[x]&0x80) != 0) && bgci[x] != 0
				if !bgBlocksObj {
					palIdx := objAttr[x] & 0x07
					r, g, b = p.cgbColor(p.objPalette[:], palIdx, objCi[x])
					drawBG = false
				}
			} else {
				attrBit4 := objAttr[x]&0x10 != 0
				opb := p.obp0
				if attrBit4 {
					opb = p.obp1
				}
				shade := (opb >> (objCi[x] * 2)) & 0x03
				r, g, b = p.shade(shade)
				drawBG = false
			}
		}
		if drawBG {
			if p.cgb {
				r, g, b = p.cgbColor(p.bgPalette[:], pal[x], ci[x])
			} else {
				shade := (p.bgp >> (ci[x] * 2)) & 0x03
				r, g, b = p.shade(shade)
			}
		}
		off := (int(ly)*160 + x) * 4
		p.fb[off+0] = r
		p.fb[off+1] = g
		p.fb[off+2] = b
		p.fb[off+3] = 0xFF
	}
}

// scanOAM collects up to 10 sprites visible on scanline ly, in OAM order.
func (p *PPU) scanOAM(ly byte, tall bool) []Sprite {
	height := 8
	if tall {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		y := int(p.oam[base+0]) - 16
		x := int(p.oam[base+1]) - 8
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		row := int(ly) - y
		if row < 0 || row >= height {
			continue
		}
		out = append(out, Sprite{Y: y, X: x, Tile: tile, Attr: attr, OAMIndex: i})
	}
	return out
}

// composeSpritesCGB mirrors ComposeSpriteLine but also returns, per pixel,
// the attribute byte of the sprite that won (for palette/bank selection),
// and orders by OAM index only (CGB mode priority, unless OPRI selects the
// DMG X-coordinate ordering).
func (p *PPU) composeSpritesCGB(sprites []Sprite, ly byte, bgci [160]byte, tall bool) (ci, attrOut [160]byte) {
	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	if (p.opri & 0x01) != 0 {
		sortByXThenOAM(ordered)
	}
	height := 8
	if tall {
		height = 16
	}
	var resolved [160]bool
	for _, s := range ordered {
		row := int(ly) - s.Y
		if row < 0 || row >= height {
			continue
		}
		if (s.Attr & 0x40) != 0 {
			row = height - 1 - row
		}
		tile := s.Tile
		if tall {
			tile &^= 0x01
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
		}
		bank := int((s.Attr >> 3) & 1)
		base := uint16(tile)*16 + uint16(row)*2 + 0x8000
		lo := p.ReadBank(bank, base)
		hi := p.ReadBank(bank, base+1)
		xflip := (s.Attr & 0x20) != 0
		bgPriority := (s.Attr & 0x80) != 0
		for col := 0; col < 8; col++ {
			x := s.X + col
			if x < 0 || x >= 160 || resolved[x] {
				continue
			}
			var bit byte
			if xflip {
				bit = byte(col)
			} else {
				bit = 7 - byte(col)
			}
			v := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
			if v == 0 {
				continue
			}
			if bgPriority && bgci[x] != 0 {
				resolved[x] = true
				continue
			}
			ci[x] = v
			attrOut[x] = s.Attr
			resolved[x] = true
		}
	}
	return
}

// cgbColor resolves a 2-bit color index through an 8-entry CGB palette RAM
// (4 colors x 2 bytes, little-endian RGB555) into 8-bit RGB.
func (p *PPU) cgbColor(palette []byte, palIdx, ci byte) (r, g, b byte) {
	off := int(palIdx&0x07)*8 + int(ci&0x03)*2
	if off+1 >= len(palette) {
		return 0xFF, 0xFF, 0xFF
	}
	lo := palette[off]
	hi := palette[off+1]
	v := uint16(lo) | uint16(hi)<<8
	r5 := byte(v & 0x1F)
	g5 := byte((v >> 5) & 0x1F)
	b5 := byte((v >> 10) & 0x1F)
	return expand5(r5), expand5(g5), expand5(b5)
}

func expand5(v byte) byte { return (v << 3) | (v >> 2) }

// dmgShade maps a 2-bit shade (0=lightest) to a classic four-shade greenish
// grayscale RGB triple.
func dmgShade(shade byte) (r, g, b byte) {
	switch shade {
	case 0:
		return 0xE0, 0xF8, 0xD0
	case 1:
		return 0x88, 0xC0, 0x70
	case 2:
		return 0x34, 0x68, 0x56
	default:
		return 0x08, 0x18, 0x20
	}
}

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
func (p *PPU) LY() byte   { return p.ly }

// SaveState serializes PPU register and memory state for save states.
func (p *PPU) SaveState() []byte {
	w := state.NewWriter()
	w.Slice(p.vram[:])
	w.Slice(p.vram1[:])
	w.Slice(p.oam[:])
	w.Bool(p.cgb)
	w.U8(p.lcdc)
	w.U8(p.stat)
	w.U8(p.scy)
	w.U8(p.scx)
	w.U8(p.ly)
	w.U8(p.lyc)
	w.U8(p.bgp)
	w.U8(p.obp0)
	w.U8(p.obp1)
	w.U8(p.wy)
	w.U8(p.wx)
	w.U8(p.vbk)
	w.U8(p.bcpsIndex)
	w.Bool(p.bcpsAutoInc)
	w.U8(p.ocpsIndex)
	w.Bool(p.ocpsAutoInc)
	w.U8(p.opri)
	w.Slice(p.bgPalette[:])
	w.Slice(p.objPalette[:])
	w.U32(uint32(p.dot))
	w.U32(uint32(p.winLine))
	w.Bool(p.windowTriggered)
	return w.Bytes()
}

// LoadState restores PPU state previously produced by SaveState.
func (p *PPU) LoadState(data []byte) {
	r := state.NewReader(data)
	if v := r.Slice(); len(v) == len(p.vram) {
		copy(p.vram[:], v)
	}
	if v := r.Slice(); len(v) == len(p.vram1) {
		copy(p.vram1[:], v)
	}
	if v := r.Slice(); len(v) == len(p.oam) {
		copy(p.oam[:], v)
	}
	p.cgb = r.Bool()
	p.lcdc = r.U8()
	p.stat = r.U8()
	p.scy = r.U8()
	p.scx = r.U8()
	p.ly = r.U8()
	p.lyc = r.U8()
	p.bgp = r.U8()
	p.obp0 = r.U8()
	p.obp1 = r.U8()
	p.wy = r.U8()
	p.wx = r.U8()
	p.vbk = r.U8()
	p.bcpsIndex = r.U8()
	p.bcpsAutoInc = r.Bool()
	p.ocpsIndex = r.U8()
	p.ocpsAutoInc = r.Bool()
	p.opri = r.U8()
	if v := r.Slice(); len(v) == len(p.bgPalette) {
		copy(p.bgPalette[:], v)
	}
	if v := r.Slice(); len(v) == len(p.objPalette) {
		copy(p.objPalette[:], v)
	}
	p.dot = int(r.U32())
	p.winLine = int(r.U32())
	p.windowTriggered = r.Bool()
}
