package ppu

import "sort"

// RenderBGScanlineUsingFetcher renders 160 BG pixels for the given LY using the isolated fetcher.
// Inputs:
// - mem: VRAM reader
// - mapBase: 0x9800 or 0x9C00
// - tileData8000: true -> 0x8000 addressing; false -> 0x8800 signed addressing
// - scx, scy: scroll registers
// - ly: current scanline (0..143)
// Output: 160 color indices (0..3)
func RenderBGScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	// Compute BG coordinates.
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31 // 0..31 rows

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	// Map index address for the first tile column.
	tileIndexAddr := mapBase + mapY*32 + tileX

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	// Discard scx fractional pixels.
	for i := 0; i < fineX; i++ {
		_, _ = q.Pop()
	}

	// Produce 160 pixels, fetching new tiles as the FIFO empties.
	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			// Advance to next tile in map row (wrap at 32 tiles).
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderWindowScanlineUsingFetcher renders the window layer for a scanline using the fetcher.
// It fills pixels starting at wxStart (WX-7) using winLine as the vertical line within the window.
// Pixels before wxStart are left as 0 (BG color index 0) so callers can blend.
func RenderWindowScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	var out [160]byte
	if wxStart >= 160 {
		return out
	}
	if wxStart < 0 {
		wxStart = 0
	}
	// Compute window tile row and fineY
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileX := uint16(0)
	tileIndexAddr := mapBase + mapY*32 + tileX
	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	for x := wxStart; x < 160; x++ {
		if q.Len() == 0 {
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// BankedVRAMReader abstracts reading either VRAM bank by number, for CGB tile
// data/attribute lookups (the attribute byte always lives in bank 1 at the
// same map offset as the bank-0 tile index).
type BankedVRAMReader interface {
	ReadBank(bank int, addr uint16) byte
}

// RenderBGScanlineCGB renders one BG scanline with CGB tile attributes
// (palette, bank, and X/Y flip) applied. attrBase is the map address whose
// bank-1 byte holds each tile's attribute (in the wired PPU this equals
// mapBase; kept separate here so the two concerns can be tested
// independently).
func RenderBGScanlineCGB(mem BankedVRAMReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci, pal [160]byte, pri [160]bool) {
	bgY := uint16(ly) + uint16(scy)
	mapY := (bgY >> 3) & 31
	baseFineY := byte(bgY & 7)

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	col := 0
	x := 0
	// Emit pixels one tile at a time, discarding the first fineX of the
	// first tile, matching RenderBGScanlineUsingFetcher's semantics.
	first := true
	for x < 160 {
		addr := mapBase + mapY*32 + tileX
		attrAddr := attrBase + mapY*32 + tileX
		tileNum := mem.ReadBank(0, addr)
		attr := mem.ReadBank(1, attrAddr)
		bank := int((attr >> 4) & 1)
		yflip := (attr & 0x40) != 0
		xflip := (attr & 0x20) != 0
		palette := attr & 0x07
		priority := (attr & 0x80) != 0

		fineY := baseFineY
		if yflip {
			fineY = 7 - fineY
		}
		var base uint16
		if tileData8000 {
			base = 0x8000 + uint16(tileNum)*16 + uint16(fineY)*2
		} else {
			base = 0x9000 + uint16(int8(tileNum))*16 + uint16(fineY)*2
		}
		lo := mem.ReadBank(bank, base)
		hi := mem.ReadBank(bank, base+1)

		start := 0
		if first {
			start = fineX
		}
		for p := start; p < 8 && x < 160; p++ {
			var bit byte
			if xflip {
				bit = byte(p)
			} else {
				bit = 7 - byte(p)
			}
			v := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
			ci[x] = v
			pal[x] = palette
			pri[x] = priority
			x++
		}
		first = false
		tileX = (tileX + 1) & 31
		col++
	}
	return
}

// RenderWindowScanlineCGB mirrors RenderBGScanlineCGB for the window layer.
func RenderWindowScanlineCGB(mem BankedVRAMReader, mapBase, attrBase uint16, tileData8000 bool, wxStart int, winLine byte) (ci, pal [160]byte, pri [160]bool) {
	if wxStart >= 160 {
		return
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	tileX := uint16(0)
	x := wxStart
	for x < 160 {
		addr := mapBase + mapY*32 + tileX
		attrAddr := attrBase + mapY*32 + tileX
		tileNum := mem.ReadBank(0, addr)
		attr := mem.ReadBank(1, attrAddr)
		bank := int((attr >> 4) & 1)
		yflip := (attr & 0x40) != 0
		xflip := (attr & 0x20) != 0
		palette := attr & 0x07
		priority := (attr & 0x80) != 0

		fy := fineY
		if yflip {
			fy = 7 - fy
		}
		var base uint16
		if tileData8000 {
			base = 0x8000 + uint16(tileNum)*16 + uint16(fy)*2
		} else {
			base = 0x9000 + uint16(int8(tileNum))*16 + uint16(fy)*2
		}
		lo := mem.ReadBank(bank, base)
		hi := mem.ReadBank(bank, base+1)
		for p := 0; p < 8 && x < 160; p++ {
			var bit byte
			if xflip {
				bit = byte(p)
			} else {
				bit = 7 - byte(p)
			}
			v := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
			ci[x] = v
			pal[x] = palette
			pri[x] = priority
			x++
		}
		tileX = (tileX + 1) & 31
	}
	return
}

// Sprite is one OAM entry already translated to screen-space coordinates
// (X = OAM X - 8, Y = OAM Y - 16).
type Sprite struct {
	Y, X     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// sortByXThenOAM orders sprites by ascending X then ascending OAM index,
// the DMG/CGB-OPRI-compatibility sprite priority rule.
func sortByXThenOAM(s []Sprite) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].X != s[j].X {
			return s[i].X < s[j].X
		}
		return s[i].OAMIndex < s[j].OAMIndex
	})
}

// ComposeSpriteLine composes up to len(sprites) 8x8 (or 8x16 when tall)
// sprites onto one scanline, returning a color-index row (0 = transparent).
// bgci is the already-rendered BG/window color-index row, used to resolve
// the OBJ-to-BG priority bit (attribute bit 7). Sprites are drawn in
// ascending-X, then ascending-OAM-index priority order (DMG/CGB non-CGB-mode
// ordering); ties among fully opaque overlapping sprites are broken by
// whichever is processed first.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) [160]byte {
	var out [160]byte
	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	sortByXThenOAM(ordered)

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
		if (s.Attr & 0x40) != 0 { // Y flip
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
		base := 0x8000 + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)
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
			ci := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
			if ci == 0 {
				continue
			}
			if bgPriority && bgci[x] != 0 {
				resolved[x] = true
				continue
			}
			out[x] = ci
			resolved[x] = true
		}
	}
	return out
}
