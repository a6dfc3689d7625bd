package imxengine

import "encoding/binary"

// ramPool is the raw backing store for all RAM sectors: one contiguous
// byte slice, sectorSize bytes per sector. Lengths are expressed in 32-bit
// words at every layer above this one; ramPool is the single site that
// converts a word offset/count to a byte range for RAM reads and writes
// (spec §9: "centralize the conversion at exactly one site per
// direction").
type ramPool struct {
	sectorSize int
	data       []byte
}

func newRAMPool(total, sectorSize int) *ramPool {
	return &ramPool{
		sectorSize: sectorSize,
		data:       make([]byte, total*sectorSize),
	}
}

func (p *ramPool) bounds(s Sector) (int, int, bool) {
	start := int(s) * p.sectorSize
	if start < 0 || start+p.sectorSize > len(p.data) {
		return 0, 0, false
	}

	return start, start + p.sectorSize, true
}

// zeroSector clears a sector's entire payload and trailer.
func (p *ramPool) zeroSector(s Sector) error {
	start, end, ok := p.bounds(s)
	if !ok {
		return ErrInvalidSector
	}

	clear(p.data[start:end])

	return nil
}

// readWords reads n words starting at word_offset from sector s into dst.
// dst must have length >= n; it is not grown.
func (p *ramPool) readWords(s Sector, wordOffset, n int, dst []uint32) error {
	start, _, ok := p.bounds(s)
	if !ok {
		return ErrInvalidSector
	}

	maxWords := payloadWords(p.sectorSize)
	if wordOffset < 0 || n < 0 || wordOffset+n > maxWords {
		return ErrOutOfBounds
	}

	if len(dst) < n {
		return ErrBufferTooSmall
	}

	base := start + wordOffset*4
	for i := range n {
		dst[i] = binary.LittleEndian.Uint32(p.data[base+i*4 : base+i*4+4])
	}

	return nil
}

// writeWords writes src[:n] into sector s starting at word_offset. Writes
// never partially apply: bounds are validated before any byte is touched.
func (p *ramPool) writeWords(s Sector, wordOffset, n int, src []uint32) error {
	start, _, ok := p.bounds(s)
	if !ok {
		return ErrInvalidSector
	}

	maxWords := payloadWords(p.sectorSize)
	if wordOffset < 0 || n < 0 || wordOffset+n > maxWords {
		return ErrOutOfBounds
	}

	if len(src) < n {
		return ErrBufferTooSmall
	}

	base := start + wordOffset*4
	for i := range n {
		binary.LittleEndian.PutUint32(p.data[base+i*4:base+i*4+4], src[i])
	}

	return nil
}

// readWordsSafe is the bounds-checked variant that additionally verifies
// the destination buffer's *byte* capacity, per spec §4.2.
func (p *ramPool) readWordsSafe(s Sector, wordOffset, n int, dstBytes []byte) error {
	if len(dstBytes) < n*4 {
		return ErrBufferTooSmall
	}

	words := make([]uint32, n)

	err := p.readWords(s, wordOffset, n, words)
	if err != nil {
		return err
	}

	for i, w := range words {
		binary.LittleEndian.PutUint32(dstBytes[i*4:i*4+4], w)
	}

	return nil
}

// rawSectorBytes returns a copy of sector s's full byte image (payload and
// trailer), used by the disk file layer when packing sectors into a batch.
func (p *ramPool) rawSectorBytes(s Sector) ([]byte, error) {
	start, end, ok := p.bounds(s)
	if !ok {
		return nil, ErrInvalidSector
	}

	out := make([]byte, p.sectorSize)
	copy(out, p.data[start:end])

	return out, nil
}

// loadSectorBytes overwrites sector s's full byte image, used when a disk
// file is staged back into RAM (not required by the default flush-only
// flow, but kept symmetric with rawSectorBytes for recovery paths that
// rehydrate a single sector).
func (p *ramPool) loadSectorBytes(s Sector, img []byte) error {
	start, end, ok := p.bounds(s)
	if !ok {
		return ErrInvalidSector
	}

	if len(img) != p.sectorSize {
		return ErrOutOfBounds
	}

	copy(p.data[start:end], img)

	return nil
}
