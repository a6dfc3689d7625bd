package imxengine

import "encoding/binary"

// addressSpace implements C5: a single namespace over RAM sector indices
// and disk sector indices, dispatching every operation to the tier named
// by comparing the address against diskBase.
//
// A disk [ExtSector] names one physical disk *file*, which may itself
// pack several RAM-sector-equivalent "slots" (spec §4.6: batched v2
// format). Callers that need slot-level addressing within a disk file
// (the stream reader, consuming entries FIFO) use readSlotWords and
// slotCount directly; next/setNext operate at the granularity of one
// chain hop, which for a disk file means the whole file.
type addressSpace struct {
	diskBase uint32
	pool     *ramPool
	chains   *chainManager
	disk     *diskFileLayer
}

func newAddressSpace(diskBase uint32, pool *ramPool, chains *chainManager, disk *diskFileLayer) *addressSpace {
	return &addressSpace{diskBase: diskBase, pool: pool, chains: chains, disk: disk}
}

func (a *addressSpace) isDisk(e ExtSector) bool {
	return uint32(e) >= a.diskBase
}

func (a *addressSpace) extFromRAM(s Sector) ExtSector {
	return ExtSector(s)
}

func (a *addressSpace) extFromDisk(diskIdx uint32) ExtSector {
	return ExtSector(a.diskBase + diskIdx)
}

func (a *addressSpace) diskIndexOf(e ExtSector) uint32 {
	return uint32(e) - a.diskBase
}

// readWords reads n words at wordOffset from the RAM sector or disk-file
// slot 0 named by ext. Use readSlotWords to address a later slot within a
// batched disk file.
func (a *addressSpace) readWords(ext ExtSector, sensorID uint16, wordOffset, n int, dst []uint32) error {
	return a.readSlotWords(ext, sensorID, 0, wordOffset, n, dst)
}

func (a *addressSpace) readSlotWords(ext ExtSector, sensorID uint16, slot, wordOffset, n int, dst []uint32) error {
	if !a.isDisk(ext) {
		if slot != 0 {
			return ErrOutOfBounds
		}

		return a.pool.readWords(Sector(ext), wordOffset, n, dst)
	}

	h, payload, err := a.disk.read(a.diskIndexOf(ext), sensorID)
	if err != nil {
		return err
	}

	if slot < 0 || slot >= int(h.SectorCount) {
		return ErrOutOfBounds
	}

	img := slotPayload(payload, int(h.SectorSize), slot)

	maxWords := payloadWords(int(h.SectorSize))
	if wordOffset < 0 || n < 0 || wordOffset+n > maxWords {
		return ErrOutOfBounds
	}

	if len(dst) < n {
		return ErrBufferTooSmall
	}

	base := wordOffset * 4
	for i := range n {
		dst[i] = binary.LittleEndian.Uint32(img[base+i*4 : base+i*4+4])
	}

	return nil
}

// writeWords writes to a RAM sector. Disk files are immutable once
// created; writing to a disk address is always an error.
func (a *addressSpace) writeWords(ext ExtSector, wordOffset, n int, src []uint32) error {
	if a.isDisk(ext) {
		return ErrInvalidSector
	}

	return a.pool.writeWords(Sector(ext), wordOffset, n, src)
}

// slotCount reports how many RAM-sector-equivalent slots ext spans: 1 for
// a RAM sector, the batch's sector_count for a disk file.
func (a *addressSpace) slotCount(ext ExtSector, sensorID uint16) (int, error) {
	if !a.isDisk(ext) {
		return 1, nil
	}

	h, _, err := a.disk.read(a.diskIndexOf(ext), sensorID)
	if err != nil {
		return 0, err
	}

	return int(h.SectorCount), nil
}

// next returns the chain's continuation after ext: for a RAM sector, its
// trailer link (which may itself be a RAM or disk address); for a disk
// file, the trailer embedded in the batch's last slot, which is the only
// place a cross-file continuation is recorded (spec §6: the file header
// carries no "next" field).
func (a *addressSpace) next(ext ExtSector, sensorID uint16) (ExtSector, error) {
	if !a.isDisk(ext) {
		nxt, err := a.chains.next(Sector(ext))
		if err != nil {
			return InvalidExtSector, err
		}

		return ExtSector(nxt), nil
	}

	h, payload, err := a.disk.read(a.diskIndexOf(ext), sensorID)
	if err != nil {
		return InvalidExtSector, err
	}

	if h.SectorCount == 0 {
		return ExtSector(EndOfChain), nil
	}

	lastSlot := slotPayload(payload, int(h.SectorSize), int(h.SectorCount)-1)
	off := int(h.SectorSize) - trailerSize

	return ExtSector(binary.LittleEndian.Uint32(lastSlot[off : off+4])), nil
}

// setNext rewrites the trailer of a RAM sector. Disk files are immutable;
// rewriting a disk file's embedded trailer is done only by re-creating the
// file (the journal's update_link op documents intent for recovery, see
// journal.go), never by mutating an existing file in place.
func (a *addressSpace) setNext(ext ExtSector, next ExtSector) error {
	if a.isDisk(ext) {
		return ErrInvalidSector
	}

	return a.chains.setNext(Sector(ext), Sector(next))
}
