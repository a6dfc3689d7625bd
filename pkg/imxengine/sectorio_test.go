package imxengine

import "testing"

// Contract: write_words then read_words at the same offset round-trips for
// any word-aligned offset within the payload.
func Test_RAMPool_RoundTrip_AnyOffset(t *testing.T) {
	t.Parallel()

	p := newRAMPool(4, 32) // payloadWords(32) = 7

	maxWords := payloadWords(32)

	for off := 0; off < maxWords; off++ {
		n := maxWords - off

		src := make([]uint32, n)
		for i := range src {
			src[i] = uint32(0xA0000000 + off*100 + i)
		}

		if err := p.writeWords(Sector(1), off, n, src); err != nil {
			t.Fatalf("writeWords(off=%d): %v", off, err)
		}

		dst := make([]uint32, n)

		if err := p.readWords(Sector(1), off, n, dst); err != nil {
			t.Fatalf("readWords(off=%d): %v", off, err)
		}

		for i := range src {
			if dst[i] != src[i] {
				t.Fatalf("off=%d i=%d: got %#x, want %#x", off, i, dst[i], src[i])
			}
		}
	}
}

// Contract: offset+length exceeding the payload is rejected, not truncated.
func Test_RAMPool_WriteWords_OutOfBounds(t *testing.T) {
	t.Parallel()

	p := newRAMPool(2, 32)

	maxWords := payloadWords(32)

	err := p.writeWords(Sector(0), maxWords-1, 2, []uint32{1, 2})
	if err != ErrOutOfBounds {
		t.Fatalf("got %v, want ErrOutOfBounds", err)
	}
}

// Contract: an invalid sector address is reported distinctly from an
// out-of-bounds offset.
func Test_RAMPool_InvalidSector(t *testing.T) {
	t.Parallel()

	p := newRAMPool(2, 32)

	dst := make([]uint32, 1)

	if err := p.readWords(Sector(5), 0, 1, dst); err != ErrInvalidSector {
		t.Fatalf("got %v, want ErrInvalidSector", err)
	}
}

// Contract: the safe read variant rejects a destination buffer whose byte
// capacity is smaller than n_words*4.
func Test_RAMPool_ReadWordsSafe_BufferTooSmall(t *testing.T) {
	t.Parallel()

	p := newRAMPool(1, 32)

	if err := p.writeWords(Sector(0), 0, 2, []uint32{1, 2}); err != nil {
		t.Fatalf("writeWords: %v", err)
	}

	dst := make([]byte, 7) // need 8 bytes for 2 words

	if err := p.readWordsSafe(Sector(0), 0, 2, dst); err != ErrBufferTooSmall {
		t.Fatalf("got %v, want ErrBufferTooSmall", err)
	}

	dst = make([]byte, 8)

	if err := p.readWordsSafe(Sector(0), 0, 2, dst); err != nil {
		t.Fatalf("readWordsSafe with adequate buffer: %v", err)
	}
}

// Contract: a failed write never partially applies — bounds are validated
// before any byte is touched.
func Test_RAMPool_WriteWords_NeverPartiallyApplies(t *testing.T) {
	t.Parallel()

	p := newRAMPool(1, 32)

	// Seed the sector with a known pattern.
	seed := make([]uint32, payloadWords(32))
	for i := range seed {
		seed[i] = 0xDEADBEEF
	}

	if err := p.writeWords(Sector(0), 0, len(seed), seed); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	// Attempt an out-of-bounds write that overlaps the seeded region.
	bad := []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if err := p.writeWords(Sector(0), 2, len(bad), bad); err != ErrOutOfBounds {
		t.Fatalf("got %v, want ErrOutOfBounds", err)
	}

	got := make([]uint32, len(seed))
	if err := p.readWords(Sector(0), 0, len(seed), got); err != nil {
		t.Fatalf("readback: %v", err)
	}

	for i, w := range got {
		if w != 0xDEADBEEF {
			t.Fatalf("word %d mutated to %#x despite rejected write", i, w)
		}
	}
}
