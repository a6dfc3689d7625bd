package imxengine

import "testing"

func newChainFixture(t *testing.T, total int) (*allocator, *chainManager) {
	t.Helper()

	pool := newRAMPool(total, 32)
	alloc := newAllocator(total, 0)
	chains := newChainManager(pool, alloc)

	return alloc, chains
}

// Contract: a chain with count <= N*entries_per_sector terminates within
// ceil(count/entries_per_sector) hops.
func Test_ChainManager_Walk_TerminatesWithinBound(t *testing.T) {
	t.Parallel()

	alloc, chains := newChainFixture(t, 5)

	var sectors []Sector
	for i := 0; i < 4; i++ {
		sectors = append(sectors, alloc.alloc())
	}

	for i := 0; i < 3; i++ {
		if err := chains.setNext(sectors[i], sectors[i+1]); err != nil {
			t.Fatalf("setNext: %v", err)
		}
	}

	if err := chains.setNext(sectors[3], EndOfChain); err != nil {
		t.Fatalf("setNext end: %v", err)
	}

	var visited []Sector

	err := chains.walk(sectors[0], 4, func(s Sector) error {
		visited = append(visited, s)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}

	if len(visited) != 4 {
		t.Fatalf("visited %d sectors, want 4", len(visited))
	}

	for i, s := range visited {
		if s != sectors[i] {
			t.Fatalf("visited[%d] = %d, want %d", i, s, sectors[i])
		}
	}
}

// Contract: a cycle is reported as corruption, not an infinite loop.
func Test_ChainManager_Walk_DetectsCycle(t *testing.T) {
	t.Parallel()

	alloc, chains := newChainFixture(t, 3)

	a := alloc.alloc()
	b := alloc.alloc()

	if err := chains.setNext(a, b); err != nil {
		t.Fatalf("setNext: %v", err)
	}

	if err := chains.setNext(b, a); err != nil { // cycle
		t.Fatalf("setNext: %v", err)
	}

	err := chains.walk(a, 10, func(Sector) error { return nil })
	if err != ErrStreamInvalid {
		t.Fatalf("got %v, want ErrStreamInvalid", err)
	}
}

// Contract: a trailer pointing at a non-allocated (e.g. freed) sector is
// reported as corruption.
func Test_ChainManager_Walk_DetectsDanglingLink(t *testing.T) {
	t.Parallel()

	alloc, chains := newChainFixture(t, 3)

	a := alloc.alloc()
	b := alloc.alloc()

	if err := chains.setNext(a, b); err != nil {
		t.Fatalf("setNext: %v", err)
	}

	if err := alloc.free(b); err != nil {
		t.Fatalf("free: %v", err)
	}

	err := chains.walk(a, 5, func(Sector) error { return nil })
	if err != ErrStreamInvalid {
		t.Fatalf("got %v, want ErrStreamInvalid", err)
	}
}

// Contract: next/setNext round-trip the trailer link exactly.
func Test_ChainManager_NextSetNext_RoundTrip(t *testing.T) {
	t.Parallel()

	alloc, chains := newChainFixture(t, 3)

	a := alloc.alloc()
	b := alloc.alloc()

	if err := chains.setNext(a, b); err != nil {
		t.Fatalf("setNext: %v", err)
	}

	got, err := chains.next(a)
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	if got != b {
		t.Fatalf("next(a) = %d, want %d", got, b)
	}

	if err := chains.setNext(a, EndOfChain); err != nil {
		t.Fatalf("setNext end: %v", err)
	}

	got, err = chains.next(a)
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	if got != EndOfChain {
		t.Fatalf("next(a) = %d, want EndOfChain", got)
	}
}
