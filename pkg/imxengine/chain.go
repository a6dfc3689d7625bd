package imxengine

import "encoding/binary"

// chainManager provides linked-list traversal over RAM sectors via the
// "next" link stored in each sector's trailer (the last 4 bytes).
type chainManager struct {
	pool *ramPool
	alloc *allocator
}

func newChainManager(pool *ramPool, alloc *allocator) *chainManager {
	return &chainManager{pool: pool, alloc: alloc}
}

func (c *chainManager) trailerOffset() int {
	return c.pool.sectorSize - trailerSize
}

// next reads the trailer of sector s and returns its "next" link, or
// [EndOfChain].
func (c *chainManager) next(s Sector) (Sector, error) {
	start, _, ok := c.pool.bounds(s)
	if !ok {
		return InvalidSector, ErrInvalidSector
	}

	off := start + c.trailerOffset()
	v := binary.LittleEndian.Uint32(c.pool.data[off : off+4])

	return Sector(v), nil
}

// setNext writes next into sector s's trailer.
func (c *chainManager) setNext(s Sector, next Sector) error {
	start, _, ok := c.pool.bounds(s)
	if !ok {
		return ErrInvalidSector
	}

	off := start + c.trailerOffset()
	binary.LittleEndian.PutUint32(c.pool.data[off:off+4], uint32(next))

	return nil
}

// walk applies visit to every sector in the chain starting at head, in
// order, until EndOfChain. It is bounded by maxHops (derived from the
// stream's count) to detect cycles: if the chain hasn't terminated within
// maxHops steps, or visits a sector that isn't allocated, the chain is
// reported as corrupt via [ErrStreamInvalid].
func (c *chainManager) walk(head Sector, maxHops int, visit func(Sector) error) error {
	if head == InvalidSector || head == EndOfChain {
		return nil
	}

	cur := head

	for hops := 0; hops <= maxHops; hops++ {
		if cur == EndOfChain {
			return nil
		}

		if !c.alloc.isAllocated(cur) {
			return ErrStreamInvalid
		}

		err := visit(cur)
		if err != nil {
			return err
		}

		nxt, err := c.next(cur)
		if err != nil {
			return err
		}

		cur = nxt
	}

	return ErrStreamInvalid
}
