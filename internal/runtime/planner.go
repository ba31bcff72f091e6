package runtime

import (
	"sort"
	"unsafe"
)

// ArenaAlign is the alignment of every tensor placed in the arena.
const ArenaAlign = 64

// allocation is one arena request. first and last are the node indices
// during which the tensor must hold its value, inclusive.
type allocation struct {
	tensor      int
	size        int
	first, last int
	offset      int
}

func alignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// planArena assigns offsets greedily, largest request first, placing each
// one at the lowest aligned offset that does not collide with an already
// placed request whose lifetime overlaps. It returns the arena size.
func planArena(allocs []allocation) int {
	order := make([]int, len(allocs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return allocs[order[i]].size > allocs[order[j]].size
	})

	var placed []int
	total := 0
	for _, ai := range order {
		a := &allocs[ai]
		size := alignUp(a.size, ArenaAlign)

		var live []int
		for _, pi := range placed {
			p := &allocs[pi]
			if p.first <= a.last && a.first <= p.last {
				live = append(live, pi)
			}
		}
		sort.Slice(live, func(i, j int) bool {
			return allocs[live[i]].offset < allocs[live[j]].offset
		})

		offset := 0
		for _, pi := range live {
			p := &allocs[pi]
			if p.offset-offset >= size {
				break
			}
			if end := p.offset + alignUp(p.size, ArenaAlign); end > offset {
				offset = end
			}
		}
		a.offset = offset
		if end := offset + size; end > total {
			total = end
		}
		placed = append(placed, ai)
	}
	return total
}

// alignedBytes returns n zeroed bytes starting on an ArenaAlign boundary.
func alignedBytes(n int) []byte {
	if n == 0 {
		return nil
	}
	buf := make([]byte, n+ArenaAlign)
	off := int(uintptr(unsafe.Pointer(&buf[0])) & (ArenaAlign - 1))
	if off != 0 {
		off = ArenaAlign - off
	}
	return buf[off : off+n : off+n]
}
