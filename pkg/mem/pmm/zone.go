// Package pmm implements component A of the spec: the page frame map and
// the three memory zones (DMA, LowMem/KERNEL, HighMem/HIGHUSER). It is
// grounded on the teacher's Physmem_t (biscuit/src/mem/mem.go) — a global
// array of page descriptors plus a free-list threaded through them — but
// reorganized into per-zone arrays and a proper order-tagged descriptor, as
// spec.md §3/§9 require ("tagged variant {Free{order}, Used{order,ref}}").
package pmm

import (
	"sync"

	"mentos/internal/config"
	"mentos/pkg/mem"
)

// ZoneKind identifies one of the three memory zones (spec.md §3 "Zone
// identity"). It doubles as the allocation hint passed to the buddy
// allocator.
type ZoneKind uint8

const (
	DMA ZoneKind = iota
	KERNEL
	HIGHUSER
	numZones
)

func (z ZoneKind) String() string {
	switch z {
	case DMA:
		return "DMA"
	case KERNEL:
		return "LowMem"
	case HIGHUSER:
		return "HighMem"
	default:
		return "unknown"
	}
}

// FrameFlags records zone membership and reservation state in the frame
// descriptor (spec.md §3 "flags (zone membership, high/low, reserved)").
type FrameFlags uint8

const (
	FlagReserved FrameFlags = 1 << iota
)

// Frame is one physical page descriptor (spec.md §3 "Page frame
// descriptor"). Ref == -1 iff the frame sits on a free list (invariant I1);
// Order is meaningful only while the frame is the head of a block, free or
// allocated: the buddy allocator stamps it on allocation and reads it back
// on free (invariant I2/I3 — enforced by the buddy allocator, not here).
type Frame struct {
	Ref   int32
	Order uint8
	Flags FrameFlags
	Kind  ZoneKind

	// Next/Prev thread this frame into its zone's per-order free list.
	// -1 terminates the list. Only meaningful while Ref == -1.
	Next int32
	Prev int32

	// Owner is a back-pointer stashed by whichever subsystem carved this
	// frame out of the buddy allocator (the slab allocator, or the
	// address-space code for a VMA-backed page). pmm itself never reads
	// or writes it beyond zeroing it; it exists so kfree-style callers
	// can resolve "what owns the page containing this address" the way
	// spec.md §4.C describes, without pmm importing the slab package.
	Owner any

	idx uint32 // position within the owning zone's Frames slice
}

// FreeSentinel marks "no next/prev" in a free list, and the reference count
// of a free frame (invariant I1).
const FreeSentinel int32 = -1

// Idx returns the frame's position within its zone.
func (f *Frame) Idx() uint32 { return f.idx }

// IsFree reports whether the frame currently sits on a free list.
func (f *Frame) IsFree() bool { return f.Ref == FreeSentinel }

// Zone is a contiguous physical range served by one buddy instance (spec.md
// §3 "Memory zone"). VirtStart/VirtEnd are zero for HighMem, which has no
// permanent kernel mapping.
type Zone struct {
	Kind ZoneKind

	Start, End         mem.PA
	VirtStart, VirtEnd mem.VA

	Frames []Frame

	// Backing is the simulation's actual storage substrate for this
	// zone's page contents, addressed by frame index rather than the
	// symbolic virtual address in VirtStart/VirtEnd (a hosted test
	// process cannot map real memory at an arbitrary chosen address the
	// way the kernel's own page tables do). Callers that need to read or
	// write a frame's bytes — the slab allocator, and address-space
	// clone's content copy — go through Zone.Bytes / Memory.PageBytes;
	// VirtFromPage/PageFromVirt stay purely address-bookkeeping.
	Backing []byte

	// FreeHead[k] indexes the head of the order-k free list, or
	// FreeSentinel if empty.
	FreeHead [config.MaxOrder + 1]int32

	Mu sync.Mutex

	freePages   int64
	cachedBytes int64
}

// NumPages returns the number of page frames the zone covers.
func (z *Zone) NumPages() int { return len(z.Frames) }

// PhysAt returns the physical address of the frame at the given index.
func (z *Zone) PhysAt(idx uint32) mem.PA {
	return z.Start + mem.PA(idx)*mem.PageSize
}

// VirtAt returns the direct-mapped virtual address of the frame at idx, or
// 0 if the zone has no direct map (HighMem).
func (z *Zone) VirtAt(idx uint32) mem.VA {
	if z.VirtStart == 0 && z.VirtEnd == 0 {
		return 0
	}
	return z.VirtStart + mem.VA(idx)*mem.PageSize
}

// Bytes returns the page-sized content slice for the frame at idx.
func (z *Zone) Bytes(idx uint32) []byte {
	off := int(idx) * mem.PageSize
	return z.Backing[off : off+mem.PageSize]
}

// IndexOf returns the frame index backing pa, or false if pa is outside the
// zone.
func (z *Zone) IndexOf(pa mem.PA) (uint32, bool) {
	if pa < z.Start || pa >= z.End {
		return 0, false
	}
	return uint32((pa - z.Start) / mem.PageSize), true
}

// IndexOfVirt returns the frame index backing va via the zone's direct map,
// or false if va is outside the zone's mapped range.
func (z *Zone) IndexOfVirt(va mem.VA) (uint32, bool) {
	if z.VirtStart == 0 && z.VirtEnd == 0 {
		return 0, false
	}
	if va < z.VirtStart || va >= z.VirtEnd {
		return 0, false
	}
	return uint32((va - z.VirtStart) / mem.PageSize), true
}

// FreePages reports the zone's current free page count.
func (z *Zone) FreePages() int64 {
	z.Mu.Lock()
	defer z.Mu.Unlock()
	return z.freePages
}

// TotalPages reports the zone's total page count.
func (z *Zone) TotalPages() int64 { return int64(len(z.Frames)) }

// AdjustFree adjusts the zone's free page counter. The caller must already
// hold z.Mu; exported for the buddy package, which owns free-list
// manipulation but not the Zone type itself.
func (z *Zone) AdjustFree(delta int64) { z.freePages += delta }

// AddCachedBytes adjusts the zone's live slab-cache byte count (spec.md
// §4.B `get_zone_cached_space`). Called by pkg/mem/slab whenever a cache
// grows or releases a slab backed by this zone; self-locking since slab
// calls it outside of any buddy critical section.
func (z *Zone) AddCachedBytes(delta int64) {
	z.Mu.Lock()
	z.cachedBytes += delta
	z.Mu.Unlock()
}

// CachedBytes reports the zone's current live slab-cache byte count.
func (z *Zone) CachedBytes() int64 {
	z.Mu.Lock()
	defer z.Mu.Unlock()
	return z.cachedBytes
}

// PushFree threads frame idx onto the head of the zone's order-k free list
// (spec.md §4.B free-list maintenance). The caller must already hold z.Mu.
// Exported so the buddy package, which owns split/merge policy, can
// maintain the lists pmm's Zone type stores.
func (z *Zone) PushFree(order uint, idx uint32) {
	f := &z.Frames[idx]
	f.Next = z.FreeHead[order]
	f.Prev = FreeSentinel
	f.Ref = FreeSentinel
	f.Order = uint8(order)
	if z.FreeHead[order] != FreeSentinel {
		z.Frames[z.FreeHead[order]].Prev = int32(idx)
	}
	z.FreeHead[order] = int32(idx)
}

// PopFree removes and returns the head of the zone's order-k free list, or
// (0, false) if empty. The caller must already hold z.Mu.
func (z *Zone) PopFree(order uint) (uint32, bool) {
	head := z.FreeHead[order]
	if head == FreeSentinel {
		return 0, false
	}
	z.RemoveFree(order, uint32(head))
	return uint32(head), true
}

// RemoveFree unlinks frame idx from the zone's order-k free list. The
// caller must already hold z.Mu.
func (z *Zone) RemoveFree(order uint, idx uint32) {
	f := &z.Frames[idx]
	if f.Prev == FreeSentinel {
		z.FreeHead[order] = f.Next
	} else {
		z.Frames[f.Prev].Next = f.Next
	}
	if f.Next != FreeSentinel {
		z.Frames[f.Next].Prev = f.Prev
	}
	f.Next = FreeSentinel
	f.Prev = FreeSentinel
}

// ReserveBlock carves the 2^order block starting at frame index idx out of
// whichever free list currently holds it, bisecting down from that list's
// order exactly like an ordinary allocation except that it targets a
// specific address instead of accepting any block of the right size
// (spec.md §3.B "Reserve... carve out pages... before the allocator is
// opened to callers", the self-hosting bootstrap step mirroring the
// teacher's Phys_init carving its own Pgs array out of the range it
// describes). The carved block is marked allocated and FlagReserved. The
// caller must already hold z.Mu. Reports false if idx/order is misaligned,
// out of range, or the covering block is not free.
func (z *Zone) ReserveBlock(idx uint32, order uint) bool {
	if order > config.MaxOrder {
		return false
	}
	if idx%(uint32(1)<<order) != 0 || int(idx)+(1<<order) > len(z.Frames) {
		return false
	}

	cur := uint(config.MaxOrder)
	var base uint32
	found := false
	for {
		b := idx &^ ((uint32(1) << cur) - 1)
		if int(b)+(1<<cur) <= len(z.Frames) && z.Frames[b].IsFree() && uint(z.Frames[b].Order) == cur {
			base, found = b, true
			break
		}
		if cur == order {
			break
		}
		cur--
	}
	if !found {
		return false
	}

	z.RemoveFree(cur, base)
	for cur > order {
		cur--
		half := uint32(1) << cur
		if idx >= base+half {
			z.PushFree(cur, base)
			base += half
		} else {
			z.PushFree(cur, base+half)
		}
	}

	blk := &z.Frames[base]
	blk.Ref = 0
	blk.Order = uint8(order)
	blk.Flags |= FlagReserved
	return true
}

// seedFreeLists partitions the zone's full frame range into maximal
// aligned power-of-two blocks and threads each onto its order's free list
// — the classical buddy-system bootstrap (the teacher's Phys_init instead
// threads every frame onto one flat free list since biscuit has no buddy
// splitting; this generalizes that seeding step to per-order lists).
func seedFreeLists(z *Zone) {
	n := uint32(len(z.Frames))
	var idx uint32
	for idx < n {
		order := uint(config.MaxOrder)
		for order > 0 {
			blockSize := uint32(1) << order
			if idx%blockSize == 0 && idx+blockSize <= n {
				break
			}
			order--
		}
		z.PushFree(order, idx)
		idx += uint32(1) << order
	}
}

// newZone builds a zone descriptor spanning [start, end) with the given
// optional direct-map virtual range, every frame initialized free and
// threaded onto the zone's per-order free lists.
func newZone(kind ZoneKind, start, end mem.PA, virtStart, virtEnd mem.VA) *Zone {
	n := int((end - start) / mem.PageSize)
	z := &Zone{
		Kind:      kind,
		Start:     start,
		End:       end,
		VirtStart: virtStart,
		VirtEnd:   virtEnd,
		Frames:    make([]Frame, n),
		Backing:   make([]byte, n*mem.PageSize),
	}
	for i := range z.FreeHead {
		z.FreeHead[i] = FreeSentinel
	}
	for i := range z.Frames {
		z.Frames[i] = Frame{Ref: FreeSentinel, Kind: kind, Next: FreeSentinel, Prev: FreeSentinel, idx: uint32(i)}
	}
	seedFreeLists(z)
	return z
}
