package pmm

import (
	"fmt"

	"mentos/internal/config"
	"mentos/internal/defs"
	"mentos/internal/klog"
	"mentos/pkg/mem"
)

// PhysRange describes one entry of the boot protocol's physical memory map
// (spec.md §6 "Boot protocol"), filtered to usable RAM by the caller.
type PhysRange struct {
	Start, End mem.PA
}

// Memory is the global physical memory map: three zones plus the queries
// spec.md §4.A exposes. Grounded on the teacher's single global
// mem.Physmem instance.
type Memory struct {
	zones     [numZones]*Zone
	kernelOff mem.VA // LowMem virtual = physical + kernelOff
}

// Global is the system-wide physical memory map, set once by Init at boot,
// mirroring the teacher's `var Physmem = &Physmem_t{}`.
var Global *Memory

// Init carves the usable physical ranges into DMA/LowMem/HighMem zones and
// initializes every frame as free (spec.md §4.A). kernelOff is the fixed
// LowMem virtual-to-physical offset (spec.md §3 "LowMem virtual address =
// physical + fixed offset"); lowmemEnd is the architecture-specific
// kernel/user physical split beyond which HighMem begins.
func Init(ranges []PhysRange, kernelOff mem.VA, lowmemEnd mem.PA, dmaLimit mem.PA) (*Memory, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("pmm: no usable physical memory ranges")
	}
	m := &Memory{kernelOff: kernelOff}

	var dmaEnd, lowEnd, highEnd mem.PA
	for _, r := range ranges {
		if r.End > highEnd {
			highEnd = r.End
		}
	}
	dmaEnd = min(dmaLimit, highEnd)
	lowEnd = min(lowmemEnd, highEnd)
	if lowEnd < dmaEnd {
		lowEnd = dmaEnd
	}

	m.zones[DMA] = newZone(DMA, 0, dmaEnd, mem.VA(0)+kernelOff, mem.VA(dmaEnd)+kernelOff)
	m.zones[KERNEL] = newZone(KERNEL, dmaEnd, lowEnd, mem.VA(dmaEnd)+kernelOff, mem.VA(lowEnd)+kernelOff)
	m.zones[HIGHUSER] = newZone(HIGHUSER, lowEnd, highEnd, 0, 0)

	for _, z := range m.zones {
		reserved := reserveDescriptorPages(z)
		z.Mu.Lock()
		z.freePages = int64(len(z.Frames)) - reserved
		z.Mu.Unlock()
	}

	klog.Boot("pmm: DMA=[0,%#x) LowMem=[%#x,%#x) HighMem=[%#x,%#x)",
		dmaEnd, dmaEnd, lowEnd, lowEnd, highEnd)

	Global = m
	return m, nil
}

// frameDescriptorBytes approximates one Frame descriptor's footprint. It
// only sizes the self-hosting bootstrap reservation below, not exact
// memory accounting (this simulation keeps Frames as a Go slice, not
// actual zone-backed storage).
const frameDescriptorBytes = 40

// reserveDescriptorPages carves out, at the start of z, the pages that
// would physically back z's own Frames array in a non-simulated kernel,
// before the zone is opened to any caller (spec.md §3.B "used only during
// zone bootstrap to carve out the pages physically backing the
// page-descriptor array itself", mirroring the teacher's Phys_init
// self-hosting its own Pgs slice). It reports the number of pages reserved
// (0 for an empty zone or if the computed block does not fit).
func reserveDescriptorPages(z *Zone) int64 {
	n := len(z.Frames)
	if n == 0 {
		return 0
	}
	pages := (n*frameDescriptorBytes + mem.PageSize - 1) / mem.PageSize
	if pages < 1 {
		pages = 1
	}
	var order uint
	for (1 << order) < pages && order < config.MaxOrder {
		order++
	}
	for int(1<<order) > n && order > 0 {
		order--
	}

	z.Mu.Lock()
	defer z.Mu.Unlock()
	if !z.ReserveBlock(0, order) {
		return 0
	}
	return int64(1) << order
}

// Zone returns the zone descriptor for a given hint.
func (m *Memory) Zone(hint ZoneKind) *Zone { return m.zones[hint] }

// findZone locates the zone containing pa.
func (m *Memory) findZone(pa mem.PA) (*Zone, uint32, bool) {
	for _, z := range m.zones {
		if idx, ok := z.IndexOf(pa); ok {
			return z, idx, true
		}
	}
	return nil, 0, false
}

// PageFromPhys resolves the frame descriptor backing a physical address
// (spec.md §4.A `page_from_phys`).
func (m *Memory) PageFromPhys(pa mem.PA) (*Frame, defs.Err_t) {
	z, idx, ok := m.findZone(pa.PageAlignDown())
	if !ok {
		return nil, defs.EINVAL
	}
	return &z.Frames[idx], 0
}

// PhysFromPage returns the physical address of a frame descriptor
// (spec.md §4.A `phys_from_page`). f.Kind selects the zone owning f.
func (m *Memory) PhysFromPage(f *Frame) mem.PA {
	z := m.zones[f.Kind]
	return z.PhysAt(f.idx)
}

// VirtFromPage returns the direct-mapped virtual address of a frame, or 0
// for HighMem frames which have no permanent kernel mapping (spec.md §4.A).
func (m *Memory) VirtFromPage(f *Frame) mem.VA {
	z := m.zones[f.Kind]
	return z.VirtAt(f.idx)
}

// PageFromVirt resolves the frame backing a LowMem/DMA virtual address;
// undefined (returns EINVAL) for addresses outside any direct map,
// including all of HighMem (spec.md §4.A `page_from_virt`).
func (m *Memory) PageFromVirt(va mem.VA) (*Frame, defs.Err_t) {
	for _, kind := range [...]ZoneKind{DMA, KERNEL} {
		z := m.zones[kind]
		if idx, ok := z.IndexOfVirt(va.PageAlignDown()); ok {
			return &z.Frames[idx], 0
		}
	}
	return nil, defs.EINVAL
}

// PageBytes returns the page-sized content slice backing f, regardless of
// zone (used by the slab allocator and by address-space clone's content
// copy; see the Zone.Backing doc comment for why this is distinct from the
// symbolic VirtFromPage address).
func (m *Memory) PageBytes(f *Frame) []byte {
	return m.zones[f.Kind].Bytes(f.Idx())
}

// BlockBytes returns the contiguous content slice for a 2^order-page block
// headed by f (used by the slab allocator to carve a freshly allocated
// block into slots).
func (m *Memory) BlockBytes(f *Frame, order uint) []byte {
	z := m.zones[f.Kind]
	start := int(f.Idx()) * mem.PageSize
	n := (1 << order) * mem.PageSize
	return z.Backing[start : start+n]
}

// IsLowmemPage reports whether f belongs to the LowMem zone.
func (m *Memory) IsLowmemPage(f *Frame) bool { return f.Kind == KERNEL }

// IsDMAPage reports whether f belongs to the DMA zone.
func (m *Memory) IsDMAPage(f *Frame) bool { return f.Kind == DMA }

// IsHighmemPage reports whether f belongs to the HighMem zone.
func (m *Memory) IsHighmemPage(f *Frame) bool { return f.Kind == HIGHUSER }

// IsValidVirtualAddress reports whether va falls inside any zone's direct
// map (spec.md §4.A `is_valid_virtual_address`).
func (m *Memory) IsValidVirtualAddress(va mem.VA) bool {
	for _, kind := range [...]ZoneKind{DMA, KERNEL} {
		z := m.zones[kind]
		if _, ok := z.IndexOfVirt(va.PageAlignDown()); ok {
			return true
		}
	}
	return false
}

// ZoneStats summarizes one zone for diagnostics/profile export (spec.md
// §4.B `get_zone_{total,free}_space`). The per-order free-block histogram
// (`get_zone_buddy_system_status`) is structurally owned by the buddy
// package, which maintains the free lists this would walk; see
// pkg/mem/pmm/buddy's OrderHistogram/GetZoneBuddySystemStatus.
type ZoneStats struct {
	Kind       ZoneKind
	TotalBytes int64
	FreeBytes  int64
}

// Stats reports total/free bytes for a zone (spec.md §4.B
// `get_zone_total_space`/`get_zone_free_space`).
func (m *Memory) Stats(hint ZoneKind) ZoneStats {
	z := m.zones[hint]
	z.Mu.Lock()
	defer z.Mu.Unlock()
	return ZoneStats{
		Kind:       hint,
		TotalBytes: z.TotalPages() * mem.PageSize,
		FreeBytes:  z.freePages * mem.PageSize,
	}
}
