package pmm

import (
	"testing"

	"mentos/internal/config"
	"mentos/pkg/mem"
)

func TestInitReservesDescriptorBackingPages(t *testing.T) {
	m, err := Init([]PhysRange{{Start: 0, End: 16 * 1024 * 1024}}, 0xC0000000, 8*1024*1024, 1*1024*1024)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	for _, kind := range []ZoneKind{DMA, KERNEL, HIGHUSER} {
		z := m.zones[kind]
		if z.NumPages() == 0 {
			continue
		}
		stats := m.Stats(kind)
		if stats.FreeBytes >= stats.TotalBytes {
			t.Fatalf("zone %s: free bytes %d should be less than total %d, descriptor pages were not reserved",
				kind, stats.FreeBytes, stats.TotalBytes)
		}
		f := &z.Frames[0]
		if f.IsFree() {
			t.Fatalf("zone %s: frame 0 should be reserved, not free", kind)
		}
		if f.Flags&FlagReserved == 0 {
			t.Fatalf("zone %s: frame 0 should carry FlagReserved", kind)
		}
	}
}

func TestInitSeedsFreeLists(t *testing.T) {
	m, err := Init([]PhysRange{{Start: 0, End: 16 * 1024 * 1024}}, 0xC0000000, 8*1024*1024, 1*1024*1024)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	z := m.zones[KERNEL]
	var total int64
	for order := 0; order <= config.MaxOrder; order++ {
		for idx := z.FreeHead[order]; idx != FreeSentinel; idx = z.Frames[idx].Next {
			total += int64(1) << uint(order)
		}
	}
	if total != z.FreePages() {
		t.Fatalf("sum of free-list blocks = %d pages, want %d (z.FreePages())", total, z.FreePages())
	}
	if total == 0 {
		t.Fatalf("expected at least one free block after Init")
	}
}

func TestZoneReserveBlockRejectsAlreadyAllocated(t *testing.T) {
	z := newZone(KERNEL, 0, 64*mem.PageSize, 0, 64*mem.PageSize)
	if !z.ReserveBlock(0, 2) {
		t.Fatalf("first reservation of [0,4) should succeed")
	}
	if z.ReserveBlock(0, 0) {
		t.Fatalf("re-reserving an already-allocated frame should fail")
	}
	if !z.ReserveBlock(4, 0) {
		t.Fatalf("reserving an untouched frame should still succeed")
	}
}
