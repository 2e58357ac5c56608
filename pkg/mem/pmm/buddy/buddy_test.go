package buddy

import (
	"testing"

	"mentos/pkg/mem"
	"mentos/pkg/mem/pmm"
)

func newTestMemory(t *testing.T) *pmm.Memory {
	t.Helper()
	m, err := pmm.Init([]pmm.PhysRange{{Start: 0, End: 16 * 1024 * 1024}}, 0xC0000000, 8*1024*1024, 1*1024*1024)
	if err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	return m
}

func TestAllocFreeSequentialOrders(t *testing.T) {
	m := newTestMemory(t)
	initial := m.Stats(pmm.KERNEL).FreeBytes

	var frames []*pmm.Frame
	for order := uint(0); order <= 3; order++ {
		f, err := AllocPages(m, pmm.KERNEL, order)
		if err != 0 {
			t.Fatalf("alloc order %d: %v", order, err)
		}
		frames = append(frames, f)
	}
	for i := len(frames) - 1; i >= 0; i-- {
		if err := FreePages(m, frames[i]); err != 0 {
			t.Fatalf("free: %v", err)
		}
	}
	if got := m.Stats(pmm.KERNEL).FreeBytes; got != initial {
		t.Fatalf("free space = %d, want %d", got, initial)
	}
}

func TestAllocFreeEvenOddPattern(t *testing.T) {
	m := newTestMemory(t)
	initial := m.Stats(pmm.KERNEL).FreeBytes

	frames := make([]*pmm.Frame, 8)
	for i := range frames {
		f, err := AllocPages(m, pmm.KERNEL, 0)
		if err != 0 {
			t.Fatalf("alloc %d: %v", i, err)
		}
		frames[i] = f
	}
	order := []int{0, 2, 4, 6, 1, 3, 5, 7}
	for _, i := range order {
		if err := FreePages(m, frames[i]); err != 0 {
			t.Fatalf("free %d: %v", i, err)
		}
	}
	if got := m.Stats(pmm.KERNEL).FreeBytes; got != initial {
		t.Fatalf("free space = %d, want %d", got, initial)
	}
}

func TestPageIdentityRoundTrip(t *testing.T) {
	m := newTestMemory(t)
	f, err := AllocPages(m, pmm.KERNEL, 0)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	defer FreePages(m, f)

	va := m.VirtFromPage(f)
	if va == 0 {
		t.Fatalf("expected non-zero lowmem virtual address")
	}
	pa := m.PhysFromPage(f)

	f2, err := m.PageFromVirt(va)
	if err != 0 || f2 != f {
		t.Fatalf("page_from_virt(virt_from_page(p)) != p")
	}
	f3, err := m.PageFromPhys(pa)
	if err != 0 || f3 != f {
		t.Fatalf("page_from_phys(phys_from_page(p)) != p")
	}

	hf, err := AllocPages(m, pmm.HIGHUSER, 0)
	if err != 0 {
		t.Fatalf("alloc highmem: %v", err)
	}
	defer FreePages(m, hf)
	if m.VirtFromPage(hf) != 0 {
		t.Fatalf("highmem page must report virt_from_page == 0")
	}
}

func TestDoubleFreeRejected(t *testing.T) {
	m := newTestMemory(t)
	f, err := AllocPages(m, pmm.KERNEL, 0)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	if err := FreePages(m, f); err != 0 {
		t.Fatalf("free: %v", err)
	}
	if err := FreePages(m, f); err == 0 {
		t.Fatalf("double free should be rejected")
	}
}

func TestInvalidOrderRejected(t *testing.T) {
	m := newTestMemory(t)
	if _, err := AllocPages(m, pmm.KERNEL, 100); err == 0 {
		t.Fatalf("order 100 should be rejected as invalid")
	}
}

func TestReserveCarvesOutAndRejectsOverlap(t *testing.T) {
	m := newTestMemory(t)

	// Pick a known-free, order-2-aligned address without assuming anything
	// about where pmm.Init's own descriptor-backing reservation sits.
	probe, err := AllocPages(m, pmm.KERNEL, 2)
	if err != 0 {
		t.Fatalf("alloc probe: %v", err)
	}
	pa := m.PhysFromPage(probe)
	if err := FreePages(m, probe); err != 0 {
		t.Fatalf("free probe: %v", err)
	}

	free0 := m.Stats(pmm.KERNEL).FreeBytes
	if err := Reserve(m, pmm.KERNEL, pa, 2); err != 0 {
		t.Fatalf("Reserve: %v", err)
	}
	free1 := m.Stats(pmm.KERNEL).FreeBytes
	if want := free0 - int64(4)*mem.PageSize; free1 != want {
		t.Fatalf("free bytes after Reserve = %d, want %d", free1, want)
	}

	f, err := m.PageFromPhys(pa)
	if err != 0 {
		t.Fatalf("PageFromPhys: %v", err)
	}
	if f.IsFree() {
		t.Fatalf("reserved frame reports free")
	}
	if f.Flags&pmm.FlagReserved == 0 {
		t.Fatalf("reserved frame missing FlagReserved")
	}

	// Reserving the same range again must fail: it is no longer free.
	if err := Reserve(m, pmm.KERNEL, pa, 0); err == 0 {
		t.Fatalf("re-reserving an already-reserved range should fail")
	}

	// AllocPages must never hand out the reserved block.
	for {
		fr, err := AllocPages(m, pmm.KERNEL, 0)
		if err != 0 {
			break
		}
		if m.PhysFromPage(fr) == pa {
			t.Fatalf("AllocPages handed out a reserved frame")
		}
	}
}

func TestReserveRejectsMisalignedAddress(t *testing.T) {
	m := newTestMemory(t)
	z := m.Zone(pmm.KERNEL)
	if err := Reserve(m, pmm.KERNEL, z.Start+mem.PageSize, 1); err == 0 {
		t.Fatalf("misaligned reservation should be rejected")
	}
}
