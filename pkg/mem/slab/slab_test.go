package slab

import (
	"testing"

	"mentos/pkg/mem/pmm"
	"mentos/pkg/mem/pmm/buddy"
)

func newTestMemory(t *testing.T) *pmm.Memory {
	t.Helper()
	m, err := pmm.Init([]pmm.PhysRange{{Start: 0, End: 16 * 1024 * 1024}}, 0xC0000000, 8*1024*1024, 1*1024*1024)
	if err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	return m
}

func TestCtorDtorCountingScenario(t *testing.T) {
	m := newTestMemory(t)
	initial := m.Stats(pmm.KERNEL).FreeBytes

	ctorCount, dtorCount := 0, 0
	ctor := func(obj []byte) { ctorCount++; obj[0] = 0xCD }
	dtor := func(obj []byte) { dtorCount++ }

	c, err := Create(m, "test-64", 64, 8, pmm.KERNEL, ctor, dtor)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}

	objs := make([]*Obj, 3)
	for i := range objs {
		o, err := c.Alloc(pmm.KERNEL)
		if err != 0 {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if o.Data[0] != 0xCD {
			t.Fatalf("ctor did not run on object %d", i)
		}
		objs[i] = o
	}
	if ctorCount != 3 {
		t.Fatalf("ctor count = %d, want 3", ctorCount)
	}

	for i, o := range objs {
		if err := c.Free(o); err != 0 {
			t.Fatalf("free %d: %v", i, err)
		}
	}
	if ctorCount != 3 {
		t.Fatalf("ctor count changed on free: %d", ctorCount)
	}
	if dtorCount != 3 {
		t.Fatalf("dtor count = %d, want 3", dtorCount)
	}

	total, free := c.Stats()
	if total != free {
		t.Fatalf("total=%d free=%d, want equal after balanced alloc/free", total, free)
	}

	if err := c.Destroy(); err != 0 {
		t.Fatalf("destroy: %v", err)
	}
	if got := m.Stats(pmm.KERNEL).FreeBytes; got != initial {
		t.Fatalf("free space after destroy = %d, want %d", got, initial)
	}
}

func TestDestroyFailsWhenObjectsOutstanding(t *testing.T) {
	m := newTestMemory(t)
	c, err := Create(m, "busy", 32, 8, pmm.KERNEL, nil, nil)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	o, err := c.Alloc(pmm.KERNEL)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	if err := c.Destroy(); err == 0 {
		t.Fatalf("destroy should fail with an object outstanding")
	}
	if err := c.Free(o); err != 0 {
		t.Fatalf("free: %v", err)
	}
	if err := c.Destroy(); err != 0 {
		t.Fatalf("destroy after free: %v", err)
	}
}

func TestOwningCacheResolution(t *testing.T) {
	m := newTestMemory(t)
	c, err := Create(m, "owned", 48, 8, pmm.KERNEL, nil, nil)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	o, err := c.Alloc(pmm.KERNEL)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	got, ok := OwningCache(m, o.PA)
	if !ok || got != c {
		t.Fatalf("OwningCache did not resolve back to the creating cache")
	}
}

func TestGetZoneCachedSpaceTracksLiveSlabs(t *testing.T) {
	m := newTestMemory(t)
	if got := buddy.GetZoneCachedSpace(m, pmm.KERNEL); got != 0 {
		t.Fatalf("cached space before any cache exists = %d, want 0", got)
	}

	c, err := Create(m, "cached-space", 64, 8, pmm.KERNEL, nil, nil)
	if err != 0 {
		t.Fatalf("create: %v", err)
	}
	o, err := c.Alloc(pmm.KERNEL)
	if err != 0 {
		t.Fatalf("alloc: %v", err)
	}
	if got := buddy.GetZoneCachedSpace(m, pmm.KERNEL); got == 0 {
		t.Fatalf("cached space after growing a cache = 0, want > 0")
	}

	if err := c.Free(o); err != 0 {
		t.Fatalf("free: %v", err)
	}
	if err := c.Destroy(); err != 0 {
		t.Fatalf("destroy: %v", err)
	}
	if got := buddy.GetZoneCachedSpace(m, pmm.KERNEL); got != 0 {
		t.Fatalf("cached space after destroy = %d, want 0", got)
	}
}

func TestKmallocBuckets(t *testing.T) {
	m := newTestMemory(t)
	a, err := NewAllocator(m, pmm.KERNEL)
	if err != 0 {
		t.Fatalf("new allocator: %v", err)
	}
	o, err := a.Kmalloc(100)
	if err != 0 {
		t.Fatalf("kmalloc: %v", err)
	}
	if len(o.Data) < 100 {
		t.Fatalf("allocated %d bytes, want at least 100", len(o.Data))
	}
	if err := a.Kfree(o); err != 0 {
		t.Fatalf("kfree: %v", err)
	}

	big, err := a.Kmalloc(1 << 20)
	if err != 0 {
		t.Fatalf("kmalloc large: %v", err)
	}
	if err := a.Kfree(big); err != 0 {
		t.Fatalf("kfree large: %v", err)
	}
}
