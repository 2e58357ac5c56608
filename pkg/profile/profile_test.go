package profile

import (
	"bytes"
	"testing"

	"mentos/pkg/mem/pmm"
	"mentos/pkg/mem/pmm/buddy"
	"mentos/pkg/mem/slab"
)

func newTestMemory(t *testing.T) *pmm.Memory {
	t.Helper()
	m, err := pmm.Init([]pmm.PhysRange{{Start: 0, End: 16 * 1024 * 1024}}, 0xC0000000, 8*1024*1024, 1*1024*1024)
	if err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	return m
}

func TestBuildSnapshotReportsZonesAndCaches(t *testing.T) {
	m := newTestMemory(t)

	c, err := slab.Create(m, "snap-test", 64, 8, pmm.KERNEL, nil, nil)
	if err != 0 {
		t.Fatalf("slab.Create: %v", err)
	}
	objs := make([]*slab.Obj, 4)
	for i := range objs {
		o, err := c.Alloc(pmm.KERNEL)
		if err != 0 {
			t.Fatalf("alloc %d: %v", i, err)
		}
		objs[i] = o
	}

	f, err := buddy.AllocPages(m, pmm.HIGHUSER, 2)
	if err != 0 {
		t.Fatalf("AllocPages: %v", err)
	}

	zones := []pmm.ZoneKind{pmm.DMA, pmm.KERNEL, pmm.HIGHUSER}
	snap := BuildSnapshot(m, zones, []*slab.Cache{c})

	if len(snap.SampleType) != 3 {
		t.Fatalf("SampleType count = %d, want 3", len(snap.SampleType))
	}
	if len(snap.Sample) == 0 {
		t.Fatalf("expected at least one sample")
	}

	_, wantFree := c.Stats()

	var sawCache, sawZoneTotal, sawOrderHist bool
	for _, s := range snap.Sample {
		if len(s.Label["cache"]) > 0 {
			sawCache = true
			if s.Value[0] != int64(wantFree) {
				t.Fatalf("cache free count mismatch: %d vs %d", s.Value[0], wantFree)
			}
		}
		if len(s.Label["kind"]) > 0 && s.Label["kind"][0] == "zone_total" {
			sawZoneTotal = true
			if s.Label["zone"][0] == pmm.KERNEL.String() && s.Value[2] == 0 {
				t.Fatalf("LowMem zone_total cached_bytes = 0, want > 0 with a live cache")
			}
		}
		if len(s.Label["kind"]) > 0 && s.Label["kind"][0] == "order_histogram" {
			sawOrderHist = true
		}
	}
	if !sawCache {
		t.Fatalf("no cache sample emitted")
	}
	if !sawZoneTotal {
		t.Fatalf("no zone_total sample emitted")
	}
	if !sawOrderHist {
		t.Fatalf("no order_histogram sample emitted for the HIGHUSER allocation")
	}

	if got := len(snap.Function); got == 0 {
		t.Fatalf("expected at least one function entry")
	}
	if got := len(snap.Location); got != len(snap.Sample) {
		t.Fatalf("location count = %d, want %d (one per sample)", got, len(snap.Sample))
	}

	if err := buddy.FreePages(m, f); err != 0 {
		t.Fatalf("FreePages: %v", err)
	}
	for _, o := range objs {
		if err := c.Free(o); err != 0 {
			t.Fatalf("free: %v", err)
		}
	}
}

func TestWriteProducesNonEmptyOutput(t *testing.T) {
	m := newTestMemory(t)
	snap := BuildSnapshot(m, []pmm.ZoneKind{pmm.KERNEL}, nil)

	var buf bytes.Buffer
	if err := Write(snap, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected non-empty gzip-encoded profile output")
	}
}
