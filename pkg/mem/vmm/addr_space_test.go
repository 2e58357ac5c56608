package vmm

import (
	"testing"

	"mentos/internal/config"
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

func TestCreateBlankStackVMA(t *testing.T) {
	m := newTestMemory(t)
	as, err := CreateBlank(m, 2*mem.PageSize)
	if err != 0 {
		t.Fatalf("create blank: %v", err)
	}
	wantStart := mem.VA(config.ProcAreaEnd - 2*mem.PageSize)
	if as.Stack.Start != wantStart || as.Stack.End != mem.VA(config.ProcAreaEnd) {
		t.Fatalf("stack vma = [%#x,%#x), want [%#x,%#x)", as.Stack.Start, as.Stack.End, wantStart, config.ProcAreaEnd)
	}
	v, ok := as.FindVMA(mem.VA(config.ProcAreaEnd - 1))
	if !ok || v != as.Stack {
		t.Fatalf("vm_area_find at top of stack did not return the stack VMA")
	}
}

func TestVMAOverlapRejected(t *testing.T) {
	m := newTestMemory(t)
	as, err := CreateBlank(m, mem.PageSize)
	if err != 0 {
		t.Fatalf("create blank: %v", err)
	}
	_, err = as.CreateVMA(as.Stack.Start, mem.PageSize, VM_USER|VM_RW, pmm.KERNEL)
	if err == 0 {
		t.Fatalf("overlapping VMA should be rejected")
	}
}

func TestCloneDistinctPhysicalEqualContent(t *testing.T) {
	m := newTestMemory(t)
	src, err := CreateBlank(m, mem.PageSize)
	if err != 0 {
		t.Fatalf("create blank: %v", err)
	}
	pte, ok := src.Dir.Lookup(src.Stack.Start)
	if !ok {
		t.Fatalf("expected stack page to be mapped")
	}
	copy(m.PageBytes(pte.Frame), []byte("hello from src"))

	dst, err := src.Clone()
	if err != 0 {
		t.Fatalf("clone: %v", err)
	}
	dpte, ok := dst.Dir.Lookup(dst.Stack.Start)
	if !ok {
		t.Fatalf("clone missing stack mapping")
	}
	if dpte.Frame == pte.Frame {
		t.Fatalf("clone must back the mapping with a different physical frame")
	}
	if string(m.PageBytes(dpte.Frame)[:14]) != "hello from src" {
		t.Fatalf("clone content mismatch: %q", m.PageBytes(dpte.Frame)[:14])
	}
}

func TestDestroyRestoresFreeSpace(t *testing.T) {
	m := newTestMemory(t)
	initial := m.Stats(pmm.KERNEL).FreeBytes
	as, err := CreateBlank(m, 2*mem.PageSize)
	if err != 0 {
		t.Fatalf("create blank: %v", err)
	}
	as.Destroy()
	if got := m.Stats(pmm.KERNEL).FreeBytes; got != initial {
		t.Fatalf("free space after destroy = %d, want %d", got, initial)
	}
}
