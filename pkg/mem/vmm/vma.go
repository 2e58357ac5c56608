package vmm

import (
	"sync"

	"mentos/internal/defs"
	"mentos/pkg/mem"
)

// VMAFlags are the permission/attribute bits a VMA carries (spec.md §3
// "Virtual memory area (VMA)").
type VMAFlags uint32

const (
	VM_USER VMAFlags = 1 << iota
	VM_GLOBAL
	VM_RW
	VM_PRESENT
	VM_COW
)

// VMA is a half-open virtual address range within one address space
// (spec.md §3 "Virtual memory area (VMA)").
type VMA struct {
	AS         *AddressSpace
	Start, End mem.VA
	Flags      VMAFlags
}

// Len returns the VMA's length in bytes.
func (v *VMA) Len() int { return int(v.End - v.Start) }

// vmaList holds one address space's VMAs ordered by Start, plus a one-slot
// MRU cache (spec.md §3 "ordered by vm_start ... plus a one-slot MRU
// cache").
type vmaList struct {
	mu    sync.Mutex
	items []*VMA // strictly sorted ascending by Start
	mru   *VMA
}

// find locates the VMA (if any) containing addr, checking the MRU cache
// first (spec.md §4.D `vm_area_find`).
func (l *vmaList) find(addr mem.VA) (*VMA, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mru != nil && addr >= l.mru.Start && addr < l.mru.End {
		return l.mru, true
	}
	i := l.lowerBound(addr)
	if i < len(l.items) && l.items[i].Start <= addr && addr < l.items[i].End {
		l.mru = l.items[i]
		return l.items[i], true
	}
	if i > 0 && l.items[i-1].Start <= addr && addr < l.items[i-1].End {
		l.mru = l.items[i-1]
		return l.items[i-1], true
	}
	return nil, false
}

// lowerBound returns the index of the first VMA whose Start > addr (binary
// search over the sorted slice); caller holds l.mu.
func (l *vmaList) lowerBound(addr mem.VA) int {
	lo, hi := 0, len(l.items)
	for lo < hi {
		mid := (lo + hi) / 2
		if l.items[mid].Start <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// insert adds v, rejecting overlap with any existing VMA (spec.md §4.D
// `vm_area_create` "returns null on conflict"; invariant "VMAs ... do not
// overlap").
func (l *vmaList) insert(v *VMA) defs.Err_t {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.lowerBound(v.Start)
	if i > 0 && l.items[i-1].End > v.Start {
		return defs.EINVAL
	}
	if i < len(l.items) && l.items[i].Start < v.End {
		return defs.EINVAL
	}
	l.items = append(l.items, nil)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = v
	return 0
}

// remove deletes v from the list.
func (l *vmaList) remove(v *VMA) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.items {
		if e == v {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	if l.mru == v {
		l.mru = nil
	}
}

// searchFree scans gaps in ascending order and returns the first one of at
// least length bytes (spec.md §4.D `vm_area_search_free_area`: "first-fit
// in ascending order"). rangeEnd bounds the search (the user half's top).
func (l *vmaList) searchFree(length int, rangeStart, rangeEnd mem.VA) (mem.VA, int) {
	if length <= 0 {
		return 0, -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cursor := rangeStart
	for _, v := range l.items {
		if v.Start < rangeStart {
			continue
		}
		if v.Start-cursor >= mem.VA(length) {
			return cursor, 0
		}
		if v.End > cursor {
			cursor = v.End
		}
	}
	if rangeEnd-cursor >= mem.VA(length) {
		return cursor, 0
	}
	return 0, 1
}

// isValid reports whether [s,e) is free, occupied, or out of range
// (spec.md §4.D `vm_area_is_valid`).
func (l *vmaList) isValid(s, e, rangeStart, rangeEnd mem.VA) int {
	if s >= e || s < rangeStart || e > rangeEnd {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range l.items {
		if s < v.End && v.Start < e {
			return 0
		}
	}
	return 1
}
