package vmm

import (
	"sync"

	"mentos/internal/config"
	"mentos/internal/defs"
	"mentos/pkg/mem"
	"mentos/pkg/mem/pmm"
	"mentos/pkg/mem/pmm/buddy"
)

// AddressSpace is one process's mm: page directory, VMA list/cache and
// map_count (spec.md §3 "Address space (mm)").
type AddressSpace struct {
	mm  *pmm.Memory
	Dir *PageDir

	vmas     vmaList
	mapCount int
	mcMu     sync.Mutex

	Stack *VMA
}

// MapCount returns the number of VMAs currently mapped.
func (as *AddressSpace) MapCount() int {
	as.mcMu.Lock()
	defer as.mcMu.Unlock()
	return as.mapCount
}

func (as *AddressSpace) bumpMapCount(delta int) {
	as.mcMu.Lock()
	as.mapCount += delta
	as.mcMu.Unlock()
}

// CreateBlank builds a fresh address space with a stack VMA at the top of
// user space (spec.md §4.D `mm_create_blank`).
func CreateBlank(mm *pmm.Memory, stackSize int) (*AddressSpace, defs.Err_t) {
	if stackSize <= 0 || stackSize%mem.PageSize != 0 {
		return nil, defs.EINVAL
	}
	as := &AddressSpace{mm: mm, Dir: NewPageDir()}
	stackStart := mem.VA(config.ProcAreaEnd) - mem.VA(stackSize)
	v, err := as.CreateVMA(stackStart, stackSize, VM_USER|VM_RW|VM_PRESENT, pmm.KERNEL)
	if err != 0 {
		return nil, err
	}
	as.Stack = v
	return as, 0
}

// CreateVMA allocates physical pages for PRESENT flags and installs PTEs
// for [start, start+size) (spec.md §4.D `vm_area_create`). It returns
// defs.EINVAL (null, in the spec's C-shaped contract) on overlap.
func (as *AddressSpace) CreateVMA(start mem.VA, size int, flags VMAFlags, hint pmm.ZoneKind) (*VMA, defs.Err_t) {
	if size <= 0 || !start.PageAligned() || size%mem.PageSize != 0 {
		return nil, defs.EINVAL
	}
	end := start + mem.VA(size)
	v := &VMA{AS: as, Start: start, End: end, Flags: flags}
	if err := as.vmas.insert(v); err != 0 {
		return nil, err
	}

	if flags&VM_PRESENT != 0 {
		npages := size / mem.PageSize
		installed := make([]mem.VA, 0, npages)
		for i := 0; i < npages; i++ {
			va := start + mem.VA(i*mem.PageSize)
			frame, aerr := buddy.AllocPages(as.mm, hint, 0)
			if aerr != 0 {
				for _, uva := range installed {
					if f, ok := as.Dir.Unmap(uva); ok {
						buddy.FreePages(as.mm, f)
					}
				}
				as.vmas.remove(v)
				return nil, aerr
			}
			as.Dir.Map(va, frame, ptePerms(flags))
			installed = append(installed, va)
		}
	}

	as.bumpMapCount(1)
	return v, 0
}

func ptePerms(flags VMAFlags) uint32 {
	var p uint32 = uint32(mem.PTE_P)
	if flags&VM_RW != 0 {
		p |= uint32(mem.PTE_W)
	}
	if flags&VM_USER != 0 {
		p |= uint32(mem.PTE_U)
	}
	if flags&VM_GLOBAL != 0 {
		p |= uint32(mem.PTE_G)
	}
	if flags&VM_COW != 0 {
		p |= uint32(mem.PTE_COW)
	}
	return p
}

// DestroyVMA tears down PTEs, returns backing pages to the buddy allocator,
// and unlinks/frees the VMA (spec.md §4.D `vm_area_destroy`).
func (as *AddressSpace) DestroyVMA(v *VMA) defs.Err_t {
	if v.AS != as {
		return defs.EINVAL
	}
	for va := v.Start; va < v.End; va += mem.PageSize {
		if f, ok := as.Dir.Unmap(va); ok {
			buddy.FreePages(as.mm, f)
		}
	}
	as.vmas.remove(v)
	as.bumpMapCount(-1)
	return 0
}

// FindVMA looks up the VMA (if any) containing addr (spec.md §4.D
// `vm_area_find`).
func (as *AddressSpace) FindVMA(addr mem.VA) (*VMA, bool) { return as.vmas.find(addr) }

// SearchFreeArea returns the lowest free gap of at least length bytes in
// the user half (spec.md §4.D `vm_area_search_free_area`).
func (as *AddressSpace) SearchFreeArea(length int) (mem.VA, int) {
	return as.vmas.searchFree(length, 0, mem.VA(config.ProcAreaEnd))
}

// IsValidRange reports whether [s,e) is free-and-in-range, occupied, or
// out-of-range (spec.md §4.D `vm_area_is_valid`).
func (as *AddressSpace) IsValidRange(s, e mem.VA) int {
	return as.vmas.isValid(s, e, 0, mem.VA(config.ProcAreaEnd))
}

// Clone deep-clones src: every VMA is recreated at the same range, and
// every present mapping gets a freshly allocated physical page whose
// content is copied from src's (spec.md §4.D `mm_clone`). COW is a
// recognized flag but full copy-on-write fault handling is out of scope
// (spec.md §4.D, §9); the testable invariant honored here is physical
// distinctness with equal content.
func (src *AddressSpace) Clone() (*AddressSpace, defs.Err_t) {
	dst := &AddressSpace{mm: src.mm, Dir: NewPageDir()}

	src.vmas.mu.Lock()
	items := append([]*VMA(nil), src.vmas.items...)
	src.vmas.mu.Unlock()

	for _, sv := range items {
		dv := &VMA{AS: dst, Start: sv.Start, End: sv.End, Flags: sv.Flags}
		if err := dst.vmas.insert(dv); err != 0 {
			dst.Destroy()
			return nil, err
		}
		dst.bumpMapCount(1)

		for va := sv.Start; va < sv.End; va += mem.PageSize {
			pte, ok := src.Dir.Lookup(va)
			if !ok {
				continue
			}
			nf, aerr := buddy.AllocPages(dst.mm, pte.Frame.Kind, 0)
			if aerr != 0 {
				dst.Destroy()
				return nil, aerr
			}
			copy(dst.mm.PageBytes(nf), src.mm.PageBytes(pte.Frame))
			dst.Dir.Map(va, nf, pte.Flags)
		}

		if sv == src.Stack {
			dst.Stack = dv
		}
	}
	return dst, 0
}

// Destroy frees every VMA then releases the page directory and the mm
// itself (spec.md §4.D `mm_destroy`).
func (as *AddressSpace) Destroy() {
	as.vmas.mu.Lock()
	items := append([]*VMA(nil), as.vmas.items...)
	as.vmas.mu.Unlock()
	for _, v := range items {
		as.DestroyVMA(v)
	}
	as.Dir = nil
}
