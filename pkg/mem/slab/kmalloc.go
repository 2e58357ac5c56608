package slab

import (
	"fmt"
	"sort"

	"mentos/internal/config"
	"mentos/internal/defs"
	"mentos/pkg/mem/pmm"
	"mentos/pkg/mem/pmm/buddy"
)

// Allocator is the general-purpose kmalloc/kfree front described in
// spec.md §4.C: a set of internal power-of-two (plus odd-size) buckets,
// falling through to direct buddy allocation for anything bigger than the
// largest bucket.
type Allocator struct {
	mm      *pmm.Memory
	hint    pmm.ZoneKind
	buckets []*Cache // sorted ascending by ObjSize
}

// NewAllocator builds the internal bucket caches over mm, allocating from
// the given default zone (ordinarily pmm.KERNEL).
func NewAllocator(mm *pmm.Memory, hint pmm.ZoneKind) (*Allocator, defs.Err_t) {
	sizes := append([]int(nil), config.KmallocBuckets...)
	sort.Ints(sizes)

	a := &Allocator{mm: mm, hint: hint}
	for _, sz := range sizes {
		c, err := Create(mm, fmt.Sprintf("kmalloc-%d", sz), sz, naturalAlign(sz), hint, nil, nil)
		if err != 0 {
			return nil, err
		}
		a.buckets = append(a.buckets, c)
	}
	return a, 0
}

// naturalAlign returns the alignment kmalloc guarantees a bucket size:
// the size itself when it is a power of two (spec.md §4.C contract),
// otherwise natural word alignment.
func naturalAlign(sz int) int {
	if sz&(sz-1) == 0 {
		return sz
	}
	return 8
}

// Kmalloc allocates at least bytes bytes of memory (spec.md §4.C
// `kmalloc`), dispatching to the smallest bucket that fits or, for
// requests exceeding the largest bucket, directly to the buddy allocator.
func (a *Allocator) Kmalloc(bytes int) (*Obj, defs.Err_t) {
	if bytes <= 0 {
		return nil, defs.EINVAL
	}
	for _, c := range a.buckets {
		if c.ObjSize >= bytes {
			return c.Alloc(a.hint)
		}
	}
	order := buddy.FindNearestOrderGreater(0, bytes)
	frame, err := buddy.AllocPages(a.mm, a.hint, order)
	if err != 0 {
		return nil, err
	}
	block := a.mm.BlockBytes(frame, order)
	return &Obj{
		Data: block[:bytes],
		PA:   a.mm.PhysFromPage(frame),
		slab: nil,
	}, 0
}

// Kfree releases memory obtained from Kmalloc. It tolerates nil (spec.md
// §4.C "Kfree(p) tolerates NULL").
func (a *Allocator) Kfree(o *Obj) defs.Err_t {
	if o == nil {
		return 0
	}
	if o.slab != nil {
		return o.slab.cache.Free(o)
	}
	frame, err := a.mm.PageFromPhys(o.PA)
	if err != 0 {
		return err
	}
	return buddy.FreePages(a.mm, frame)
}

// Buckets returns the internal bucket caches, ascending by object size,
// for callers that need to report per-bucket stats (e.g. pkg/profile's
// snapshot export).
func (a *Allocator) Buckets() []*Cache {
	return append([]*Cache(nil), a.buckets...)
}
