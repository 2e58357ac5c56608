// Package slab implements component C of the spec: typed object caches and
// a general kmalloc/kfree interface layered over the buddy allocator.
// Grounded on the teacher's object lifecycle conventions (biscuit has no
// slab allocator of its own — it leans on the Go GC — so the cache/slot
// bookkeeping here follows the classical SLAB design spec.md §4.C/§9
// describes, expressed in the teacher's mutex-guarded-struct style, e.g.
// biscuit/src/mem/mem.go's Physmem_t free-list-plus-counters shape).
package slab

import (
	"sync"

	"mentos/internal/config"
	"mentos/internal/defs"
	"mentos/internal/klog"
	"mentos/pkg/mem"
	"mentos/pkg/mem/pmm"
	"mentos/pkg/mem/pmm/buddy"
)

// Ctor/Dtor are invoked on an object's raw storage. Implementations must
// not recursively allocate from the same cache (spec.md §9).
type Ctor func(obj []byte)
type Dtor func(obj []byte)

// Obj is a handle to one allocated object. Data is the raw, writable
// backing storage; PA is the synthetic physical address of its first byte.
// Cache.Free derives the slot index from it, Kfree resolves a direct buddy
// block's head frame from it, and OwningCache uses it to check the
// "address resolves to owning slab/cache" invariant (spec.md §3 "Slab
// cache").
type Obj struct {
	Data []byte
	PA   mem.PA

	slab *slabState // non-nil if this object came from a Cache
}

// Cache is a typed object cache (spec.md §4.C `kmem_cache_create`).
type Cache struct {
	Name     string
	ObjSize  int
	Align    int
	ZoneHint pmm.ZoneKind
	Ctor     Ctor
	Dtor     Dtor

	mm *pmm.Memory

	mu       sync.Mutex
	free     []*slabState // empty slabs, ready to release
	partial  []*slabState // some objects allocated, some free
	full     []*slabState // no free objects
	totalNum int
	freeNum  int
}

// slabState is one slab: a 2^order-page block carved into equal slots.
type slabState struct {
	cache     *Cache
	frame     *pmm.Frame // head frame of the backing block
	order     uint
	base      mem.PA
	blockData []byte
	slotSize  int
	slots     int
	freeStack []int // stack of free slot indices (LIFO, like the buddy lists)
	inUse     int
}

var (
	registryMu sync.Mutex
	registry   []*Cache
)

// Create allocates and registers a new typed object cache (spec.md §4.C
// `kmem_cache_create`). align must be a power of two; size must be > 0.
func Create(mm *pmm.Memory, name string, size, align int, hint pmm.ZoneKind, ctor Ctor, dtor Dtor) (*Cache, defs.Err_t) {
	if size <= 0 || align <= 0 || align&(align-1) != 0 {
		return nil, defs.EINVAL
	}
	c := &Cache{
		Name:     name,
		ObjSize:  roundup(size, align),
		Align:    align,
		ZoneHint: hint,
		Ctor:     ctor,
		Dtor:     dtor,
		mm:       mm,
	}
	registryMu.Lock()
	registry = append(registry, c)
	registryMu.Unlock()
	return c, 0
}

// Alloc returns one object from the cache, growing it from the buddy
// allocator if needed (spec.md §4.C `kmem_cache_alloc`). hint is currently
// informational — a cache is created with a fixed zone hint — and is
// accepted for signature parity with the spec.
func (c *Cache) Alloc(hint pmm.ZoneKind) (*Obj, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.pickGrowableSlab()
	if s == nil {
		var err defs.Err_t
		s, err = c.growLocked()
		if err != 0 {
			return nil, err
		}
	}

	slot := s.freeStack[len(s.freeStack)-1]
	s.freeStack = s.freeStack[:len(s.freeStack)-1]
	s.inUse++
	c.freeNum--

	c.reclassifyLocked(s)

	data := s.blockData[slot*s.slotSize : slot*s.slotSize+c.ObjSize]
	obj := &Obj{Data: data, PA: s.base + mem.PA(slot*s.slotSize), slab: s}
	if c.Ctor != nil {
		c.Ctor(data)
	}
	return obj, 0
}

// Free returns an object to its cache (spec.md §4.C `kmem_cache_free`).
func (c *Cache) Free(o *Obj) defs.Err_t {
	if o == nil || o.slab == nil || o.slab.cache != c {
		return defs.EINVAL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := o.slab
	if c.Dtor != nil {
		c.Dtor(o.Data)
	}
	slot := int(o.PA-s.base) / s.slotSize
	s.freeStack = append(s.freeStack, slot)
	s.inUse--
	c.freeNum++
	c.reclassifyLocked(s)
	return 0
}

// Destroy releases a cache's slabs back to the buddy allocator. It fails
// if any object remains allocated (spec.md §4.C `kmem_cache_destroy`).
func (c *Cache) Destroy() defs.Err_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.totalNum != c.freeNum {
		return defs.EBUSY
	}
	for _, s := range append(append(c.free, c.partial...), c.full...) {
		c.releaseSlab(s)
	}
	c.free, c.partial, c.full = nil, nil, nil
	c.totalNum, c.freeNum = 0, 0

	registryMu.Lock()
	for i, rc := range registry {
		if rc == c {
			registry = append(registry[:i], registry[i+1:]...)
			break
		}
	}
	registryMu.Unlock()
	return 0
}

// Stats reports the cache's object counters (spec.md §3 "totals
// (total_num, free_num)").
func (c *Cache) Stats() (total, free int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalNum, c.freeNum
}

func (c *Cache) pickGrowableSlab() *slabState {
	if len(c.partial) > 0 {
		return c.partial[len(c.partial)-1]
	}
	if len(c.free) > 0 {
		return c.free[len(c.free)-1]
	}
	return nil
}

// growLocked allocates a fresh slab from the buddy allocator and carves it
// into slots (spec.md §4.C "Slab growth policy"). Caller holds c.mu.
func (c *Cache) growLocked() (*slabState, defs.Err_t) {
	const order = config.SlabOrder // one page per slab is enough for every kmalloc bucket
	frame, err := buddy.AllocPages(c.mm, c.ZoneHint, order)
	if err != 0 {
		return nil, err
	}
	block := c.mm.BlockBytes(frame, order)
	slotSize := roundup(c.ObjSize, c.Align)
	slots := len(block) / slotSize
	if slots == 0 {
		buddy.FreePages(c.mm, frame)
		return nil, defs.ENOMEM
	}

	s := &slabState{
		cache:     c,
		frame:     frame,
		order:     order,
		base:      c.mm.PhysFromPage(frame),
		blockData: block,
		slotSize:  slotSize,
		slots:     slots,
		freeStack: make([]int, slots),
	}
	for i := 0; i < slots; i++ {
		s.freeStack[i] = i
	}
	c.markOwner(s)
	c.mm.Zone(c.ZoneHint).AddCachedBytes(int64(len(block)))

	c.free = append(c.free, s)
	c.totalNum += slots
	c.freeNum += slots
	return s, 0
}

func (c *Cache) markOwner(s *slabState) {
	z := c.mm.Zone(c.ZoneHint)
	base := s.frame.Idx()
	for i := uint32(0); i < uint32(1)<<s.order; i++ {
		z.Frames[base+i].Owner = s
	}
}

func (c *Cache) releaseSlab(s *slabState) {
	z := c.mm.Zone(c.ZoneHint)
	base := s.frame.Idx()
	for i := uint32(0); i < uint32(1)<<s.order; i++ {
		z.Frames[base+i].Owner = nil
	}
	if err := buddy.FreePages(c.mm, s.frame); err != 0 {
		klog.Panic("slab: failed to release slab for cache %q: %v", c.Name, err)
	}
	z.AddCachedBytes(-int64(len(s.blockData)))
}

// reclassifyLocked moves s between the free/partial/full lists after an
// alloc or free changed its occupancy. Caller holds c.mu.
func (c *Cache) reclassifyLocked(s *slabState) {
	c.free = remove(c.free, s)
	c.partial = remove(c.partial, s)
	c.full = remove(c.full, s)
	switch {
	case s.inUse == 0:
		c.free = append(c.free, s)
	case s.inUse == s.slots:
		c.full = append(c.full, s)
	default:
		c.partial = append(c.partial, s)
	}
}

func remove(list []*slabState, s *slabState) []*slabState {
	for i, e := range list {
		if e == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func roundup(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

// OwningCache resolves the cache owning the slab that contains pa, using
// the page descriptor of pa's page (spec.md §3 "resolved via the page
// descriptor of the page containing it"). Present mainly to make that
// invariant directly testable; Cache.Free does not go through it.
func OwningCache(mm *pmm.Memory, pa mem.PA) (*Cache, bool) {
	frame, err := mm.PageFromPhys(pa)
	if err != 0 {
		return nil, false
	}
	s, ok := frame.Owner.(*slabState)
	if !ok {
		return nil, false
	}
	return s.cache, true
}
