// Package mem holds the address/size types shared by every memory
// subsystem (pmm, buddy, slab, vmm), grounded on the teacher's mem.Pa_t /
// mem.Pg_t convention (biscuit/src/mem/mem.go) but retargeted at the
// spec's 32-bit two-level page directory instead of biscuit's amd64
// four-level one.
package mem

import "mentos/internal/config"

// PA represents a physical address.
type PA uintptr

// VA represents a virtual address.
type VA uintptr

// PageSize and PageShift mirror internal/config so callers that only import
// mem don't need a second import for the page granularity.
const (
	PageShift = config.PageShift
	PageSize  = config.PageSize
)

// PageOffsetMask masks the in-page offset of an address.
const PageOffsetMask = PA(PageSize - 1)

// PFN returns the page frame number of a physical address.
func (p PA) PFN() uint32 { return uint32(p >> PageShift) }

// PageAlignDown rounds a physical address down to a page boundary.
func (p PA) PageAlignDown() PA { return p &^ PageOffsetMask }

// PageAlignUp rounds a physical address up to a page boundary.
func (p PA) PageAlignUp() PA { return (p + PA(PageSize) - 1).PageAlignDown() }

// PageAligned reports whether p sits on a page boundary.
func (p PA) PageAligned() bool { return p&PageOffsetMask == 0 }

// PageAligned reports whether v sits on a page boundary.
func (v VA) PageAligned() bool { return VA(PA(v)&PageOffsetMask) == 0 }

// PageAlignDown rounds a virtual address down to a page boundary.
func (v VA) PageAlignDown() VA { return VA(PA(v).PageAlignDown()) }

// PFNToPA reconstructs a physical address from a page frame number.
func PFNToPA(pfn uint32) PA { return PA(pfn) << PageShift }

// Page-table entry bits for the 32-bit two-level page directory (spec.md
// §3 "Page directory"): present, read/write, user, global, copy-on-write
// (a software-defined bit in an ignored PTE position), and the 4 MiB
// large-page bit.
const (
	PTE_P   = 1 << 0
	PTE_W   = 1 << 1
	PTE_U   = 1 << 2
	PTE_G   = 1 << 8
	PTE_COW = 1 << 9
	PTE_PS  = 1 << 7

	PTEAddrMask = ^uint32(PageSize - 1)
)
