// Package gdt builds the kernel's Global Descriptor Table and Task State
// Segment (component E, spec.md §4.E/§6). Grounded on the teacher's
// bit-packing style for descriptor-like structures (biscuit/src/mem/mem.go
// names every shift/mask constant rather than inlining magic numbers); the
// GDT itself has no counterpart in the retrieved Biscuit pack (amd64
// Biscuit uses a different segmentation model) so the six-entry flat
// layout below follows spec.md §4.E/§6 directly.
package gdt

import "unsafe"

// Selector bytes, fixed by spec.md §6 "GDT layout".
const (
	SelNull       = 0x00
	SelKernelCode = 0x08
	SelKernelData = 0x10
	SelUserCode   = 0x1B // RPL=3
	SelUserData   = 0x23 // RPL=3
	SelTSS        = 0x2B
)

const numEntries = 6

// access byte bits (Intel SDM segment descriptor access byte).
const (
	accPresent   = 1 << 7
	accDPLShift  = 5
	accType      = 1 << 4 // 1 = code/data, 0 = system
	accExecute   = 1 << 3
	accReadWrite = 1 << 1
	accAccessed  = 1 << 0
)

// granularity byte: size bit (1=32-bit) and granularity bit (1=4 KiB units).
const (
	granSize  = 1 << 6
	granGran  = 1 << 7
	granLimit = 0x0f
)

// Entry is one packed 8-byte GDT descriptor.
type Entry struct {
	LimitLow  uint16
	BaseLow   uint16
	BaseMid   uint8
	Access    uint8
	GranLimit uint8
	BaseHigh  uint8
}

func flat(base, limit uint32, access uint8, gran uint8) Entry {
	return Entry{
		LimitLow:  uint16(limit & 0xffff),
		BaseLow:   uint16(base & 0xffff),
		BaseMid:   uint8((base >> 16) & 0xff),
		Access:    access,
		GranLimit: uint8((limit>>16)&granLimit) | gran,
		BaseHigh:  uint8((base >> 24) & 0xff),
	}
}

// TSS is the 32-bit Task State Segment. Only the fields the spec's
// scheduler contract needs are tracked (spec.md §4.E): the kernel stack
// selector/pointer the CPU loads on a ring 3 -> ring 0 transition. IOMap
// is the sentinel offset equal to sizeof(tss), disabling the IO bitmap.
type TSS struct {
	_     uint32 // link (unused)
	ESP0  uint32
	SS0   uint32
	_     [22]uint32 // esp1/ss1 .. ldtr, trailing fields unused by this kernel
	IOMap uint16
}

// NewTSS returns a zeroed TSS with the IO map sentinel set and the kernel
// data selector preloaded into ss0.
func NewTSS() *TSS {
	t := &TSS{SS0: SelKernelData}
	t.IOMap = uint16(tssSize)
	return t
}

const tssSize = 104 // sizeof(TSS) on a 32-bit build: 26 * 4 bytes

// SetKernelStack updates esp0, the pointer the CPU loads into ESP on a
// ring 3 -> ring 0 transition. The scheduler calls this on every context
// switch (spec.md §4.E "The scheduler updates esp0 per task switch");
// writers run with IRQs off (spec.md §9 "single process-wide cell whose
// writer is the scheduler under IRQs-off").
func (t *TSS) SetKernelStack(esp0 uint32) { t.ESP0 = esp0 }

// Table is the fully built six-entry GDT plus its TSS descriptor.
type Table struct {
	Entries [numEntries]Entry
	TSS     *TSS
}

// New builds the standard six-entry flat GDT: null, kernel code, kernel
// data, user code, user data, TSS (spec.md §4.E).
func New() *Table {
	t := &Table{TSS: NewTSS()}
	t.Entries[0] = Entry{} // null descriptor
	t.Entries[1] = flat(0, 0xfffff, accPresent|accType|accExecute|accReadWrite, granSize|granGran)
	t.Entries[2] = flat(0, 0xfffff, accPresent|accType|accReadWrite, granSize|granGran)
	t.Entries[3] = flat(0, 0xfffff, accPresent|(3<<accDPLShift)|accType|accExecute|accReadWrite, granSize|granGran)
	t.Entries[4] = flat(0, 0xfffff, accPresent|(3<<accDPLShift)|accType|accReadWrite, granSize|granGran)
	t.Entries[5] = tssDescriptor(t.TSS)
	return t
}

func tssDescriptor(tss *TSS) Entry {
	base := uint32(uintptr(unsafe.Pointer(tss)))
	limit := uint32(tssSize - 1)
	// System descriptor, type 0x9 (32-bit TSS, not busy), DPL=0.
	return flat(base, limit, accPresent|0x9, 0)
}

// Pointer is the {limit, base} structure the LGDT/LIDT instructions load;
// populating and loading it is an architecture primitive out of scope for
// a hosted Go simulation (spec.md §4.E "loading it is an architecture
// primitive").
type Pointer struct {
	Limit uint16
	Base  uint32
}

// PointerFor returns the GDT pointer describing t.
func PointerFor(t *Table) Pointer {
	return Pointer{
		Limit: uint16(len(t.Entries)*8 - 1),
		Base:  uint32(uintptr(unsafe.Pointer(t))),
	}
}
