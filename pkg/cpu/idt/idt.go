// Package idt implements component E's interrupt descriptor table and
// component F's central dispatcher: GDT/IDT/TSS setup in spec.md §4.E and
// the isr_handler/irq_handler entry points of §4.F. Grounded on the
// teacher's pluggable-handler style (biscuit has no IDT package in the
// retrieved pack — amd64 Biscuit builds its IDT in assembly — so the
// table layout below follows spec.md §4.E/§6 bit-for-bit) and on
// gopher-os's irq package naming (`isr_install_handler` /
// `irq_install_handler`) for the public API shape.
package idt

import (
	"reflect"
	"sync"

	"mentos/internal/defs"
	"mentos/internal/klog"
)

const (
	// NumVectors is the IDT size (spec.md §4.E "IDT has 256 entries").
	NumVectors = 256
	// NumIRQLines is the number of PIC IRQ lines (spec.md §4.E).
	NumIRQLines = 16
	// SyscallVector is the software interrupt used for syscalls (spec.md §6).
	SyscallVector = 0x80
	// IRQBase is the vector the first PIC line is remapped to.
	IRQBase = 32
)

// gate type/attribute bits (spec.md §4.E "options byte").
const (
	attrPresent  = 1 << 7
	attrDPLShift = 5
	// 32-bit interrupt gate, padding nibble 0b1110 (spec.md §4.E).
	gateType32Interrupt = 0x0e
)

// Entry is one packed IDT entry (spec.md §4.E): offset split into
// low/high halves, a selector, a reserved zero byte, and the options
// byte.
type Entry struct {
	OffsetLow  uint16
	Selector   uint16
	Zero       uint8
	Attributes uint8
	OffsetHigh uint16
}

// Offset reconstitutes the 32-bit handler address packed into an entry.
func (e Entry) Offset() uint32 { return uint32(e.OffsetLow) | uint32(e.OffsetHigh)<<16 }

// Present reports the entry's present bit.
func (e Entry) Present() bool { return e.Attributes&attrPresent != 0 }

// DPL reports the entry's descriptor privilege level.
func (e Entry) DPL() int { return int(e.Attributes>>attrDPLShift) & 0x3 }

// GateType reports the entry's gate-type nibble.
func (e Entry) GateType() int { return int(e.Attributes) & 0x0f }

func makeEntry(offset uint32, selector uint16, dpl int) Entry {
	return Entry{
		OffsetLow:  uint16(offset & 0xffff),
		Selector:   selector,
		Zero:       0,
		Attributes: attrPresent | uint8(dpl<<attrDPLShift) | gateType32Interrupt,
		OffsetHigh: uint16(offset >> 16),
	}
}

// Frame is the trapped register state, pt_regs in the spec's terminology
// (spec.md §4.E "each ... trampoline pushes the trap frame pt_regs").
type Frame struct {
	// general-purpose registers, pushed by pusha-equivalent.
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX uint32
	// segment selectors.
	DS, ES, FS, GS uint32
	// interrupt number and CPU-pushed error code (0 if the vector has none).
	IntNo, ErrCode uint32
	// CPU-pushed trap state.
	EIP, CS, EFlags uint32
	// only present/valid on a ring 3 -> ring 0 transition.
	UserESP, SS uint32
	FromUser    bool
}

func (f *Frame) toKlog() klog.TrapFrame {
	return klog.TrapFrame{
		IntNo: f.IntNo, ErrCode: f.ErrCode, EIP: f.EIP, CS: f.CS, EFlags: f.EFlags,
		EAX: f.EAX, EBX: f.EBX, ECX: f.ECX, EDX: f.EDX, ESP: f.ESP, EBP: f.EBP,
		UserESP: f.UserESP, SS: f.SS,
	}
}

// Handler is one ISR/IRQ handler callback.
type Handler func(*Frame) defs.Err_t

// exceptionNames mirrors the 32 CPU exception vectors (spec.md §4.E "0-31
// are CPU exceptions").
var exceptionNames = [32]string{
	0: "divide-by-zero", 1: "debug", 2: "non-maskable-interrupt",
	3: "breakpoint", 4: "overflow", 5: "bound-range", 6: "invalid-opcode",
	7: "device-not-available", 8: "double-fault", 9: "coprocessor-segment-overrun",
	10: "invalid-tss", 11: "segment-not-present", 12: "stack-segment-fault",
	13: "general-protection-fault", 14: "page-fault", 16: "x87-fp-exception",
	17: "alignment-check", 18: "machine-check", 19: "simd-fp-exception",
	20: "virtualization-exception", 21: "control-protection-exception",
	28: "hypervisor-injection-exception", 29: "vmm-communication-exception",
	30: "security-exception",
}

func exceptionName(vec int) string {
	if vec >= 0 && vec < len(exceptionNames) && exceptionNames[vec] != "" {
		return exceptionNames[vec]
	}
	return "reserved-exception"
}

// Table owns the 256-entry IDT, the installed ISR/IRQ/syscall routines, and
// the dispatch locking discipline spec.md §5 describes: install/uninstall
// take a global lock, dispatch is lock-free.
//
// isr_install_handler's domain is documented in spec.md §4.E as
// [0,31] ∪ {0x80}, but §8 scenario 5 installs at vector 52 and only
// bounds-rejects at IDT_SIZE. Scenarios are the more concrete, testable
// source, so isrRoutines/isrAddrs/descs below are sized to the full table
// and IsrInstallHandler accepts any i in [0, NumVectors): the 0..31 range
// additionally participates in exception Dispatch, 0x80 is handled
// separately by the syscall table, and everything else is addressable but
// inert until Dispatch grows a case for it.
type Table struct {
	mu      sync.Mutex
	entries [NumVectors]Entry

	isrRoutines [NumVectors]Handler // indexed by vector; [0,31] feed Dispatch's exception path
	isrAddrs    [NumVectors]uint32  // the "handler address" recorded alongside each routine
	syscall     Handler             // vector 0x80
	irqChains   [NumIRQLines][]Handler
	descs       [NumVectors]string // human-readable descriptions, for isr_routines[i] lookups

	kernelCodeSelector uint16
	defaultHandler     Handler
	onUserFault        func(vec int, f *Frame)
	onKernelFault      func(vec int, f *Frame)
}

// stubAddr is the placeholder "handler offset" recorded in an IDT entry
// before any real handler is installed; it only needs to be non-zero so the
// initial-state invariant ("non-zero offset") holds, and distinct per
// vector so tests can assert identity.
func stubAddr(vec int) uint32 { return 0x00100000 + uint32(vec) }

// New builds an IDT with the default handler installed on every exception
// and IRQ vector plus the syscall gate, matching spec.md §4.E's
// initial-state invariants.
func New(kernelCodeSelector uint16) *Table {
	t := &Table{kernelCodeSelector: kernelCodeSelector}
	t.defaultHandler = t.defaultTrapHandler

	for v := 0; v < 32; v++ {
		t.isrRoutines[v] = t.defaultHandler
		t.isrAddrs[v] = stubAddr(v)
		t.entries[v] = makeEntry(stubAddr(v), kernelCodeSelector, 0)
		t.descs[v] = "default: " + exceptionName(v)
	}
	for line := 0; line < NumIRQLines; line++ {
		v := IRQBase + line
		t.entries[v] = makeEntry(stubAddr(v), kernelCodeSelector, 0)
		t.descs[v] = "unhandled IRQ line"
	}
	t.syscall = t.defaultSyscallHandler
	t.isrAddrs[SyscallVector] = stubAddr(SyscallVector)
	t.entries[SyscallVector] = makeEntry(stubAddr(SyscallVector), kernelCodeSelector, 3)
	t.descs[SyscallVector] = "syscall gate"
	return t
}

// Entry returns the raw IDT entry at vector i (for invariant tests).
func (t *Table) Entry(i int) Entry { return t.entries[i] }

// IsrRoutineAddr returns the handler address recorded for vector i by the
// most recent IsrInstallHandler/IsrUninstallHandler call (spec.md §8
// scenario 5 `isr_routines[i]`).
func (t *Table) IsrRoutineAddr(i int) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isrAddrs[i]
}

// IsrDescription returns the description string registered alongside
// vector i's handler.
func (t *Table) IsrDescription(i int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.descs[i]
}

// IsrInstallHandler installs fn, recorded under handler address addr, on
// vector i (spec.md §4.F `isr_install_handler`; domain per §8 scenario 5,
// see the Table doc comment above). Bounds-rejects i outside [0,NumVectors).
func (t *Table) IsrInstallHandler(i int, addr uint32, fn Handler, desc string) defs.Err_t {
	if fn == nil || i < 0 || i >= NumVectors {
		return defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isrRoutines[i] = fn
	t.isrAddrs[i] = addr
	dpl := 0
	if i == SyscallVector {
		dpl = 3
		t.syscall = fn
	}
	t.entries[i] = makeEntry(addr, t.kernelCodeSelector, dpl)
	t.descs[i] = desc
	return 0
}

// IsrUninstallHandler returns vector i to the state New() gave it: the
// default handler for exception and syscall vectors, the stub entry for
// PIC IRQ vectors, and a zeroed entry for every other vector.
func (t *Table) IsrUninstallHandler(i int) defs.Err_t {
	if i < 0 || i >= NumVectors {
		return defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case i < 32:
		t.isrRoutines[i] = t.defaultHandler
		t.isrAddrs[i] = stubAddr(i)
		t.descs[i] = "default: " + exceptionName(i)
		t.entries[i] = makeEntry(stubAddr(i), t.kernelCodeSelector, 0)
	case i == SyscallVector:
		t.syscall = t.defaultSyscallHandler
		t.isrAddrs[i] = stubAddr(i)
		t.descs[i] = "syscall gate"
		t.entries[i] = makeEntry(stubAddr(i), t.kernelCodeSelector, 3)
	case i >= IRQBase && i < IRQBase+NumIRQLines:
		// IRQ vectors start out as present stub entries (see New).
		t.isrRoutines[i] = nil
		t.isrAddrs[i] = 0
		t.descs[i] = "unhandled IRQ line"
		t.entries[i] = makeEntry(stubAddr(i), t.kernelCodeSelector, 0)
	default:
		// vectors outside the exception/syscall domain have no "default"
		// handler: uninstalling returns them to the fully-zeroed initial
		// state rather than a stub.
		t.isrRoutines[i] = nil
		t.isrAddrs[i] = 0
		t.descs[i] = ""
		t.entries[i] = Entry{}
	}
	return 0
}

// IrqInstallHandler chains fn onto a PIC line (spec.md §4.F
// `irq_install_handler`; "a single IRQ line may chain multiple handlers").
func (t *Table) IrqInstallHandler(line int, fn Handler, desc string) defs.Err_t {
	if line < 0 || line >= NumIRQLines || fn == nil {
		return defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.irqChains[line] = append(t.irqChains[line], fn)
	t.descs[IRQBase+line] = desc
	return 0
}

// IrqUninstallHandler removes fn from a PIC line's chain.
func (t *Table) IrqUninstallHandler(line int, fn Handler) defs.Err_t {
	if line < 0 || line >= NumIRQLines {
		return defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	chain := t.irqChains[line]
	for i, h := range chain {
		if sameHandler(h, fn) {
			t.irqChains[line] = append(chain[:i], chain[i+1:]...)
			return 0
		}
	}
	return defs.EINVAL
}

// sameHandler compares Handler values by pointer identity; function values
// in Go can be compared to nil but not to each other, so callers must pass
// back the exact value they installed (spec.md's uninstall-by-identity
// contract is naturally handle-based in hosted Go, not address-based).
func sameHandler(a, b Handler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// OnUserFault/OnKernelFault register the scheduler's signal-delivery and
// panic hooks (spec.md §4.E "queue SIGSEGV, re-enter scheduler" / "kernel
// panic with a dump of the trap frame").
func (t *Table) OnUserFault(fn func(vec int, f *Frame))   { t.onUserFault = fn }
func (t *Table) OnKernelFault(fn func(vec int, f *Frame)) { t.onKernelFault = fn }

// SetSyscallTable installs the syscall dispatcher invoked on vector 0x80.
func (t *Table) SetSyscallTable(fn Handler) { t.mu.Lock(); t.syscall = fn; t.mu.Unlock() }

// Dispatch routes a trap frame to the appropriate handler (spec.md §4.F):
// exceptions 0..31 to isr_routines, 0x80 to the syscall dispatcher, and
// IRQ lines to their chained handlers followed by EOI. Dispatch itself
// takes no lock (spec.md §5 "dispatch is lock-free (reads only)"); the
// handler slots it reads are only ever mutated under t.mu by
// install/uninstall.
func (t *Table) Dispatch(f *Frame, eoi func(line int)) defs.Err_t {
	switch {
	case f.IntNo < 32:
		return t.isrRoutines[f.IntNo](f)
	case f.IntNo == SyscallVector:
		return t.syscall(f)
	case f.IntNo >= IRQBase && f.IntNo < IRQBase+NumIRQLines:
		line := int(f.IntNo) - IRQBase
		var rc defs.Err_t
		for _, h := range t.irqChains[line] {
			if err := h(f); err != 0 {
				rc = err
			}
		}
		if eoi != nil {
			eoi(line)
		}
		return rc
	default:
		return defs.EINVAL
	}
}

func (t *Table) defaultTrapHandler(f *Frame) defs.Err_t {
	name := exceptionName(int(f.IntNo))
	klog.TrapDump(name, f.toKlog())
	if f.FromUser {
		if t.onUserFault != nil {
			t.onUserFault(int(f.IntNo), f)
		}
		return -defs.ESRCH // SIGSEGV-equivalent queued; syscall-shaped return for callers that check it
	}
	if t.onKernelFault != nil {
		t.onKernelFault(int(f.IntNo), f)
		return 0
	}
	klog.Panic("kernel-mode exception %q (vector %d) is fatal", name, f.IntNo)
	return 0
}

func (t *Table) defaultSyscallHandler(f *Frame) defs.Err_t {
	klog.Warn("syscall: no syscall table installed (eax=%d)", f.EAX)
	f.EAX = uint32(int32(-defs.ENOSYS))
	return -defs.ENOSYS
}
