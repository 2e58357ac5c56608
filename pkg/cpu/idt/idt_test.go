package idt

import (
	"testing"

	"mentos/internal/defs"
)

func TestInitialStateInvariants(t *testing.T) {
	tbl := New(0x08)
	for v := 0; v < 48; v++ {
		e := tbl.Entry(v)
		if e.Zero != 0 {
			t.Fatalf("vector %d: reserved byte not zero", v)
		}
		if e.Offset() == 0 {
			t.Fatalf("vector %d: offset is zero", v)
		}
		if !e.Present() {
			t.Fatalf("vector %d: not present", v)
		}
		if e.GateType() != gateType32Interrupt {
			t.Fatalf("vector %d: wrong gate type %#x", v, e.GateType())
		}
		if e.DPL() != 0 {
			t.Fatalf("vector %d: DPL should be 0, got %d", v, e.DPL())
		}
		if e.Selector != 0x08 {
			t.Fatalf("vector %d: selector %#x != kernel code selector", v, e.Selector)
		}
	}
	sc := tbl.Entry(SyscallVector)
	if sc.DPL() != 3 {
		t.Fatalf("syscall gate DPL = %d, want 3", sc.DPL())
	}
	if !sc.Present() || sc.Offset() == 0 {
		t.Fatalf("syscall gate not properly initialized: %+v", sc)
	}
	for v := 48; v < NumVectors; v++ {
		if v == SyscallVector {
			continue
		}
		e := tbl.Entry(v)
		if e != (Entry{}) {
			t.Fatalf("vector %d: expected fully zeroed entry, got %+v", v, e)
		}
	}
}

func TestIsrInstallUninstallScenario(t *testing.T) {
	tbl := New(0x08)
	const vec = 52
	const addr = uint32(0xDEADBEEF)

	h := func(f *Frame) defs.Err_t { return 0 }
	if err := tbl.IsrInstallHandler(vec, addr, h, "custom handler"); err != 0 {
		t.Fatalf("install: %v", err)
	}
	if got := tbl.IsrRoutineAddr(vec); got != addr {
		t.Fatalf("isr_routines[%d] = %#x, want %#x", vec, got, addr)
	}
	if got := tbl.IsrDescription(vec); got != "custom handler" {
		t.Fatalf("description = %q", got)
	}

	if err := tbl.IsrUninstallHandler(vec); err != 0 {
		t.Fatalf("uninstall: %v", err)
	}
	if got := tbl.IsrRoutineAddr(vec); got != 0 {
		t.Fatalf("after uninstall isr_routines[%d] = %#x, want 0", vec, got)
	}

	if err := tbl.IsrInstallHandler(vec, addr, h, "custom handler"); err != 0 {
		t.Fatalf("re-install: %v", err)
	}
	if err := tbl.IsrInstallHandler(NumVectors, addr, h, "oob"); err == 0 {
		t.Fatalf("install at IDT_SIZE should bounds-reject")
	}
}

func TestIrqChaining(t *testing.T) {
	tbl := New(0x08)
	var order []int
	h1 := func(f *Frame) defs.Err_t { order = append(order, 1); return 0 }
	h2 := func(f *Frame) defs.Err_t { order = append(order, 2); return 0 }
	if err := tbl.IrqInstallHandler(0, h1, "h1"); err != 0 {
		t.Fatal(err)
	}
	if err := tbl.IrqInstallHandler(0, h2, "h2"); err != 0 {
		t.Fatal(err)
	}
	var eoiLine = -1
	tbl.Dispatch(&Frame{IntNo: IRQBase}, func(line int) { eoiLine = line })
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("handlers ran out of order: %v", order)
	}
	if eoiLine != 0 {
		t.Fatalf("EOI line = %d, want 0", eoiLine)
	}

	if err := tbl.IrqUninstallHandler(0, h1); err != 0 {
		t.Fatal(err)
	}
	order = nil
	tbl.Dispatch(&Frame{IntNo: IRQBase}, func(int) {})
	if len(order) != 1 || order[0] != 2 {
		t.Fatalf("after uninstall: %v", order)
	}
}

func TestSyscallDispatch(t *testing.T) {
	tbl := New(0x08)
	f := &Frame{IntNo: SyscallVector, EAX: 42}
	tbl.SetSyscallTable(func(fr *Frame) defs.Err_t {
		fr.EAX = fr.EAX * 2
		return 0
	})
	if err := tbl.Dispatch(f, nil); err != 0 {
		t.Fatalf("dispatch: %v", err)
	}
	if f.EAX != 84 {
		t.Fatalf("eax = %d, want 84", f.EAX)
	}
}
