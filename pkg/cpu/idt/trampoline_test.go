package idt

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

// TestTrampolineDecodesAsPush guards against a zeroed or garbage trampoline
// address ever being wired into an IDT entry: every stub must begin with a
// decodable push instruction carrying the vector number, matching the
// classic push-vector/jmp-dispatcher shape real ISR stubs use.
func TestTrampolineDecodesAsPush(t *testing.T) {
	for _, vec := range []int{0, 14, 32, 47, SyscallVector, 255} {
		code := TrampolineBytes(vec)
		inst, err := x86asm.Decode(code, 32)
		if err != nil {
			t.Fatalf("vector %d: decode failed: %v", vec, err)
		}
		if inst.Op != x86asm.PUSH {
			t.Fatalf("vector %d: first instruction = %v, want PUSH", vec, inst.Op)
		}
		if inst.Len != 2 {
			t.Fatalf("vector %d: push length = %d, want 2", vec, inst.Len)
		}

		rest := code[inst.Len:]
		jmp, err := x86asm.Decode(rest, 32)
		if err != nil {
			t.Fatalf("vector %d: decode jmp failed: %v", vec, err)
		}
		if jmp.Op != x86asm.JMP {
			t.Fatalf("vector %d: second instruction = %v, want JMP", vec, jmp.Op)
		}
	}
}
