package idt

// TrampolineBytes returns the machine code of the per-vector ISR trampoline:
// `push $vec` (opcode 0x6A, imm8) followed by `jmp rel32` to the shared
// dispatcher entry point. Every real x86 kernel's IDT gate points at one of
// these rather than the Go handler directly, since the CPU can only invoke a
// bare code address; Dispatch is what the trampoline would ultimately call
// after saving registers. This is fixture data only (trampoline_test.go's x86asm
// consistency check decodes it) — the simulation never executes it.
func TrampolineBytes(vec int) []byte {
	return []byte{
		0x6a, byte(vec), // push $vec
		0xe9, 0x00, 0x00, 0x00, 0x00, // jmp rel32 (placeholder target)
	}
}
