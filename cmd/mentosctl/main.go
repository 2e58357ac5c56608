// Command mentosctl boots the simulated kernel's memory, interrupt and
// filesystem subsystems, mounts the standard FHS tree plus /dev, and exits
// once boot is complete. It exists to exercise every component wired together
// (spec.md's components A-G) the way a real init process would, and to give
// defs.D_PROF a concrete reader backed by the live allocators.
package main

import (
	"bytes"
	"flag"
	"os"

	"mentos/internal/config"
	"mentos/internal/defs"
	"mentos/internal/klog"
	"mentos/pkg/cpu/gdt"
	"mentos/pkg/cpu/idt"
	"mentos/pkg/mem"
	"mentos/pkg/mem/pmm"
	"mentos/pkg/mem/slab"
	"mentos/pkg/profile"
	"mentos/pkg/vfs"
)

func main() {
	ramMiB := flag.Int("ram-mib", 64, "simulated RAM size in MiB")
	flag.Parse()

	mm, err := bootMemory(*ramMiB)
	if err != nil {
		klog.L.Fatalf("mentosctl: %v", err)
	}

	table := gdt.New()
	tss := gdt.NewTSS()
	tss.SetKernelStack(0) // no running task yet
	klog.Boot("mentosctl: gdt installed, %d descriptors", len(table.Entries))

	idtTable := idt.New(gdt.SelKernelCode)
	klog.Boot("mentosctl: idt installed, syscall gate at %#x", idt.SyscallVector)

	kmalloc, err2 := slab.NewAllocator(mm, pmm.KERNEL)
	if err2 != 0 {
		klog.L.Fatalf("mentosctl: kmalloc bootstrap: %v", err2)
	}

	v := vfs.New()
	v.RegisterFileType(vfs.NewMemFS("rootfs"))
	if err := v.Mount("rootfs", "", "/"); err != 0 {
		klog.L.Fatalf("mentosctl: mount rootfs: %v", err)
	}
	v.EnsureFHS()

	dev := vfs.NewDevFS()
	dev.RegisterDevice("null", defs.D_DEVNULL, 0, nil)
	dev.RegisterDevice("prof", defs.D_PROF, 0, func() ([]byte, defs.Err_t) {
		return snapshotProfile(mm, kmalloc), 0
	})
	v.RegisterFileType(dev)
	if err := v.Mount("devfs", "", "/dev"); err != 0 {
		klog.L.Fatalf("mentosctl: mount devfs: %v", err)
	}

	klog.Boot("mentosctl: boot complete, idt=%p vfs mounts ready", idtTable)
	os.Exit(0)
}

// bootMemory carves the fake physical range reported by ramMiB into the
// DMA/LowMem/HighMem zones (spec.md §4.A), mirroring the split a real x86
// boot protocol's memory map would dictate.
func bootMemory(ramMiB int) (*pmm.Memory, error) {
	total := mem.PA(ramMiB) * 1024 * 1024
	lowmemEnd := total / 2
	if lowmemEnd > config.ProcAreaEnd {
		lowmemEnd = config.ProcAreaEnd
	}
	return pmm.Init([]pmm.PhysRange{{Start: 0, End: total}}, mem.VA(config.ProcAreaEnd), lowmemEnd, config.DMAZoneLimit)
}

// snapshotProfile gathers every zone and every live cache (the kmalloc
// buckets) into one pprof snapshot, served verbatim by /dev/prof.
func snapshotProfile(mm *pmm.Memory, kmalloc *slab.Allocator) []byte {
	zones := []pmm.ZoneKind{pmm.DMA, pmm.KERNEL, pmm.HIGHUSER}
	snap := profile.BuildSnapshot(mm, zones, kmalloc.Buckets())

	var buf bytes.Buffer
	if err := profile.Write(snap, &buf); err != nil {
		klog.Warn("mentosctl: profile write: %v", err)
		return nil
	}
	return buf.Bytes()
}
