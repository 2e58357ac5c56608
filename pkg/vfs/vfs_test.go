package vfs

import "testing"

func mustMount(t *testing.T, v *VFS, fsType, target string) {
	t.Helper()
	v.RegisterFileType(NewMemFS(fsType))
	if err := v.Mount(fsType, "", target); err != 0 {
		t.Fatalf("mount %s at %s: %v", fsType, target, err)
	}
}

func TestLongestPrefixSuperblockMatch(t *testing.T) {
	v := New()
	mustMount(t, v, "rootfs", "/")
	mustMount(t, v, "procfs", "/proc")

	sb, rel, err := v.GetSuperblock("/proc/1/status")
	if err != 0 {
		t.Fatalf("GetSuperblock: %v", err)
	}
	if sb.MountPath != "/proc" {
		t.Fatalf("matched %q, want /proc", sb.MountPath)
	}
	if rel != "1/status" {
		t.Fatalf("rel = %q", rel)
	}

	sb, _, err = v.GetSuperblock("/etc/passwd")
	if err != 0 || sb.MountPath != "/" {
		t.Fatalf("expected root fallback, got %+v err=%v", sb, err)
	}
}

func TestReaddirMountOverlay(t *testing.T) {
	v := New()
	mustMount(t, v, "rootfs", "/")
	mustMount(t, v, "procfs", "/proc")

	entries, err := v.Readdir("/")
	if err != 0 {
		t.Fatalf("readdir: %v", err)
	}
	count := 0
	for _, e := range entries {
		if e.Name == "proc" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one 'proc' entry, found %d", count)
	}
}

func TestOpenForkExitRefCounting(t *testing.T) {
	v := New()
	mustMount(t, v, "procfs", "/proc")
	if err := v.Mkdir("/proc/1", 0o555); err != 0 {
		t.Fatalf("mkdir: %v", err)
	}

	f, err := v.Lookup("/proc/1")
	if err != 0 {
		t.Fatalf("lookup: %v", err)
	}
	tbl := NewFDTable()
	idx, err := tbl.Install(f, FD_READ)
	if err != 0 {
		t.Fatalf("install: %v", err)
	}
	fd, _ := tbl.Get(idx)
	if fd.Ref() != 1 {
		t.Fatalf("ref = %d, want 1", fd.Ref())
	}

	child := tbl.Fork()
	cfd, _ := child.Get(idx)
	if cfd.Ref() != 2 {
		t.Fatalf("ref after fork = %d, want 2", cfd.Ref())
	}

	if err := child.Close(idx); err != 0 {
		t.Fatalf("child close: %v", err)
	}
	if fd.Ref() != 1 {
		t.Fatalf("ref after child exit = %d, want 1", fd.Ref())
	}
}

func TestFDTableGrowth(t *testing.T) {
	v := New()
	mustMount(t, v, "rootfs", "/")
	tbl := NewFDTable()
	f, _ := v.Lookup("/")
	for i := 0; i < initialSlots+1; i++ {
		if _, err := tbl.Install(f, FD_READ); err != 0 {
			t.Fatalf("install %d: %v", i, err)
		}
	}
}

func TestCheckAccess(t *testing.T) {
	st := Stat{Uid: 10, Gid: 10, Mode: 0o640}
	if err := CheckAccess(st, 10, 10, 1, O_RDONLY); err != 0 {
		t.Fatalf("owner read should be allowed: %v", err)
	}
	if err := CheckAccess(st, 10, 10, 1, O_WRONLY); err != 0 {
		t.Fatalf("owner write should be allowed: %v", err)
	}
	if err := CheckAccess(st, 20, 20, 1, O_WRONLY); err == 0 {
		t.Fatalf("other-user write should be denied")
	}
	if err := CheckAccess(st, 20, 20, 1, O_RDONLY); err == 0 {
		t.Fatalf("other-user read should be denied (no o+r bit)")
	}
	if err := CheckAccess(st, 99, 99, 0, O_WRONLY); err != 0 {
		t.Fatalf("pid 0 should bypass permission checks")
	}
}

func TestEnsureFHS(t *testing.T) {
	v := New()
	mustMount(t, v, "rootfs", "/")
	v.EnsureFHS()
	st, err := v.Stat("/tmp")
	if err != 0 {
		t.Fatalf("stat /tmp: %v", err)
	}
	if st.Mode&0o777 != 0o777 {
		t.Fatalf("/tmp mode = %o, want sticky+rwxrwxrwx bits (got low9 %o)", st.Mode, st.Mode&0o777)
	}
	if !st.IsDir() {
		t.Fatalf("/tmp should be a directory")
	}
}

func TestResolvePathSymlink(t *testing.T) {
	v := New()
	mustMount(t, v, "rootfs", "/")
	if err := v.Mkdir("/a", 0o755); err != 0 {
		t.Fatalf("mkdir /a: %v", err)
	}
	if err := v.Mkdir("/a/b", 0o755); err != 0 {
		t.Fatalf("mkdir /a/b: %v", err)
	}
	if err := v.Symlink("/a", "/link"); err != 0 {
		t.Fatalf("symlink: %v", err)
	}
	resolved, err := v.ResolvePath("/", "/link/b")
	if err != 0 {
		t.Fatalf("resolve: %v", err)
	}
	if resolved != "/a/b" {
		t.Fatalf("resolved = %q, want /a/b", resolved)
	}
}
