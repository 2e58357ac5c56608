// Package vfs implements component G: the VFS core, superblock registry,
// path resolution with longest-prefix mount matching and a mountpoint
// readdir overlay, permission checks, and the per-task file descriptor
// table (spec.md §4.G). Grounded on the teacher's fd/fd.go (Fd_t, Cwd_t
// naming and the reopen-on-dup pattern) and fs/super.go (superblock as a
// struct with accessor methods); the mount registry and path walker have no
// counterpart in the retrieved pack since biscuit hardcodes a single
// filesystem, so their shape follows spec.md §4.G directly.
package vfs

import (
	"path"
	"strings"
	"sync"

	"mentos/internal/defs"
)

// Stat mirrors the subset of POSIX stat(2) fields the spec's permission
// model and getdents overlay need.
type Stat struct {
	Ino    uint64
	Mode   uint32 // low 9 bits rwxrwxrwx, remaining bits type/format
	Uid    int
	Gid    int
	Size   int64
	Device uint
}

// ModeType bits, stored in the high bits of Stat.Mode.
const (
	ModeDir     = 1 << 31
	ModeSymlink = 1 << 30
)

// IsDir/IsSymlink classify a Stat.Mode value.
func (s Stat) IsDir() bool     { return s.Mode&ModeDir != 0 }
func (s Stat) IsSymlink() bool { return s.Mode&ModeSymlink != 0 }

// Dirent is one entry returned by FSOps.Getdents.
type Dirent struct {
	Name string
	Ino  uint64
	Mode uint32
}

// Open mode bits, the subset of O_* the permission model in spec.md §4.G
// checks against.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_EXCL   = 0x80
	O_TRUNC  = 0x200
)

// FSOps covers per-file operations on an already-resolved vfs_file
// (spec.md §4.G "fs_ops covers ... open,close,read,write,lseek,stat,
// getdents,ioctl,fcntl,readlink").
type FSOps interface {
	Open(flags int) defs.Err_t
	Close() defs.Err_t
	Read(buf []byte, pos int64) (int, defs.Err_t)
	Write(buf []byte, pos int64) (int, defs.Err_t)
	Stat() (Stat, defs.Err_t)
	Getdents() ([]Dirent, defs.Err_t)
	Ioctl(req uintptr, arg uintptr) (uintptr, defs.Err_t)
	Fcntl(cmd int, arg uintptr) (uintptr, defs.Err_t)
	Readlink() (string, defs.Err_t)
}

// SysOps covers namespace operations rooted at a superblock (spec.md §4.G
// "sys_ops covers namespace operations that start from a superblock's root
// (mkdir,rmdir,creat,stat,symlink,unlink)"). Lookup is a necessary addition
// (not named by spec.md's abstract type list, but required to resolve an
// existing path to the FSOps `open` forwards to) the same way Linux's VFS
// separates namei lookup from file_operations.open.
type SysOps interface {
	Lookup(relPath string) (FSOps, defs.Err_t)
	Mkdir(relPath string, mode uint32) defs.Err_t
	Rmdir(relPath string) defs.Err_t
	Creat(relPath string, mode uint32) (FSOps, defs.Err_t)
	Stat(relPath string) (Stat, defs.Err_t)
	Symlink(target, linkPath string) defs.Err_t
	Unlink(relPath string) defs.Err_t
}

// FileType registers a mountable filesystem (spec.md §4.G "File type
// descriptor: { name, mount(source_path, target_path) → file* }").
type FileType interface {
	Name() string
	Mount(sourcePath, targetPath string) (SysOps, defs.Err_t)
}

// Superblock records one mounted filesystem instance (spec.md §4.G).
type Superblock struct {
	Name      string
	MountPath string
	FSType    string
	Root      SysOps
}

// VFS owns the superblock registry (spec.md §5 "the superblock list ...
// [has its] own spin lock").
type VFS struct {
	mu    sync.Mutex
	mounts []*Superblock
	types map[string]FileType
}

// New returns an empty VFS with no mounts.
func New() *VFS {
	return &VFS{types: make(map[string]FileType)}
}

// RegisterFileType makes a FileType available to Mount by name.
func (v *VFS) RegisterFileType(ft FileType) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.types[ft.Name()] = ft
}

// Mount attaches fsType at targetPath, sourced from sourcePath (spec.md
// §4.G). targetPath must be an absolute, clean path; mounting the same
// path twice is rejected with EEXIST.
func (v *VFS) Mount(fsType, sourcePath, targetPath string) defs.Err_t {
	targetPath = cleanAbs(targetPath)
	v.mu.Lock()
	ft, ok := v.types[fsType]
	if !ok {
		v.mu.Unlock()
		return defs.ENODEV
	}
	for _, sb := range v.mounts {
		if sb.MountPath == targetPath {
			v.mu.Unlock()
			return defs.EEXIST
		}
	}
	v.mu.Unlock()

	root, err := ft.Mount(sourcePath, targetPath)
	if err != 0 {
		return err
	}
	v.mu.Lock()
	v.mounts = append(v.mounts, &Superblock{Name: fsType, MountPath: targetPath, FSType: fsType, Root: root})
	v.mu.Unlock()
	return 0
}

// Unmount detaches the superblock mounted at targetPath.
func (v *VFS) Unmount(targetPath string) defs.Err_t {
	targetPath = cleanAbs(targetPath)
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, sb := range v.mounts {
		if sb.MountPath == targetPath {
			v.mounts = append(v.mounts[:i], v.mounts[i+1:]...)
			return 0
		}
	}
	return defs.EINVAL
}

// GetSuperblock returns the superblock whose mount_path is the longest
// prefix of abs (spec.md §4.G routing, §8 "vfs_get_superblock(p) returns
// argmax_{m∈M, m prefix of p} |m|").
func (v *VFS) GetSuperblock(abs string) (*Superblock, string, defs.Err_t) {
	abs = cleanAbs(abs)
	v.mu.Lock()
	defer v.mu.Unlock()
	var best *Superblock
	for _, sb := range v.mounts {
		if isPrefixPath(sb.MountPath, abs) {
			if best == nil || len(sb.MountPath) > len(best.MountPath) {
				best = sb
			}
		}
	}
	if best == nil {
		return nil, "", defs.ENODEV
	}
	rel := strings.TrimPrefix(abs, best.MountPath)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "."
	}
	return best, rel, 0
}

// isPrefixPath reports whether mount is a path-component prefix of abs
// ("/" is a prefix of everything; "/proc" is a prefix of "/proc/1" but not
// of "/procfoo").
func isPrefixPath(mount, abs string) bool {
	if mount == "/" {
		return true
	}
	if abs == mount {
		return true
	}
	return strings.HasPrefix(abs, mount+"/")
}

func cleanAbs(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Lookup resolves an absolute, already-normalized path to its FSOps handle
// by forwarding to the owning superblock's root (spec.md §4.G routing).
func (v *VFS) Lookup(abs string) (FSOps, defs.Err_t) {
	sb, rel, err := v.GetSuperblock(abs)
	if err != 0 {
		return nil, err
	}
	return sb.Root.Lookup(rel)
}

// Stat resolves abs and returns its Stat.
func (v *VFS) Stat(abs string) (Stat, defs.Err_t) {
	sb, rel, err := v.GetSuperblock(abs)
	if err != 0 {
		return Stat{}, err
	}
	return sb.Root.Stat(rel)
}

// Mkdir/Rmdir/Symlink/Unlink forward to the owning superblock's SysOps.
func (v *VFS) Mkdir(abs string, mode uint32) defs.Err_t {
	sb, rel, err := v.GetSuperblock(abs)
	if err != 0 {
		return err
	}
	return sb.Root.Mkdir(rel, mode)
}

func (v *VFS) Rmdir(abs string) defs.Err_t {
	sb, rel, err := v.GetSuperblock(abs)
	if err != 0 {
		return err
	}
	return sb.Root.Rmdir(rel)
}

func (v *VFS) Symlink(target, linkPath string) defs.Err_t {
	sb, rel, err := v.GetSuperblock(linkPath)
	if err != 0 {
		return err
	}
	return sb.Root.Symlink(target, rel)
}

func (v *VFS) Unlink(abs string) defs.Err_t {
	sb, rel, err := v.GetSuperblock(abs)
	if err != 0 {
		return err
	}
	return sb.Root.Unlink(rel)
}

// Creat resolves abs's parent superblock and creates a new regular file.
func (v *VFS) Creat(abs string, mode uint32) (FSOps, defs.Err_t) {
	sb, rel, err := v.GetSuperblock(abs)
	if err != 0 {
		return nil, err
	}
	return sb.Root.Creat(rel, mode)
}

// Readdir lists abs's entries, then overlays any mountpoint whose parent is
// abs (spec.md §4.G "Readdir overlay", §8 "lists the mount's basename
// exactly once").
func (v *VFS) Readdir(abs string) ([]Dirent, defs.Err_t) {
	f, err := v.Lookup(abs)
	if err != 0 {
		return nil, err
	}
	entries, err := f.Getdents()
	if err != 0 {
		return nil, err
	}
	have := make(map[string]bool, len(entries))
	for _, e := range entries {
		have[e.Name] = true
	}

	abs = cleanAbs(abs)
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, sb := range v.mounts {
		if sb.MountPath == "/" {
			continue
		}
		parent := path.Dir(sb.MountPath)
		if parent != abs {
			continue
		}
		base := path.Base(sb.MountPath)
		if have[base] {
			continue
		}
		have[base] = true
		entries = append(entries, Dirent{Name: base, Mode: ModeDir})
	}
	return entries, 0
}

// CheckAccess validates uid/gid against st's owner/group/other rwx bits for
// the requested open mode (spec.md §4.G "Permissions"). Root (uid 0) and
// pid 0 are unconditionally allowed.
func CheckAccess(st Stat, uid, gid, pid, accessMode int) defs.Err_t {
	if uid == 0 || pid == 0 {
		return 0
	}
	var need uint32
	switch accessMode & 0x3 {
	case O_RDONLY:
		need = 0o4
	case O_WRONLY:
		need = 0o2
	case O_RDWR:
		need = 0o6
	}
	return checkBits(st, uid, gid, need)
}

// CheckExecute mirrors CheckAccess against the executable bits.
func CheckExecute(st Stat, uid, gid, pid int) defs.Err_t {
	if uid == 0 || pid == 0 {
		return 0
	}
	return checkBits(st, uid, gid, 0o1)
}

func checkBits(st Stat, uid, gid int, need uint32) defs.Err_t {
	var bits uint32
	switch {
	case uid == st.Uid:
		bits = (st.Mode >> 6) & 0o7
	case gid == st.Gid:
		bits = (st.Mode >> 3) & 0o7
	default:
		bits = st.Mode & 0o7
	}
	if bits&need != need {
		return defs.EACCES
	}
	return 0
}
