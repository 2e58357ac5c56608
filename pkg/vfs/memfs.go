package vfs

import (
	"path"
	"strings"
	"sync"

	"mentos/internal/defs"
)

// memNode is one in-memory filesystem entry: a directory, regular file, or
// symlink. memfs is a minimal FileType implementation used both by unit
// tests and by vfs.EnsureFHS to lay down the standard directory tree
// (spec.md §6); it is not part of the spec's abstract contract but a
// concrete, necessary stand-in since filesystem drivers are external
// collaborators (spec.md §1).
type memNode struct {
	mode     uint32
	uid, gid int
	data     []byte
	link     string
	children map[string]*memNode
	ino      uint64
}

var inoCounter uint64
var inoMu sync.Mutex

func nextIno() uint64 {
	inoMu.Lock()
	defer inoMu.Unlock()
	inoCounter++
	return inoCounter
}

func newDir(mode uint32) *memNode {
	return &memNode{mode: mode | ModeDir, children: make(map[string]*memNode), ino: nextIno()}
}

// MemFS is a FileType that mounts a fresh in-memory tree.
type MemFS struct{ name string }

// NewMemFS returns a FileType registered under name.
func NewMemFS(name string) *MemFS { return &MemFS{name: name} }

func (m *MemFS) Name() string { return m.name }

func (m *MemFS) Mount(sourcePath, targetPath string) (SysOps, defs.Err_t) {
	return &memSuper{root: newDir(0o755)}, 0
}

type memSuper struct {
	mu   sync.Mutex
	root *memNode
}

func splitRel(rel string) []string {
	rel = path.Clean("/" + rel)
	if rel == "/" {
		return nil
	}
	return strings.Split(strings.Trim(rel, "/"), "/")
}

// walk resolves every component of comps under root; callers that need the
// parent (creat/mkdir/unlink) pass comps without its last component.
func walk(root *memNode, comps []string) (*memNode, defs.Err_t) {
	cur := root
	for _, c := range comps {
		if cur.children == nil {
			return nil, defs.ENOENT
		}
		next, ok := cur.children[c]
		if !ok {
			return nil, defs.ENOENT
		}
		cur = next
	}
	return cur, 0
}

func (s *memSuper) Lookup(rel string) (FSOps, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := walk(s.root, splitRel(rel))
	if err != 0 {
		return nil, err
	}
	return &memFile{super: s, node: n}, 0
}

func (s *memSuper) Stat(rel string) (Stat, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := walk(s.root, splitRel(rel))
	if err != 0 {
		return Stat{}, err
	}
	return n.stat(), 0
}

func (n *memNode) stat() Stat {
	mode := n.mode
	if n.link != "" {
		mode |= ModeSymlink
	}
	return Stat{Ino: n.ino, Mode: mode, Uid: n.uid, Gid: n.gid, Size: int64(len(n.data))}
}

func (s *memSuper) Mkdir(rel string, mode uint32) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	comps := splitRel(rel)
	if len(comps) == 0 {
		return defs.EEXIST
	}
	parent, err := walk(s.root, comps[:len(comps)-1])
	if err != 0 {
		return err
	}
	name := comps[len(comps)-1]
	if _, exists := parent.children[name]; exists {
		return defs.EEXIST
	}
	parent.children[name] = newDir(mode)
	return 0
}

func (s *memSuper) Rmdir(rel string) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	comps := splitRel(rel)
	if len(comps) == 0 {
		return defs.EINVAL
	}
	parent, err := walk(s.root, comps[:len(comps)-1])
	if err != 0 {
		return err
	}
	name := comps[len(comps)-1]
	n, ok := parent.children[name]
	if !ok {
		return defs.ENOENT
	}
	if len(n.children) > 0 {
		return defs.EINVAL
	}
	delete(parent.children, name)
	return 0
}

func (s *memSuper) Creat(rel string, mode uint32) (FSOps, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comps := splitRel(rel)
	if len(comps) == 0 {
		return nil, defs.EEXIST
	}
	parent, err := walk(s.root, comps[:len(comps)-1])
	if err != 0 {
		return nil, err
	}
	name := comps[len(comps)-1]
	n, exists := parent.children[name]
	if !exists {
		n = &memNode{mode: mode, ino: nextIno()}
		parent.children[name] = n
	}
	return &memFile{super: s, node: n}, 0
}

func (s *memSuper) Symlink(target, linkPath string) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	comps := splitRel(linkPath)
	if len(comps) == 0 {
		return defs.EEXIST
	}
	parent, err := walk(s.root, comps[:len(comps)-1])
	if err != 0 {
		return err
	}
	name := comps[len(comps)-1]
	if _, exists := parent.children[name]; exists {
		return defs.EEXIST
	}
	parent.children[name] = &memNode{mode: 0o777, link: target, ino: nextIno()}
	return 0
}

func (s *memSuper) Unlink(rel string) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	comps := splitRel(rel)
	if len(comps) == 0 {
		return defs.EINVAL
	}
	parent, err := walk(s.root, comps[:len(comps)-1])
	if err != 0 {
		return err
	}
	name := comps[len(comps)-1]
	if _, ok := parent.children[name]; !ok {
		return defs.ENOENT
	}
	delete(parent.children, name)
	return 0
}

// memFile is the FSOps side of an open memNode.
type memFile struct {
	super *memSuper
	node  *memNode
}

func (f *memFile) Open(flags int) defs.Err_t  { return 0 }
func (f *memFile) Close() defs.Err_t          { return 0 }

func (f *memFile) Read(buf []byte, pos int64) (int, defs.Err_t) {
	f.super.mu.Lock()
	defer f.super.mu.Unlock()
	if pos >= int64(len(f.node.data)) {
		return 0, 0
	}
	n := copy(buf, f.node.data[pos:])
	return n, 0
}

func (f *memFile) Write(buf []byte, pos int64) (int, defs.Err_t) {
	f.super.mu.Lock()
	defer f.super.mu.Unlock()
	end := pos + int64(len(buf))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	copy(f.node.data[pos:], buf)
	return len(buf), 0
}

func (f *memFile) Stat() (Stat, defs.Err_t) {
	f.super.mu.Lock()
	defer f.super.mu.Unlock()
	return f.node.stat(), 0
}

func (f *memFile) Getdents() ([]Dirent, defs.Err_t) {
	f.super.mu.Lock()
	defer f.super.mu.Unlock()
	if f.node.children == nil {
		return nil, defs.EINVAL
	}
	out := make([]Dirent, 0, len(f.node.children))
	for name, n := range f.node.children {
		out = append(out, Dirent{Name: name, Ino: n.ino, Mode: n.mode})
	}
	return out, 0
}

func (f *memFile) Ioctl(req, arg uintptr) (uintptr, defs.Err_t) { return 0, defs.ENOSYS }
func (f *memFile) Fcntl(cmd int, arg uintptr) (uintptr, defs.Err_t) { return 0, defs.ENOSYS }

func (f *memFile) Readlink() (string, defs.Err_t) {
	f.super.mu.Lock()
	defer f.super.mu.Unlock()
	if f.node.link == "" {
		return "", defs.EINVAL
	}
	return f.node.link, 0
}
