package vfs

import (
	"sync"

	"mentos/internal/defs"
)

// Fd mirrors the teacher's Fd_t: an open file plus its permission/flag
// bits (spec.md §4.G "each task owns a growable array of {file*, flags}").
type Fd struct {
	File  FSOps
	Flags int
	ref   *int
}

// FD permission/flag bits (grounded on biscuit/src/fd/fd.go's FD_READ /
// FD_WRITE / FD_CLOEXEC).
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

const (
	// MaxOpenFD is the absolute ceiling on table growth (spec.md §4.G
	// "refusing at an absolute MAX_OPEN_FD · growth_limit").
	MaxOpenFD    = 1024
	growthLimit  = 4
	initialSlots = 16
)

// FDTable is one task's file descriptor array (spec.md §4.G). Zero value
// is not usable; use NewFDTable.
type FDTable struct {
	mu   sync.Mutex
	fds  []*Fd
}

// NewFDTable returns an empty table with its initial capacity.
func NewFDTable() *FDTable {
	return &FDTable{fds: make([]*Fd, initialSlots)}
}

// Install finds the lowest unused index, growing the table (doubling+1) if
// full, and installs f there (spec.md §4.G "open/creat/dup/pipe allocate
// the lowest unused index").
func (t *FDTable) Install(f FSOps, flags int) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		for i, e := range t.fds {
			if e == nil {
				ref := 1
				t.fds[i] = &Fd{File: f, Flags: flags, ref: &ref}
				return i, 0
			}
		}
		if len(t.fds) >= MaxOpenFD*growthLimit {
			return -1, defs.EMFILE
		}
		grown := len(t.fds)*2 + 1
		if grown > MaxOpenFD*growthLimit {
			grown = MaxOpenFD * growthLimit
		}
		next := make([]*Fd, grown)
		copy(next, t.fds)
		t.fds = next
	}
}

// Get returns the Fd installed at index, if any.
func (t *FDTable) Get(index int) (*Fd, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.fds) || t.fds[index] == nil {
		return nil, defs.EINVAL
	}
	return t.fds[index], 0
}

// Ref reports the Fd's current reference count (for dup/fork tests).
func (f *Fd) Ref() int { return *f.ref }

// Close decrements the Fd's reference count, invoking the underlying
// fs_ops.Close only when it reaches zero (spec.md §4.G "close decrements
// file->ref; on zero it invokes fs_ops->close").
func (t *FDTable) Close(index int) defs.Err_t {
	t.mu.Lock()
	fd := (*Fd)(nil)
	if index >= 0 && index < len(t.fds) {
		fd = t.fds[index]
	}
	if fd == nil {
		t.mu.Unlock()
		return defs.EINVAL
	}
	t.fds[index] = nil
	*fd.ref--
	ref := *fd.ref
	t.mu.Unlock()
	if ref > 0 {
		return 0
	}
	return fd.File.Close()
}

// Fork copies the table wholesale, incrementing every installed Fd's
// reference count (spec.md §4.G "fork copies the array wholesale and
// increments every ref").
func (t *FDTable) Fork() *FDTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &FDTable{fds: make([]*Fd, len(t.fds))}
	for i, fd := range t.fds {
		if fd == nil {
			continue
		}
		*fd.ref++
		nt.fds[i] = fd
	}
	return nt
}

// Exit walks every slot and closes it (spec.md §4.G "exit walks every slot
// and closes it").
func (t *FDTable) Exit() {
	t.mu.Lock()
	n := len(t.fds)
	t.mu.Unlock()
	for i := 0; i < n; i++ {
		t.Close(i)
	}
}

// Dup duplicates the Fd at index onto the lowest free slot, sharing the
// same reference count cell (spec.md §4.G "open/creat/dup/pipe allocate
// the lowest unused index").
func (t *FDTable) Dup(index int) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.fds) || t.fds[index] == nil {
		return -1, defs.EINVAL
	}
	src := t.fds[index]
	for {
		for i, e := range t.fds {
			if e == nil {
				*src.ref++
				t.fds[i] = src
				return i, 0
			}
		}
		if len(t.fds) >= MaxOpenFD*growthLimit {
			return -1, defs.EMFILE
		}
		grown := len(t.fds)*2 + 1
		if grown > MaxOpenFD*growthLimit {
			grown = MaxOpenFD * growthLimit
		}
		next := make([]*Fd, grown)
		copy(next, t.fds)
		t.fds = next
	}
}

// Cwd tracks the current working directory for a task (spec.md §4.G;
// grounded on biscuit/src/fd/fd.go's Cwd_t).
type Cwd struct {
	mu   sync.Mutex
	Path string
}

// NewCwd returns a Cwd rooted at "/".
func NewCwd() *Cwd { return &Cwd{Path: "/"} }

// Get returns the current path.
func (c *Cwd) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Path
}

// Set updates the current path (validated by the caller via ResolvePath).
func (c *Cwd) Set(p string) {
	c.mu.Lock()
	c.Path = p
	c.mu.Unlock()
}
