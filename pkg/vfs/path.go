package vfs

import (
	"path"
	"strings"

	"mentos/internal/defs"
)

// MaxSymlinkDepth bounds symlink-following during path resolution (spec.md
// §9 "recursion bound for symlinks (e.g., 8) to prevent loops").
const MaxSymlinkDepth = 8

// ResolvePath normalizes rawPath against cwd into an absolute path,
// following `.`, `..`, and symlinks (bounded by MaxSymlinkDepth) component
// by component (spec.md §4.G routing: "every namespace call first resolves
// its pathname ... against the current task's cwd").
func (v *VFS) ResolvePath(cwd, rawPath string) (string, defs.Err_t) {
	full := rawPath
	if !strings.HasPrefix(full, "/") {
		full = path.Join(cwd, full)
	}
	return v.resolve(full, 0)
}

func (v *VFS) resolve(full string, depth int) (string, defs.Err_t) {
	if depth > MaxSymlinkDepth {
		return "", defs.EINVAL
	}
	full = cleanAbs(full)
	if full == "/" {
		return "/", 0
	}

	var resolved string = "/"
	parts := strings.Split(strings.Trim(full, "/"), "/")
	for i, comp := range parts {
		if comp == "" || comp == "." {
			continue
		}
		next := path.Join(resolved, comp)
		st, err := v.Stat(next)
		if err == defs.ENOENT {
			// a missing final component is valid for creat/mkdir-style
			// callers; only a missing intermediate component is an error.
			if i == len(parts)-1 {
				resolved = next
				continue
			}
			return "", defs.ENOENT
		}
		if err != 0 {
			return "", err
		}
		if st.IsSymlink() {
			f, lerr := v.Lookup(next)
			if lerr != 0 {
				return "", lerr
			}
			target, rerr := f.Readlink()
			if rerr != 0 {
				return "", rerr
			}
			if !strings.HasPrefix(target, "/") {
				target = path.Join(resolved, target)
			}
			rest := "/" + strings.Join(parts[i+1:], "/")
			combined := target
			if rest != "/" {
				combined = path.Join(target, rest)
			}
			return v.resolve(combined, depth+1)
		}
		resolved = next
	}
	return resolved, 0
}
