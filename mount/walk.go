package mount

import (
	"strings"

	"github.com/bolthur/bfs/errno"
	"github.com/bolthur/bfs/ext"
	"github.com/bolthur/bfs/fat"
	"github.com/bolthur/bfs/fsapi"
)

// Walk resolves path against the table (step 1/2 of path resolution, via
// Resolve) and then drives step 3 itself: it opens the matched filesystem's
// root directory and walks the remaining path component by component,
// calling EntryByName at each level and descending into the next directory
// until the final component is reached.
//
// It returns the final component's engine-agnostic entry plus, when that
// entry is itself a directory, an already-open Directory handle on it (the
// caller is responsible for closing it). Any intermediate component that
// isn't a directory fails the walk with ENOTSUP.
func (t *Table) Walk(path string) (fsapi.DirEntry, *fsapi.Directory, *errno.Error) {
	record, inFsPath, err := t.Resolve(path)
	if err != nil {
		return fsapi.DirEntry{}, nil, err
	}

	dir, err := openRoot(record.FS)
	if err != nil {
		return fsapi.DirEntry{}, nil, err
	}

	components := splitComponents(inFsPath)
	if len(components) == 0 {
		return fsapi.DirEntry{Name: "/", IsDir: true}, dir, nil
	}

	var entry fsapi.DirEntry
	for idx, name := range components {
		e, eerr := dir.EntryByName(name)
		if eerr != nil {
			dir.Close()
			return fsapi.DirEntry{}, nil, asErrno(eerr)
		}
		entry = e

		if idx == len(components)-1 {
			break
		}
		if !e.IsDir {
			dir.Close()
			return fsapi.DirEntry{}, nil, errno.Newf(errno.ENOTSUP, "%q is not a directory", name)
		}

		next, operr := dir.Open(name)
		dir.Close()
		if operr != nil {
			return fsapi.DirEntry{}, nil, asErrno(operr)
		}
		dir = next
	}

	if !entry.IsDir {
		dir.Close()
		dir = nil
	}
	return entry, dir, nil
}

// openRoot opens fs's root directory, type-switching on the concrete engine
// instance since mount.Filesystem itself exposes no directory operations.
func openRoot(fs Filesystem) (*fsapi.Directory, *errno.Error) {
	switch inst := fs.(type) {
	case *fat.Instance:
		root, err := inst.OpenRootDirectory()
		if err != nil {
			return nil, err
		}
		return fsapi.NewFATDirectory(inst, root), nil
	case *ext.Instance:
		root, err := inst.OpenRootDirectory()
		if err != nil {
			return nil, err
		}
		return fsapi.NewExtDirectory(inst, root), nil
	default:
		return nil, errno.Newf(errno.ENOTSUP, "unrecognized filesystem engine %T", fs)
	}
}

// splitComponents breaks an in-filesystem path into its non-empty
// components, so a trailing or doubled "/" doesn't produce empty steps.
func splitComponents(p string) []string {
	var out []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func asErrno(err error) *errno.Error {
	if e, ok := err.(*errno.Error); ok {
		return e
	}
	return errno.Newf(errno.EIO, "%v", err)
}
