// Package mount implements the process-wide mount table and longest-prefix
// path resolution. It is the layer that dispatches an absolute path to the
// correct filesystem engine instance.
package mount

import (
	"strings"

	"github.com/bolthur/bfs/common"
	"github.com/bolthur/bfs/errno"
	"github.com/bolthur/bfs/lockapi"
	"go.uber.org/zap"
)

// PathMax bounds the length of a mountpoint path, matching the bounded
// string storage a freestanding host would use.
const PathMax = 4096

// Filesystem is the tagged-variant capability set every engine (FAT, ext)
// implements. Path resolution dispatches purely through this interface.
type Filesystem interface {
	// Kind identifies which on-disk format this instance serves.
	Kind() string
	// ReadOnly reports whether the instance was mounted read-only.
	ReadOnly() bool
	// Busy reports whether any file or directory handle on this instance is
	// still open; Unmount must refuse while this is true.
	Busy() bool
}

// Record is one entry in the mount table: a mountpoint path, the filesystem
// instance servicing it, and an optional per-mount lock.
type Record struct {
	Path    string
	FS      Filesystem
	Mounted bool
	Lock    lockapi.Locker
}

// Table is an ordered set of mount records keyed by mountpoint path. All
// mutation happens under tableLock, which is always acquired before any
// per-mount lock.
type Table struct {
	tableLock lockapi.Locker
	records   []*Record
}

// New creates an empty mount table guarded by tableLock. Passing
// lockapi.NopLocker{} is appropriate for genuinely single-threaded hosts.
func New(tableLock lockapi.Locker) *Table {
	if tableLock == nil {
		tableLock = lockapi.NopLocker{}
	}
	return &Table{tableLock: tableLock}
}

func normalize(path string) string {
	return common.Trim(path)
}

// Add registers a new mount record at path. path must begin and end with
// "/". Fails with EEXIST if a record is already registered at that exact
// path.
func (t *Table) Add(path string, fs Filesystem, lock lockapi.Locker) *errno.Error {
	path = normalize(path)
	if len(path) == 0 || path[0] != '/' || path[len(path)-1] != '/' {
		return errno.Newf(errno.EINVAL, "mountpoint %q must begin and end with '/'", path)
	}
	if len(path) > PathMax {
		return errno.Newf(errno.EINVAL, "mountpoint path exceeds %d bytes", PathMax)
	}

	t.tableLock.Lock()
	defer t.tableLock.Unlock()

	for _, r := range t.records {
		if r.Path == path {
			return errno.Newf(errno.EEXIST, "mountpoint %q already registered", path)
		}
	}

	t.records = append(t.records, &Record{Path: path, FS: fs, Mounted: true, Lock: lock})
	common.Log().Debug("mount added", zap.String("path", path))
	return nil
}

// Remove unregisters the mount record at the exact path. Fails with ENODEV
// if no record is registered there.
func (t *Table) Remove(path string) *errno.Error {
	path = normalize(path)

	t.tableLock.Lock()
	defer t.tableLock.Unlock()

	for i, r := range t.records {
		if r.Path == path {
			t.records = append(t.records[:i], t.records[i+1:]...)
			common.Log().Debug("mount removed", zap.String("path", path))
			return nil
		}
	}
	return errno.Newf(errno.ENODEV, "no mount registered at %q", path)
}

// ByMountpoint returns the record registered at the exact path.
func (t *Table) ByMountpoint(path string) (*Record, *errno.Error) {
	path = normalize(path)

	t.tableLock.Lock()
	defer t.tableLock.Unlock()

	for _, r := range t.records {
		if r.Path == path {
			return r, nil
		}
	}
	return nil, errno.Newf(errno.ENODEV, "no mount registered at %q", path)
}

// Find performs longest-prefix match: it returns the record whose Path is a
// prefix of path with no shorter competitor. Fails with ENODEV on a miss.
func (t *Table) Find(path string) (*Record, *errno.Error) {
	t.tableLock.Lock()
	defer t.tableLock.Unlock()

	var best *Record
	for _, r := range t.records {
		if strings.HasPrefix(path, r.Path) {
			if best == nil || len(r.Path) > len(best.Path) {
				best = r
			}
		}
	}
	if best == nil {
		common.Log().Info("mount lookup missed", zap.String("path", path))
		return nil, errno.Newf(errno.ENODEV, "no mountpoint matches %q", path)
	}
	return best, nil
}

// Resolve strips the matched mountpoint's prefix from an absolute path,
// returning the record and the remaining in-filesystem path. Dispatching the
// remainder into the engine is the caller's job, since that's engine-specific.
func (t *Table) Resolve(path string) (*Record, string, *errno.Error) {
	record, err := t.Find(path)
	if err != nil {
		return nil, "", err
	}
	inFsPath := "/" + strings.TrimPrefix(path, record.Path)
	return record, inFsPath, nil
}
