// Package lockapi defines the OS lock façade consumed by the mount table and
// individual mounts. The core never blocks on anything
// other than the block device itself; any serialization across callers is
// externalized through this interface so bare-metal hosts can supply a
// spinlock or disable locking entirely on single-threaded builds.
package lockapi

// Locker is an infallible lock/unlock pair. Implementations must be
// reentrant-safe only to the extent the host requires; bfs itself always
// pairs a single Lock with a single Unlock per critical section and never
// nests acquisitions of the same Locker.
type Locker interface {
	Lock()
	Unlock()
}

// NopLocker is a Locker that does nothing, for hosts that guarantee
// single-threaded access (e.g. a bootloader with no scheduler yet).
type NopLocker struct{}

func (NopLocker) Lock()   {}
func (NopLocker) Unlock() {}
