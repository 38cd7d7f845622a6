package fat

import (
	"github.com/bolthur/bfs/errno"
)

// DirHandle is an open FAT directory: owning instance, the cluster chain (or
// fixed region) backing it, and in-memory iterator state.
type DirHandle struct {
	inst      *Instance
	region    rootRegion
	chainHead ClusterID
	entries   []Entry
	cursor    int
	closed    bool
}

// Rewind resets the iteration cursor to the first entry.
func (d *DirHandle) Rewind() { d.cursor = 0 }

// NextEntry returns the next live directory entry, or (Entry{}, false, nil)
// once exhausted.
func (d *DirHandle) NextEntry() (Entry, bool, *errno.Error) {
	if d.cursor >= len(d.entries) {
		return Entry{}, false, nil
	}
	e := d.entries[d.cursor]
	d.cursor++
	return e, true, nil
}

// EntryByName scans for an entry with the given name (case-insensitive, to
// match FAT semantics), without disturbing the iteration cursor.
func (d *DirHandle) EntryByName(name string) (Entry, *errno.Error) {
	for _, e := range d.entries {
		if equalFold(e.Name, name) {
			return e, nil
		}
	}
	return Entry{}, errno.Newf(errno.ENOENT, "no entry named %q", name)
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// existingShortNames builds the uniqueness set GenerateShortName needs from
// the entries already present in this directory.
func (d *DirHandle) existingShortNames() map[string]bool {
	set := make(map[string]bool, len(d.entries))
	for _, e := range d.entries {
		set[padShortName(string(trimTrailingBytes(e.Short.Name[:])), string(trimTrailingBytes(e.Short.Ext[:])))] = true
	}
	return set
}

func trimTrailingBytes(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return b[:end]
}

// serialize re-encodes every live entry back into a flat slot buffer,
// terminated by one empty slot. The buffer is not padded; flush pads it to
// the on-disk region's size.
func (d *DirHandle) serialize() []byte {
	var buf []byte
	for _, e := range d.entries {
		slots := EncodeLFNChain(e.Name, e.Short.Name, e.Short.Ext, e.Short)
		for _, s := range slots {
			buf = append(buf, s...)
		}
	}

	// Terminate with one empty slot.
	buf = append(buf, make([]byte, DirentSize)...)
	return buf
}

func (d *DirHandle) minRegionSize() uint {
	if d.region.isFixed {
		return d.region.fixedCount * d.inst.dev.BlockSize()
	}
	return d.inst.geo.BytesPerCluster()
}

// flush writes the directory's current entry set back to disk, extending
// the backing cluster chain if the serialized form grew past its current
// allocation. Fixed (FAT12/16 root) regions cannot grow and fail with
// ENOSPC instead.
func (d *DirHandle) flush() *errno.Error {
	raw := d.serialize()

	if d.region.isFixed {
		capacity := d.region.fixedCount * d.inst.dev.BlockSize()
		if uint(len(raw)) > capacity {
			return errno.New(errno.ENOSPC)
		}
		padded := make([]byte, capacity)
		copy(padded, raw)
		return d.inst.writeDirRegion(0, &d.region, padded)
	}

	bpc := d.inst.geo.BytesPerCluster()
	neededClusters := (uint(len(raw)) + bpc - 1) / bpc
	if neededClusters == 0 {
		neededClusters = 1
	}

	haveClusters := uint(0)
	current := d.chainHead
	for {
		haveClusters++
		v, err := d.inst.table.Next(current)
		if err != nil {
			return err
		}
		if d.inst.geo.IsEOF(v) {
			break
		}
		current = ClusterID(v)
	}

	if neededClusters > haveClusters {
		if _, err := d.inst.table.ExtendChain(d.chainHead, neededClusters-haveClusters); err != nil {
			return err
		}
	}

	padded := make([]byte, neededClusters*bpc)
	copy(padded, raw)
	return d.inst.writeDirRegion(d.chainHead, &d.region, padded)
}

// Make creates a new subdirectory named name inside d, containing only "."
// and ".." entries.
func (d *DirHandle) Make(name string) *errno.Error {
	if d.inst.readOnly {
		return errno.New(errno.ENOTSUP)
	}
	if _, err := d.EntryByName(name); err == nil {
		return errno.Newf(errno.EEXIST, "%q already exists", name)
	}

	newChainHead, aerr := d.inst.table.AllocateChain(1)
	if aerr != nil {
		return aerr
	}

	selfEntry := ShortEntry{Attr: AttrDirectory, Ext: [3]byte{' ', ' ', ' '}}
	copy(selfEntry.Name[:], ".       ")
	selfEntry.SetFirstCluster(newChainHead)

	parentEntry := ShortEntry{Attr: AttrDirectory, Ext: [3]byte{' ', ' ', ' '}}
	copy(parentEntry.Name[:], "..      ")
	if !d.region.isFixed {
		parentEntry.SetFirstCluster(d.chainHead)
	}

	bpc := d.inst.geo.BytesPerCluster()
	buf := make([]byte, bpc)
	copy(buf[0:DirentSize], encodeShortEntry(selfEntry))
	copy(buf[DirentSize:2*DirentSize], encodeShortEntry(parentEntry))
	if err := d.inst.table.WriteCluster(newChainHead, buf); err != nil {
		return err
	}

	nameBytes, extBytes := GenerateShortName(name, d.existingShortNames())
	short := ShortEntry{Name: nameBytes, Ext: extBytes, Attr: AttrDirectory}
	short.SetFirstCluster(newChainHead)
	d.entries = append(d.entries, Entry{Name: name, Short: short})
	return d.flush()
}

// Remove deletes the entry named name from d. Removing a directory entry
// whose attribute is AttrDirectory frees its cluster chain; removing a file
// entry does the same. Callers are responsible for confirming a directory
// is empty before calling Remove on it.
func (d *DirHandle) Remove(name string) *errno.Error {
	if d.inst.readOnly {
		return errno.New(errno.ENOTSUP)
	}
	for idx, e := range d.entries {
		if equalFold(e.Name, name) {
			if e.Short.FirstCluster() >= 2 && !d.clusterReferenced(e.Short.FirstCluster(), name) {
				if err := d.inst.table.FreeChain(e.Short.FirstCluster()); err != nil {
					return err
				}
			}
			d.entries = append(d.entries[:idx], d.entries[idx+1:]...)
			return d.flush()
		}
	}
	return errno.Newf(errno.ENOENT, "no entry named %q", name)
}

// Move relocates (renames) the entry named oldName to newName within the
// same directory.
func (d *DirHandle) Move(oldName, newName string) *errno.Error {
	if d.inst.readOnly {
		return errno.New(errno.ENOTSUP)
	}
	for idx, e := range d.entries {
		if equalFold(e.Name, oldName) {
			nameBytes, extBytes := GenerateShortName(newName, d.existingShortNames())
			e.Short.Name = nameBytes
			e.Short.Ext = extBytes
			e.Name = newName
			d.entries[idx] = e
			return d.flush()
		}
	}
	return errno.Newf(errno.ENOENT, "no entry named %q", oldName)
}

// MoveTo relocates the entry named oldName out of d and into dest under
// newName. If dest is d, this degrades to an in-place rename (same as
// Move). Otherwise it writes a fresh entry into dest carrying the source
// entry's attributes, first cluster and size, then deletes the source slot
// without touching the cluster chain, since the new entry now owns it.
func (d *DirHandle) MoveTo(dest *DirHandle, oldName, newName string) *errno.Error {
	if d.inst.readOnly || dest.inst.readOnly {
		return errno.New(errno.ENOTSUP)
	}
	if dest == d {
		return d.Move(oldName, newName)
	}

	var idx = -1
	var e Entry
	for i, cand := range d.entries {
		if equalFold(cand.Name, oldName) {
			idx, e = i, cand
			break
		}
	}
	if idx < 0 {
		return errno.Newf(errno.ENOENT, "no entry named %q", oldName)
	}
	if _, err := dest.EntryByName(newName); err == nil {
		return errno.Newf(errno.EEXIST, "%q already exists", newName)
	}

	nameBytes, extBytes := GenerateShortName(newName, dest.existingShortNames())
	moved := e
	moved.Name = newName
	moved.Short.Name = nameBytes
	moved.Short.Ext = extBytes
	dest.entries = append(dest.entries, moved)
	if err := dest.flush(); err != nil {
		return err
	}

	d.entries = append(d.entries[:idx], d.entries[idx+1:]...)
	return d.flush()
}

// AddFile inserts a brand-new, empty file entry named name and returns its
// Entry. The caller is expected to then open a FileHandle to write content.
func (d *DirHandle) AddFile(name string) (Entry, *errno.Error) {
	if d.inst.readOnly {
		return Entry{}, errno.New(errno.ENOTSUP)
	}
	if _, err := d.EntryByName(name); err == nil {
		return Entry{}, errno.Newf(errno.EEXIST, "%q already exists", name)
	}

	nameBytes, extBytes := GenerateShortName(name, d.existingShortNames())
	short := ShortEntry{Name: nameBytes, Ext: extBytes, Attr: AttrArchive}
	entry := Entry{Name: name, Short: short}
	d.entries = append(d.entries, entry)
	if err := d.flush(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Link creates a second directory entry named name referencing the same
// first cluster and size as an existing entry, giving FAT a crude stand-in
// for a hard link. FAT has no link count, so freeing the underlying chain
// only happens once a directory scan finds no remaining entry referencing
// that first cluster; Remove on any single entry just deletes that slot.
func (d *DirHandle) Link(name string, target Entry) *errno.Error {
	if d.inst.readOnly {
		return errno.New(errno.ENOTSUP)
	}
	if _, err := d.EntryByName(name); err == nil {
		return errno.Newf(errno.EEXIST, "%q already exists", name)
	}

	nameBytes, extBytes := GenerateShortName(name, d.existingShortNames())
	short := target.Short
	short.Name = nameBytes
	short.Ext = extBytes
	entry := Entry{Name: name, Short: short}
	d.entries = append(d.entries, entry)
	return d.flush()
}

// clusterReferenced reports whether any entry in d still points at first
// cluster c, other than the entry named except (used by Remove's
// best-effort link-count emulation).
func (d *DirHandle) clusterReferenced(c ClusterID, except string) bool {
	for _, e := range d.entries {
		if equalFold(e.Name, except) {
			continue
		}
		if e.Short.FirstCluster() == c {
			return true
		}
	}
	return false
}

// updateEntry rewrites the stored metadata (size, first cluster) for the
// entry named name -- used by FileHandle.Close to flush final state.
func (d *DirHandle) updateEntry(name string, size uint32, firstCluster ClusterID) *errno.Error {
	for idx, e := range d.entries {
		if equalFold(e.Name, name) {
			e.Short.FileSize = size
			e.Short.SetFirstCluster(firstCluster)
			d.entries[idx] = e
			return d.flush()
		}
	}
	return errno.Newf(errno.ENOENT, "no entry named %q", name)
}

// Close releases this handle's slot in the instance's open-handle count.
func (d *DirHandle) Close() *errno.Error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.inst.openCnt--
	return nil
}
