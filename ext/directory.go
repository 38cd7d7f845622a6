package ext

import (
	"github.com/bolthur/bfs/errno"
)

// DirHandle is an open ext directory: its inode number, decoded inode, and
// the flattened list of entries across all of its data blocks.
type DirHandle struct {
	inst    *Instance
	ino     uint32
	inode   Inode
	entries []Dirent
	cursor  int
	closed  bool
}

// OpenDirectory opens the directory backed by inode number ino.
func (i *Instance) OpenDirectory(ino uint32) (*DirHandle, *errno.Error) {
	inode, err := i.readInode(ino)
	if err != nil {
		return nil, err
	}
	if !inode.IsDir() {
		return nil, errno.Newf(errno.EINVAL, "inode %d is not a directory", ino)
	}

	entries, derr := i.readAllDirents(&inode)
	if derr != nil {
		return nil, derr
	}

	i.openCnt++
	return &DirHandle{inst: i, ino: ino, inode: inode, entries: entries}, nil
}

// OpenRootDirectory opens the fixed root inode (2).
func (i *Instance) OpenRootDirectory() (*DirHandle, *errno.Error) {
	return i.OpenDirectory(RootInode)
}

func (i *Instance) readAllDirents(inode *Inode) ([]Dirent, *errno.Error) {
	blockSize := uint64(i.sb.BlockSize())
	nblocks := blockCountFor(inode.Size(), uint32(blockSize))

	var all []Dirent
	for b := uint64(0); b < nblocks; b++ {
		block, err := i.readInodeBlock(inode, b)
		if err != nil {
			return nil, err
		}
		ents, derr := DecodeDirents(block)
		if derr != nil {
			return nil, derr
		}
		all = append(all, ents...)
	}
	return all, nil
}

func (d *DirHandle) flushBlock0() *errno.Error {
	buf, err := EncodeDirents(d.entries, d.inst.sb.BlockSize())
	if err != nil {
		return err
	}
	if werr := d.inst.writeInodeBlock(&d.inode, 0, buf); werr != nil {
		return werr
	}
	if d.inode.Size() == 0 {
		d.inode.SetSize(uint64(d.inst.sb.BlockSize()))
	}
	return d.inst.writeInode(d.ino, d.inode)
}

// Rewind resets the iteration cursor.
func (d *DirHandle) Rewind() { d.cursor = 0 }

// NextEntry returns the next directory entry, or (Dirent{}, false, nil) once
// exhausted.
func (d *DirHandle) NextEntry() (Dirent, bool, *errno.Error) {
	if d.cursor >= len(d.entries) {
		return Dirent{}, false, nil
	}
	e := d.entries[d.cursor]
	d.cursor++
	return e, true, nil
}

// EntryByName looks up a child entry by exact name (ext names are
// case-sensitive, unlike FAT 8.3).
func (d *DirHandle) EntryByName(name string) (Dirent, *errno.Error) {
	for _, e := range d.entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Dirent{}, errno.Newf(errno.ENOENT, "no entry named %q", name)
}

// Link adds an entry named name pointing at inode ino, and increments that
// inode's link count.
func (d *DirHandle) Link(name string, ino uint32, isDir bool) *errno.Error {
	if d.inst.readOnly {
		return errno.New(errno.ENOTSUP)
	}
	if _, err := d.EntryByName(name); err == nil {
		return errno.Newf(errno.EEXIST, "%q already exists", name)
	}

	fileType := uint8(FileTypeRegular)
	if isDir {
		fileType = FileTypeDir
	}
	d.entries = append(d.entries, Dirent{Inode: ino, FileType: fileType, Name: name})

	target, err := d.inst.readInode(ino)
	if err != nil {
		return err
	}
	target.LinksCount++
	if err := d.inst.writeInode(ino, target); err != nil {
		return err
	}

	return d.flushBlock0()
}

// Unlink removes the entry named name and decrements the target inode's
// link count, freeing its data blocks once the count reaches zero.
func (d *DirHandle) Unlink(name string) *errno.Error {
	if d.inst.readOnly {
		return errno.New(errno.ENOTSUP)
	}

	for idx, e := range d.entries {
		if e.Name != name {
			continue
		}

		target, err := d.inst.readInode(e.Inode)
		if err != nil {
			return err
		}

		d.entries = append(d.entries[:idx], d.entries[idx+1:]...)
		if err := d.flushBlock0(); err != nil {
			return err
		}

		if target.LinksCount > 0 {
			target.LinksCount--
		}
		if target.LinksCount == 0 {
			if err := d.inst.freeInodeBlocks(&target); err != nil {
				return err
			}
			if err := d.inst.freeInode(e.Inode, target.IsDir()); err != nil {
				return err
			}
			return nil
		}
		return d.inst.writeInode(e.Inode, target)
	}
	return errno.Newf(errno.ENOENT, "no entry named %q", name)
}

// Move relocates the entry named oldName to newName. If dest is d, the
// dirent's name is rewritten in place. Otherwise a new dirent is appended to
// dest referencing the same inode and file type, and the source dirent is
// removed from d without touching the target inode's link count, since the
// inode is still referenced exactly once -- just from a different
// directory.
func (d *DirHandle) Move(dest *DirHandle, oldName, newName string) *errno.Error {
	if d.inst.readOnly || dest.inst.readOnly {
		return errno.New(errno.ENOTSUP)
	}

	idx := -1
	var e Dirent
	for i, cand := range d.entries {
		if cand.Name == oldName {
			idx, e = i, cand
			break
		}
	}
	if idx < 0 {
		return errno.Newf(errno.ENOENT, "no entry named %q", oldName)
	}

	if dest == d {
		if _, err := d.EntryByName(newName); err == nil && newName != oldName {
			return errno.Newf(errno.EEXIST, "%q already exists", newName)
		}
		e.Name = newName
		d.entries[idx] = e
		return d.flushBlock0()
	}

	if _, err := dest.EntryByName(newName); err == nil {
		return errno.Newf(errno.EEXIST, "%q already exists", newName)
	}

	if e.FileType == FileTypeDir {
		child, oerr := d.inst.OpenDirectory(e.Inode)
		if oerr != nil {
			return oerr
		}
		for cidx, centry := range child.entries {
			if centry.Name == ".." {
				child.entries[cidx].Inode = dest.ino
			}
		}
		if ferr := child.flushBlock0(); ferr != nil {
			child.Close()
			return ferr
		}
		child.Close()

		if d.inode.LinksCount > 0 {
			d.inode.LinksCount--
		}
		dest.inode.LinksCount++
		if werr := d.inst.writeInode(d.ino, d.inode); werr != nil {
			return werr
		}
		if werr := d.inst.writeInode(dest.ino, dest.inode); werr != nil {
			return werr
		}
	}

	dest.entries = append(dest.entries, Dirent{Inode: e.Inode, FileType: e.FileType, Name: newName})
	if err := dest.flushBlock0(); err != nil {
		return err
	}

	d.entries = append(d.entries[:idx], d.entries[idx+1:]...)
	return d.flushBlock0()
}

// MakeFile creates a new, empty regular file named name in d and returns
// its new inode number.
func (d *DirHandle) MakeFile(name string) (uint32, *errno.Error) {
	if d.inst.readOnly {
		return 0, errno.New(errno.ENOTSUP)
	}
	if _, err := d.EntryByName(name); err == nil {
		return 0, errno.Newf(errno.EEXIST, "%q already exists", name)
	}

	ino, err := d.inst.allocateInode(false)
	if err != nil {
		return 0, err
	}
	inode := Inode{Mode: ModeRegular | 0644}
	if werr := d.inst.writeInode(ino, inode); werr != nil {
		return 0, werr
	}
	if lerr := d.Link(name, ino, false); lerr != nil {
		return 0, lerr
	}
	return ino, nil
}

// MakeDirectory creates a new subdirectory named name, with "." and ".."
// entries populated.
func (d *DirHandle) MakeDirectory(name string) (uint32, *errno.Error) {
	if d.inst.readOnly {
		return 0, errno.New(errno.ENOTSUP)
	}
	if _, err := d.EntryByName(name); err == nil {
		return 0, errno.Newf(errno.EEXIST, "%q already exists", name)
	}

	ino, err := d.inst.allocateInode(true)
	if err != nil {
		return 0, err
	}
	inode := Inode{Mode: ModeDir | 0755, LinksCount: 2}
	if werr := d.inst.writeInode(ino, inode); werr != nil {
		return 0, werr
	}

	child := &DirHandle{inst: d.inst, ino: ino, inode: inode}
	child.entries = []Dirent{
		{Inode: ino, FileType: FileTypeDir, Name: "."},
		{Inode: d.ino, FileType: FileTypeDir, Name: ".."},
	}
	if ferr := child.flushBlock0(); ferr != nil {
		return 0, ferr
	}

	d.entries = append(d.entries, Dirent{Inode: ino, FileType: FileTypeDir, Name: name})
	d.inode.LinksCount++ // ".." in the new child points back at d
	if werr := d.inst.writeInode(d.ino, d.inode); werr != nil {
		return 0, werr
	}
	if ferr := d.flushBlock0(); ferr != nil {
		return 0, ferr
	}

	return ino, nil
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

func (i *Instance) freeInodeBlocks(inode *Inode) *errno.Error {
	blockSize := i.sb.BlockSize()
	nblocks := blockCountFor(inode.Size(), blockSize)
	t := newTranslator(i.dev, blockSize)

	for idx := uint64(0); idx < nblocks; idx++ {
		phys, err := t.Resolve(inode, idx)
		if err != nil {
			return err
		}
		if phys != 0 {
			if err := i.freeBlock(phys); err != nil {
				return err
			}
		}
	}
	for _, indirectSlot := range []int{12, 13, 14} {
		if inode.Block[indirectSlot] != 0 {
			if err := i.freeBlock(inode.Block[indirectSlot]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (i *Instance) freeInode(ino uint32, isDir bool) *errno.Error {
	loc, err := locateInode(&i.sb, ino)
	if err != nil {
		return err
	}
	gd := i.groups[loc.group]
	buf, rerr := newTranslator(i.dev, i.sb.BlockSize()).readBlock(gd.InodeBitmap)
	if rerr != nil {
		return rerr
	}
	alloc := LoadAllocator(buf, uint(i.sb.InodesPerGroup))
	if ferr := alloc.Free(uint(loc.indexInGrp)); ferr != nil {
		return ferr
	}
	if werr := newTranslator(i.dev, i.sb.BlockSize()).writeBlock(gd.InodeBitmap, alloc.Bytes()); werr != nil {
		return werr
	}
	i.groups[loc.group].FreeInodesCount++
	i.sb.FreeInodesCount++
	if isDir && i.groups[loc.group].UsedDirsCount > 0 {
		i.groups[loc.group].UsedDirsCount--
	}
	if werr := writeGroupDescriptorTable(i.dev, &i.sb, i.groups); werr != nil {
		return werr
	}
	return i.persistSuperblock()
}
