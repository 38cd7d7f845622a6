package ext

import (
	"github.com/bolthur/bfs/blockdev"
	"github.com/bolthur/bfs/common"
	"github.com/bolthur/bfs/errno"
	"go.uber.org/zap"
)

// RootInode is the fixed inode number of the volume's root directory.
const RootInode = 2

// Instance is a mounted ext2/3 filesystem; it implements mount.Filesystem.
type Instance struct {
	dev      blockdev.Device
	sb       Superblock
	groups   []GroupDescriptor
	readOnly bool
	openCnt  int
}

// Mount reads the superblock at byte offset 1024, validates it, reads the
// block group descriptor table, and returns a ready Instance. Rejecting an
// unsupported incompatible feature bit is a real mount failure rather than
// a silent no-op.
func Mount(dev blockdev.Device, readOnly bool) (*Instance, *errno.Error) {
	// The superblock always starts at byte 1024 regardless of the device's
	// native block size; read enough whole blocks to cover byte range
	// [1024, 1024+1024).
	blockSize := uint64(dev.BlockSize())
	startLBA := blockdev.LBA(1024 / blockSize)
	startByteInLBA := 1024 % blockSize
	blocksNeeded := (startByteInLBA + 1024 + blockSize - 1) / blockSize

	buf := make([]byte, blocksNeeded*blockSize)
	if err := dev.Read(startLBA, uint(blocksNeeded), buf); err != nil {
		return nil, errno.Newf(errno.EIO, "reading superblock: %v", err)
	}

	sb, perr := ParseSuperblock(buf[startByteInLBA : startByteInLBA+1024])
	if perr != nil {
		common.Log().Warn("ext mount rejected: malformed superblock", zap.Error(perr))
		return nil, perr
	}
	if verr := sb.Validate(); verr != nil {
		common.Log().Warn("ext mount rejected", zap.Error(verr))
		return nil, verr
	}
	if sb.State != 1 {
		common.Log().Warn("ext volume was not cleanly unmounted", zap.Uint16("state", sb.State))
	}

	if sb.ForcesReadOnly() && !readOnly {
		common.Log().Info("ext volume has unrecognized ro_compat features, forcing read-only")
		readOnly = true
	}

	if err := dev.Resize(uint(sb.BlockSize())); err != nil {
		return nil, errno.Newf(errno.EIO, "resizing device to %d-byte blocks: %v", sb.BlockSize(), err)
	}

	groups, gerr := readGroupDescriptorTable(dev, &sb)
	if gerr != nil {
		return nil, gerr
	}

	common.Log().Info("ext mounted",
		zap.Uint32("blockSize", sb.BlockSize()),
		zap.Uint32("blockGroups", sb.BlockGroupCount()),
		zap.Uint32("inodesCount", sb.InodesCount),
		zap.Bool("readOnly", readOnly))

	return &Instance{dev: dev, sb: sb, groups: groups, readOnly: readOnly}, nil
}

func (i *Instance) Kind() string   { return "ext2" }
func (i *Instance) ReadOnly() bool { return i.readOnly }
func (i *Instance) Busy() bool     { return i.openCnt > 0 }

// Superblock exposes the mounted volume's superblock, mostly for tests and
// cmd/bfsctl diagnostics.
func (i *Instance) Superblock() Superblock { return i.sb }

// Unmount refuses if any handle is still open, mirroring fat.Instance's
// busy-unmount refusal. Mount/Unmount allocation stays symmetric: nothing
// Mount allocates outlives a successful Unmount.
func (i *Instance) Unmount() *errno.Error {
	if i.Busy() {
		return errno.New(errno.EFAULT)
	}
	return nil
}

// persistSuperblock writes the in-memory superblock's current free-block
// and free-inode counters back to byte offset 1024 on disk, keeping the
// allocator's bookkeeping durable across remounts.
func (i *Instance) persistSuperblock() *errno.Error {
	blockSize := uint64(i.dev.BlockSize())
	startLBA := blockdev.LBA(1024 / blockSize)
	startByteInLBA := 1024 % blockSize
	blocksNeeded := (startByteInLBA + 1024 + blockSize - 1) / blockSize

	buf := make([]byte, blocksNeeded*blockSize)
	if err := i.dev.Read(startLBA, uint(blocksNeeded), buf); err != nil {
		return errno.Newf(errno.EIO, "reading superblock region: %v", err)
	}
	copy(buf[startByteInLBA:startByteInLBA+1024], EncodeSuperblock(&i.sb))
	if err := i.dev.Write(startLBA, uint(blocksNeeded), buf); err != nil {
		return errno.Newf(errno.EIO, "writing superblock: %v", err)
	}
	return nil
}

func (i *Instance) groupOf(ino uint32) (GroupDescriptor, uint32, *errno.Error) {
	loc, err := locateInode(&i.sb, ino)
	if err != nil {
		return GroupDescriptor{}, 0, err
	}
	if loc.group >= uint32(len(i.groups)) {
		return GroupDescriptor{}, 0, errno.Newf(errno.EINVAL, "inode %d maps to out-of-range group %d", ino, loc.group)
	}
	return i.groups[loc.group], loc.group, nil
}

func (i *Instance) readInode(ino uint32) (Inode, *errno.Error) {
	gd, _, err := i.groupOf(ino)
	if err != nil {
		return Inode{}, err
	}
	return readInode(i.dev, &i.sb, gd, ino)
}

func (i *Instance) writeInode(ino uint32, inode Inode) *errno.Error {
	gd, _, err := i.groupOf(ino)
	if err != nil {
		return err
	}
	return writeInode(i.dev, &i.sb, gd, ino, inode)
}

// allocateBlock finds a free block in block group hintGroup first,
// falling back to any group with free blocks, mirroring the
// locality-seeking intent of ext2's real allocator without its full
// goal-block heuristics.
func (i *Instance) allocateBlock(hintGroup uint32) (uint32, *errno.Error) {
	order := make([]uint32, 0, len(i.groups))
	if hintGroup < uint32(len(i.groups)) {
		order = append(order, hintGroup)
	}
	for g := uint32(0); g < uint32(len(i.groups)); g++ {
		if g != hintGroup {
			order = append(order, g)
		}
	}

	for _, g := range order {
		gd := i.groups[g]
		if gd.FreeBlocksCount == 0 {
			continue
		}
		alloc, _, err := i.loadBlockBitmap(g)
		if err != nil {
			return 0, err
		}
		idx, aerr := alloc.Allocate()
		if aerr != nil {
			continue
		}
		if err := i.storeBlockBitmap(g, alloc); err != nil {
			return 0, err
		}
		i.groups[g].FreeBlocksCount--
		i.sb.FreeBlocksCount--
		if err := writeGroupDescriptorTable(i.dev, &i.sb, i.groups); err != nil {
			return 0, err
		}
		if err := i.persistSuperblock(); err != nil {
			return 0, err
		}
		physical := i.sb.FirstDataBlock + g*i.sb.BlocksPerGroup + uint32(idx)
		return physical, nil
	}
	return 0, errno.New(errno.ENOSPC)
}

func (i *Instance) freeBlock(phys uint32) *errno.Error {
	if phys < i.sb.FirstDataBlock {
		return errno.Newf(errno.EINVAL, "block %d precedes first data block", phys)
	}
	rel := phys - i.sb.FirstDataBlock
	g := rel / i.sb.BlocksPerGroup
	idx := rel % i.sb.BlocksPerGroup

	alloc, _, err := i.loadBlockBitmap(g)
	if err != nil {
		return err
	}
	if ferr := alloc.Free(uint(idx)); ferr != nil {
		return ferr
	}
	if err := i.storeBlockBitmap(g, alloc); err != nil {
		return err
	}
	i.groups[g].FreeBlocksCount++
	i.sb.FreeBlocksCount++
	if err := writeGroupDescriptorTable(i.dev, &i.sb, i.groups); err != nil {
		return err
	}
	return i.persistSuperblock()
}

func (i *Instance) loadBlockBitmap(group uint32) (Allocator, []byte, *errno.Error) {
	gd := i.groups[group]
	buf, err := newTranslator(i.dev, i.sb.BlockSize()).readBlock(gd.BlockBitmap)
	if err != nil {
		return Allocator{}, nil, err
	}
	return LoadAllocator(buf, uint(i.sb.BlocksPerGroup)), buf, nil
}

func (i *Instance) storeBlockBitmap(group uint32, alloc Allocator) *errno.Error {
	gd := i.groups[group]
	return newTranslator(i.dev, i.sb.BlockSize()).writeBlock(gd.BlockBitmap, alloc.Bytes())
}

func (i *Instance) allocateInode(dir bool) (uint32, *errno.Error) {
	for g := uint32(0); g < uint32(len(i.groups)); g++ {
		gd := i.groups[g]
		if gd.FreeInodesCount == 0 {
			continue
		}
		buf, err := newTranslator(i.dev, i.sb.BlockSize()).readBlock(gd.InodeBitmap)
		if err != nil {
			return 0, err
		}
		alloc := LoadAllocator(buf, uint(i.sb.InodesPerGroup))
		idx, aerr := alloc.Allocate()
		if aerr != nil {
			continue
		}
		if err := newTranslator(i.dev, i.sb.BlockSize()).writeBlock(gd.InodeBitmap, alloc.Bytes()); err != nil {
			return 0, err
		}
		i.groups[g].FreeInodesCount--
		i.sb.FreeInodesCount--
		if dir {
			i.groups[g].UsedDirsCount++
		}
		if err := writeGroupDescriptorTable(i.dev, &i.sb, i.groups); err != nil {
			return 0, err
		}
		if err := i.persistSuperblock(); err != nil {
			return 0, err
		}
		return g*i.sb.InodesPerGroup + uint32(idx) + 1, nil
	}
	return 0, errno.New(errno.ENOSPC)
}
