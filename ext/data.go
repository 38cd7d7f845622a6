package ext

import (
	"github.com/bolthur/bfs/errno"
)

// blockCountFor returns how many block_size blocks are needed to hold n
// logical bytes.
func blockCountFor(n uint64, blockSize uint32) uint64 {
	return (n + uint64(blockSize) - 1) / uint64(blockSize)
}

// readInodeBlock reads logical block index idx of inode ino's data, zeroing
// the result if that index is an unallocated hole.
func (i *Instance) readInodeBlock(ino *Inode, idx uint64) ([]byte, *errno.Error) {
	t := newTranslator(i.dev, i.sb.BlockSize())
	phys, err := t.Resolve(ino, idx)
	if err != nil {
		return nil, err
	}
	if phys == 0 {
		return make([]byte, i.sb.BlockSize()), nil
	}
	return t.readBlock(phys)
}

// writeInodeBlock writes logical block index idx of inode ino's data,
// allocating a fresh physical block (and any needed indirect blocks) on
// first write.
func (i *Instance) writeInodeBlock(ino *Inode, idx uint64, buf []byte) *errno.Error {
	t := newTranslator(i.dev, i.sb.BlockSize())
	phys, err := t.Resolve(ino, idx)
	if err != nil {
		return err
	}

	if phys == 0 {
		newPhys, aerr := i.allocateBlock(0)
		if aerr != nil {
			return aerr
		}
		phys = newPhys
		if serr := t.Assign(ino, idx, phys, func() (uint32, *errno.Error) { return i.allocateBlock(0) }); serr != nil {
			return serr
		}
		ino.Blocks += i.sb.BlockSize() / 512
	}

	return t.writeBlock(phys, buf)
}

// readInodeData reads n bytes of an inode's logical data,
// starting at byte offset off.
func (i *Instance) readInodeData(ino *Inode, off, n uint64) ([]byte, *errno.Error) {
	out := make([]byte, 0, n)
	blockSize := uint64(i.sb.BlockSize())
	remaining := n
	pos := off

	for remaining > 0 {
		idx := pos / blockSize
		inBlock := pos % blockSize
		block, err := i.readInodeBlock(ino, idx)
		if err != nil {
			return nil, err
		}
		take := blockSize - inBlock
		if take > remaining {
			take = remaining
		}
		out = append(out, block[inBlock:inBlock+take]...)
		pos += take
		remaining -= take
	}
	return out, nil
}

// writeInodeData writes data at byte offset off into inode ino's logical
// data, growing the inode's size if the write extends past its current
// end.
func (i *Instance) writeInodeData(ino *Inode, off uint64, data []byte) *errno.Error {
	blockSize := uint64(i.sb.BlockSize())
	pos := off
	written := uint64(0)

	for written < uint64(len(data)) {
		idx := pos / blockSize
		inBlock := pos % blockSize

		block, err := i.readInodeBlock(ino, idx)
		if err != nil {
			return err
		}

		take := blockSize - inBlock
		remaining := uint64(len(data)) - written
		if take > remaining {
			take = remaining
		}
		copy(block[inBlock:inBlock+take], data[written:written+take])

		if err := i.writeInodeBlock(ino, idx, block); err != nil {
			return err
		}

		pos += take
		written += take
	}

	if off+uint64(len(data)) > ino.Size() {
		ino.SetSize(off + uint64(len(data)))
	}
	return nil
}
