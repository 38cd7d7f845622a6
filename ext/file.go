package ext

import (
	"github.com/bolthur/bfs/errno"
)

// FileHandle is an open ext regular file.
type FileHandle struct {
	inst     *Instance
	ino      uint32
	inode    Inode
	pos      int64
	writable bool
	dirty    bool
	closed   bool
}

// OpenFile opens the regular file backed by inode number ino.
func (i *Instance) OpenFile(ino uint32, writable bool) (*FileHandle, *errno.Error) {
	inode, err := i.readInode(ino)
	if err != nil {
		return nil, err
	}
	if !inode.IsRegular() {
		return nil, errno.Newf(errno.EINVAL, "inode %d is not a regular file", ino)
	}
	i.openCnt++
	return &FileHandle{inst: i, ino: ino, inode: inode, writable: writable}, nil
}

func (f *FileHandle) Size() int64 { return int64(f.inode.Size()) }
func (f *FileHandle) Tell() int64 { return f.pos }

// Seek repositions the file's cursor.
func (f *FileHandle) Seek(offset int64) *errno.Error {
	if offset < 0 {
		return errno.Newf(errno.EINVAL, "negative seek offset %d", offset)
	}
	f.pos = offset
	return nil
}

// Read fills buf starting at the current position.
func (f *FileHandle) Read(buf []byte) (int, *errno.Error) {
	size := int64(f.inode.Size())
	if f.pos >= size {
		return 0, nil
	}

	toRead := int64(len(buf))
	if f.pos+toRead > size {
		toRead = size - f.pos
	}
	if toRead <= 0 {
		return 0, nil
	}

	data, err := f.inst.readInodeData(&f.inode, uint64(f.pos), uint64(toRead))
	if err != nil {
		return 0, err
	}
	copy(buf, data)
	f.pos += int64(len(data))
	return len(data), nil
}

// Write stores data at the current position, extending the inode's block
// allocation and logical size as needed.
func (f *FileHandle) Write(data []byte) (int, *errno.Error) {
	if !f.writable {
		return 0, errno.New(errno.ENOTSUP)
	}
	if err := f.inst.writeInodeData(&f.inode, uint64(f.pos), data); err != nil {
		return 0, err
	}
	f.pos += int64(len(data))
	f.dirty = true
	return len(data), nil
}

// Truncate resizes the file to newSize, freeing trailing blocks when
// shrinking. Growing past the current allocation leaves the new range as a
// sparse hole, matching ext2 semantics.
func (f *FileHandle) Truncate(newSize int64) *errno.Error {
	if !f.writable {
		return errno.New(errno.ENOTSUP)
	}
	if newSize < 0 {
		return errno.Newf(errno.EINVAL, "negative size %d", newSize)
	}

	oldSize := int64(f.inode.Size())
	if newSize < oldSize {
		blockSize := f.inst.sb.BlockSize()
		oldBlocks := blockCountFor(uint64(oldSize), blockSize)
		newBlocks := blockCountFor(uint64(newSize), blockSize)
		t := newTranslator(f.inst.dev, blockSize)

		for idx := newBlocks; idx < oldBlocks; idx++ {
			phys, err := t.Resolve(&f.inode, idx)
			if err != nil {
				return err
			}
			if phys != 0 {
				if err := f.inst.freeBlock(phys); err != nil {
					return err
				}
				if err := t.Assign(&f.inode, idx, 0, nil); err != nil {
					return err
				}
			}
		}
	}

	f.inode.SetSize(uint64(newSize))
	if f.pos > newSize {
		f.pos = newSize
	}
	f.dirty = true
	return nil
}

// Close persists the inode's metadata if it was modified, then releases the
// instance's open-handle count.
func (f *FileHandle) Close() *errno.Error {
	if f.closed {
		return nil
	}
	f.closed = true
	defer func() { f.inst.openCnt-- }()

	if f.dirty && f.writable {
		return f.inst.writeInode(f.ino, f.inode)
	}
	return nil
}
