package fat

import (
	"github.com/bolthur/bfs/errno"
)

// FileHandle is an open FAT file: the owning instance, the directory that
// holds its 8.3 entry (needed to rewrite size/first-cluster on close), its
// flags, current position, and cached metadata.
type FileHandle struct {
	inst     *Instance
	dir      *DirHandle
	name     string
	first    ClusterID
	size     int64
	pos      int64
	writable bool
	dirty    bool
	closed   bool
}

// OpenFile opens the existing entry within dir for reading and/or writing.
// It does not create anything; a caller that wants create semantics
// (typically fsapi) calls dir.AddFile first.
func OpenFile(inst *Instance, dir *DirHandle, entry Entry, writable bool) *FileHandle {
	inst.openCnt++
	return &FileHandle{
		inst:     inst,
		dir:      dir,
		name:     entry.Name,
		first:    entry.Short.FirstCluster(),
		size:     int64(entry.Short.FileSize),
		writable: writable,
	}
}

func (f *FileHandle) Size() int64 { return f.size }
func (f *FileHandle) Tell() int64 { return f.pos }

// Seek repositions the file's cursor, clamping writes-past-EOF handling to
// the caller (Read/Write check bounds themselves).
func (f *FileHandle) Seek(offset int64) *errno.Error {
	if offset < 0 {
		return errno.Newf(errno.EINVAL, "negative seek offset %d", offset)
	}
	f.pos = offset
	return nil
}

// Read fills buf starting at the current position, returning the number of
// bytes actually read (less than len(buf) at EOF).
func (f *FileHandle) Read(buf []byte) (int, *errno.Error) {
	if f.pos >= f.size {
		return 0, nil
	}

	toRead := int64(len(buf))
	if f.pos+toRead > f.size {
		toRead = f.size - f.pos
	}

	bpc := int64(f.inst.geo.BytesPerCluster())
	if bpc == 0 || f.first < 2 {
		return 0, nil
	}

	read := int64(0)
	clusterIndex := f.pos / bpc
	offsetInCluster := f.pos % bpc

	current, err := f.inst.table.GetByNum(f.first, uint(clusterIndex))
	if err != nil {
		return 0, err
	}
	if f.inst.geo.IsEOF(uint32(current)) {
		return 0, nil
	}

	for read < toRead {
		data, rerr := f.inst.table.ReadCluster(current)
		if rerr != nil {
			return int(read), rerr
		}

		n := int64(len(data)) - offsetInCluster
		remaining := toRead - read
		if n > remaining {
			n = remaining
		}
		copy(buf[read:read+n], data[offsetInCluster:offsetInCluster+n])
		read += n
		offsetInCluster = 0

		if read >= toRead {
			break
		}

		v, nerr := f.inst.table.Next(current)
		if nerr != nil {
			return int(read), nerr
		}
		if f.inst.geo.IsEOF(v) {
			break
		}
		current = ClusterID(v)
	}

	f.pos += read
	return int(read), nil
}

// Write stores data at the current position, extending the cluster chain
// (and the logical file size) as needed.
func (f *FileHandle) Write(data []byte) (int, *errno.Error) {
	if !f.writable {
		return 0, errno.New(errno.ENOTSUP)
	}

	bpc := int64(f.inst.geo.BytesPerCluster())

	if f.first < 2 {
		head, err := f.inst.table.AllocateChain(1)
		if err != nil {
			return 0, err
		}
		f.first = head
		f.dirty = true
	}

	endPos := f.pos + int64(len(data))
	neededClusters := (endPos + bpc - 1) / bpc

	haveClusters := int64(1)
	current := f.first
	for {
		v, err := f.inst.table.Next(current)
		if err != nil {
			return 0, err
		}
		if f.inst.geo.IsEOF(v) {
			break
		}
		haveClusters++
		current = ClusterID(v)
	}

	if neededClusters > haveClusters {
		if _, err := f.inst.table.ExtendChain(f.first, uint(neededClusters-haveClusters)); err != nil {
			return 0, err
		}
	}

	written := int64(0)
	clusterIndex := f.pos / bpc
	offsetInCluster := f.pos % bpc

	current, err := f.inst.table.GetByNum(f.first, uint(clusterIndex))
	if err != nil {
		return 0, err
	}

	for written < int64(len(data)) {
		clusterData, rerr := f.inst.table.ReadCluster(current)
		if rerr != nil {
			return int(written), rerr
		}

		n := bpc - offsetInCluster
		remaining := int64(len(data)) - written
		if n > remaining {
			n = remaining
		}
		copy(clusterData[offsetInCluster:offsetInCluster+n], data[written:written+n])
		if werr := f.inst.table.WriteCluster(current, clusterData); werr != nil {
			return int(written), werr
		}

		written += n
		offsetInCluster = 0

		if written >= int64(len(data)) {
			break
		}

		v, nerr := f.inst.table.Next(current)
		if nerr != nil {
			return int(written), nerr
		}
		current = ClusterID(v)
	}

	f.pos += written
	if f.pos > f.size {
		f.size = f.pos
	}
	f.dirty = true
	return int(written), nil
}

// Truncate resizes the file to newSize, freeing or extending the cluster
// chain as needed.
func (f *FileHandle) Truncate(newSize int64) *errno.Error {
	if !f.writable {
		return errno.New(errno.ENOTSUP)
	}
	if newSize < 0 {
		return errno.Newf(errno.EINVAL, "negative size %d", newSize)
	}

	bpc := int64(f.inst.geo.BytesPerCluster())
	if newSize == 0 {
		if f.first >= 2 {
			if err := f.inst.table.FreeChain(f.first); err != nil {
				return err
			}
		}
		f.first = 0
		f.size = 0
		f.dirty = true
		return nil
	}

	neededClusters := (newSize + bpc - 1) / bpc

	if f.first < 2 {
		head, err := f.inst.table.AllocateChain(uint(neededClusters))
		if err != nil {
			return err
		}
		f.first = head
	} else {
		haveClusters := int64(1)
		current := f.first
		for {
			v, err := f.inst.table.Next(current)
			if err != nil {
				return err
			}
			if f.inst.geo.IsEOF(v) {
				break
			}
			haveClusters++
			current = ClusterID(v)
		}
		if neededClusters > haveClusters {
			if _, err := f.inst.table.ExtendChain(f.first, uint(neededClusters-haveClusters)); err != nil {
				return err
			}
		} else if neededClusters < haveClusters {
			// Walk to the new last cluster, free everything past it.
			target, err := f.inst.table.GetByNum(f.first, uint(neededClusters-1))
			if err != nil {
				return err
			}
			tail, err := f.inst.table.Next(target)
			if err != nil {
				return err
			}
			if !f.inst.geo.IsEOF(tail) {
				if err := f.inst.table.FreeChain(ClusterID(tail)); err != nil {
					return err
				}
			}
			if err := f.inst.table.Set(target, f.inst.table.ChainEnd()); err != nil {
				return err
			}
		}
	}

	f.size = newSize
	if f.pos > f.size {
		f.pos = f.size
	}
	f.dirty = true
	return nil
}

// Close rewrites the directory entry's size and first-cluster fields if the
// file was modified, then releases the instance's open-handle count.
func (f *FileHandle) Close() *errno.Error {
	if f.closed {
		return nil
	}
	f.closed = true
	defer func() { f.inst.openCnt-- }()

	if f.dirty && f.writable {
		return f.dir.updateEntry(f.name, uint32(f.size), f.first)
	}
	return nil
}
