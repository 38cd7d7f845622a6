package fat

import (
	"encoding/binary"

	"github.com/bolthur/bfs/blockdev"
	"github.com/bolthur/bfs/errno"
)

// ClusterID identifies a cluster, the FAT allocation unit. Valid data
// clusters start at 2.
type ClusterID uint32

// chain-end / bad-cluster sentinels, keyed by Kind.
var chainEndStart = map[Kind]uint32{
	KindFAT12: 0xFF8,
	KindFAT16: 0xFFF8,
	KindFAT32: 0x0FFFFFF8,
}

var badClusterValue = map[Kind]uint32{
	KindFAT12: 0xFF7,
	KindFAT16: 0xFFF7,
	KindFAT32: 0x0FFFFFF7,
}

// ChainEnd returns the canonical end-of-chain sentinel for geometry g's
// Kind.
func (g *Geometry) ChainEnd() uint32 { return chainEndStart[g.Kind] }

// IsEOF reports whether a raw FAT entry value marks the end of a chain.
func (g *Geometry) IsEOF(value uint32) bool {
	return value >= chainEndStart[g.Kind]
}

// Table is the in-memory view of the FAT allocation table machinery,
// operating directly against the block device -- there is no whole-FAT
// cache, honoring the "no caching beyond a single sector buffer" non-goal.
type Table struct {
	dev  blockdev.Device
	geo  Geometry
	hint ClusterID
}

// NewTable builds the cluster-chain machinery for an already-validated
// Geometry.
func NewTable(dev blockdev.Device, geo Geometry) *Table {
	return &Table{dev: dev, geo: geo}
}

// SetAllocationHint records the cluster GetFree should resume scanning
// from, as recovered from a FAT32 volume's FSInfo sector. A hint outside
// [2, TotalClusters+2) is ignored.
func (t *Table) SetAllocationHint(c ClusterID) {
	if uint(c) >= 2 && uint(c) < t.geo.TotalClusters+2 {
		t.hint = c
	}
}

// ClusterToLBA computes the first logical block of cluster c.
// Defined only for c >= 2.
func (t *Table) ClusterToLBA(c ClusterID) (blockdev.LBA, *errno.Error) {
	if c < 2 {
		return 0, errno.Newf(errno.EINVAL, "cluster %d is not addressable (< 2)", c)
	}
	sectorsPerBlock := t.geo.BytesPerSector / t.dev.BlockSize()
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}
	firstDataLBA := uint64(t.geo.FirstDataSector) * uint64(sectorsPerBlock)
	spc := uint64(t.geo.SectorsPerCluster) * uint64(sectorsPerBlock)
	return blockdev.LBA(firstDataLBA + (uint64(c-2) * spc)), nil
}

// entryLocation returns, for cluster c, the byte offset within a single FAT
// copy and (for FAT12) whether c falls on the "odd" 12-bit slot.
func (t *Table) entryLocation(c ClusterID) (byteOffset uint64, odd bool) {
	switch t.geo.Kind {
	case KindFAT12:
		byteOffset = uint64(c) + uint64(c)/2
		odd = c%2 == 1
	case KindFAT16:
		byteOffset = uint64(c) * 2
	case KindFAT32:
		byteOffset = uint64(c) * 4
	}
	return
}

// readFATBytes reads n bytes starting at the given byte offset within FAT
// copy 0, by reading whole device blocks and slicing.
func (t *Table) readFATBytes(byteOffset uint64, n int) ([]byte, *errno.Error) {
	sectorsPerBlock := t.geo.BytesPerSector / t.dev.BlockSize()
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}
	fatStartLBA := uint64(t.geo.FirstFATSector) * uint64(sectorsPerBlock)
	blockSize := uint64(t.dev.BlockSize())

	startBlock := byteOffset / blockSize
	endBlock := (byteOffset + uint64(n) - 1) / blockSize
	count := uint(endBlock - startBlock + 1)

	buf := make([]byte, count*t.dev.BlockSize())
	if err := t.dev.Read(blockdev.LBA(fatStartLBA+startBlock), count, buf); err != nil {
		return nil, errno.Newf(errno.EIO, "reading FAT: %v", err)
	}

	localOffset := byteOffset - (startBlock * blockSize)
	return buf[localOffset : localOffset+uint64(n)], nil
}

// writeFATBytes writes data to every FAT copy (num_fats mirrors), at the
// given byte offset from the start of each copy.
func (t *Table) writeFATBytes(byteOffset uint64, data []byte) *errno.Error {
	sectorsPerBlock := t.geo.BytesPerSector / t.dev.BlockSize()
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}
	blockSize := uint64(t.dev.BlockSize())

	startBlock := byteOffset / blockSize
	endBlock := (byteOffset + uint64(len(data)) - 1) / blockSize
	count := uint(endBlock - startBlock + 1)
	localOffset := byteOffset - (startBlock * blockSize)

	for k := uint(0); k < t.geo.NumFATs; k++ {
		// Each FAT copy occupies geo.FATSize BPB-sectors; convert the copy's
		// starting sector to a device LBA via sectorsPerBlock.
		copyStartSector := uint64(t.geo.FirstFATSector) + uint64(k)*uint64(t.geo.FATSize)
		fatStartLBA := copyStartSector * uint64(sectorsPerBlock)

		buf := make([]byte, count*t.dev.BlockSize())
		if err := t.dev.Read(blockdev.LBA(fatStartLBA+startBlock), count, buf); err != nil {
			return errno.Newf(errno.EIO, "reading FAT copy %d: %v", k, err)
		}
		copy(buf[localOffset:localOffset+uint64(len(data))], data)
		if err := t.dev.Write(blockdev.LBA(fatStartLBA+startBlock), count, buf); err != nil {
			return errno.Newf(errno.EIO, "writing FAT copy %d: %v", k, err)
		}
	}
	return nil
}

// Get reads the raw value of FAT slot c.
func (t *Table) Get(c ClusterID) (uint32, *errno.Error) {
	switch t.geo.Kind {
	case KindFAT12:
		offset, odd := t.entryLocation(c)
		raw, err := t.readFATBytes(offset, 2)
		if err != nil {
			return 0, err
		}
		packed := binary.LittleEndian.Uint16(raw)
		if odd {
			return uint32(packed >> 4), nil
		}
		return uint32(packed & 0x0FFF), nil

	case KindFAT16:
		offset, _ := t.entryLocation(c)
		raw, err := t.readFATBytes(offset, 2)
		if err != nil {
			return 0, err
		}
		return uint32(binary.LittleEndian.Uint16(raw)), nil

	case KindFAT32:
		offset, _ := t.entryLocation(c)
		raw, err := t.readFATBytes(offset, 4)
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(raw) & 0x0FFFFFFF, nil
	}
	return 0, errno.Newf(errno.EFAULT, "unreachable FAT kind")
}

// Next follows the chain one step from c, returning either the next
// ClusterID or the chain-end sentinel value (check with geo.IsEOF).
func (t *Table) Next(c ClusterID) (uint32, *errno.Error) {
	return t.Get(c)
}

// Set writes value into FAT slot c, mirrored across every FAT copy.
func (t *Table) Set(c ClusterID, value uint32) *errno.Error {
	switch t.geo.Kind {
	case KindFAT12:
		offset, odd := t.entryLocation(c)
		raw, err := t.readFATBytes(offset, 2)
		if err != nil {
			return err
		}
		packed := binary.LittleEndian.Uint16(raw)
		if odd {
			packed = (packed & 0x000F) | (uint16(value&0x0FFF) << 4)
		} else {
			packed = (packed & 0xF000) | uint16(value&0x0FFF)
		}
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, packed)
		return t.writeFATBytes(offset, out)

	case KindFAT16:
		offset, _ := t.entryLocation(c)
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(value))
		return t.writeFATBytes(offset, out)

	case KindFAT32:
		offset, _ := t.entryLocation(c)
		raw, err := t.readFATBytes(offset, 4)
		if err != nil {
			return err
		}
		existing := binary.LittleEndian.Uint32(raw)
		// Bits 28-31 are reserved and must be preserved on write.
		newVal := (existing & 0xF0000000) | (value & 0x0FFFFFFF)
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, newVal)
		return t.writeFATBytes(offset, out)
	}
	return errno.Newf(errno.EFAULT, "unreachable FAT kind")
}

// GetFree performs a linear scan of the FAT and returns the first cluster
// whose value is 0 (unused). The scan starts at t.hint if one has been set
// via SetAllocationHint, wrapping around to cluster 2 if the tail of the
// volume has nothing free.
func (t *Table) GetFree() (ClusterID, *errno.Error) {
	start := ClusterID(2)
	if t.hint != 0 {
		start = t.hint
	}

	last := ClusterID(t.geo.TotalClusters + 2)
	for c := start; c < last; c++ {
		v, err := t.Get(c)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			t.hint = c + 1
			return c, nil
		}
	}
	for c := ClusterID(2); c < start; c++ {
		v, err := t.Get(c)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			t.hint = c + 1
			return c, nil
		}
	}
	return 0, errno.New(errno.ENOSPC)
}

// GetByNum follows the chain starting at `start` for n steps, returning the
// chain-end sentinel (as a ClusterID-shaped value) if the chain is shorter
// than n.
func (t *Table) GetByNum(start ClusterID, n uint) (ClusterID, *errno.Error) {
	current := start
	for i := uint(0); i < n; i++ {
		v, err := t.Next(current)
		if err != nil {
			return 0, err
		}
		if t.geo.IsEOF(v) {
			return ClusterID(v), nil
		}
		current = ClusterID(v)
	}
	return current, nil
}

// AllocateChain grabs n free clusters and links them into a standalone chain
// c1 -> c2 -> ... -> cn -> EOF, returning c1. It does not splice the chain
// onto any existing tail; callers that are extending an existing file do
// that themselves (see Table.ExtendChain).
func (t *Table) AllocateChain(n uint) (ClusterID, *errno.Error) {
	if n == 0 {
		return 0, errno.Newf(errno.EINVAL, "cannot allocate a chain of 0 clusters")
	}

	clusters := make([]ClusterID, 0, n)
	for uint(len(clusters)) < n {
		c, err := t.GetFree()
		if err != nil {
			// Roll back any clusters we grabbed before failing, so a failed
			// allocation never leaks clusters marked used with no owner.
			for _, alloc := range clusters {
				_ = t.Set(alloc, 0)
			}
			return 0, err
		}
		// Mark it used immediately (with a placeholder EOF) so the next
		// GetFree scan doesn't return it again.
		if err := t.Set(c, t.ChainEnd()); err != nil {
			return 0, err
		}
		clusters = append(clusters, c)
	}

	for i := 0; i < len(clusters)-1; i++ {
		if err := t.Set(clusters[i], uint32(clusters[i+1])); err != nil {
			return 0, err
		}
	}
	if err := t.Set(clusters[len(clusters)-1], t.ChainEnd()); err != nil {
		return 0, err
	}
	return clusters[0], nil
}

// ExtendChain appends n freshly allocated clusters onto the end of the
// chain starting at `head`, returning the first newly allocated cluster.
func (t *Table) ExtendChain(head ClusterID, n uint) (ClusterID, *errno.Error) {
	tail := head
	for {
		v, err := t.Next(tail)
		if err != nil {
			return 0, err
		}
		if t.geo.IsEOF(v) {
			break
		}
		tail = ClusterID(v)
	}

	newHead, err := t.AllocateChain(n)
	if err != nil {
		return 0, err
	}
	if err := t.Set(tail, uint32(newHead)); err != nil {
		return 0, err
	}
	return newHead, nil
}

// FreeChain walks the chain starting at `head` and zeroes every slot.
func (t *Table) FreeChain(head ClusterID) *errno.Error {
	current := head
	for {
		v, err := t.Next(current)
		if err != nil {
			return err
		}
		if err := t.Set(current, 0); err != nil {
			return err
		}
		if t.geo.IsEOF(v) {
			return nil
		}
		current = ClusterID(v)
	}
}

// ReadCluster reads the full contents of cluster c.
func (t *Table) ReadCluster(c ClusterID) ([]byte, *errno.Error) {
	lba, err := t.ClusterToLBA(c)
	if err != nil {
		return nil, err
	}
	sectorsPerBlock := t.geo.BytesPerSector / t.dev.BlockSize()
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}
	count := t.geo.SectorsPerCluster * sectorsPerBlock
	buf := make([]byte, count*t.dev.BlockSize())
	if devErr := t.dev.Read(lba, count, buf); devErr != nil {
		return nil, errno.Newf(errno.EIO, "reading cluster %d: %v", c, devErr)
	}
	return buf, nil
}

// WriteCluster writes a full cluster's worth of data to cluster c.
func (t *Table) WriteCluster(c ClusterID, data []byte) *errno.Error {
	lba, err := t.ClusterToLBA(c)
	if err != nil {
		return err
	}
	sectorsPerBlock := t.geo.BytesPerSector / t.dev.BlockSize()
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}
	count := t.geo.SectorsPerCluster * sectorsPerBlock
	if devErr := t.dev.Write(lba, count, data); devErr != nil {
		return errno.Newf(errno.EIO, "writing cluster %d: %v", c, devErr)
	}
	return nil
}

// BytesPerCluster returns the size, in bytes, of one cluster.
func (g *Geometry) BytesPerCluster() uint {
	return g.BytesPerSector * g.SectorsPerCluster
}
