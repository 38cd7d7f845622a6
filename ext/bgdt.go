package ext

import (
	"encoding/binary"

	"github.com/bolthur/bfs/blockdev"
	"github.com/bolthur/bfs/errno"
)

// GroupDescriptorSize is the on-disk size of one block group descriptor.
const GroupDescriptorSize = 32

// GroupDescriptor mirrors one 32-byte entry of the block group descriptor
// table.
type GroupDescriptor struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
}

func decodeGroupDescriptor(buf []byte) GroupDescriptor {
	return GroupDescriptor{
		BlockBitmap:     binary.LittleEndian.Uint32(buf[0:4]),
		InodeBitmap:     binary.LittleEndian.Uint32(buf[4:8]),
		InodeTable:      binary.LittleEndian.Uint32(buf[8:12]),
		FreeBlocksCount: binary.LittleEndian.Uint16(buf[12:14]),
		FreeInodesCount: binary.LittleEndian.Uint16(buf[14:16]),
		UsedDirsCount:   binary.LittleEndian.Uint16(buf[16:18]),
	}
}

func encodeGroupDescriptor(gd GroupDescriptor) []byte {
	buf := make([]byte, GroupDescriptorSize)
	binary.LittleEndian.PutUint32(buf[0:4], gd.BlockBitmap)
	binary.LittleEndian.PutUint32(buf[4:8], gd.InodeBitmap)
	binary.LittleEndian.PutUint32(buf[8:12], gd.InodeTable)
	binary.LittleEndian.PutUint16(buf[12:14], gd.FreeBlocksCount)
	binary.LittleEndian.PutUint16(buf[14:16], gd.FreeInodesCount)
	binary.LittleEndian.PutUint16(buf[16:18], gd.UsedDirsCount)
	return buf
}

// bgdtBlock is the block immediately following the superblock's block (block
// 1 for block_size>1024, block 2 for block_size==1024, since the superblock
// at byte 1024 then fills block 1 entirely).
func bgdtBlock(sb *Superblock) uint32 {
	if sb.BlockSize() == 1024 {
		return 2
	}
	return 1
}

// readGroupDescriptorTable reads all BlockGroupCount() descriptors starting
// at bgdtBlock.
func readGroupDescriptorTable(dev blockdev.Device, sb *Superblock) ([]GroupDescriptor, *errno.Error) {
	count := sb.BlockGroupCount()
	blockSize := sb.BlockSize()
	sectorsPerBlock := blockSize / uint32(dev.BlockSize())
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}

	bytesNeeded := count * GroupDescriptorSize
	blocksNeeded := (bytesNeeded + blockSize - 1) / blockSize

	startLBA := blockdev.LBA(uint64(bgdtBlock(sb)) * uint64(sectorsPerBlock))
	buf := make([]byte, blocksNeeded*blockSize)
	if err := dev.Read(startLBA, uint(blocksNeeded*sectorsPerBlock), buf); err != nil {
		return nil, errno.Newf(errno.EIO, "reading block group descriptor table: %v", err)
	}

	out := make([]GroupDescriptor, count)
	for i := uint32(0); i < count; i++ {
		off := i * GroupDescriptorSize
		out[i] = decodeGroupDescriptor(buf[off : off+GroupDescriptorSize])
	}
	return out, nil
}

// writeGroupDescriptorTable persists the full descriptor table back to disk.
func writeGroupDescriptorTable(dev blockdev.Device, sb *Superblock, groups []GroupDescriptor) *errno.Error {
	blockSize := sb.BlockSize()
	sectorsPerBlock := blockSize / uint32(dev.BlockSize())
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}

	bytesNeeded := uint32(len(groups)) * GroupDescriptorSize
	blocksNeeded := (bytesNeeded + blockSize - 1) / blockSize

	buf := make([]byte, blocksNeeded*blockSize)
	for i, gd := range groups {
		off := uint32(i) * GroupDescriptorSize
		copy(buf[off:off+GroupDescriptorSize], encodeGroupDescriptor(gd))
	}

	startLBA := blockdev.LBA(uint64(bgdtBlock(sb)) * uint64(sectorsPerBlock))
	if err := dev.Write(startLBA, uint(blocksNeeded*sectorsPerBlock), buf); err != nil {
		return errno.Newf(errno.EIO, "writing block group descriptor table: %v", err)
	}
	return nil
}
