package ext

import (
	"testing"

	"github.com/bolthur/bfs/blockdev"
	"github.com/stretchr/testify/require"
)

// buildExt2Image hand-assembles a minimal, valid one-block-group ext2
// volume: block_size 1024, 300 blocks, 128 inodes, with the root directory
// (inode 2) already populated with "." and "..".
//
// Physical block layout: 0 unused, 1 superblock, 2 block group descriptor
// table, 3 block bitmap, 4 inode bitmap, 5-20 inode table (128 inodes *
// 128 bytes / 1024-byte blocks), 21 root directory's sole data block,
// 22-299 free data blocks.
func buildExt2Image(t *testing.T) blockdev.Device {
	t.Helper()

	const (
		blockSize      = 1024
		totalBlocks    = 300
		inodesPerGroup = 128
		inodeSize      = 128
	)

	sb := Superblock{
		InodesCount:     inodesPerGroup,
		BlocksCount:     totalBlocks,
		FreeBlocksCount: totalBlocks - 20 - 1,
		FreeInodesCount: inodesPerGroup - 2,
		FirstDataBlock:  1,
		LogBlockSize:    0,
		BlocksPerGroup:  totalBlocks,
		InodesPerGroup:  inodesPerGroup,
		Magic:           SuperblockMagic,
		State:           1,
		RevLevel:        1,
		FirstIno:        11,
		InodeSize:       inodeSize,
	}

	data := make([]byte, totalBlocks*blockSize)
	copy(data[1024:2048], EncodeSuperblock(&sb))

	gd := GroupDescriptor{
		BlockBitmap:     3,
		InodeBitmap:     4,
		InodeTable:      5,
		FreeBlocksCount: uint16(sb.FreeBlocksCount),
		FreeInodesCount: uint16(sb.FreeInodesCount),
		UsedDirsCount:   1,
	}
	copy(data[2*blockSize:2*blockSize+GroupDescriptorSize], encodeGroupDescriptor(gd))

	blockBitmap := make([]byte, blockSize)
	ba := LoadAllocator(blockBitmap, totalBlocks)
	for i := uint(0); i < 21; i++ { // blocks 1..21 (meta + root dir block) used
		ba.bits.Set(int(i), true)
	}
	copy(data[3*blockSize:4*blockSize], ba.Bytes())

	inodeBitmap := make([]byte, blockSize)
	ia := LoadAllocator(inodeBitmap, inodesPerGroup)
	ia.bits.Set(0, true) // inode 1, reserved
	ia.bits.Set(1, true) // inode 2, root
	copy(data[4*blockSize:5*blockSize], ia.Bytes())

	rootInode := Inode{Mode: ModeDir | 0755, LinksCount: 2, SizeLow: blockSize}
	rootInode.Block[0] = 21
	inodeTableOff := 5 * blockSize
	copy(data[inodeTableOff+1*inodeSize:inodeTableOff+2*inodeSize], encodeInode(rootInode, inodeSize))

	rootDirBlock, derr := EncodeDirents([]Dirent{
		{Inode: RootInode, FileType: FileTypeDir, Name: "."},
		{Inode: RootInode, FileType: FileTypeDir, Name: ".."},
	}, blockSize)
	require.Nil(t, derr)
	copy(data[21*blockSize:22*blockSize], rootDirBlock)

	dev, err := blockdev.NewMemoryDevice(data, 512)
	require.Nil(t, err)
	return dev
}
