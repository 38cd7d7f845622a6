package ext

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestMountRootDirectory confirms Mount can read back the pre-built root
// directory's "." and ".." entries.
func TestMountRootDirectory(t *testing.T) {
	dev := buildExt2Image(t)
	inst, err := Mount(dev, false)
	require.Nil(t, err)
	require.Equal(t, "ext2", inst.Kind())
	require.False(t, inst.ReadOnly())

	root, rerr := inst.OpenRootDirectory()
	require.Nil(t, rerr)

	dot, derr := root.EntryByName(".")
	require.Nil(t, derr)
	require.Equal(t, uint32(RootInode), dot.Inode)

	dotdot, derr := root.EntryByName("..")
	require.Nil(t, derr)
	require.Equal(t, uint32(RootInode), dotdot.Inode)

	require.Nil(t, root.Close())
	require.Nil(t, inst.Unmount())
}

// TestCreateWriteReadSingleIndirect creates a file, writes
// block_size*13+5 bytes (past the 12 direct blocks, forcing single
// indirection), and reads the exact pattern back.
func TestCreateWriteReadSingleIndirect(t *testing.T) {
	dev := buildExt2Image(t)
	inst, err := Mount(dev, false)
	require.Nil(t, err)

	root, rerr := inst.OpenRootDirectory()
	require.Nil(t, rerr)

	ino, merr := root.MakeFile("big.bin")
	require.Nil(t, merr)

	fh, ferr := inst.OpenFile(ino, true)
	require.Nil(t, ferr)

	size := int(inst.sb.BlockSize())*13 + 5
	pattern := bytes.Repeat([]byte{0x5A}, size)
	n, werr := fh.Write(pattern)
	require.Nil(t, werr)
	require.Equal(t, size, n)
	require.Nil(t, fh.Close())

	// The 14th data block (logical index 13) must have gone through the
	// single-indirect pointer block, not a direct slot.
	reread, rerr2 := inst.readInode(ino)
	require.Nil(t, rerr2)
	require.NotZero(t, reread.Block[12], "single-indirect block should be allocated")
	require.Equal(t, uint64(size), reread.Size())

	fh2, ferr2 := inst.OpenFile(ino, false)
	require.Nil(t, ferr2)
	readBuf := make([]byte, size)
	total := 0
	for total < size {
		n, rerr := fh2.Read(readBuf[total:])
		require.Nil(t, rerr)
		if n == 0 {
			break
		}
		total += n
	}
	require.Equal(t, pattern, readBuf)
	require.Nil(t, fh2.Close())

	require.Nil(t, root.Unlink("big.bin"))
	require.Nil(t, root.Close())
}

// TestMakeDirectoryHasDotAndDotDot covers directory creation under the
// root directory.
func TestMakeDirectoryHasDotAndDotDot(t *testing.T) {
	dev := buildExt2Image(t)
	inst, err := Mount(dev, false)
	require.Nil(t, err)

	root, rerr := inst.OpenRootDirectory()
	require.Nil(t, rerr)

	childIno, merr := root.MakeDirectory("subdir")
	require.Nil(t, merr)

	child, oerr := inst.OpenDirectory(childIno)
	require.Nil(t, oerr)

	dot, derr := child.EntryByName(".")
	require.Nil(t, derr)
	require.Equal(t, childIno, dot.Inode)

	dotdot, derr := child.EntryByName("..")
	require.Nil(t, derr)
	require.Equal(t, uint32(RootInode), dotdot.Inode)

	require.Nil(t, child.Close())
	require.Nil(t, root.Close())
}

// TestReadOnlyMountUnmountIsBitIdentical checks that mounting read-only,
// performing no mutation, and unmounting leaves the underlying device bytes
// exactly as they were before Mount.
func TestReadOnlyMountUnmountIsBitIdentical(t *testing.T) {
	dev := buildExt2Image(t)

	before := make([]byte, dev.TotalBlocks()*uint64(dev.BlockSize()))
	require.Nil(t, dev.Read(0, uint(dev.TotalBlocks()), before))

	inst, err := Mount(dev, true)
	require.Nil(t, err)
	require.Nil(t, inst.Unmount())

	after := make([]byte, dev.TotalBlocks()*uint64(dev.BlockSize()))
	require.Nil(t, dev.Read(0, uint(dev.TotalBlocks()), after))
	require.Equal(t, before, after)
}

// TestMoveRenamesWithinSameDirectory checks that Move with dest == d just
// rewrites the dirent's name in place.
func TestMoveRenamesWithinSameDirectory(t *testing.T) {
	dev := buildExt2Image(t)
	inst, err := Mount(dev, false)
	require.Nil(t, err)

	root, rerr := inst.OpenRootDirectory()
	require.Nil(t, rerr)

	ino, merr := root.MakeFile("old.txt")
	require.Nil(t, merr)

	require.Nil(t, root.Move(root, "old.txt", "new.txt"))

	_, err = root.EntryByName("old.txt")
	require.NotNil(t, err)

	e, eerr := root.EntryByName("new.txt")
	require.Nil(t, eerr)
	require.Equal(t, ino, e.Inode)

	require.Nil(t, root.Close())
}

// TestMoveRelocatesAcrossDirectoriesPreservingInode checks that Move across
// directories keeps the same inode number, and fixes up the
// moved directory's ".." entry and both parents' link counts.
func TestMoveRelocatesAcrossDirectoriesPreservingInode(t *testing.T) {
	dev := buildExt2Image(t)
	inst, err := Mount(dev, false)
	require.Nil(t, err)

	root, rerr := inst.OpenRootDirectory()
	require.Nil(t, rerr)

	destIno, derr := root.MakeDirectory("dest")
	require.Nil(t, derr)
	dest, oerr := inst.OpenDirectory(destIno)
	require.Nil(t, oerr)

	childIno, cerr := root.MakeDirectory("child")
	require.Nil(t, cerr)

	rootLinksBefore, rerr2 := inst.readInode(RootInode)
	require.Nil(t, rerr2)
	destLinksBefore, derr2 := inst.readInode(destIno)
	require.Nil(t, derr2)

	require.Nil(t, root.Move(dest, "child", "moved"))

	_, err = root.EntryByName("child")
	require.NotNil(t, err)

	e, eerr := dest.EntryByName("moved")
	require.Nil(t, eerr)
	require.Equal(t, childIno, e.Inode)

	rootLinksAfter, rerr3 := inst.readInode(RootInode)
	require.Nil(t, rerr3)
	require.Equal(t, rootLinksBefore.LinksCount-1, rootLinksAfter.LinksCount)

	destLinksAfter, derr3 := inst.readInode(destIno)
	require.Nil(t, derr3)
	require.Equal(t, destLinksBefore.LinksCount+1, destLinksAfter.LinksCount)

	child, childErr := inst.OpenDirectory(childIno)
	require.Nil(t, childErr)
	dotdot, ddErr := child.EntryByName("..")
	require.Nil(t, ddErr)
	require.Equal(t, destIno, dotdot.Inode)
	require.Nil(t, child.Close())

	require.Nil(t, dest.Close())
	require.Nil(t, root.Close())
}
