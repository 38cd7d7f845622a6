package fat

import (
	"bytes"
	"testing"

	"github.com/bolthur/bfs/blockdev"
	"github.com/stretchr/testify/require"
)

// buildFAT16Image constructs a tiny, fully zeroed (i.e. empty-but-valid)
// FAT16 image in memory, with a usable root directory and data area.
func buildFAT16Image(t *testing.T) blockdev.Device {
	t.Helper()
	const clusters = 5000 // FAT16 range
	sector := buildBPBBytes(clusters, 1, 2)
	bpb, err := ParseBPB(sector)
	require.Nil(t, err)
	geo, err := DeriveGeometry(bpb)
	require.Nil(t, err)
	require.Equal(t, KindFAT16, geo.Kind)

	totalSectors := geo.FirstDataSector + geo.DataSectors
	data := make([]byte, totalSectors*geo.BytesPerSector)
	copy(data[:512], sector)

	dev, err := blockdev.NewMemoryDevice(data, 512)
	require.Nil(t, err)
	return dev
}

// TestFAT16CreateWriteReadDelete creates a file, writes a pattern, closes,
// reopens and reads it back, deletes it, and confirms its chain is fully
// freed.
func TestFAT16CreateWriteReadDelete(t *testing.T) {
	dev := buildFAT16Image(t)

	inst, err := Mount(dev, false)
	require.Nil(t, err)

	root, err := inst.OpenRootDirectory()
	require.Nil(t, err)

	entry, err := root.AddFile("new.txt")
	require.Nil(t, err)

	fh := OpenFile(inst, root, entry, true)
	pattern := bytes.Repeat([]byte{0xAA}, 8192)
	n, err := fh.Write(pattern)
	require.Nil(t, err)
	require.Equal(t, len(pattern), n)
	require.Nil(t, fh.Close())

	// Reopen via a fresh root handle + lookup, matching a real remount path.
	root2, err := inst.OpenRootDirectory()
	require.Nil(t, err)
	entry2, err := root2.EntryByName("new.txt")
	require.Nil(t, err)
	require.Equal(t, int64(len(pattern)), int64(entry2.Short.FileSize))

	fh2 := OpenFile(inst, root2, entry2, false)
	readBuf := make([]byte, len(pattern))
	total := 0
	for total < len(readBuf) {
		n, rerr := fh2.Read(readBuf[total:])
		require.Nil(t, rerr)
		if n == 0 {
			break
		}
		total += n
	}
	require.Equal(t, pattern, readBuf)
	require.Nil(t, fh2.Close())

	firstCluster := entry2.Short.FirstCluster()

	var chain []ClusterID
	current := firstCluster
	for {
		chain = append(chain, current)
		v, gerr := inst.table.Next(current)
		require.Nil(t, gerr)
		if inst.geo.IsEOF(v) {
			break
		}
		current = ClusterID(v)
	}

	require.Nil(t, root2.Remove("new.txt"))

	for _, c := range chain {
		v, gerr := inst.table.Next(c)
		require.Nil(t, gerr)
		require.Equal(t, uint32(0), v, "cluster %d should be freed", c)
	}
}

func TestMakeDirectoryHasDotAndDotDot(t *testing.T) {
	dev := buildFAT16Image(t)
	inst, err := Mount(dev, false)
	require.Nil(t, err)

	root, err := inst.OpenRootDirectory()
	require.Nil(t, err)

	require.Nil(t, root.Make("verylongdirectoryname"))

	entry, err := root.EntryByName("verylongdirectoryname")
	require.Nil(t, err)

	shortName := string(trimTrailingBytes(entry.Short.Name[:]))
	require.Equal(t, "VERYLO~1", shortName)

	child, oerr := inst.OpenDirectory(entry)
	require.Nil(t, oerr)

	_, derr := child.EntryByName(".")
	require.Nil(t, derr)
	_, derr = child.EntryByName("..")
	require.Nil(t, derr)

	require.Nil(t, child.Close())
}

// TestHardLinkSharesChainUntilLastUnlink writes a file, links a second name
// to its first cluster, removes the first name, and checks the cluster
// chain survives because the second name still references it; only
// removing the second name actually frees the chain.
func TestHardLinkSharesChainUntilLastUnlink(t *testing.T) {
	dev := buildFAT16Image(t)
	inst, err := Mount(dev, false)
	require.Nil(t, err)

	root, err := inst.OpenRootDirectory()
	require.Nil(t, err)

	entry, err := root.AddFile("a.txt")
	require.Nil(t, err)

	fh := OpenFile(inst, root, entry, true)
	_, werr := fh.Write([]byte("linked"))
	require.Nil(t, werr)
	require.Nil(t, fh.Close())

	entry, err = root.EntryByName("a.txt")
	require.Nil(t, err)
	first := entry.Short.FirstCluster()

	require.Nil(t, root.Link("b.txt", entry))

	require.Nil(t, root.Remove("a.txt"))
	v, gerr := inst.table.Next(first)
	require.Nil(t, gerr)
	require.NotEqual(t, uint32(0), v, "chain must survive while b.txt still references it")

	require.Nil(t, root.Remove("b.txt"))
	v, gerr = inst.table.Next(first)
	require.Nil(t, gerr)
	require.Equal(t, uint32(0), v, "chain must be freed once the last link is removed")
}

// TestReadOnlyMountUnmountIsBitIdentical checks that mounting read-only,
// performing no mutation, and unmounting leaves the underlying device bytes
// exactly as they were before Mount.
func TestReadOnlyMountUnmountIsBitIdentical(t *testing.T) {
	dev := buildFAT16Image(t)

	before := make([]byte, dev.TotalBlocks()*uint64(dev.BlockSize()))
	require.Nil(t, dev.Read(0, uint(dev.TotalBlocks()), before))

	inst, err := Mount(dev, true)
	require.Nil(t, err)
	require.Nil(t, inst.Unmount())

	after := make([]byte, dev.TotalBlocks()*uint64(dev.BlockSize()))
	require.Nil(t, dev.Read(0, uint(dev.TotalBlocks()), after))
	require.Equal(t, before, after)
}

// TestMoveToRelocatesAcrossDirectories checks that MoveTo writes a fresh
// entry in the destination directory, removes the source slot, and leaves
// the file's content reachable at its new name.
func TestMoveToRelocatesAcrossDirectories(t *testing.T) {
	dev := buildFAT16Image(t)
	inst, err := Mount(dev, false)
	require.Nil(t, err)

	root, rerr := inst.OpenRootDirectory()
	require.Nil(t, rerr)
	require.Nil(t, root.Make("dest"))

	destEntry, derr := root.EntryByName("dest")
	require.Nil(t, derr)
	dest, oerr := inst.OpenDirectory(destEntry)
	require.Nil(t, oerr)

	entry, aerr := root.AddFile("a.txt")
	require.Nil(t, aerr)
	fh := OpenFile(inst, root, entry, true)
	_, werr := fh.Write([]byte("payload"))
	require.Nil(t, werr)
	require.Nil(t, fh.Close())

	require.Nil(t, root.MoveTo(dest, "a.txt", "b.txt"))

	_, err = root.EntryByName("a.txt")
	require.NotNil(t, err)

	moved, merr := dest.EntryByName("b.txt")
	require.Nil(t, merr)

	fh2 := OpenFile(inst, dest, moved, false)
	buf := make([]byte, 7)
	n, rerr2 := fh2.Read(buf)
	require.Nil(t, rerr2)
	require.Equal(t, 7, n)
	require.Equal(t, "payload", string(buf))
	require.Nil(t, fh2.Close())
	require.Nil(t, dest.Close())
}
