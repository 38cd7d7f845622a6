package mount

import (
	"encoding/binary"
	"testing"

	"github.com/bolthur/bfs/blockdev"
	"github.com/bolthur/bfs/fat"
	"github.com/bolthur/bfs/lockapi"
	"github.com/stretchr/testify/require"
)

// buildFAT16BootSector mirrors fsapi's own test helper: a minimal, valid
// boot sector for a volume with the given cluster count, sectors-per-cluster,
// and FAT copy count.
func buildFAT16BootSector(totalClusters uint, sectorsPerCluster uint8, numFATs uint8) []byte {
	const bytesPerSector = 512
	reserved := uint16(1)
	rootEntryCount := uint16(512)
	rootDirSectors := (uint32(rootEntryCount)*32 + bytesPerSector - 1) / bytesPerSector

	fatSizeSectors := uint16((totalClusters*2)/bytesPerSector + 1)
	dataSectors := totalClusters * uint(sectorsPerCluster)
	totalSectors := uint32(reserved) + uint32(numFATs)*uint32(fatSizeSectors) + rootDirSectors + uint32(dataSectors)

	sector := make([]byte, 512)
	binary.LittleEndian.PutUint16(sector[11:13], bytesPerSector)
	sector[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(sector[14:16], reserved)
	sector[16] = numFATs
	binary.LittleEndian.PutUint16(sector[17:19], rootEntryCount)
	if totalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(sector[19:21], uint16(totalSectors))
	} else {
		binary.LittleEndian.PutUint32(sector[32:36], totalSectors)
	}
	sector[21] = 0xF8
	binary.LittleEndian.PutUint16(sector[22:24], fatSizeSectors)
	return sector
}

func buildFAT16Image(t *testing.T) blockdev.Device {
	t.Helper()
	sector := buildFAT16BootSector(5000, 1, 2)
	bpb, err := fat.ParseBPB(sector)
	require.Nil(t, err)
	geo, gerr := fat.DeriveGeometry(bpb)
	require.Nil(t, gerr)

	totalSectors := geo.FirstDataSector + geo.DataSectors
	data := make([]byte, totalSectors*geo.BytesPerSector)
	copy(data[:512], sector)

	dev, derr := blockdev.NewMemoryDevice(data, 512)
	require.Nil(t, derr)
	return dev
}

// TestWalkMultiLevelDirectory checks that Walk resolves a mountpoint and then
// descends through more than one path component, not just a root-level
// lookup.
func TestWalkMultiLevelDirectory(t *testing.T) {
	dev := buildFAT16Image(t)
	inst, err := fat.Mount(dev, false)
	require.Nil(t, err)

	root, rerr := inst.OpenRootDirectory()
	require.Nil(t, rerr)
	require.Nil(t, root.Make("a"))

	aEntry, aerr := root.EntryByName("a")
	require.Nil(t, aerr)
	a, aoerr := inst.OpenDirectory(aEntry)
	require.Nil(t, aoerr)
	_, werr := a.AddFile("b.txt")
	require.Nil(t, werr)
	require.Nil(t, a.Close())
	require.Nil(t, root.Close())

	table := New(lockapi.NopLocker{})
	require.Nil(t, table.Add("/mnt/", inst, nil))

	entry, dir, werr2 := table.Walk("/mnt/a/b.txt")
	require.Nil(t, werr2)
	require.Equal(t, "b.txt", entry.Name)
	require.False(t, entry.IsDir)
	require.Nil(t, dir)
}

// TestWalkIntermediateNotDirectoryFails checks that descending through a
// path component that names a file, not a directory, fails cleanly.
func TestWalkIntermediateNotDirectoryFails(t *testing.T) {
	dev := buildFAT16Image(t)
	inst, err := fat.Mount(dev, false)
	require.Nil(t, err)

	root, rerr := inst.OpenRootDirectory()
	require.Nil(t, rerr)
	_, aerr := root.AddFile("a.txt")
	require.Nil(t, aerr)
	require.Nil(t, root.Close())

	table := New(lockapi.NopLocker{})
	require.Nil(t, table.Add("/mnt/", inst, nil))

	_, _, werr := table.Walk("/mnt/a.txt/b.txt")
	require.NotNil(t, werr)
}
