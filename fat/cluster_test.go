package fat

import (
	"encoding/binary"
	"testing"

	"github.com/bolthur/bfs/blockdev"
	"github.com/stretchr/testify/require"
)

// buildBPBBytes constructs a minimal, valid 512-byte boot sector whose
// total cluster count is exactly dataSectors/sectorsPerCluster, so tests can
// target the classification thresholds precisely.
func buildBPBBytes(totalClusters uint, sectorsPerCluster uint8, numFATs uint8) []byte {
	const bytesPerSector = 512
	reserved := uint16(1)
	rootEntryCount := uint16(512)
	rootDirSectors := (uint32(rootEntryCount)*32 + bytesPerSector - 1) / bytesPerSector

	// Pick a FAT size generous enough for totalClusters entries at 16 bits
	// each (safe upper bound that also works for the 12-bit case), or at 32
	// bits each once the count classifies as FAT32.
	entryBytes := uint(2)
	if totalClusters >= 65525 {
		entryBytes = 4
	}
	fatSizeSectors := uint16((totalClusters*entryBytes)/bytesPerSector + 1)

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
	if totalClusters >= 65525 {
		// FAT32 layout: fat_size_16 stays zero, the size and root cluster
		// live in the FAT32 extension.
		binary.LittleEndian.PutUint32(sector[36:40], uint32(fatSizeSectors))
		binary.LittleEndian.PutUint32(sector[44:48], 2)
	} else {
		binary.LittleEndian.PutUint16(sector[22:24], fatSizeSectors)
	}
	return sector
}

func TestClassificationThresholds(t *testing.T) {
	cases := []struct {
		clusters uint
		want     Kind
	}{
		{4084, KindFAT12},
		{4085, KindFAT16},
		{65524, KindFAT16},
		{65525, KindFAT32},
	}

	for _, tc := range cases {
		sector := buildBPBBytes(tc.clusters, 1, 2)
		bpb, perr := ParseBPB(sector)
		require.Nil(t, perr, "clusters=%d", tc.clusters)

		geo, derr := DeriveGeometry(bpb)
		require.Nil(t, derr, "clusters=%d", tc.clusters)
		require.Equal(t, tc.want, geo.Kind, "clusters=%d", tc.clusters)
	}
}

func newTestTable(t *testing.T, kind Kind) (*Table, Geometry) {
	var clusters uint
	switch kind {
	case KindFAT12:
		clusters = 10
	case KindFAT16:
		clusters = 5000
	case KindFAT32:
		clusters = 65525
	}

	sector := buildBPBBytes(clusters, 1, 2)
	bpb, err := ParseBPB(sector)
	require.Nil(t, err)
	geo, err := DeriveGeometry(bpb)
	require.Nil(t, err)
	require.Equal(t, kind, geo.Kind)

	totalSectors := geo.FirstDataSector + geo.DataSectors
	data := make([]byte, totalSectors*geo.BytesPerSector)
	dev, derr := blockdev.NewMemoryDevice(data, uint(geo.BytesPerSector))
	require.Nil(t, derr)

	return NewTable(dev, geo), geo
}

// TestClusterRoundTrip checks that for every valid cluster, Set then Next
// (via Get) reproduces the value read back from the first FAT copy.
func TestClusterRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindFAT12, KindFAT16, KindFAT32} {
		table, geo := newTestTable(t, kind)

		for c := ClusterID(2); uint(c) < geo.TotalClusters+2; c++ {
			value := uint32(c) + 5
			if geo.IsEOF(value) {
				value = 3 // keep it a plain mid-chain value, not EOF-shaped
			}

			require.Nil(t, table.Set(c, value), "kind=%v cluster=%d", kind, c)
			got, err := table.Next(c)
			require.Nil(t, err)
			require.Equal(t, value, got, "kind=%v cluster=%d", kind, c)
		}
	}
}

func TestAllocateAndFreeChain(t *testing.T) {
	table, geo := newTestTable(t, KindFAT16)
	_ = geo

	head, err := table.AllocateChain(3)
	require.Nil(t, err)

	var chain []ClusterID
	current := head
	for {
		chain = append(chain, current)
		v, gerr := table.Next(current)
		require.Nil(t, gerr)
		if table.geo.IsEOF(v) {
			break
		}
		current = ClusterID(v)
	}
	require.Equal(t, 3, len(chain))

	require.Nil(t, table.FreeChain(head))

	for _, c := range chain {
		v, gerr := table.Next(c)
		require.Nil(t, gerr)
		require.Equal(t, uint32(0), v)
	}
}

// TestFSInfoRoundTrip checks that encoding and decoding an FSInfo sector
// reproduces the free-count and next-free fields, and that a sector missing
// the fixed signatures is rejected.
func TestFSInfoRoundTrip(t *testing.T) {
	fi := FSInfo{FreeCount: 1234, NextFree: 5678}
	sector := EncodeFSInfo(fi)

	got, err := ParseFSInfo(sector)
	require.Nil(t, err)
	require.Equal(t, fi, got)

	corrupt := make([]byte, 512)
	copy(corrupt, sector)
	corrupt[0] = 0x00
	_, err = ParseFSInfo(corrupt)
	require.NotNil(t, err)
}

// TestAllocationHintResumesScan checks that GetFree honors a hint set via
// SetAllocationHint instead of always scanning from cluster 2.
func TestAllocationHintResumesScan(t *testing.T) {
	sector := buildBPBBytes(100, 1, 1)
	bpb, err := ParseBPB(sector)
	require.Nil(t, err)
	geo, err := DeriveGeometry(bpb)
	require.Nil(t, err)

	totalSectors := geo.FirstDataSector + geo.DataSectors
	data := make([]byte, totalSectors*geo.BytesPerSector)
	copy(data[:512], sector)
	dev, err := blockdev.NewMemoryDevice(data, 512)
	require.Nil(t, err)

	table := NewTable(dev, geo)
	table.SetAllocationHint(ClusterID(50))

	c, gerr := table.GetFree()
	require.Nil(t, gerr)
	require.Equal(t, ClusterID(50), c, "GetFree should resume from the hint")
}
