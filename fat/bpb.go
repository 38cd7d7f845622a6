// Package fat implements the FAT12/16/32 engine: BIOS Parameter Block
// parsing and type classification, cluster-chain allocation and traversal,
// the 8.3 + VFAT long-name directory codec, and the file/directory API that
// sits on top of them.
package fat

import (
	"encoding/binary"

	"github.com/bolthur/bfs/errno"
)

// Kind identifies which of the three FAT widths a volume uses.
type Kind int

const (
	KindFAT12 Kind = iota
	KindFAT16
	KindFAT32
)

func (k Kind) String() string {
	switch k {
	case KindFAT12:
		return "FAT12"
	case KindFAT16:
		return "FAT16"
	case KindFAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// BPB is the raw, on-disk BIOS Parameter Block, decoded from sector 0.
// Field names and widths follow the Microsoft FAT specification.
type BPB struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	MediaType         uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32

	// FAT32-only fields; zero for FAT12/16.
	FATSize32      uint32
	ExtFlags       uint16
	FSVersion      uint16
	RootCluster    uint32
	FSInfoSector   uint16
	BackupBootSect uint16
}

// Geometry holds every field derived from a BPB.
type Geometry struct {
	Kind              Kind
	BytesPerSector    uint
	SectorsPerCluster uint
	FirstFATSector    uint
	FirstDataSector   uint
	FATSize           uint
	RootDirSectors    uint
	TotalSectors      uint
	DataSectors       uint
	TotalClusters     uint
	NumFATs           uint
	RootEntryCount    uint
	RootCluster       uint32
	RawBPB            BPB
}

// ParseBPB decodes a 512-byte (or larger) sector-0 buffer into a BPB. It does
// not validate the values; call DeriveGeometry for that.
func ParseBPB(sector []byte) (BPB, *errno.Error) {
	if len(sector) < 90 {
		return BPB{}, errno.Newf(errno.EINVAL, "boot sector too short: %d bytes", len(sector))
	}

	b := BPB{
		BytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		SectorsPerCluster: sector[13],
		ReservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		NumFATs:           sector[16],
		RootEntryCount:    binary.LittleEndian.Uint16(sector[17:19]),
		TotalSectors16:    binary.LittleEndian.Uint16(sector[19:21]),
		MediaType:         sector[21],
		FATSize16:         binary.LittleEndian.Uint16(sector[22:24]),
		SectorsPerTrack:   binary.LittleEndian.Uint16(sector[24:26]),
		NumHeads:          binary.LittleEndian.Uint16(sector[26:28]),
		HiddenSectors:     binary.LittleEndian.Uint32(sector[28:32]),
		TotalSectors32:    binary.LittleEndian.Uint32(sector[32:36]),
	}

	if b.FATSize16 == 0 {
		// This is (at least) a FAT32-shaped BPB; decode the FAT32 extension.
		if len(sector) < 90 {
			return BPB{}, errno.New(errno.EINVAL)
		}
		b.FATSize32 = binary.LittleEndian.Uint32(sector[36:40])
		b.ExtFlags = binary.LittleEndian.Uint16(sector[40:42])
		b.FSVersion = binary.LittleEndian.Uint16(sector[42:44])
		b.RootCluster = binary.LittleEndian.Uint32(sector[44:48])
		b.FSInfoSector = binary.LittleEndian.Uint16(sector[48:50])
		b.BackupBootSect = binary.LittleEndian.Uint16(sector[50:52])
	}

	return b, nil
}

func isPowerOfTwo(n uint) bool {
	return n != 0 && (n&(n-1)) == 0
}

// ValidSectorSizes are the only byte-per-sector values the engine accepts;
// bytesPerSector == 0 signals exFAT, which this engine does not support.
var validSectorSizes = map[uint16]bool{512: true, 1024: true, 2048: true, 4096: true}

// DeriveGeometry validates the BPB and computes the full derived-field set,
// classifying the volume as FAT12/16/32 by total cluster count.
func DeriveGeometry(b BPB) (Geometry, *errno.Error) {
	if b.BytesPerSector == 0 {
		return Geometry{}, errno.Newf(errno.ENOTSUP, "exFAT (bytes_per_sector == 0) is not supported")
	}
	if !validSectorSizes[b.BytesPerSector] {
		return Geometry{}, errno.Newf(errno.EINVAL, "invalid bytes_per_sector %d", b.BytesPerSector)
	}
	if !isPowerOfTwo(uint(b.SectorsPerCluster)) {
		return Geometry{}, errno.Newf(errno.EINVAL, "sectors_per_cluster %d is not a power of two", b.SectorsPerCluster)
	}
	if b.NumFATs < 1 {
		return Geometry{}, errno.Newf(errno.EINVAL, "num_fats must be >= 1, got %d", b.NumFATs)
	}

	fatSize := uint(b.FATSize16)
	if fatSize == 0 {
		fatSize = uint(b.FATSize32)
	}
	if fatSize == 0 {
		return Geometry{}, errno.Newf(errno.EINVAL, "fat_size is zero")
	}

	rootDirSectors := ((uint(b.RootEntryCount) * 32) + (uint(b.BytesPerSector) - 1)) / uint(b.BytesPerSector)

	totalSectors := uint(b.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint(b.TotalSectors32)
	}
	if totalSectors == 0 {
		return Geometry{}, errno.Newf(errno.EINVAL, "total_sectors is zero")
	}

	firstFATSector := uint(b.ReservedSectors)
	firstDataSector := firstFATSector + (uint(b.NumFATs) * fatSize) + rootDirSectors
	dataSectors := totalSectors - firstDataSector
	totalClusters := dataSectors / uint(b.SectorsPerCluster)

	var kind Kind
	switch {
	case totalClusters < 4085:
		kind = KindFAT12
	case totalClusters < 65525:
		kind = KindFAT16
	default:
		kind = KindFAT32
	}

	if kind == KindFAT32 && b.RootCluster == 0 {
		return Geometry{}, errno.Newf(errno.EINVAL, "FAT32 volume missing root_cluster")
	}

	return Geometry{
		Kind:              kind,
		BytesPerSector:    uint(b.BytesPerSector),
		SectorsPerCluster: uint(b.SectorsPerCluster),
		FirstFATSector:    firstFATSector,
		FirstDataSector:   firstDataSector,
		FATSize:           fatSize,
		RootDirSectors:    rootDirSectors,
		TotalSectors:      totalSectors,
		DataSectors:       dataSectors,
		TotalClusters:     totalClusters,
		NumFATs:           uint(b.NumFATs),
		RootEntryCount:    uint(b.RootEntryCount),
		RootCluster:       b.RootCluster,
		RawBPB:            b,
	}, nil
}

// fsInfoLeadSig, fsInfoStrucSig, fsInfoTrailSig are the three fixed
// signature values that bracket a FAT32 FSInfo sector.
const (
	fsInfoLeadSig  = 0x41615252
	fsInfoStrucSig = 0x61417272
	fsInfoTrailSig = 0xAA550000
)

// FSInfo holds the FAT32 allocation hints: the last known free-cluster
// count and the cluster to resume scanning from. Both are advisory -- a
// value of 0xFFFFFFFF means "unknown", and any hint must still be sanity
// checked against the volume's actual cluster count before use.
type FSInfo struct {
	FreeCount uint32
	NextFree  uint32
}

// ParseFSInfo decodes a 512-byte FAT32 FSInfo sector. It returns EINVAL if
// any of the three fixed signatures don't match, since a corrupt FSInfo
// sector must never be trusted as an allocation hint.
func ParseFSInfo(sector []byte) (FSInfo, *errno.Error) {
	if len(sector) < 512 {
		return FSInfo{}, errno.Newf(errno.EINVAL, "FSInfo sector too short: %d bytes", len(sector))
	}
	if binary.LittleEndian.Uint32(sector[0:4]) != fsInfoLeadSig ||
		binary.LittleEndian.Uint32(sector[484:488]) != fsInfoStrucSig ||
		binary.LittleEndian.Uint32(sector[508:512]) != fsInfoTrailSig {
		return FSInfo{}, errno.New(errno.EINVAL)
	}
	return FSInfo{
		FreeCount: binary.LittleEndian.Uint32(sector[488:492]),
		NextFree:  binary.LittleEndian.Uint32(sector[492:496]),
	}, nil
}

// EncodeFSInfo serializes fi back into a 512-byte FSInfo sector, preserving
// the fixed reserved regions as zero.
func EncodeFSInfo(fi FSInfo) []byte {
	sector := make([]byte, 512)
	binary.LittleEndian.PutUint32(sector[0:4], fsInfoLeadSig)
	binary.LittleEndian.PutUint32(sector[484:488], fsInfoStrucSig)
	binary.LittleEndian.PutUint32(sector[488:492], fi.FreeCount)
	binary.LittleEndian.PutUint32(sector[492:496], fi.NextFree)
	binary.LittleEndian.PutUint32(sector[508:512], fsInfoTrailSig)
	return sector
}
