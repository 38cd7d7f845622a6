package fat

import (
	"github.com/bolthur/bfs/blockdev"
	"github.com/bolthur/bfs/common"
	"github.com/bolthur/bfs/errno"
	"go.uber.org/zap"
)

// Instance is a mounted FAT12/16/32 filesystem; it implements
// mount.Filesystem.
type Instance struct {
	dev      blockdev.Device
	geo      Geometry
	table    *Table
	readOnly bool
	openCnt  int
}

// Mount reads and validates the boot sector from dev, classifies the
// volume, reconfigures dev's logical block size to bytesPerSector, and
// returns a ready Instance.
func Mount(dev blockdev.Device, readOnly bool) (*Instance, *errno.Error) {
	sector := make([]byte, dev.BlockSize())
	if err := dev.Read(0, 1, sector); err != nil {
		return nil, errno.Newf(errno.EIO, "reading boot sector: %v", err)
	}
	if len(sector) < 90 {
		// Boot sector needs FAT32-extension-sized space; read more if the
		// device's native block size is smaller than that.
		bigger := make([]byte, 512)
		if dev.BlockSize() < 512 {
			count := uint(512 / dev.BlockSize())
			if err := dev.Read(0, count, bigger); err != nil {
				return nil, errno.Newf(errno.EIO, "reading boot sector: %v", err)
			}
			sector = bigger
		}
	}

	bpb, perr := ParseBPB(sector)
	if perr != nil {
		return nil, perr
	}
	geo, derr := DeriveGeometry(bpb)
	if derr != nil {
		common.Log().Warn("FAT mount rejected", zap.Error(derr))
		return nil, derr
	}

	if err := dev.Resize(uint(geo.BytesPerSector)); err != nil {
		return nil, errno.Newf(errno.EIO, "resizing device to %d-byte blocks: %v", geo.BytesPerSector, err)
	}

	inst := &Instance{
		dev:      dev,
		geo:      geo,
		readOnly: readOnly,
	}
	inst.table = NewTable(dev, geo)

	if geo.Kind == KindFAT32 && geo.RawBPB.FSInfoSector != 0 {
		fsInfoBuf := make([]byte, geo.BytesPerSector)
		if err := dev.Read(blockdev.LBA(geo.RawBPB.FSInfoSector), 1, fsInfoBuf); err == nil {
			if fi, ferr := ParseFSInfo(fsInfoBuf); ferr == nil && fi.NextFree != 0xFFFFFFFF {
				inst.table.SetAllocationHint(ClusterID(fi.NextFree))
			}
		}
	}

	common.Log().Info("FAT mounted",
		zap.String("kind", geo.Kind.String()),
		zap.Uint("totalClusters", geo.TotalClusters),
		zap.Bool("readOnly", readOnly))
	return inst, nil
}

func (i *Instance) Kind() string   { return i.geo.Kind.String() }
func (i *Instance) ReadOnly() bool { return i.readOnly }
func (i *Instance) Busy() bool     { return i.openCnt > 0 }

// Geometry exposes the derived FAT geometry, mostly for tests and cmd/bfsctl
// diagnostics.
func (i *Instance) Geometry() Geometry { return i.geo }

// Unmount refuses if any handle is still open.
func (i *Instance) Unmount() *errno.Error {
	if i.Busy() {
		return errno.New(errno.EFAULT)
	}
	return nil
}

// rootRegion describes where the root directory's raw bytes live: either
// the fixed FAT12/16 region (not cluster-addressable) or a FAT32 cluster
// chain starting at RootCluster.
type rootRegion struct {
	fixedLBA   blockdev.LBA
	fixedCount uint
	chainHead  ClusterID
	isFixed    bool
}

func (i *Instance) rootRegion() rootRegion {
	if i.geo.Kind == KindFAT32 {
		return rootRegion{chainHead: ClusterID(i.geo.RootCluster)}
	}

	sectorsPerBlock := i.geo.BytesPerSector / i.dev.BlockSize()
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}
	firstRootSector := i.geo.FirstFATSector + (i.geo.NumFATs * i.geo.FATSize)
	return rootRegion{
		isFixed:    true,
		fixedLBA:   blockdev.LBA(uint64(firstRootSector) * uint64(sectorsPerBlock)),
		fixedCount: i.geo.RootDirSectors * sectorsPerBlock,
	}
}

// readDirRegion reads the raw bytes of a directory, whether it's the fixed
// FAT12/16 root region or a cluster chain (FAT32 root, or any
// subdirectory).
func (i *Instance) readDirRegion(chainHead ClusterID, fixed *rootRegion) ([]byte, *errno.Error) {
	if fixed != nil && fixed.isFixed {
		buf := make([]byte, fixed.fixedCount*i.dev.BlockSize())
		if err := i.dev.Read(fixed.fixedLBA, fixed.fixedCount, buf); err != nil {
			return nil, errno.Newf(errno.EIO, "reading root directory: %v", err)
		}
		return buf, nil
	}

	var out []byte
	current := chainHead
	for {
		data, err := i.table.ReadCluster(current)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)

		v, err := i.table.Next(current)
		if err != nil {
			return nil, err
		}
		if i.geo.IsEOF(v) {
			break
		}
		current = ClusterID(v)
	}
	return out, nil
}

// writeDirRegion mirrors readDirRegion, writing buf back to the same
// region it was read from. buf's length must match exactly.
func (i *Instance) writeDirRegion(chainHead ClusterID, fixed *rootRegion, buf []byte) *errno.Error {
	if fixed != nil && fixed.isFixed {
		if err := i.dev.Write(fixed.fixedLBA, fixed.fixedCount, buf); err != nil {
			return errno.Newf(errno.EIO, "writing root directory: %v", err)
		}
		return nil
	}

	bpc := i.geo.BytesPerCluster()
	current := chainHead
	offset := 0
	for offset < len(buf) {
		end := offset + int(bpc)
		if end > len(buf) {
			end = len(buf)
		}
		chunk := buf[offset:end]
		if len(chunk) < int(bpc) {
			padded := make([]byte, bpc)
			copy(padded, chunk)
			chunk = padded
		}
		if err := i.table.WriteCluster(current, chunk); err != nil {
			return err
		}
		offset = end
		if offset >= len(buf) {
			break
		}
		v, err := i.table.Next(current)
		if err != nil {
			return err
		}
		if i.geo.IsEOF(v) {
			return errno.New(errno.EFAULT)
		}
		current = ClusterID(v)
	}
	return nil
}

// OpenRootDirectory returns a DirHandle over the volume's root directory.
func (i *Instance) OpenRootDirectory() (*DirHandle, *errno.Error) {
	rr := i.rootRegion()
	var chainHead ClusterID
	if !rr.isFixed {
		chainHead = rr.chainHead
	}
	buf, err := i.readDirRegion(chainHead, &rr)
	if err != nil {
		return nil, err
	}
	entries, derr := DecodeEntries(buf)
	if derr != nil {
		return nil, derr
	}
	i.openCnt++
	return &DirHandle{
		inst:      i,
		region:    rr,
		chainHead: chainHead,
		entries:   entries,
	}, nil
}

// OpenDirectory opens the subdirectory described by entry, which must carry
// AttrDirectory. Unlike the root, a subdirectory is always cluster-chain
// addressed, never a fixed region.
func (i *Instance) OpenDirectory(entry Entry) (*DirHandle, *errno.Error) {
	if entry.Short.Attr&AttrDirectory == 0 {
		return nil, errno.Newf(errno.EINVAL, "%q is not a directory", entry.Name)
	}

	chainHead := entry.Short.FirstCluster()
	rr := rootRegion{chainHead: chainHead}
	buf, err := i.readDirRegion(chainHead, &rr)
	if err != nil {
		return nil, err
	}
	entries, derr := DecodeEntries(buf)
	if derr != nil {
		return nil, derr
	}
	i.openCnt++
	return &DirHandle{
		inst:      i,
		region:    rr,
		chainHead: chainHead,
		entries:   entries,
	}, nil
}
