// Package blockdev defines the block device façade that every bfs engine
// mounts on top of, and supplies one reference implementation over an
// io.ReadWriteSeeker for hosted use (image testing, cmd/bfsctl).
//
// The façade is intentionally tiny: read, write, resize. Everything above it
// -- FAT cluster streams, ext block groups, directory codecs -- is built
// purely in terms of these three operations, so a bare-metal host can supply
// its own Device backed by a disk controller driver without touching the
// engines at all.
package blockdev

import (
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// LBA is a logical block address, counted from the start of the device in
// units of the device's current BlockSize.
type LBA uint64

// Device is the external block device contract every engine mounts against.
// Implementations are free to buffer internally, but must never hand out
// a mutable alias to that internal buffer -- Read/Write always copy into or
// out of the caller's buffer.
type Device interface {
	// Read fills buf with `count` logical blocks starting at lba. len(buf)
	// must equal count*BlockSize().
	Read(lba LBA, count uint, buf []byte) error
	// Write stores `count` logical blocks starting at lba from buf. len(buf)
	// must equal count*BlockSize().
	Write(lba LBA, count uint, buf []byte) error
	// Resize reconfigures the device to present blockSize-sized logical
	// blocks. Called once, after the superblock has been read and the real
	// on-disk block size is known.
	Resize(blockSize uint) error
	// BlockSize returns the device's current logical block size, in bytes.
	BlockSize() uint
	// TotalBlocks returns the number of blockSize-sized blocks available.
	TotalBlocks() uint64
}

// streamDevice is the one reference Device implementation this module
// supplies: it wraps any io.ReadWriteSeeker and keeps exactly one block
// buffered at a time, in bufOne.
type streamDevice struct {
	stream    io.ReadWriteSeeker
	blockSize uint
	total     uint64
	bufOne    []byte
}

// NewStreamDevice wraps stream as a Device with the given fixed block size.
// totalBlocks is computed from the stream's current length.
func NewStreamDevice(stream io.ReadWriteSeeker, blockSize uint) (Device, error) {
	if blockSize == 0 {
		return nil, fmt.Errorf("blockdev: block size must be nonzero")
	}
	end, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("blockdev: measuring stream length: %w", err)
	}
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("blockdev: rewinding stream: %w", err)
	}
	return &streamDevice{
		stream:    stream,
		blockSize: blockSize,
		total:     uint64(end) / uint64(blockSize),
		bufOne:    make([]byte, blockSize),
	}, nil
}

// NewMemoryDevice builds a Device from an in-memory byte slice, matching the
// teacher's testing.LoadDiskImage helper for pre-decompressed fixture images.
func NewMemoryDevice(data []byte, blockSize uint) (Device, error) {
	return NewStreamDevice(bytesextra.NewReadWriteSeeker(data), blockSize)
}

func (d *streamDevice) BlockSize() uint      { return d.blockSize }
func (d *streamDevice) TotalBlocks() uint64  { return d.total }

func (d *streamDevice) checkBounds(lba LBA, count uint, bufLen int) error {
	if count == 0 {
		return fmt.Errorf("blockdev: count must be nonzero")
	}
	if uint(bufLen) != count*d.blockSize {
		return fmt.Errorf(
			"blockdev: buffer is %d bytes, expected %d (count=%d, blockSize=%d)",
			bufLen, count*d.blockSize, count, d.blockSize)
	}
	if uint64(lba)+uint64(count) > d.total {
		return fmt.Errorf(
			"blockdev: read/write of %d blocks at LBA %d exceeds device size %d",
			count, lba, d.total)
	}
	return nil
}

func (d *streamDevice) seekTo(lba LBA) error {
	offset := int64(lba) * int64(d.blockSize)
	_, err := d.stream.Seek(offset, io.SeekStart)
	return err
}

// Read fills buf one block at a time through the device's single internal
// buffer, so no more than one block of scratch memory is ever live.
func (d *streamDevice) Read(lba LBA, count uint, buf []byte) error {
	if err := d.checkBounds(lba, count, len(buf)); err != nil {
		return err
	}
	if err := d.seekTo(lba); err != nil {
		return err
	}
	for i := uint(0); i < count; i++ {
		if _, err := io.ReadFull(d.stream, d.bufOne); err != nil {
			return fmt.Errorf("blockdev: reading block %d: %w", uint64(lba)+uint64(i), err)
		}
		copy(buf[i*d.blockSize:(i+1)*d.blockSize], d.bufOne)
	}
	return nil
}

func (d *streamDevice) Write(lba LBA, count uint, buf []byte) error {
	if err := d.checkBounds(lba, count, len(buf)); err != nil {
		return err
	}
	if err := d.seekTo(lba); err != nil {
		return err
	}
	for i := uint(0); i < count; i++ {
		copy(d.bufOne, buf[i*d.blockSize:(i+1)*d.blockSize])
		if _, err := d.stream.Write(d.bufOne); err != nil {
			return fmt.Errorf("blockdev: writing block %d: %w", uint64(lba)+uint64(i), err)
		}
	}
	return nil
}

// Resize reconfigures the logical block size. Existing TotalBlocks is
// recomputed against the stream's unchanged byte length.
func (d *streamDevice) Resize(blockSize uint) error {
	if blockSize == 0 {
		return fmt.Errorf("blockdev: block size must be nonzero")
	}
	end, err := d.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := d.stream.Seek(0, io.SeekStart); err != nil {
		return err
	}
	d.blockSize = blockSize
	d.total = uint64(end) / uint64(blockSize)
	d.bufOne = make([]byte, blockSize)
	return nil
}
