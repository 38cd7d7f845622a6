package ext

import (
	"encoding/binary"

	"github.com/bolthur/bfs/errno"
)

// File type values stored in the 1-byte file_type field when the
// incompat_filetype feature is in use. This engine always writes it,
// matching ext2 rev 1 defaults.
const (
	FileTypeUnknown = 0
	FileTypeRegular = 1
	FileTypeDir     = 2
)

// direntHeaderSize is the fixed portion of a variable-length directory
// entry: inode(4) + rec_len(2) + name_len(1) + file_type(1).
const direntHeaderSize = 8

// Dirent is one decoded ext2 directory entry.
type Dirent struct {
	Inode    uint32
	RecLen   uint16
	FileType uint8
	Name     string
}

// DecodeDirents walks one data block's worth of variable-length directory
// entries, stopping when rec_len chains run off the end of buf.
func DecodeDirents(buf []byte) ([]Dirent, *errno.Error) {
	var out []Dirent
	offset := 0
	for offset+direntHeaderSize <= len(buf) {
		inode := binary.LittleEndian.Uint32(buf[offset : offset+4])
		recLen := binary.LittleEndian.Uint16(buf[offset+4 : offset+6])
		nameLen := buf[offset+6]
		fileType := buf[offset+7]

		if recLen < direntHeaderSize || offset+int(recLen) > len(buf) {
			break
		}

		if inode != 0 {
			nameEnd := offset + direntHeaderSize + int(nameLen)
			if nameEnd > len(buf) {
				return nil, errno.Newf(errno.EIO, "directory entry name overruns block at offset %d", offset)
			}
			out = append(out, Dirent{
				Inode:    inode,
				RecLen:   recLen,
				FileType: fileType,
				Name:     string(buf[offset+direntHeaderSize : nameEnd]),
			})
		}

		offset += int(recLen)
	}
	return out, nil
}

// EncodeDirents packs entries into a single blockSize buffer, giving the
// final entry whatever rec_len is needed to reach the end of the block (the
// convention ext2 uses instead of a terminator entry).
func EncodeDirents(entries []Dirent, blockSize uint32) ([]byte, *errno.Error) {
	buf := make([]byte, blockSize)
	offset := uint32(0)

	for i, e := range entries {
		minLen := uint32(direntHeaderSize + len(e.Name))
		// rec_len must be a multiple of 4.
		recLen := (minLen + 3) &^ 3

		last := i == len(entries)-1
		if last {
			recLen = blockSize - offset
		}

		if offset+recLen > blockSize {
			return nil, errno.Newf(errno.ENOSPC, "directory entries do not fit in one %d-byte block", blockSize)
		}

		binary.LittleEndian.PutUint32(buf[offset:offset+4], e.Inode)
		binary.LittleEndian.PutUint16(buf[offset+4:offset+6], uint16(recLen))
		buf[offset+6] = uint8(len(e.Name))
		buf[offset+7] = e.FileType
		copy(buf[offset+direntHeaderSize:offset+direntHeaderSize+uint32(len(e.Name))], e.Name)

		offset += recLen
	}

	return buf, nil
}
