// Package fsapi is a thin, Go-idiomatic façade over the fat and ext engine
// handles: io.ReadWriteSeeker plus Stat/Truncate/Name, so callers (tests,
// cmd/bfsctl) can drive either engine without reaching into its internals.
package fsapi

import (
	"io"

	"github.com/bolthur/bfs/errno"
	"github.com/bolthur/bfs/ext"
	"github.com/bolthur/bfs/fat"
)

// FileInfo is the minimal stat result this façade exposes.
type FileInfo struct {
	Name  string
	Size  int64
	IsDir bool
}

// File adapts either a *fat.FileHandle or a *ext.FileHandle to
// io.ReadWriteSeeker plus Stat/Truncate/Name.
type File struct {
	name string
	fat  *fat.FileHandle
	ext  *ext.FileHandle
}

// NewFATFile wraps an open FAT file handle.
func NewFATFile(name string, h *fat.FileHandle) *File {
	return &File{name: name, fat: h}
}

// NewExtFile wraps an open ext file handle.
func NewExtFile(name string, h *ext.FileHandle) *File {
	return &File{name: name, ext: h}
}

func (f *File) Name() string { return f.name }

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.fat != nil {
		n, err := f.fat.Read(p)
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
	n, err := f.ext.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	if f.fat != nil {
		n, err := f.fat.Write(p)
		return n, errOrNil(err)
	}
	n, err := f.ext.Write(p)
	return n, errOrNil(err)
}

// Seek implements io.Seeker. io.SeekCurrent and io.SeekEnd are converted to
// an absolute position, since the underlying engines only track an absolute
// cursor.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.Tell() + offset
	case io.SeekEnd:
		pos = f.Size() + offset
	}

	if f.fat != nil {
		if err := f.fat.Seek(pos); err != nil {
			return 0, err
		}
		return pos, nil
	}
	if err := f.ext.Seek(pos); err != nil {
		return 0, err
	}
	return pos, nil
}

func (f *File) Tell() int64 {
	if f.fat != nil {
		return f.fat.Tell()
	}
	return f.ext.Tell()
}

func (f *File) Size() int64 {
	if f.fat != nil {
		return f.fat.Size()
	}
	return f.ext.Size()
}

// Truncate resizes the file.
func (f *File) Truncate(size int64) error {
	if f.fat != nil {
		return errOrNil(f.fat.Truncate(size))
	}
	return errOrNil(f.ext.Truncate(size))
}

// Stat returns the file's current metadata.
func (f *File) Stat() FileInfo {
	return FileInfo{Name: f.name, Size: f.Size()}
}

// Close releases the underlying handle.
func (f *File) Close() error {
	if f.fat != nil {
		return errOrNil(f.fat.Close())
	}
	return errOrNil(f.ext.Close())
}

func errOrNil(e *errno.Error) error {
	if e == nil {
		return nil
	}
	return e
}
