package fsapi

import (
	"github.com/bolthur/bfs/ext"
	"github.com/bolthur/bfs/fat"
)

// DirEntry is the engine-agnostic form of one directory entry.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Directory adapts either a *fat.DirHandle or an *ext.DirHandle to a
// single List()/EntryByName()/Open()/Close() surface. It also keeps the
// owning instance so Open can descend into a child subdirectory.
type Directory struct {
	fat     *fat.DirHandle
	fatInst *fat.Instance
	ext     *ext.DirHandle
	extInst *ext.Instance
}

// NewFATDirectory wraps an open FAT directory handle.
func NewFATDirectory(inst *fat.Instance, h *fat.DirHandle) *Directory {
	return &Directory{fat: h, fatInst: inst}
}

// NewExtDirectory wraps an open ext directory handle.
func NewExtDirectory(inst *ext.Instance, h *ext.DirHandle) *Directory {
	return &Directory{ext: h, extInst: inst}
}

// List returns every entry in the directory, excluding "." and "..".
func (d *Directory) List() ([]DirEntry, error) {
	var out []DirEntry

	if d.fat != nil {
		d.fat.Rewind()
		for {
			e, ok, err := d.fat.NextEntry()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			if e.Name == "." || e.Name == ".." {
				continue
			}
			out = append(out, DirEntry{Name: e.Name, IsDir: e.Short.Attr&fat.AttrDirectory != 0})
		}
		return out, nil
	}

	d.ext.Rewind()
	for {
		e, ok, err := d.ext.NextEntry()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		out = append(out, DirEntry{Name: e.Name, IsDir: e.FileType == ext.FileTypeDir})
	}
	return out, nil
}

func (d *Directory) Close() error {
	if d.fat != nil {
		return errOrNil(d.fat.Close())
	}
	return errOrNil(d.ext.Close())
}

// EntryByName looks up a single child by name without listing the whole
// directory.
func (d *Directory) EntryByName(name string) (DirEntry, error) {
	if d.fat != nil {
		e, err := d.fat.EntryByName(name)
		if err != nil {
			return DirEntry{}, err
		}
		return DirEntry{Name: e.Name, IsDir: e.Short.Attr&fat.AttrDirectory != 0}, nil
	}

	e, err := d.ext.EntryByName(name)
	if err != nil {
		return DirEntry{}, err
	}
	return DirEntry{Name: e.Name, IsDir: e.FileType == ext.FileTypeDir}, nil
}

// Open descends into the subdirectory named name, returning a new Directory
// over it. The caller owns closing both the parent and the returned child.
func (d *Directory) Open(name string) (*Directory, error) {
	if d.fat != nil {
		e, err := d.fat.EntryByName(name)
		if err != nil {
			return nil, err
		}
		child, oerr := d.fatInst.OpenDirectory(e)
		if oerr != nil {
			return nil, oerr
		}
		return &Directory{fat: child, fatInst: d.fatInst}, nil
	}

	e, err := d.ext.EntryByName(name)
	if err != nil {
		return nil, err
	}
	child, oerr := d.extInst.OpenDirectory(e.Inode)
	if oerr != nil {
		return nil, oerr
	}
	return &Directory{ext: child, extInst: d.extInst}, nil
}
