// Package common holds the small collection of helpers shared by both
// engines and by the mount/path-resolution layer: open-mode flag parsing
// and whitespace trimming.
package common

import "github.com/bolthur/bfs/errno"

// OpenFlags is the parsed, engine-agnostic form of a C fopen()-style mode
// string.
type OpenFlags uint8

const (
	ORead OpenFlags = 1 << iota
	OWrite
	OCreate
	OTruncate
	OAppend
)

func (f OpenFlags) ReadWrite() bool  { return f&ORead != 0 && f&OWrite != 0 }
func (f OpenFlags) ReadOnly() bool   { return f&ORead != 0 && f&OWrite == 0 }
func (f OpenFlags) WriteOnly() bool  { return f&OWrite != 0 && f&ORead == 0 }

// ParseFlags converts a fopen()-style string into an OpenFlags bitset. Any
// mode string outside the recognized set returns EINVAL.
func ParseFlags(mode string) (OpenFlags, *errno.Error) {
	switch mode {
	case "r", "rb":
		return ORead, nil
	case "w", "wb":
		return OWrite | OCreate | OTruncate, nil
	case "a", "ab":
		return OWrite | OCreate | OAppend, nil
	case "r+", "rb+", "r+b":
		return ORead | OWrite, nil
	case "w+", "wb+", "w+b":
		return ORead | OWrite | OCreate | OTruncate, nil
	case "a+", "ab+", "a+b":
		return ORead | OWrite | OCreate | OAppend, nil
	default:
		return 0, errno.Newf(errno.EINVAL, "unrecognized open mode %q", mode)
	}
}

// Trim returns the substring of s with ASCII whitespace (space, \t, \n, \r,
// \v, \f) stripped from both ends. Whitespace-only input trims to "".
func Trim(s string) string {
	isSpace := func(b byte) bool {
		switch b {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			return true
		default:
			return false
		}
	}

	start := 0
	for start < len(s) && isSpace(s[start]) {
		start++
	}

	end := len(s)
	for end > start && isSpace(s[end-1]) {
		end--
	}

	return s[start:end]
}
