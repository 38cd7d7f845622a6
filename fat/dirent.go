package fat

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/bolthur/bfs/errno"
	"github.com/noxer/bytewriter"
)

// Attribute flags for the 8.3 entry's AttributeFlags byte.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	// AttrLFN marks a slot as a VFAT long-name fragment rather than an 8.3
	// entry.
	AttrLFN = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// DirentSize is the size of one raw 32-byte directory slot.
const DirentSize = 32

// SlotKind classifies a raw 32-byte directory slot.
type SlotKind int

const (
	SlotEmpty SlotKind = iota
	SlotDeleted
	SlotLFN
	SlotShort
)

// ShortEntry is the decoded 8.3 directory entry.
type ShortEntry struct {
	Name           [8]byte
	Ext            [3]byte
	Attr           uint8
	FirstClusterHi uint16
	FirstClusterLo uint16
	FileSize       uint32
}

// FirstCluster reassembles the 32-bit cluster number (high word is only
// meaningful on FAT32; callers on FAT12/16 should ignore it, which this
// does automatically since FirstClusterHi is always 0 there).
func (e *ShortEntry) FirstCluster() ClusterID {
	return ClusterID((uint32(e.FirstClusterHi) << 16) | uint32(e.FirstClusterLo))
}

// SetFirstCluster splits a 32-bit cluster number into the low/high halves
// stored on disk.
func (e *ShortEntry) SetFirstCluster(c ClusterID) {
	e.FirstClusterLo = uint16(uint32(c) & 0xFFFF)
	e.FirstClusterHi = uint16(uint32(c) >> 16)
}

// ClassifySlot inspects the first byte and attribute byte of a raw 32-byte
// slot to determine its kind.
func ClassifySlot(raw []byte) SlotKind {
	switch raw[0] {
	case 0x00:
		return SlotEmpty
	case 0xE5:
		return SlotDeleted
	}
	if raw[11] == AttrLFN {
		return SlotLFN
	}
	return SlotShort
}

// lfnSlot is the decoded form of a VFAT long-name fragment.
type lfnSlot struct {
	ordinal  uint8
	isLast   bool
	chars    []uint16 // up to 13 UCS-2 code units, may contain trailing 0xFFFF padding
	checksum uint8
}

func decodeLFNSlot(raw []byte) lfnSlot {
	var chars []uint16
	for _, rng := range [][2]int{{1, 11}, {14, 26}, {28, 32}} {
		for i := rng[0]; i < rng[1]; i += 2 {
			chars = append(chars, binary.LittleEndian.Uint16(raw[i:i+2]))
		}
	}
	return lfnSlot{
		ordinal:  raw[0] & 0x3F,
		isLast:   raw[0]&0x40 != 0,
		chars:    chars,
		checksum: raw[13],
	}
}

// shortNameChecksum computes the VFAT checksum of an 11-byte 8.3 name,
// summing with rotate-right as the FAT/VFAT standard defines.
func shortNameChecksum(name [8]byte, ext [3]byte) uint8 {
	var sum uint8
	for _, b := range append(name[:], ext[:]...) {
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

func decodeShortEntry(raw []byte) ShortEntry {
	e := ShortEntry{
		Attr:           raw[11],
		FirstClusterHi: binary.LittleEndian.Uint16(raw[20:22]),
		FirstClusterLo: binary.LittleEndian.Uint16(raw[26:28]),
		FileSize:       binary.LittleEndian.Uint32(raw[28:32]),
	}
	copy(e.Name[:], raw[0:8])
	copy(e.Ext[:], raw[8:11])
	return e
}

func encodeShortEntry(e ShortEntry) []byte {
	buf := make([]byte, DirentSize)
	w := bytewriter.New(buf)
	w.Write(e.Name[:])
	w.Write(e.Ext[:])
	buf[11] = e.Attr
	// Bytes 12-19 (NT reserved, creation time/date, last access date) are
	// left zeroed; timestamps are not tracked.
	binary.LittleEndian.PutUint16(buf[20:22], e.FirstClusterHi)
	binary.LittleEndian.PutUint16(buf[26:28], e.FirstClusterLo)
	binary.LittleEndian.PutUint32(buf[28:32], e.FileSize)
	return buf
}

// Entry is a fully decoded directory entry: its long name (if any, else the
// reconstructed 8.3 name), and the short entry fields.
type Entry struct {
	Name  string
	Short ShortEntry
}

// DecodeEntries scans a buffer containing a whole number of 32-byte slots
// and returns every live Entry found, accumulating LFN fragments into long
// names and validating their checksum against the paired short entry.
// Scanning stops at the first SlotEmpty, matching the on-disk convention
// that 0x00 terminates a directory region.
func DecodeEntries(buf []byte) ([]Entry, *errno.Error) {
	if len(buf)%DirentSize != 0 {
		return nil, errno.Newf(errno.EINVAL, "directory buffer not a multiple of %d bytes", DirentSize)
	}

	var entries []Entry
	var pendingLFN []lfnSlot

	for offset := 0; offset < len(buf); offset += DirentSize {
		raw := buf[offset : offset+DirentSize]
		switch ClassifySlot(raw) {
		case SlotEmpty:
			return entries, nil
		case SlotDeleted:
			pendingLFN = nil
		case SlotLFN:
			pendingLFN = append(pendingLFN, decodeLFNSlot(raw))
		case SlotShort:
			short := decodeShortEntry(raw)
			name := reconstructLFNName(pendingLFN, short)
			if name == "" {
				name = shortNameToDisplay(short)
			}
			entries = append(entries, Entry{Name: name, Short: short})
			pendingLFN = nil
		}
	}
	return entries, nil
}

// reconstructLFNName reassembles a long name from its fragments (collected
// in on-disk, reverse-ordinal order) and validates the VFAT checksum against
// the paired short entry. On mismatch it discards the LFN and returns "" so
// the caller falls back to the short name.
func reconstructLFNName(frags []lfnSlot, short ShortEntry) string {
	if len(frags) == 0 {
		return ""
	}

	checksum := shortNameChecksum(short.Name, short.Ext)
	for _, f := range frags {
		if f.checksum != checksum {
			return ""
		}
	}

	// Fragments were accumulated in on-disk order, which chains from the
	// highest ordinal (marked isLast) down to ordinal 1. Reverse them to
	// get increasing ordinal order before concatenating.
	ordered := make([]lfnSlot, len(frags))
	copy(ordered, frags)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}

	var units []uint16
	for _, f := range ordered {
		for _, c := range f.chars {
			if c == 0x0000 || c == 0xFFFF {
				continue
			}
			units = append(units, c)
		}
	}
	return string(utf16.Decode(units))
}

func shortNameToDisplay(e ShortEntry) string {
	name := strings.TrimRight(string(e.Name[:]), " ")
	ext := strings.TrimRight(string(e.Ext[:]), " ")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// disallowed83Chars are characters that can't appear in an 8.3 name; they
// are stripped when deriving a short name from a long one.
const disallowed83Chars = "\"*+,/:;<=>?[\\]|."

// GenerateShortName derives an 8.3 short name for longName that is unique
// among existingShortNames (an uppercased "NAME.EXT"-shaped set, as already
// present in the target directory).
func GenerateShortName(longName string, existingShortNames map[string]bool) ([8]byte, [3]byte) {
	upper := strings.ToUpper(longName)

	base := upper
	ext := ""
	if idx := strings.LastIndex(upper, "."); idx >= 0 {
		base = upper[:idx]
		ext = upper[idx+1:]
	}

	clean := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			if r == ' ' || strings.ContainsRune(disallowed83Chars, r) || r > 0x7E {
				continue
			}
			b.WriteRune(r)
		}
		return b.String()
	}

	base = clean(base)
	ext = clean(ext)
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if base == "" {
		base = "_"
	}

	needsTail := len(base) > 8 || base != upper || hasLowerOrDisallowed(longName)
	truncatedBase := base
	if len(truncatedBase) > 6 {
		truncatedBase = truncatedBase[:6]
	}

	candidate := base
	if len(candidate) > 8 {
		candidate = candidate[:8]
	}

	if needsTail || existingShortNames[padShortName(candidate, ext)] {
		for k := 1; k < 1_000_000; k++ {
			tail := fmt.Sprintf("~%d", k)
			if len(truncatedBase)+len(tail) > 8 {
				truncatedBase = truncatedBase[:8-len(tail)]
			}
			candidate = truncatedBase + tail
			if !existingShortNames[padShortName(candidate, ext)] {
				break
			}
		}
	}

	var nameBytes [8]byte
	var extBytes [3]byte
	for i := range nameBytes {
		nameBytes[i] = ' '
	}
	for i := range extBytes {
		extBytes[i] = ' '
	}
	copy(nameBytes[:], candidate)
	copy(extBytes[:], ext)
	return nameBytes, extBytes
}

func hasLowerOrDisallowed(s string) bool {
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return true
		}
		if strings.ContainsRune(disallowed83Chars, r) {
			return true
		}
	}
	return false
}

func padShortName(base, ext string) string {
	for len(base) < 8 {
		base += " "
	}
	for len(ext) < 3 {
		ext += " "
	}
	return base + ext
}

// EncodeLFNChain builds the sequence of raw 32-byte LFN slots (in on-disk
// order: highest ordinal first, each carrying the short entry's checksum)
// needed to store longName, followed by the encoded short entry itself.
func EncodeLFNChain(longName string, nameBytes [8]byte, extBytes [3]byte, short ShortEntry) [][]byte {
	checksum := shortNameChecksum(nameBytes, extBytes)
	units := utf16.Encode([]rune(longName))

	const perSlot = 13
	numSlots := (len(units) + perSlot - 1) / perSlot
	if numSlots == 0 {
		numSlots = 1
	}

	var slots [][]byte
	for i := 0; i < numSlots; i++ {
		ordinal := uint8(i + 1)
		isLast := i == numSlots-1

		start := i * perSlot
		end := start + perSlot
		chunk := make([]uint16, perSlot)
		for j := range chunk {
			chunk[j] = 0xFFFF
		}
		for j := start; j < end && j < len(units); j++ {
			chunk[j-start] = units[j]
		}
		if end >= len(units) {
			// Null-terminate the fragment holding the final character,
			// matching the VFAT convention; remaining slots stay 0xFFFF.
			termIdx := len(units) - start
			if termIdx >= 0 && termIdx < perSlot {
				chunk[termIdx] = 0x0000
			}
		}

		raw := make([]byte, DirentSize)
		ordByte := ordinal
		if isLast {
			ordByte |= 0x40
		}
		raw[0] = ordByte
		for k := 0; k < 5; k++ {
			binary.LittleEndian.PutUint16(raw[1+k*2:3+k*2], chunk[k])
		}
		raw[11] = AttrLFN
		raw[12] = 0
		raw[13] = checksum
		for k := 0; k < 6; k++ {
			binary.LittleEndian.PutUint16(raw[14+k*2:16+k*2], chunk[5+k])
		}
		binary.LittleEndian.PutUint16(raw[26:28], 0)
		for k := 0; k < 2; k++ {
			binary.LittleEndian.PutUint16(raw[28+k*2:30+k*2], chunk[11+k])
		}
		slots = append(slots, raw)
	}

	// Emit in reverse order: highest ordinal (isLast) first.
	for i, j := 0, len(slots)-1; i < j; i, j = i+1, j-1 {
		slots[i], slots[j] = slots[j], slots[i]
	}

	slots = append(slots, encodeShortEntry(short))
	return slots
}
