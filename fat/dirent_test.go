package fat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLFNRoundTrip checks that writing a directory entry with a long name
// and reading it back yields the same name, and the derived short name is
// unique within the directory.
func TestLFNRoundTrip(t *testing.T) {
	names := []string{
		"averylongfilenamethatwontfitin8dot3.txt",
		"short.txt",
		"mixedCase-Name (1).dat",
	}

	existing := map[string]bool{}
	buf := []byte{}

	for _, n := range names {
		nameBytes, extBytes := GenerateShortName(n, existing)
		existing[padShortName(string(trimTrailing(nameBytes[:])), string(trimTrailing(extBytes[:])))] = true

		short := ShortEntry{Name: nameBytes, Ext: extBytes, Attr: AttrArchive, FileSize: 42}
		short.SetFirstCluster(5)

		slots := EncodeLFNChain(n, nameBytes, extBytes, short)
		for _, s := range slots {
			buf = append(buf, s...)
		}
	}
	// Terminate the directory region.
	buf = append(buf, make([]byte, DirentSize)...)

	entries, err := DecodeEntries(buf)
	require.Nil(t, err)
	require.Equal(t, len(names), len(entries))

	seenShort := map[string]bool{}
	for i, e := range entries {
		require.Equal(t, names[i], e.Name)
		key := padShortName(string(trimTrailing(e.Short.Name[:])), string(trimTrailing(e.Short.Ext[:])))
		require.False(t, seenShort[key], "short name %q reused", key)
		seenShort[key] = true
		require.Equal(t, ClusterID(5), e.Short.FirstCluster())
	}
}

func trimTrailing(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return b[:end]
}

func TestShortNameChecksumMismatchDropsLFN(t *testing.T) {
	nameBytes, extBytes := GenerateShortName("hello world.txt", map[string]bool{})
	short := ShortEntry{Name: nameBytes, Ext: extBytes, Attr: AttrArchive}
	slots := EncodeLFNChain("hello world.txt", nameBytes, extBytes, short)

	// Corrupt the checksum byte of the first of the two LFN fragments.
	slots[0][13] ^= 0xFF

	var buf []byte
	for _, s := range slots {
		buf = append(buf, s...)
	}
	buf = append(buf, make([]byte, DirentSize)...)

	entries, err := DecodeEntries(buf)
	require.Nil(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, shortNameToDisplay(short), entries[0].Name)
}
