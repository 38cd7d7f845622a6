package ext

import (
	"testing"

	"github.com/bolthur/bfs/errno"
	"github.com/stretchr/testify/require"
)

func TestParseSuperblockRoundTrip(t *testing.T) {
	sb := Superblock{
		InodesCount:    128,
		BlocksCount:    300,
		FirstDataBlock: 1,
		LogBlockSize:   0,
		BlocksPerGroup: 300,
		InodesPerGroup: 128,
		Magic:          SuperblockMagic,
		State:          1,
		RevLevel:       1,
		FirstIno:       11,
		InodeSize:      128,
	}

	buf := EncodeSuperblock(&sb)
	decoded, err := ParseSuperblock(buf)
	require.Nil(t, err)
	require.Equal(t, sb.Magic, decoded.Magic)
	require.Equal(t, sb.InodesPerGroup, decoded.InodesPerGroup)
	require.Equal(t, sb.BlocksPerGroup, decoded.BlocksPerGroup)
	require.Equal(t, sb.InodeSize, decoded.InodeSize)
	require.Nil(t, decoded.Validate())
	require.Equal(t, uint32(1024), decoded.BlockSize())
	require.Equal(t, uint32(1), decoded.BlockGroupCount())
}

func TestValidateRejectsBadMagic(t *testing.T) {
	sb := Superblock{Magic: 0x1234, InodesPerGroup: 128, BlocksPerGroup: 300, State: 1}
	err := sb.Validate()
	require.NotNil(t, err)
	require.Equal(t, errno.EINVAL, err.Code)
}

func TestValidateRejectsUnsupportedIncompatFeatures(t *testing.T) {
	sb := Superblock{
		Magic:           SuperblockMagic,
		InodesPerGroup:  128,
		BlocksPerGroup:  300,
		State:           1,
		FeatureIncompat: FeatureIncompatExtents,
	}
	err := sb.Validate()
	require.NotNil(t, err)
	require.Equal(t, errno.ENOTSUP, err.Code)
}

func TestForcesReadOnlyOnUnknownROCompat(t *testing.T) {
	sb := Superblock{FeatureROCompat: 0x8000}
	require.True(t, sb.ForcesReadOnly())

	sb2 := Superblock{FeatureROCompat: 0x0001}
	require.False(t, sb2.ForcesReadOnly())
}
