package mount

import (
	"testing"

	"github.com/bolthur/bfs/errno"
	"github.com/bolthur/bfs/lockapi"
	"github.com/stretchr/testify/require"
)

type stubFS struct{ kind string }

func (s stubFS) Kind() string   { return s.kind }
func (s stubFS) ReadOnly() bool { return false }
func (s stubFS) Busy() bool     { return false }

// TestFindLongestPrefix checks that after registering /a/ and /a/b/,
// find("/a/b/c") returns /a/b/ and find("/a/x") returns /a/.
func TestFindLongestPrefix(t *testing.T) {
	table := New(lockapi.NopLocker{})

	require.Nil(t, table.Add("/a/", stubFS{"a"}, nil))
	require.Nil(t, table.Add("/a/b/", stubFS{"ab"}, nil))

	rec, err := table.Find("/a/b/c")
	require.Nil(t, err)
	require.Equal(t, "/a/b/", rec.Path)

	rec, err = table.Find("/a/x")
	require.Nil(t, err)
	require.Equal(t, "/a/", rec.Path)
}

func TestFindMiss(t *testing.T) {
	table := New(lockapi.NopLocker{})
	_, err := table.Find("/nowhere")
	require.NotNil(t, err)
	require.Equal(t, errno.ENODEV, err.Code)
}

func TestAddDuplicateFails(t *testing.T) {
	table := New(lockapi.NopLocker{})
	require.Nil(t, table.Add("/a/", stubFS{"a"}, nil))
	err := table.Add("/a/", stubFS{"a2"}, nil)
	require.NotNil(t, err)
}

func TestAddRejectsUnboundedPath(t *testing.T) {
	table := New(lockapi.NopLocker{})
	require.NotNil(t, table.Add("a", stubFS{"a"}, nil))
	require.NotNil(t, table.Add("/a", stubFS{"a"}, nil))
}

func TestRemoveMissing(t *testing.T) {
	table := New(lockapi.NopLocker{})
	require.NotNil(t, table.Remove("/nope/"))
}

func TestResolveStripsPrefix(t *testing.T) {
	table := New(lockapi.NopLocker{})
	require.Nil(t, table.Add("/mnt/", stubFS{"a"}, nil))

	_, inner, err := table.Resolve("/mnt/dir/file.txt")
	require.Nil(t, err)
	require.Equal(t, "/dir/file.txt", inner)
}
