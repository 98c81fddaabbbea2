package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgtoolkit/pg-rewind-go/internal/filemap"
	"github.com/pgtoolkit/pg-rewind-go/internal/inventory"
)

func writeFile(t *testing.T, path string, contents []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, contents, 0644))
}

func TestExecutorCopyWhole(t *testing.T) {
	sourceRoot := t.TempDir()
	targetRoot := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "global", "1262"), []byte("0123456789"))

	src := inventory.NewLocalSource(sourceRoot)
	entries := []*filemap.Entry{
		{Path: "global/1262", Type: inventory.Regular, Action: filemap.ActionCopyWhole, NewSize: 10},
	}

	e := New(targetRoot, src, 4, false)
	require.NoError(t, e.Execute(context.Background(), entries))

	got, err := os.ReadFile(filepath.Join(targetRoot, "global", "1262"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(got))
}

func TestExecutorCopyTail(t *testing.T) {
	sourceRoot := t.TempDir()
	targetRoot := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "base", "1", "16384"), []byte("AAAABBBB"))
	writeFile(t, filepath.Join(targetRoot, "base", "1", "16384"), []byte("AAAA0000"))

	src := inventory.NewLocalSource(sourceRoot)
	entries := []*filemap.Entry{
		{Path: "base/1/16384", Type: inventory.Regular, Action: filemap.ActionCopyTail, OldSize: 4, NewSize: 8},
	}

	e := New(targetRoot, src, 8192, false)
	require.NoError(t, e.Execute(context.Background(), entries))

	got, err := os.ReadFile(filepath.Join(targetRoot, "base", "1", "16384"))
	require.NoError(t, err)
	assert.Equal(t, "AAAABBBB", string(got))
}

func TestExecutorTruncate(t *testing.T) {
	targetRoot := t.TempDir()
	writeFile(t, filepath.Join(targetRoot, "base", "1", "16384"), []byte("AAAABBBB"))

	entries := []*filemap.Entry{
		{Path: "base/1/16384", Type: inventory.Regular, Action: filemap.ActionTruncate, NewSize: 4},
	}

	e := New(targetRoot, inventory.NewLocalSource(t.TempDir()), 8192, false)
	require.NoError(t, e.Execute(context.Background(), entries))

	info, err := os.Stat(filepath.Join(targetRoot, "base", "1", "16384"))
	require.NoError(t, err)
	assert.EqualValues(t, 4, info.Size())
}

func TestExecutorCreateDirAndSymlink(t *testing.T) {
	targetRoot := t.TempDir()
	entries := []*filemap.Entry{
		{Path: "base/1", Type: inventory.Directory, Action: filemap.ActionCreate},
		{Path: "pg_tblspc/16400", Type: inventory.Symlink, Action: filemap.ActionCreate, LinkTarget: "/srv/tb1"},
	}

	e := New(targetRoot, inventory.NewLocalSource(t.TempDir()), 8192, false)
	require.NoError(t, e.Execute(context.Background(), entries))

	info, err := os.Stat(filepath.Join(targetRoot, "base", "1"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	link, err := os.Readlink(filepath.Join(targetRoot, "pg_tblspc", "16400"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/tb1", link)
}

func TestExecutorRemoveToleratesMissing(t *testing.T) {
	targetRoot := t.TempDir()
	writeFile(t, filepath.Join(targetRoot, "base", "1", "99999"), []byte("x"))

	entries := []*filemap.Entry{
		{Path: "base/1/99999", Type: inventory.Regular, Action: filemap.ActionRemove},
		{Path: "base/1/already_gone", Type: inventory.Regular, Action: filemap.ActionRemove},
	}

	e := New(targetRoot, inventory.NewLocalSource(t.TempDir()), 8192, false)
	require.NoError(t, e.Execute(context.Background(), entries))

	_, err := os.Stat(filepath.Join(targetRoot, "base", "1", "99999"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecutorDryRunSkipsAllMutations(t *testing.T) {
	sourceRoot := t.TempDir()
	targetRoot := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "global", "1262"), []byte("0123456789"))

	src := inventory.NewLocalSource(sourceRoot)
	entries := []*filemap.Entry{
		{Path: "global/1262", Type: inventory.Regular, Action: filemap.ActionCopyWhole, NewSize: 10},
		{Path: "base/1", Type: inventory.Directory, Action: filemap.ActionCreate},
	}

	e := New(targetRoot, src, 4, true)
	require.NoError(t, e.Execute(context.Background(), entries))

	_, err := os.Stat(filepath.Join(targetRoot, "global", "1262"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(targetRoot, "base", "1"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecutorDrainsPageMapBeforeAction(t *testing.T) {
	sourceRoot := t.TempDir()
	targetRoot := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "base", "1", "16384"), []byte("AABBCCDD"))
	writeFile(t, filepath.Join(targetRoot, "base", "1", "16384"), []byte("00000000"))

	src := inventory.NewLocalSource(sourceRoot)
	entry := &filemap.Entry{Path: "base/1/16384", Type: inventory.Regular, Action: filemap.ActionNone, NewSize: 8}
	entry.PageMap.Add(0)

	e := New(targetRoot, src, 2, false)
	require.NoError(t, e.Execute(context.Background(), []*filemap.Entry{entry}))

	got, err := os.ReadFile(filepath.Join(targetRoot, "base", "1", "16384"))
	require.NoError(t, err)
	assert.Equal(t, "AA000000", string(got))
}
