package vt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func versionTestPool() *Pool {
	return NewPool("LABEL01", []Object{
		{ID: 0, Type: TypeWorkingSet, Children: []uint16{1}},
		{ID: 1, Type: TypeDataMask},
	})
}

func TestVersionStoreRoundTripMemoryOnly(t *testing.T) {
	vs := NewVersionStore("", 0x26)
	pool := versionTestPool()
	require.NoError(t, vs.StoreVersion("LABEL01", pool, 4, time.Unix(1000, 0)))

	sv, ok := vs.LoadVersion("LABEL01")
	require.True(t, ok)
	assert.Equal(t, "LABEL01", sv.Label)
	assert.Equal(t, uint16(4), sv.VTVersion)
}

func TestVersionStorePersistsToDiskAndReloads(t *testing.T) {
	root := t.TempDir()
	pool := versionTestPool()

	vs := NewVersionStore(root, 0x26)
	require.NoError(t, vs.StoreVersion("LABEL01", pool, 4, time.Unix(1000, 0)))

	path := filepath.Join(root, "26", "LABEL01.vtp")
	assert.FileExists(t, path)

	fresh := NewVersionStore(root, 0x26)
	require.NoError(t, fresh.LoadAllVersionsFromDisk())
	sv, ok := fresh.LoadVersion("LABEL01")
	require.True(t, ok)
	assert.Equal(t, uint16(4), sv.VTVersion)
	assert.Equal(t, int64(1000), sv.Timestamp.Unix())

	gotPool := sv.Pool
	obj, ok := gotPool.Get(1)
	require.True(t, ok)
	assert.Equal(t, TypeDataMask, obj.Type)
}

func TestVersionStoreDeleteRemovesFromDiskAndMemory(t *testing.T) {
	root := t.TempDir()
	vs := NewVersionStore(root, 0x26)
	require.NoError(t, vs.StoreVersion("LABEL01", versionTestPool(), 4, time.Unix(1000, 0)))

	require.NoError(t, vs.DeleteVersion("LABEL01"))
	_, ok := vs.LoadVersion("LABEL01")
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(root, "26", "LABEL01.vtp"))
}

func TestVersionStoreCleanupExpiredVersions(t *testing.T) {
	root := t.TempDir()
	vs := NewVersionStore(root, 0x26)
	now := time.Unix(100000, 0)
	require.NoError(t, vs.StoreVersion("OLD0001", versionTestPool(), 1, now.Add(-48*time.Hour)))
	require.NoError(t, vs.StoreVersion("NEW0001", versionTestPool(), 1, now))

	removed := vs.CleanupExpiredVersions(24*time.Hour, now)
	assert.Equal(t, []string{"OLD0001"}, removed)

	_, ok := vs.LoadVersion("OLD0001")
	assert.False(t, ok)
	_, ok = vs.LoadVersion("NEW0001")
	assert.True(t, ok)
}

func TestVersionStoreLabelsSorted(t *testing.T) {
	vs := NewVersionStore("", 0x26)
	require.NoError(t, vs.StoreVersion("ZZZ0001", versionTestPool(), 1, time.Unix(1, 0)))
	require.NoError(t, vs.StoreVersion("AAA0001", versionTestPool(), 1, time.Unix(1, 0)))
	assert.Equal(t, []string{"AAA0001", "ZZZ0001"}, vs.Labels())
}
