package scripthost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexFindsScripts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.py"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.py"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	files, err := Index(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestResolveFindsImport(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util.py"), []byte("x"), 0o644))

	path, err := Resolve(dir, "util")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "util.py"), path)
}

func TestResolveMissingImport(t *testing.T) {
	dir := t.TempDir()
	_, err := Resolve(dir, "nope")
	assert.Error(t, err)
}
