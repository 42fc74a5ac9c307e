package sysfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverwriteLockedReplacesContent(t *testing.T) {
	dir := t.TempDir()
	fs := FS{Root: dir}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "class/fw/fw"), 0o755))
	require.NoError(t, fs.WriteFile("class/fw/fw/conn_tab", []byte("a much longer previous content\n"), 0o644))

	require.NoError(t, fs.OverwriteLocked("class/fw/fw/conn_tab", []byte("1 2 3 4\n")))

	got, err := fs.ReadFileLocked("class/fw/fw/conn_tab")
	require.NoError(t, err)
	assert.Equal(t, "1 2 3 4\n", string(got))
}

func TestOverwriteLockedMissingFile(t *testing.T) {
	fs := FS{Root: t.TempDir()}
	err := fs.OverwriteLocked("class/fw/fw/conn_tab", []byte("x\n"))
	assert.True(t, os.IsNotExist(err))
}

func TestPath(t *testing.T) {
	fs := FS{Root: "/sys"}
	assert.Equal(t, "/sys/class/fw/fw/conn_tab", fs.Path("class/fw/fw/conn_tab"))
}
