package sysfs

import (
	"io"
	"os"
	"path/filepath"
)

// FS is a small helper around the sysfs mount point the firewall module
// exposes its attributes under.
//
// It covers exactly what the proxy needs:
// - reading and overwriting `class/fw/fw/conn_tab`
// - reading/writing `class/fw/fw_rules/active`
//
// Pointing Root at a temporary directory lets tests stand in for the kernel.
type FS struct {
	Root string
}

func (fs FS) Path(rel string) string {
	return filepath.Join(fs.Root, rel)
}

func (fs FS) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(fs.Path(rel))
}

func (fs FS) WriteFile(rel string, data []byte, perm os.FileMode) error {
	return os.WriteFile(fs.Path(rel), data, perm)
}

// ReadFileLocked reads rel while holding a shared advisory lock on it, so a
// concurrent OverwriteLocked from this process is never observed half-written.
func (fs FS) ReadFileLocked(rel string) ([]byte, error) {
	f, err := os.Open(fs.Path(rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := lockShared(f); err != nil {
		return nil, err
	}
	defer unlock(f)

	return io.ReadAll(f)
}

// OverwriteLocked truncates rel and writes data in a single write call under
// an exclusive advisory lock. The file must already exist: sysfs attributes
// cannot be created from user space.
func (fs FS) OverwriteLocked(rel string, data []byte) error {
	f, err := os.OpenFile(fs.Path(rel), os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if err := lockExclusive(f); err != nil {
		_ = f.Close()
		return err
	}

	werr := f.Truncate(0)
	if werr == nil {
		_, werr = f.Write(data)
	}
	unlock(f)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
