//go:build !unix

package sysfs

import "os"

// Advisory locking is a no-op where flock(2) is unavailable.
func lockShared(*os.File) error    { return nil }
func lockExclusive(*os.File) error { return nil }
func unlock(*os.File)              {}
