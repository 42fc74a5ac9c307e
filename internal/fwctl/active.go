package fwctl

import (
	"fmt"
	"strings"

	"fw-proxy/internal/sysfs"
)

// DefaultActivePath is the sysfs-relative path of the firewall's activation
// attribute. It reads "1" while the packet filter is enforcing and "0"
// otherwise; writing either value switches the state.
const DefaultActivePath = "class/fw/fw_rules/active"

const (
	activeValue   = "1"
	inactiveValue = "0"
)

// ReadActive reports whether the kernel firewall is enforcing.
func ReadActive(fs sysfs.FS, rel string) (bool, error) {
	b, err := fs.ReadFile(rel)
	if err != nil {
		return false, err
	}

	s := strings.TrimSpace(string(b))
	switch {
	case s == "":
		return false, fmt.Errorf("%s is empty", fs.Path(rel))
	case strings.HasPrefix(s, activeValue):
		return true, nil
	case strings.HasPrefix(s, inactiveValue):
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s value %q", fs.Path(rel), s)
	}
}

// Activate switches the firewall on and reads the attribute back.
//
// The attribute is root-owned; callers should log a failure and decide
// themselves whether running without enforcement is acceptable.
func Activate(fs sysfs.FS, rel string) error {
	// The module only looks at the first byte, no newline.
	if err := fs.WriteFile(rel, []byte(activeValue), 0o644); err != nil {
		return err
	}

	on, err := ReadActive(fs, rel)
	if err != nil {
		return err
	}
	if !on {
		return fmt.Errorf("failed to activate firewall via %s", fs.Path(rel))
	}

	return nil
}
