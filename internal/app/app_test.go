package app

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fw-proxy/internal/config"
)

func parse(t *testing.T, args ...string) config.Config {
	t.Helper()
	fs := flag.NewFlagSet("fw-proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := config.Parse(fs, append([]string{"--log.level=error"}, args...))
	require.NoError(t, err)
	return cfg
}

// sysfsRoot lays out the firewall attributes with the given active value.
func sysfsRoot(t *testing.T, active string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "class/fw/fw"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "class/fw/fw_rules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "class/fw/fw/conn_tab"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "class/fw/fw_rules/active"), []byte(active+"\n"), 0o644))
	return dir
}

func TestRunVersion(t *testing.T) {
	assert.Equal(t, 0, Run(parse(t, "--version"), "test"))
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	assert.Equal(t, 2, Run(parse(t, "--relay.max-chunk=0"), "test"))
}

func TestRunRequiresActiveFirewall(t *testing.T) {
	root := sysfsRoot(t, "0")
	assert.Equal(t, 1, Run(parse(t, "--path.sysfs="+root, "--firewall.require-active"), "test"))
}

func TestRunFailsWhenListenersCannotBind(t *testing.T) {
	root := sysfsRoot(t, "1")
	// 192.0.2.1 (TEST-NET-1) is not a local address.
	code := Run(parse(t,
		"--path.sysfs="+root,
		"--listen.address=192.0.2.1",
		"--collector.interval=0s",
	), "test")
	assert.Equal(t, 1, code)
}
