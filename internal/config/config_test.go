package config

import (
	"flag"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fw-proxy/internal/errors"
	"fw-proxy/internal/ports"
)

func parse(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := flag.NewFlagSet("fw-proxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return Parse(fs, args)
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fw-proxy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/sys", cfg.SysfsPath)
	assert.Equal(t, "class/fw/fw/conn_tab", cfg.ConntabPath)
	assert.Equal(t, "class/fw/fw_rules/active", cfg.FirewallActivePath)
	assert.Equal(t, multiString{"10.1.1.3", "10.1.2.3"}, cfg.ListenAddresses)
	assert.Equal(t, 5, cfg.ListenBacklog)
	assert.Equal(t, ports.Default(), cfg.PortMap())
	assert.Equal(t, 8192, cfg.RelayMaxChunk)
	assert.Equal(t, 25*time.Second, cfg.RelayConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.RelayReadTimeout)
	assert.Equal(t, 5000, cfg.HTTPMaxContentLength)
	assert.False(t, cfg.BlockSourceCode)
	assert.Equal(t, 15*time.Second, cfg.CollectorInterval)
	assert.Empty(t, cfg.WebListenAddresses)

	addrs, err := cfg.ListenAddrs()
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.1.1.3"), netip.MustParseAddr("10.1.2.3")}, addrs)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg, err := parse(t,
		"--listen.address=127.0.0.1",
		"--port.http-spoof=18080",
		"--relay.read-timeout=500ms",
		"--inspect.block-source-code",
		"--web.listen-address=:9100",
	)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, multiString{"127.0.0.1"}, cfg.ListenAddresses)
	assert.Equal(t, uint16(18080), cfg.PortMap().HTTPSpoof)
	assert.Equal(t, 500*time.Millisecond, cfg.RelayReadTimeout)
	assert.True(t, cfg.BlockSourceCode)
	assert.Equal(t, multiString{":9100"}, cfg.WebListenAddresses)
}

func TestConfigFile(t *testing.T) {
	path := writeFile(t, `
listen.address:
  - 192.168.0.1
  - 192.168.1.1
relay:
  max-chunk: 4096
  connect-timeout: 10s
inspect.block-source-code: true
log.level: debug
`)

	cfg, err := parse(t, "--config.file="+path, "--log.level=warn")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, multiString{"192.168.0.1", "192.168.1.1"}, cfg.ListenAddresses)
	assert.Equal(t, 4096, cfg.RelayMaxChunk)
	assert.Equal(t, 10*time.Second, cfg.RelayConnectTimeout)
	assert.True(t, cfg.BlockSourceCode)
	assert.Equal(t, "warn", cfg.LogLevel, "command line wins over the file")
}

func TestConfigFileErrors(t *testing.T) {
	_, err := parse(t, "--config.file="+writeFile(t, "relay.max-chunks: 1\n"))
	assert.Equal(t, errors.KindMalformed, errors.GetKind(err))

	_, err = parse(t, "--config.file="+writeFile(t, "relay.max-chunk: lots\n"))
	assert.Equal(t, errors.KindMalformed, errors.GetKind(err))

	_, err = parse(t, "--config.file="+writeFile(t, "relay: [\n"))
	assert.Equal(t, errors.KindMalformed, errors.GetKind(err))

	_, err = parse(t, "--config.file="+filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad listen address", []string{"--listen.address=10.1.1.300"}},
		{"zero port", []string{"--port.http=0"}},
		{"port out of range", []string{"--port.ftp-data-spoof=70000"}},
		{"zero backlog", []string{"--listen.backlog=0"}},
		{"negative chunk", []string{"--relay.max-chunk=-1"}},
		{"zero connect timeout", []string{"--relay.connect-timeout=0s"}},
		{"zero content length", []string{"--inspect.http-max-content-length=0"}},
		{"negative interval", []string{"--collector.interval=-1s"}},
		{"bad log level", []string{"--log.level=loud"}},
		{"bad log format", []string{"--log.format=xml"}},
	}

	for _, tc := range tests {
		cfg, err := parse(t, tc.args...)
		require.NoError(t, err, tc.name)
		assert.Error(t, cfg.Validate(), tc.name)
	}
}

func TestHelpAndVersion(t *testing.T) {
	cfg, err := parse(t, "-h")
	require.NoError(t, err)
	assert.True(t, cfg.ShowHelp)

	cfg, err = parse(t, "--version")
	require.NoError(t, err)
	assert.True(t, cfg.ShowVersion)
}
