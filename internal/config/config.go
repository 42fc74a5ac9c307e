package config

import (
	"flag"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fw-proxy/internal/conntrack"
	"fw-proxy/internal/errors"
	"fw-proxy/internal/fwctl"
	"fw-proxy/internal/logging"
	"fw-proxy/internal/ports"
)

// Addresses of the firewall host on its two VLANs.
var defaultListenAddresses = []string{"10.1.1.3", "10.1.2.3"}

// Config holds runtime configuration for the proxy.
type Config struct {
	ConfigFile string

	SysfsPath             string
	ConntabPath           string
	FirewallActivePath    string
	FirewallActivate      bool
	FirewallRequireActive bool

	ListenAddresses multiString
	ListenBacklog   int

	HTTPPort         uint
	FTPPort          uint
	FTPDataPort      uint
	HTTPSpoofPort    uint
	FTPSpoofPort     uint
	FTPDataSpoofPort uint

	RelayMaxChunk       int
	RelayConnectTimeout time.Duration
	RelayReadTimeout    time.Duration

	HTTPMaxContentLength int
	BlockSourceCode      bool

	CollectorInterval time.Duration

	WebTelemetryPath          string
	WebDisableExporterMetrics bool
	WebMaxRequests            int
	WebListenAddresses        multiString

	LogLevel  string
	LogFormat string

	ShowHelp    bool
	ShowVersion bool
}

// ParseFlags parses the process command line and the config file it names.
func ParseFlags() (Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse registers all flags on fs and parses args. When --config.file is
// given, its keys fill every flag that was not set on the command line.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config

	fs.StringVar(&cfg.ConfigFile, "config.file", "", "Optional YAML file whose keys mirror the flag names. Command-line flags win.")

	fs.StringVar(&cfg.SysfsPath, "path.sysfs", "/sys", "Sysfs mountpoint.")
	fs.StringVar(&cfg.ConntabPath, "conntab.path", conntrack.DefaultPath, "Connection table attribute, relative to the sysfs mountpoint.")
	fs.StringVar(&cfg.FirewallActivePath, "firewall.active-path", fwctl.DefaultActivePath, "Firewall active attribute, relative to the sysfs mountpoint.")
	fs.BoolVar(&cfg.FirewallActivate, "firewall.activate", false, "Activate the kernel firewall at startup.")
	fs.BoolVar(&cfg.FirewallRequireActive, "firewall.require-active", false, "Refuse to start while the kernel firewall is inactive.")

	fs.Var(&cfg.ListenAddresses, "listen.address", "Address to accept redirected connections on. Repeatable. Defaults to 10.1.1.3 and 10.1.2.3.")
	fs.IntVar(&cfg.ListenBacklog, "listen.backlog", 5, "Accept backlog of every listening socket.")

	fs.UintVar(&cfg.HTTPPort, "port.http", uint(ports.HTTP), "Port of real HTTP servers.")
	fs.UintVar(&cfg.FTPPort, "port.ftp", uint(ports.FTPControl), "Port of real FTP control servers.")
	fs.UintVar(&cfg.FTPDataPort, "port.ftp-data", uint(ports.FTPData), "Port real FTP servers open data connections from.")
	fs.UintVar(&cfg.HTTPSpoofPort, "port.http-spoof", uint(ports.HTTPSpoof), "Port the firewall redirects HTTP connections to.")
	fs.UintVar(&cfg.FTPSpoofPort, "port.ftp-spoof", uint(ports.FTPControlSpoof), "Port the firewall redirects FTP control connections to.")
	fs.UintVar(&cfg.FTPDataSpoofPort, "port.ftp-data-spoof", uint(ports.FTPDataSpoof), "Port the firewall redirects FTP data connections to.")

	fs.IntVar(&cfg.RelayMaxChunk, "relay.max-chunk", 8192, "Largest chunk read and inspected at once, in bytes.")
	fs.DurationVar(&cfg.RelayConnectTimeout, "relay.connect-timeout", 25*time.Second, "Timeout for connecting to the real server.")
	fs.DurationVar(&cfg.RelayReadTimeout, "relay.read-timeout", 3*time.Second, "Idle interval between liveness checks on a relayed connection.")

	fs.IntVar(&cfg.HTTPMaxContentLength, "inspect.http-max-content-length", 5000, "Largest Content-Length accepted in HTTP responses.")
	fs.BoolVar(&cfg.BlockSourceCode, "inspect.block-source-code", false, "Reset flows whose outbound payload looks like C source code.")

	fs.DurationVar(&cfg.CollectorInterval, "collector.interval", 15*time.Second, "Interval between connection table snapshots. Use 0 to disable.")

	fs.StringVar(&cfg.WebTelemetryPath, "web.telemetry-path", "/metrics", "Path under which to expose metrics.")
	fs.BoolVar(&cfg.WebDisableExporterMetrics, "web.disable-exporter-metrics", false, "Exclude metrics about the proxy process itself (promhttp_*, process_*, go_*).")
	fs.IntVar(&cfg.WebMaxRequests, "web.max-requests", 40, "Maximum number of parallel scrape requests. Use 0 to disable.")
	fs.Var(&cfg.WebListenAddresses, "web.listen-address", "Address on which to expose metrics. Repeatable. No address disables the web server. Examples: :9100 or [::1]:9100")

	fs.StringVar(&cfg.LogLevel, "log.level", "info", "Only log messages with the given severity or above. One of: [debug, info, warn, error]")
	fs.StringVar(&cfg.LogFormat, "log.format", "logfmt", "Output format of log messages. One of: [logfmt, json]")

	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help and exit.")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help and exit.")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show application version and exit.")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show application version and exit.")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.ConfigFile != "" {
		if err := applyFile(fs, cfg.ConfigFile); err != nil {
			return cfg, err
		}
	}

	if len(cfg.ListenAddresses) == 0 {
		cfg.ListenAddresses = append(cfg.ListenAddresses, defaultListenAddresses...)
	}

	return cfg, nil
}

// applyFile sets every flag named in the YAML file at path that was not set
// explicitly. Nested mappings are joined with dots, so `relay: {max-chunk: 1}`
// and `relay.max-chunk: 1` are equivalent.
func applyFile(fs *flag.FlagSet, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "read config file %s", path)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return errors.Wrapf(err, errors.KindMalformed, "parse config file %s", path)
	}

	values := map[string][]string{}
	if err := flatten("", doc, values); err != nil {
		return errors.Wrapf(err, errors.KindMalformed, "config file %s", path)
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, name := range keys {
		if name == "config.file" {
			return errors.Errorf(errors.KindMalformed, "config file %s: config.file cannot be nested", path)
		}
		if fs.Lookup(name) == nil {
			return errors.Errorf(errors.KindMalformed, "config file %s: unknown key %q", path, name)
		}
		if explicit[name] {
			continue
		}
		for _, v := range values[name] {
			if err := fs.Set(name, v); err != nil {
				return errors.Wrapf(err, errors.KindMalformed, "config file %s: key %q", path, name)
			}
		}
	}
	return nil
}

func flatten(prefix string, node map[string]any, out map[string][]string) error {
	for k, v := range node {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}

		switch val := v.(type) {
		case map[string]any:
			if err := flatten(name, val, out); err != nil {
				return err
			}
		case []any:
			for _, item := range val {
				s, err := scalar(name, item)
				if err != nil {
					return err
				}
				out[name] = append(out[name], s)
			}
		default:
			s, err := scalar(name, val)
			if err != nil {
				return err
			}
			out[name] = append(out[name], s)
		}
	}
	return nil
}

func scalar(name string, v any) (string, error) {
	switch v.(type) {
	case string, bool, int, int64, uint64, float64:
		return fmt.Sprint(v), nil
	case nil:
		return "", fmt.Errorf("key %q has no value", name)
	default:
		return "", fmt.Errorf("key %q: unsupported value %v", name, v)
	}
}

// Validate rejects values the proxy cannot run with.
func (c Config) Validate() error {
	if _, err := c.ListenAddrs(); err != nil {
		return err
	}

	for name, p := range map[string]uint{
		"port.http":           c.HTTPPort,
		"port.ftp":            c.FTPPort,
		"port.ftp-data":       c.FTPDataPort,
		"port.http-spoof":     c.HTTPSpoofPort,
		"port.ftp-spoof":      c.FTPSpoofPort,
		"port.ftp-data-spoof": c.FTPDataSpoofPort,
	} {
		if p == 0 || p > 65535 {
			return errors.Errorf(errors.KindMalformed, "%s: port %d out of range", name, p)
		}
	}

	for name, v := range map[string]int{
		"listen.backlog":                  c.ListenBacklog,
		"relay.max-chunk":                 c.RelayMaxChunk,
		"inspect.http-max-content-length": c.HTTPMaxContentLength,
	} {
		if v <= 0 {
			return errors.Errorf(errors.KindMalformed, "%s must be positive, got %d", name, v)
		}
	}

	for name, d := range map[string]time.Duration{
		"relay.connect-timeout": c.RelayConnectTimeout,
		"relay.read-timeout":    c.RelayReadTimeout,
	} {
		if d <= 0 {
			return errors.Errorf(errors.KindMalformed, "%s must be positive, got %s", name, d)
		}
	}
	if c.CollectorInterval < 0 {
		return errors.Errorf(errors.KindMalformed, "collector.interval must not be negative, got %s", c.CollectorInterval)
	}
	if c.WebMaxRequests < 0 {
		return errors.Errorf(errors.KindMalformed, "web.max-requests must not be negative, got %d", c.WebMaxRequests)
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, errors.KindMalformed, "log.level")
	}
	if _, err := logging.ParseFormat(c.LogFormat); err != nil {
		return errors.Wrap(err, errors.KindMalformed, "log.format")
	}
	return nil
}

// ListenAddrs parses the configured relay listen addresses.
func (c Config) ListenAddrs() ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(c.ListenAddresses))
	for _, s := range c.ListenAddresses {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindMalformed, "listen.address %q", s)
		}
		out = append(out, a.Unmap())
	}
	return out, nil
}

// PortMap returns the configured real-server and spoof ports.
func (c Config) PortMap() ports.Map {
	return ports.Map{
		HTTP:            uint16(c.HTTPPort),
		FTPControl:      uint16(c.FTPPort),
		FTPData:         uint16(c.FTPDataPort),
		HTTPSpoof:       uint16(c.HTTPSpoofPort),
		FTPControlSpoof: uint16(c.FTPSpoofPort),
		FTPDataSpoof:    uint16(c.FTPDataSpoofPort),
	}
}

type multiString []string

func (m *multiString) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiString) Set(value string) error {
	*m = append(*m, value)
	return nil
}
