package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	envPrefix = "FLUXCOPY_"

	// DefaultPort is the well-known port the receiver listens on.
	DefaultPort = 8000

	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

// ErrUsage marks configuration errors caused by bad arguments or values.
var ErrUsage = errors.New("usage error")

// ServerConfig holds configuration for the receiver binary.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	OutDir      string `yaml:"out_dir"`
	MaxConns    int    `yaml:"max_conns"`    // 0 means unbounded
	StrictNames bool   `yaml:"strict_names"` // refuse names with path separators
	Transport   string `yaml:"transport"`
	HealthAddr  string `yaml:"health_addr"` // empty disables the health endpoint
	ChunkSize   int    `yaml:"chunk_size"`
	LogLevel    string `yaml:"log_level"`

	SocketBuffer int `yaml:"socket_buffer"` // TCP only, 0 keeps OS defaults
}

// ClientConfig holds configuration for the sender binary.
type ClientConfig struct {
	Addr        string `yaml:"addr"`
	Transport   string `yaml:"transport"`
	Concurrency int    `yaml:"concurrency"`
	ChunkSize   int    `yaml:"chunk_size"`
	LogLevel    string `yaml:"log_level"`
	SourceDir   string `yaml:"-"`

	SocketBuffer     int           `yaml:"socket_buffer"`
	ProgressInterval time.Duration `yaml:"progress_interval"` // 0 disables progress lines
}

// DefaultServerConfig returns the receiver defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:        fmt.Sprintf(":%d", DefaultPort),
		OutDir:      "server/",
		StrictNames: true,
		Transport:   TransportTCP,
		ChunkSize:   4096,
		LogLevel:    "info",
	}
}

// DefaultClientConfig returns the sender defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Addr:        fmt.Sprintf("localhost:%d", DefaultPort),
		Transport:   TransportTCP,
		Concurrency: 1,
		ChunkSize:   4096,
		LogLevel:    "info",

		ProgressInterval: 5 * time.Second,
	}
}

// ParseServerConfig parses receiver configuration.
// Precedence: flags > environment (.env included) > YAML file > defaults.
func ParseServerConfig(args []string) (ServerConfig, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return ServerConfig{}, err
	}
	return parseServerConfigWithFlagSet(flag.NewFlagSet("fluxcpd", flag.ContinueOnError), args)
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path := configPath(args); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return ServerConfig{}, err
		}
	}

	// Read from environment
	envString("ADDR", &cfg.Addr)
	envString("OUT_DIR", &cfg.OutDir)
	envString("TRANSPORT", &cfg.Transport)
	envString("HEALTH_ADDR", &cfg.HealthAddr)
	envString("LOG_LEVEL", &cfg.LogLevel)
	if err := envInt("MAX_CONNS", &cfg.MaxConns); err != nil {
		return ServerConfig{}, err
	}
	if err := envInt("CHUNK_SIZE", &cfg.ChunkSize); err != nil {
		return ServerConfig{}, err
	}
	if err := envBool("STRICT_NAMES", &cfg.StrictNames); err != nil {
		return ServerConfig{}, err
	}
	if err := envInt("SOCKET_BUFFER", &cfg.SocketBuffer); err != nil {
		return ServerConfig{}, err
	}

	// Flags override environment
	fs.String("config", "", "YAML config file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "existing directory received files are written to")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "max concurrent connections (0 = unbounded)")
	fs.BoolVar(&cfg.StrictNames, "strict-names", cfg.StrictNames, "refuse file names containing path separators")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport (tcp, quic)")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "address for the HTTP health endpoint (empty disables it)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "copy buffer size in bytes")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.SocketBuffer, "socket-buffer", cfg.SocketBuffer, "TCP socket buffer size in bytes (0 = OS default)")
	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, usageError(err)
	}

	if fs.NArg() > 0 {
		return ServerConfig{}, fmt.Errorf("%w: unexpected arguments: %s", ErrUsage, strings.Join(fs.Args(), " "))
	}
	if cfg.MaxConns < 0 {
		return ServerConfig{}, fmt.Errorf("%w: max-conns must not be negative", ErrUsage)
	}
	if err := validateCommon(cfg.Transport, cfg.ChunkSize, cfg.SocketBuffer); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// ParseClientConfig parses sender configuration. Positional arguments are
// <source-directory> [concurrency].
// Precedence: flags and positionals > environment (.env included) > YAML file > defaults.
func ParseClientConfig(args []string) (ClientConfig, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return ClientConfig{}, err
	}
	return parseClientConfigWithFlagSet(flag.NewFlagSet("fluxcp", flag.ContinueOnError), args)
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path := configPath(args); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return ClientConfig{}, err
		}
	}

	envString("ADDR", &cfg.Addr)
	envString("TRANSPORT", &cfg.Transport)
	envString("LOG_LEVEL", &cfg.LogLevel)
	if err := envInt("CONCURRENCY", &cfg.Concurrency); err != nil {
		return ClientConfig{}, err
	}
	if err := envInt("CHUNK_SIZE", &cfg.ChunkSize); err != nil {
		return ClientConfig{}, err
	}
	if err := envInt("SOCKET_BUFFER", &cfg.SocketBuffer); err != nil {
		return ClientConfig{}, err
	}
	if err := envDuration("PROGRESS_INTERVAL", &cfg.ProgressInterval); err != nil {
		return ClientConfig{}, err
	}

	fs.String("config", "", "YAML config file")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "receiver address (host:port)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport (tcp, quic)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "copy buffer size in bytes")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.SocketBuffer, "socket-buffer", cfg.SocketBuffer, "TCP socket buffer size in bytes (0 = OS default)")
	fs.DurationVar(&cfg.ProgressInterval, "progress", cfg.ProgressInterval, "interval between progress log lines (0 disables)")
	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, usageError(err)
	}

	rest := fs.Args()
	switch {
	case len(rest) == 0:
		return ClientConfig{}, fmt.Errorf("%w: source directory location is required", ErrUsage)
	case len(rest) > 2:
		return ClientConfig{}, fmt.Errorf("%w: unnecessary arguments given", ErrUsage)
	}
	cfg.SourceDir = rest[0]
	if len(rest) == 2 {
		n, err := strconv.Atoi(rest[1])
		if err != nil {
			return ClientConfig{}, fmt.Errorf("%w: invalid concurrency %q", ErrUsage, rest[1])
		}
		cfg.Concurrency = n
	}
	if cfg.ProgressInterval < 0 {
		return ClientConfig{}, fmt.Errorf("%w: progress interval must not be negative", ErrUsage)
	}
	if cfg.Concurrency < 1 {
		return ClientConfig{}, fmt.Errorf("%w: concurrency must be at least 1", ErrUsage)
	}
	if err := validateCommon(cfg.Transport, cfg.ChunkSize, cfg.SocketBuffer); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func validateCommon(transport string, chunkSize, socketBuffer int) error {
	switch transport {
	case TransportTCP, TransportQUIC:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrUsage, transport)
	}
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk-size must be positive", ErrUsage)
	}
	if socketBuffer < 0 {
		return fmt.Errorf("%w: socket-buffer must not be negative", ErrUsage)
	}
	return nil
}

func usageError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUsage, err)
}

// configPath finds the YAML file location before flags are bound, since the
// file supplies flag defaults. The -config flag wins over FLUXCOPY_CONFIG.
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
		if value, ok := strings.CutPrefix(name, "config="); ok {
			return value
		}
	}
	return os.Getenv(envPrefix + "CONFIG")
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, out); err != nil {
		return fmt.Errorf("%w: invalid config file %s: %v", ErrUsage, path, err)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q is not an integer", ErrUsage, envPrefix, key, v)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q is not a boolean", ErrUsage, envPrefix, key, v)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s%s=%q is not a duration", ErrUsage, envPrefix, key, v)
	}
	*dst = d
	return nil
}
