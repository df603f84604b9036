package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAddr is the default game transport address.
	DefaultAddr = ":27960"
	// DefaultProto selects the game transport.
	DefaultProto = "kcp"
	// DefaultTickRate is the authoritative simulation rate in Hz.
	DefaultTickRate = 30
	// DefaultMaxClients bounds concurrent players. Zero disables the limit.
	DefaultMaxClients = 16
	// DefaultMode names the game mode advertised in Welcome.
	DefaultMode = "deathmatch"
	// DefaultServerName is advertised to the master server.
	DefaultServerName = "netcore"
	// DefaultCompression selects the payload compressor for large packets.
	DefaultCompression = "snappy"

	// DefaultHTTPAddr serves liveness, readiness and metrics.
	DefaultHTTPAddr = ":8080"
	// DefaultGRPCAddr serves the gRPC health service. Empty disables it.
	DefaultGRPCAddr = ":8081"

	// DefaultDemoFlushWindow bounds how frequently demo flushes may be requested.
	DefaultDemoFlushWindow = time.Minute
	// DefaultDemoFlushBurst sets how many demo flushes may be made per window.
	DefaultDemoFlushBurst = 1

	// DefaultDemoMaxMatches bounds how many demo bundles are kept on disk.
	DefaultDemoMaxMatches = 20
	// DefaultDemoMaxAge prunes demo bundles older than this.
	DefaultDemoMaxAge = 7 * 24 * time.Hour

	// DefaultSessionTTL is how long a reconnect token stays valid.
	DefaultSessionTTL = 5 * time.Minute

	// DefaultMasterInterval is the registration heartbeat cadence.
	DefaultMasterInterval = 30 * time.Second

	// DefaultLogLevel controls verbosity for logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "netcore.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the game server.
type Config struct {
	Address         string
	Proto           string
	TickRate        int
	MaxClients      int
	Mode            string
	ServerName      string
	Compression     string
	SpawnPoints     []string
	HTTPAddress     string
	GRPCAddress     string
	AdminToken      string
	DemoDir         string
	DemoFlushWindow time.Duration
	DemoFlushBurst  int
	DemoMaxMatches  int
	DemoMaxAge      time.Duration
	SessionSecret   string
	SessionTTL      time.Duration
	MasterURL       string
	MasterInterval  time.Duration
	Logging         LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the configuration from environment variables, applying sane defaults
// and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         getString("NETCORE_ADDR", DefaultAddr),
		Proto:           strings.ToLower(getString("NETCORE_PROTO", DefaultProto)),
		TickRate:        DefaultTickRate,
		MaxClients:      DefaultMaxClients,
		Mode:            getString("NETCORE_MODE", DefaultMode),
		ServerName:      getString("NETCORE_SERVER_NAME", DefaultServerName),
		Compression:     strings.ToLower(getString("NETCORE_COMPRESSION", DefaultCompression)),
		SpawnPoints:     parseList(os.Getenv("NETCORE_SPAWN_POINTS")),
		HTTPAddress:     getString("NETCORE_HTTP_ADDR", DefaultHTTPAddr),
		GRPCAddress:     getString("NETCORE_GRPC_ADDR", DefaultGRPCAddr),
		AdminToken:      strings.TrimSpace(os.Getenv("NETCORE_ADMIN_TOKEN")),
		DemoDir:         strings.TrimSpace(os.Getenv("NETCORE_DEMO_DIR")),
		DemoFlushWindow: DefaultDemoFlushWindow,
		DemoFlushBurst:  DefaultDemoFlushBurst,
		DemoMaxMatches:  DefaultDemoMaxMatches,
		DemoMaxAge:      DefaultDemoMaxAge,
		SessionSecret:   strings.TrimSpace(os.Getenv("NETCORE_SESSION_SECRET")),
		SessionTTL:      DefaultSessionTTL,
		MasterURL:       strings.TrimSpace(os.Getenv("NETCORE_MASTER_URL")),
		MasterInterval:  DefaultMasterInterval,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("NETCORE_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("NETCORE_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	switch cfg.Proto {
	case "tcp", "kcp", "ws":
	default:
		problems = append(problems, fmt.Sprintf("NETCORE_PROTO must be one of tcp, kcp or ws, got %q", cfg.Proto))
	}

	switch cfg.Compression {
	case "none", "gzip", "snappy", "zstd":
	default:
		problems = append(problems, fmt.Sprintf("NETCORE_COMPRESSION must be one of none, gzip, snappy or zstd, got %q", cfg.Compression))
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_TICK_RATE")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 240 {
			problems = append(problems, fmt.Sprintf("NETCORE_TICK_RATE must be an integer in 1..240, got %q", raw))
		} else {
			cfg.TickRate = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_MAX_CLIENTS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_MAX_CLIENTS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxClients = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_DEMO_FLUSH_WINDOW")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_DEMO_FLUSH_WINDOW must be a positive duration, got %q", raw))
		} else {
			cfg.DemoFlushWindow = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_DEMO_FLUSH_BURST")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_DEMO_FLUSH_BURST must be a positive integer, got %q", raw))
		} else {
			cfg.DemoFlushBurst = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_DEMO_MAX_MATCHES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_DEMO_MAX_MATCHES must be a non-negative integer, got %q", raw))
		} else {
			cfg.DemoMaxMatches = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_DEMO_MAX_AGE")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_DEMO_MAX_AGE must be a non-negative duration, got %q", raw))
		} else {
			cfg.DemoMaxAge = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_SESSION_TTL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_SESSION_TTL must be a positive duration, got %q", raw))
		} else {
			cfg.SessionTTL = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_MASTER_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_MASTER_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.MasterInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("NETCORE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("NETCORE_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("NETCORE_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	for _, point := range cfg.SpawnPoints {
		if _, err := ParseVec3(point); err != nil {
			problems = append(problems, fmt.Sprintf("NETCORE_SPAWN_POINTS entry %q: %v", point, err))
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

// ParseVec3 parses "x:y:z" into three floats.
func ParseVec3(raw string) ([3]float32, error) {
	var out [3]float32
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return out, fmt.Errorf("expected x:y:z")
	}
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return out, fmt.Errorf("component %d: %w", i, err)
		}
		out[i] = float32(value)
	}
	return out, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}
