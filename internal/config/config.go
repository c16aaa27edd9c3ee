// Package config loads relay and peer settings from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
)

// RelayConfig configures the signaling relay.
type RelayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MaxConnections is the live peer ceiling. Zero disables the check.
	MaxConnections int `yaml:"max_connections"`

	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	RateLimitMax    int           `yaml:"rate_limit_max"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// MaxMessageSize bounds a single inbound relay frame, in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// CORSOrigin "*" accepts any origin; anything else restricts browsers
	// to AllowedOrigins.
	CORSOrigin     string   `yaml:"cors_origin"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// UpgradeRate limits WebSocket handshakes per second across all clients.
	// Zero disables the limiter.
	UpgradeRate  float64 `yaml:"upgrade_rate"`
	UpgradeBurst int     `yaml:"upgrade_burst"`

	LogLevel string `yaml:"log_level"`
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Host:              "0.0.0.0",
		Port:              8080,
		MaxConnections:    1000,
		RateLimitWindow:   10 * time.Second,
		RateLimitMax:      50,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    64 * KiB,
		CORSOrigin:        "*",
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		UpgradeRate:  50,
		UpgradeBurst: 100,
		LogLevel:     "info",
	}
}

func (c RelayConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Restricted reports whether origins outside AllowedOrigins are refused.
func (c RelayConfig) Restricted() bool {
	return c.CORSOrigin != "*"
}

// OriginAllowed applies the allowlist. Requests without an Origin header
// (native clients) are always allowed.
func (c RelayConfig) OriginAllowed(origin string) bool {
	if origin == "" || !c.Restricted() {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func (c RelayConfig) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, errors.New("max_connections must not be negative"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate_limit_window must be positive"))
	}
	if c.RateLimitMax <= 0 {
		errs = append(errs, errors.New("rate_limit_max must be positive"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat_interval must be positive"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max_message_size must be positive"))
	}
	return errors.Join(errs...)
}

// PeerConfig configures the peer-side client.
type PeerConfig struct {
	SignalingServerURL string   `yaml:"signaling_server_url"`
	STUNServers        []string `yaml:"stun_servers"`

	ChunkSize int `yaml:"chunk_size"`

	// BufferThreshold is the sender's low-water mark. Zero derives it from
	// ChunkSize, see Threshold.
	BufferThreshold uint64 `yaml:"buffer_threshold"`

	MaxFileSize  int64 `yaml:"max_file_size"`
	WarnFileSize int64 `yaml:"warn_file_size"`

	PingInterval time.Duration `yaml:"ping_interval"`

	DeviceName string `yaml:"device_name"`
	DeviceType string `yaml:"device_type"`

	DownloadDir string `yaml:"download_dir"`
	HistoryDB   string `yaml:"history_db"`

	LogLevel string `yaml:"log_level"`
}

func DefaultPeerConfig() PeerConfig {
	hostname, _ := os.Hostname()
	return PeerConfig{
		SignalingServerURL: "ws://localhost:8080",
		STUNServers:        append([]string(nil), defaultSTUNServers...),
		ChunkSize:          64 * KiB,
		MaxFileSize:        800 * MiB,
		WarnFileSize:       500 * MiB,
		PingInterval:       10 * time.Second,
		DeviceName:         hostname,
		DeviceType:         "desktop",
		DownloadDir:        ".",
		HistoryDB:          "peer-share.sqlite3",
		LogLevel:           "info",
	}
}

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// Threshold returns the buffered-amount mark above which a sender pauses:
// BufferThreshold when set, else min(8*ChunkSize, 2 MiB).
func (c PeerConfig) Threshold() uint64 {
	if c.BufferThreshold > 0 {
		return c.BufferThreshold
	}
	return min(uint64(8*c.ChunkSize), 2*MiB)
}

func (c PeerConfig) Validate() error {
	var errs []error
	if c.SignalingServerURL == "" {
		errs = append(errs, errors.New("signaling_server_url is required"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk_size must be positive"))
	}
	if c.MaxFileSize <= 0 {
		errs = append(errs, errors.New("max_file_size must be positive"))
	}
	return errors.Join(errs...)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadRelay returns the relay configuration from defaults, the YAML file at
// path (skipped when path is empty) and the environment.
func LoadRelay(path string, lookup LookupFunc) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := applyRelayEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadPeer is LoadRelay for the peer client.
func LoadPeer(path string, lookup LookupFunc) (PeerConfig, error) {
	cfg := DefaultPeerConfig()
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := applyPeerEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyRelayEnv(cfg *RelayConfig, lookup LookupFunc) error {
	env := envReader{lookup: lookup}

	env.str("HOST", &cfg.Host)
	env.int("PORT", &cfg.Port)
	env.int("MAX_CONNECTIONS", &cfg.MaxConnections)
	env.duration("RATE_LIMIT_WINDOW", &cfg.RateLimitWindow)
	env.int("RATE_LIMIT_MAX", &cfg.RateLimitMax)
	env.duration("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	env.int64("MAX_MESSAGE_SIZE", &cfg.MaxMessageSize)
	env.str("CORS_ORIGIN", &cfg.CORSOrigin)
	env.float("UPGRADE_RATE", &cfg.UpgradeRate)
	env.str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := env.get("FRONTEND_URL"); ok && v != "" {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, v)
	}
	if v, ok := env.get("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, splitList(v)...)
	}

	return env.err()
}

func applyPeerEnv(cfg *PeerConfig, lookup LookupFunc) error {
	env := envReader{lookup: lookup}

	env.str("SIGNALING_SERVER_URL", &cfg.SignalingServerURL)
	env.int("CHUNK_SIZE", &cfg.ChunkSize)
	env.uint64("BUFFER_THRESHOLD", &cfg.BufferThreshold)
	env.int64("MAX_FILE_SIZE", &cfg.MaxFileSize)
	env.int64("WARN_FILE_SIZE", &cfg.WarnFileSize)
	env.duration("PING_INTERVAL", &cfg.PingInterval)
	env.str("DEVICE_NAME", &cfg.DeviceName)
	env.str("DEVICE_TYPE", &cfg.DeviceType)
	env.str("DOWNLOAD_DIR", &cfg.DownloadDir)
	env.str("HISTORY_DB", &cfg.HistoryDB)
	env.str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := env.get("STUN_SERVERS"); ok && v != "" {
		cfg.STUNServers = splitList(v)
	}

	return env.err()
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(key)
	return strings.TrimSpace(v), ok
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) int64(key string, dst *int64) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) uint64(key string, dst *uint64) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

// duration accepts Go duration syntax or a bare integer in milliseconds.
func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	d, err := ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

// ParseDuration parses "30s"-style values and bare millisecond counts.
func ParseDuration(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
