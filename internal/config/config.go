// Package config loads the daemon configuration from the environment,
// applies defaults, and validates it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHTTPAddr       = "127.0.0.1:8080"
	DefaultTransport      = "tcp"
	DefaultDeviceAddr     = "192.168.4.1:3333"
	DefaultDeviceName     = "POSTURA-01"
	DefaultPeerPattern    = "postura"
	DefaultMQTTBroker     = "tcp://127.0.0.1:1883"
	DefaultMQTTPrefix     = "posturelink"
	DefaultOwnerID        = "local"
	DefaultQueuePath      = "posturelink-buffer.db"
	DefaultQueueCapacity  = 500
	DefaultSustainDelayMS = 5000
	DefaultBreakAfterMin  = 60
)

// Peer is one configured device endpoint.
type Peer struct {
	Name    string
	Address string
}

type Config struct {
	HTTPAddr string

	// Device link.
	Transport   string // tcp or mqtt
	Peers       []Peer
	PeerPattern string
	MQTTBroker  string
	MQTTPrefix  string
	LinkKey     string
	LinkCRC     bool
	LinkCipher  bool

	// Session accounting.
	OwnerID      string
	AlarmEnabled bool
	SustainDelay time.Duration
	BreakAfter   time.Duration

	// Sync and buffering.
	RedisAddr     string // empty disables the external store
	RedisPassword string
	RedisDB       int
	QueuePath     string
	QueueCapacity int

	// Session archive, optional.
	ArchiveEndpoint  string
	ArchiveBucket    string
	ArchivePrefix    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveRegion    string

	// Logging.
	LogLevel  string
	LogFormat string
}

// Load reads the environment, applies defaults, and validates.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:         envOrDefault("POSTURELINK_HTTP_ADDR", DefaultHTTPAddr),
		Transport:        envOrDefault("POSTURELINK_TRANSPORT", DefaultTransport),
		Peers:            parsePeers(envOrDefault("POSTURELINK_PEERS", DefaultDeviceName+"="+DefaultDeviceAddr)),
		PeerPattern:      envOrDefault("POSTURELINK_PEER_PATTERN", DefaultPeerPattern),
		MQTTBroker:       envOrDefault("POSTURELINK_MQTT_BROKER", DefaultMQTTBroker),
		MQTTPrefix:       envOrDefault("POSTURELINK_MQTT_PREFIX", DefaultMQTTPrefix),
		LinkKey:          os.Getenv("POSTURELINK_LINK_KEY"),
		LinkCRC:          envBool("POSTURELINK_LINK_CRC", false),
		LinkCipher:       envBool("POSTURELINK_LINK_ENCRYPTION", false),
		OwnerID:          envOrDefault("POSTURELINK_OWNER_ID", DefaultOwnerID),
		AlarmEnabled:     envBool("POSTURELINK_ALARM", true),
		SustainDelay:     time.Duration(envInt("POSTURELINK_SUSTAIN_MS", DefaultSustainDelayMS)) * time.Millisecond,
		BreakAfter:       time.Duration(envInt("POSTURELINK_BREAK_MIN", DefaultBreakAfterMin)) * time.Minute,
		RedisAddr:        os.Getenv("POSTURELINK_REDIS_ADDR"),
		RedisPassword:    os.Getenv("POSTURELINK_REDIS_PASSWORD"),
		RedisDB:          envInt("POSTURELINK_REDIS_DB", 0),
		QueuePath:        envOrDefault("POSTURELINK_QUEUE_PATH", DefaultQueuePath),
		QueueCapacity:    envInt("POSTURELINK_QUEUE_CAPACITY", DefaultQueueCapacity),
		ArchiveEndpoint:  os.Getenv("POSTURELINK_ARCHIVE_ENDPOINT"),
		ArchiveBucket:    os.Getenv("POSTURELINK_ARCHIVE_BUCKET"),
		ArchivePrefix:    os.Getenv("POSTURELINK_ARCHIVE_PREFIX"),
		ArchiveAccessKey: os.Getenv("POSTURELINK_ARCHIVE_ACCESS_KEY"),
		ArchiveSecretKey: os.Getenv("POSTURELINK_ARCHIVE_SECRET_KEY"),
		ArchiveRegion:    os.Getenv("POSTURELINK_ARCHIVE_REGION"),
		LogLevel:         envOrDefault("POSTURELINK_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("POSTURELINK_LOG_FORMAT", "json"),
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces invariants beyond simple defaulting.
func Validate(cfg Config) error {
	switch cfg.Transport {
	case "tcp", "mqtt":
	default:
		return fmt.Errorf("transport must be tcp or mqtt, got %q", cfg.Transport)
	}
	if len(cfg.Peers) == 0 {
		return fmt.Errorf("at least one peer is required")
	}
	for _, p := range cfg.Peers {
		if p.Name == "" || p.Address == "" {
			return fmt.Errorf("peer entries need both name and address")
		}
	}
	if cfg.Transport == "mqtt" && cfg.MQTTBroker == "" {
		return fmt.Errorf("mqtt broker is required for mqtt transport")
	}
	if cfg.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	if cfg.ArchiveEndpoint != "" && cfg.ArchiveBucket == "" {
		return fmt.Errorf("archive bucket is required when archive endpoint is set")
	}
	return nil
}

// ArchiveEnabled reports whether session archiving is configured.
func (c Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != "" && c.ArchiveBucket != ""
}

// StoreEnabled reports whether the external store is configured.
func (c Config) StoreEnabled() bool {
	return c.RedisAddr != ""
}

// parsePeers parses "NAME=addr,NAME=addr" into the peer table. Malformed
// entries are skipped rather than fatal so one typo does not take the
// monitor down.
func parsePeers(raw string) []Peer {
	var peers []Peer
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, addr, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		peers = append(peers, Peer{Name: strings.TrimSpace(name), Address: strings.TrimSpace(addr)})
	}
	return peers
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
