// Package config loads this replica's configuration from environment
// variables, following the teacher's plain env-var Config pattern rather
// than a heavier viper/koanf setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

// Config is the full per-replica configuration surface: the consensus
// cluster topology and timing plus the ambient concerns (auth, storage,
// transport, observability) the expanded spec wires in.
type Config struct {
	Cluster ClusterConfig
	Auth    AuthConfig
	Storage StorageConfig
	Redis   RedisConfig
	NATS    NATSConfig
	Logging LoggingConfig
	RateLimit RateLimitConfig
}

// ClusterConfig matches spec.md's configuration surface field-for-field:
// {node_id, client_port, peer_port, peers, election_timeout_min,
// election_timeout_max, heartbeat_interval, submit_timeout}.
type ClusterConfig struct {
	NodeID             consensus.NodeID
	ClientPort         int
	PeerPort           int
	AdminPort          int
	Peers              map[consensus.NodeID]string
	// ClientPeers maps every other replica's NodeID to its client-facing
	// base URL (e.g. "http://10.0.0.2:8080"), used by the RequestRouter's
	// single-hop write-forwarding fallback. Distinct from Peers, which
	// carries peer-port addresses for the consensus transport.
	ClientPeers        map[consensus.NodeID]string
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	SubmitTimeout      time.Duration
	PeerRPCTimeout     time.Duration
	Transport          string // "rpc" | "websocket"
}

// AuthConfig carries the optional jwt_secret/token_ttl fields from
// spec.md's configuration surface.
type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// StorageConfig selects and configures the consensus.Storage backend.
type StorageConfig struct {
	Backend      string // "file" | "postgres"
	DataDir      string
	PostgresDSN  string
}

// RedisConfig configures the optional cross-replica idempotency set.
type RedisConfig struct {
	Enabled bool
	Addr    string
	Password string
	DB      int
}

// NATSConfig configures the AssistService forwarding transport.
type NATSConfig struct {
	URL     string
	Subject string
}

// LoggingConfig configures the zap logger built in cmd/server.
type LoggingConfig struct {
	Level string
}

// RateLimitConfig configures the per-principal client-facing limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load builds a Config from environment variables. NODE_ID is required;
// every other field, PEERS included, has a sane default for local
// development (an empty PEERS yields a single-node cluster).
func Load() (*Config, error) {
	nodeID := getEnv("NODE_ID", "")
	if nodeID == "" {
		return nil, fmt.Errorf("NODE_ID is required")
	}

	peers, err := parsePeers(getEnv("PEERS", ""))
	if err != nil {
		return nil, fmt.Errorf("parse PEERS: %w", err)
	}

	clientPeers, err := parsePeers(getEnv("CLIENT_PEERS", ""))
	if err != nil {
		return nil, fmt.Errorf("parse CLIENT_PEERS: %w", err)
	}

	return &Config{
		Cluster: ClusterConfig{
			NodeID:             consensus.NodeID(nodeID),
			ClientPort:         getEnvInt("CLIENT_PORT", 8080),
			PeerPort:           getEnvInt("PEER_PORT", 9090),
			AdminPort:          getEnvInt("ADMIN_PORT", 9091),
			Peers:              peers,
			ClientPeers:        clientPeers,
			ElectionTimeoutMin: getEnvDuration("ELECTION_TIMEOUT_MIN", 150*time.Millisecond),
			ElectionTimeoutMax: getEnvDuration("ELECTION_TIMEOUT_MAX", 300*time.Millisecond),
			HeartbeatInterval:  getEnvDuration("HEARTBEAT_INTERVAL", 50*time.Millisecond),
			SubmitTimeout:      getEnvDuration("SUBMIT_TIMEOUT", 5*time.Second),
			PeerRPCTimeout:     getEnvDuration("PEER_RPC_TIMEOUT", 2*time.Second),
			Transport:          getEnv("TRANSPORT", "rpc"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
			TokenTTL:  getEnvDuration("TOKEN_TTL", time.Hour),
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "file"),
			DataDir:     getEnv("DATA_DIR", "./data/"+nodeID),
			PostgresDSN: getEnv("POSTGRES_DSN", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Subject: getEnv("NATS_ASSIST_SUBJECT", "raftbooking.assist.ask"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 40),
		},
	}, nil
}

// parsePeers parses "nodeB=host:9091,nodeC=host:9092" into a NodeID->addr
// map. The local node must not appear in PEERS; callers address it via
// ClusterConfig.NodeID/PeerPort instead.
func parsePeers(raw string) (map[consensus.NodeID]string, error) {
	peers := make(map[consensus.NodeID]string)
	if raw == "" {
		return peers, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed peer entry %q, want nodeId=host:port", entry)
		}
		peers[consensus.NodeID(parts[0])] = parts[1]
	}
	return peers, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
