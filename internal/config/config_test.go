package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoad_RequiresNodeID(t *testing.T) {
	clearEnv(t, "NODE_ID")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "NODE_ID", "PEERS", "CLIENT_PEERS", "CLIENT_PORT", "PEER_PORT", "ADMIN_PORT")
	os.Setenv("NODE_ID", "node1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, consensus.NodeID("node1"), cfg.Cluster.NodeID)
	assert.Equal(t, 8080, cfg.Cluster.ClientPort)
	assert.Equal(t, 9090, cfg.Cluster.PeerPort)
	assert.Equal(t, 9091, cfg.Cluster.AdminPort)
	assert.Equal(t, 150*time.Millisecond, cfg.Cluster.ElectionTimeoutMin)
	assert.Equal(t, "file", cfg.Storage.Backend)
}

func TestLoad_ParsesPeersAndClientPeers(t *testing.T) {
	clearEnv(t, "NODE_ID", "PEERS", "CLIENT_PEERS")
	os.Setenv("NODE_ID", "node1")
	os.Setenv("PEERS", "node2=localhost:9091,node3=localhost:9092")
	os.Setenv("CLIENT_PEERS", "node2=http://localhost:8081,node3=http://localhost:8082")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:9091", cfg.Cluster.Peers[consensus.NodeID("node2")])
	assert.Equal(t, "http://localhost:8082", cfg.Cluster.ClientPeers[consensus.NodeID("node3")])
}

func TestLoad_RejectsMalformedPeers(t *testing.T) {
	clearEnv(t, "NODE_ID", "PEERS")
	os.Setenv("NODE_ID", "node1")
	os.Setenv("PEERS", "not-a-valid-entry")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t, "NODE_ID", "CLIENT_PORT", "LOG_LEVEL", "REDIS_ENABLED")
	os.Setenv("NODE_ID", "node1")
	os.Setenv("CLIENT_PORT", "9000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Cluster.ClientPort)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Redis.Enabled)
}
