// Package consensus defines the domain-agnostic types and interfaces shared
// by a replicated node: log entries, messages, transport, storage, and the
// state machine the log drives. The Raft algorithm itself lives in the raft
// subpackage; this package only names the shapes it and its collaborators
// (routers, transports, storage backends) agree on.
package consensus

import (
	"context"
	"time"
)

// NodeID identifies a replica within the cluster.
type NodeID string

// Term is a Raft logical clock.
type Term uint64

// LogIndex is a one-based index into the replicated log. Zero means "no entry".
type LogIndex uint64

// ConsensusMessage is the envelope every peer RPC travels in, whether it
// rides net/rpc or a websocket frame.
type ConsensusMessage struct {
	Type      MessageType `json:"type"`
	Term      Term        `json:"term"`
	From      NodeID      `json:"from"`
	To        NodeID      `json:"to"`
	Data      []byte      `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// MessageType distinguishes the two RPCs Raft defines.
type MessageType int

const (
	RequestVoteMsg MessageType = iota
	RequestVoteResponseMsg
	AppendEntriesMsg
	AppendEntriesResponseMsg
)

// ConsensusState is the role a node currently occupies.
type ConsensusState int

const (
	Follower ConsensusState = iota
	Candidate
	Leader
)

func (s ConsensusState) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// LogEntry is one command in the replicated log. Command is the
// JSON-encoded booking command (book_ticket/cancel_booking/process_payment);
// the consensus layer never inspects its contents.
type LogEntry struct {
	Index     LogIndex  `json:"index"`
	Term      Term      `json:"term"`
	Command   []byte    `json:"command"`
	Timestamp time.Time `json:"timestamp"`
	Committed bool      `json:"committed"`
}

// Consensus is the interface a request router depends on. It is satisfied
// by raft.Raft.
type Consensus interface {
	Start(ctx context.Context) error
	Stop() error

	// Submit appends command to the leader's log and blocks until it has
	// been applied, the node steps down before that happens, or the
	// node's configured submit timeout elapses. It returns an error
	// wrapping the best-known leader hint if called on a non-leader.
	Submit(ctx context.Context, command []byte) ([]byte, error)

	GetState() ConsensusState
	GetLeader() NodeID
	IsLeader() bool
	GetTerm() Term
}

// StateMachine is a deterministic function from committed commands to state
// transitions. Apply is invoked strictly in commit order by exactly one
// applier goroutine per node. A domain-level rejection (e.g. "seat already
// booked") is returned as a JSON result payload, not as the error return
// value — applying a command the domain rejects is still a successful
// consensus outcome. The error return is reserved for truly unexpected
// failures (e.g. malformed command bytes).
type StateMachine interface {
	Apply(entry *LogEntry) ([]byte, error)
}

// Transport carries ConsensusMessage envelopes between peers. Implementations
// (transport/rpc.go, transport/websocket.go) are interchangeable.
type Transport interface {
	Send(nodeID NodeID, msg *ConsensusMessage) error
	Broadcast(msg *ConsensusMessage) error
	Receive() <-chan *ConsensusMessage
	Start() error
	Stop() error
	GetAddress(nodeID NodeID) string
}

// Storage persists the fields of a node's persistent state so a restarted
// node does not have to relitigate votes or replay from another replica.
// Implementations may be best-effort: the cluster is specified as correct
// even with an in-memory Storage, per the Non-goals around full-cluster
// restart.
type Storage interface {
	SaveState(state PersistentState) error
	LoadState() (PersistentState, error)
	SaveLog(entries []*LogEntry) error
	LoadLog() ([]*LogEntry, error)
	Close() error
}

// PersistentState is the durable subset of a node's state.
type PersistentState struct {
	CurrentTerm Term   `json:"current_term"`
	VotedFor    NodeID `json:"voted_for"`
}

// Config configures one node's participation in the cluster, matching the
// external configuration surface: node_id, client_port, peer_port, peers,
// election_timeout_min/max, heartbeat_interval, submit_timeout.
type Config struct {
	NodeID NodeID `json:"node_id"`

	ClientPort int `json:"client_port"`
	PeerPort   int `json:"peer_port"`

	// Peers maps every other replica's NodeID to its peer-port address.
	// It never contains an entry for NodeID itself.
	Peers map[NodeID]string `json:"peers"`

	ElectionTimeoutMin time.Duration `json:"election_timeout_min"`
	ElectionTimeoutMax time.Duration `json:"election_timeout_max"`
	HeartbeatInterval  time.Duration `json:"heartbeat_interval"`
	SubmitTimeout      time.Duration `json:"submit_timeout"`

	// PeerRPCTimeout is the configured bound for a single
	// RequestVote/AppendEntries round trip. The Raft node and the bundled
	// transports do not read it; each transport applies its own timeout.
	PeerRPCTimeout time.Duration `json:"peer_rpc_timeout"`
}

// Metrics mirrors the counters pkg/metrics exposes on /metrics.
type Metrics struct {
	CurrentTerm      Term          `json:"current_term"`
	CommitIndex      LogIndex      `json:"commit_index"`
	LastApplied      LogIndex      `json:"last_applied"`
	State            string        `json:"state"`
	MessagesSent     uint64        `json:"messages_sent"`
	MessagesReceived uint64        `json:"messages_received"`
	ApplyLatency     time.Duration `json:"apply_latency"`
}
