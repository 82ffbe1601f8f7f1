// Package raft implements the Raft consensus algorithm over the
// domain-agnostic types in internal/consensus.
package raft

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

// Raft implements consensus.Consensus.
type Raft struct {
	mu     sync.RWMutex
	nodeID consensus.NodeID
	config *consensus.Config
	logger *zap.Logger

	// Persistent state
	currentTerm consensus.Term
	votedFor    consensus.NodeID
	log         []*consensus.LogEntry

	// Volatile state
	commitIndex consensus.LogIndex
	lastApplied consensus.LogIndex

	// Leader state
	nextIndex  map[consensus.NodeID]consensus.LogIndex
	matchIndex map[consensus.NodeID]consensus.LogIndex

	// Raft specific state
	state       consensus.ConsensusState
	leader      consensus.NodeID
	votes       map[consensus.NodeID]bool
	lastContact time.Time

	// Components
	transport    consensus.Transport
	stateMachine consensus.StateMachine
	storage      consensus.Storage

	// waiters lets Submit block until its entry is applied. A term change
	// or step-down fails every outstanding waiter rather than leaving it
	// to time out, so LostLeadership is reported promptly.
	waiters map[consensus.LogIndex]chan submitResult

	// Control channels
	applyCh        chan *consensus.LogEntry
	stepDownCh     chan struct{}
	electionTimer  *time.Timer
	heartbeatTimer *time.Timer

	// Context and cancellation
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// saveWG tracks in-flight saveState persistence goroutines, separate
	// from wg's three long-lived handler goroutines, so Stop can drain
	// them before taking one final synchronous snapshot.
	saveWG sync.WaitGroup
}

type submitResult struct {
	payload []byte
	err     error
}

// NewRaft creates a new Raft consensus instance for nodeID, participating in
// the cluster described by config.
func NewRaft(config *consensus.Config, transport consensus.Transport, stateMachine consensus.StateMachine, storage consensus.Storage, logger *zap.Logger) *Raft {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Raft{
		nodeID:       config.NodeID,
		config:       config,
		logger:       logger,
		currentTerm:  0,
		votedFor:     "",
		log:          make([]*consensus.LogEntry, 0),
		commitIndex:  0,
		lastApplied:  0,
		nextIndex:    make(map[consensus.NodeID]consensus.LogIndex),
		matchIndex:   make(map[consensus.NodeID]consensus.LogIndex),
		state:        consensus.Follower,
		votes:        make(map[consensus.NodeID]bool),
		transport:    transport,
		stateMachine: stateMachine,
		storage:      storage,
		waiters:      make(map[consensus.LogIndex]chan submitResult),
		applyCh:      make(chan *consensus.LogEntry, 100),
		stepDownCh:   make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}

	r.resetElectionTimer()
	return r
}

// Start begins the Raft consensus protocol: named goroutines for message
// handling, election timeouts, and applying committed entries.
func (r *Raft) Start(ctx context.Context) error {
	if err := r.loadState(); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	if err := r.transport.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	r.wg.Add(3)
	go r.messageHandler()
	go r.electionHandler()
	go r.applyHandler()

	r.logger.Info("raft node started", zap.String("node_id", string(r.nodeID)))
	return nil
}

// Stop gracefully shuts down the Raft instance.
func (r *Raft) Stop() error {
	r.cancel()
	r.wg.Wait()
	r.saveWG.Wait()

	if err := r.transport.Stop(); err != nil {
		return fmt.Errorf("failed to stop transport: %w", err)
	}

	if r.storage == nil {
		return nil
	}
	if err := r.storage.SaveState(consensus.PersistentState{CurrentTerm: r.currentTerm, VotedFor: r.votedFor}); err != nil {
		return err
	}
	return r.storage.SaveLog(r.log)
}

// Submit appends command to the log if this node is the leader, then blocks
// until it is applied, this node steps down first, or ctx/SubmitTimeout
// expires.
func (r *Raft) Submit(ctx context.Context, command []byte) ([]byte, error) {
	r.mu.Lock()
	if r.state != consensus.Leader {
		hint := r.leader
		r.mu.Unlock()
		return nil, &consensus.NotLeaderError{LeaderHint: hint}
	}

	entry := &consensus.LogEntry{
		Index:     consensus.LogIndex(len(r.log) + 1),
		Term:      r.currentTerm,
		Command:   command,
		Timestamp: time.Now(),
		Committed: false,
	}
	r.log = append(r.log, entry)
	r.saveState()
	// With no peers the leader alone is a majority, so the entry commits now.
	r.updateCommitIndex()

	wait := make(chan submitResult, 1)
	r.waiters[entry.Index] = wait
	r.mu.Unlock()

	r.replicateLog()

	deadline := r.config.SubmitTimeout
	if deadline <= 0 {
		deadline = 5 * time.Second
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-wait:
		return res.payload, res.err
	case <-ctx.Done():
		r.abandonWaiter(entry.Index)
		return nil, ctx.Err()
	case <-timer.C:
		r.abandonWaiter(entry.Index)
		return nil, &consensus.ReplicationTimeoutError{Index: entry.Index}
	}
}

func (r *Raft) abandonWaiter(index consensus.LogIndex) {
	r.mu.Lock()
	delete(r.waiters, index)
	r.mu.Unlock()
}

// failAllWaiters fails every outstanding Submit call, used when this node
// steps down or observes a newer term before its pending entries commit.
func (r *Raft) failAllWaiters(err error) {
	for idx, ch := range r.waiters {
		select {
		case ch <- submitResult{err: err}:
		default:
		}
		delete(r.waiters, idx)
	}
}

// GetState returns the current consensus state.
func (r *Raft) GetState() consensus.ConsensusState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// GetLeader returns the current leader node ID, or "" if unknown.
func (r *Raft) GetLeader() consensus.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leader
}

// IsLeader returns true if this node is the leader.
func (r *Raft) IsLeader() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == consensus.Leader
}

// GetTerm returns the current term.
func (r *Raft) GetTerm() consensus.Term {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentTerm
}

// messageHandler handles incoming peer messages.
func (r *Raft) messageHandler() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-r.transport.Receive():
			r.handleMessage(msg)
		}
	}
}

// handleMessage processes a consensus message, stepping down first if it
// carries a newer term.
func (r *Raft) handleMessage(msg *consensus.ConsensusMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.Term > r.currentTerm {
		r.currentTerm = msg.Term
		r.votedFor = ""
		r.stepDown()
		r.failAllWaiters(&consensus.LostLeadershipError{})
		r.saveState()
	}

	switch msg.Type {
	case consensus.RequestVoteMsg:
		r.handleRequestVote(msg)
	case consensus.RequestVoteResponseMsg:
		r.handleRequestVoteResponse(msg)
	case consensus.AppendEntriesMsg:
		r.handleAppendEntries(msg)
	case consensus.AppendEntriesResponseMsg:
		r.handleAppendEntriesResponse(msg)
	}
}

// electionHandler manages election timeouts and step-down notifications.
func (r *Raft) electionHandler() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.electionTimer.C:
			r.startElection()
		case <-r.stepDownCh:
			r.mu.Lock()
			if r.state == consensus.Leader {
				r.state = consensus.Follower
				r.leader = ""
				r.resetElectionTimer()
				if r.heartbeatTimer != nil {
					r.heartbeatTimer.Stop()
				}
				r.failAllWaiters(&consensus.LostLeadershipError{})
			}
			r.mu.Unlock()
		}
	}
}

// applyHandler applies committed entries to the state machine in order and
// wakes any Submit call waiting on that index.
func (r *Raft) applyHandler() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case entry := <-r.applyCh:
			payload, err := r.stateMachine.Apply(entry)
			if err != nil {
				r.logger.Warn("failed to apply entry", zap.Uint64("index", uint64(entry.Index)), zap.Error(err))
			}

			r.mu.Lock()
			r.lastApplied = entry.Index
			if ch, ok := r.waiters[entry.Index]; ok {
				select {
				case ch <- submitResult{payload: payload, err: err}:
				default:
				}
				delete(r.waiters, entry.Index)
			}
			r.mu.Unlock()
		default:
			r.mu.Lock()
		queue:
			for r.lastApplied < r.commitIndex {
				r.lastApplied++
				if int(r.lastApplied) <= len(r.log) {
					entry := r.log[r.lastApplied-1]
					entry.Committed = true
					select {
					case r.applyCh <- entry:
					default:
						// applyCh full: back off and retry next tick rather
						// than drop the entry.
						r.lastApplied--
						break queue
					}
				}
			}
			r.mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// startElection transitions this node to candidate and requests votes from
// every peer in parallel.
func (r *Raft) startElection() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = consensus.Candidate
	r.currentTerm++
	r.votedFor = r.nodeID
	r.leader = ""
	r.votes = make(map[consensus.NodeID]bool)
	r.votes[r.nodeID] = true
	r.resetElectionTimer()
	r.saveState()

	// A solo cluster (or any cluster where the self-vote alone already
	// forms a majority) has no peer left to reply, so the majority check
	// that otherwise only runs in handleRequestVoteResponse must also run
	// here, right after the self-vote is recorded.
	if r.hasMajority() {
		r.becomeLeader()
	}

	lastLogIndex := consensus.LogIndex(len(r.log))
	lastLogTerm := consensus.Term(0)
	if len(r.log) > 0 {
		lastLogTerm = r.log[len(r.log)-1].Term
	}

	for peerID := range r.config.Peers {
		go r.sendRequestVote(peerID, lastLogIndex, lastLogTerm)
	}

	r.logger.Debug("started election", zap.Uint64("term", uint64(r.currentTerm)))
}

// sendRequestVote sends a RequestVote RPC to a peer.
func (r *Raft) sendRequestVote(nodeID consensus.NodeID, lastLogIndex consensus.LogIndex, lastLogTerm consensus.Term) {
	req := RequestVoteRequest{
		Term:         r.currentTerm,
		CandidateID:  r.nodeID,
		LastLogIndex: lastLogIndex,
		LastLogTerm:  lastLogTerm,
	}
	data, err := json.Marshal(req)
	if err != nil {
		r.logger.Error("failed to marshal RequestVote", zap.Error(err))
		return
	}

	msg := &consensus.ConsensusMessage{
		Type:      consensus.RequestVoteMsg,
		Term:      r.currentTerm,
		From:      r.nodeID,
		To:        nodeID,
		Data:      data,
		Timestamp: time.Now(),
	}

	if err := r.transport.Send(nodeID, msg); err != nil {
		r.logger.Debug("failed to send RequestVote", zap.String("to", string(nodeID)), zap.Error(err))
	}
}

// resetElectionTimer resets the election timeout to a value randomized
// between ElectionTimeoutMin and ElectionTimeoutMax, so peers don't all
// time out together.
func (r *Raft) resetElectionTimer() {
	if r.electionTimer != nil {
		r.electionTimer.Stop()
	}

	lo := r.config.ElectionTimeoutMin
	hi := r.config.ElectionTimeoutMax
	if hi <= lo {
		hi = lo + time.Millisecond
	}
	spread := hi - lo
	timeout := lo + time.Duration(rand.Int63n(int64(spread)))
	r.electionTimer = time.NewTimer(timeout)
}

// replicateLog fans out AppendEntries to every follower in parallel.
func (r *Raft) replicateLog() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.state != consensus.Leader {
		return
	}

	for nodeID := range r.nextIndex {
		if nodeID == r.nodeID {
			continue
		}
		go r.sendAppendEntries(nodeID)
	}
}

// sendAppendEntries sends an AppendEntries RPC (replication or heartbeat) to
// a follower.
func (r *Raft) sendAppendEntries(nodeID consensus.NodeID) {
	r.mu.RLock()
	nextIndex := r.nextIndex[nodeID]
	prevLogIndex := nextIndex - 1
	prevLogTerm := consensus.Term(0)

	if prevLogIndex > 0 && int(prevLogIndex) <= len(r.log) {
		prevLogTerm = r.log[prevLogIndex-1].Term
	}

	entries := []*consensus.LogEntry{}
	if int(nextIndex) <= len(r.log) {
		entries = r.log[nextIndex-1:]
	}

	data := r.marshalAppendEntries(prevLogIndex, prevLogTerm, entries, r.commitIndex)
	term := r.currentTerm
	self := r.nodeID
	r.mu.RUnlock()

	msg := &consensus.ConsensusMessage{
		Type:      consensus.AppendEntriesMsg,
		Term:      term,
		From:      self,
		To:        nodeID,
		Data:      data,
		Timestamp: time.Now(),
	}

	if err := r.transport.Send(nodeID, msg); err != nil {
		r.logger.Debug("failed to send AppendEntries", zap.String("to", string(nodeID)), zap.Error(err))
	}
}

func (r *Raft) stepDown() {
	if r.state == consensus.Leader {
		select {
		case r.stepDownCh <- struct{}{}:
		default:
		}
	}
	r.state = consensus.Follower
}

func (r *Raft) loadState() error {
	if r.storage == nil {
		return nil
	}
	state, err := r.storage.LoadState()
	if err != nil {
		return err
	}
	entries, err := r.storage.LoadLog()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.currentTerm = state.CurrentTerm
	r.votedFor = state.VotedFor
	if len(entries) > 0 {
		r.log = entries
	}
	r.mu.Unlock()
	return nil
}

// saveState snapshots the persistent fields under the caller's already-held
// r.mu and hands the actual write off to a separate goroutine, so a slow or
// unreachable storage backend (storage/postgres.go is a network round
// trip) never suspends progress while a node lock is held, per §5. Callers
// hold r.mu.
func (r *Raft) saveState() {
	if r.storage == nil {
		return
	}

	state := consensus.PersistentState{CurrentTerm: r.currentTerm, VotedFor: r.votedFor}
	log := make([]*consensus.LogEntry, len(r.log))
	copy(log, r.log)

	r.saveWG.Add(1)
	go func() {
		defer r.saveWG.Done()
		if err := r.storage.SaveState(state); err != nil {
			r.logger.Warn("failed to persist state", zap.Error(err))
			return
		}
		if err := r.storage.SaveLog(log); err != nil {
			r.logger.Warn("failed to persist log", zap.Error(err))
		}
	}()
}

// min returns the minimum of two LogIndex values.
func min(a, b consensus.LogIndex) consensus.LogIndex {
	if a < b {
		return a
	}
	return b
}
