package raft

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

// RequestVoteRequest is the RequestVote RPC argument.
type RequestVoteRequest struct {
	Term         consensus.Term     `json:"term"`
	CandidateID  consensus.NodeID   `json:"candidate_id"`
	LastLogIndex consensus.LogIndex `json:"last_log_index"`
	LastLogTerm  consensus.Term     `json:"last_log_term"`
}

// RequestVoteResponse is the RequestVote RPC reply.
type RequestVoteResponse struct {
	Term        consensus.Term `json:"term"`
	VoteGranted bool           `json:"vote_granted"`
}

// handleRequestVote processes an inbound RequestVote RPC. Caller holds r.mu.
func (r *Raft) handleRequestVote(msg *consensus.ConsensusMessage) {
	var req RequestVoteRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.logger.Warn("failed to unmarshal RequestVote", zap.Error(err))
		return
	}

	response := RequestVoteResponse{
		Term:        r.currentTerm,
		VoteGranted: false,
	}

	if req.Term < r.currentTerm {
		r.sendRequestVoteResponse(msg.From, response)
		return
	}

	if (r.votedFor == "" || r.votedFor == req.CandidateID) && r.isLogUpToDate(req.LastLogIndex, req.LastLogTerm) {
		r.votedFor = req.CandidateID
		r.lastContact = time.Now()
		response.VoteGranted = true
		r.resetElectionTimer()
		r.saveState()
	}

	r.sendRequestVoteResponse(msg.From, response)
}

// handleRequestVoteResponse processes a RequestVote reply. Caller holds r.mu.
func (r *Raft) handleRequestVoteResponse(msg *consensus.ConsensusMessage) {
	if r.state != consensus.Candidate {
		return
	}

	var resp RequestVoteResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		r.logger.Warn("failed to unmarshal RequestVoteResponse", zap.Error(err))
		return
	}

	if resp.Term > r.currentTerm {
		r.currentTerm = resp.Term
		r.votedFor = ""
		r.stepDown()
		r.saveState()
		return
	}

	if resp.VoteGranted {
		r.votes[msg.From] = true
	}

	if r.hasMajority() {
		r.becomeLeader()
	}
}

// sendRequestVoteResponse sends a RequestVoteResponse.
func (r *Raft) sendRequestVoteResponse(to consensus.NodeID, response RequestVoteResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		r.logger.Error("failed to marshal RequestVoteResponse", zap.Error(err))
		return
	}

	msg := &consensus.ConsensusMessage{
		Type:      consensus.RequestVoteResponseMsg,
		Term:      r.currentTerm,
		From:      r.nodeID,
		To:        to,
		Data:      data,
		Timestamp: time.Now(),
	}

	if err := r.transport.Send(to, msg); err != nil {
		r.logger.Debug("failed to send RequestVoteResponse", zap.String("to", string(to)), zap.Error(err))
	}
}

// isLogUpToDate implements the Raft "at least as up-to-date" comparison:
// the log with the later last-entry term wins; on a tie, the longer log wins.
func (r *Raft) isLogUpToDate(lastLogIndex consensus.LogIndex, lastLogTerm consensus.Term) bool {
	ourLastIndex := consensus.LogIndex(len(r.log))
	ourLastTerm := consensus.Term(0)

	if len(r.log) > 0 {
		ourLastTerm = r.log[len(r.log)-1].Term
	}

	if lastLogTerm != ourLastTerm {
		return lastLogTerm > ourLastTerm
	}

	return lastLogIndex >= ourLastIndex
}

// hasMajority reports whether votes holds a majority of the cluster
// (including this node, which always votes for itself).
func (r *Raft) hasMajority() bool {
	totalNodes := len(r.config.Peers) + 1
	votesNeeded := (totalNodes / 2) + 1
	votesReceived := 0

	for _, granted := range r.votes {
		if granted {
			votesReceived++
		}
	}

	return votesReceived >= votesNeeded
}

// becomeLeader transitions this node to leader and starts heartbeats.
// Called from handleRequestVoteResponse and startElection, both of which
// already hold r.mu (write-locked) — so this dispatches the first round of
// heartbeats through dispatchHeartbeats, which assumes the lock is already
// held, rather than through the RLock-taking sendHeartbeats.
func (r *Raft) becomeLeader() {
	if r.state != consensus.Candidate {
		return
	}

	r.state = consensus.Leader
	r.leader = r.nodeID

	lastLogIndex := consensus.LogIndex(len(r.log))
	for nodeID := range r.config.Peers {
		r.nextIndex[nodeID] = lastLogIndex + 1
		r.matchIndex[nodeID] = 0
	}

	r.dispatchHeartbeats()
	r.startHeartbeatTimer()

	r.logger.Info("became leader", zap.String("node_id", string(r.nodeID)), zap.Uint64("term", uint64(r.currentTerm)))
}

// startHeartbeatTimer runs the leader's heartbeat dispatcher until it steps
// down.
func (r *Raft) startHeartbeatTimer() {
	if r.heartbeatTimer != nil {
		r.heartbeatTimer.Stop()
	}

	interval := r.config.HeartbeatInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	r.heartbeatTimer = time.NewTimer(interval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-r.heartbeatTimer.C:
				r.mu.RLock()
				isLeader := r.state == consensus.Leader
				r.mu.RUnlock()
				if !isLeader {
					return
				}
				r.sendHeartbeats()
				r.heartbeatTimer.Reset(interval)
			}
		}
	}()
}

// sendHeartbeats fans out an AppendEntries (empty or not) to every follower
// in parallel; a single slow peer never delays the others. Caller must not
// already hold r.mu — see dispatchHeartbeats for the locked equivalent.
func (r *Raft) sendHeartbeats() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.state != consensus.Leader {
		return
	}

	r.dispatchHeartbeats()
}

// dispatchHeartbeats spawns a sendAppendEntries goroutine per follower.
// Caller holds r.mu.
func (r *Raft) dispatchHeartbeats() {
	for nodeID := range r.nextIndex {
		if nodeID == r.nodeID {
			continue
		}
		go r.sendAppendEntries(nodeID)
	}
}
