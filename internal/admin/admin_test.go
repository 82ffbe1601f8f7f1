package admin

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

type fakeNode struct {
	state    consensus.ConsensusState
	term     consensus.Term
	leader   consensus.NodeID
	isLeader bool
}

func (f *fakeNode) Start(ctx context.Context) error { return nil }
func (f *fakeNode) Stop() error                     { return nil }
func (f *fakeNode) Submit(ctx context.Context, command []byte) ([]byte, error) {
	return nil, nil
}
func (f *fakeNode) GetState() consensus.ConsensusState { return f.state }
func (f *fakeNode) GetLeader() consensus.NodeID        { return f.leader }
func (f *fakeNode) IsLeader() bool                     { return f.isLeader }
func (f *fakeNode) GetTerm() consensus.Term            { return f.term }

func TestNewMux_HealthzReportsOK(t *testing.T) {
	node := &fakeNode{state: consensus.Follower, term: 1, leader: "B"}
	mux := NewMux("A", node)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	mux.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestNewMux_StatusReflectsNodeState(t *testing.T) {
	node := &fakeNode{state: consensus.Leader, term: 5, leader: "A", isLeader: true}
	mux := NewMux("A", node)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	mux.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var view StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "A", view.NodeID)
	assert.Equal(t, "leader", view.State)
	assert.Equal(t, uint64(5), view.Term)
	assert.True(t, view.IsLeader)
}

func TestNewMux_StatusReflectsCandidateWithoutLeader(t *testing.T) {
	node := &fakeNode{state: consensus.Candidate, term: 2}
	mux := NewMux("B", node)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/status", nil)
	mux.ServeHTTP(rec, req)

	var view StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "candidate", view.State)
	assert.Empty(t, view.Leader)
	assert.False(t, view.IsLeader)
}
