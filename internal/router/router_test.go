package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruvnet/raftbooking/internal/apierr"
	"github.com/ruvnet/raftbooking/internal/auth"
	"github.com/ruvnet/raftbooking/internal/consensus"
	"github.com/ruvnet/raftbooking/internal/statemachine"
)

// fakeNode is a minimal consensus.Consensus stand-in: Submit applies
// directly against an embedded statemachine.Machine instead of running
// the Raft log, which is enough to exercise the router's dispatch logic
// without spinning up a real cluster.
type fakeNode struct {
	leader   bool
	leaderID consensus.NodeID
	machine  *statemachine.Machine
	submitErr error
}

func (f *fakeNode) Start(ctx context.Context) error { return nil }
func (f *fakeNode) Stop() error                     { return nil }

func (f *fakeNode) Submit(ctx context.Context, command []byte) ([]byte, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.machine.Apply(&consensus.LogEntry{Command: command})
}

func (f *fakeNode) GetState() consensus.ConsensusState {
	if f.leader {
		return consensus.Leader
	}
	return consensus.Follower
}
func (f *fakeNode) GetLeader() consensus.NodeID { return f.leaderID }
func (f *fakeNode) IsLeader() bool              { return f.leader }
func (f *fakeNode) GetTerm() consensus.Term     { return 1 }

func newTestRouter(t *testing.T, node consensus.Consensus, machine *statemachine.Machine, peers []PeerRouter) *Router {
	authSvc := auth.NewService("test-secret", zaptest.NewLogger(t))
	return New(node, machine, authSvc, peers, zaptest.NewLogger(t))
}

func TestAuthenticate_ValidCredentials(t *testing.T) {
	machine := statemachine.NewMachine(zaptest.NewLogger(t))
	node := &fakeNode{leader: true, machine: machine}
	r := newTestRouter(t, node, machine, nil)

	token, principal, err := r.Authenticate("user1", "password123")

	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "user1", principal.Username)
}

func TestAuthenticate_InvalidCredentials(t *testing.T) {
	machine := statemachine.NewMachine(zaptest.NewLogger(t))
	node := &fakeNode{leader: true, machine: machine}
	r := newTestRouter(t, node, machine, nil)

	_, _, err := r.Authenticate("user1", "wrong-password")

	require.Error(t, err)
	apiErr, ok := err.(*apierr.APIError)
	require.True(t, ok)
	assert.Equal(t, apierr.AuthRejected, apiErr.Code)
}

func TestBookTicket_SubmitsLocallyWhenLeader(t *testing.T) {
	machine := statemachine.NewMachine(zaptest.NewLogger(t))
	node := &fakeNode{leader: true, machine: machine}
	r := newTestRouter(t, node, machine, nil)

	result, err := r.BookTicket(context.Background(), uuid.New(), &auth.Principal{Username: "alice"}, "movie1", []int{1, 2}, false)

	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "BK000001", result.BookingID)
}

func TestBookTicket_RejectedCommandBecomesCommandRejected(t *testing.T) {
	machine := statemachine.NewMachine(zaptest.NewLogger(t))
	node := &fakeNode{leader: true, machine: machine}
	r := newTestRouter(t, node, machine, nil)

	_, err := r.BookTicket(context.Background(), uuid.New(), &auth.Principal{Username: "alice"}, "no-such-movie", []int{1}, false)

	require.Error(t, err)
	apiErr, ok := err.(*apierr.APIError)
	require.True(t, ok)
	assert.Equal(t, apierr.CommandRejected, apiErr.Code)
}

func TestBookTicket_NotLeaderAndAlreadyForwarded(t *testing.T) {
	machine := statemachine.NewMachine(zaptest.NewLogger(t))
	node := &fakeNode{leader: false, leaderID: "node2", machine: machine}
	r := newTestRouter(t, node, machine, nil)

	_, err := r.BookTicket(context.Background(), uuid.New(), &auth.Principal{Username: "alice"}, "movie1", []int{1}, true)

	require.Error(t, err)
	apiErr, ok := err.(*apierr.APIError)
	require.True(t, ok)
	assert.Equal(t, apierr.NotLeader, apiErr.Code)
}

func TestBookTicket_NotLeaderNoPeersReturnsNoLeaderAvailable(t *testing.T) {
	machine := statemachine.NewMachine(zaptest.NewLogger(t))
	node := &fakeNode{leader: false, machine: machine}
	r := newTestRouter(t, node, machine, nil)

	_, err := r.BookTicket(context.Background(), uuid.New(), &auth.Principal{Username: "alice"}, "movie1", []int{1}, false)

	require.Error(t, err)
	apiErr, ok := err.(*apierr.APIError)
	require.True(t, ok)
	assert.Equal(t, apierr.NoLeaderAvailable, apiErr.Code)
}

func TestBookTicket_ForwardsToPeerAndReturnsItsResult(t *testing.T) {
	peerMachine := statemachine.NewMachine(zaptest.NewLogger(t))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "1", req.Header.Get(ForwardedHeader))

		var cmd statemachine.Command
		require.NoError(t, json.NewDecoder(req.Body).Decode(&cmd))

		raw, err := peerMachine.Apply(&consensus.LogEntry{Command: mustMarshal(t, cmd)})
		require.NoError(t, err)

		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	}))
	defer srv.Close()

	localMachine := statemachine.NewMachine(zaptest.NewLogger(t))
	node := &fakeNode{leader: false, machine: localMachine}
	r := newTestRouter(t, node, localMachine, []PeerRouter{{NodeID: "node2", URL: srv.URL}})

	result, err := r.BookTicket(context.Background(), uuid.New(), &auth.Principal{Username: "alice"}, "movie1", []int{1}, false)

	require.NoError(t, err)
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "BK000001", result.BookingID)
}

func TestListMoviesAndAvailableSeats_ServedLocally(t *testing.T) {
	machine := statemachine.NewMachine(zaptest.NewLogger(t))
	node := &fakeNode{leader: false, machine: machine}
	r := newTestRouter(t, node, machine, nil)

	movies := r.ListMovies()
	require.Len(t, movies, 3)

	seats := r.AvailableSeats("movie1")
	assert.Len(t, seats, 100)
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
