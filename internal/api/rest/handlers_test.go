package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruvnet/raftbooking/internal/auth"
	"github.com/ruvnet/raftbooking/internal/consensus"
	"github.com/ruvnet/raftbooking/internal/middleware"
	"github.com/ruvnet/raftbooking/internal/router"
	"github.com/ruvnet/raftbooking/internal/statemachine"
	"github.com/ruvnet/raftbooking/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeNode is a minimal consensus.Consensus stand-in whose Submit applies
// directly against an embedded statemachine.Machine, bypassing the Raft
// log entirely — sufficient to exercise the REST handlers end to end.
type fakeNode struct {
	leader  bool
	machine *statemachine.Machine
}

func (f *fakeNode) Start(ctx context.Context) error { return nil }
func (f *fakeNode) Stop() error                     { return nil }
func (f *fakeNode) Submit(ctx context.Context, command []byte) ([]byte, error) {
	return f.machine.Apply(&consensus.LogEntry{Command: command})
}
func (f *fakeNode) GetState() consensus.ConsensusState {
	if f.leader {
		return consensus.Leader
	}
	return consensus.Follower
}
func (f *fakeNode) GetLeader() consensus.NodeID { return "" }
func (f *fakeNode) IsLeader() bool              { return f.leader }
func (f *fakeNode) GetTerm() consensus.Term     { return 1 }

func newTestEngine(t *testing.T) (*gin.Engine, *auth.Service) {
	logger := zaptest.NewLogger(t)
	machine := statemachine.NewMachine(logger)
	node := &fakeNode{leader: true, machine: machine}
	authSvc := auth.NewService("test-secret", logger)
	r := router.New(node, machine, authSvc, nil, logger)
	h := NewHandler(r, nil, validation.NewValidator(), logger)

	engine := gin.New()
	h.SetupRoutes(engine, middleware.Auth(authSvc))
	return engine, authSvc
}

func loginAndGetToken(t *testing.T, engine *gin.Engine) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": "user1", "password": "password123"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)
	return resp.Data.Token
}

func TestLogin_ValidCredentialsReturnsToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := loginAndGetToken(t, engine)
	assert.NotEmpty(t, token)
}

func TestLogin_InvalidCredentialsRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	body, _ := json.Marshal(map[string]string{"username": "user1", "password": "wrong"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGet_ListMoviesRequiresNoSpecialRole(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := loginAndGetToken(t, engine)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/list_movies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data []statemachine.MovieSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data)
}

func TestGet_RejectsRequestWithoutToken(t *testing.T) {
	engine, _ := newTestEngine(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/list_movies", nil)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGet_AvailableSeatsRequiresMovieID(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := loginAndGetToken(t, engine)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/available_seats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPost_BookTicketSucceeds(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := loginAndGetToken(t, engine)

	reqBody, _ := json.Marshal(map[string]interface{}{
		"request_id": uuid.New().String(),
		"movie_id":   "movie1",
		"seats":      []int{1, 2},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/book_ticket", bytes.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data statemachine.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Data.Status)
	require.NotNil(t, resp.Data.Booking)
	assert.Equal(t, "BK000001", resp.Data.Booking.BookingID)
}

func TestPost_BookTicketRejectsMissingRequestID(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := loginAndGetToken(t, engine)

	reqBody, _ := json.Marshal(map[string]interface{}{
		"movie_id": "movie1",
		"seats":    []int{1},
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/book_ticket", bytes.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPost_UnknownWriteOperationRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := loginAndGetToken(t, engine)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/not_a_real_op", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAssist_WithoutServiceReturnsPeerUnavailable(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := loginAndGetToken(t, engine)

	reqBody, _ := json.Marshal(map[string]string{"query": "what seats are free?"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assist", bytes.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestLogout_AlwaysSucceeds(t *testing.T) {
	engine, _ := newTestEngine(t)
	token := loginAndGetToken(t, engine)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
