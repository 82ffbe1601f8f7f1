// Package router implements the RequestRouter: the client-facing
// dispatch logic behind the gin REST handlers (the websocket seats push
// reads the state machine directly). It validates tokens, classifies each request as read
// or write, serves reads from the local state machine, and submits or
// forwards writes per spec.md §4.3's hop-limit-1 forwarding rule.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruvnet/raftbooking/internal/apierr"
	"github.com/ruvnet/raftbooking/internal/auth"
	"github.com/ruvnet/raftbooking/internal/consensus"
	"github.com/ruvnet/raftbooking/internal/statemachine"
)

// forwardTimeout bounds a single peer-router forward attempt.
const forwardTimeout = 2 * time.Second

// ForwardedHeader marks a write request as already having been forwarded
// once; a router that sees it must not forward again (hop limit 1).
const ForwardedHeader = "X-Raftbooking-Forwarded"

// PeerRouter is another node's client-facing HTTP endpoint, used only for
// the single-hop write-forwarding fallback — distinct from the peer
// consensus transport, which carries RequestVote/AppendEntries.
type PeerRouter struct {
	NodeID consensus.NodeID
	URL    string // e.g. "http://10.0.0.2:8080"
}

// Router is the RequestRouter. It holds no state of its own beyond what it
// needs to dispatch: the consensus handle, the local read-side state
// machine, the auth validator, and its peer list for write forwarding.
type Router struct {
	node    consensus.Consensus
	machine *statemachine.Machine
	authSvc *auth.Service
	peers   []PeerRouter
	client  *http.Client
	logger  *zap.Logger
}

// New builds a Router.
func New(node consensus.Consensus, machine *statemachine.Machine, authSvc *auth.Service, peers []PeerRouter, logger *zap.Logger) *Router {
	return &Router{
		node:    node,
		machine: machine,
		authSvc: authSvc,
		peers:   peers,
		client:  &http.Client{Timeout: forwardTimeout},
		logger:  logger,
	}
}

// Authenticate validates username/password and mints a session token.
func (r *Router) Authenticate(username, password string) (string, *auth.Principal, error) {
	token, err := r.authSvc.Authenticate(username, password)
	if err != nil {
		return "", nil, apierr.NewAuthRejected("invalid username or password")
	}
	principal, _ := r.authSvc.Validate(token)
	return token, principal, nil
}

// Validate checks a bearer token and returns the embedded Principal.
func (r *Router) Validate(token string) (*auth.Principal, error) {
	principal, err := r.authSvc.Validate(token)
	if err != nil {
		return nil, apierr.NewAuthRejected("invalid or expired token")
	}
	return principal, nil
}

// ListMovies serves the movie catalog from the local state machine. Reads
// never consult the leader and are allowed mid-election.
func (r *Router) ListMovies() []statemachine.MovieSummary {
	return r.machine.GetMovies()
}

// AvailableSeats serves one movie's current seat availability locally.
func (r *Router) AvailableSeats(movieID string) []int {
	return r.machine.GetAvailableSeats(movieID)
}

// MyBookings serves a principal's booking history locally.
func (r *Router) MyBookings(username string) []*statemachine.Booking {
	return r.machine.GetUserBookings(username)
}

// BookTicket submits a book_ticket write, handling local-leader submission
// or single-hop forwarding to a peer router.
func (r *Router) BookTicket(ctx context.Context, requestID uuid.UUID, principal *auth.Principal, movieID string, seats []int, forwarded bool) (*statemachine.Result, error) {
	cmd := statemachine.Command{
		Operation: statemachine.OpBookTicket,
		RequestID: requestID,
		BookTicket: &statemachine.BookTicketCommand{
			MovieID:  movieID,
			Seats:    seats,
			Username: principal.Username,
		},
	}
	return r.dispatchWrite(ctx, cmd, forwarded)
}

// CancelBooking submits a cancel_booking write.
func (r *Router) CancelBooking(ctx context.Context, requestID uuid.UUID, principal *auth.Principal, bookingID string, forwarded bool) (*statemachine.Result, error) {
	cmd := statemachine.Command{
		Operation: statemachine.OpCancelBooking,
		RequestID: requestID,
		CancelBooking: &statemachine.CancelBookingCommand{
			BookingID: bookingID,
			Username:  principal.Username,
		},
	}
	return r.dispatchWrite(ctx, cmd, forwarded)
}

// ProcessPayment submits a process_payment write.
func (r *Router) ProcessPayment(ctx context.Context, requestID uuid.UUID, bookingID, method string, forwarded bool) (*statemachine.Result, error) {
	cmd := statemachine.Command{
		Operation: statemachine.OpProcessPayment,
		RequestID: requestID,
		ProcessPayment: &statemachine.ProcessPaymentCommand{
			BookingID:     bookingID,
			PaymentMethod: method,
		},
	}
	return r.dispatchWrite(ctx, cmd, forwarded)
}

// dispatchWrite implements §4.3's write path: submit locally if leader,
// otherwise forward once (unless this request already arrived forwarded,
// in which case it must refuse rather than forward again).
func (r *Router) dispatchWrite(ctx context.Context, cmd statemachine.Command, forwarded bool) (*statemachine.Result, error) {
	if r.node.IsLeader() {
		return r.submitLocally(ctx, cmd)
	}

	if forwarded {
		return nil, apierr.NewNotLeader(string(r.node.GetLeader()))
	}

	return r.forwardToPeers(ctx, cmd)
}

func (r *Router) submitLocally(ctx context.Context, cmd statemachine.Command) (*statemachine.Result, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, apierr.NewInternal(err)
	}

	raw, err := r.node.Submit(ctx, payload)
	if err != nil {
		return nil, apierr.FromConsensusError(err)
	}

	var result statemachine.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apierr.NewInternal(fmt.Errorf("decode applied result: %w", err))
	}

	if result.Status == "error" {
		return nil, apierr.NewCommandRejected(result.Message)
	}

	return &result, nil
}

// forwardToPeers fans the write out to every known peer router with a short
// per-call timeout, accepting the first non-NotLeader reply. The forwarded
// request carries ForwardedHeader so the receiving router enforces hop
// limit 1 instead of forwarding again.
func (r *Router) forwardToPeers(ctx context.Context, cmd statemachine.Command) (*statemachine.Result, error) {
	if len(r.peers) == 0 {
		return nil, apierr.NewNoLeaderAvailable()
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, apierr.NewInternal(err)
	}

	for _, peer := range r.peers {
		result, notLeader, err := r.forwardOne(ctx, peer, cmd.Operation, payload)
		if err != nil {
			r.logger.Debug("forward to peer failed", zap.String("peer", string(peer.NodeID)), zap.Error(err))
			continue
		}
		if notLeader {
			continue
		}
		return result, nil
	}

	return nil, apierr.NewNoLeaderAvailable()
}

func (r *Router) forwardOne(ctx context.Context, peer PeerRouter, op statemachine.Operation, payload []byte) (*statemachine.Result, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	path := forwardPath(op)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, peer.URL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ForwardedHeader, "1")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, true, nil
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("peer %s returned status %d", peer.NodeID, resp.StatusCode)
	}

	var result statemachine.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, err
	}
	return &result, false, nil
}

func forwardPath(op statemachine.Operation) string {
	switch op {
	case statemachine.OpBookTicket:
		return "/api/v1/book_ticket"
	case statemachine.OpCancelBooking:
		return "/api/v1/cancel_booking"
	case statemachine.OpProcessPayment:
		return "/api/v1/payment"
	default:
		return "/api/v1/unknown"
	}
}
