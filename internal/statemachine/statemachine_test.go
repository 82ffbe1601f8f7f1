package statemachine

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

func newTestMachine(t *testing.T) *Machine {
	return NewMachine(zaptest.NewLogger(t))
}

func applyCommand(t *testing.T, m *Machine, cmd Command) Result {
	t.Helper()
	payload, err := json.Marshal(cmd)
	require.NoError(t, err)

	raw, err := m.Apply(&consensus.LogEntry{Command: payload})
	require.NoError(t, err)

	var result Result
	require.NoError(t, json.Unmarshal(raw, &result))
	return result
}

func bookCmd(requestID uuid.UUID, movieID, username string, seats []int) Command {
	return Command{
		Operation: OpBookTicket,
		RequestID: requestID,
		BookTicket: &BookTicketCommand{
			MovieID:  movieID,
			Seats:    seats,
			Username: username,
		},
	}
}

func TestNewMachine_SeedsCatalog(t *testing.T) {
	m := newTestMachine(t)
	movies := m.GetMovies()

	require.Len(t, movies, 3)
	assert.Equal(t, "movie1", movies[0].ID)
	assert.Equal(t, 100, movies[0].TotalSeats)
	assert.Equal(t, 100, movies[0].AvailableSeats)
}

func TestBookTicket_HoldsSeatsAndComputesPrice(t *testing.T) {
	m := newTestMachine(t)

	result := applyCommand(t, m, bookCmd(uuid.New(), "movie1", "alice", []int{1, 2, 3}))

	require.Equal(t, "success", result.Status)
	require.NotNil(t, result.Booking)
	assert.Equal(t, "BK000001", result.BookingID)
	assert.Equal(t, 45.0, result.Booking.Price) // 15.0 * 3 seats

	seats := m.GetAvailableSeats("movie1")
	assert.NotContains(t, seats, 1)
	assert.NotContains(t, seats, 2)
	assert.NotContains(t, seats, 3)
	assert.Len(t, seats, 97)
}

func TestBookTicket_RejectsAlreadyTakenSeat(t *testing.T) {
	m := newTestMachine(t)

	applyCommand(t, m, bookCmd(uuid.New(), "movie1", "alice", []int{5}))
	result := applyCommand(t, m, bookCmd(uuid.New(), "movie1", "bob", []int{5, 6}))

	assert.Equal(t, "error", result.Status)
	assert.Contains(t, result.Message, "not available")
	// bob's rejected attempt must not have consumed seat 6 either (I1: all-or-nothing).
	seats := m.GetAvailableSeats("movie1")
	assert.Contains(t, seats, 6)
}

func TestBookTicket_UnknownMovie(t *testing.T) {
	m := newTestMachine(t)

	result := applyCommand(t, m, bookCmd(uuid.New(), "no-such-movie", "alice", []int{1}))

	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "Movie not found", result.Message)
}

func TestBookingIDs_AreStrictlyMonotonic(t *testing.T) {
	m := newTestMachine(t)

	first := applyCommand(t, m, bookCmd(uuid.New(), "movie1", "alice", []int{1}))
	second := applyCommand(t, m, bookCmd(uuid.New(), "movie2", "bob", []int{1}))

	assert.Equal(t, "BK000001", first.BookingID)
	assert.Equal(t, "BK000002", second.BookingID)
}

func TestCancelBooking_ReleasesSeatsAndRefunds(t *testing.T) {
	m := newTestMachine(t)

	booked := applyCommand(t, m, bookCmd(uuid.New(), "movie1", "alice", []int{10, 11}))
	require.Equal(t, "success", booked.Status)

	cancelled := applyCommand(t, m, Command{
		Operation: OpCancelBooking,
		RequestID: uuid.New(),
		CancelBooking: &CancelBookingCommand{
			BookingID: booked.BookingID,
			Username:  "alice",
		},
	})

	assert.Equal(t, "success", cancelled.Status)
	assert.Equal(t, 30.0, cancelled.RefundAmount)

	seats := m.GetAvailableSeats("movie1")
	assert.Contains(t, seats, 10)
	assert.Contains(t, seats, 11)
}

func TestCancelBooking_RejectsNonOwner(t *testing.T) {
	m := newTestMachine(t)

	booked := applyCommand(t, m, bookCmd(uuid.New(), "movie1", "alice", []int{20}))

	result := applyCommand(t, m, Command{
		Operation: OpCancelBooking,
		RequestID: uuid.New(),
		CancelBooking: &CancelBookingCommand{
			BookingID: booked.BookingID,
			Username:  "mallory",
		},
	})

	assert.Equal(t, "error", result.Status)
	assert.Equal(t, "Unauthorized", result.Message)

	seats := m.GetAvailableSeats("movie1")
	assert.NotContains(t, seats, 20)
}

func TestCancelBooking_RejectsDoubleCancel(t *testing.T) {
	m := newTestMachine(t)

	booked := applyCommand(t, m, bookCmd(uuid.New(), "movie1", "alice", []int{30}))
	cancelCmd := Command{
		Operation: OpCancelBooking,
		RequestID: uuid.New(),
		CancelBooking: &CancelBookingCommand{
			BookingID: booked.BookingID,
			Username:  "alice",
		},
	}

	first := applyCommand(t, m, cancelCmd)
	require.Equal(t, "success", first.Status)

	second := applyCommand(t, m, Command{
		Operation:     OpCancelBooking,
		RequestID:     uuid.New(),
		CancelBooking: cancelCmd.CancelBooking,
	})
	assert.Equal(t, "error", second.Status)
	assert.Equal(t, "Already cancelled", second.Message)
}

func TestProcessPayment_RecordsBookingAmount(t *testing.T) {
	m := newTestMachine(t)

	booked := applyCommand(t, m, bookCmd(uuid.New(), "movie2", "alice", []int{1, 2}))

	result := applyCommand(t, m, Command{
		Operation: OpProcessPayment,
		RequestID: uuid.New(),
		ProcessPayment: &ProcessPaymentCommand{
			BookingID:     booked.BookingID,
			PaymentMethod: "card",
		},
	})

	assert.Equal(t, "success", result.Status)
	assert.Equal(t, "PAY000001", result.PaymentID)
}

func TestApply_DuplicateRequestIDReplaysResult(t *testing.T) {
	m := newTestMachine(t)
	requestID := uuid.New()

	first := applyCommand(t, m, bookCmd(requestID, "movie3", "alice", []int{1}))
	second := applyCommand(t, m, bookCmd(requestID, "movie3", "alice", []int{1}))

	assert.Equal(t, first.BookingID, second.BookingID)

	// The replayed command must not have booked a second seat.
	seats := m.GetAvailableSeats("movie3")
	assert.Len(t, seats, 119)
}

func TestGetUserBookings_FiltersByUsername(t *testing.T) {
	m := newTestMachine(t)

	applyCommand(t, m, bookCmd(uuid.New(), "movie1", "alice", []int{1}))
	applyCommand(t, m, bookCmd(uuid.New(), "movie1", "bob", []int{2}))
	applyCommand(t, m, bookCmd(uuid.New(), "movie2", "alice", []int{1}))

	bookings := m.GetUserBookings("alice")
	require.Len(t, bookings, 2)
	for _, b := range bookings {
		assert.Equal(t, "alice", b.Username)
	}
}

type fakeSeatsObserver struct {
	calls []string
	seats map[string][]int
}

func (f *fakeSeatsObserver) OnSeatsChanged(movieID string, availableSeats []int) {
	f.calls = append(f.calls, movieID)
	if f.seats == nil {
		f.seats = make(map[string][]int)
	}
	f.seats[movieID] = availableSeats
}

func TestSeatsObserver_NotifiedOnBookAndCancel(t *testing.T) {
	m := newTestMachine(t)
	observer := &fakeSeatsObserver{}
	m.WithSeatsObserver(observer)

	booked := applyCommand(t, m, bookCmd(uuid.New(), "movie1", "alice", []int{1}))
	applyCommand(t, m, Command{
		Operation: OpCancelBooking,
		RequestID: uuid.New(),
		CancelBooking: &CancelBookingCommand{
			BookingID: booked.BookingID,
			Username:  "alice",
		},
	})

	require.Len(t, observer.calls, 2)
	assert.Equal(t, "movie1", observer.calls[0])
	assert.Equal(t, "movie1", observer.calls[1])
}
