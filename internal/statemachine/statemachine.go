// Package statemachine implements the replicated booking domain: movies,
// bookings, and payments, applied deterministically and in commit order.
// It is grounded on the original system's state_machine.py — same command
// set, same ID formats, same invariants — reimplemented as a Go
// consensus.StateMachine.
package statemachine

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/go-redis/redis/v8"

	"github.com/ruvnet/raftbooking/internal/consensus"
)

// Movie is a showing with a fixed seat inventory.
type Movie struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	TotalSeats     int     `json:"total_seats"`
	AvailableSeats []int   `json:"available_seats"`
	Price          float64 `json:"price"`
	Showtime       string  `json:"showtime"`
}

// Booking is a confirmed or cancelled reservation of seats for a movie.
type Booking struct {
	BookingID  string    `json:"booking_id"`
	Username   string    `json:"username"`
	MovieID    string    `json:"movie_id"`
	MovieTitle string    `json:"movie_title"`
	Seats      []int     `json:"seats"`
	Price      float64   `json:"price"`
	Status     string    `json:"status"` // "confirmed" | "cancelled"
	Timestamp  time.Time `json:"timestamp"`
}

// Payment records a completed payment against a booking.
type Payment struct {
	PaymentID string    `json:"payment_id"`
	BookingID string    `json:"booking_id"`
	Amount    float64   `json:"amount"`
	Method    string    `json:"method"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// MovieSummary is the read-side projection GetMovies returns.
type MovieSummary struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	AvailableSeats int     `json:"available_seats"`
	TotalSeats     int     `json:"total_seats"`
	Price          float64 `json:"price"`
	Showtime       string  `json:"showtime"`
}

// SeatsObserver is notified whenever a committed command changes a movie's
// available seats. The live-updates websocket channel implements this to
// push a diff to subscribers without the state machine importing anything
// about HTTP or websockets.
type SeatsObserver interface {
	OnSeatsChanged(movieID string, availableSeats []int)
}

// Machine implements consensus.StateMachine over the movie/booking/payment
// domain. Its mutex is independent of the consensus node's: Apply is only
// ever invoked by the single applier goroutine, so the lock here guards
// concurrent reads (GetMovies, GetAvailableSeats, GetUserBookings) racing
// against that goroutine, not concurrent writers.
type Machine struct {
	mu sync.RWMutex

	movies         map[string]*Movie
	bookings       map[string]*Booking
	bookingCounter int
	payments       map[string]*Payment

	dedup    requestDedup
	observer SeatsObserver
	logger   *zap.Logger
}

var _ consensus.StateMachine = (*Machine)(nil)

// NewMachine seeds the three-movie catalog used throughout the test
// scenarios (matching the original system's _initialize_movies) and wires
// the in-memory dedup set. Call WithRedisDedup afterward to switch to the
// cross-replica-visible backend.
func NewMachine(logger *zap.Logger) *Machine {
	return &Machine{
		movies:   seedMovies(),
		bookings: make(map[string]*Booking),
		payments: make(map[string]*Payment),
		dedup:    newMemoryDedup(dedupCapacity),
		logger:   logger,
	}
}

// WithRedisDedup switches the dedup backend to Redis, making recently
// applied RequestIDs visible to any router sharing client.
func (m *Machine) WithRedisDedup(client *redis.Client) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup = newRedisDedup(client)
	return m
}

// WithSeatsObserver wires a SeatsObserver that is notified after every
// committed book_ticket/cancel_booking changes a movie's availability.
func (m *Machine) WithSeatsObserver(observer SeatsObserver) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
	return m
}

func seedMovies() map[string]*Movie {
	return map[string]*Movie{
		"movie1": {
			ID:             "movie1",
			Title:          "The Matrix Reloaded",
			TotalSeats:     100,
			AvailableSeats: seatRange(1, 100),
			Price:          15.0,
			Showtime:       "2025-11-20 19:00",
		},
		"movie2": {
			ID:             "movie2",
			Title:          "Inception Dreams",
			TotalSeats:     80,
			AvailableSeats: seatRange(1, 80),
			Price:          12.0,
			Showtime:       "2025-11-20 21:00",
		},
		"movie3": {
			ID:             "movie3",
			Title:          "Interstellar Journey",
			TotalSeats:     120,
			AvailableSeats: seatRange(1, 120),
			Price:          18.0,
			Showtime:       "2025-11-21 18:00",
		},
	}
}

func seatRange(from, to int) []int {
	seats := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		seats = append(seats, i)
	}
	return seats
}

// Apply decodes entry.Command and dispatches it to the matching handler.
// A malformed command produces an error-shaped Result, not a non-nil error
// return: per consensus.StateMachine's contract, only truly unexpected
// failures use the error return.
func (m *Machine) Apply(entry *consensus.LogEntry) ([]byte, error) {
	var cmd Command
	if err := json.Unmarshal(entry.Command, &cmd); err != nil {
		return encodeResult(Result{Status: "error", Message: err.Error()})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cmd.RequestID != uuid.Nil {
		if cached, ok := m.dedup.Lookup(cmd.RequestID); ok {
			return cached, nil
		}
	}

	var result Result
	switch cmd.Operation {
	case OpBookTicket:
		result = m.bookTicket(cmd.BookTicket)
	case OpCancelBooking:
		result = m.cancelBooking(cmd.CancelBooking)
	case OpProcessPayment:
		result = m.processPayment(cmd.ProcessPayment)
	default:
		result = Result{Status: "error", Message: "Unknown operation"}
	}

	encoded, err := encodeResult(result)
	if err != nil {
		return nil, err
	}

	if cmd.RequestID != uuid.Nil {
		m.dedup.Remember(cmd.RequestID, encoded)
	}

	return encoded, nil
}

func encodeResult(r Result) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

// bookTicket enforces I1/I2/I3: seats are only removed from available_seats
// if every requested seat is free, price is total_seats-independent and
// computed as price * len(seats), and the booking ID is strictly
// monotonic (I5).
func (m *Machine) bookTicket(cmd *BookTicketCommand) Result {
	if cmd == nil {
		return Result{Status: "error", Message: "missing book_ticket payload"}
	}

	movie, ok := m.movies[cmd.MovieID]
	if !ok {
		return Result{Status: "error", Message: "Movie not found"}
	}

	available := make(map[int]bool, len(movie.AvailableSeats))
	for _, s := range movie.AvailableSeats {
		available[s] = true
	}

	for _, seat := range cmd.Seats {
		if !available[seat] {
			return Result{Status: "error", Message: fmt.Sprintf("Seat %d not available", seat)}
		}
	}

	for _, seat := range cmd.Seats {
		delete(available, seat)
	}
	movie.AvailableSeats = sortedKeys(available)

	m.bookingCounter++
	bookingID := fmt.Sprintf("BK%06d", m.bookingCounter)

	booking := &Booking{
		BookingID:  bookingID,
		Username:   cmd.Username,
		MovieID:    cmd.MovieID,
		MovieTitle: movie.Title,
		Seats:      cmd.Seats,
		Price:      movie.Price * float64(len(cmd.Seats)),
		Status:     "confirmed",
		Timestamp:  time.Now(),
	}
	m.bookings[bookingID] = booking
	m.notifySeats(movie)

	return Result{
		Status:    "success",
		Message:   "Booking confirmed",
		BookingID: bookingID,
		Booking:   booking,
	}
}

// cancelBooking enforces I4: only the owner may cancel a confirmed booking;
// cancelling releases the seats back to available_seats.
func (m *Machine) cancelBooking(cmd *CancelBookingCommand) Result {
	if cmd == nil {
		return Result{Status: "error", Message: "missing cancel_booking payload"}
	}

	booking, ok := m.bookings[cmd.BookingID]
	if !ok {
		return Result{Status: "error", Message: "Booking not found"}
	}

	if booking.Username != cmd.Username {
		return Result{Status: "error", Message: "Unauthorized"}
	}

	if booking.Status == "cancelled" {
		return Result{Status: "error", Message: "Already cancelled"}
	}

	movie, ok := m.movies[booking.MovieID]
	if ok {
		available := make(map[int]bool, len(movie.AvailableSeats)+len(booking.Seats))
		for _, s := range movie.AvailableSeats {
			available[s] = true
		}
		for _, s := range booking.Seats {
			available[s] = true
		}
		movie.AvailableSeats = sortedKeys(available)
		m.notifySeats(movie)
	}

	booking.Status = "cancelled"

	return Result{
		Status:       "success",
		Message:      "Booking cancelled",
		RefundAmount: booking.Price,
	}
}

// processPayment enforces I5's payment-ID half: payment IDs are
// strictly monotonic in application order.
func (m *Machine) processPayment(cmd *ProcessPaymentCommand) Result {
	if cmd == nil {
		return Result{Status: "error", Message: "missing process_payment payload"}
	}

	booking, ok := m.bookings[cmd.BookingID]
	if !ok {
		return Result{Status: "error", Message: "Booking not found"}
	}

	method := cmd.PaymentMethod
	if method == "" {
		method = "card"
	}

	paymentID := fmt.Sprintf("PAY%06d", len(m.payments)+1)
	m.payments[paymentID] = &Payment{
		PaymentID: paymentID,
		BookingID: cmd.BookingID,
		Amount:    booking.Price,
		Method:    method,
		Status:    "completed",
		Timestamp: time.Now(),
	}

	return Result{
		Status:    "success",
		Message:   "Payment processed",
		PaymentID: paymentID,
	}
}

// GetAvailableSeats returns the current available seats for movieID.
func (m *Machine) GetAvailableSeats(movieID string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	movie, ok := m.movies[movieID]
	if !ok {
		return nil
	}
	seats := make([]int, len(movie.AvailableSeats))
	copy(seats, movie.AvailableSeats)
	return seats
}

// GetUserBookings returns every booking (confirmed or cancelled) made by username.
func (m *Machine) GetUserBookings(username string) []*Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Booking
	for _, b := range m.bookings {
		if b.Username == username {
			copyB := *b
			result = append(result, &copyB)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BookingID < result[j].BookingID })
	return result
}

// GetMovies returns a summary of every movie in the catalog.
func (m *Machine) GetMovies() []MovieSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]MovieSummary, 0, len(m.movies))
	for id, movie := range m.movies {
		summaries = append(summaries, MovieSummary{
			ID:             id,
			Title:          movie.Title,
			AvailableSeats: len(movie.AvailableSeats),
			TotalSeats:     movie.TotalSeats,
			Price:          movie.Price,
			Showtime:       movie.Showtime,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

// notifySeats informs the observer, if any, of movie's new availability.
// Called with m.mu already held; observers must not block (a buffered
// channel with a non-blocking send, as the websocket hub uses).
func (m *Machine) notifySeats(movie *Movie) {
	if m.observer == nil {
		return
	}
	seats := make([]int, len(movie.AvailableSeats))
	copy(seats, movie.AvailableSeats)
	m.observer.OnSeatsChanged(movie.ID, seats)
}

func sortedKeys(set map[int]bool) []int {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
