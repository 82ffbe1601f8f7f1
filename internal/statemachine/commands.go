package statemachine

import "github.com/google/uuid"

// Operation names the booking command a LogEntry carries.
type Operation string

const (
	OpBookTicket     Operation = "book_ticket"
	OpCancelBooking  Operation = "cancel_booking"
	OpProcessPayment Operation = "process_payment"
)

// Command is the envelope every booking operation is wrapped in before
// being handed to Consensus.Submit. RequestID is client-chosen and
// deduplicated by the idempotency set: replaying the same RequestID returns
// the original result without re-mutating state.
type Command struct {
	Operation Operation       `json:"operation"`
	RequestID uuid.UUID       `json:"request_id"`
	BookTicket *BookTicketCommand `json:"book_ticket,omitempty"`
	CancelBooking *CancelBookingCommand `json:"cancel_booking,omitempty"`
	ProcessPayment *ProcessPaymentCommand `json:"process_payment,omitempty"`
}

// BookTicketCommand reserves seats for a movie on behalf of username.
type BookTicketCommand struct {
	MovieID  string `json:"movie_id"`
	Seats    []int  `json:"seats"`
	Username string `json:"username"`
}

// CancelBookingCommand cancels an existing booking, enforcing that only its
// owner may cancel it.
type CancelBookingCommand struct {
	BookingID string `json:"booking_id"`
	Username  string `json:"username"`
}

// ProcessPaymentCommand records a completed payment against a booking.
type ProcessPaymentCommand struct {
	BookingID     string `json:"booking_id"`
	PaymentMethod string `json:"payment_method"`
}

// Result is the JSON shape every Apply call returns, mirroring the
// original system's {"status": "success"|"error", ...} response.
type Result struct {
	Status       string   `json:"status"`
	Message      string   `json:"message,omitempty"`
	BookingID    string   `json:"booking_id,omitempty"`
	PaymentID    string   `json:"payment_id,omitempty"`
	RefundAmount float64  `json:"refund_amount,omitempty"`
	Booking      *Booking `json:"details,omitempty"`
}
