// Package dto contains the request/response shapes the client-facing
// router accepts and returns, validated by internal/validation before
// they are translated into statemachine.Command values.
package dto

// LoginRequest is the credential payload AuthService.Authenticate consumes.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required,min=1,max=200"`
}

// LoginResponse carries the minted session token back to the caller.
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// BookTicketRequest reserves seats for a movie. RequestID is the client's
// idempotency key; a retried identical RequestID replays the original
// result instead of double-booking.
type BookTicketRequest struct {
	RequestID string `json:"request_id" validate:"required,uuid4"`
	MovieID   string `json:"movie_id" validate:"required"`
	Seats     []int  `json:"seats" validate:"required,min=1,max=20,dive,min=1"`
}

// CancelBookingRequest cancels an existing booking owned by the caller.
type CancelBookingRequest struct {
	RequestID string `json:"request_id" validate:"required,uuid4"`
	BookingID string `json:"booking_id" validate:"required"`
}

// ProcessPaymentRequest records a completed payment against a booking.
type ProcessPaymentRequest struct {
	RequestID     string `json:"request_id" validate:"required,uuid4"`
	BookingID     string `json:"booking_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=card cash wallet"`
}

// AssistRequest forwards a natural-language query to AssistService,
// unreplicated and not retried across nodes.
type AssistRequest struct {
	Query string `json:"query" validate:"required,min=1,max=2000"`
}

// AssistResponse carries AssistService's answer back to the caller.
type AssistResponse struct {
	Answer   string `json:"answer"`
	Language string `json:"language,omitempty"`
}

// ValidationError is one field-level validation failure.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}
