package validation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvnet/raftbooking/internal/dto"
)

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator()

	req := dto.BookTicketRequest{
		RequestID: uuid.New().String(),
		MovieID:   "movie1",
		Seats:     []int{1, 2},
	}

	assert.NoError(t, v.ValidateStruct(req))
}

func TestValidateStruct_MissingRequiredFields(t *testing.T) {
	v := NewValidator()

	err := v.ValidateStruct(dto.BookTicketRequest{})
	require.Error(t, err)

	valErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.NotEmpty(t, valErr.Errors)

	fields := make(map[string]bool)
	for _, fe := range valErr.Errors {
		fields[fe.Field] = true
	}
	assert.True(t, fields["request_id"])
	assert.True(t, fields["movie_id"])
	assert.True(t, fields["seats"])
}

func TestValidateStruct_RejectsNonUUIDRequestID(t *testing.T) {
	v := NewValidator()

	err := v.ValidateStruct(dto.BookTicketRequest{
		RequestID: "not-a-uuid",
		MovieID:   "movie1",
		Seats:     []int{1},
	})
	require.Error(t, err)
}

func TestValidateStruct_RejectsTooManySeats(t *testing.T) {
	v := NewValidator()

	seats := make([]int, 21)
	for i := range seats {
		seats[i] = i + 1
	}

	err := v.ValidateStruct(dto.BookTicketRequest{
		RequestID: uuid.New().String(),
		MovieID:   "movie1",
		Seats:     seats,
	})
	assert.Error(t, err)
}

func TestValidateStruct_PaymentMethodOneOf(t *testing.T) {
	v := NewValidator()

	valid := dto.ProcessPaymentRequest{
		RequestID:     uuid.New().String(),
		BookingID:     "BK000001",
		PaymentMethod: "card",
	}
	assert.NoError(t, v.ValidateStruct(valid))

	invalid := dto.ProcessPaymentRequest{
		RequestID:     uuid.New().String(),
		BookingID:     "BK000001",
		PaymentMethod: "bitcoin",
	}
	assert.Error(t, v.ValidateStruct(invalid))
}

func TestValidationError_Error_ListsFields(t *testing.T) {
	v := NewValidator()

	err := v.ValidateStruct(dto.LoginRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username")
	assert.Contains(t, err.Error(), "password")
}
