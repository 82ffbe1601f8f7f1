// Package rest implements the ClientService HTTP surface: POST /login,
// POST /logout, GET /:type, POST /:type, POST /assist.
package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruvnet/raftbooking/internal/apierr"
	"github.com/ruvnet/raftbooking/internal/assist"
	"github.com/ruvnet/raftbooking/internal/auth"
	"github.com/ruvnet/raftbooking/internal/dto"
	"github.com/ruvnet/raftbooking/internal/middleware"
	"github.com/ruvnet/raftbooking/internal/router"
	"github.com/ruvnet/raftbooking/internal/validation"
)

// Handler implements the ClientService endpoints over the RequestRouter.
type Handler struct {
	router    *router.Router
	assistSvc *assist.Service
	validator *validation.Validator
	logger    *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(r *router.Router, assistSvc *assist.Service, validator *validation.Validator, logger *zap.Logger) *Handler {
	return &Handler{router: r, assistSvc: assistSvc, validator: validator, logger: logger}
}

// SetupRoutes registers every ClientService route.
func (h *Handler) SetupRoutes(engine *gin.Engine, authMiddleware gin.HandlerFunc) {
	v1 := engine.Group("/api/v1")
	v1.POST("/login", h.Login)

	authed := v1.Group("")
	authed.Use(authMiddleware)
	{
		authed.POST("/logout", h.Logout)
		authed.GET("/:type", h.Get)
		authed.POST("/:type", h.Post)
		authed.POST("/assist", h.Assist)
	}
}

// Login godoc
// @Summary Authenticate and receive a session token
// @Router /api/v1/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.NewAuthRejected("invalid login request").WriteJSON(c.Writer, c.Request)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		apierr.NewAuthRejected(err.Error()).WriteJSON(c.Writer, c.Request)
		return
	}

	token, principal, err := h.router.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": dto.LoginResponse{
			Token:    token,
			Username: principal.Username,
			Role:     principal.Role,
		},
	})
}

// Logout is a no-op beyond client-side token disposal: sessions are
// stateless signed tokens, so there is no server-side session to destroy.
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"message": "logged out"}})
}

// Get serves the three read operations: list_movies, available_seats, my_bookings.
func (h *Handler) Get(c *gin.Context) {
	username, _ := middleware.GetUsername(c)

	switch c.Param("type") {
	case "list_movies":
		c.JSON(http.StatusOK, gin.H{"success": true, "data": h.router.ListMovies()})
	case "available_seats":
		movieID := c.Query("movie_id")
		if movieID == "" {
			apierr.New(apierr.CommandRejected, "movie_id query parameter is required").WriteJSON(c.Writer, c.Request)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": h.router.AvailableSeats(movieID)})
	case "my_bookings":
		c.JSON(http.StatusOK, gin.H{"success": true, "data": h.router.MyBookings(username)})
	default:
		apierr.New(apierr.CommandRejected, "unknown read operation").WriteJSON(c.Writer, c.Request)
	}
}

// Post serves the three write operations: book_ticket, cancel_booking, payment.
func (h *Handler) Post(c *gin.Context) {
	principal := currentPrincipal(c)
	forwarded := c.GetHeader(router.ForwardedHeader) != ""

	switch c.Param("type") {
	case "book_ticket":
		h.bookTicket(c, principal, forwarded)
	case "cancel_booking":
		h.cancelBooking(c, principal, forwarded)
	case "payment":
		h.processPayment(c, forwarded)
	default:
		apierr.New(apierr.CommandRejected, "unknown write operation").WriteJSON(c.Writer, c.Request)
	}
}

// currentPrincipal rebuilds an auth.Principal from the username/role the
// auth middleware stashed in the gin context; the middleware does not
// store the full struct, only the two scalar claims handlers need.
func currentPrincipal(c *gin.Context) *auth.Principal {
	username, _ := middleware.GetUsername(c)
	role, _ := middleware.GetUserRole(c)
	return &auth.Principal{Username: username, Role: role}
}

func (h *Handler) bookTicket(c *gin.Context, principal *auth.Principal, forwarded bool) {
	var req dto.BookTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.New(apierr.CommandRejected, "invalid book_ticket request: "+err.Error()).WriteJSON(c.Writer, c.Request)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		apierr.New(apierr.CommandRejected, err.Error()).WriteJSON(c.Writer, c.Request)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		apierr.New(apierr.CommandRejected, "request_id must be a uuid").WriteJSON(c.Writer, c.Request)
		return
	}

	result, err := h.router.BookTicket(c.Request.Context(), requestID, principal, req.MovieID, req.Seats, forwarded)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (h *Handler) cancelBooking(c *gin.Context, principal *auth.Principal, forwarded bool) {
	var req dto.CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.New(apierr.CommandRejected, "invalid cancel_booking request: "+err.Error()).WriteJSON(c.Writer, c.Request)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		apierr.New(apierr.CommandRejected, err.Error()).WriteJSON(c.Writer, c.Request)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		apierr.New(apierr.CommandRejected, "request_id must be a uuid").WriteJSON(c.Writer, c.Request)
		return
	}

	result, err := h.router.CancelBooking(c.Request.Context(), requestID, principal, req.BookingID, forwarded)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (h *Handler) processPayment(c *gin.Context, forwarded bool) {
	var req dto.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.New(apierr.CommandRejected, "invalid payment request: "+err.Error()).WriteJSON(c.Writer, c.Request)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		apierr.New(apierr.CommandRejected, err.Error()).WriteJSON(c.Writer, c.Request)
		return
	}

	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		apierr.New(apierr.CommandRejected, "request_id must be a uuid").WriteJSON(c.Writer, c.Request)
		return
	}

	result, err := h.router.ProcessPayment(c.Request.Context(), requestID, req.BookingID, req.PaymentMethod, forwarded)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// Assist forwards a natural-language query to AssistService with a small
// context summary; this call is never replicated and never retried.
func (h *Handler) Assist(c *gin.Context) {
	if h.assistSvc == nil {
		apierr.New(apierr.PeerUnavailable, "assist service is not connected").WriteJSON(c.Writer, c.Request)
		return
	}

	username, _ := middleware.GetUsername(c)

	var req dto.AssistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.New(apierr.CommandRejected, "invalid assist request: "+err.Error()).WriteJSON(c.Writer, c.Request)
		return
	}

	bookings := h.router.MyBookings(username)
	answer, language, err := h.assistSvc.Ask(c.Request.Context(), username, req.Query, len(bookings))
	if err != nil {
		h.logger.Warn("assist call failed", zap.Error(err))
		apierr.NewInternal(err).WriteJSON(c.Writer, c.Request)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": dto.AssistResponse{Answer: answer, Language: language}})
}

func writeError(c *gin.Context, err error) {
	if apiErr, ok := err.(*apierr.APIError); ok {
		apiErr.WriteJSON(c.Writer, c.Request)
		return
	}
	apierr.NewInternal(err).WriteJSON(c.Writer, c.Request)
}
