// Package main is the raftbooking CLI: a thin cobra wrapper over
// pkg/client, the same cache-and-retry library any Go program embeds to
// talk to the cluster.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ruvnet/raftbooking/internal/dto"
	"github.com/ruvnet/raftbooking/pkg/client"
)

var (
	endpointsFlag string
	tokenFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "raftbooking",
	Short: "Command-line client for the Raft-replicated movie-seat booking service",
}

func newClient() *client.Client {
	endpoints := strings.Split(endpointsFlag, ",")
	c := client.New(endpoints)
	if tokenFlag != "" {
		c.SetToken(tokenFlag)
	}
	return c
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(out))
}

var loginCmd = &cobra.Command{
	Use:   "login [username] [password]",
	Short: "Authenticate and print a session token",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var resp dto.LoginResponse
		req := dto.LoginRequest{Username: args[0], Password: args[1]}
		if err := newClient().Write(ctx, "/api/v1/login", req, &resp); err != nil {
			fmt.Fprintln(os.Stderr, "login failed:", err)
			os.Exit(1)
		}
		printJSON(resp)
	},
}

var moviesCmd = &cobra.Command{
	Use:   "movies",
	Short: "List the movie catalog",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var resp struct {
			Success bool        `json:"success"`
			Data    interface{} `json:"data"`
		}
		if err := newClient().Read(ctx, "/api/v1/list_movies", &resp); err != nil {
			fmt.Fprintln(os.Stderr, "movies failed:", err)
			os.Exit(1)
		}
		printJSON(resp.Data)
	},
}

var bookCmd = &cobra.Command{
	Use:   "book [movie_id] [seat1,seat2,...]",
	Short: "Reserve one or more seats for a movie",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		seats, err := parseSeats(args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid seats:", err)
			os.Exit(1)
		}

		req := dto.BookTicketRequest{
			RequestID: newRequestID(),
			MovieID:   args[0],
			Seats:     seats,
		}

		var resp struct {
			Success bool        `json:"success"`
			Data    interface{} `json:"data"`
		}
		if err := newClient().Write(ctx, "/api/v1/book_ticket", req, &resp); err != nil {
			fmt.Fprintln(os.Stderr, "book failed:", err)
			os.Exit(1)
		}
		printJSON(resp.Data)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [booking_id]",
	Short: "Cancel an existing booking",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req := dto.CancelBookingRequest{
			RequestID: newRequestID(),
			BookingID: args[0],
		}

		var resp struct {
			Success bool        `json:"success"`
			Data    interface{} `json:"data"`
		}
		if err := newClient().Write(ctx, "/api/v1/cancel_booking", req, &resp); err != nil {
			fmt.Fprintln(os.Stderr, "cancel failed:", err)
			os.Exit(1)
		}
		printJSON(resp.Data)
	},
}

var bookingsCmd = &cobra.Command{
	Use:   "bookings",
	Short: "List the authenticated user's bookings",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var resp struct {
			Success bool        `json:"success"`
			Data    interface{} `json:"data"`
		}
		if err := newClient().Read(ctx, "/api/v1/my_bookings", &resp); err != nil {
			fmt.Fprintln(os.Stderr, "bookings failed:", err)
			os.Exit(1)
		}
		printJSON(resp.Data)
	},
}

var assistCmd = &cobra.Command{
	Use:   "assist [query]",
	Short: "Ask the natural-language booking assistant a question",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req := dto.AssistRequest{Query: args[0]}
		var resp struct {
			Success bool              `json:"success"`
			Data    dto.AssistResponse `json:"data"`
		}
		if err := newClient().Write(ctx, "/api/v1/assist", req, &resp); err != nil {
			fmt.Fprintln(os.Stderr, "assist failed:", err)
			os.Exit(1)
		}
		printJSON(resp.Data)
	},
}

func parseSeats(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	seats := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%q is not a valid seat number", p)
		}
		seats = append(seats, n)
	}
	return seats, nil
}

// newRequestID mints a fresh idempotency key for a write command; the CLI
// never retries a failed write with the same key, so a fresh UUID per
// invocation is always correct.
func newRequestID() string {
	return uuid.NewString()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&endpointsFlag, "endpoints", "http://localhost:8080", "comma-separated list of cluster endpoints")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "bearer session token from a prior login")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(moviesCmd)
	rootCmd.AddCommand(bookCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(bookingsCmd)
	rootCmd.AddCommand(assistCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
