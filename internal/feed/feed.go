// feed.go - HTTP event feed.
//
// The pool's event log is the sole synchronization channel for wallets.
// Server exposes it over HTTP so remote wallets can follow the ledger;
// Client polls it and hands batches to a scanner.

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zkshield/shieldpool/internal/pool"
)

// Envelope is the wire format for one poll response.
type Envelope struct {
	Events []pool.Event `json:"events"`
	// Next is the sequence number to pass as `since` on the next poll.
	Next uint64 `json:"next"`
}

// Server serves the event log at GET /events?since=N.
type Server struct {
	source   *pool.Log
	log      zerolog.Logger
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	serving  atomic.Bool
}

func NewServer(addr string, source *pool.Log, log zerolog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("feed: listen on %s: %w", addr, err)
	}
	s := &Server{source: source, log: log, listener: listener}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.eventsHandler)
	s.server = &http.Server{Handler: mux}
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves in a background goroutine until Stop.
func (s *Server) Start() {
	s.serving.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.serving.Store(false)
		s.log.Info().Str("addr", s.Addr()).Msg("event feed serving")
		if err := s.server.Serve(s.listener); err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("event feed stopped")
		}
	}()
}

// Stop shuts the server down and waits for the serve goroutine.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// Healthy reports whether the serve goroutine is still accepting polls.
func (s *Server) Healthy() error {
	if !s.serving.Load() {
		return errors.New("feed: listener not serving")
	}
	return nil
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	events := s.source.Since(since)
	env := Envelope{Events: events, Next: since + uint64(len(events))}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&env); err != nil {
		s.log.Error().Err(err).Msg("encoding event envelope")
	}
}

// Scanner consumes event batches in order; *wallet.Wallet satisfies it.
type Scanner interface {
	Scan(events []pool.Event) error
}

// Client follows a remote feed.
type Client struct {
	base string
	http *http.Client
	next uint64
	log  zerolog.Logger
}

func NewClient(addr string, log zerolog.Logger) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 5 * time.Second},
		log:  log,
	}
}

// Poll fetches all events published since the previous poll.
func (c *Client) Poll(ctx context.Context) ([]pool.Event, error) {
	url := fmt.Sprintf("%s/events?since=%d", c.base, c.next)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed: poll returned %s", resp.Status)
	}
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("feed: decode envelope: %w", err)
	}
	c.next = env.Next
	return env.Events, nil
}

// Sync polls once and feeds anything new to the scanner.
func (c *Client) Sync(ctx context.Context, scanner Scanner) error {
	events, err := c.Poll(ctx)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	c.log.Debug().Int("events", len(events)).Msg("feed batch applied")
	return scanner.Scan(events)
}
