// Package serialmux multiplexes a line-oriented serial device to any number
// of subscribers. The demo uses it to receive position measurements from an
// external tracker.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/onboard/internal/httputil"
	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

// ErrWriteFailed is returned by SendCommand on a short write.
var ErrWriteFailed = errors.New("failed to write to serial port")

// SerialMux fans each line read from port out to all subscribers.
type SerialMux[T SerialPorter] struct {
	port T

	mu   sync.Mutex
	subs map[string]chan string

	writeMu sync.Mutex
	closed  atomic.Bool

	lines   atomic.Uint64
	dropped atomic.Uint64
}

// Stats counts lines seen by Monitor and deliveries skipped because a
// subscriber's buffer was full.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port: port,
		subs: make(map[string]chan string),
	}
}

// Subscribe returns an ID and a channel receiving every line. A subscriber
// whose buffer is full misses the line, so size buffer for the consumer.
func (s *SerialMux[T]) Subscribe(buffer int) (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and removes the subscriber's channel. Unknown IDs are
// ignored.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// Stats returns the current counters.
func (s *SerialMux[T]) Stats() Stats {
	s.mu.Lock()
	n := len(s.subs)
	s.mu.Unlock()
	return Stats{Lines: s.lines.Load(), Dropped: s.dropped.Load(), Subscribers: n}
}

// SendCommand writes command to the port, newline terminated.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines until the port hits EOF, the context is cancelled or
// Close is called. Trailing carriage returns are stripped and blank lines
// skipped.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Reads block, so scanning runs apart from the select on ctx below.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if s.closed.Load() {
				return nil
			}
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			s.lines.Add(1)
			s.broadcast(line)
		}
	}
}

func (s *SerialMux[T]) broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel and the port.
func (s *SerialMux[T]) Close() error {
	s.closed.Store(true)

	s.mu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.mu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes adds /debug/serial-tail, a server-sent event stream of
// raw lines from the port, and /debug/serial-stats.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("serial-tail", "live tail of serial measurement lines", s.serveTail)
	debug.HandleFunc("serial-stats", "serial line and drop counters as JSON", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})
}

func (s *SerialMux[T]) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := s.Subscribe(16)
	defer s.Unsubscribe(id)

	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	for {
		select {
		case line, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
