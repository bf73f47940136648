// Package transport carries odometry, multibeam pings and static transforms
// into the localiser as JSON lines, either from a serial bridge or from a
// recorded replay file.
package transport

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"tailscale.com/tsweb"
)

// ErrWriteFailed is returned when a line could not be written in full.
var ErrWriteFailed = errors.New("failed to write to port")

// maxLineBytes bounds a single JSON line; a 512 beam ping fits comfortably.
const maxLineBytes = 1 << 20

// Mux reads lines from a single port and fans them out to any number of
// subscribers. Slow subscribers miss lines rather than stalling the reader,
// except lossless ones, which apply backpressure to the port.
type Mux[T Porter] struct {
	port T

	subscriberMu sync.Mutex
	subscribers  map[string]subscriber

	writeMu sync.Mutex

	closingMu sync.Mutex
	closing   bool
}

// NewMux returns a Mux reading from port.
func NewMux[T Porter](port T) *Mux[T] {
	return &Mux[T]{
		port:        port,
		subscribers: make(map[string]subscriber),
	}
}

type subscriber struct {
	ch       chan string
	lossless bool
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a buffered channel that receives lines read after the
// call. Lines are dropped while the channel is full. The id is used to
// Unsubscribe.
func (m *Mux[T]) Subscribe(buffer int) (string, chan string) {
	return m.subscribe(buffer, false)
}

// SubscribeLossless is like Subscribe but Monitor blocks until the line is
// accepted. The subscriber must keep receiving until the channel is closed
// or the Monitor context is cancelled.
func (m *Mux[T]) SubscribeLossless(buffer int) (string, chan string) {
	return m.subscribe(buffer, true)
}

func (m *Mux[T]) subscribe(buffer int, lossless bool) (string, chan string) {
	id := randomID()
	ch := make(chan string, buffer)

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.closingMu.Lock()
	closing := m.closing
	m.closingMu.Unlock()
	if closing {
		close(ch)
		return id, ch
	}
	m.subscribers[id] = subscriber{ch: ch, lossless: lossless}
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Mux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if sub, ok := m.subscribers[id]; ok {
		close(sub.ch)
		delete(m.subscribers, id)
	}
}

// SendLine writes a newline-terminated line back to the port.
func (m *Mux[T]) SendLine(line string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	n, err := m.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port until ctx is cancelled, the port
// reaches EOF, or a read fails. EOF returns nil.
func (m *Mux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.port)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking Scan runs on its own goroutine so cancellation is
	// observed even while the port is idle.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return fmt.Errorf("read port: %w", err)

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return fmt.Errorf("read port: %w", err)
				default:
					return nil
				}
			}
			m.closingMu.Lock()
			closing := m.closing
			m.closingMu.Unlock()
			if closing {
				return nil
			}

			m.subscriberMu.Lock()
			for _, sub := range m.subscribers {
				if sub.lossless {
					select {
					case sub.ch <- line:
					case <-ctx.Done():
						m.subscriberMu.Unlock()
						return ctx.Err()
					}
					continue
				}
				select {
				case sub.ch <- line:
				default:
				}
			}
			m.subscriberMu.Unlock()
		}
	}
}

// Close closes every subscriber channel and then the port.
func (m *Mux[T]) Close() error {
	m.closingMu.Lock()
	if m.closing {
		m.closingMu.Unlock()
		return nil
	}
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	for id, sub := range m.subscribers {
		close(sub.ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()
	return m.port.Close()
}

// AttachAdminRoutes registers a live tail of incoming lines as server-sent
// events under /debug/transport-tail.
func (m *Mux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("transport-tail", func(w http.ResponseWriter, r *http.Request) {
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
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := m.Subscribe(16)
		defer m.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
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
	})
}
