package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/auv.localiser/internal/timeutil"
)

// ReplayPort plays a recorded JSON-lines file back as if it were arriving
// on a serial link. Blank lines and lines starting with '#' are skipped.
// Writes are accepted and discarded.
type ReplayPort struct {
	pr     *io.PipeReader
	pw     *io.PipeWriter
	src    io.Reader
	ticker timeutil.Ticker

	done      chan struct{}
	closeOnce sync.Once
}

// NewReplayPort starts replaying src, emitting one line per interval of
// clock. A zero interval replays as fast as the reader consumes.
func NewReplayPort(src io.Reader, clock timeutil.Clock, interval time.Duration) *ReplayPort {
	pr, pw := io.Pipe()
	p := &ReplayPort{
		pr:   pr,
		pw:   pw,
		src:  src,
		done: make(chan struct{}),
	}
	if interval > 0 {
		p.ticker = clock.NewTicker(interval)
	}
	go p.run()
	return p
}

// OpenReplay opens a recorded file and wraps it in a Mux.
func OpenReplay(path string, clock timeutil.Clock, interval time.Duration) (*Mux[*ReplayPort], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	return NewMux(NewReplayPort(f, clock, interval)), nil
}

func (p *ReplayPort) run() {
	if p.ticker != nil {
		defer p.ticker.Stop()
	}
	scan := bufio.NewScanner(p.src)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scan.Scan() {
		line := bytes.TrimSpace(scan.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if p.ticker != nil {
			select {
			case <-p.ticker.C():
			case <-p.done:
				return
			}
		}
		buf := make([]byte, 0, len(line)+1)
		buf = append(append(buf, line...), '\n')
		if _, err := p.pw.Write(buf); err != nil {
			return
		}
	}
	p.pw.CloseWithError(scan.Err())
}

func (p *ReplayPort) Read(b []byte) (int, error) { return p.pr.Read(b) }

func (p *ReplayPort) Write(b []byte) (int, error) { return len(b), nil }

// Close stops the replay and closes the underlying source if it is closable.
func (p *ReplayPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.pr.Close()
		if c, ok := p.src.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
