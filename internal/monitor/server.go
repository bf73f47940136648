// Package monitor serves the localiser's status API and debug charts over
// HTTP, backed by a History sink fed by the coordinator.
package monitor

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/auv.localiser/internal/httputil"
	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
	"github.com/banshee-data/auv.localiser/internal/timeutil"
	"github.com/banshee-data/auv.localiser/internal/version"
)

// DefaultAddress is the monitor listen address.
const DefaultAddress = "localhost:8092"

// Status is the coordinator-side view reported by /api/status.
type Status struct {
	RunID         string `json:"run_id,omitempty"`
	State         string `json:"state"`
	Steps         uint64 `json:"steps"`
	PendingMotion int    `json:"pending_motion"`
	Particles     int    `json:"particles"`
	Workers       int    `json:"workers"`
	Strategy      string `json:"strategy"`
}

// statusResponse adds the monitor's own fields to Status.
type statusResponse struct {
	Status
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Started   string    `json:"started"`
	Estimates uint64    `json:"estimates"`
	LastNEff  *float64  `json:"last_n_eff,omitempty"`
	LastStamp time.Time `json:"last_stamp,omitzero"`
}

// estimateJSON is the /api/estimates row layout.
type estimateJSON struct {
	Stamp     time.Time  `json:"stamp"`
	FrameID   string     `json:"frame_id"`
	Pose      pose.Pose  `json:"pose"`
	Variance  [6]float64 `json:"variance"`
	NEff      float64    `json:"n_eff"`
	Resampled bool       `json:"resampled"`
	Particles int        `json:"particles"`
}

func toJSON(e publish.Estimate) estimateJSON {
	return estimateJSON{
		Stamp:     e.Stamp,
		FrameID:   e.FrameID,
		Pose:      e.Pose,
		Variance:  e.Variance,
		NEff:      e.NEff,
		Resampled: e.Resampled,
		Particles: e.Particles,
	}
}

// Config configures a Server.
type Config struct {
	Address string
	History *History
	// Status reports the live coordinator state. Nil reports an empty
	// Status.
	Status func() Status
	Clock  timeutil.Clock
}

// Server is the monitor HTTP server.
type Server struct {
	address   string
	history   *History
	status    func() Status
	clock     timeutil.Clock
	startedAt time.Time

	mux    *http.ServeMux
	server *http.Server
}

// NewServer builds the server and its routes. Nothing listens until Start.
func NewServer(cfg Config) *Server {
	s := &Server{
		address: cfg.Address,
		history: cfg.History,
		status:  cfg.Status,
		clock:   cfg.Clock,
	}
	if s.address == "" {
		s.address = DefaultAddress
	}
	if s.history == nil {
		s.history = NewHistory(0)
	}
	if s.status == nil {
		s.status = func() Status { return Status{} }
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	s.startedAt = s.clock.Now()
	s.mux = s.setupRoutes()
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Mux exposes the route table so other components can attach admin routes.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// History returns the sink backing the server.
func (s *Server) History() *History { return s.history }

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("[Monitor] listening on %s", s.address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Monitor] shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			log.Printf("[Monitor] force close error: %v", err)
		}
	}
	log.Printf("[Monitor] stopped")
	return nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/estimates", s.handleEstimates)
	mux.HandleFunc("/debug/charts/neff", s.handleNEffChart)
	mux.HandleFunc("/debug/charts/trajectory", s.handleTrajectoryChart)
	mux.HandleFunc("/debug/particles.png", s.handleParticlesPNG)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	resp := statusResponse{
		Status:    s.status(),
		Version:   version.Version,
		StartedAt: s.startedAt,
		Started:   humanize.RelTime(s.startedAt, s.clock.Now(), "ago", "from now"),
		Estimates: s.history.Total(),
	}
	if e, ok := s.history.Latest(); ok {
		neff := e.NEff
		resp.LastNEff = &neff
		resp.LastStamp = e.Stamp
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	limit, ok := httputil.QueryInt(r, "limit", 100, 1, s.history.size)
	if !ok {
		httputil.BadRequest(w, "limit must be a positive integer no larger than the history size")
		return
	}
	rows := s.history.Estimates(limit)
	out := make([]estimateJSON, len(rows))
	for i, e := range rows {
		out[i] = toJSON(e)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
