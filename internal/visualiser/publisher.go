// Package visualiser streams filter output to external viewers over gRPC.
//
// The stream is server-side only: a client calls
// auvloc.v1.PoseService/StreamPoses and receives one structpb.Struct per
// published estimate or particle cloud.
package visualiser

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
)

// Config holds configuration for the pose stream server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent streaming clients
	MaxClients int

	// StreamParticles enables publishing full particle clouds. Estimates
	// are always streamed.
	StreamParticles bool

	// QueueSize bounds the broadcast queue; messages beyond it are dropped.
	QueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      "localhost:50061",
		MaxClients:      5,
		StreamParticles: true,
		QueueSize:       100,
	}
}

// Publisher manages the gRPC server and fans messages out to clients. It
// implements publish.Sink.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	msgChan   chan *structpb.Struct
	clients   map[string]chan *structpb.Struct
	clientsMu sync.RWMutex

	msgCount    atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ publish.Sink = (*Publisher)(nil)

// NewPublisher creates a new Publisher with the given configuration.
func NewPublisher(cfg Config) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Publisher{
		config:  cfg,
		msgChan: make(chan *structpb.Struct, cfg.QueueSize),
		clients: make(map[string]chan *structpb.Struct),
		stopCh:  make(chan struct{}),
	}
}

// Start listens on the configured address and serves the stream.
func (p *Publisher) Start() error {
	log.Printf("[Visualiser] Attempting to bind to %s...", p.config.ListenAddr)
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve starts the gRPC server on an existing listener.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	p.server.RegisterService(&PoseServiceDesc, p)

	p.wg.Add(1)
	go p.broadcastLoop()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Printf("[Visualiser] gRPC pose stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			log.Printf("[Visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop stops the server, disconnecting all clients.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	if p.server != nil {
		p.server.GracefulStop()
	}
	p.wg.Wait()
	log.Printf("[Visualiser] gRPC server stopped")
}

// PublishEstimate implements publish.Sink.
func (p *Publisher) PublishEstimate(e publish.Estimate) error {
	msg, err := EstimateMessage(e)
	if err != nil {
		return fmt.Errorf("encode estimate: %w", err)
	}
	p.enqueue(msg)
	return nil
}

// PublishParticles implements publish.Sink.
func (p *Publisher) PublishParticles(stamp time.Time, frameID string, poses []pose.Pose) error {
	if !p.config.StreamParticles {
		return nil
	}
	msg, err := ParticlesMessage(stamp, frameID, poses)
	if err != nil {
		return fmt.Errorf("encode particles: %w", err)
	}
	p.enqueue(msg)
	return nil
}

func (p *Publisher) enqueue(msg *structpb.Struct) {
	if !p.running.Load() || p.clientCount.Load() == 0 {
		return
	}
	select {
	case p.msgChan <- msg:
		p.msgCount.Add(1)
	default:
		dropped := p.dropped.Add(1)
		log.Printf("[Visualiser] DROPPED message (total dropped: %d), queue full", dropped)
	}
}

// broadcastLoop distributes messages to all connected clients.
func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case msg := <-p.msgChan:
			p.clientsMu.RLock()
			for _, ch := range p.clients {
				select {
				case ch <- msg:
				default:
					// Slow client: drop for this client only.
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// StreamPoses implements PoseServiceServer.
func (p *Publisher) StreamPoses(_ *emptypb.Empty, stream PoseService_StreamPosesServer) error {
	id, ch, err := p.addClient()
	if err != nil {
		return err
	}
	defer p.removeClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return status.Error(codes.Unavailable, "server stopping")
		case msg := <-ch:
			if err := stream.Send(msg); err != nil {
				log.Printf("[Visualiser] Send error for %s: %v", id, err)
				return err
			}
		}
	}
}

func (p *Publisher) addClient() (string, chan *structpb.Struct, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return "", nil, status.Errorf(codes.ResourceExhausted, "client limit %d reached", p.config.MaxClients)
	}
	id := uuid.NewString()
	ch := make(chan *structpb.Struct, 10)
	p.clients[id] = ch
	n := p.clientCount.Add(1)
	log.Printf("[Visualiser] Client connected: %s (total: %d)", id, n)
	return id, ch, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; !ok {
		return
	}
	delete(p.clients, id)
	n := p.clientCount.Add(-1)
	log.Printf("[Visualiser] Client disconnected: %s (remaining: %d)", id, n)
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		MessageCount: p.msgCount.Load(),
		Dropped:      p.dropped.Load(),
		ClientCount:  p.clientCount.Load(),
		Running:      p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	MessageCount uint64
	Dropped      uint64
	ClientCount  int32
	Running      bool
}
