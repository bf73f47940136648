// Package node assembles a running localiser: it loads the filter
// configuration, resolves the static frames, starts the coordinator and
// feeds it from the transport until the input ends or the context is
// cancelled.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/auv.localiser/internal/config"
	"github.com/banshee-data/auv.localiser/internal/coordinator"
	"github.com/banshee-data/auv.localiser/internal/db"
	"github.com/banshee-data/auv.localiser/internal/frames"
	"github.com/banshee-data/auv.localiser/internal/measurement"
	"github.com/banshee-data/auv.localiser/internal/monitor"
	"github.com/banshee-data/auv.localiser/internal/publish"
	"github.com/banshee-data/auv.localiser/internal/security"
	"github.com/banshee-data/auv.localiser/internal/timeutil"
	"github.com/banshee-data/auv.localiser/internal/transport"
	"github.com/banshee-data/auv.localiser/internal/visualiser"
)

// maxHeld bounds the odometry and pings buffered while the static
// transforms are still being resolved. The oldest are dropped first.
const maxHeld = 4096

// ErrNoInput is returned when neither a serial port, a replay file nor a
// Source is configured.
var ErrNoInput = errors.New("no input configured: set a serial port or a replay file")

// Source is a line-oriented input the node subscribes to.
type Source interface {
	SubscribeLossless(buffer int) (string, chan string)
	Unsubscribe(id string)
	Monitor(ctx context.Context) error
	Close() error
	AttachAdminRoutes(mux *http.ServeMux)
}

// Options configures a Node. Zero values disable the optional components.
type Options struct {
	// Config is used as-is when set; otherwise ConfigPath is loaded.
	Config     *config.FilterConfig
	ConfigPath string
	// DataRoot, when set, confines ConfigPath and ReplayPath to a directory.
	DataRoot string

	SerialPort     string
	PortOptions    transport.PortOptions
	ReplayPath     string
	ReplayInterval time.Duration
	// Source overrides SerialPort and ReplayPath.
	Source Source

	DBPath          string
	MonitorAddr     string
	VisualiserAddr  string
	StreamParticles bool

	Clock timeutil.Clock
}

// Node is one localiser process.
type Node struct {
	opts    Options
	cfg     *config.FilterConfig
	clock   timeutil.Clock
	decoder transport.Decoder

	table    *frames.StaticTable
	source   Source
	store    *db.DB
	runID    string
	history  *monitor.History
	monitor  *monitor.Server
	pubsrv   *visualiser.Publisher
	scorer   measurement.Scorer
	sim      *measurement.CachedSimulator

	ready chan struct{}
	coord *coordinator.Coordinator

	mu      sync.Mutex
	decoded map[transport.Kind]uint64
	errors  uint64
	dropped uint64
}

// New loads configuration and opens the input, the store and the servers.
// Nothing runs until Run.
func New(ctx context.Context, opts Options) (*Node, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	n := &Node{
		opts:    opts,
		cfg:     cfg,
		clock:   opts.Clock,
		decoder: transport.NewDecoder(cfg),
		table:   frames.NewStaticTable(),
		history: monitor.NewHistory(monitor.DefaultHistorySize),
		ready:   make(chan struct{}),
		decoded: make(map[transport.Kind]uint64),
	}
	if err := n.table.Load(cfg.StaticTransforms); err != nil {
		return nil, err
	}

	sim, err := measurement.NewCachedSimulator(measurement.FlatSeabed{
		Depth:    cfg.GetSeabedDepth(),
		MaxRange: cfg.GetSimulatorMaxRange(),
	}, cfg.GetSimulatorCacheSize(), cfg.GetSimulatorResolution())
	if err != nil {
		return nil, fmt.Errorf("range simulator: %w", err)
	}
	n.sim = sim
	n.scorer = measurement.NewRangeScorer(sim)

	if n.source, err = openSource(opts); err != nil {
		return nil, err
	}

	if opts.DBPath != "" {
		if n.store, err = db.Open(opts.DBPath); err != nil {
			n.source.Close()
			return nil, fmt.Errorf("open database: %w", err)
		}
		run, err := n.store.CreateRun(ctx, cfg, n.clock.Now())
		if err != nil {
			n.closeResources()
			return nil, err
		}
		n.runID = run.ID
		log.Printf("[Node] recording run %s to %s", run.ID, opts.DBPath)
	}

	if opts.MonitorAddr != "" {
		n.monitor = monitor.NewServer(monitor.Config{
			Address: opts.MonitorAddr,
			History: n.history,
			Status:  n.Status,
			Clock:   n.clock,
		})
		n.source.AttachAdminRoutes(n.monitor.Mux())
		if n.store != nil {
			if err := n.store.AttachAdminRoutes(n.monitor.Mux()); err != nil {
				n.closeResources()
				return nil, err
			}
		}
	}

	if opts.VisualiserAddr != "" {
		vc := visualiser.DefaultConfig()
		vc.ListenAddr = opts.VisualiserAddr
		vc.StreamParticles = opts.StreamParticles
		n.pubsrv = visualiser.NewPublisher(vc)
	}
	return n, nil
}

func loadConfig(opts Options) (*config.FilterConfig, error) {
	if opts.Config != nil {
		if err := opts.Config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return opts.Config, nil
	}
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultConfigPath
	}
	if opts.DataRoot != "" {
		if err := security.ValidatePathWithinDirectory(path, opts.DataRoot); err != nil {
			return nil, fmt.Errorf("config path: %w", err)
		}
	}
	return config.LoadFilterConfig(path)
}

func openSource(opts Options) (Source, error) {
	switch {
	case opts.Source != nil:
		return opts.Source, nil
	case opts.ReplayPath != "":
		if opts.DataRoot != "" {
			if err := security.ValidatePathWithinDirectory(opts.ReplayPath, opts.DataRoot); err != nil {
				return nil, fmt.Errorf("replay path: %w", err)
			}
		}
		return transport.OpenReplay(opts.ReplayPath, opts.Clock, opts.ReplayInterval)
	case opts.SerialPort != "":
		return transport.OpenSerial(opts.SerialPort, opts.PortOptions)
	}
	return nil, ErrNoInput
}

// Config returns the loaded filter configuration.
func (n *Node) Config() *config.FilterConfig { return n.cfg }

// RunID is the database run id, empty when persistence is disabled.
func (n *Node) RunID() string { return n.runID }

// History returns the in-memory estimate history.
func (n *Node) History() *monitor.History { return n.history }

// Coordinator returns the running coordinator, or nil before the static
// transforms have resolved.
func (n *Node) Coordinator() *coordinator.Coordinator {
	select {
	case <-n.ready:
		return n.coord
	default:
		return nil
	}
}

// Status implements the monitor status callback.
func (n *Node) Status() monitor.Status {
	st := monitor.Status{
		RunID:     n.runID,
		State:     "waiting_for_transforms",
		Particles: n.cfg.GetParticleCount(),
		Workers:   n.cfg.GetWorkerCount(),
		Strategy:  n.cfg.GetResampleStrategy(),
	}
	if c := n.Coordinator(); c != nil {
		st.State = c.State().String()
		st.Steps = c.Steps()
		st.PendingMotion = c.Pending()
	}
	return st
}

// Decoded returns the number of lines decoded per kind and the number of
// lines rejected.
func (n *Node) Decoded() (map[transport.Kind]uint64, uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[transport.Kind]uint64, len(n.decoded))
	for k, v := range n.decoded {
		out[k] = v
	}
	return out, n.errors
}

func (n *Node) sink() publish.Sink {
	sinks := publish.Multi{publish.LogSink{}, n.history}
	if n.store != nil {
		sinks = append(sinks, n.store.Sink(n.runID))
	}
	if n.pubsrv != nil {
		sinks = append(sinks, n.pubsrv)
	}
	return sinks
}

// Run feeds the filter until the input ends or ctx is cancelled. A static
// transform that never arrives is reported as frames.ErrTransformTimeout.
func (n *Node) Run(ctx context.Context) error {
	defer n.closeResources()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if n.monitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.monitor.Start(ctx); err != nil {
				log.Printf("[Node] monitor server failed: %v", err)
			}
		}()
	}
	if n.pubsrv != nil {
		if err := n.pubsrv.Start(); err != nil {
			return fmt.Errorf("start visualiser: %w", err)
		}
		defer n.pubsrv.Stop()
	}

	id, lines := n.source.SubscribeLossless(256)
	defer n.source.Unsubscribe(id)

	monitorErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := n.source.Monitor(ctx)
		n.source.Close()
		monitorErr <- err
	}()

	dispatchDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(dispatchDone)
		n.dispatch(ctx, lines)
	}()

	var runErr error
	if err := n.start(ctx); err != nil {
		runErr = err
		cancel()
	} else {
		<-dispatchDone
	}
	cancel()
	wg.Wait()

	if err := <-monitorErr; runErr == nil && err != nil && !errors.Is(err, context.Canceled) {
		runErr = fmt.Errorf("transport: %w", err)
	}
	if n.coord != nil {
		n.coord.Close()
	}
	if n.store != nil {
		if err := n.store.FinishRun(context.Background(), n.runID, n.clock.Now()); err != nil {
			log.Printf("[Node] failed to finish run %s: %v", n.runID, err)
		}
	}
	decoded, rejected := n.Decoded()
	n.mu.Lock()
	dropped := n.dropped
	n.mu.Unlock()
	log.Printf("[Node] stopped: %s odometry, %s pings, %s transforms, %s rejected lines, %s dropped before start, %s cached ray casts",
		humanize.Comma(int64(decoded[transport.KindOdometry])),
		humanize.Comma(int64(decoded[transport.KindPing])),
		humanize.Comma(int64(decoded[transport.KindTransform])),
		humanize.Comma(int64(rejected)),
		humanize.Comma(int64(dropped)),
		humanize.Comma(int64(n.sim.Len())))
	return runErr
}

// start resolves the static frames and brings up the coordinator. Until
// ready is closed the dispatcher applies transforms and buffers odometry
// and pings.
func (n *Node) start(ctx context.Context) error {
	resolver := frames.NewResolver(n.table, n.clock)
	static, err := resolver.ResolveStatic(ctx, n.cfg)
	if err != nil {
		return err
	}
	ccfg, err := coordinator.FromFilterConfig(n.cfg, n.scorer, static, n.sink())
	if err != nil {
		return err
	}
	coord, err := coordinator.New(ctx, ccfg)
	if err != nil {
		return err
	}
	n.coord = coord
	close(n.ready)
	return nil
}

func (n *Node) dispatch(ctx context.Context, lines <-chan string) {
	ready := n.ready
	var held []transport.Message
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			ready = nil
			for _, msg := range held {
				n.report(ctx, n.apply(ctx, msg))
			}
			held = nil
			if lines == nil {
				return
			}
		case line, ok := <-lines:
			if !ok {
				if ready == nil {
					return
				}
				// Input ended before the coordinator came up; wait for it
				// so the held messages are still applied.
				lines = nil
				continue
			}
			msg, err := n.decode(line)
			if err != nil {
				n.report(ctx, err)
				continue
			}
			if msg.Kind == transport.KindTransform {
				n.report(ctx, n.table.Load([]config.StaticTransform{msg.Transform}))
				continue
			}
			if ready != nil {
				if len(held) == maxHeld {
					held = held[1:]
					n.mu.Lock()
					n.dropped++
					n.mu.Unlock()
				}
				held = append(held, msg)
				continue
			}
			n.report(ctx, n.apply(ctx, msg))
		}
	}
}

func (n *Node) report(ctx context.Context, err error) {
	if err != nil && ctx.Err() == nil {
		log.Printf("[Node] %v", err)
	}
}

func (n *Node) decode(line string) (transport.Message, error) {
	msg, err := n.decoder.Decode(line)
	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.errors++
		return msg, err
	}
	n.decoded[msg.Kind]++
	return msg, nil
}

// apply hands odometry and pings to the coordinator. It must only be called
// once ready is closed.
func (n *Node) apply(ctx context.Context, msg transport.Message) error {
	switch msg.Kind {
	case transport.KindPing:
		n.coord.HandleMeasurement(msg.Ping)
	case transport.KindOdometry:
		if _, err := n.coord.HandleOdometry(ctx, msg.Motion); err != nil {
			return fmt.Errorf("step: %w", err)
		}
	}
	return nil
}

func (n *Node) closeResources() {
	if n.source != nil {
		n.source.Close()
	}
	if n.store != nil {
		n.store.Close()
	}
}
