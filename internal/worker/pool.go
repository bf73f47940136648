package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/banshee-data/auv.localiser/internal/measurement"
	"github.com/banshee-data/auv.localiser/internal/particle"
)

// ErrPoolClosed is returned by DispatchEach, Broadcast and Collect after
// Close.
var ErrPoolClosed = errors.New("worker pool closed")

// PoolConfig describes how to build a Pool.
type PoolConfig struct {
	Workers   int
	Seed      uint64
	Scorer    measurement.Scorer
	Projector Projector
}

// Pool runs one Unit per partition. Every unit sends its reports to a
// single shared channel sized to the number of workers.
type Pool struct {
	units   []*Unit
	reports chan Report

	cancel context.CancelFunc
	done   <-chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool partitions particles across cfg.Workers units and starts them.
// The pool takes ownership of particles; callers must not touch them
// afterwards.
func NewPool(ctx context.Context, particles []particle.Particle, cfg PoolConfig) (*Pool, error) {
	parts, err := Partitions(len(particles), cfg.Workers)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		reports: make(chan Report, len(parts)),
		cancel:  cancel,
		done:    ctx.Done(),
	}
	for i, part := range parts {
		owned := make([]particle.Particle, part.Len())
		copy(owned, particles[part.Start:part.End])
		// Stream 0 is left to the caller's own sampler.
		sampler := particle.NewSampler(cfg.Seed, uint64(i)+1)
		p.units = append(p.units, NewUnit(i, part, owned, cfg.Scorer, cfg.Projector, sampler, p.reports))
	}

	for _, u := range p.units {
		p.wg.Add(1)
		go func(u *Unit) {
			defer p.wg.Done()
			u.Run(ctx)
		}(u)
	}
	return p, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.units) }

// Partitions returns each worker's id range in worker order.
func (p *Pool) Partitions() []Partition {
	out := make([]Partition, len(p.units))
	for i, u := range p.units {
		out[i] = u.part
	}
	return out
}

// Broadcast sends the same task to every worker. It blocks while any
// worker's queue is full.
func (p *Pool) Broadcast(ctx context.Context, t Task) error {
	return p.DispatchEach(ctx, func(int, Partition) Task { return t })
}

// DispatchEach sends each worker the task built for its partition.
func (p *Pool) DispatchEach(ctx context.Context, build func(worker int, part Partition) Task) error {
	for i, u := range p.units {
		t := build(i, u.part)
		select {
		case u.tasks <- t:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrPoolClosed
		}
	}
	return nil
}

// Collect blocks until one report for task seq from every worker has
// arrived. It is the step barrier: there is no partial result. Reports
// left over from an earlier, abandoned task are discarded.
func (p *Pool) Collect(ctx context.Context, seq uint64) ([]Report, error) {
	out := make([]Report, 0, len(p.units))
	for len(out) < len(p.units) {
		select {
		case r := <-p.reports:
			if r.Seq != seq {
				log.Printf("[Pool] dropping stale %s report %d from worker %d (want %d)", r.Kind, r.Seq, r.Worker, seq)
				continue
			}
			out = append(out, r)
		case <-ctx.Done():
			return nil, fmt.Errorf("collect %d/%d reports: %w", len(out), len(p.units), ctx.Err())
		case <-p.done:
			return nil, ErrPoolClosed
		}
	}
	return out, nil
}

// Close stops every worker and waits for them to exit. It is safe to call
// more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}
