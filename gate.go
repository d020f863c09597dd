package main

import (
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate is the exclusive access token for the accelerator. Acquisition never
// blocks: a caller that loses the race is told so immediately.
type Gate struct {
	sem     *semaphore.Weighted
	metrics *GateMetrics
}

type GateMetrics struct {
	mu            sync.RWMutex
	inUse         bool
	totalAcquired int64
	totalReleased int64
	totalRejected int64
	heldTime      time.Duration
	acquiredAt    time.Time
}

// GateSnapshot is a copy of the gate counters safe to serialize.
type GateSnapshot struct {
	InUse         bool          `json:"in_use"`
	TotalAcquired int64         `json:"total_acquired"`
	TotalReleased int64         `json:"total_released"`
	TotalRejected int64         `json:"total_rejected"`
	HeldTime      time.Duration `json:"held_time_ns"`
}

func NewGate() *Gate {
	return &Gate{
		sem:     semaphore.NewWeighted(1),
		metrics: &GateMetrics{},
	}
}

// TryAcquire takes the token if it is free. Every true result must be paired
// with exactly one Release.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		g.metrics.mu.Lock()
		g.metrics.totalRejected++
		g.metrics.mu.Unlock()
		return false
	}

	g.metrics.mu.Lock()
	g.metrics.inUse = true
	g.metrics.totalAcquired++
	g.metrics.acquiredAt = time.Now()
	g.metrics.mu.Unlock()
	return true
}

// Release returns the token. It panics if the token is not held, leaving the
// counters as they were.
func (g *Gate) Release() {
	g.metrics.mu.Lock()
	if !g.metrics.inUse {
		g.metrics.mu.Unlock()
		panic("gate: release of a token that is not held")
	}
	g.metrics.inUse = false
	g.metrics.totalReleased++
	g.metrics.heldTime += time.Since(g.metrics.acquiredAt)
	g.metrics.mu.Unlock()

	g.sem.Release(1)
}

func (g *Gate) Busy() bool {
	g.metrics.mu.RLock()
	defer g.metrics.mu.RUnlock()
	return g.metrics.inUse
}

func (g *Gate) GetMetrics() GateSnapshot {
	g.metrics.mu.RLock()
	defer g.metrics.mu.RUnlock()
	return GateSnapshot{
		InUse:         g.metrics.inUse,
		TotalAcquired: g.metrics.totalAcquired,
		TotalReleased: g.metrics.totalReleased,
		TotalRejected: g.metrics.totalRejected,
		HeldTime:      g.metrics.heldTime,
	}
}
