package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exam-session/internal/budget"
	"golang.org/x/sync/errgroup"
)

// DefaultIdleTTL is how long a manager without a live session is kept.
const DefaultIdleTTL = 15 * time.Minute

// Registry hands out one Manager per user, so every user has at most one
// live session while many users share the process.
type Registry struct {
	gateway Gateway
	calc    *budget.Calculator
	opts    Options
	log     zerolog.Logger

	mu       sync.Mutex
	managers map[int]*registryEntry
}

type registryEntry struct {
	mgr      *Manager
	lastUsed time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(gateway Gateway, calc *budget.Calculator, log zerolog.Logger, opts Options) *Registry {
	return &Registry{
		gateway:  gateway,
		calc:     calc,
		opts:     opts.withDefaults(),
		log:      log,
		managers: make(map[int]*registryEntry),
	}
}

// Manager returns the manager for userID, creating it on first use.
func (r *Registry) Manager(userID int) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.opts.Now()
	if e, ok := r.managers[userID]; ok {
		e.lastUsed = now
		return e.mgr
	}
	m := NewManager(userID, r.gateway, r.calc, r.log, r.opts)
	r.managers[userID] = &registryEntry{mgr: m, lastUsed: now}
	return m
}

// Len returns the number of managers held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// ActiveCount returns the number of users with a live session.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, m := range r.snapshot() {
		if m.HasActiveSession() {
			n++
		}
	}
	return n
}

func (r *Registry) snapshot() []*Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Manager, 0, len(r.managers))
	for _, e := range r.managers {
		out = append(out, e.mgr)
	}
	return out
}

// Prune drops managers that have no live session and were last handed out
// more than idle ago. Managers busy with an operation are kept. It returns
// the number dropped.
func (r *Registry) Prune(idle time.Duration) int {
	cutoff := r.opts.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for userID, e := range r.managers {
		if e.lastUsed.After(cutoff) || !e.mgr.opMu.TryLock() {
			continue
		}
		if !e.mgr.HasActiveSession() {
			e.mgr.Close()
			delete(r.managers, userID)
			n++
		}
		e.mgr.opMu.Unlock()
	}
	return n
}

// StartPruning prunes idle managers every idle period until done is closed.
func (r *Registry) StartPruning(done <-chan struct{}) {
	ticker := time.NewTicker(r.opts.IdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := r.Prune(r.opts.IdleTTL); n > 0 {
				r.log.Debug().Int("pruned", n).Msg("Idle session managers pruned")
			}
		}
	}
}

// FlushAll checkpoints every live session concurrently and returns the first
// failure. One failing flush does not abort the others. Sessions stay live
// and resumable.
func (r *Registry) FlushAll(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(16)
	for _, m := range r.snapshot() {
		if !m.HasActiveSession() {
			continue
		}
		g.Go(func() error {
			return m.AutoSave(ctx)
		})
	}
	return g.Wait()
}

// Close stops every auto-save scheduler.
func (r *Registry) Close() {
	for _, m := range r.snapshot() {
		m.Close()
	}
}
