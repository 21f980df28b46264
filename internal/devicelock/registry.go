package devicelock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry manages resource claims for the runs of one process.
type Registry struct {
	mu       sync.Mutex
	claims   map[string]Claim // resource -> claim
	released chan struct{}    // closed and replaced on every release
	handlers []func(Claim)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		claims:   make(map[string]Claim),
		released: make(chan struct{}),
	}
}

// TryAcquire claims every resource for runID at once. If any is held by a
// different run nothing is claimed and ErrAlreadyClaimed is returned.
// Resources runID already holds are no-ops.
func (r *Registry) TryAcquire(runID string, resources []string) error {
	r.mu.Lock()
	claims, err := r.acquireLocked(runID, resources)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.notifyHandlersUnlocked(claims)
	return nil
}

// Acquire is TryAcquire that waits for conflicting claims to be released.
// It returns ctx's error if ctx ends first.
func (r *Registry) Acquire(ctx context.Context, runID string, resources []string) error {
	for {
		// Taken before the attempt so a release in between still wakes us.
		r.mu.Lock()
		wait := r.released
		r.mu.Unlock()

		err := r.TryAcquire(runID, resources)
		if err == nil || !errors.Is(err, ErrAlreadyClaimed) {
			return err
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %v: %w", err, ctx.Err())
		}
	}
}

// acquireLocked checks every resource before claiming any.
func (r *Registry) acquireLocked(runID string, resources []string) ([]Claim, error) {
	for _, res := range resources {
		if existing, ok := r.claims[res]; ok && existing.RunID != runID {
			return nil, fmt.Errorf("%w: %s owns %s", ErrAlreadyClaimed, existing.RunID, res)
		}
	}

	now := time.Now()
	var claims []Claim
	for _, res := range resources {
		if _, ok := r.claims[res]; ok {
			continue
		}
		c := Claim{RunID: runID, Resource: res, ClaimedAt: now}
		r.claims[res] = c
		claims = append(claims, c)
	}
	return claims, nil
}

// ReleaseAll relinquishes every resource held by runID and returns how many
// were released.
func (r *Registry) ReleaseAll(runID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for res, c := range r.claims {
		if c.RunID == runID {
			delete(r.claims, res)
			n++
		}
	}
	if n > 0 {
		r.wakeLocked()
	}
	return n
}

// wakeLocked unblocks every waiting Acquire.
func (r *Registry) wakeLocked() {
	close(r.released)
	r.released = make(chan struct{})
}

// Owner returns the run that holds resource and true, or ("", false).
func (r *Registry) Owner(resource string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.claims[resource]
	return c.RunID, ok
}

// Held returns the sorted resources held by runID.
func (r *Registry) Held(runID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for res, c := range r.claims {
		if c.RunID == runID {
			out = append(out, res)
		}
	}
	sort.Strings(out)
	return out
}

// WatchClaims registers a handler called for every new claim. Handlers run
// outside the registry's lock and may call back into it.
func (r *Registry) WatchClaims(handler func(Claim)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, handler)
}

func (r *Registry) notifyHandlersUnlocked(claims []Claim) {
	if len(claims) == 0 {
		return
	}
	r.mu.Lock()
	handlers := make([]func(Claim), len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.Unlock()

	for _, c := range claims {
		for _, h := range handlers {
			h(c)
		}
	}
}
