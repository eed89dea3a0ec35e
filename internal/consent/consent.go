// Package consent tracks the visitor's answer to the session-replay analytics
// banner and keeps the replay SDK's recording switch in lockstep with it.
package consent

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/phase-funnel/internal/kvstore"
	"github.com/ignite/phase-funnel/internal/pkg/logger"
)

// State is the persisted consent answer.
type State string

const (
	Unset    State = "unset"
	Granted  State = "granted"
	Declined State = "declined"
)

// Key is the durable storage key holding the state.
const Key = "funnel_analytics_consent"

// ReplayRecorder is the session-replay SDK's recording switch.
type ReplayRecorder interface {
	SetRecording(enabled bool)
}

// Gate owns the consent state machine.
type Gate struct {
	store    kvstore.Store
	recorder ReplayRecorder
	log      *logger.Logger

	mu      sync.Mutex
	current State
	loaded  bool
}

func NewGate(store kvstore.Store, recorder ReplayRecorder, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.Default()
	}
	return &Gate{store: store, recorder: recorder, log: log}
}

// State returns the current consent state. An unreadable store reads as Unset.
func (g *Gate) State(ctx context.Context) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(ctx)
}

func (g *Gate) stateLocked(ctx context.Context) State {
	if g.loaded {
		return g.current
	}
	g.current = Unset
	v, ok, err := g.store.Get(ctx, Key)
	if err != nil {
		g.log.Warn("consent: read failed", "error", err)
		return g.current
	}
	if ok {
		switch State(v) {
		case Granted, Declined:
			g.current = State(v)
		}
	}
	g.loaded = true
	return g.current
}

// BannerRequired reports whether the visitor still has to answer.
func (g *Gate) BannerRequired(ctx context.Context) bool {
	return g.State(ctx) == Unset
}

// Grant records consent and enables recording immediately.
func (g *Gate) Grant(ctx context.Context) error { return g.transition(ctx, Granted) }

// Decline records refusal and disables recording immediately.
func (g *Gate) Decline(ctx context.Context) error { return g.transition(ctx, Declined) }

// Withdraw revokes previously granted consent.
func (g *Gate) Withdraw(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur := g.stateLocked(ctx); cur != Granted {
		return fmt.Errorf("consent: withdraw from %s", cur)
	}
	return g.transitionLocked(ctx, Declined)
}

// Sync pushes the persisted state to the recorder, for page start.
func (g *Gate) Sync(ctx context.Context) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stateLocked(ctx)
	g.apply(s)
	return s
}

// transition applies to the recorder even when persisting fails.
func (g *Gate) transition(ctx context.Context, to State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transitionLocked(ctx, to)
}

func (g *Gate) transitionLocked(ctx context.Context, to State) error {
	g.current = to
	g.loaded = true
	g.apply(to)

	if err := g.store.Set(ctx, Key, string(to)); err != nil {
		g.log.Warn("consent: persist failed", "state", to, "error", err)
		return fmt.Errorf("consent: persist %s: %w", to, err)
	}
	return nil
}

func (g *Gate) apply(s State) {
	if g.recorder != nil {
		g.recorder.SetRecording(s == Granted)
	}
}

// SwitchRecorder is an in-memory ReplayRecorder; the server uses it to
// report the recording flag to rendered pages and tests assert on it.
type SwitchRecorder struct {
	mu      sync.Mutex
	enabled bool
	calls   int
}

func (r *SwitchRecorder) SetRecording(enabled bool) {
	r.mu.Lock()
	r.enabled = enabled
	r.calls++
	r.mu.Unlock()
}

func (r *SwitchRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *SwitchRecorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
