package report

import (
	"context"
	"errors"
	"sync"
)

// State is what a report view renders.
type State struct {
	Text    string
	Err     error
	Loading bool
}

// Preview holds the state of one report view. A new Load cancels the one
// in flight, and Abort cancels without starting another. Aborted fetches
// leave the state exactly as it was before fetching began.
type Preview struct {
	gen Generator

	mu       sync.Mutex
	state    State
	base     State
	seq      uint64
	inFlight bool
	cancel   context.CancelFunc
}

func NewPreview(gen Generator) *Preview {
	return &Preview{gen: gen}
}

// State returns a copy of the current state.
func (p *Preview) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Load fetches the report for prompt. It returns ErrAborted when ctx is
// cancelled, Abort is called, or a newer Load supersedes it; in those cases
// no error is recorded in State.
func (p *Preview) Load(ctx context.Context, prompt Prompt) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	if !p.inFlight {
		p.base = p.state
	}
	ctx, cancel := context.WithCancel(ctx)
	p.seq++
	seq := p.seq
	p.inFlight = true
	p.cancel = cancel
	p.state = State{Text: p.base.Text, Loading: true}
	p.mu.Unlock()

	text, err := p.gen.Generate(ctx, prompt)
	aborted := errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, ErrAborted)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.seq {
		return ErrAborted
	}
	p.inFlight = false
	p.cancel = nil
	switch {
	case aborted:
		p.state = p.base
		return ErrAborted
	case err != nil:
		p.state = State{Text: p.base.Text, Err: err}
		return err
	default:
		p.state = State{Text: text}
		return nil
	}
}

// Abort cancels the fetch in flight, if any.
func (p *Preview) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}
