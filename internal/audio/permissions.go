package audio

import (
	"context"
	"errors"
	"sync"

	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

// Permissions derives the microphone permission state from capture
// outcomes. Desktop capture has no prompt of its own, so Request probes
// the device instead.
type Permissions struct {
	probe func(context.Context) error

	mu       sync.Mutex
	state    domain.PermissionState
	watchers map[int]func(domain.PermissionState)
	next     int
}

func newPermissions(probe func(context.Context) error) *Permissions {
	return &Permissions{
		probe:    probe,
		state:    domain.PermissionPrompt,
		watchers: make(map[int]func(domain.PermissionState)),
	}
}

func (p *Permissions) Query(context.Context) (domain.PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, nil
}

func (p *Permissions) Request(ctx context.Context) (domain.PermissionState, error) {
	err := p.probe(ctx)
	switch {
	case err == nil:
		p.observe(domain.PermissionGranted)
		return domain.PermissionGranted, nil
	case errors.Is(err, ports.ErrPermissionDenied):
		p.observe(domain.PermissionDenied)
		return domain.PermissionDenied, nil
	default:
		p.mu.Lock()
		state := p.state
		p.mu.Unlock()
		return state, err
	}
}

func (p *Permissions) Watch(fn func(domain.PermissionState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.watchers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

// observe records state and notifies watchers when it changed.
func (p *Permissions) observe(state domain.PermissionState) {
	p.mu.Lock()
	if p.state == state {
		p.mu.Unlock()
		return
	}
	p.state = state
	watchers := make([]func(domain.PermissionState), 0, len(p.watchers))
	for _, fn := range p.watchers {
		watchers = append(watchers, fn)
	}
	p.mu.Unlock()

	for _, fn := range watchers {
		fn(state)
	}
}
