package editor

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/ignite/funnel-studio/internal/pkg/logger"
	"go.uber.org/multierr"
)

// Registry tracks the open editing sessions of a process.
type Registry struct {
	store  Store
	drafts Drafts
	opts   Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store, drafts Drafts, opts Options) *Registry {
	return &Registry{
		store:    store,
		drafts:   drafts,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open starts a new session over a funnel.
func (r *Registry) Open(ctx context.Context, funnelID string) (*Session, error) {
	s, err := Open(ctx, uuid.NewString(), r.store, r.drafts, funnelID, r.opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns an open session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close forgets a session. Unsaved edits survive only as drafts.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if dirty := s.Dirty(); len(dirty) > 0 {
		logger.Warn("session closed with unsaved stages", "session_id", id, "funnel_id", s.FunnelID, "dirty", len(dirty))
	}
	return nil
}

// Sessions returns the open sessions ordered by id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Refresh reloads the stage list of every session open on funnelID.
func (r *Registry) Refresh(ctx context.Context, funnelID string) error {
	var errs error
	for _, s := range r.Sessions() {
		if s.FunnelID != funnelID {
			continue
		}
		errs = multierr.Append(errs, s.Refresh(ctx))
	}
	return errs
}
