package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradelab/internal/domain"
)

// SessionOptions configures a new engine session.
type SessionOptions struct {
	Broker            string            `json:"broker"` // "simulator" or "alpaca"
	StartingCash      float64           `json:"startingCash,omitempty"`
	Limits            domain.RiskLimits `json:"limits"`
	HistoryWindowDays int               `json:"historyWindowDays,omitempty"`
}

// EngineFactory builds the Engine for a session.
type EngineFactory func(ctx context.Context, key string, opts SessionOptions) (*Engine, error)

// Session is a running engine keyed by user or session key.
type Session struct {
	Key       string
	ID        string
	StartedAt time.Time
	Options   SessionOptions
	Engine    *Engine
}

// SessionInfo is the serializable view of a Session.
type SessionInfo struct {
	Key       string             `json:"key"`
	ID        string             `json:"id"`
	StartedAt time.Time          `json:"startedAt"`
	Broker    string             `json:"broker"`
	Limits    domain.RiskLimits  `json:"limits"`
	Metrics   domain.RiskMetrics `json:"metrics"`
}

// Info returns the serializable view of s.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		Key:       s.Key,
		ID:        s.ID,
		StartedAt: s.StartedAt,
		Broker:    s.Options.Broker,
		Limits:    s.Engine.Risk().Limits(),
		Metrics:   s.Engine.Risk().Metrics(),
	}
}

// Registry holds the process-wide set of running sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	starting map[string]bool
	factory  EngineFactory
	log      *slog.Logger
}

// NewRegistry creates an empty Registry that builds engines with factory.
func NewRegistry(factory EngineFactory, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		starting: make(map[string]bool),
		factory:  factory,
		log:      log.With("component", "registry"),
	}
}

// Start builds and registers an engine for key. It returns
// domain.ErrSessionExists if key is already running. The initial metrics
// refresh is best effort.
func (r *Registry) Start(ctx context.Context, key string, opts SessionOptions) (*Session, error) {
	if key == "" {
		return nil, &domain.ConfigurationError{Field: "key", Reason: "must not be empty"}
	}

	// Reserve key; the engine is built outside the lock.
	r.mu.Lock()
	if _, ok := r.sessions[key]; ok || r.starting[key] {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", key, domain.ErrSessionExists)
	}
	r.starting[key] = true
	r.mu.Unlock()

	s, err := r.build(ctx, key, opts)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.starting, key)
	if err != nil {
		return nil, err
	}
	r.sessions[key] = s
	r.log.Info("session started", "key", key, "id", s.ID, "broker", opts.Broker)
	return s, nil
}

func (r *Registry) build(ctx context.Context, key string, opts SessionOptions) (*Session, error) {
	eng, err := r.factory(ctx, key, opts)
	if err != nil {
		return nil, fmt.Errorf("starting session %s: %w", key, err)
	}
	if _, err := eng.Refresh(ctx); err != nil {
		r.log.Warn("initial risk refresh failed", "key", key, "error", err)
	}
	return &Session{
		Key:       key,
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Options:   opts,
		Engine:    eng,
	}, nil
}

// Get returns the session for key or domain.ErrNotFound.
func (r *Registry) Get(key string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", key, domain.ErrNotFound)
	}
	return s, nil
}

// Stop tears down the session for key.
func (r *Registry) Stop(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[key]; !ok {
		return fmt.Errorf("session %s: %w", key, domain.ErrNotFound)
	}
	delete(r.sessions, key)
	r.log.Info("session stopped", "key", key)
	return nil
}

// List returns all running sessions ordered by key.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
