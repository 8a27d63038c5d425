package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"styler/internal/generation"
	"styler/utils"
)

var (
	ErrSessionsShuttingDown = errors.New("service shutting down")
	ErrInvalidSessionID     = errors.New("invalid session id")
	ErrTooManySessions      = errors.New("too many open sessions")
)

// OrchestratorFactory builds a fresh, not yet started orchestrator.
type OrchestratorFactory func(sessionID string) *generation.Orchestrator

type session struct {
	id          string
	orch        *generation.Orchestrator
	cancel      context.CancelFunc
	ctx         context.Context
	unsubscribe func()

	// guarded by Sessions.mu
	lastSeen time.Time
	running  int
}

type SessionsOption func(*Sessions)

// WithMaxSessions refuses new sessions once n are open. Zero means no cap.
func WithMaxSessions(n int) SessionsOption {
	return func(s *Sessions) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithIdleTTL reaps sessions that saw no request for d, have no running
// batch and no websocket attached. Zero disables reaping.
func WithIdleTTL(d time.Duration) SessionsOption {
	return func(s *Sessions) {
		if d > 0 {
			s.idleTTL = d
		}
	}
}

// Sessions maps client chosen ids to their own orchestrator and forwards
// orchestrator events to the session websocket.
type Sessions struct {
	hub     *Hub
	factory OrchestratorFactory
	ctx     context.Context
	logger  *log.Logger
	now     func() time.Time

	maxSessions int
	idleTTL     time.Duration
	done        chan struct{}

	mu       sync.Mutex
	closing  bool
	sessions map[string]*session

	// batches tracks background RunBatch calls started by handlers.
	batches sync.WaitGroup
}

func NewSessions(ctx context.Context, hub *Hub, factory OrchestratorFactory, opts ...SessionsOption) *Sessions {
	s := &Sessions{
		hub:      hub,
		factory:  factory,
		ctx:      ctx,
		logger:   log.With("component", "sessions"),
		now:      time.Now,
		done:     make(chan struct{}),
		sessions: map[string]*session{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idleTTL > 0 {
		go s.reapLoop()
	}
	return s
}

func (s *Sessions) GetOrCreate(id string) (*generation.Orchestrator, error) {
	if !utils.ValidSessionID(id) {
		return nil, ErrInvalidSessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return nil, ErrSessionsShuttingDown
	}
	if sess, ok := s.sessions[id]; ok {
		sess.lastSeen = s.now()
		return sess.orch, nil
	}
	if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
		s.logger.Warn("session refused", "session", id, "max", s.maxSessions)
		return nil, ErrTooManySessions
	}

	ctx, cancel := context.WithCancel(s.ctx)
	orch := s.factory(id)
	sess := &session{id: id, orch: orch, ctx: ctx, cancel: cancel, lastSeen: s.now()}
	sess.unsubscribe = orch.Subscribe(func(ev generation.Event) {
		s.hub.SendTo(id, toWSEvent(id, ev))
	})
	orch.Start(ctx)
	s.sessions[id] = sess

	s.logger.Info("session created", "session", id, "sessions", len(s.sessions))
	return orch, nil
}

func (s *Sessions) Get(id string) (*generation.Orchestrator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess.orch, true
}

// Go runs a batch for the session in the background. The batch context is
// canceled when the session is deleted or the service shuts down.
func (s *Sessions) Go(id string, fn func(ctx context.Context, orch *generation.Orchestrator) error) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || s.closing {
		s.mu.Unlock()
		return false
	}
	s.batches.Add(1)
	sess.running++
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			sess.running--
			sess.lastSeen = s.now()
			s.mu.Unlock()
			s.batches.Done()
		}()
		if err := fn(sess.ctx, sess.orch); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("background batch ended", "session", id, "err", err)
		}
	}()
	return true
}

// Delete clears the session, cancels its calls and forgets it.
func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	sess.orch.Clear()
	s.stop(sess)
	s.logger.Info("session deleted", "session", id)
	return true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Sessions) Shutdown() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	close(s.done)
	all := s.sessions
	s.sessions = map[string]*session{}
	s.mu.Unlock()

	for _, sess := range all {
		sess.cancel()
	}
	s.batches.Wait()
	for _, sess := range all {
		s.stop(sess)
	}
}

// Reap drops every session idle since before now minus the idle TTL and
// returns their ids. Sessions with a running batch or an attached websocket
// are kept.
func (s *Sessions) Reap(now time.Time) []string {
	if s.idleTTL <= 0 {
		return nil
	}
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	var idle []*session
	for id, sess := range s.sessions {
		if sess.running > 0 || !sess.lastSeen.Before(cutoff) || s.hub.Connected(id) {
			continue
		}
		delete(s.sessions, id)
		idle = append(idle, sess)
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, sess := range idle {
		sess.orch.Clear()
		s.stop(sess)
		ids = append(ids, sess.id)
	}
	if len(ids) > 0 {
		s.logger.Info("idle sessions reaped", "count", len(ids), "sessions", s.Len())
	}
	return ids
}

func (s *Sessions) reapLoop() {
	every := s.idleTTL / 4
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case now := <-t.C:
			s.Reap(now)
		}
	}
}

func (s *Sessions) stop(sess *session) {
	sess.cancel()
	sess.orch.Shutdown()
	sess.unsubscribe()
}
