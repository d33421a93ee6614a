// Package session keeps the open board sessions of every user: one engine
// per session, idle expiry and a bounded notice queue.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/board"
	"github.com/pitabwire/catalogboard/internal/observability"
	"github.com/pitabwire/catalogboard/model"
)

// DefinitionSource looks up board definitions by id.
type DefinitionSource interface {
	Get(id string) (*model.BoardDefinition, bool)
}

// Recorder receives session metrics.
type Recorder interface {
	DropRecorder
	SetSessionsActive(n int)
	RecordSessionExpired()
}

// Options configures a Manager.
type Options struct {
	// Engine is the template for every session's engine. Its Notifier and
	// Logger are replaced per session.
	Engine board.Options

	AutoScroll  board.AutoScroll
	ColumnWidth float64

	IdleTTL       time.Duration
	SweepInterval time.Duration
	NoticeBuffer  int
	// MaxPerSubject bounds the sessions of one user. Opening one more
	// closes that user's least recently used session. Zero means no limit.
	MaxPerSubject int

	Logger  *zap.Logger
	Metrics Recorder
	Now     func() time.Time
	NewID   func() string
}

// Manager owns every open session.
type Manager struct {
	defs    DefinitionSource
	catalog board.Catalog
	opts    Options
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   []*Session
}

// NewManager creates a manager opening boards from defs against catalog.
func NewManager(defs DefinitionSource, catalog board.Catalog, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &Manager{
		defs:     defs,
		catalog:  catalog,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// Open creates a session on boardID for the caller in ctx and loads the
// first page of every column with filters.
func (m *Manager) Open(ctx context.Context, boardID string, filters model.EntryFilters) (*Session, error) {
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return nil, model.NewUnauthorizedError("missing request context")
	}
	def, ok := m.defs.Get(boardID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("board %q not found", boardID))
	}
	if err := m.checkBoardAccess(rctx, def); err != nil {
		return nil, err
	}

	id := m.opts.NewID()
	notices := NewNoticeQueue(m.opts.NoticeBuffer, m.opts.Metrics)
	engOpts := m.opts.Engine
	engOpts.Notifier = notices
	engOpts.Logger = m.logger.With(zap.String("session_id", id))
	eng, err := board.NewEngine(def, m.catalog, engOpts)
	if err != nil {
		return nil, fmt.Errorf("open board %s: %w", boardID, err)
	}

	now := m.opts.Now()
	s := &Session{
		ID:          id,
		BoardID:     def.ID,
		SubjectID:   rctx.SubjectID,
		TenantID:    rctx.TenantID,
		CreatedAt:   now,
		engine:      eng,
		notices:     notices,
		caps:        m.opts.Engine.Capabilities,
		autoScroll:  m.opts.AutoScroll,
		columnWidth: m.opts.ColumnWidth,
		logger:      observability.SessionLogger(m.logger, id, def.ID),
		lastSeen:    now,
	}
	if err := eng.SetFilters(ctx, filters); err != nil {
		return nil, err
	}

	evicted := m.add(s)
	for _, old := range evicted {
		old.close(ctx)
		m.logger.Info("session evicted",
			zap.String("session_id", old.ID),
			zap.String("subject_id", old.SubjectID),
		)
	}
	s.logger.Info("session opened", zap.String("subject_id", s.SubjectID))
	return s, nil
}

func (m *Manager) checkBoardAccess(rctx *model.RequestContext, def *model.BoardDefinition) error {
	resolver := m.opts.Engine.Capabilities
	if resolver == nil || len(def.Capabilities) == 0 {
		return nil
	}
	caps, err := resolver.Resolve(rctx)
	if err != nil {
		return fmt.Errorf("resolve capabilities: %w", err)
	}
	if missing := caps.Missing(def.Capabilities...); len(missing) > 0 {
		return model.NewForbiddenError(fmt.Sprintf("board %q requires %v", def.ID, missing))
	}
	return nil
}

// add registers s and returns the sessions evicted to make room for it.
func (m *Manager) add(s *Session) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []*Session
	if limit := m.opts.MaxPerSubject; limit > 0 {
		var mine []*Session
		for _, other := range m.sessions {
			if other.SubjectID == s.SubjectID && other.TenantID == s.TenantID {
				mine = append(mine, other)
			}
		}
		sort.Slice(mine, func(i, j int) bool { return mine[i].LastSeen().Before(mine[j].LastSeen()) })
		for len(mine) >= limit {
			evicted = append(evicted, mine[0])
			delete(m.sessions, mine[0].ID)
			mine = mine[1:]
		}
	}
	m.sessions[s.ID] = s
	m.retainLocked(evicted)
	m.reportLocked()
	return evicted
}

// Get returns the caller's session. Sessions of other users are reported as
// not found.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok || !s.ownedBy(model.RequestContextFrom(ctx)) {
		return nil, model.NewSessionNotFoundError(id)
	}
	s.touch(m.opts.Now())
	return s, nil
}

// Close ends the caller's session. Moves awaiting confirmation are
// cancelled; submitted commits still resolve.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || !s.ownedBy(model.RequestContextFrom(ctx)) {
		m.mu.Unlock()
		return model.NewSessionNotFoundError(id)
	}
	delete(m.sessions, id)
	m.retainLocked([]*Session{s})
	m.reportLocked()
	m.mu.Unlock()

	s.close(ctx)
	s.logger.Info("session closed")
	return nil
}

// Sweep closes every session idle for at least the idle TTL and returns how
// many were closed.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := m.opts.Now().Add(-m.opts.IdleTTL)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if !s.LastSeen().After(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.retainLocked(expired)
	m.reportLocked()
	m.mu.Unlock()

	for _, s := range expired {
		s.close(ctx)
		if m.opts.Metrics != nil {
			m.opts.Metrics.RecordSessionExpired()
		}
		s.logger.Info("session expired", zap.Time("last_seen", s.LastSeen()))
	}
	return len(expired)
}

// Run sweeps idle sessions every sweep interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.logger.Debug("idle sessions swept", zap.Int("count", n))
			}
		}
	}
}

// Shutdown closes every session and waits for submitted commits to resolve
// or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	clear(m.sessions)
	all = append(all, m.closed...)
	m.closed = nil
	m.reportLocked()
	m.mu.Unlock()

	for _, s := range all {
		s.close(ctx)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, s := range all {
			s.engine.Wait()
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: shutdown: %w", ctx.Err())
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// retainLocked keeps closed sessions whose commits may still be running so
// Shutdown can wait for them. Sessions with nothing pending are dropped.
func (m *Manager) retainLocked(closed []*Session) {
	kept := m.closed[:0]
	for _, s := range m.closed {
		if len(s.engine.View().Pending) > 0 {
			kept = append(kept, s)
		}
	}
	m.closed = append(kept, closed...)
}

func (m *Manager) reportLocked() {
	if m.opts.Metrics != nil {
		m.opts.Metrics.SetSessionsActive(len(m.sessions))
	}
}
