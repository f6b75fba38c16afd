package agui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docagent/internal/logger"
)

type sessionKey struct {
	subjectID string
	actorID   string
}

func (k sessionKey) String() string {
	return fmt.Sprintf("%s:%s", k.actorID, k.subjectID)
}

type registryEntry struct {
	mu      sync.Mutex
	session *Session
}

// RegistryConfig 描述会话注册表的可选行为。IdleTTL 为 0 时只在显式关闭时移除会话。
type RegistryConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Observer      Observer
	Clock         func() time.Time
}

// Registry 按 (subject, actor) 持有活跃会话，由应用层创建并注入。
type Registry struct {
	mu      sync.Mutex
	entries map[sessionKey]*registryEntry

	observer      Observer
	now           func() time.Time
	idleTTL       time.Duration
	sweepInterval time.Duration
}

func NewRegistry(cfg RegistryConfig) *Registry {
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		entries:       make(map[sessionKey]*registryEntry),
		observer:      cfg.Observer,
		now:           now,
		idleTTL:       cfg.IdleTTL,
		sweepInterval: cfg.SweepInterval,
	}
}

func (r *Registry) GetOrCreate(subjectID, actorID string) *Session {
	return r.entry(subjectID, actorID, true).session
}

func (r *Registry) Get(subjectID, actorID string) (*Session, error) {
	e := r.entry(subjectID, actorID, false)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionKey{subjectID, actorID})
	}
	return e.session, nil
}

// Do runs fn against an existing session while holding that session's lock.
func (r *Registry) Do(subjectID, actorID string, fn func(*Session) error) error {
	e := r.entry(subjectID, actorID, false)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionKey{subjectID, actorID})
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

// DoOrCreate is Do with create-if-absent semantics.
func (r *Registry) DoOrCreate(subjectID, actorID string, fn func(*Session) error) error {
	e := r.entry(subjectID, actorID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

// Begin 为一次新的处理占用 (subject, actor) 的会话：已关闭的旧会话先被替换，
// 然后在会话锁内执行 fn。检查与占用在同一把锁内完成。
func (r *Registry) Begin(subjectID, actorID string, fn func(*Session) error) (*Session, error) {
	key := sessionKey{subjectID, actorID}
	for {
		e := r.entry(subjectID, actorID, true)
		e.mu.Lock()
		if !r.holds(key, e) {
			e.mu.Unlock()
			continue
		}
		if e.session.State() == StateClosed {
			r.mu.Lock()
			if r.entries[key] == e {
				delete(r.entries, key)
			}
			r.mu.Unlock()
			e.mu.Unlock()
			logger.Debugf("[agui] replacing closed session key=%s id=%s", key, e.session.ID())
			continue
		}
		err := fn(e.session)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return e.session, nil
	}
}

// DoSession runs fn against s only while s is still the registered session for its key.
// A removed or replaced session yields ErrSessionNotFound.
func (r *Registry) DoSession(s *Session, fn func(*Session) error) error {
	if s == nil {
		return ErrSessionNotFound
	}
	key := sessionKey{s.SubjectID(), s.ActorID()}
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok || e.session != s {
		return fmt.Errorf("%w: %s id=%s", ErrSessionNotFound, key, s.ID())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !r.holds(key, e) {
		return fmt.Errorf("%w: %s id=%s", ErrSessionNotFound, key, s.ID())
	}
	return fn(s)
}

// holds 在持有 e.mu 时确认 e 仍在注册表中（锁顺序：e.mu 先于 r.mu）。
func (r *Registry) holds(key sessionKey, e *registryEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[key] == e
}

// Remove closes the session and drops it from the registry.
func (r *Registry) Remove(subjectID, actorID string) error {
	key := sessionKey{subjectID, actorID}
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	e.mu.Lock()
	e.session.Close()
	e.mu.Unlock()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) entry(subjectID, actorID string, create bool) *registryEntry {
	key := sessionKey{subjectID, actorID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return e
	}
	if !create {
		return nil
	}
	e := &registryEntry{
		session: NewSession(subjectID, actorID, WithClock(r.now), WithObserver(r.observer)),
	}
	r.entries[key] = e
	logger.Debugf("[agui] session created key=%s id=%s", key, e.session.ID())
	return e
}

// SweepIdle 关闭并移除空闲时间不小于 IdleTTL 的会话，返回移除数量。
func (r *Registry) SweepIdle(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	candidates := make(map[sessionKey]*registryEntry, len(r.entries))
	for k, e := range r.entries {
		candidates[k] = e
	}
	r.mu.Unlock()

	evicted := 0
	for key, e := range candidates {
		e.mu.Lock()
		if now.Sub(e.session.LastActivity()) < r.idleTTL {
			e.mu.Unlock()
			continue
		}
		r.mu.Lock()
		current, ok := r.entries[key]
		if ok && current == e {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		if ok && current == e {
			e.session.Close()
			evicted++
			logger.Infof("[agui] evicted idle session key=%s id=%s", key, e.session.ID())
		}
		e.mu.Unlock()
	}
	return evicted
}

// RunSweeper blocks until ctx is done, sweeping idle sessions every SweepInterval.
func (r *Registry) RunSweeper(ctx context.Context) error {
	if r.idleTTL <= 0 || r.sweepInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.SweepIdle(r.now())
		}
	}
}
