package agui

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies which session mutation an Event describes.
type EventKind string

const (
	EventRecord EventKind = "record"
	EventUndo   EventKind = "undo"
	EventClose  EventKind = "close"
)

// Event 在会话发生变更后投递给 Observer。
type Event struct {
	Kind        EventKind
	SessionID   string
	SubjectID   string
	ActorID     string
	Interaction *Interaction
	Timestamp   time.Time
}

// Observer 接收会话变更事件（审计日志等）。
type Observer interface {
	ObserveSession(Event)
}

// Session 管理单次文档处理的 agent-用户交互日志。
// 日志只由拥有该次运行的调用方读写，内部不加锁；并发访问需通过 Registry.Do。
type Session struct {
	id        string
	subjectID string
	actorID   string
	state     SessionState

	interactions []Interaction
	lastActivity time.Time

	now      func() time.Time
	observer Observer
}

// SessionOption 自定义会话（时钟、观察者）。
type SessionOption func(*Session)

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithObserver(obs Observer) SessionOption {
	return func(s *Session) {
		s.observer = obs
	}
}

// NewSession allocates a fresh session id and an empty log.
func NewSession(subjectID, actorID string, opts ...SessionOption) *Session {
	s := &Session{
		id:        uuid.NewString(),
		subjectID: subjectID,
		actorID:   actorID,
		state:     StateActive,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.lastActivity = s.now()
	return s
}

func (s *Session) ID() string          { return s.id }
func (s *Session) SubjectID() string   { return s.subjectID }
func (s *Session) ActorID() string     { return s.actorID }
func (s *Session) State() SessionState { return s.state }
func (s *Session) Len() int            { return len(s.interactions) }

func (s *Session) LastActivity() time.Time { return s.lastActivity }

// Record appends a new interaction whose step equals the new log length.
func (s *Session) Record(ann Announcement, resp *UserResponse, result map[string]any) (Interaction, error) {
	if s.state == StateClosed {
		return Interaction{}, ErrSessionClosed
	}
	ts := s.now()
	it := Interaction{
		SessionID:    s.id,
		SubjectID:    s.subjectID,
		ActorID:      s.actorID,
		Step:         len(s.interactions) + 1,
		Announcement: ann,
		Response:     cloneResponse(resp),
		Result:       cloneResult(result),
		Timestamp:    ts,
	}
	s.interactions = append(s.interactions, it)
	s.lastActivity = ts
	s.notify(EventRecord, &it, ts)
	return it, nil
}

// Last returns the most recent interaction, or false when the log is empty.
func (s *Session) Last() (Interaction, bool) {
	if len(s.interactions) == 0 {
		return Interaction{}, false
	}
	return s.interactions[len(s.interactions)-1].clone(), true
}

func (s *Session) CanUndo() bool {
	last, ok := s.Last()
	return ok && last.Reversible()
}

// UndoLast drops the tail interaction when it is reversible. Earlier steps keep their numbers.
func (s *Session) UndoLast() (bool, error) {
	if s.state == StateClosed {
		return false, ErrSessionClosed
	}
	if !s.CanUndo() {
		return false, nil
	}
	last := s.interactions[len(s.interactions)-1]
	s.interactions[len(s.interactions)-1] = Interaction{}
	s.interactions = s.interactions[:len(s.interactions)-1]
	ts := s.now()
	s.lastActivity = ts
	s.notify(EventUndo, &last, ts)
	return true, nil
}

// History 每次调用都重新计算，不做缓存。
func (s *Session) History() []HistoryEntry {
	out := make([]HistoryEntry, 0, len(s.interactions))
	for idx, it := range s.interactions {
		out = append(out, HistoryEntry{
			Step:         idx + 1,
			Action:       it.Announcement.Action(),
			Message:      it.Announcement.Message(),
			UserResponse: cloneResponse(it.Response),
			Timestamp:    it.Timestamp.Format(time.RFC3339Nano),
		})
	}
	return out
}

// Interactions returns a copy of the log.
func (s *Session) Interactions() []Interaction {
	out := make([]Interaction, 0, len(s.interactions))
	for _, it := range s.interactions {
		out = append(out, it.clone())
	}
	return out
}

// Close marks the session closed; later Record/UndoLast calls fail with ErrSessionClosed.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	ts := s.now()
	s.lastActivity = ts
	s.notify(EventClose, nil, ts)
}

func (s *Session) notify(kind EventKind, it *Interaction, ts time.Time) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveSession(Event{
		Kind:        kind,
		SessionID:   s.id,
		SubjectID:   s.subjectID,
		ActorID:     s.actorID,
		Interaction: it,
		Timestamp:   ts,
	})
}

func cloneResponse(resp *UserResponse) *UserResponse {
	if resp == nil {
		return nil
	}
	r := *resp
	return &r
}

func (i Interaction) clone() Interaction {
	i.Response = cloneResponse(i.Response)
	i.Result = cloneResult(i.Result)
	return i
}

// cloneResult 只做浅拷贝；嵌套值仍与调用方共享。
func cloneResult(result map[string]any) map[string]any {
	if result == nil {
		return nil
	}
	out := make(map[string]any, len(result))
	for k, v := range result {
		out[k] = v
	}
	return out
}
