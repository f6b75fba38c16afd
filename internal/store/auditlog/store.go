package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"docagent/internal/agui"
	"docagent/internal/logger"

	_ "modernc.org/sqlite"
)

// AuditEvent 是会话一次变更（record / undo / close）的持久化记录。
type AuditEvent struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	SubjectID    string    `json:"subject_id"`
	ActorID      string    `json:"actor_id"`
	Kind         string    `json:"kind"`
	Step         int       `json:"step,omitempty"`
	Action       string    `json:"action,omitempty"`
	Message      string    `json:"message,omitempty"`
	UserResponse *string   `json:"user_response"`
	Timestamp    time.Time `json:"ts"`
}

// AuditQuery 用于筛选审计事件；ActorID 为空时不按用户过滤。
type AuditQuery struct {
	SubjectID string
	ActorID   string
	Limit     int
}

// AuditLogStore 把 AG-UI 会话变更追加写入 SQLite，作为 Registry 的 Observer 使用。
type AuditLogStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

var _ agui.Observer = (*AuditLogStore)(nil)

const defaultQueryLimit = 500

// NewAuditLogStore 初始化 SQLite 存储。
func NewAuditLogStore(path string) (*AuditLogStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := ensureAuditSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &AuditLogStore{db: db, path: path}, nil
}

func ensureAuditSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agui_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			step INTEGER NOT NULL DEFAULT 0,
			action TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			user_response TEXT,
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agui_audit_subject ON agui_audit_events(subject_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit log schema: %w", err)
		}
	}
	return nil
}

// Close 关闭底层 DB。
func (s *AuditLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *AuditLogStore) conn() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("audit log store 已关闭")
	}
	return s.db, nil
}

// ObserveSession 写入一条事件；写入失败只记日志，不影响会话本身。
func (s *AuditLogStore) ObserveSession(evt agui.Event) {
	if err := s.Append(context.Background(), eventFromSession(evt)); err != nil {
		logger.Errorf("[audit] 写入 %s 事件失败 session=%s: %v", evt.Kind, evt.SessionID, err)
	}
}

func eventFromSession(evt agui.Event) AuditEvent {
	out := AuditEvent{
		SessionID: evt.SessionID,
		SubjectID: evt.SubjectID,
		ActorID:   evt.ActorID,
		Kind:      string(evt.Kind),
		Timestamp: evt.Timestamp,
	}
	if it := evt.Interaction; it != nil {
		out.Step = it.Step
		out.Action = string(it.Announcement.Action())
		out.Message = it.Announcement.Message()
		if it.Response != nil {
			resp := string(*it.Response)
			out.UserResponse = &resp
		}
	}
	return out
}

func (s *AuditLogStore) Append(ctx context.Context, evt AuditEvent) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var resp sql.NullString
	if evt.UserResponse != nil {
		resp = sql.NullString{String: *evt.UserResponse, Valid: true}
	}
	_, err = db.ExecContext(ctx, `INSERT INTO agui_audit_events
		(session_id, subject_id, actor_id, kind, step, action, message, user_response, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.SessionID, evt.SubjectID, evt.ActorID, evt.Kind, evt.Step, evt.Action, evt.Message, resp, ts.UnixNano())
	return err
}

// List 按写入顺序返回某个文档的审计事件。
func (s *AuditLogStore) List(ctx context.Context, q AuditQuery) ([]AuditEvent, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.SubjectID) == "" {
		return nil, fmt.Errorf("subject_id 必填")
	}
	limit := q.Limit
	if limit <= 0 || limit > defaultQueryLimit {
		limit = defaultQueryLimit
	}
	query := `SELECT id, session_id, subject_id, actor_id, kind, step, action, message, user_response, ts
		FROM agui_audit_events WHERE subject_id = ?`
	args := []any{q.SubjectID}
	if actor := strings.TrimSpace(q.ActorID); actor != "" {
		query += " AND actor_id = ?"
		args = append(args, actor)
	}
	query += " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			evt  AuditEvent
			resp sql.NullString
			ts   int64
		)
		if err := rows.Scan(&evt.ID, &evt.SessionID, &evt.SubjectID, &evt.ActorID, &evt.Kind,
			&evt.Step, &evt.Action, &evt.Message, &resp, &ts); err != nil {
			return nil, err
		}
		if resp.Valid {
			v := resp.String
			evt.UserResponse = &v
		}
		evt.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, evt)
	}
	return out, rows.Err()
}
