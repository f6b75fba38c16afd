package auditlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"docagent/internal/agui"
	"docagent/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *AuditLogStore {
	t.Helper()
	s, err := NewAuditLogStore(filepath.Join(t.TempDir(), "audit", "agui_audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAuditLogStore_ObservesSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := agui.NewSession("doc-1", "user-1", agui.WithObserver(s))
	_, err := sess.Record(agui.ClassificationStarted("invoice.pdf"), nil, nil)
	require.NoError(t, err)
	ann, err := agui.ClassificationResult(types.DocumentInvoice, 0.93)
	require.NoError(t, err)
	approve := agui.ResponseApprove
	_, err = sess.Record(ann, &approve, nil)
	require.NoError(t, err)
	undone, err := sess.UndoLast()
	require.NoError(t, err)
	require.True(t, undone)
	sess.Close()

	events, err := s.List(ctx, AuditQuery{SubjectID: "doc-1"})
	require.NoError(t, err)
	require.Len(t, events, 4)

	kinds := make([]string, 0, len(events))
	for _, evt := range events {
		kinds = append(kinds, evt.Kind)
		assert.Equal(t, sess.ID(), evt.SessionID)
		assert.Equal(t, "user-1", evt.ActorID)
	}
	assert.Equal(t, []string{"record", "record", "undo", "close"}, kinds)

	assert.Equal(t, 1, events[0].Step)
	assert.Equal(t, "classify", events[0].Action)
	assert.Nil(t, events[0].UserResponse)

	require.NotNil(t, events[1].UserResponse)
	assert.Equal(t, "approve", *events[1].UserResponse)
	assert.Equal(t, 2, events[2].Step, "undo event carries the removed interaction")
	assert.Equal(t, 0, events[3].Step)
	assert.True(t, events[0].ID < events[3].ID)
}

func TestAuditLogStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	for _, evt := range []AuditEvent{
		{SessionID: "s1", SubjectID: "doc-1", ActorID: "alice", Kind: "record", Step: 1, Timestamp: ts},
		{SessionID: "s2", SubjectID: "doc-1", ActorID: "bob", Kind: "record", Step: 1, Timestamp: ts},
		{SessionID: "s3", SubjectID: "doc-2", ActorID: "alice", Kind: "record", Step: 1, Timestamp: ts},
	} {
		require.NoError(t, s.Append(ctx, evt))
	}

	events, err := s.List(ctx, AuditQuery{SubjectID: "doc-1", ActorID: "alice"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, ts, events[0].Timestamp)

	events, err = s.List(ctx, AuditQuery{SubjectID: "doc-1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = s.List(ctx, AuditQuery{SubjectID: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = s.List(ctx, AuditQuery{})
	assert.Error(t, err)
}

func TestAuditLogStore_Closed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Error(t, s.Append(context.Background(), AuditEvent{SubjectID: "x"}))
	// 关闭后的观察回调不应 panic
	s.ObserveSession(agui.Event{Kind: agui.EventClose, SubjectID: "x"})
}
