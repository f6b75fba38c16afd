package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"docagent/internal/store"
	"docagent/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "nested", "docagent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGormStore_DocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	uploaded := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.CreateDocument(ctx, store.Document{
		ID:          "doc-1",
		UserID:      "user-1",
		Filename:    "invoice.pdf",
		FilePath:    "user-1/doc-1.pdf",
		FileSize:    1234,
		ContentType: "application/pdf",
		UploadedAt:  uploaded,
	}))

	doc, err := s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, doc.Status)
	assert.Equal(t, uploaded, doc.UploadedAt)
	assert.Nil(t, doc.ProcessedAt)
	assert.Nil(t, doc.Confidence)

	status := types.StatusCompleted
	docType := types.DocumentInvoice
	conf := 0.93
	processed := uploaded.Add(time.Minute)
	require.NoError(t, s.UpdateDocument(ctx, "doc-1", store.DocumentUpdate{
		Status:       &status,
		DocumentType: &docType,
		Confidence:   &conf,
		ProcessedAt:  &processed,
	}))

	doc, err = s.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, doc.Status)
	assert.Equal(t, types.DocumentInvoice, doc.DocumentType)
	require.NotNil(t, doc.Confidence)
	assert.InDelta(t, 0.93, *doc.Confidence, 1e-9)
	require.NotNil(t, doc.ProcessedAt)
	assert.Equal(t, processed, *doc.ProcessedAt)
	assert.Equal(t, "invoice.pdf", doc.Filename)
}

func TestGormStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetDocument(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	status := types.StatusFailed
	err = s.UpdateDocument(ctx, "missing", store.DocumentUpdate{Status: &status})
	assert.True(t, errors.Is(err, store.ErrNotFound))

	_, err = s.GetExtractionResult(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestGormStore_ListDocuments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateDocument(ctx, store.Document{
			ID: id, UserID: "u1", Filename: id + ".pdf", UploadedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, s.CreateDocument(ctx, store.Document{ID: "other", UserID: "u2", UploadedAt: base}))

	docs, err := s.ListDocuments(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "c", docs[0].ID)
	assert.Equal(t, "b", docs[1].ID)

	docs, err = s.ListDocuments(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestGormStore_ExtractionResults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := store.ExtractionResult{
		DocumentID:      "doc-1",
		DocumentType:    types.DocumentReceipt,
		ResultData:      map[string]any{"merchant_name": "Corner Cafe", "total_amount": 12.5},
		VendorName:      "Corner Cafe",
		TotalAmount:     "12.50",
		ConfidenceScore: 0.8,
		ProcessingAgent: "Receipt Processing Specialist",
	}
	require.NoError(t, s.SaveExtractionResult(ctx, first))

	got, err := s.GetExtractionResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Corner Cafe", got.ResultData["merchant_name"])
	assert.Equal(t, 12.5, got.ResultData["total_amount"])
	assert.Equal(t, "12.50", got.TotalAmount)

	second := first
	second.TotalAmount = "13.00"
	second.ResultData = map[string]any{"total_amount": 13.0}
	require.NoError(t, s.SaveExtractionResult(ctx, second))

	got, err = s.GetExtractionResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "13.00", got.TotalAmount)
	assert.Equal(t, map[string]any{"total_amount": 13.0}, got.ResultData)

	require.NoError(t, s.SaveExtractionResult(ctx, store.ExtractionResult{DocumentID: "doc-2"}))
	all, err := s.ListExtractionResults(ctx, []string{"doc-1", "doc-2", "doc-3"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, map[string]any{}, all["doc-2"].ResultData)

	empty, err := s.ListExtractionResults(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewGormStore_EmptyPath(t *testing.T) {
	_, err := NewGormStore("  ")
	assert.Error(t, err)
}
