package store

import (
	"context"
	"errors"
	"time"

	"docagent/internal/types"
)

// ErrNotFound is returned when a document or extraction result does not exist.
var ErrNotFound = errors.New("store: record not found")

// Document 是上传文件及其处理状态。
type Document struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	Filename     string               `json:"filename"`
	FilePath     string               `json:"file_path"`
	FileSize     int64                `json:"file_size"`
	ContentType  string               `json:"content_type"`
	Status       types.DocumentStatus `json:"status"`
	DocumentType types.DocumentType   `json:"document_type,omitempty"`
	Confidence   *float64             `json:"confidence,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	UploadedAt   time.Time            `json:"uploaded_at"`
	ProcessedAt  *time.Time           `json:"processed_at,omitempty"`
}

// DocumentUpdate 只更新非 nil 字段。
type DocumentUpdate struct {
	Status       *types.DocumentStatus
	DocumentType *types.DocumentType
	Confidence   *float64
	ErrorMessage *string
	ProcessedAt  *time.Time
}

// ExtractionResult 是一次成功或失败抽取的持久化结果，每个文档最多一条。
type ExtractionResult struct {
	DocumentID      string             `json:"document_id"`
	DocumentType    types.DocumentType `json:"document_type"`
	ResultData      map[string]any     `json:"result_data"`
	VendorName      string             `json:"vendor_name,omitempty"`
	TotalAmount     string             `json:"total_amount,omitempty"`
	InvoiceDate     string             `json:"invoice_date,omitempty"`
	ConfidenceScore float64            `json:"confidence_score"`
	ProcessingAgent string             `json:"processing_agent"`
	CreatedAt       time.Time          `json:"created_at"`
}

// DocumentRepository handles document persistence.
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (Document, error)
	UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) error
	ListDocuments(ctx context.Context, userID string, limit int) ([]Document, error)
}

// ResultRepository handles extraction results.
type ResultRepository interface {
	SaveExtractionResult(ctx context.Context, res ExtractionResult) error
	GetExtractionResult(ctx context.Context, documentID string) (ExtractionResult, error)
	ListExtractionResults(ctx context.Context, documentIDs []string) (map[string]ExtractionResult, error)
}

// Store is the entry point for database access.
type Store interface {
	DocumentRepository
	ResultRepository
	Close() error
}
