package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docagent/internal/store"
	storemodel "docagent/internal/store/model"
	"docagent/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type documentModel = storemodel.DocumentModel
type extractionResultModel = storemodel.ExtractionResultModel

// ErrNotFound is store.ErrNotFound, re-exported for callers that only import gormstore.
var ErrNotFound = store.ErrNotFound

const maxListLimit = 100

// GormStore implements document and extraction result storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&documentModel{}, &extractionResultModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormDB exposes the underlying *gorm.DB (read-only reference).
func (s *GormStore) GormDB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *GormStore) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	return nil
}

func (s *GormStore) CreateDocument(ctx context.Context, doc store.Document) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("document id 必填")
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}
	if doc.Status == "" {
		doc.Status = types.StatusPending
	}
	m := newDocumentModel(doc)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *GormStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if err := s.ready(); err != nil {
		return store.Document{}, err
	}
	var m documentModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Document{}, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, err
	}
	return documentModelToRecord(m), nil
}

func (s *GormStore) UpdateDocument(ctx context.Context, id string, upd store.DocumentUpdate) error {
	if err := s.ready(); err != nil {
		return err
	}
	payload := map[string]interface{}{
		"updated_at": time.Now().UnixMilli(),
	}
	if upd.Status != nil {
		payload["status"] = string(*upd.Status)
	}
	if upd.DocumentType != nil {
		payload["document_type"] = string(*upd.DocumentType)
	}
	if upd.Confidence != nil {
		payload["confidence"] = *upd.Confidence
	}
	if upd.ErrorMessage != nil {
		payload["error_message"] = *upd.ErrorMessage
	}
	if upd.ProcessedAt != nil {
		payload["processed_at"] = upd.ProcessedAt.UnixMilli()
	}
	res := s.db.WithContext(ctx).Model(&documentModel{}).Where("id = ?", id).Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// ListDocuments 返回用户最近上传的文档，limit 被限制在 [1, 100]。
func (s *GormStore) ListDocuments(ctx context.Context, userID string, limit int) ([]store.Document, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var models []documentModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Order("id").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.Document, 0, len(models))
	for _, m := range models {
		out = append(out, documentModelToRecord(m))
	}
	return out, nil
}

// SaveExtractionResult 按 document_id 幂等写入（重复处理时覆盖旧结果）。
func (s *GormStore) SaveExtractionResult(ctx context.Context, res store.ExtractionResult) error {
	if err := s.ready(); err != nil {
		return err
	}
	if strings.TrimSpace(res.DocumentID) == "" {
		return fmt.Errorf("document_id 必填")
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	m, err := newExtractionResultModel(res)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "document_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"document_type", "result_data", "vendor_name", "total_amount",
				"invoice_date", "confidence_score", "processing_agent", "created_at",
			}),
		}).
		Create(&m).Error
}

func (s *GormStore) GetExtractionResult(ctx context.Context, documentID string) (store.ExtractionResult, error) {
	if err := s.ready(); err != nil {
		return store.ExtractionResult{}, err
	}
	var m extractionResultModel
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ExtractionResult{}, fmt.Errorf("extraction result %s: %w", documentID, store.ErrNotFound)
	}
	if err != nil {
		return store.ExtractionResult{}, err
	}
	return extractionResultModelToRecord(m)
}

func (s *GormStore) ListExtractionResults(ctx context.Context, documentIDs []string) (map[string]store.ExtractionResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make(map[string]store.ExtractionResult, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}
	var models []extractionResultModel
	if err := s.db.WithContext(ctx).Where("document_id IN ?", documentIDs).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		rec, err := extractionResultModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out[rec.DocumentID] = rec
	}
	return out, nil
}

func newDocumentModel(doc store.Document) documentModel {
	m := documentModel{
		ID:             doc.ID,
		UserID:         doc.UserID,
		Filename:       doc.Filename,
		FilePath:       doc.FilePath,
		FileSize:       doc.FileSize,
		ContentType:    doc.ContentType,
		Status:         string(doc.Status),
		DocumentType:   string(doc.DocumentType),
		Confidence:     doc.Confidence,
		ErrorMessage:   doc.ErrorMessage,
		UploadedAtUnix: doc.UploadedAt.UnixMilli(),
		UpdatedAtUnix:  time.Now().UnixMilli(),
	}
	if doc.ProcessedAt != nil && !doc.ProcessedAt.IsZero() {
		val := doc.ProcessedAt.UnixMilli()
		m.ProcessedAtUnix = &val
	}
	return m
}

func documentModelToRecord(m documentModel) store.Document {
	doc := store.Document{
		ID:           m.ID,
		UserID:       m.UserID,
		Filename:     m.Filename,
		FilePath:     m.FilePath,
		FileSize:     m.FileSize,
		ContentType:  m.ContentType,
		Status:       types.DocumentStatus(m.Status),
		DocumentType: types.DocumentType(m.DocumentType),
		Confidence:   m.Confidence,
		ErrorMessage: m.ErrorMessage,
		UploadedAt:   time.UnixMilli(m.UploadedAtUnix).UTC(),
	}
	if m.ProcessedAtUnix != nil {
		t := time.UnixMilli(*m.ProcessedAtUnix).UTC()
		doc.ProcessedAt = &t
	}
	return doc
}

func newExtractionResultModel(res store.ExtractionResult) (extractionResultModel, error) {
	data := res.ResultData
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return extractionResultModel{}, fmt.Errorf("encode result_data: %w", err)
	}
	return extractionResultModel{
		DocumentID:      res.DocumentID,
		DocumentType:    string(res.DocumentType),
		ResultData:      datatypes.JSON(raw),
		VendorName:      res.VendorName,
		TotalAmount:     res.TotalAmount,
		InvoiceDate:     res.InvoiceDate,
		ConfidenceScore: res.ConfidenceScore,
		ProcessingAgent: res.ProcessingAgent,
		CreatedAtUnix:   res.CreatedAt.UnixMilli(),
	}, nil
}

func extractionResultModelToRecord(m extractionResultModel) (store.ExtractionResult, error) {
	data := map[string]any{}
	if len(m.ResultData) > 0 {
		if err := json.Unmarshal(m.ResultData, &data); err != nil {
			return store.ExtractionResult{}, fmt.Errorf("decode result_data for %s: %w", m.DocumentID, err)
		}
	}
	return store.ExtractionResult{
		DocumentID:      m.DocumentID,
		DocumentType:    types.DocumentType(m.DocumentType),
		ResultData:      data,
		VendorName:      m.VendorName,
		TotalAmount:     m.TotalAmount,
		InvoiceDate:     m.InvoiceDate,
		ConfidenceScore: m.ConfidenceScore,
		ProcessingAgent: m.ProcessingAgent,
		CreatedAt:       time.UnixMilli(m.CreatedAtUnix).UTC(),
	}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
