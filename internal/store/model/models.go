package model

import (
	"gorm.io/datatypes"
)

// DocumentModel maps to 'documents' table.
type DocumentModel struct {
	ID              string   `gorm:"column:id;primaryKey"`
	UserID          string   `gorm:"column:user_id;index"`
	Filename        string   `gorm:"column:filename"`
	FilePath        string   `gorm:"column:file_path"`
	FileSize        int64    `gorm:"column:file_size"`
	ContentType     string   `gorm:"column:content_type"`
	Status          string   `gorm:"column:status;index"`
	DocumentType    string   `gorm:"column:document_type"`
	Confidence      *float64 `gorm:"column:confidence"`
	ErrorMessage    string   `gorm:"column:error_message"`
	UploadedAtUnix  int64    `gorm:"column:uploaded_at;index"`
	ProcessedAtUnix *int64   `gorm:"column:processed_at"`
	UpdatedAtUnix   int64    `gorm:"column:updated_at"`
}

func (DocumentModel) TableName() string { return "documents" }

// ExtractionResultModel maps to 'extraction_results' table.
type ExtractionResultModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	DocumentID      string         `gorm:"column:document_id;uniqueIndex"`
	DocumentType    string         `gorm:"column:document_type"`
	ResultData      datatypes.JSON `gorm:"column:result_data"`
	VendorName      string         `gorm:"column:vendor_name"`
	TotalAmount     string         `gorm:"column:total_amount"`
	InvoiceDate     string         `gorm:"column:invoice_date"`
	ConfidenceScore float64        `gorm:"column:confidence_score"`
	ProcessingAgent string         `gorm:"column:processing_agent"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
}

func (ExtractionResultModel) TableName() string { return "extraction_results" }
