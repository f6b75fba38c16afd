package types

import "strings"

// DocumentType 是分类阶段得出的文档类型。
type DocumentType string

const (
	DocumentInvoice       DocumentType = "invoice"
	DocumentReceipt       DocumentType = "receipt"
	DocumentPurchaseOrder DocumentType = "purchase_order"
	DocumentUnknown       DocumentType = "unknown"
)

// KnownDocumentTypes lists the types that have an extraction schema.
var KnownDocumentTypes = []DocumentType{DocumentInvoice, DocumentReceipt, DocumentPurchaseOrder}

// ParseDocumentType 规范化类型字符串，无法识别时返回 DocumentUnknown。
func ParseDocumentType(raw string) DocumentType {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch DocumentType(norm) {
	case DocumentInvoice, DocumentReceipt, DocumentPurchaseOrder:
		return DocumentType(norm)
	case "po":
		return DocumentPurchaseOrder
	default:
		return DocumentUnknown
	}
}

func (t DocumentType) Known() bool {
	return t == DocumentInvoice || t == DocumentReceipt || t == DocumentPurchaseOrder
}

// SpecialistName 返回负责该类型抽取的 agent 名称。
func (t DocumentType) SpecialistName() string {
	switch t {
	case DocumentInvoice:
		return "Invoice Processing Specialist"
	case DocumentReceipt:
		return "Receipt Processing Specialist"
	case DocumentPurchaseOrder:
		return "Purchase Order Processing Specialist"
	default:
		return "Document Specialist"
	}
}

// DocumentStatus 跟踪上传文档的处理进度。
type DocumentStatus string

const (
	StatusPending          DocumentStatus = "pending"
	StatusProcessing       DocumentStatus = "processing"
	StatusAwaitingApproval DocumentStatus = "awaiting_approval"
	StatusCompleted        DocumentStatus = "completed"
	StatusFailed           DocumentStatus = "failed"
)

func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
