package agui

import (
	"fmt"

	"docagent/internal/types"
)

// 文档处理流程中的固定声明目录：分类开始 → 分类结果 → 抽取 → 校验 → 完成。

func ClassificationStarted(documentName string) Announcement {
	return mustAnnouncement(AnnouncementSpec{
		Action:  ActionClassify,
		Message: fmt.Sprintf("I will analyze '%s' to classify its type (invoice, receipt, or purchase order).", documentName),
		CanUndo: true,
	})
}

// ClassificationResult asks the user to confirm the detected type.
func ClassificationResult(docType types.DocumentType, confidence float64) (Announcement, error) {
	return NewAnnouncement(AnnouncementSpec{
		Action:           ActionClassify,
		Message:          fmt.Sprintf("Document classified as '%s' with %.1f%% confidence. Proceed with extraction?", docType, confidence*100),
		Confidence:       &confidence,
		RequiresApproval: true,
		CanUndo:          true,
	})
}

func ExtractionStarted(docType types.DocumentType) Announcement {
	return mustAnnouncement(AnnouncementSpec{
		Action:  ActionExtract,
		Message: fmt.Sprintf("%s will extract all relevant data from the document.", docType.SpecialistName()),
		CanUndo: true,
	})
}

// ValidationStarted 之后的步骤不可撤销。
func ValidationStarted(fieldCount int) Announcement {
	return mustAnnouncement(AnnouncementSpec{
		Action:  ActionValidate,
		Message: fmt.Sprintf("Validating %d extracted fields against schema...", fieldCount),
	})
}

func Completed(success bool, extractedFields int) Announcement {
	msg := "✗ Processing failed. Please review the errors."
	confidence := 0.0
	if success {
		msg = fmt.Sprintf("✓ Processing complete! Successfully extracted %d fields.", extractedFields)
		confidence = 1.0
	}
	return mustAnnouncement(AnnouncementSpec{
		Action:     ActionComplete,
		Message:    msg,
		Confidence: &confidence,
	})
}

func mustAnnouncement(spec AnnouncementSpec) Announcement {
	ann, err := NewAnnouncement(spec)
	if err != nil {
		panic(fmt.Sprintf("agui: invalid built-in announcement: %v", err))
	}
	return ann
}
