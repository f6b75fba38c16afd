package prompt

import (
	"testing"

	"docagent/internal/types"

	"github.com/stretchr/testify/assert"
)

func TestBuildClassification(t *testing.T) {
	out := BuildClassification(ClassificationInput{Filename: "scan.pdf", Text: "INVOICE #42"})
	assert.Contains(t, out, "File name: scan.pdf")
	assert.Contains(t, out, "INVOICE #42")
	assert.Contains(t, out, `"confidence_score"`)
	assert.NotContains(t, out, "Content type:")

	out = BuildClassification(ClassificationInput{Filename: "a.png", ContentType: "image/png"})
	assert.Contains(t, out, "Content type: image/png")
}

func TestBuildExtraction(t *testing.T) {
	out := BuildExtraction(ExtractionInput{
		DocumentType: types.DocumentPurchaseOrder,
		Filename:     "po.txt",
		Hint:         "buyer issues the order",
		Schema:       map[string]any{"type": "object"},
		Text:         "PO-1",
	})
	assert.Contains(t, out, "this purchase order into JSON")
	assert.Contains(t, out, "buyer issues the order")
	assert.Contains(t, out, `"type": "object"`)
	assert.Contains(t, out, "PO-1")

	assert.Contains(t, ExtractionSystem(types.DocumentReceipt), "Receipt Processing Specialist")
}
