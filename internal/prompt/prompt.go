package prompt

import (
	"encoding/json"
	"strings"
	"text/template"

	"docagent/internal/logger"
	"docagent/internal/types"
)

const ClassificationSystem = "You are an expert document classification assistant."

const classificationTemplate = `Analyze this document and classify it into ONE category:

1. **invoice** - Bill for goods/services with line items, payment terms
2. **receipt** - Payment acknowledgment, simpler format, transaction details
3. **purchase_order** - Order document with PO number, vendor, delivery details

Respond with a JSON object only:
{"document_type": "invoice|receipt|purchase_order|unknown", "confidence_score": 0.0-1.0, "reasoning": "one sentence"}

File name: {{.Filename}}
{{if .ContentType}}Content type: {{.ContentType}}
{{end}}
--- DOCUMENT ---
{{.Text}}
--- END DOCUMENT ---`

const extractionTemplate = `Extract every field of this {{.TypeLabel}} into JSON that conforms to the schema below.
Use null for fields that are not present. Do not invent values.
{{if .Hint}}
{{.Hint}}
{{end}}
JSON schema:
{{.Schema}}

File name: {{.Filename}}
--- DOCUMENT ---
{{.Text}}
--- END DOCUMENT ---

Respond with the JSON object only.`

var (
	classificationTmpl = template.Must(template.New("classify").Parse(classificationTemplate))
	extractionTmpl     = template.Must(template.New("extract").Parse(extractionTemplate))
)

// ClassificationInput 是分类提示词的渲染参数。
type ClassificationInput struct {
	Filename    string
	ContentType string
	Text        string
}

// ExtractionInput 是抽取提示词的渲染参数。
type ExtractionInput struct {
	DocumentType types.DocumentType
	Filename     string
	Hint         string
	Schema       map[string]any
	Text         string
}

func BuildClassification(in ClassificationInput) string {
	var b strings.Builder
	if err := classificationTmpl.Execute(&b, in); err != nil {
		logger.Warnf("classification 模板渲染失败: %v", err)
		return in.Text
	}
	return b.String()
}

// ExtractionSystem 返回对应类型专员的系统提示词。
func ExtractionSystem(docType types.DocumentType) string {
	return "You are the " + docType.SpecialistName() + ". You return precise, schema-conformant JSON."
}

func BuildExtraction(in ExtractionInput) string {
	schema := "{}"
	if len(in.Schema) > 0 {
		if raw, err := json.MarshalIndent(in.Schema, "", "  "); err == nil {
			schema = string(raw)
		}
	}
	data := struct {
		TypeLabel string
		Hint      string
		Schema    string
		Filename  string
		Text      string
	}{
		TypeLabel: strings.ReplaceAll(string(in.DocumentType), "_", " "),
		Hint:      strings.TrimSpace(in.Hint),
		Schema:    schema,
		Filename:  in.Filename,
		Text:      in.Text,
	}
	var b strings.Builder
	if err := extractionTmpl.Execute(&b, data); err != nil {
		logger.Warnf("extraction 模板渲染失败: %v", err)
		return in.Text
	}
	return b.String()
}
