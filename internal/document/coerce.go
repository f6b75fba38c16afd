package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"docagent/internal/types"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// defaultConfidence 是模型未给出置信度时使用的值。
const defaultConfidence = 0.9

var envelopeKeys = []string{"data", "result", "extracted_data", "document"}

// CoerceObjectJSON 从模型输出中取出 JSON 对象：去掉 ``` 代码块、截取首尾大括号、拆掉常见外层包裹。
func CoerceObjectJSON(raw string) (string, error) {
	text := stripFences(raw)
	if text == "" {
		return "", fmt.Errorf("json content is empty")
	}
	if !gjson.Valid(text) {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return "", fmt.Errorf("no json object found in model output")
		}
		text = text[start : end+1]
		if !gjson.Valid(text) {
			return "", fmt.Errorf("invalid json in model output")
		}
	}
	parsed := gjson.Parse(text)
	if !parsed.IsObject() {
		return "", fmt.Errorf("root must be a json object")
	}
	for _, key := range envelopeKeys {
		inner := parsed.Get(key)
		if inner.IsObject() && len(parsed.Map()) == 1 {
			return strings.TrimSpace(inner.Raw), nil
		}
	}
	return text, nil
}

// DecodeObject coerces and unmarshals a model output into a generic object.
func DecodeObject(raw string) (map[string]any, error) {
	text, err := CoerceObjectJSON(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Classification 是分类阶段的结果。
type Classification struct {
	Type       types.DocumentType
	Confidence float64
	Reasoning  string
}

// ParseClassification 优先读取 JSON 中的 document_type / confidence_score，
// 解析失败时退化为关键字匹配。
func ParseClassification(raw string) Classification {
	if text, err := CoerceObjectJSON(raw); err == nil {
		parsed := gjson.Parse(text)
		docType := types.ParseDocumentType(firstString(parsed, "document_type", "type", "classification"))
		conf := defaultConfidence
		if c := firstNumber(parsed, "confidence_score", "confidence"); c.Exists() {
			conf = normalizeConfidence(c.Float())
		}
		return Classification{
			Type:       docType,
			Confidence: conf,
			Reasoning:  firstString(parsed, "reasoning", "reason"),
		}
	}
	lower := strings.ToLower(raw)
	docType := types.DocumentUnknown
	switch {
	case strings.Contains(lower, "invoice"):
		docType = types.DocumentInvoice
	case strings.Contains(lower, "receipt"):
		docType = types.DocumentReceipt
	case strings.Contains(lower, "purchase"):
		docType = types.DocumentPurchaseOrder
	}
	return Classification{Type: docType, Confidence: defaultConfidence}
}

func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		c = c / 100
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func firstString(parsed gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(parsed.Get(k).String()); v != "" {
			return v
		}
	}
	return ""
}

func firstNumber(parsed gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		v := parsed.Get(k)
		if v.Type == gjson.Number {
			return v
		}
		if v.Type == gjson.String {
			if d, ok := parseAmount(v.String()); ok {
				return gjson.Parse(d.String())
			}
		}
	}
	return gjson.Result{}
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.Index(text, "\n"); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// parseAmount 解析 "$1,234.50"、"12.5 USD" 之类的金额字符串。
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	if fields := strings.Fields(s); len(fields) == 2 && isCurrencyCode(fields[1]) {
		s = fields[0]
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',', r == ' ', r == '$', r == '€', r == '£', r == '¥':
		default:
			return decimal.Decimal{}, false
		}
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// coerceBySchema 只对 schema 声明为 number/integer 的字段做字符串→数字转换，
// 避免把 invoice_number 这类数字形式的字符串误转。
func coerceBySchema(schema map[string]any, value any) any {
	switch val := value.(type) {
	case map[string]any:
		props, _ := schema["properties"].(map[string]any)
		out := make(map[string]any, len(val))
		for k, child := range val {
			childSchema, _ := props[k].(map[string]any)
			out[k] = coerceBySchema(childSchema, child)
		}
		return out
	case []any:
		items, _ := schema["items"].(map[string]any)
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = coerceBySchema(items, child)
		}
		return out
	case string:
		if !schemaAllowsNumber(schema) {
			return val
		}
		if d, ok := parseAmount(val); ok {
			return d.InexactFloat64()
		}
		return val
	default:
		return val
	}
}

func schemaAllowsNumber(schema map[string]any) bool {
	if schema == nil {
		return false
	}
	switch t := schema["type"].(type) {
	case string:
		return t == "number" || t == "integer"
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && (s == "number" || s == "integer") {
				return true
			}
		}
	}
	return false
}
