package document

import (
	"testing"

	"docagent/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceObjectJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "plain", raw: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", raw: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose around", raw: "Here you go: {\"a\":1} hope it helps", want: `{"a":1}`},
		{name: "data envelope", raw: `{"data": {"a": 1}}`, want: `{"a": 1}`},
		{name: "envelope with siblings kept", raw: `{"data": {"a": 1}, "b": 2}`, want: `{"data": {"a": 1}, "b": 2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceObjectJSON(tt.raw)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}

	for _, raw := range []string{"", "no json here", "[1,2,3]", "```\n```"} {
		_, err := CoerceObjectJSON(raw)
		assert.Error(t, err, raw)
	}
}

func TestDecodeObject(t *testing.T) {
	out, err := DecodeObject("```json\n{\"result\": {\"total_amount\": 12.5}}\n```")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total_amount": 12.5}, out)
}

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		typ  types.DocumentType
		conf float64
	}{
		{name: "json", raw: `{"document_type":"receipt","confidence_score":0.82}`, typ: types.DocumentReceipt, conf: 0.82},
		{name: "percent confidence", raw: `{"document_type":"Purchase Order","confidence_score":"95"}`, typ: types.DocumentPurchaseOrder, conf: 0.95},
		{name: "missing confidence", raw: `{"document_type":"invoice"}`, typ: types.DocumentInvoice, conf: 0.9},
		{name: "unrecognised type", raw: `{"document_type":"payslip","confidence_score":0.4}`, typ: types.DocumentUnknown, conf: 0.4},
		{name: "keyword fallback", raw: "This looks like an INVOICE from Acme.", typ: types.DocumentInvoice, conf: 0.9},
		{name: "keyword purchase", raw: "a purchase order", typ: types.DocumentPurchaseOrder, conf: 0.9},
		{name: "nothing", raw: "no idea", typ: types.DocumentUnknown, conf: 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseClassification(tt.raw)
			assert.Equal(t, tt.typ, got.Type)
			assert.InDelta(t, tt.conf, got.Confidence, 1e-9)
		})
	}
}

func TestParseAmount(t *testing.T) {
	for in, want := range map[string]string{
		"12.50":      "12.5",
		"$1,234.56":  "1234.56",
		"-3":         "-3",
		"99.90 USD":  "99.9",
		"€ 10":       "10",
	} {
		d, ok := parseAmount(in)
		require.True(t, ok, in)
		assert.Equal(t, want, d.String(), in)
	}
	for _, in := range []string{"", "abc", "12abc", "1.2.3", "10 usd"} {
		_, ok := parseAmount(in)
		assert.False(t, ok, in)
	}
}

func TestSummarize(t *testing.T) {
	t.Run("invoice", func(t *testing.T) {
		s, err := Summarize(map[string]any{
			"vendor":       map[string]any{"name": " Acme "},
			"total_amount": 1108.0,
			"invoice_date": "2026-02-01",
			"currency":     "usd",
		})
		require.NoError(t, err)
		assert.Equal(t, "Acme", s.VendorName)
		assert.Equal(t, "1108.00", s.TotalString())
		assert.Equal(t, "2026-02-01", s.Date)
		assert.Equal(t, "USD", s.Currency)
	})

	t.Run("receipt with string total", func(t *testing.T) {
		s, err := Summarize(map[string]any{
			"merchant_name": "Corner Cafe",
			"total_amount":  "$12.5",
			"purchase_date": "2026-01-02",
		})
		require.NoError(t, err)
		assert.Equal(t, "Corner Cafe", s.VendorName)
		assert.Equal(t, "12.50", s.TotalString())
		assert.Equal(t, "2026-01-02", s.Date)
	})

	t.Run("purchase order", func(t *testing.T) {
		s, err := Summarize(map[string]any{
			"supplier": map[string]any{"name": "Parts Co"},
			"po_date":  "2026-03-04",
		})
		require.NoError(t, err)
		assert.Equal(t, "Parts Co", s.VendorName)
		assert.Equal(t, "", s.TotalString())
		assert.Equal(t, "2026-03-04", s.Date)
	})

	t.Run("party given as plain string", func(t *testing.T) {
		s, err := Summarize(map[string]any{
			"vendor":       "Acme",
			"total_amount": "10.50",
		})
		require.NoError(t, err)
		assert.Equal(t, "Acme", s.VendorName)
		assert.Equal(t, "10.50", s.TotalString())

		s, err = Summarize(map[string]any{"supplier": "Parts Co"})
		require.NoError(t, err)
		assert.Equal(t, "Parts Co", s.VendorName)
	})
}
