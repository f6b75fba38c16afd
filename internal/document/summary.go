package document

import (
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
)

// Summary 是抽取结果中用于列表展示的关键字段。
type Summary struct {
	VendorName  string
	TotalAmount *decimal.Decimal
	Date        string
	Currency    string
}

type party struct {
	Name string `mapstructure:"name"`
}

type summaryPayload struct {
	Vendor       party            `mapstructure:"vendor"`
	Supplier     party            `mapstructure:"supplier"`
	MerchantName string           `mapstructure:"merchant_name"`
	TotalAmount  *decimal.Decimal `mapstructure:"total_amount"`
	InvoiceDate  string           `mapstructure:"invoice_date"`
	PurchaseDate string           `mapstructure:"purchase_date"`
	PODate       string           `mapstructure:"po_date"`
	Currency     string           `mapstructure:"currency"`
}

// Summarize 从任意类型的抽取结果里取出供应方名称、总额和主日期。
func Summarize(data map[string]any) (Summary, error) {
	var payload summaryPayload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(decimalHook, partyHook),
		WeaklyTypedInput: true,
		Result:           &payload,
	})
	if err != nil {
		return Summary{}, err
	}
	if err := dec.Decode(data); err != nil {
		return Summary{}, err
	}
	return Summary{
		VendorName:  firstNonEmpty(payload.Vendor.Name, payload.MerchantName, payload.Supplier.Name),
		TotalAmount: payload.TotalAmount,
		Date:        firstNonEmpty(payload.InvoiceDate, payload.PurchaseDate, payload.PODate),
		Currency:    strings.ToUpper(strings.TrimSpace(payload.Currency)),
	}, nil
}

// TotalString renders the total as a fixed two-decimal string, empty when absent.
func (s Summary) TotalString() string {
	if s.TotalAmount == nil {
		return ""
	}
	return s.TotalAmount.StringFixed(2)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case string:
		if d, ok := parseAmount(v); ok {
			return d, nil
		}
		return decimal.Zero, nil
	}
	return data, nil
}

var partyType = reflect.TypeOf(party{})

// partyHook 接受直接给出名称字符串的 vendor / supplier。
func partyHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != partyType {
		return data, nil
	}
	if name, ok := data.(string); ok {
		return party{Name: name}, nil
	}
	return data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
