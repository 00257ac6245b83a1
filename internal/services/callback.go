package services

import (
	"fmt"
	"time"
)

// STKCallbackBody is the nested envelope Daraja posts to the callback URL:
// {"Body": {"stkCallback": {...}}}.
type STKCallbackBody struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

// CallbackItem is one entry of the free-form name/value metadata list.
// Value may be a string or a number depending on the field.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value,omitempty"`
}

// CallbackAck is the structured acknowledgment the gateway expects back on
// every delivery. Anything else triggers gateway-side retries.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// SettlementDetails is the normalized result of a successful settlement.
// Fields are zero when the gateway omitted them, which it does on failures.
type SettlementDetails struct {
	Amount        *float64
	ReceiptNumber string
	PhoneNumber   string
	TransactionAt *time.Time
}

// mpesaTimestampLayout is Daraja's compact timestamp format.
const mpesaTimestampLayout = "20060102150405"

// NormalizeCallbackMetadata extracts the well-known settlement fields from
// the metadata item list. Unknown names are ignored and missing or malformed
// entries leave the corresponding field unset; failed pushes legitimately
// carry no metadata at all.
func NormalizeCallbackMetadata(items []CallbackItem) SettlementDetails {
	var details SettlementDetails
	for _, item := range items {
		switch item.Name {
		case "Amount":
			if amount, ok := toFloat(item.Value); ok {
				details.Amount = &amount
			}
		case "MpesaReceiptNumber":
			details.ReceiptNumber = toString(item.Value)
		case "PhoneNumber":
			details.PhoneNumber = toString(item.Value)
		case "TransactionDate":
			raw := toString(item.Value)
			if raw == "" {
				continue
			}
			if ts, err := time.ParseInLocation(mpesaTimestampLayout, raw, time.Local); err == nil {
				details.TransactionAt = &ts
			}
		}
	}
	return details
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		// Daraja sends numeric phone numbers and dates as JSON numbers.
		return fmt.Sprintf("%.0f", s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
