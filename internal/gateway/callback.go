package gateway

import (
	"encoding/json"
	"fmt"
)

// CallbackEnvelope is the payload Daraja posts to the callback URL after a
// push payment resolves. Delivery is at-least-once: the same event may arrive
// more than once.
type CallbackEnvelope struct {
	Body CallbackBody `json:"Body"`
}

type CallbackBody struct {
	StkCallback StkCallback `json:"stkCallback"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem values arrive untyped: amounts and phone numbers as JSON
// numbers, receipts as strings.
type MetadataItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// Succeeded reports whether the callback signals a completed payment.
func (c *StkCallback) Succeeded() bool {
	return c.ResultCode == 0
}

// PaymentDetails extracts the amount, gateway receipt and payer phone from
// the success metadata list.
func (c *StkCallback) PaymentDetails() (amount float64, receipt string, phone string, err error) {
	if c.CallbackMetadata == nil {
		return 0, "", "", fmt.Errorf("callback has no metadata")
	}

	for _, item := range c.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				amount = v
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				receipt = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case float64:
				phone = fmt.Sprintf("%.0f", v)
			case string:
				phone = v
			case json.Number:
				phone = v.String()
			}
		}
	}

	if amount <= 0 || receipt == "" {
		return 0, "", "", fmt.Errorf("callback metadata missing amount or receipt")
	}
	return amount, receipt, phone, nil
}
