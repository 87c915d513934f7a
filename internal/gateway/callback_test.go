package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1150.00},
          {"Name": "MpesaReceiptNumber", "Value": "QGH123ABC"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254712345678}
        ]
      }
    }
  }
}`

const failureCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func TestSuccessCallbackParsing(t *testing.T) {
	var envelope CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(successCallback), &envelope))

	cb := envelope.Body.StkCallback
	assert.True(t, cb.Succeeded())
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)

	amount, receipt, phone, err := cb.PaymentDetails()
	require.NoError(t, err)
	assert.Equal(t, 1150.0, amount)
	assert.Equal(t, "QGH123ABC", receipt)
	assert.Equal(t, "254712345678", phone)
}

func TestFailureCallbackParsing(t *testing.T) {
	var envelope CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(failureCallback), &envelope))

	cb := envelope.Body.StkCallback
	assert.False(t, cb.Succeeded())
	assert.Equal(t, 1032, cb.ResultCode)
	assert.Equal(t, "Request cancelled by user", cb.ResultDesc)

	_, _, _, err := cb.PaymentDetails()
	assert.Error(t, err, "failure callbacks carry no metadata")
}

func TestPaymentDetailsMissingReceipt(t *testing.T) {
	cb := StkCallback{
		ResultCode: 0,
		CallbackMetadata: &CallbackMetadata{Item: []MetadataItem{
			{Name: "Amount", Value: 500.0},
		}},
	}

	_, _, _, err := cb.PaymentDetails()
	assert.Error(t, err)
}
