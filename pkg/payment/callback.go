package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrMalformedCallback = errors.New("malformed stk callback")

// STKCallback is the typed form of the provider's asynchronous result.
// Metadata fields are only populated for ResultCode 0.
type STKCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string

	ReceiptNumber   string
	Amount          decimal.Decimal
	PhoneNumber     string
	TransactionDate *time.Time
}

func (c *STKCallback) Succeeded() bool { return c.ResultCode == 0 }

type callbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseCallback decodes a raw callback body. It fails closed: a missing result
// code, missing correlation ids, or a success without a receipt number are all
// ErrMalformedCallback rather than zero values.
func ParseCallback(body []byte) (*STKCallback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	raw := env.Body.StkCallback
	if raw == nil {
		return nil, fmt.Errorf("%w: no Body.stkCallback", ErrMalformedCallback)
	}
	if raw.CheckoutRequestID == "" && raw.MerchantRequestID == "" {
		return nil, fmt.Errorf("%w: no correlation ids", ErrMalformedCallback)
	}
	if raw.ResultCode == nil {
		return nil, fmt.Errorf("%w: no ResultCode", ErrMalformedCallback)
	}
	cb := &STKCallback{
		MerchantRequestID: raw.MerchantRequestID,
		CheckoutRequestID: raw.CheckoutRequestID,
		ResultCode:        *raw.ResultCode,
		ResultDesc:        raw.ResultDesc,
	}
	if !cb.Succeeded() {
		return cb, nil
	}
	if raw.CallbackMetadata == nil {
		return nil, fmt.Errorf("%w: success without CallbackMetadata", ErrMalformedCallback)
	}
	for _, it := range raw.CallbackMetadata.Item {
		if len(it.Value) == 0 || bytes.Equal(it.Value, []byte("null")) {
			continue
		}
		var err error
		switch it.Name {
		case "MpesaReceiptNumber":
			cb.ReceiptNumber, err = itemString(it.Value)
		case "Amount":
			var s string
			if s, err = itemString(it.Value); err == nil {
				cb.Amount, err = decimal.NewFromString(s)
			}
		case "PhoneNumber":
			cb.PhoneNumber, err = itemString(it.Value)
		case "TransactionDate":
			var s string
			if s, err = itemString(it.Value); err == nil {
				var t time.Time
				if t, err = time.ParseInLocation("20060102150405", s, eat); err == nil {
					cb.TransactionDate = &t
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: item %s: %v", ErrMalformedCallback, it.Name, err)
		}
	}
	if cb.ReceiptNumber == "" {
		return nil, fmt.Errorf("%w: success without MpesaReceiptNumber", ErrMalformedCallback)
	}
	return cb, nil
}

// itemString accepts a JSON string or number and returns its literal text.
func itemString(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", err
	}
	return n.String(), nil
}
