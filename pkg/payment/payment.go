package payment

import (
	"context"
	"errors"
	"fmt"
)

// PushRequest is an STK push (Lipa na M-Pesa Online) against a customer's phone.
type PushRequest struct {
	Amount      int64  // whole KES
	PhoneNumber string // 2547XXXXXXXX, already normalized
	OrderRef    string // sent as AccountReference
	Description string
}

// PushResult is the provider's synchronous acceptance of a push.
// CheckoutRequestID and MerchantRequestID correlate the later callback.
type PushResult struct {
	Accepted            bool
	CheckoutRequestID   string
	MerchantRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
	Raw                 []byte
}

// QueryResult is the provider's view of a push, used when a callback never arrives.
// Final is false while the customer has not yet acted on the prompt.
type QueryResult struct {
	Final      bool
	ResultCode int
	ResultDesc string
	Raw        []byte
}

// Gateway is the outbound side of the provider. Implementations never touch storage.
type Gateway interface {
	RequestPush(ctx context.Context, req PushRequest) (*PushResult, error)
	QueryPush(ctx context.Context, checkoutRequestID string) (*QueryResult, error)
}

var (
	ErrAuthFailure       = errors.New("gateway auth failure")
	ErrPushRejected      = errors.New("gateway rejected push")
	ErrTimeout           = errors.New("gateway timeout")
	ErrMalformedResponse = errors.New("gateway malformed response")
)

// GatewayError carries the provider detail behind one of the sentinel kinds above.
// It is for server-side logs and the stored intent, never for client responses.
type GatewayError struct {
	Kind        error
	HTTPStatus  int
	Code        string
	Description string
	Raw         []byte
	Err         error
}

func (e *GatewayError) Error() string {
	msg := e.Kind.Error()
	if e.HTTPStatus != 0 {
		msg = fmt.Sprintf("%s: http %d", msg, e.HTTPStatus)
	}
	if e.Code != "" || e.Description != "" {
		msg = fmt.Sprintf("%s: %s %s", msg, e.Code, e.Description)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *GatewayError) Is(target error) bool { return target == e.Kind }

func (e *GatewayError) Unwrap() error { return e.Err }

// IsRecordable reports whether err is a remote failure that should be stored as
// initiation_failed. Malformed responses and anything unclassified are not.
func IsRecordable(err error) bool {
	return errors.Is(err, ErrAuthFailure) || errors.Is(err, ErrPushRejected) || errors.Is(err, ErrTimeout)
}
