package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeDaraja struct {
	tokenCalls atomic.Int32
	pushCalls  atomic.Int32
	tokenFn    func(w http.ResponseWriter, r *http.Request)
	pushFn     func(w http.ResponseWriter, r *http.Request)
	queryFn    func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeDaraja) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/oauth/v1/generate":
		f.tokenCalls.Add(1)
		if f.tokenFn != nil {
			f.tokenFn(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	case "/mpesa/stkpush/v1/processrequest":
		f.pushCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.pushFn(w, r)
	case "/mpesa/stkpushquery/v1/query":
		f.queryFn(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, f *fakeDaraja) *DarajaClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c := NewDarajaClient(DarajaConfig{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		PassKey:        "passkey",
		CallbackURL:    "https://example.test/api/v1/webhooks/mpesa",
		TokenTimeout:   time.Second,
		PushTimeout:    200 * time.Millisecond,
	}, zaptest.NewLogger(t))
	c.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return c
}

func acceptPush(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":"ws_CO_191220191020363925",
		"ResponseCode":"0",
		"ResponseDescription":"Success. Request accepted for processing",
		"CustomerMessage":"Success. Request accepted for processing"}`))
}

func TestPasswordAndTimestamp(t *testing.T) {
	ts := Timestamp(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, "20240301123000", ts)

	pw := Password("174379", "passkey", ts)
	raw, err := base64.StdEncoding.DecodeString(pw)
	require.NoError(t, err)
	assert.Equal(t, "174379passkey20240301123000", string(raw))
	assert.Equal(t, pw, Password("174379", "passkey", ts))
}

func TestBuildPushPayload(t *testing.T) {
	c := NewDarajaClient(DarajaConfig{ShortCode: "174379", PassKey: "pk", CallbackURL: "https://cb"}, nil)
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	p := c.buildPushPayload(PushRequest{Amount: 1000, PhoneNumber: "254712345678", OrderRef: "ORDER-000000042", Description: "Payment for order 42"}, at)

	assert.Equal(t, "20240301123000", p.Timestamp)
	assert.Equal(t, Password("174379", "pk", "20240301123000"), p.Password)
	assert.Equal(t, "CustomerPayBillOnline", p.TransactionType)
	assert.Equal(t, "254712345678", p.PartyA)
	assert.Equal(t, "174379", p.PartyB)
	assert.Len(t, p.AccountReference, maxAccountRefLen)
	assert.Len(t, p.TransactionDesc, maxTxnDescLen)
	assert.Equal(t, p, c.buildPushPayload(PushRequest{Amount: 1000, PhoneNumber: "254712345678", OrderRef: "ORDER-000000042", Description: "Payment for order 42"}, at))
}

func TestRequestPushAccepted(t *testing.T) {
	var got stkPushReq
	f := &fakeDaraja{pushFn: func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		acceptPush(w, r)
	}}
	c := newTestClient(t, f)

	res, err := c.RequestPush(context.Background(), PushRequest{Amount: 1000, PhoneNumber: "254712345678", OrderRef: "42"})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "ws_CO_191220191020363925", res.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", res.MerchantRequestID)
	assert.NotEmpty(t, res.Raw)
	assert.Equal(t, int64(1000), got.Amount)
	assert.Equal(t, "https://example.test/api/v1/webhooks/mpesa", got.CallBackURL)

	_, err = c.RequestPush(context.Background(), PushRequest{Amount: 5, PhoneNumber: "254712345678", OrderRef: "43"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load(), "token is cached between pushes")
}

func TestRequestPushTokenUsesCallerContext(t *testing.T) {
	f := &fakeDaraja{pushFn: acceptPush}
	c := newTestClient(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.RequestPush(ctx, PushRequest{Amount: 1, PhoneNumber: "254712345678"})
	require.ErrorIs(t, err, ErrAuthFailure)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), f.tokenCalls.Load())
	assert.Equal(t, int32(0), f.pushCalls.Load())

	_, err = c.RequestPush(context.Background(), PushRequest{Amount: 1, PhoneNumber: "254712345678"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.tokenCalls.Load(), "a failed fetch is not cached")
}

func TestRequestPushAuthFailure(t *testing.T) {
	f := &fakeDaraja{
		tokenFn: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorCode":"400.008.01","errorMessage":"Invalid Authentication passed"}`))
		},
		pushFn: acceptPush,
	}
	c := newTestClient(t, f)

	_, err := c.RequestPush(context.Background(), PushRequest{Amount: 1, PhoneNumber: "254712345678"})
	require.ErrorIs(t, err, ErrAuthFailure)
	assert.True(t, IsRecordable(err))
	assert.Equal(t, int32(0), f.pushCalls.Load())
}

func TestRequestPushRejected(t *testing.T) {
	f := &fakeDaraja{pushFn: func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"1-2","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid Amount"}`))
	}}
	c := newTestClient(t, f)

	_, err := c.RequestPush(context.Background(), PushRequest{Amount: 1, PhoneNumber: "254712345678"})
	require.ErrorIs(t, err, ErrPushRejected)
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "400.002.02", gerr.Code)
	assert.Equal(t, http.StatusBadRequest, gerr.HTTPStatus)
}

func TestRequestPushNonZeroResponseCode(t *testing.T) {
	f := &fakeDaraja{pushFn: func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"CheckoutRequestID":"ws_CO_1","ResponseCode":"1","ResponseDescription":"Rejected"}`))
	}}
	c := newTestClient(t, f)

	_, err := c.RequestPush(context.Background(), PushRequest{Amount: 1, PhoneNumber: "254712345678"})
	assert.ErrorIs(t, err, ErrPushRejected)
}

func TestRequestPushMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":    `<html>gateway</html>`,
		"no checkout": `{"ResponseCode":"0"}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := &fakeDaraja{pushFn: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}}
			c := newTestClient(t, f)
			_, err := c.RequestPush(context.Background(), PushRequest{Amount: 1, PhoneNumber: "254712345678"})
			require.ErrorIs(t, err, ErrMalformedResponse)
			assert.False(t, IsRecordable(err))
		})
	}
}

func TestRequestPushTimeout(t *testing.T) {
	f := &fakeDaraja{pushFn: func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		acceptPush(w, r)
	}}
	c := newTestClient(t, f)

	start := time.Now()
	_, err := c.RequestPush(context.Background(), PushRequest{Amount: 1, PhoneNumber: "254712345678"})
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsRecordable(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestQueryPush(t *testing.T) {
	t.Run("still processing", func(t *testing.T) {
		f := &fakeDaraja{queryFn: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"requestId":"1","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`))
		}}
		res, err := newTestClient(t, f).QueryPush(context.Background(), "ws_CO_1")
		require.NoError(t, err)
		assert.False(t, res.Final)
	})
	t.Run("resolved", func(t *testing.T) {
		var got stkQueryReq
		f := &fakeDaraja{queryFn: func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			_, _ = w.Write([]byte(`{"ResponseCode":"0","CheckoutRequestID":"ws_CO_1","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`))
		}}
		res, err := newTestClient(t, f).QueryPush(context.Background(), "ws_CO_1")
		require.NoError(t, err)
		assert.True(t, res.Final)
		assert.Equal(t, 1032, res.ResultCode)
		assert.Equal(t, "ws_CO_1", got.CheckoutRequestID)
	})
}
