package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	// Query response while the customer has not yet answered the prompt.
	errCodeStillProcessing = "500.001.1001"

	maxAccountRefLen = 12
	maxTxnDescLen    = 13
)

// Safaricom timestamps are East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

// DarajaConfig is everything the client needs; built once from config.Config.
type DarajaConfig struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	TransactionType string
	CallbackURL     string
	TokenTimeout    time.Duration
	PushTimeout     time.Duration
}

// DarajaClient implements Gateway against the Safaricom Daraja API.
type DarajaClient struct {
	cfg    DarajaConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *oauth2.Token
}

func NewDarajaClient(cfg DarajaConfig, logger *zap.Logger) *DarajaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sandbox.safaricom.co.ke"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 10 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DarajaClient{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
		now:    time.Now,
	}
}

// Timestamp formats t the way the STK endpoints expect (yyyyMMddHHmmss, EAT).
func Timestamp(t time.Time) string {
	return t.In(eat).Format("20060102150405")
}

// Password is base64(shortcode + passkey + timestamp).
func Password(shortCode, passKey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passKey + timestamp))
}

type stkPushReq struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResp struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryReq struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResp struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type darajaErrorResp struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// buildPushPayload is deterministic in its inputs so it can be checked without a network.
func (c *DarajaClient) buildPushPayload(req PushRequest, at time.Time) stkPushReq {
	ts := Timestamp(at)
	desc := req.Description
	if desc == "" {
		desc = "Payment"
	}
	return stkPushReq{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		TransactionType:   c.cfg.TransactionType,
		Amount:            req.Amount,
		PartyA:            req.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(req.OrderRef, maxAccountRefLen),
		TransactionDesc:   truncate(desc, maxTxnDescLen),
	}
}

// RequestPush obtains a token and sends the STK push. Any non-2xx status, an
// unparsable body or a non-zero ResponseCode is a failure; there is no partial success.
func (c *DarajaClient) RequestPush(ctx context.Context, req PushRequest) (*PushResult, error) {
	ctx, span := otel.Tracer("lipa/pkg/payment").Start(ctx, "daraja.RequestPush")
	defer span.End()
	span.SetAttributes(attribute.String("mpesa.order_ref", req.OrderRef), attribute.Int64("mpesa.amount", req.Amount))

	token, err := c.token(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		return nil, err
	}
	payload := c.buildPushPayload(req, c.now())
	status, body, err := c.post(ctx, pushPath, token, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "push")
		return nil, err
	}
	c.logger.Info("mpesa stk push response",
		zap.String("order_ref", req.OrderRef),
		zap.Int("http_status", status),
		zap.ByteString("body", body),
	)
	if status < 200 || status > 299 {
		gerr := &GatewayError{Kind: ErrPushRejected, HTTPStatus: status, Raw: body}
		var e darajaErrorResp
		if json.Unmarshal(body, &e) == nil {
			gerr.Code, gerr.Description = e.ErrorCode, e.ErrorMessage
		}
		span.SetStatus(codes.Error, "rejected")
		return nil, gerr
	}
	var out stkPushResp
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &GatewayError{Kind: ErrMalformedResponse, HTTPStatus: status, Raw: body, Err: err}
	}
	if out.ResponseCode == "" || out.CheckoutRequestID == "" {
		return nil, &GatewayError{Kind: ErrMalformedResponse, HTTPStatus: status, Raw: body, Description: "missing ResponseCode or CheckoutRequestID"}
	}
	if out.ResponseCode != "0" {
		span.SetStatus(codes.Error, "rejected")
		return nil, &GatewayError{Kind: ErrPushRejected, HTTPStatus: status, Code: out.ResponseCode, Description: out.ResponseDescription, Raw: body}
	}
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", out.CheckoutRequestID))
	return &PushResult{
		Accepted:            true,
		CheckoutRequestID:   out.CheckoutRequestID,
		MerchantRequestID:   out.MerchantRequestID,
		ResponseCode:        out.ResponseCode,
		ResponseDescription: out.ResponseDescription,
		CustomerMessage:     out.CustomerMessage,
		Raw:                 body,
	}, nil
}

// QueryPush asks the provider for the outcome of an earlier push.
func (c *DarajaClient) QueryPush(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	ctx, span := otel.Tracer("lipa/pkg/payment").Start(ctx, "daraja.QueryPush")
	defer span.End()
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", checkoutRequestID))

	token, err := c.token(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ts := Timestamp(c.now())
	payload := stkQueryReq{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}
	status, body, err := c.post(ctx, queryPath, token, payload)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if status < 200 || status > 299 {
		var e darajaErrorResp
		if json.Unmarshal(body, &e) == nil && e.ErrorCode == errCodeStillProcessing {
			return &QueryResult{Final: false, ResultDesc: e.ErrorMessage, Raw: body}, nil
		}
		gerr := &GatewayError{Kind: ErrPushRejected, HTTPStatus: status, Raw: body, Code: e.ErrorCode, Description: e.ErrorMessage}
		return nil, gerr
	}
	var out stkQueryResp
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &GatewayError{Kind: ErrMalformedResponse, HTTPStatus: status, Raw: body, Err: err}
	}
	code, err := strconv.Atoi(strings.TrimSpace(out.ResultCode))
	if err != nil {
		return nil, &GatewayError{Kind: ErrMalformedResponse, HTTPStatus: status, Raw: body, Description: "ResultCode not numeric"}
	}
	return &QueryResult{Final: true, ResultCode: code, ResultDesc: out.ResultDesc, Raw: body}, nil
}

// token returns the cached access token, fetching a new one on ctx when it is
// missing or about to expire.
func (c *DarajaClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.cached
	c.mu.Unlock()

	tok, err := oauth2.ReuseTokenSource(cached, darajaTokenSource{c: c, ctx: ctx}).Token()
	if err != nil {
		var gerr *GatewayError
		if errors.As(err, &gerr) {
			return "", gerr
		}
		return "", &GatewayError{Kind: ErrAuthFailure, Err: err}
	}
	if tok != cached {
		c.mu.Lock()
		c.cached = tok
		c.mu.Unlock()
	}
	return tok.AccessToken, nil
}

func (c *DarajaClient) post(ctx context.Context, path, token string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PushTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, classifyTransport(err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, classifyTransport(err)
	}
	return resp.StatusCode, respBody, nil
}

// darajaTokenSource fetches a fresh access token on ctx. It is built per call
// so the caller's cancellation and trace reach the token endpoint.
type darajaTokenSource struct {
	c   *DarajaClient
	ctx context.Context
}

type darajaTokenResp struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

func (s darajaTokenSource) Token() (*oauth2.Token, error) {
	c := s.c
	ctx, span := otel.Tracer("lipa/pkg/payment").Start(s.ctx, "daraja.Token")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TokenTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return nil, &GatewayError{Kind: ErrAuthFailure, Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	resp, err := c.client.Do(req)
	if err != nil {
		if terr := classifyTransport(err); errors.Is(terr, ErrTimeout) {
			return nil, terr
		}
		return nil, &GatewayError{Kind: ErrAuthFailure, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("mpesa token request failed", zap.Int("http_status", resp.StatusCode), zap.ByteString("body", body))
		return nil, &GatewayError{Kind: ErrAuthFailure, HTTPStatus: resp.StatusCode, Raw: body}
	}
	var out darajaTokenResp
	if err := json.Unmarshal(body, &out); err != nil || out.AccessToken == "" {
		return nil, &GatewayError{Kind: ErrAuthFailure, HTTPStatus: resp.StatusCode, Description: "no access_token in response", Err: err}
	}
	expiresIn, err := strconv.Atoi(strings.Trim(string(out.ExpiresIn), `" `))
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}
	return &oauth2.Token{
		AccessToken: out.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(expiresIn)*time.Second - time.Minute),
	}, nil
}

func classifyTransport(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &GatewayError{Kind: ErrTimeout, Err: err}
	}
	return fmt.Errorf("gateway transport: %w", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
