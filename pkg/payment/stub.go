package payment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StubGateway accepts every push without calling out. Used with MPESA_PROVIDER=stub
// in development and as a double in tests.
type StubGateway struct {
	// Err, when set, is returned from RequestPush instead of accepting.
	Err error

	seq     atomic.Int64
	mu      sync.Mutex
	results map[string]*QueryResult
}

func NewStubGateway() *StubGateway {
	return &StubGateway{results: make(map[string]*QueryResult)}
}

func (s *StubGateway) RequestPush(ctx context.Context, req PushRequest) (*PushResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GatewayError{Kind: ErrTimeout, Err: err}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	n := s.seq.Add(1)
	stamp := time.Now().UnixNano()
	res := &PushResult{
		Accepted:            true,
		CheckoutRequestID:   fmt.Sprintf("ws_CO_stub_%d_%d", stamp, n),
		MerchantRequestID:   fmt.Sprintf("stub-%d-%d", stamp, n),
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}
	res.Raw = []byte(fmt.Sprintf(`{"MerchantRequestID":%q,"CheckoutRequestID":%q,"ResponseCode":"0"}`, res.MerchantRequestID, res.CheckoutRequestID))
	return res, nil
}

// Resolve sets what QueryPush will report for checkoutRequestID.
func (s *StubGateway) Resolve(checkoutRequestID string, resultCode int, desc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = make(map[string]*QueryResult)
	}
	s.results[checkoutRequestID] = &QueryResult{Final: true, ResultCode: resultCode, ResultDesc: desc}
}

func (s *StubGateway) QueryPush(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[checkoutRequestID]; ok {
		return r, nil
	}
	return &QueryResult{Final: false, ResultDesc: "The transaction is being processed"}, nil
}
