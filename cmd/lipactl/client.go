package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lipa/internal/domain"
	"lipa/internal/service"
	"lipa/pkg/poll"
)

var errNotFound = errors.New("payment not found")

type statusClient struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string) *statusClient {
	return &statusClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

type statusEnvelope struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    *service.View `json:"data"`
}

func (c *statusClient) Get(ctx context.Context, id uint) (*service.View, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/v1/payments/mpesa/status/%d", c.base, id), nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", poll.ErrTransient, err)
	}
	defer resp.Body.Close()

	var env statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode status response (http %d): %w", resp.StatusCode, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: server error: %s", poll.ErrTransient, env.Message)
	case resp.StatusCode != http.StatusOK || env.Data == nil:
		return nil, fmt.Errorf("status request failed (http %d): %s", resp.StatusCode, env.Message)
	}
	return env.Data, nil
}

// watch polls until the intent leaves pending. Each status change is reported
// through onChange. Exhausted attempts yield a pending outcome, not an error.
func watch(ctx context.Context, c *statusClient, id uint, p poll.Poller, onChange func(status string)) (*service.WatchOutcome, error) {
	last := ""
	res, err := poll.Until(ctx, p, func(ctx context.Context) (*service.View, bool, error) {
		v, err := c.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if v.Status != last {
			last = v.Status
			onChange(v.Status)
		}
		return v, v.Final, nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Terminal {
		return &service.WatchOutcome{Outcome: domain.IntentPending, Message: poll.StillPendingMessage, View: res.Value}, nil
	}
	return &service.WatchOutcome{Outcome: res.Value.Status, View: res.Value}, nil
}
