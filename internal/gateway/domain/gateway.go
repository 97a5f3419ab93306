package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrGatewayUnavailable covers transport failures and 5xx responses. The
	// charge outcome is unknown; nothing may change state on it.
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	// ErrMalformedResponse is returned when the gateway answers with a payload
	// missing required fields.
	ErrMalformedResponse = errors.New("gateway_malformed_response")
	// ErrInitializationDeclined is returned when the gateway rejects the
	// initialize call outright.
	ErrInitializationDeclined = errors.New("gateway_initialization_declined")
)

type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Currency    string
	Reference   string
	CallbackURL string
	Channels    []string
	Metadata    map[string]any
}

type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	GatewayReference string
}

type VerifyResult struct {
	Success        bool
	AmountMinor    int64
	Currency       string
	Channel        string
	GatewayMessage string
	PaidAt         *time.Time
	Raw            json.RawMessage
}

// Gateway is the charge provider boundary. Both calls are remote and must run
// outside storage transactions.
type Gateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	Verify(ctx context.Context, gatewayReference string) (VerifyResult, error)
}
