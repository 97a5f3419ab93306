package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brightmont/academy/internal/config"
	"github.com/brightmont/academy/internal/gateway/domain"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Client talks to the Paystack REST API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	log        *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) *Client {
	timeout := cfg.Gateway.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Gateway.BaseURL, "/"),
		secretKey:  cfg.Gateway.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("gateway.paystack"),
	}
}

type initializePayload struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Channels    []string       `json:"channels,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type verifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status          string  `json:"status"`
		Amount          int64   `json:"amount"`
		Currency        string  `json:"currency"`
		Channel         string  `json:"channel"`
		GatewayResponse string  `json:"gateway_response"`
		PaidAt          *string `json:"paid_at"`
	} `json:"data"`
}

func (c *Client) Initialize(ctx context.Context, req domain.InitializeRequest) (domain.InitializeResult, error) {
	payload := initializePayload{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Channels:    req.Channels,
		Metadata:    req.Metadata,
	}

	body, status, err := c.do(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return domain.InitializeResult{}, err
	}
	if status >= http.StatusInternalServerError {
		return domain.InitializeResult{}, domain.ErrGatewayUnavailable
	}

	var parsed initializeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.InitializeResult{}, domain.ErrMalformedResponse
	}
	if status >= http.StatusBadRequest || !parsed.Status {
		c.log.Warn("initialize declined",
			zap.Int("status_code", status),
			zap.String("message", parsed.Message),
		)
		return domain.InitializeResult{}, domain.ErrInitializationDeclined
	}
	if strings.TrimSpace(parsed.Data.AuthorizationURL) == "" ||
		strings.TrimSpace(parsed.Data.AccessCode) == "" ||
		strings.TrimSpace(parsed.Data.Reference) == "" {
		return domain.InitializeResult{}, domain.ErrMalformedResponse
	}

	return domain.InitializeResult{
		AuthorizationURL: parsed.Data.AuthorizationURL,
		AccessCode:       parsed.Data.AccessCode,
		GatewayReference: parsed.Data.Reference,
	}, nil
}

func (c *Client) Verify(ctx context.Context, gatewayReference string) (domain.VerifyResult, error) {
	gatewayReference = strings.TrimSpace(gatewayReference)
	if gatewayReference == "" {
		return domain.VerifyResult{}, domain.ErrMalformedResponse
	}

	body, status, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+gatewayReference, nil)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	if status >= http.StatusInternalServerError {
		return domain.VerifyResult{}, domain.ErrGatewayUnavailable
	}

	var parsed verifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.VerifyResult{}, domain.ErrMalformedResponse
	}
	if status >= http.StatusBadRequest || !parsed.Status {
		return domain.VerifyResult{}, domain.ErrMalformedResponse
	}
	if strings.TrimSpace(parsed.Data.Status) == "" {
		return domain.VerifyResult{}, domain.ErrMalformedResponse
	}

	result := domain.VerifyResult{
		Success:        strings.EqualFold(parsed.Data.Status, "success"),
		AmountMinor:    parsed.Data.Amount,
		Currency:       parsed.Data.Currency,
		Channel:        parsed.Data.Channel,
		GatewayMessage: parsed.Data.GatewayResponse,
		Raw:            json.RawMessage(body),
	}
	if result.GatewayMessage == "" {
		result.GatewayMessage = parsed.Data.Status
	}
	if parsed.Data.PaidAt != nil {
		if paidAt, parseErr := time.Parse(time.RFC3339, *parsed.Data.PaidAt); parseErr == nil {
			paidAt = paidAt.UTC()
			result.PaidAt = &paidAt
		}
	}

	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, 0, fmt.Errorf("%w: %s %s", domain.ErrGatewayUnavailable, method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read body", domain.ErrGatewayUnavailable)
	}

	return body, resp.StatusCode, nil
}

var _ domain.Gateway = (*Client)(nil)
