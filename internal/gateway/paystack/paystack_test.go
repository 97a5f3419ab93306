package paystack

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brightmont/academy/internal/config"
	"github.com/brightmont/academy/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Config{
		Gateway: config.GatewayConfig{
			SecretKey: "sk_test_secret",
			BaseURL:   server.URL,
			Currency:  "NGN",
			Timeout:   5 * time.Second,
		},
	}
	return New(cfg, zaptest.NewLogger(t))
}

func TestInitializeSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "Authorization URL created",
			"data": {
				"authorization_url": "https://checkout.paystack.com/abc123",
				"access_code": "abc123",
				"reference": "TXN-01ARZ3"
			}
		}`))
	})

	result, err := client.Initialize(context.Background(), domain.InitializeRequest{
		Email:       "student@example.com",
		AmountMinor: 500000,
		Currency:    "NGN",
		Reference:   "TXN-01ARZ3",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc123", result.AuthorizationURL)
	assert.Equal(t, "abc123", result.AccessCode)
	assert.Equal(t, "TXN-01ARZ3", result.GatewayReference)
}

func TestInitializeDeclined(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status": false, "message": "Invalid amount"}`))
	})

	_, err := client.Initialize(context.Background(), domain.InitializeRequest{
		Email:       "student@example.com",
		AmountMinor: 0,
		Reference:   "TXN-01ARZ3",
	})
	assert.ErrorIs(t, err, domain.ErrInitializationDeclined)
}

func TestInitializeMalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": true, "data": {}}`))
	})

	_, err := client.Initialize(context.Background(), domain.InitializeRequest{
		Email:       "student@example.com",
		AmountMinor: 500000,
		Reference:   "TXN-01ARZ3",
	})
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestInitializeServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Initialize(context.Background(), domain.InitializeRequest{
		Email:       "student@example.com",
		AmountMinor: 500000,
		Reference:   "TXN-01ARZ3",
	})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestVerifySuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/transaction/verify/TXN-01ARZ3", r.URL.Path)

		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "Verification successful",
			"data": {
				"status": "success",
				"amount": 500000,
				"currency": "NGN",
				"channel": "card",
				"gateway_response": "Successful",
				"paid_at": "2026-02-10T09:30:00Z"
			}
		}`))
	})

	result, err := client.Verify(context.Background(), "TXN-01ARZ3")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(500000), result.AmountMinor)
	assert.Equal(t, "card", result.Channel)
	assert.Equal(t, "Successful", result.GatewayMessage)
	require.NotNil(t, result.PaidAt)
	assert.Equal(t, 2026, result.PaidAt.Year())
	assert.NotEmpty(t, result.Raw)
}

func TestVerifyFailedCharge(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"status": true,
			"data": {
				"status": "failed",
				"amount": 500000,
				"gateway_response": "Declined"
			}
		}`))
	})

	result, err := client.Verify(context.Background(), "TXN-01ARZ3")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Declined", result.GatewayMessage)
}

func TestVerifyMissingStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": true, "data": {"amount": 500000}}`))
	})

	_, err := client.Verify(context.Background(), "TXN-01ARZ3")
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestVerifyTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	cfg := config.Config{
		Gateway: config.GatewayConfig{
			SecretKey: "sk_test_secret",
			BaseURL:   server.URL,
			Timeout:   time.Second,
		},
	}
	client := New(cfg, zaptest.NewLogger(t))
	server.Close()

	_, err := client.Verify(context.Background(), "TXN-01ARZ3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
}
