package domain

import (
	"context"
	"time"
)

type InitiateRequest struct {
	CohortID       string
	Plan           string
	IdempotencyKey string
}

// InitiateResponse carries everything the client needs to complete checkout.
// Reused marks an idempotent replay of a previous initiation.
type InitiateResponse struct {
	Payment          Payment            `json:"payment"`
	Transaction      PaymentTransaction `json:"transaction"`
	AuthorizationURL string             `json:"authorization_url"`
	AccessCode       string             `json:"access_code"`
	Reused           bool               `json:"reused"`
}

// Verify outcomes, reported to clients and metrics.
const (
	VerifyOutcomeCompleted = "completed"
	VerifyOutcomePartial   = "partially_paid"
	VerifyOutcomeFailed    = "failed"
	VerifyOutcomeUnchanged = "unchanged"
)

type VerifyResponse struct {
	Payment     Payment            `json:"payment"`
	Transaction PaymentTransaction `json:"transaction"`
	Outcome     string             `json:"outcome"`
}

type UpdateStatusRequest struct {
	PaymentID string
	Status    string
	Reason    string
}

type ListRequest struct {
	Status    string
	StudentID string
	CohortID  string
	CourseID  string
	Plan      string
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

type ListResponse struct {
	Payments []Payment `json:"payments"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}

type PaymentDetail struct {
	Payment      Payment              `json:"payment"`
	Transactions []PaymentTransaction `json:"transactions"`
}

type Service interface {
	// Initiate creates a payment and its first charge attempt. A replayed
	// idempotency key returns the original initiation with Reused set.
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResponse, error)

	// Verify reconciles a charge attempt with the gateway. Safe to call any
	// number of times; a settled payment is returned unchanged.
	Verify(ctx context.Context, reference string) (VerifyResponse, error)

	// InitiateSecondInstallment opens the closing charge of a two-installment
	// plan after the first installment has settled.
	InitiateSecondInstallment(ctx context.Context, paymentID string) (InitiateResponse, error)

	Get(ctx context.Context, paymentID string) (PaymentDetail, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	// Statistics aggregates over the same filter window as List; Page and
	// Limit are ignored.
	Statistics(ctx context.Context, req ListRequest) (Statistics, error)
	AuditTrail(ctx context.Context, paymentID string) ([]PaymentAuditLog, error)

	// UpdateStatus is the admin override to a terminal status.
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (Payment, error)

	// ExpireStale marks PENDING payments past their expiry as EXPIRED and
	// returns how many rows were transitioned.
	ExpireStale(ctx context.Context, limit int) (int, error)
}
