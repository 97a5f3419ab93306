package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusCancelled  PaymentStatus = "CANCELLED"
	StatusExpired    PaymentStatus = "EXPIRED"
)

var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
	StatusExpired:    {},
}

// CanTransitionTo reports whether the state machine allows moving from s to
// target. Administrative overrides bypass this map but are audited.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s PaymentStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// IsActive reports whether the payment blocks a fresh initiation for the same
// cohort. Expired PENDING rows are excluded by the repository query.
func (s PaymentStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted:
		return true
	default:
		return false
	}
}

func ValidStatus(value string) bool {
	switch PaymentStatus(value) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

type PaymentPlan string

const (
	PlanFullPayment     PaymentPlan = "FULL_PAYMENT"
	PlanTwoInstallments PaymentPlan = "TWO_INSTALLMENTS"
)

func ValidPlan(value string) bool {
	switch PaymentPlan(value) {
	case PlanFullPayment, PlanTwoInstallments:
		return true
	default:
		return false
	}
}

type TransactionType string

const (
	TxnFullPayment       TransactionType = "FULL_PAYMENT"
	TxnFirstInstallment  TransactionType = "FIRST_INSTALLMENT"
	TxnSecondInstallment TransactionType = "SECOND_INSTALLMENT"
)

type TransactionStatus string

const (
	TxnStatusPending   TransactionStatus = "PENDING"
	TxnStatusCompleted TransactionStatus = "COMPLETED"
	TxnStatusFailed    TransactionStatus = "FAILED"
)

// Payment is the aggregate root of a student's purchase of a cohort seat.
// All amounts are integer minor units; balance_minor = total_minor - paid_minor
// holds at every commit.
type Payment struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	Reference      string        `gorm:"not null;uniqueIndex" json:"reference"`
	IdempotencyKey string        `gorm:"not null;uniqueIndex" json:"idempotency_key"`
	StudentID      string        `gorm:"not null;index" json:"student_id"`
	StudentEmail   string        `gorm:"not null" json:"student_email"`
	CohortID       snowflake.ID  `gorm:"not null;index" json:"cohort_id"`
	CourseID       snowflake.ID  `gorm:"not null;index" json:"course_id"`
	Plan           PaymentPlan   `gorm:"not null" json:"plan"`
	Status         PaymentStatus `gorm:"not null;index" json:"status"`
	Currency       string        `gorm:"not null" json:"currency"`
	TotalMinor     int64         `gorm:"not null" json:"total_minor"`
	PaidMinor      int64         `gorm:"not null;default:0" json:"paid_minor"`
	BalanceMinor   int64         `gorm:"not null" json:"balance_minor"`

	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	SecondInstallmentDueAt *time.Time `json:"second_installment_due_at,omitempty"`
	FirstInstallmentPaidAt *time.Time `json:"first_installment_paid_at,omitempty"`
	ConfirmedAt            *time.Time `json:"confirmed_at,omitempty"`
	LastCheckedAt          *time.Time `json:"last_checked_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// PaymentTransaction is one gateway charge attempt. Its reference doubles as
// the gateway reference, so verify can key on it.
type PaymentTransaction struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	PaymentID snowflake.ID      `gorm:"not null;index" json:"payment_id"`
	Reference string            `gorm:"not null;uniqueIndex" json:"reference"`
	Type      TransactionType   `gorm:"not null" json:"type"`
	Status    TransactionStatus `gorm:"not null" json:"status"`

	AmountMinor      int64          `gorm:"not null" json:"amount_minor"`
	AuthorizationURL string         `json:"authorization_url,omitempty"`
	AccessCode       string         `json:"access_code,omitempty"`
	Channel          string         `json:"channel,omitempty"`
	GatewayMessage   string         `json:"gateway_message,omitempty"`
	GatewayResponse  datatypes.JSON `gorm:"type:jsonb" json:"gateway_response,omitempty"`
	PaidAt           *time.Time     `json:"paid_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// Audit actions.
const (
	AuditPaymentInitiated           = "PAYMENT_INITIATED"
	AuditSecondInstallmentInitiated = "SECOND_INSTALLMENT_INITIATED"
	AuditFirstInstallmentPaid       = "FIRST_INSTALLMENT_PAID"
	AuditPaymentCompleted           = "PAYMENT_COMPLETED"
	AuditPaymentFailed              = "PAYMENT_FAILED"
	AuditPaymentExpired             = "PAYMENT_EXPIRED"
	AuditStatusOverridden           = "STATUS_OVERRIDDEN"
	AuditEnrollmentCreated          = "ENROLLMENT_CREATED"
)

// Audit actor types.
const (
	ActorStudent = "student"
	ActorAdmin   = "admin"
	ActorSystem  = "system"
	ActorGateway = "gateway"
)

// PaymentAuditLog is append-only. Rows are written inside the transaction
// that performs the state change they describe.
type PaymentAuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	PaymentID  snowflake.ID      `gorm:"not null;index" json:"payment_id"`
	Action     string            `gorm:"not null" json:"action"`
	ActorType  string            `gorm:"not null" json:"actor_type"`
	ActorID    string            `json:"actor_id,omitempty"`
	PrevStatus string            `json:"prev_status,omitempty"`
	NewStatus  string            `json:"new_status,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}
