package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows admin listings. Zero values mean "any".
type ListFilter struct {
	Status      PaymentStatus
	StudentID   string
	CohortID    snowflake.ID
	CourseID    snowflake.ID
	Plan        PaymentPlan
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// Statistics is the admin reporting rollup. Revenue counts paid minor units,
// so partially paid installment plans contribute what has actually settled.
type Statistics struct {
	TotalPayments     int64 `json:"total_payments"`
	Completed         int64 `json:"completed"`
	Pending           int64 `json:"pending"`
	Processing        int64 `json:"processing"`
	Failed            int64 `json:"failed"`
	InstallmentPlans  int64 `json:"installment_plans"`
	TotalRevenueMinor int64 `json:"total_revenue_minor"`
}

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	UpdatePayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Payment, error)

	// FindActiveByStudentAndCohort returns a payment that blocks a fresh
	// initiation: COMPLETED, PROCESSING, or PENDING that has not expired.
	FindActiveByStudentAndCohort(ctx context.Context, db *gorm.DB, studentID string, cohortID snowflake.ID, now time.Time) (*Payment, error)

	InsertTransaction(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	UpdateTransaction(ctx context.Context, db *gorm.DB, txn *PaymentTransaction) error
	FindTransactionByReference(ctx context.Context, db *gorm.DB, reference string) (*PaymentTransaction, error)
	FindPendingTransaction(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, txnType TransactionType) (*PaymentTransaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]*PaymentTransaction, error)

	List(ctx context.Context, db *gorm.DB, filter ListFilter, page, limit int) ([]*Payment, int64, error)
	Stats(ctx context.Context, db *gorm.DB, filter ListFilter) (Statistics, error)

	// FindStalePendingIDs returns PENDING payments whose expires_at has passed.
	FindStalePendingIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
}
