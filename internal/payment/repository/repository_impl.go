package repository

import (
	"context"
	"errors"
	"time"

	"github.com/brightmont/academy/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, reference, idempotency_key, student_id, student_email, cohort_id, course_id,
	plan, status, currency, total_minor, paid_minor, balance_minor,
	expires_at, second_installment_due_at, first_installment_paid_at, confirmed_at, last_checked_at,
	created_at, updated_at`

const transactionColumns = `id, payment_id, reference, type, status, amount_minor,
	authorization_url, access_code, channel, gateway_message, gateway_response, paid_at,
	created_at, updated_at`

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.Reference,
		payment.IdempotencyKey,
		payment.StudentID,
		payment.StudentEmail,
		payment.CohortID,
		payment.CourseID,
		payment.Plan,
		payment.Status,
		payment.Currency,
		payment.TotalMinor,
		payment.PaidMinor,
		payment.BalanceMinor,
		payment.ExpiresAt,
		payment.SecondInstallmentDueAt,
		payment.FirstInstallmentPaidAt,
		payment.ConfirmedAt,
		payment.LastCheckedAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) UpdatePayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments SET
			status = ?, paid_minor = ?, balance_minor = ?,
			expires_at = ?, second_installment_due_at = ?, first_installment_paid_at = ?,
			confirmed_at = ?, last_checked_at = ?, updated_at = ?
		 WHERE id = ?`,
		payment.Status,
		payment.PaidMinor,
		payment.BalanceMinor,
		payment.ExpiresAt,
		payment.SecondInstallmentDueAt,
		payment.FirstInstallmentPaidAt,
		payment.ConfirmedAt,
		payment.LastCheckedAt,
		payment.UpdatedAt,
		payment.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE id = ?`,
		id,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	stmt := db.WithContext(ctx)
	// SQLite serializes writers and has no row locks.
	if db.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var payment domain.Payment
	err := stmt.
		Model(&domain.Payment{}).
		Where("id = ?", id).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = ?`,
		key,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) FindActiveByStudentAndCohort(ctx context.Context, db *gorm.DB, studentID string, cohortID snowflake.ID, now time.Time) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE student_id = ? AND cohort_id = ?
		   AND (
				status IN (?, ?)
				OR (status = ? AND (expires_at IS NULL OR expires_at > ?))
		   )
		 ORDER BY created_at DESC
		 LIMIT 1`,
		studentID,
		cohortID,
		domain.StatusCompleted,
		domain.StatusProcessing,
		domain.StatusPending,
		now,
	).Scan(&payment).Error
	if err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.PaymentID,
		txn.Reference,
		txn.Type,
		txn.Status,
		txn.AmountMinor,
		txn.AuthorizationURL,
		txn.AccessCode,
		txn.Channel,
		txn.GatewayMessage,
		txn.GatewayResponse,
		txn.PaidAt,
		txn.CreatedAt,
		txn.UpdatedAt,
	).Error
}

func (r *repo) UpdateTransaction(ctx context.Context, db *gorm.DB, txn *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_transactions SET
			status = ?, channel = ?, gateway_message = ?, gateway_response = ?, paid_at = ?, updated_at = ?
		 WHERE id = ?`,
		txn.Status,
		txn.Channel,
		txn.GatewayMessage,
		txn.GatewayResponse,
		txn.PaidAt,
		txn.UpdatedAt,
		txn.ID,
	).Error
}

func (r *repo) FindTransactionByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE reference = ?`,
		reference,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) FindPendingTransaction(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, txnType domain.TransactionType) (*domain.PaymentTransaction, error) {
	var txn domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE payment_id = ? AND type = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		paymentID,
		txnType,
		domain.TxnStatusPending,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]*domain.PaymentTransaction, error) {
	var txns []*domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE payment_id = ? ORDER BY created_at ASC, id ASC`,
		paymentID,
	).Scan(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page, limit int) ([]*domain.Payment, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 250 {
		limit = 50
	}

	stmt := applyFilter(db.WithContext(ctx).Model(&domain.Payment{}), filter)

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var payments []*domain.Payment
	err := stmt.
		Order("created_at desc, id desc").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, filter domain.ListFilter) (domain.Statistics, error) {
	var stats domain.Statistics
	stmt := applyFilter(db.WithContext(ctx).Model(&domain.Payment{}), filter)
	err := stmt.Select(
		`COUNT(1) AS total_payments,
		 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
		 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
		 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS processing,
		 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
		 COALESCE(SUM(CASE WHEN plan = ? THEN 1 ELSE 0 END), 0) AS installment_plans,
		 COALESCE(SUM(paid_minor), 0) AS total_revenue_minor`,
		domain.StatusCompleted,
		domain.StatusPending,
		domain.StatusProcessing,
		domain.StatusFailed,
		domain.PlanTwoInstallments,
	).Scan(&stats).Error
	if err != nil {
		return domain.Statistics{}, err
	}
	return stats, nil
}

func (r *repo) FindStalePendingIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	if limit < 1 {
		limit = 100
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM payments
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		domain.StatusPending,
		now,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func applyFilter(stmt *gorm.DB, filter domain.ListFilter) *gorm.DB {
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.StudentID != "" {
		stmt = stmt.Where("student_id = ?", filter.StudentID)
	}
	if filter.CohortID != 0 {
		stmt = stmt.Where("cohort_id = ?", filter.CohortID)
	}
	if filter.CourseID != 0 {
		stmt = stmt.Where("course_id = ?", filter.CourseID)
	}
	if filter.Plan != "" {
		stmt = stmt.Where("plan = ?", filter.Plan)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}
	return stmt
}
