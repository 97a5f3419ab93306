package service

import (
	"context"
	"strings"

	"github.com/brightmont/academy/internal/identity"
	"github.com/brightmont/academy/internal/payment/domain"
	"github.com/bwmarrin/snowflake"
)

func (s *Service) Get(ctx context.Context, paymentID string) (domain.PaymentDetail, error) {
	caller, err := identity.FromContext(ctx)
	if err != nil {
		return domain.PaymentDetail{}, domain.ErrForbidden
	}

	id, err := snowflake.ParseString(strings.TrimSpace(paymentID))
	if err != nil || id == 0 {
		return domain.PaymentDetail{}, domain.ErrPaymentNotFound
	}

	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.PaymentDetail{}, err
	}
	if payment == nil {
		return domain.PaymentDetail{}, domain.ErrPaymentNotFound
	}
	if !caller.IsAdmin() && payment.StudentID != caller.StudentID {
		// Existence of someone else's payment is not disclosed.
		return domain.PaymentDetail{}, domain.ErrPaymentNotFound
	}

	txns, err := s.repo.ListTransactions(ctx, s.db, payment.ID)
	if err != nil {
		return domain.PaymentDetail{}, err
	}

	detail := domain.PaymentDetail{Payment: *payment}
	for _, txn := range txns {
		if txn == nil {
			continue
		}
		detail.Transactions = append(detail.Transactions, *txn)
	}
	return detail, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	caller, err := identity.FromContext(ctx)
	if err != nil || !caller.IsAdmin() {
		return domain.ListResponse{}, domain.ErrForbidden
	}

	filter, err := buildListFilter(req)
	if err != nil {
		return domain.ListResponse{}, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := req.Limit
	if limit < 1 || limit > 250 {
		limit = 50
	}

	items, total, err := s.repo.List(ctx, s.db, filter, page, limit)
	if err != nil {
		return domain.ListResponse{}, err
	}

	payments := make([]domain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}

	return domain.ListResponse{
		Payments: payments,
		Total:    total,
		Page:     page,
		Limit:    limit,
	}, nil
}

func (s *Service) Statistics(ctx context.Context, req domain.ListRequest) (domain.Statistics, error) {
	caller, err := identity.FromContext(ctx)
	if err != nil || !caller.IsAdmin() {
		return domain.Statistics{}, domain.ErrForbidden
	}

	filter, err := buildListFilter(req)
	if err != nil {
		return domain.Statistics{}, err
	}
	return s.repo.Stats(ctx, s.db, filter)
}

// buildListFilter validates the shared list/statistics filter window.
func buildListFilter(req domain.ListRequest) (domain.ListFilter, error) {
	filter := domain.ListFilter{
		StudentID:   strings.TrimSpace(req.StudentID),
		CreatedFrom: req.From,
		CreatedTo:   req.To,
	}
	if req.Status != "" {
		if !domain.ValidStatus(req.Status) {
			return domain.ListFilter{}, domain.ErrInvalidStatus
		}
		filter.Status = domain.PaymentStatus(req.Status)
	}
	if req.Plan != "" {
		if !domain.ValidPlan(req.Plan) {
			return domain.ListFilter{}, domain.ErrInvalidPlan
		}
		filter.Plan = domain.PaymentPlan(req.Plan)
	}
	if cohortID := strings.TrimSpace(req.CohortID); cohortID != "" {
		id, err := snowflake.ParseString(cohortID)
		if err != nil || id == 0 {
			return domain.ListFilter{}, domain.ErrInvalidID
		}
		filter.CohortID = id
	}
	if courseID := strings.TrimSpace(req.CourseID); courseID != "" {
		id, err := snowflake.ParseString(courseID)
		if err != nil || id == 0 {
			return domain.ListFilter{}, domain.ErrInvalidID
		}
		filter.CourseID = id
	}
	return filter, nil
}

func (s *Service) AuditTrail(ctx context.Context, paymentID string) ([]domain.PaymentAuditLog, error) {
	caller, err := identity.FromContext(ctx)
	if err != nil || !caller.IsAdmin() {
		return nil, domain.ErrForbidden
	}

	id, err := snowflake.ParseString(strings.TrimSpace(paymentID))
	if err != nil || id == 0 {
		return nil, domain.ErrPaymentNotFound
	}

	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}

	rows, err := s.audit.Trail(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}

	trail := make([]domain.PaymentAuditLog, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		trail = append(trail, *row)
	}
	return trail, nil
}
