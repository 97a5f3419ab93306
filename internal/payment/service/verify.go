package service

import (
	"context"
	"strings"
	"time"

	enrollmentdomain "github.com/brightmont/academy/internal/enrollment/domain"
	"github.com/brightmont/academy/internal/payment/audit"
	"github.com/brightmont/academy/internal/payment/domain"
	"github.com/brightmont/academy/internal/payment/ledger"
	"github.com/brightmont/academy/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Verify reconciles one charge attempt with the gateway. The gateway call
// happens before the transaction opens; the transaction re-checks everything
// under a row lock, so a concurrent verify of the same reference settles the
// payment exactly once.
func (s *Service) Verify(ctx context.Context, reference string) (domain.VerifyResponse, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.VerifyResponse{}, domain.ErrInvalidReference
	}

	txn, err := s.repo.FindTransactionByReference(ctx, s.db, reference)
	if err != nil {
		return domain.VerifyResponse{}, err
	}
	if txn == nil {
		return domain.VerifyResponse{}, domain.ErrTransactionNotFound
	}

	payment, err := s.repo.FindByID(ctx, s.db, txn.PaymentID)
	if err != nil {
		return domain.VerifyResponse{}, err
	}
	if payment == nil {
		return domain.VerifyResponse{}, domain.ErrPaymentNotFound
	}

	// Re-verifying a settled attempt is a no-op, without a gateway round trip.
	// The same applies to any terminal payment: once the state machine closed
	// it (CANCELLED, FAILED, EXPIRED), a late gateway answer cannot reopen it.
	if txn.Status == domain.TxnStatusCompleted || payment.Status.IsTerminal() {
		return domain.VerifyResponse{
			Payment:     *payment,
			Transaction: *txn,
			Outcome:     domain.VerifyOutcomeUnchanged,
		}, nil
	}

	result, err := s.gateway.Verify(ctx, reference)
	s.recordGatewayCall(ctx, "verify", err)
	if err != nil {
		// Outcome unknown: no state may change on a transport or parse
		// failure. The caller retries later.
		return domain.VerifyResponse{}, err
	}

	var resp domain.VerifyResponse
	if !result.Success {
		resp, err = s.settleFailure(ctx, payment.ID, txn.ID, result.GatewayMessage, result.Channel, result.Raw)
	} else if result.AmountMinor < txn.AmountMinor {
		s.log.Warn("gateway amount below charge",
			zap.String("reference", reference),
			zap.Int64("expected_minor", txn.AmountMinor),
			zap.Int64("gateway_minor", result.AmountMinor),
		)
		resp, err = s.settleFailure(ctx, payment.ID, txn.ID, "amount_mismatch", result.Channel, result.Raw)
	} else {
		resp, err = s.settleSuccess(ctx, payment.ID, txn.ID, result.Channel, result.GatewayMessage, result.Raw)
	}
	if err != nil {
		return domain.VerifyResponse{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentVerified(ctx, resp.Outcome)
	}
	if resp.Outcome == domain.VerifyOutcomeCompleted {
		s.notifyPaymentConfirmed(resp.Payment)
	}
	return resp, nil
}

// notifyPaymentConfirmed sends the confirmation email off the request path.
// Delivery is best effort; a mail failure never fails the verification.
func (s *Service) notifyPaymentConfirmed(payment domain.Payment) {
	if s.mailer == nil || payment.StudentEmail == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		courseTitle := ""
		if course, err := s.catalog.GetCourse(ctx, payment.CourseID.String()); err == nil {
			courseTitle = course.Title
		}

		err := s.mailer.SendTemplate(ctx, []string{payment.StudentEmail}, "payment_confirmed", map[string]any{
			"subject":           "Payment confirmed",
			"amount":            ledger.FormatAmount(payment.TotalMinor, payment.Currency),
			"course_title":      courseTitle,
			"payment_reference": payment.Reference,
		})
		if err != nil {
			s.log.Warn("payment confirmation email failed",
				zap.String("reference", payment.Reference),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) settleSuccess(ctx context.Context, paymentID, txnID snowflake.ID, channel, message string, raw []byte) (domain.VerifyResponse, error) {
	now := s.clock.Now()
	var resp domain.VerifyResponse

	err := db.RunSerializable(ctx, s.db, func(tx *gorm.DB) error {
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		txn, err := s.findTransaction(ctx, tx, payment.ID, txnID)
		if err != nil {
			return err
		}

		// A concurrent verify won the race, or an admin closed the payment
		// between the gateway call and this lock. Terminal states stand.
		if txn.Status == domain.TxnStatusCompleted || payment.Status.IsTerminal() {
			resp = domain.VerifyResponse{
				Payment:     *payment,
				Transaction: *txn,
				Outcome:     domain.VerifyOutcomeUnchanged,
			}
			return nil
		}

		prev := payment.Status
		payment.PaidMinor += txn.AmountMinor
		payment.BalanceMinor = ledger.Balance(payment.TotalMinor, payment.PaidMinor)
		payment.LastCheckedAt = &now
		payment.UpdatedAt = now

		txn.Status = domain.TxnStatusCompleted
		txn.Channel = channel
		txn.GatewayMessage = message
		txn.GatewayResponse = datatypes.JSON(raw)
		txn.PaidAt = &now
		txn.UpdatedAt = now
		if err := s.repo.UpdateTransaction(ctx, tx, txn); err != nil {
			return err
		}

		if payment.BalanceMinor == 0 {
			payment.Status = domain.StatusCompleted
			payment.ConfirmedAt = &now
			if err := s.repo.UpdatePayment(ctx, tx, payment); err != nil {
				return err
			}

			created, err := s.enroll.Insert(ctx, tx, &enrollmentdomain.Enrollment{
				ID:         s.genID.Generate(),
				StudentID:  payment.StudentID,
				CohortID:   payment.CohortID,
				CourseID:   payment.CourseID,
				PaymentID:  payment.ID,
				EnrolledAt: now,
			})
			if err != nil {
				return err
			}

			if err := s.audit.Record(ctx, tx, audit.Entry{
				PaymentID:  payment.ID,
				Action:     domain.AuditPaymentCompleted,
				ActorType:  domain.ActorGateway,
				PrevStatus: prev,
				NewStatus:  domain.StatusCompleted,
				Metadata: map[string]any{
					"transaction_reference": txn.Reference,
					"amount_minor":          txn.AmountMinor,
					"channel":               channel,
				},
			}); err != nil {
				return err
			}
			if created {
				if err := s.audit.Record(ctx, tx, audit.Entry{
					PaymentID: payment.ID,
					Action:    domain.AuditEnrollmentCreated,
					ActorType: domain.ActorSystem,
				}); err != nil {
					return err
				}
				if s.metrics != nil {
					s.metrics.RecordEnrollmentCreated(ctx)
				}
			}

			resp = domain.VerifyResponse{
				Payment:     *payment,
				Transaction: *txn,
				Outcome:     domain.VerifyOutcomeCompleted,
			}
			return nil
		}

		// First installment settled; the balance stays open.
		payment.Status = domain.StatusProcessing
		if payment.FirstInstallmentPaidAt == nil {
			payment.FirstInstallmentPaidAt = &now
		}
		if err := s.repo.UpdatePayment(ctx, tx, payment); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, audit.Entry{
			PaymentID:  payment.ID,
			Action:     domain.AuditFirstInstallmentPaid,
			ActorType:  domain.ActorGateway,
			PrevStatus: prev,
			NewStatus:  domain.StatusProcessing,
			Metadata: map[string]any{
				"transaction_reference": txn.Reference,
				"amount_minor":          txn.AmountMinor,
				"balance_minor":         payment.BalanceMinor,
				"channel":               channel,
			},
		}); err != nil {
			return err
		}

		resp = domain.VerifyResponse{
			Payment:     *payment,
			Transaction: *txn,
			Outcome:     domain.VerifyOutcomePartial,
		}
		return nil
	})
	if err != nil {
		return domain.VerifyResponse{}, err
	}

	s.log.Info("payment verified",
		zap.String("reference", resp.Transaction.Reference),
		zap.String("outcome", resp.Outcome),
	)
	return resp, nil
}

func (s *Service) settleFailure(ctx context.Context, paymentID, txnID snowflake.ID, message, channel string, raw []byte) (domain.VerifyResponse, error) {
	now := s.clock.Now()
	var resp domain.VerifyResponse

	err := db.RunSerializable(ctx, s.db, func(tx *gorm.DB) error {
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		txn, err := s.findTransaction(ctx, tx, payment.ID, txnID)
		if err != nil {
			return err
		}

		if txn.Status != domain.TxnStatusPending || payment.Status.IsTerminal() {
			resp = domain.VerifyResponse{
				Payment:     *payment,
				Transaction: *txn,
				Outcome:     domain.VerifyOutcomeUnchanged,
			}
			return nil
		}

		txn.Status = domain.TxnStatusFailed
		txn.Channel = channel
		txn.GatewayMessage = message
		txn.GatewayResponse = datatypes.JSON(raw)
		txn.UpdatedAt = now
		if err := s.repo.UpdateTransaction(ctx, tx, txn); err != nil {
			return err
		}

		prev := payment.Status
		payment.LastCheckedAt = &now
		payment.UpdatedAt = now

		// A payment with settled money stays PROCESSING; only a first charge
		// failure fails the whole payment.
		if payment.PaidMinor == 0 && payment.Status.CanTransitionTo(domain.StatusFailed) {
			payment.Status = domain.StatusFailed
		}
		if err := s.repo.UpdatePayment(ctx, tx, payment); err != nil {
			return err
		}

		if err := s.audit.Record(ctx, tx, audit.Entry{
			PaymentID:  payment.ID,
			Action:     domain.AuditPaymentFailed,
			ActorType:  domain.ActorGateway,
			PrevStatus: prev,
			NewStatus:  payment.Status,
			Metadata: map[string]any{
				"transaction_reference": txn.Reference,
				"gateway_message":       message,
			},
		}); err != nil {
			return err
		}

		resp = domain.VerifyResponse{
			Payment:     *payment,
			Transaction: *txn,
			Outcome:     domain.VerifyOutcomeFailed,
		}
		return nil
	})
	if err != nil {
		return domain.VerifyResponse{}, err
	}
	return resp, nil
}

func (s *Service) findTransaction(ctx context.Context, tx *gorm.DB, paymentID, txnID snowflake.ID) (*domain.PaymentTransaction, error) {
	txns, err := s.repo.ListTransactions(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	for _, txn := range txns {
		if txn.ID == txnID {
			return txn, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}
