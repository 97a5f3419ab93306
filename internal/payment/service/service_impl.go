package service

import (
	"context"
	"strings"
	"time"

	catalogdomain "github.com/brightmont/academy/internal/catalog/domain"
	"github.com/brightmont/academy/internal/clock"
	"github.com/brightmont/academy/internal/config"
	enrollmentdomain "github.com/brightmont/academy/internal/enrollment/domain"
	gatewaydomain "github.com/brightmont/academy/internal/gateway/domain"
	"github.com/brightmont/academy/internal/identity"
	"github.com/brightmont/academy/internal/observability/metrics"
	"github.com/brightmont/academy/internal/payment/audit"
	"github.com/brightmont/academy/internal/payment/domain"
	"github.com/brightmont/academy/internal/payment/ledger"
	emailprovider "github.com/brightmont/academy/internal/providers/email"
	"github.com/brightmont/academy/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxIdempotencyKeyLen = 100

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Audit   *audit.Writer
	Enroll  enrollmentdomain.Repository
	Catalog catalogdomain.Service
	Gateway gatewaydomain.Gateway
	Clock   clock.Clock
	Cfg     config.Config
	Policy  *config.PaymentPolicyHolder
	Metrics *metrics.Metrics       `optional:"true"`
	Mailer  emailprovider.Provider `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	audit   *audit.Writer
	enroll  enrollmentdomain.Repository
	catalog catalogdomain.Service
	gateway gatewaydomain.Gateway
	clock   clock.Clock
	cfg     config.Config
	policy  *config.PaymentPolicyHolder
	metrics *metrics.Metrics
	mailer  emailprovider.Provider
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		audit:   p.Audit,
		enroll:  p.Enroll,
		catalog: p.Catalog,
		gateway: p.Gateway,
		clock:   p.Clock,
		cfg:     p.Cfg,
		policy:  p.Policy,
		metrics: p.Metrics,
		mailer:  p.Mailer,
	}
}

func (s *Service) Initiate(ctx context.Context, req domain.InitiateRequest) (domain.InitiateResponse, error) {
	caller, err := identity.FromContext(ctx)
	if err != nil {
		return domain.InitiateResponse{}, domain.ErrForbidden
	}
	studentID := strings.TrimSpace(caller.StudentID)
	if studentID == "" {
		return domain.InitiateResponse{}, domain.ErrForbidden
	}

	if !domain.ValidPlan(req.Plan) {
		return domain.InitiateResponse{}, domain.ErrInvalidPlan
	}
	plan := domain.PaymentPlan(req.Plan)

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" || len(key) > maxIdempotencyKeyLen {
		return domain.InitiateResponse{}, domain.ErrInvalidIdempotencyKey
	}

	// Fast path: a replayed key returns the original initiation without
	// touching the gateway.
	if prior, err := s.repo.FindByIdempotencyKey(ctx, s.db, key); err != nil {
		return domain.InitiateResponse{}, err
	} else if prior != nil {
		return s.reusedResponse(ctx, prior, studentID)
	}

	resolved, err := s.catalog.ResolveCohort(ctx, req.CohortID)
	if err != nil {
		return domain.InitiateResponse{}, err
	}

	now := s.clock.Now()
	if err := s.checkDuplicates(ctx, s.db, studentID, resolved.Cohort.ID, now); err != nil {
		return domain.InitiateResponse{}, err
	}

	total := resolved.Course.PriceMinor
	chargeAmount := total
	txnType := domain.TxnFullPayment
	var secondDueAt *time.Time
	if plan == domain.PlanTwoInstallments {
		policy := s.policy.Get()
		first, _ := ledger.SplitInstallments(total, policy.MinFirstInstallmentPercent)
		chargeAmount = first
		txnType = domain.TxnFirstInstallment
		due := ledger.SecondInstallmentDueDate(now, policy.GracePeriod())
		secondDueAt = &due
	}

	paymentRef := "PAY-" + ulid.Make().String()
	txnRef := "TXN-" + ulid.Make().String()

	// The gateway call happens strictly before the transaction opens. If it
	// fails, nothing has been persisted.
	initResult, err := s.gateway.Initialize(ctx, gatewaydomain.InitializeRequest{
		Email:       caller.Email,
		AmountMinor: chargeAmount,
		Currency:    resolved.Course.Currency,
		Reference:   txnRef,
		CallbackURL: s.cfg.Gateway.CallbackURL,
		Channels:    s.cfg.Gateway.Channels,
		Metadata: map[string]any{
			"payment_reference": paymentRef,
			"cohort_id":         resolved.Cohort.ID.String(),
			"plan":              string(plan),
		},
	})
	s.recordGatewayCall(ctx, "initialize", err)
	if err != nil {
		return domain.InitiateResponse{}, err
	}

	expiresAt := now.Add(s.cfg.PaymentInitTTL)
	payment := domain.Payment{
		ID:                     s.genID.Generate(),
		Reference:              paymentRef,
		IdempotencyKey:         key,
		StudentID:              studentID,
		StudentEmail:           caller.Email,
		CohortID:               resolved.Cohort.ID,
		CourseID:               resolved.Course.ID,
		Plan:                   plan,
		Status:                 domain.StatusPending,
		Currency:               resolved.Course.Currency,
		TotalMinor:             total,
		PaidMinor:              0,
		BalanceMinor:           total,
		ExpiresAt:              &expiresAt,
		SecondInstallmentDueAt: secondDueAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	txn := domain.PaymentTransaction{
		ID:               s.genID.Generate(),
		PaymentID:        payment.ID,
		Reference:        txnRef,
		Type:             txnType,
		Status:           domain.TxnStatusPending,
		AmountMinor:      chargeAmount,
		AuthorizationURL: initResult.AuthorizationURL,
		AccessCode:       initResult.AccessCode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = db.RunSerializable(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.checkDuplicates(ctx, tx, studentID, resolved.Cohort.ID, now); err != nil {
			return err
		}
		if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
			return err
		}
		if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			PaymentID: payment.ID,
			Action:    domain.AuditPaymentInitiated,
			ActorType: domain.ActorStudent,
			ActorID:   studentID,
			NewStatus: domain.StatusPending,
			Metadata: map[string]any{
				"plan":         string(plan),
				"total_minor":  total,
				"charge_minor": chargeAmount,
				"reference":    paymentRef,
			},
		})
	})
	if err != nil {
		// A concurrent replay of the same key loses the insert race; hand
		// back the winner's initiation instead of a conflict.
		if db.IsDuplicateKeyErr(err) {
			if prior, lookupErr := s.repo.FindByIdempotencyKey(ctx, s.db, key); lookupErr == nil && prior != nil {
				return s.reusedResponse(ctx, prior, studentID)
			}
		}
		return domain.InitiateResponse{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentInitiated(ctx, string(plan), false)
	}
	s.log.Info("payment initiated",
		zap.String("reference", paymentRef),
		zap.String("plan", string(plan)),
		zap.Int64("total_minor", total),
	)

	return domain.InitiateResponse{
		Payment:          payment,
		Transaction:      txn,
		AuthorizationURL: initResult.AuthorizationURL,
		AccessCode:       initResult.AccessCode,
	}, nil
}

func (s *Service) checkDuplicates(ctx context.Context, tx *gorm.DB, studentID string, cohortID snowflake.ID, now time.Time) error {
	enrolled, err := s.enroll.Exists(ctx, tx, studentID, cohortID)
	if err != nil {
		return err
	}
	if enrolled {
		return domain.ErrAlreadyEnrolled
	}

	active, err := s.repo.FindActiveByStudentAndCohort(ctx, tx, studentID, cohortID, now)
	if err != nil {
		return err
	}
	if active != nil {
		if active.Status == domain.StatusCompleted {
			return domain.ErrAlreadyPaid
		}
		return domain.ErrPaymentInProgress
	}
	return nil
}

func (s *Service) reusedResponse(ctx context.Context, payment *domain.Payment, studentID string) (domain.InitiateResponse, error) {
	if payment.StudentID != studentID {
		return domain.InitiateResponse{}, domain.ErrForbidden
	}

	txns, err := s.repo.ListTransactions(ctx, s.db, payment.ID)
	if err != nil {
		return domain.InitiateResponse{}, err
	}
	if len(txns) == 0 {
		return domain.InitiateResponse{}, domain.ErrTransactionNotFound
	}
	first := *txns[0]

	if s.metrics != nil {
		s.metrics.RecordPaymentInitiated(ctx, string(payment.Plan), true)
	}

	return domain.InitiateResponse{
		Payment:          *payment,
		Transaction:      first,
		AuthorizationURL: first.AuthorizationURL,
		AccessCode:       first.AccessCode,
		Reused:           true,
	}, nil
}

func (s *Service) InitiateSecondInstallment(ctx context.Context, paymentID string) (domain.InitiateResponse, error) {
	caller, err := identity.FromContext(ctx)
	if err != nil {
		return domain.InitiateResponse{}, domain.ErrForbidden
	}

	id, err := snowflake.ParseString(strings.TrimSpace(paymentID))
	if err != nil || id == 0 {
		return domain.InitiateResponse{}, domain.ErrPaymentNotFound
	}

	payment, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.InitiateResponse{}, err
	}
	if payment == nil {
		return domain.InitiateResponse{}, domain.ErrPaymentNotFound
	}
	if !caller.IsAdmin() && payment.StudentID != caller.StudentID {
		return domain.InitiateResponse{}, domain.ErrForbidden
	}

	if err := secondInstallmentLegality(payment); err != nil {
		return domain.InitiateResponse{}, err
	}

	// An open second-installment charge is reused rather than duplicated.
	if pending, err := s.repo.FindPendingTransaction(ctx, s.db, payment.ID, domain.TxnSecondInstallment); err != nil {
		return domain.InitiateResponse{}, err
	} else if pending != nil {
		return domain.InitiateResponse{
			Payment:          *payment,
			Transaction:      *pending,
			AuthorizationURL: pending.AuthorizationURL,
			AccessCode:       pending.AccessCode,
			Reused:           true,
		}, nil
	}

	now := s.clock.Now()
	txnRef := "TXN-" + ulid.Make().String()

	initResult, err := s.gateway.Initialize(ctx, gatewaydomain.InitializeRequest{
		Email:       payment.StudentEmail,
		AmountMinor: payment.BalanceMinor,
		Currency:    payment.Currency,
		Reference:   txnRef,
		CallbackURL: s.cfg.Gateway.CallbackURL,
		Channels:    s.cfg.Gateway.Channels,
		Metadata: map[string]any{
			"payment_reference": payment.Reference,
			"installment":       "second",
		},
	})
	s.recordGatewayCall(ctx, "initialize", err)
	if err != nil {
		return domain.InitiateResponse{}, err
	}

	txn := domain.PaymentTransaction{
		ID:               s.genID.Generate(),
		PaymentID:        payment.ID,
		Reference:        txnRef,
		Type:             domain.TxnSecondInstallment,
		Status:           domain.TxnStatusPending,
		AmountMinor:      payment.BalanceMinor,
		AuthorizationURL: initResult.AuthorizationURL,
		AccessCode:       initResult.AccessCode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var reusedTxn *domain.PaymentTransaction
	err = db.RunSerializable(ctx, s.db, func(tx *gorm.DB) error {
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, payment.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrPaymentNotFound
		}
		if err := secondInstallmentLegality(locked); err != nil {
			return err
		}
		pending, err := s.repo.FindPendingTransaction(ctx, tx, locked.ID, domain.TxnSecondInstallment)
		if err != nil {
			return err
		}
		if pending != nil {
			reusedTxn = pending
			return nil
		}
		txn.AmountMinor = locked.BalanceMinor
		if err := s.repo.InsertTransaction(ctx, tx, &txn); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			PaymentID: locked.ID,
			Action:    domain.AuditSecondInstallmentInitiated,
			ActorType: actorType(caller),
			ActorID:   caller.UserID,
			Metadata: map[string]any{
				"amount_minor": txn.AmountMinor,
				"reference":    txnRef,
			},
		})
	})
	if err != nil {
		return domain.InitiateResponse{}, err
	}

	if reusedTxn != nil {
		return domain.InitiateResponse{
			Payment:          *payment,
			Transaction:      *reusedTxn,
			AuthorizationURL: reusedTxn.AuthorizationURL,
			AccessCode:       reusedTxn.AccessCode,
			Reused:           true,
		}, nil
	}

	s.log.Info("second installment initiated",
		zap.String("payment_reference", payment.Reference),
		zap.Int64("amount_minor", txn.AmountMinor),
	)

	return domain.InitiateResponse{
		Payment:          *payment,
		Transaction:      txn,
		AuthorizationURL: initResult.AuthorizationURL,
		AccessCode:       initResult.AccessCode,
	}, nil
}

func secondInstallmentLegality(payment *domain.Payment) error {
	if payment.Plan != domain.PlanTwoInstallments {
		return domain.ErrNotInstallmentPlan
	}
	switch payment.Status {
	case domain.StatusCompleted:
		return domain.ErrPaymentAlreadySettled
	case domain.StatusPending:
		return domain.ErrFirstInstallmentUnpaid
	case domain.StatusProcessing:
		if payment.FirstInstallmentPaidAt == nil {
			return domain.ErrFirstInstallmentUnpaid
		}
		return nil
	default:
		return domain.ErrPaymentAlreadySettled
	}
}

func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (domain.Payment, error) {
	caller, err := identity.FromContext(ctx)
	if err != nil || !caller.IsAdmin() {
		return domain.Payment{}, domain.ErrForbidden
	}

	id, err := snowflake.ParseString(strings.TrimSpace(req.PaymentID))
	if err != nil || id == 0 {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}

	if !domain.ValidStatus(req.Status) {
		return domain.Payment{}, domain.ErrInvalidStatus
	}
	target := domain.PaymentStatus(req.Status)
	if !target.IsTerminal() {
		return domain.Payment{}, domain.ErrNonTerminalStatus
	}

	now := s.clock.Now()
	var updated domain.Payment
	err = db.RunSerializable(ctx, s.db, func(tx *gorm.DB) error {
		payment, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.Status == target {
			return domain.ErrInvalidTransition
		}

		prev := payment.Status
		payment.Status = target
		payment.UpdatedAt = now

		enrolledNow := false
		if target == domain.StatusCompleted {
			// A forced completion settles the ledger and enrolls, exactly as
			// a verified payment would.
			payment.PaidMinor = payment.TotalMinor
			payment.BalanceMinor = 0
			payment.ConfirmedAt = &now

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
			enrolledNow = created
		}

		if err := s.repo.UpdatePayment(ctx, tx, payment); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, audit.Entry{
			PaymentID:  payment.ID,
			Action:     domain.AuditStatusOverridden,
			ActorType:  domain.ActorAdmin,
			ActorID:    caller.UserID,
			PrevStatus: prev,
			NewStatus:  target,
			Metadata: map[string]any{
				"reason": strings.TrimSpace(req.Reason),
			},
		}); err != nil {
			return err
		}
		if enrolledNow {
			if err := s.audit.Record(ctx, tx, audit.Entry{
				PaymentID: payment.ID,
				Action:    domain.AuditEnrollmentCreated,
				ActorType: domain.ActorAdmin,
				ActorID:   caller.UserID,
			}); err != nil {
				return err
			}
		}

		updated = *payment
		return nil
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.log.Info("payment status overridden",
		zap.String("reference", updated.Reference),
		zap.String("status", string(updated.Status)),
	)
	if updated.Status == domain.StatusCompleted {
		s.notifyPaymentConfirmed(updated)
	}
	return updated, nil
}

func (s *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	ids, err := s.repo.FindStalePendingIDs(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		err := db.RunSerializable(ctx, s.db, func(tx *gorm.DB) error {
			payment, err := s.repo.FindByIDForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			if payment == nil || payment.Status != domain.StatusPending {
				return nil
			}
			if payment.ExpiresAt == nil || payment.ExpiresAt.After(now) {
				return nil
			}
			if !payment.Status.CanTransitionTo(domain.StatusExpired) {
				return nil
			}

			prev := payment.Status
			payment.Status = domain.StatusExpired
			payment.UpdatedAt = now
			if err := s.repo.UpdatePayment(ctx, tx, payment); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, tx, audit.Entry{
				PaymentID:  payment.ID,
				Action:     domain.AuditPaymentExpired,
				ActorType:  domain.ActorSystem,
				PrevStatus: prev,
				NewStatus:  domain.StatusExpired,
			}); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			return expired, err
		}
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentExpired(ctx, int64(expired))
	}
	if expired > 0 {
		s.log.Info("stale payments expired", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) recordGatewayCall(ctx context.Context, operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordGatewayCall(ctx, operation, outcome)
}

func actorType(caller identity.Identity) string {
	if caller.IsAdmin() {
		return domain.ActorAdmin
	}
	return domain.ActorStudent
}
