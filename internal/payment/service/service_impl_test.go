package service

import (
	"context"
	"testing"
	"time"

	catalogdomain "github.com/brightmont/academy/internal/catalog/domain"
	catalogrepo "github.com/brightmont/academy/internal/catalog/repository"
	catalogservice "github.com/brightmont/academy/internal/catalog/service"
	"github.com/brightmont/academy/internal/clock"
	"github.com/brightmont/academy/internal/config"
	enrollmentrepo "github.com/brightmont/academy/internal/enrollment/repository"
	gatewaydomain "github.com/brightmont/academy/internal/gateway/domain"
	"github.com/brightmont/academy/internal/identity"
	"github.com/brightmont/academy/internal/payment/audit"
	"github.com/brightmont/academy/internal/payment/domain"
	paymentrepo "github.com/brightmont/academy/internal/payment/repository"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeGateway struct {
	initCalls    int
	initResult   gatewaydomain.InitializeResult
	initErr      error
	verifyCalls  int
	verifyResult gatewaydomain.VerifyResult
	verifyErr    error
	lastInit     gatewaydomain.InitializeRequest
}

func (f *fakeGateway) Initialize(ctx context.Context, req gatewaydomain.InitializeRequest) (gatewaydomain.InitializeResult, error) {
	f.initCalls++
	f.lastInit = req
	if f.initErr != nil {
		return gatewaydomain.InitializeResult{}, f.initErr
	}
	result := f.initResult
	if result.GatewayReference == "" {
		result.GatewayReference = req.Reference
	}
	if result.AuthorizationURL == "" {
		result.AuthorizationURL = "https://checkout.example.com/" + req.Reference
	}
	if result.AccessCode == "" {
		result.AccessCode = "ac_" + req.Reference
	}
	return result, nil
}

func (f *fakeGateway) Verify(ctx context.Context, reference string) (gatewaydomain.VerifyResult, error) {
	f.verifyCalls++
	if f.verifyErr != nil {
		return gatewaydomain.VerifyResult{}, f.verifyErr
	}
	return f.verifyResult, nil
}

type harness struct {
	db      *gorm.DB
	svc     domain.Service
	gateway *fakeGateway
	clock   *clock.FakeClock
	catalog catalogdomain.Service
	cohort  catalogdomain.Cohort
	course  catalogdomain.Course
}

const testSchema = `
CREATE TABLE courses (
	id INTEGER PRIMARY KEY,
	title TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	description TEXT,
	price_minor INTEGER NOT NULL,
	currency TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE cohorts (
	id INTEGER PRIMARY KEY,
	course_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	starts_at DATETIME NOT NULL,
	ends_at DATETIME,
	enrollment_open BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE payments (
	id INTEGER PRIMARY KEY,
	reference TEXT NOT NULL UNIQUE,
	idempotency_key TEXT NOT NULL UNIQUE,
	student_id TEXT NOT NULL,
	student_email TEXT NOT NULL,
	cohort_id INTEGER NOT NULL,
	course_id INTEGER NOT NULL,
	plan TEXT NOT NULL,
	status TEXT NOT NULL,
	currency TEXT NOT NULL,
	total_minor INTEGER NOT NULL,
	paid_minor INTEGER NOT NULL DEFAULT 0,
	balance_minor INTEGER NOT NULL,
	expires_at DATETIME,
	second_installment_due_at DATETIME,
	first_installment_paid_at DATETIME,
	confirmed_at DATETIME,
	last_checked_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE payment_transactions (
	id INTEGER PRIMARY KEY,
	payment_id INTEGER NOT NULL,
	reference TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	amount_minor INTEGER NOT NULL,
	authorization_url TEXT,
	access_code TEXT,
	channel TEXT,
	gateway_message TEXT,
	gateway_response TEXT,
	paid_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE payment_audit_logs (
	id INTEGER PRIMARY KEY,
	payment_id INTEGER NOT NULL,
	action TEXT NOT NULL,
	actor_type TEXT NOT NULL,
	actor_id TEXT,
	prev_status TEXT,
	new_status TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);
CREATE TABLE enrollments (
	id INTEGER PRIMARY KEY,
	student_id TEXT NOT NULL,
	cohort_id INTEGER NOT NULL,
	course_id INTEGER NOT NULL,
	payment_id INTEGER NOT NULL,
	enrolled_at DATETIME NOT NULL,
	UNIQUE (student_id, cohort_id)
);
`

func newHarness(t *testing.T) *harness {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, gdb.Exec(testSchema).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	gw := &fakeGateway{}

	catalogSvc := catalogservice.New(catalogservice.Params{
		DB:    gdb,
		Log:   log,
		GenID: node,
		Repo:  catalogrepo.Provide(),
	})

	course, err := catalogSvc.CreateCourse(context.Background(), catalogdomain.CreateCourseRequest{
		Title:      "Backend Engineering",
		PriceMinor: 500000,
		Currency:   "NGN",
	})
	require.NoError(t, err)
	cohort, err := catalogSvc.CreateCohort(context.Background(), catalogdomain.CreateCohortRequest{
		CourseID: course.ID.String(),
		Name:     "Feb 2026",
		StartsAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	cfg := config.Config{
		PaymentInitTTL: 30 * time.Minute,
		Gateway: config.GatewayConfig{
			CallbackURL: "https://academy.test/callback",
			Currency:    "NGN",
			Channels:    []string{"card"},
		},
	}

	svc := New(Params{
		DB:      gdb,
		Log:     log,
		GenID:   node,
		Repo:    paymentrepo.Provide(),
		Audit:   audit.NewWriter(node),
		Enroll:  enrollmentrepo.Provide(),
		Catalog: catalogSvc,
		Gateway: gw,
		Clock:   fakeClock,
		Cfg:     cfg,
		Policy:  config.NewPaymentPolicyHolderWith(config.DefaultPaymentPolicy()),
	})

	return &harness{
		db:      gdb,
		svc:     svc,
		gateway: gw,
		clock:   fakeClock,
		catalog: catalogSvc,
		cohort:  cohort,
		course:  course,
	}
}

func studentCtx() context.Context {
	return identity.WithIdentity(context.Background(), identity.Identity{
		UserID:    "user-1",
		StudentID: "student-1",
		Email:     "ada@example.com",
		Role:      identity.RoleStudent,
	})
}

func adminCtx() context.Context {
	return identity.WithIdentity(context.Background(), identity.Identity{
		UserID: "admin-1",
		Role:   identity.RoleAdmin,
	})
}

func (h *harness) initiate(t *testing.T, ctx context.Context, plan, key string) domain.InitiateResponse {
	t.Helper()
	resp, err := h.svc.Initiate(ctx, domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           plan,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return resp
}

func (h *harness) auditActions(t *testing.T, paymentID snowflake.ID) []string {
	t.Helper()
	var actions []string
	require.NoError(t, h.db.Raw(
		`SELECT action FROM payment_audit_logs WHERE payment_id = ? ORDER BY created_at ASC, id ASC`,
		paymentID,
	).Scan(&actions).Error)
	return actions
}

func TestInitiateFullPayment(t *testing.T) {
	h := newHarness(t)

	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	assert.False(t, resp.Reused)
	assert.Equal(t, domain.StatusPending, resp.Payment.Status)
	assert.Equal(t, int64(500000), resp.Payment.TotalMinor)
	assert.Equal(t, int64(0), resp.Payment.PaidMinor)
	assert.Equal(t, int64(500000), resp.Payment.BalanceMinor)
	assert.Equal(t, domain.TxnFullPayment, resp.Transaction.Type)
	assert.Equal(t, int64(500000), resp.Transaction.AmountMinor)
	assert.NotEmpty(t, resp.AuthorizationURL)
	assert.Contains(t, resp.Payment.Reference, "PAY-")
	assert.Contains(t, resp.Transaction.Reference, "TXN-")
	require.NotNil(t, resp.Payment.ExpiresAt)
	assert.Equal(t, h.clock.Now().Add(30*time.Minute), resp.Payment.ExpiresAt.UTC())

	assert.Equal(t, 1, h.gateway.initCalls)
	assert.Equal(t, int64(500000), h.gateway.lastInit.AmountMinor)
	assert.Equal(t, "ada@example.com", h.gateway.lastInit.Email)

	assert.Equal(t, []string{domain.AuditPaymentInitiated}, h.auditActions(t, resp.Payment.ID))
}

func TestInitiateInstallmentSplit(t *testing.T) {
	h := newHarness(t)

	resp := h.initiate(t, studentCtx(), string(domain.PlanTwoInstallments), "key-1")

	assert.Equal(t, domain.TxnFirstInstallment, resp.Transaction.Type)
	assert.Equal(t, int64(250000), resp.Transaction.AmountMinor)
	assert.Equal(t, int64(500000), resp.Payment.TotalMinor)
	require.NotNil(t, resp.Payment.SecondInstallmentDueAt)
	assert.Equal(t, h.clock.Now().Add(30*24*time.Hour), resp.Payment.SecondInstallmentDueAt.UTC())
}

func TestInitiateIdempotentReplay(t *testing.T) {
	h := newHarness(t)

	first := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")
	replay := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	assert.True(t, replay.Reused)
	assert.Equal(t, first.Payment.ID, replay.Payment.ID)
	assert.Equal(t, first.Transaction.Reference, replay.Transaction.Reference)
	assert.Equal(t, first.AuthorizationURL, replay.AuthorizationURL)
	assert.Equal(t, 1, h.gateway.initCalls, "replay must not call the gateway")

	var count int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(1) FROM payments`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestInitiateReplayOtherStudentForbidden(t *testing.T) {
	h := newHarness(t)
	h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	other := identity.WithIdentity(context.Background(), identity.Identity{
		UserID:    "user-2",
		StudentID: "student-2",
		Email:     "eve@example.com",
		Role:      identity.RoleStudent,
	})
	_, err := h.svc.Initiate(other, domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           string(domain.PlanFullPayment),
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestInitiateDuplicateActivePayment(t *testing.T) {
	h := newHarness(t)
	h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	_, err := h.svc.Initiate(studentCtx(), domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           string(domain.PlanFullPayment),
		IdempotencyKey: "key-2",
	})
	assert.ErrorIs(t, err, domain.ErrPaymentInProgress)
}

func TestInitiateAfterCompletedPaymentConflicts(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	h.gateway.verifyResult = gatewaydomain.VerifyResult{
		Success:     true,
		AmountMinor: 500000,
		Channel:     "card",
	}
	_, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)

	_, err = h.svc.Initiate(studentCtx(), domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           string(domain.PlanFullPayment),
		IdempotencyKey: "key-2",
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyEnrolled)
}

func TestInitiateGatewayFailureLeavesNothing(t *testing.T) {
	h := newHarness(t)
	h.gateway.initErr = gatewaydomain.ErrGatewayUnavailable

	_, err := h.svc.Initiate(studentCtx(), domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           string(domain.PlanFullPayment),
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, gatewaydomain.ErrGatewayUnavailable)

	var count int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(1) FROM payments`).Scan(&count).Error)
	assert.Zero(t, count)
}

func TestInitiateValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Initiate(studentCtx(), domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           "WEEKLY",
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPlan)

	_, err = h.svc.Initiate(studentCtx(), domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           string(domain.PlanFullPayment),
		IdempotencyKey: "  ",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidIdempotencyKey)

	_, err = h.svc.Initiate(studentCtx(), domain.InitiateRequest{
		CohortID:       "999999",
		Plan:           string(domain.PlanFullPayment),
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, catalogdomain.ErrCohortNotFound)

	_, err = h.svc.Initiate(context.Background(), domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           string(domain.PlanFullPayment),
		IdempotencyKey: "key-1",
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestVerifyCompletesAndEnrolls(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	h.gateway.verifyResult = gatewaydomain.VerifyResult{
		Success:        true,
		AmountMinor:    500000,
		Channel:        "card",
		GatewayMessage: "Successful",
		Raw:            []byte(`{"data":{"status":"success"}}`),
	}

	verified, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomeCompleted, verified.Outcome)
	assert.Equal(t, domain.StatusCompleted, verified.Payment.Status)
	assert.Equal(t, int64(500000), verified.Payment.PaidMinor)
	assert.Zero(t, verified.Payment.BalanceMinor)
	require.NotNil(t, verified.Payment.ConfirmedAt)
	assert.Equal(t, domain.TxnStatusCompleted, verified.Transaction.Status)
	assert.Equal(t, "card", verified.Transaction.Channel)

	var enrolled int64
	require.NoError(t, h.db.Raw(
		`SELECT COUNT(1) FROM enrollments WHERE student_id = ? AND cohort_id = ?`,
		"student-1", h.cohort.ID,
	).Scan(&enrolled).Error)
	assert.Equal(t, int64(1), enrolled)

	actions := h.auditActions(t, resp.Payment.ID)
	assert.Equal(t, []string{
		domain.AuditPaymentInitiated,
		domain.AuditPaymentCompleted,
		domain.AuditEnrollmentCreated,
	}, actions)

	// Re-verify is a no-op and does not call the gateway again.
	calls := h.gateway.verifyCalls
	again, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomeUnchanged, again.Outcome)
	assert.Equal(t, calls, h.gateway.verifyCalls)
}

func TestVerifyInstallmentFlow(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanTwoInstallments), "key-1")

	h.gateway.verifyResult = gatewaydomain.VerifyResult{
		Success:     true,
		AmountMinor: 250000,
		Channel:     "card",
	}
	verified, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomePartial, verified.Outcome)
	assert.Equal(t, domain.StatusProcessing, verified.Payment.Status)
	assert.Equal(t, int64(250000), verified.Payment.PaidMinor)
	assert.Equal(t, int64(250000), verified.Payment.BalanceMinor)
	require.NotNil(t, verified.Payment.FirstInstallmentPaidAt)

	// No enrollment until fully settled.
	var enrolled int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(1) FROM enrollments`).Scan(&enrolled).Error)
	assert.Zero(t, enrolled)

	second, err := h.svc.InitiateSecondInstallment(studentCtx(), verified.Payment.ID.String())
	require.NoError(t, err)
	assert.False(t, second.Reused)
	assert.Equal(t, domain.TxnSecondInstallment, second.Transaction.Type)
	assert.Equal(t, int64(250000), second.Transaction.AmountMinor)

	// Re-initiating reuses the open charge.
	reused, err := h.svc.InitiateSecondInstallment(studentCtx(), verified.Payment.ID.String())
	require.NoError(t, err)
	assert.True(t, reused.Reused)
	assert.Equal(t, second.Transaction.Reference, reused.Transaction.Reference)

	verified2, err := h.svc.Verify(studentCtx(), second.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomeCompleted, verified2.Outcome)
	assert.Equal(t, domain.StatusCompleted, verified2.Payment.Status)
	assert.Zero(t, verified2.Payment.BalanceMinor)

	require.NoError(t, h.db.Raw(`SELECT COUNT(1) FROM enrollments`).Scan(&enrolled).Error)
	assert.Equal(t, int64(1), enrolled)
}

func TestVerifyFailedCharge(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	h.gateway.verifyResult = gatewaydomain.VerifyResult{
		Success:        false,
		GatewayMessage: "Declined",
	}
	verified, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomeFailed, verified.Outcome)
	assert.Equal(t, domain.StatusFailed, verified.Payment.Status)
	assert.Equal(t, domain.TxnStatusFailed, verified.Transaction.Status)
	assert.Zero(t, verified.Payment.PaidMinor)
}

func TestVerifySecondInstallmentFailureKeepsProcessing(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanTwoInstallments), "key-1")

	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: true, AmountMinor: 250000}
	verified, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)

	second, err := h.svc.InitiateSecondInstallment(studentCtx(), verified.Payment.ID.String())
	require.NoError(t, err)

	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: false, GatewayMessage: "Declined"}
	failed, err := h.svc.Verify(studentCtx(), second.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomeFailed, failed.Outcome)
	assert.Equal(t, domain.StatusProcessing, failed.Payment.Status, "settled money keeps the payment open")
	assert.Equal(t, int64(250000), failed.Payment.PaidMinor)
}

func TestVerifyGatewayUnavailableChangesNothing(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	h.gateway.verifyErr = gatewaydomain.ErrGatewayUnavailable
	_, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	assert.ErrorIs(t, err, gatewaydomain.ErrGatewayUnavailable)

	detail, err := h.svc.Get(studentCtx(), resp.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, detail.Payment.Status)
	assert.Equal(t, domain.TxnStatusPending, detail.Transactions[0].Status)
}

func TestVerifyAmountMismatchFails(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: true, AmountMinor: 100}
	verified, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomeFailed, verified.Outcome)
	assert.Equal(t, "amount_mismatch", verified.Transaction.GatewayMessage)
}

func TestVerifyUnknownReference(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Verify(studentCtx(), "TXN-UNKNOWN")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestSecondInstallmentLegality(t *testing.T) {
	h := newHarness(t)

	full := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-full")
	_, err := h.svc.InitiateSecondInstallment(studentCtx(), full.Payment.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotInstallmentPlan)

	installment := h.initiate(t, studentCtx(), string(domain.PlanTwoInstallments), "key-inst")
	_, err = h.svc.InitiateSecondInstallment(studentCtx(), installment.Payment.ID.String())
	assert.ErrorIs(t, err, domain.ErrFirstInstallmentUnpaid)

	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: true, AmountMinor: 250000}
	verified, err := h.svc.Verify(studentCtx(), installment.Transaction.Reference)
	require.NoError(t, err)

	second, err := h.svc.InitiateSecondInstallment(studentCtx(), verified.Payment.ID.String())
	require.NoError(t, err)
	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: true, AmountMinor: 250000}
	_, err = h.svc.Verify(studentCtx(), second.Transaction.Reference)
	require.NoError(t, err)

	_, err = h.svc.InitiateSecondInstallment(studentCtx(), verified.Payment.ID.String())
	assert.ErrorIs(t, err, domain.ErrPaymentAlreadySettled)
}

func TestUpdateStatusAdminOverride(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	_, err := h.svc.UpdateStatus(studentCtx(), domain.UpdateStatusRequest{
		PaymentID: resp.Payment.ID.String(),
		Status:    string(domain.StatusCancelled),
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.svc.UpdateStatus(adminCtx(), domain.UpdateStatusRequest{
		PaymentID: resp.Payment.ID.String(),
		Status:    string(domain.StatusProcessing),
	})
	assert.ErrorIs(t, err, domain.ErrNonTerminalStatus)

	updated, err := h.svc.UpdateStatus(adminCtx(), domain.UpdateStatusRequest{
		PaymentID: resp.Payment.ID.String(),
		Status:    string(domain.StatusCompleted),
		Reason:    "bank transfer confirmed manually",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)
	assert.Zero(t, updated.BalanceMinor)
	assert.Equal(t, updated.TotalMinor, updated.PaidMinor)

	var enrolled int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(1) FROM enrollments`).Scan(&enrolled).Error)
	assert.Equal(t, int64(1), enrolled)

	actions := h.auditActions(t, resp.Payment.ID)
	assert.Contains(t, actions, domain.AuditStatusOverridden)
	assert.Contains(t, actions, domain.AuditEnrollmentCreated)
}

func TestVerifyAfterAdminCancelStaysCancelled(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	cancelled, err := h.svc.UpdateStatus(adminCtx(), domain.UpdateStatusRequest{
		PaymentID: resp.Payment.ID.String(),
		Status:    string(domain.StatusCancelled),
		Reason:    "student requested refund of holding deposit",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	// A late gateway success for the still-open charge cannot reopen a
	// payment the business already closed.
	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: true, AmountMinor: 500000}
	gatewayCalls := h.gateway.verifyCalls

	verified, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomeUnchanged, verified.Outcome)
	assert.Equal(t, domain.StatusCancelled, verified.Payment.Status)
	assert.Equal(t, gatewayCalls, h.gateway.verifyCalls)

	var enrolled int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(1) FROM enrollments`).Scan(&enrolled).Error)
	assert.Zero(t, enrolled)

	actions := h.auditActions(t, resp.Payment.ID)
	assert.NotContains(t, actions, domain.AuditPaymentCompleted)
	assert.NotContains(t, actions, domain.AuditEnrollmentCreated)
}

func TestVerifyFailedPaymentCannotComplete(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: false, GatewayMessage: "declined"}
	failed, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Payment.Status)

	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: true, AmountMinor: 500000}
	reverified, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.VerifyOutcomeUnchanged, reverified.Outcome)
	assert.Equal(t, domain.StatusFailed, reverified.Payment.Status)

	var enrolled int64
	require.NoError(t, h.db.Raw(`SELECT COUNT(1) FROM enrollments`).Scan(&enrolled).Error)
	assert.Zero(t, enrolled)
}

func TestExpireStaleUnblocksReinitiation(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	h.clock.Advance(31 * time.Minute)

	count, err := h.svc.ExpireStale(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	detail, err := h.svc.Get(studentCtx(), resp.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, detail.Payment.Status)
	assert.Contains(t, h.auditActions(t, resp.Payment.ID), domain.AuditPaymentExpired)

	// The expired attempt no longer blocks a fresh initiation.
	fresh := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-2")
	assert.False(t, fresh.Reused)

	// Second sweep finds nothing.
	count, err = h.svc.ExpireStale(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExpiredPendingDoesNotBlockEvenBeforeSweep(t *testing.T) {
	h := newHarness(t)
	h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	h.clock.Advance(31 * time.Minute)

	fresh, err := h.svc.Initiate(studentCtx(), domain.InitiateRequest{
		CohortID:       h.cohort.ID.String(),
		Plan:           string(domain.PlanFullPayment),
		IdempotencyKey: "key-2",
	})
	require.NoError(t, err)
	assert.False(t, fresh.Reused)
}

func TestGetOwnership(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	detail, err := h.svc.Get(studentCtx(), resp.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, resp.Payment.ID, detail.Payment.ID)
	assert.Len(t, detail.Transactions, 1)

	other := identity.WithIdentity(context.Background(), identity.Identity{
		UserID:    "user-2",
		StudentID: "student-2",
		Role:      identity.RoleStudent,
	})
	_, err = h.svc.Get(other, resp.Payment.ID.String())
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	adminDetail, err := h.svc.Get(adminCtx(), resp.Payment.ID.String())
	require.NoError(t, err)
	assert.Equal(t, resp.Payment.ID, adminDetail.Payment.ID)
}

func TestListAndStatistics(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanTwoInstallments), "key-1")

	h.gateway.verifyResult = gatewaydomain.VerifyResult{Success: true, AmountMinor: 250000}
	_, err := h.svc.Verify(studentCtx(), resp.Transaction.Reference)
	require.NoError(t, err)

	_, err = h.svc.List(studentCtx(), domain.ListRequest{})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	list, err := h.svc.List(adminCtx(), domain.ListRequest{
		Status: string(domain.StatusProcessing),
	})
	require.NoError(t, err)
	require.Len(t, list.Payments, 1)
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, domain.StatusProcessing, list.Payments[0].Status)

	empty, err := h.svc.List(adminCtx(), domain.ListRequest{
		Status: string(domain.StatusFailed),
	})
	require.NoError(t, err)
	assert.Empty(t, empty.Payments)

	stats, err := h.svc.Statistics(adminCtx(), domain.ListRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalPayments)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(1), stats.InstallmentPlans)
	assert.Equal(t, int64(250000), stats.TotalRevenueMinor)

	// The statistics window honors the same filters as the listing.
	filtered, err := h.svc.Statistics(adminCtx(), domain.ListRequest{
		Status: string(domain.StatusProcessing),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), filtered.TotalPayments)
	assert.Equal(t, int64(250000), filtered.TotalRevenueMinor)

	none, err := h.svc.Statistics(adminCtx(), domain.ListRequest{
		Status: string(domain.StatusFailed),
	})
	require.NoError(t, err)
	assert.Zero(t, none.TotalPayments)
	assert.Zero(t, none.TotalRevenueMinor)

	otherStudent, err := h.svc.Statistics(adminCtx(), domain.ListRequest{
		StudentID: "student-2",
	})
	require.NoError(t, err)
	assert.Zero(t, otherStudent.TotalPayments)

	_, err = h.svc.Statistics(adminCtx(), domain.ListRequest{Status: "REFUNDED"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = h.svc.Statistics(studentCtx(), domain.ListRequest{})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAuditTrailAdminOnly(t *testing.T) {
	h := newHarness(t)
	resp := h.initiate(t, studentCtx(), string(domain.PlanFullPayment), "key-1")

	_, err := h.svc.AuditTrail(studentCtx(), resp.Payment.ID.String())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	trail, err := h.svc.AuditTrail(adminCtx(), resp.Payment.ID.String())
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.AuditPaymentInitiated, trail[0].Action)
	assert.Equal(t, domain.ActorStudent, trail[0].ActorType)
}
