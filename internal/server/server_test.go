package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	catalogdomain "github.com/brightmont/academy/internal/catalog/domain"
	"github.com/brightmont/academy/internal/config"
	enrollmentdomain "github.com/brightmont/academy/internal/enrollment/domain"
	gatewaydomain "github.com/brightmont/academy/internal/gateway/domain"
	"github.com/brightmont/academy/internal/observability"
	paymentdomain "github.com/brightmont/academy/internal/payment/domain"
	"github.com/brightmont/academy/internal/providers/pdf"
	"github.com/brightmont/academy/pkg/db"
)

type fakePaymentService struct {
	paymentdomain.Service

	initiateFn func(ctx context.Context, req paymentdomain.InitiateRequest) (paymentdomain.InitiateResponse, error)
	verifyFn   func(ctx context.Context, reference string) (paymentdomain.VerifyResponse, error)
	getFn      func(ctx context.Context, paymentID string) (paymentdomain.PaymentDetail, error)
	listFn     func(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.ListResponse, error)
	statsFn    func(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.Statistics, error)
	updateFn   func(ctx context.Context, req paymentdomain.UpdateStatusRequest) (paymentdomain.Payment, error)

	verifyCalls []string
}

func (f *fakePaymentService) Initiate(ctx context.Context, req paymentdomain.InitiateRequest) (paymentdomain.InitiateResponse, error) {
	return f.initiateFn(ctx, req)
}

func (f *fakePaymentService) Verify(ctx context.Context, reference string) (paymentdomain.VerifyResponse, error) {
	f.verifyCalls = append(f.verifyCalls, reference)
	return f.verifyFn(ctx, reference)
}

func (f *fakePaymentService) Get(ctx context.Context, paymentID string) (paymentdomain.PaymentDetail, error) {
	return f.getFn(ctx, paymentID)
}

func (f *fakePaymentService) List(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.ListResponse, error) {
	return f.listFn(ctx, req)
}

func (f *fakePaymentService) Statistics(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.Statistics, error) {
	return f.statsFn(ctx, req)
}

func (f *fakePaymentService) UpdateStatus(ctx context.Context, req paymentdomain.UpdateStatusRequest) (paymentdomain.Payment, error) {
	return f.updateFn(ctx, req)
}

type fakeCatalogService struct {
	catalogdomain.Service

	course  catalogdomain.Course
	cohorts []catalogdomain.Cohort
}

func (f *fakeCatalogService) GetCourse(ctx context.Context, idOrSlug string) (catalogdomain.Course, error) {
	return f.course, nil
}

func (f *fakeCatalogService) ListCohorts(ctx context.Context, courseID string) ([]catalogdomain.Cohort, error) {
	return f.cohorts, nil
}

type fakeEnrollmentRepo struct {
	enrollments []*enrollmentdomain.Enrollment
}

func (f *fakeEnrollmentRepo) Insert(ctx context.Context, db *gorm.DB, e *enrollmentdomain.Enrollment) (bool, error) {
	return true, nil
}

func (f *fakeEnrollmentRepo) Exists(ctx context.Context, db *gorm.DB, studentID string, cohortID snowflake.ID) (bool, error) {
	return false, nil
}

func (f *fakeEnrollmentRepo) ListByStudent(ctx context.Context, db *gorm.DB, studentID string) ([]*enrollmentdomain.Enrollment, error) {
	return f.enrollments, nil
}

type fakePDFProvider struct{}

func (fakePDFProvider) GenerateReceipt(ctx context.Context, data pdf.ReceiptData) (io.Reader, error) {
	return bytes.NewReader([]byte("%PDF-1.4 fake")), nil
}

const webhookSecret = "sk_test_webhook"

type harness struct {
	server  *Server
	payment *fakePaymentService
	catalog *fakeCatalogService
	enroll  *fakeEnrollmentRepo
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := NewEngine(observability.Config{}, nil)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	payment := &fakePaymentService{}
	catalog := &fakeCatalogService{
		course: catalogdomain.Course{ID: node.Generate(), Title: "Data Engineering Bootcamp"},
	}
	catalog.cohorts = []catalogdomain.Cohort{
		{ID: node.Generate(), CourseID: catalog.course.ID, Name: "March 2026"},
	}
	enroll := &fakeEnrollmentRepo{}

	srv := NewServer(ServerParams{
		Gin:   engine,
		Cfg:   config.Config{Gateway: config.GatewayConfig{SecretKey: webhookSecret}},
		Log:   zaptest.NewLogger(t),
		DB:    nil,
		GenID: node,
		PaymentSvc: payment,
		CatalogSvc: catalog,
		EnrollRepo: enroll,
		PDFSvc:     fakePDFProvider{},
		Limiter:    nil,
	})

	return &harness{server: srv, payment: payment, catalog: catalog, enroll: enroll}
}

func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.server.Engine().ServeHTTP(rec, req)
	return rec
}

func studentHeaders() map[string]string {
	return map[string]string{
		"X-User-Id":    "user-1",
		"X-Student-Id": "student-1",
		"X-User-Email": "ada@example.com",
		"X-User-Role":  "student",
	}
}

func adminHeaders() map[string]string {
	return map[string]string{
		"X-User-Id":   "admin-1",
		"X-User-Role": "admin",
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestInitiateRequiresIdentity(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/payments", gin.H{"cohort_id": "1", "plan": "FULL_PAYMENT"}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
}

func TestInitiateCreated(t *testing.T) {
	h := newHarness(t)
	h.payment.initiateFn = func(ctx context.Context, req paymentdomain.InitiateRequest) (paymentdomain.InitiateResponse, error) {
		assert.Equal(t, "12345", req.CohortID)
		assert.Equal(t, "FULL_PAYMENT", req.Plan)
		assert.Equal(t, "key-1", req.IdempotencyKey)
		return paymentdomain.InitiateResponse{
			Payment:          paymentdomain.Payment{Reference: "PAY-1"},
			AuthorizationURL: "https://checkout.example/abc",
		}, nil
	}

	rec := h.do(http.MethodPost, "/api/payments", gin.H{
		"cohort_id":       "12345",
		"plan":            "FULL_PAYMENT",
		"idempotency_key": "key-1",
	}, studentHeaders())

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkout.example")
}

func TestInitiateIdempotencyKeyFromHeader(t *testing.T) {
	h := newHarness(t)
	h.payment.initiateFn = func(ctx context.Context, req paymentdomain.InitiateRequest) (paymentdomain.InitiateResponse, error) {
		assert.Equal(t, "hdr-key", req.IdempotencyKey)
		return paymentdomain.InitiateResponse{Reused: true}, nil
	}

	headers := studentHeaders()
	headers["Idempotency-Key"] = "hdr-key"
	rec := h.do(http.MethodPost, "/api/payments", gin.H{
		"cohort_id": "12345",
		"plan":      "FULL_PAYMENT",
	}, headers)

	// Replays return the original initiation, not a new resource.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitiateMalformedBody(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/payments", gin.H{"plan": "FULL_PAYMENT"}, studentHeaders())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestInitiateConflictMapping(t *testing.T) {
	h := newHarness(t)
	h.payment.initiateFn = func(ctx context.Context, req paymentdomain.InitiateRequest) (paymentdomain.InitiateResponse, error) {
		return paymentdomain.InitiateResponse{}, paymentdomain.ErrAlreadyEnrolled
	}

	rec := h.do(http.MethodPost, "/api/payments", gin.H{
		"cohort_id": "12345",
		"plan":      "FULL_PAYMENT",
	}, studentHeaders())

	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "conflict", payload.Type)
	assert.Equal(t, "already_enrolled", payload.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	h := newHarness(t)
	h.payment.verifyFn = func(ctx context.Context, reference string) (paymentdomain.VerifyResponse, error) {
		assert.Equal(t, "PAY-9", reference)
		return paymentdomain.VerifyResponse{Outcome: paymentdomain.VerifyOutcomeCompleted}, nil
	}

	rec := h.do(http.MethodGet, "/api/payments/verify/PAY-9", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), paymentdomain.VerifyOutcomeCompleted)
}

func TestVerifyGatewayDown(t *testing.T) {
	h := newHarness(t)
	h.payment.verifyFn = func(ctx context.Context, reference string) (paymentdomain.VerifyResponse, error) {
		return paymentdomain.VerifyResponse{}, gatewaydomain.ErrGatewayUnavailable
	}

	rec := h.do(http.MethodGet, "/api/payments/verify/PAY-9", nil, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "gateway_error", decodeError(t, rec).Type)
}

func TestSerializationConflictRetryAfter(t *testing.T) {
	h := newHarness(t)
	h.payment.verifyFn = func(ctx context.Context, reference string) (paymentdomain.VerifyResponse, error) {
		return paymentdomain.VerifyResponse{}, db.ErrSerializationConflict
	}

	rec := h.do(http.MethodGet, "/api/payments/verify/PAY-9", nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestWebhookValidSignatureTriggersVerify(t *testing.T) {
	h := newHarness(t)
	h.payment.verifyFn = func(ctx context.Context, reference string) (paymentdomain.VerifyResponse, error) {
		return paymentdomain.VerifyResponse{Outcome: paymentdomain.VerifyOutcomeCompleted}, nil
	}

	body := []byte(`{"event":"charge.success","data":{"reference":"PAY-7"}}`)
	rec := h.doRaw(http.MethodPost, "/api/payments/webhook", body, map[string]string{
		"X-Paystack-Signature": signBody(body),
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"PAY-7"}, h.payment.verifyCalls)
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	h := newHarness(t)

	body := []byte(`{"event":"charge.success","data":{"reference":"PAY-7"}}`)
	rec := h.doRaw(http.MethodPost, "/api/payments/webhook", body, map[string]string{
		"X-Paystack-Signature": "deadbeef",
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.payment.verifyCalls)
}

func TestWebhookIgnoresNonChargeEvents(t *testing.T) {
	h := newHarness(t)

	body := []byte(`{"event":"transfer.success","data":{"reference":"TRF-1"}}`)
	rec := h.doRaw(http.MethodPost, "/api/payments/webhook", body, map[string]string{
		"X-Paystack-Signature": signBody(body),
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.payment.verifyCalls)
}

func TestWebhookUnknownReferenceStillAcked(t *testing.T) {
	h := newHarness(t)
	h.payment.verifyFn = func(ctx context.Context, reference string) (paymentdomain.VerifyResponse, error) {
		return paymentdomain.VerifyResponse{}, paymentdomain.ErrTransactionNotFound
	}

	body := []byte(`{"event":"charge.success","data":{"reference":"UNKNOWN"}}`)
	rec := h.doRaw(http.MethodPost, "/api/payments/webhook", body, map[string]string{
		"X-Paystack-Signature": signBody(body),
	})

	// A permanently unknown reference must not make the gateway retry forever.
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReceiptForCompletedPayment(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	h.payment.getFn = func(ctx context.Context, paymentID string) (paymentdomain.PaymentDetail, error) {
		return paymentdomain.PaymentDetail{
			Payment: paymentdomain.Payment{
				Reference:   "PAY-3",
				Status:      paymentdomain.StatusCompleted,
				Currency:    "NGN",
				TotalMinor:  500000,
				ConfirmedAt: &now,
				CourseID:    h.catalog.course.ID,
				CohortID:    h.catalog.cohorts[0].ID,
			},
			Transactions: []paymentdomain.PaymentTransaction{{
				Reference:   "PAY-3",
				Type:        paymentdomain.TxnFullPayment,
				Status:      paymentdomain.TxnStatusCompleted,
				AmountMinor: 500000,
				PaidAt:      &now,
			}},
		}, nil
	}

	rec := h.do(http.MethodGet, "/api/payments/1/receipt", nil, studentHeaders())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestReceiptUnavailableBeforeSettlement(t *testing.T) {
	h := newHarness(t)
	h.payment.getFn = func(ctx context.Context, paymentID string) (paymentdomain.PaymentDetail, error) {
		return paymentdomain.PaymentDetail{
			Payment: paymentdomain.Payment{Status: paymentdomain.StatusProcessing},
		}, nil
	}

	rec := h.do(http.MethodGet, "/api/payments/1/receipt", nil, studentHeaders())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rec).Type)
}

func TestListMyEnrollments(t *testing.T) {
	h := newHarness(t)
	h.enroll.enrollments = []*enrollmentdomain.Enrollment{{StudentID: "student-1"}}

	rec := h.do(http.MethodGet, "/api/enrollments", nil, studentHeaders())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "student-1")
}

func TestAdminEndpointsRejectStudents(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/admin/payments", nil, studentHeaders())

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Type)
}

func TestAdminListPaymentsParsesFilters(t *testing.T) {
	h := newHarness(t)
	h.payment.listFn = func(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.ListResponse, error) {
		assert.Equal(t, "COMPLETED", req.Status)
		assert.Equal(t, 2, req.Page)
		assert.Equal(t, 25, req.Limit)
		require.NotNil(t, req.From)
		assert.Equal(t, 2026, req.From.Year())
		return paymentdomain.ListResponse{Page: 2, Limit: 25}, nil
	}

	rec := h.do(http.MethodGet, "/admin/payments?status=COMPLETED&page=2&limit=25&from=2026-01-01T00:00:00Z", nil, adminHeaders())

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminStatisticsParsesFilters(t *testing.T) {
	h := newHarness(t)
	h.payment.statsFn = func(ctx context.Context, req paymentdomain.ListRequest) (paymentdomain.Statistics, error) {
		assert.Equal(t, "COMPLETED", req.Status)
		assert.Equal(t, "student-1", req.StudentID)
		require.NotNil(t, req.To)
		assert.Equal(t, time.March, req.To.Month())
		return paymentdomain.Statistics{Completed: 3, TotalRevenueMinor: 1500000}, nil
	}

	rec := h.do(http.MethodGet, "/admin/payments/stats?status=COMPLETED&student_id=student-1&to=2026-03-01T00:00:00Z", nil, adminHeaders())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1500000")
}

func TestAdminStatisticsRejectsBadTimestamp(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/admin/payments/stats?from=yesterday", nil, adminHeaders())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Type)
}

func TestAdminListPaymentsRejectsBadPage(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/admin/payments?page=abc", nil, adminHeaders())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminUpdateStatus(t *testing.T) {
	h := newHarness(t)
	h.payment.updateFn = func(ctx context.Context, req paymentdomain.UpdateStatusRequest) (paymentdomain.Payment, error) {
		assert.Equal(t, "42", req.PaymentID)
		assert.Equal(t, "CANCELLED", req.Status)
		assert.Equal(t, "chargeback", req.Reason)
		return paymentdomain.Payment{Status: paymentdomain.StatusCancelled}, nil
	}

	rec := h.do(http.MethodPatch, "/admin/payments/42/status", gin.H{
		"status": "CANCELLED",
		"reason": "chargeback",
	}, adminHeaders())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CANCELLED")
}

func (h *harness) doRaw(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.Engine().ServeHTTP(rec, req)
	return rec
}

func signBody(body []byte) string {
	mac := hmac.New(sha512.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
