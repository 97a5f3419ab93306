package server

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brightmont/academy/internal/payment/domain"
	"github.com/brightmont/academy/internal/payment/ledger"
	"github.com/brightmont/academy/internal/providers/pdf"
)

type initiatePaymentRequest struct {
	CohortID       string `json:"cohort_id" binding:"required"`
	Plan           string `json:"plan" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrInvalidPlan)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := s.paymentSvc.Initiate(c.Request.Context(), domain.InitiateRequest{
		CohortID:       req.CohortID,
		Plan:           req.Plan,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("payment_reference", resp.Payment.Reference)
	status := http.StatusCreated
	if resp.Reused {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (s *Server) VerifyPayment(c *gin.Context) {
	reference := c.Param("reference")
	c.Set("payment_reference", reference)

	resp, err := s.paymentSvc.Verify(c.Request.Context(), reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) InitiateSecondInstallment(c *gin.Context) {
	resp, err := s.paymentSvc.InitiateSecondInstallment(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("payment_reference", resp.Payment.Reference)
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetPayment(c *gin.Context) {
	detail, err := s.paymentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GetReceipt renders a PDF receipt for a fully settled payment.
func (s *Server) GetReceipt(c *gin.Context) {
	detail, err := s.paymentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if detail.Payment.Status != domain.StatusCompleted {
		AbortWithError(c, ErrReceiptUnavailable)
		return
	}

	reader, err := s.pdfSvc.GenerateReceipt(c.Request.Context(), s.receiptData(c, detail))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="receipt-`+detail.Payment.Reference+`.pdf"`)
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		s.log.Warn("receipt stream aborted",
			zap.String("reference", detail.Payment.Reference),
			zap.Error(err),
		)
	}
}

func (s *Server) receiptData(c *gin.Context, detail domain.PaymentDetail) pdf.ReceiptData {
	payment := detail.Payment

	courseTitle, cohortName := s.catalogDisplayNames(c, payment.CourseID, payment.CohortID)

	datePaid := ""
	if payment.ConfirmedAt != nil {
		datePaid = payment.ConfirmedAt.Format("2 Jan 2006")
	}

	var lines []pdf.ReceiptLine
	for _, txn := range detail.Transactions {
		if txn.Status != domain.TxnStatusCompleted {
			continue
		}
		paidOn := ""
		if txn.PaidAt != nil {
			paidOn = txn.PaidAt.Format("2 Jan 2006")
		}
		lines = append(lines, pdf.ReceiptLine{
			Description: receiptLineDescription(txn.Type),
			Reference:   txn.Reference,
			PaidOn:      paidOn,
			Amount:      ledger.FormatAmount(txn.AmountMinor, payment.Currency),
		})
	}

	return pdf.ReceiptData{
		Reference:    payment.Reference,
		StudentEmail: payment.StudentEmail,
		CourseTitle:  courseTitle,
		CohortName:   cohortName,
		Plan:         string(payment.Plan),
		DatePaid:     datePaid,
		Total:        ledger.FormatAmount(payment.TotalMinor, payment.Currency),
		Lines:        lines,
	}
}

// catalogDisplayNames resolves course and cohort names for rendering, via a
// short-TTL cache; receipt downloads hit the same handful of rows.
func (s *Server) catalogDisplayNames(c *gin.Context, courseID, cohortID snowflake.ID) (string, string) {
	courseTitle, haveCourse := s.names.CourseTitle(courseID)
	cohortName, haveCohort := s.names.CohortName(cohortID)
	if haveCourse && haveCohort {
		return courseTitle, cohortName
	}

	course, err := s.catalogSvc.GetCourse(c.Request.Context(), courseID.String())
	if err != nil {
		return courseTitle, cohortName
	}
	courseTitle = course.Title
	s.names.SetCourseTitle(courseID, courseTitle)

	if cohorts, err := s.catalogSvc.ListCohorts(c.Request.Context(), course.ID.String()); err == nil {
		for _, cohort := range cohorts {
			s.names.SetCohortName(cohort.ID, cohort.Name)
			if cohort.ID == cohortID {
				cohortName = cohort.Name
			}
		}
	}
	return courseTitle, cohortName
}

func receiptLineDescription(txnType domain.TransactionType) string {
	switch txnType {
	case domain.TxnFirstInstallment:
		return "First installment"
	case domain.TxnSecondInstallment:
		return "Second installment"
	default:
		return "Tuition"
	}
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// PaymentWebhook handles the gateway's charge notifications. The payload is
// only a hint: the handler re-verifies the reference against the gateway
// before any state changes, so a forged body cannot settle a payment.
func (s *Server) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if secret := s.cfg.Gateway.SecretKey; secret != "" {
		if !validSignature(body, c.GetHeader("X-Paystack-Signature"), secret) {
			s.log.Warn("webhook signature mismatch", zap.String("ip", c.ClientIP()))
			c.Status(http.StatusUnauthorized)
			return
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Data.Reference == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(event.Event, "charge.") {
		c.Status(http.StatusOK)
		return
	}

	c.Set("payment_reference", event.Data.Reference)
	if _, err := s.paymentSvc.Verify(c.Request.Context(), event.Data.Reference); err != nil {
		// The gateway retries on non-2xx; only transient failures warrant that.
		if errType, _ := classifyErrorForLog(err); errType == "gateway_error" || errType == "serialization_conflict" || errType == "internal_error" {
			s.log.Warn("webhook verify failed",
				zap.String("reference", event.Data.Reference),
				zap.Error(err),
			)
			c.Status(http.StatusInternalServerError)
			return
		}
	}
	c.Status(http.StatusOK)
}

func validSignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// parseListRequest reads the filter window shared by the list and statistics
// endpoints. Returns false after writing the error response.
func parseListRequest(c *gin.Context) (domain.ListRequest, bool) {
	req := domain.ListRequest{
		Status:    c.Query("status"),
		StudentID: c.Query("student_id"),
		CohortID:  c.Query("cohort_id"),
		CourseID:  c.Query("course_id"),
		Plan:      c.Query("plan"),
	}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, domain.ErrInvalidPage)
			return domain.ListRequest{}, false
		}
		req.Page = page
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, domain.ErrInvalidPage)
			return domain.ListRequest{}, false
		}
		req.Limit = limit
	}
	if from, ok := parseTimeQuery(c, "from"); ok {
		req.From = from
	} else {
		return domain.ListRequest{}, false
	}
	if to, ok := parseTimeQuery(c, "to"); ok {
		req.To = to
	} else {
		return domain.ListRequest{}, false
	}
	return req, true
}

func (s *Server) ListPayments(c *gin.Context) {
	req, ok := parseListRequest(c)
	if !ok {
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		AbortWithError(c, domain.ErrInvalidPage)
		return nil, false
	}
	return &ts, true
}

func (s *Server) GetStatistics(c *gin.Context) {
	req, ok := parseListRequest(c)
	if !ok {
		return
	}

	stats, err := s.paymentSvc.Statistics(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) GetAuditTrail(c *gin.Context) {
	logs, err := s.paymentSvc.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) UpdatePaymentStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, domain.ErrInvalidStatus)
		return
	}

	payment, err := s.paymentSvc.UpdateStatus(c.Request.Context(), domain.UpdateStatusRequest{
		PaymentID: c.Param("id"),
		Status:    req.Status,
		Reason:    req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}
