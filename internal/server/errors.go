package server

import (
	"errors"
	"net/http"

	catalogdomain "github.com/brightmont/academy/internal/catalog/domain"
	gatewaydomain "github.com/brightmont/academy/internal/gateway/domain"
	"github.com/brightmont/academy/internal/identity"
	paymentdomain "github.com/brightmont/academy/internal/payment/domain"
	"github.com/brightmont/academy/pkg/db"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ErrReceiptUnavailable is returned for receipt requests on payments that
// have not fully settled.
var ErrReceiptUnavailable = errors.New("receipt_unavailable")

var ErrRateLimited = errors.New("rate_limited")

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusServiceUnavailable {
			c.Header("Retry-After", "1")
		}
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	errType, code := classifyErrorForLog(err)

	switch errType {
	case "unauthorized":
		return http.StatusUnauthorized, errorPayload{Type: errType, Code: code, Message: "unauthorized"}
	case "forbidden":
		return http.StatusForbidden, errorPayload{Type: errType, Code: code, Message: "forbidden"}
	case "not_found":
		return http.StatusNotFound, errorPayload{Type: errType, Code: code, Message: "not found"}
	case "conflict":
		return http.StatusConflict, errorPayload{Type: errType, Code: code, Message: "conflict"}
	case "invalid_state":
		return http.StatusUnprocessableEntity, errorPayload{Type: errType, Code: code, Message: "invalid state"}
	case "validation_error":
		return http.StatusBadRequest, errorPayload{Type: errType, Code: code, Message: "validation error"}
	case "gateway_error":
		return http.StatusBadGateway, errorPayload{Type: errType, Code: code, Message: "payment gateway error"}
	case "serialization_conflict":
		return http.StatusServiceUnavailable, errorPayload{Type: errType, Code: code, Message: "temporarily unavailable, retry"}
	case "rate_limited":
		return http.StatusTooManyRequests, errorPayload{Type: errType, Code: code, Message: "too many requests"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Code: "internal_error", Message: "internal server error"}
	}
}

// classifyErrorForLog buckets domain sentinels for the response mapper and
// for request-log fields.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}

	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return "unauthorized", "unauthenticated"

	case errors.Is(err, paymentdomain.ErrForbidden):
		return "forbidden", "forbidden"

	case errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, paymentdomain.ErrTransactionNotFound),
		errors.Is(err, catalogdomain.ErrCourseNotFound),
		errors.Is(err, catalogdomain.ErrCohortNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return "not_found", err.Error()

	case errors.Is(err, paymentdomain.ErrAlreadyPaid),
		errors.Is(err, paymentdomain.ErrPaymentInProgress),
		errors.Is(err, paymentdomain.ErrAlreadyEnrolled):
		return "conflict", err.Error()

	case errors.Is(err, paymentdomain.ErrNotInstallmentPlan),
		errors.Is(err, paymentdomain.ErrFirstInstallmentUnpaid),
		errors.Is(err, paymentdomain.ErrPaymentAlreadySettled),
		errors.Is(err, paymentdomain.ErrInvalidTransition),
		errors.Is(err, paymentdomain.ErrNonTerminalStatus),
		errors.Is(err, catalogdomain.ErrCourseInactive),
		errors.Is(err, catalogdomain.ErrEnrollmentClosed),
		errors.Is(err, ErrReceiptUnavailable):
		return "invalid_state", err.Error()

	case errors.Is(err, paymentdomain.ErrInvalidPlan),
		errors.Is(err, paymentdomain.ErrInvalidStatus),
		errors.Is(err, paymentdomain.ErrInvalidIdempotencyKey),
		errors.Is(err, paymentdomain.ErrInvalidID),
		errors.Is(err, paymentdomain.ErrInvalidReference),
		errors.Is(err, paymentdomain.ErrInvalidPage),
		errors.Is(err, catalogdomain.ErrInvalidID),
		errors.Is(err, catalogdomain.ErrInvalidTitle),
		errors.Is(err, catalogdomain.ErrInvalidPrice),
		errors.Is(err, catalogdomain.ErrInvalidCurrency),
		errors.Is(err, catalogdomain.ErrInvalidName),
		errors.Is(err, catalogdomain.ErrInvalidStartDate):
		return "validation_error", err.Error()

	case errors.Is(err, gatewaydomain.ErrGatewayUnavailable),
		errors.Is(err, gatewaydomain.ErrMalformedResponse),
		errors.Is(err, gatewaydomain.ErrInitializationDeclined):
		return "gateway_error", err.Error()

	case errors.Is(err, db.ErrSerializationConflict):
		return "serialization_conflict", "serialization_conflict"

	case errors.Is(err, ErrRateLimited):
		return "rate_limited", "rate_limited"

	default:
		return "internal_error", "internal_error"
	}
}
