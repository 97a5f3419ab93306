package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brightmont/academy/internal/identity"
	obscontext "github.com/brightmont/academy/internal/observability/context"
	paymentdomain "github.com/brightmont/academy/internal/payment/domain"
)

// Headers set by the authenticating proxy in front of this service. The
// proxy terminates sessions; this service trusts the forwarded principal.
const (
	headerUserID    = "X-User-Id"
	headerStudentID = "X-Student-Id"
	headerUserEmail = "X-User-Email"
	headerUserRole  = "X-User-Role"
)

// IdentityFromHeaders resolves the caller principal from trusted headers and
// stores it on the request context. Requests without identity headers pass
// through unauthenticated; AuthRequired gates the endpoints that need one.
func (s *Server) IdentityFromHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(headerUserID)
		if userID == "" {
			c.Next()
			return
		}

		id := identity.FromHeaders(
			userID,
			c.GetHeader(headerStudentID),
			c.GetHeader(headerUserEmail),
			c.GetHeader(headerUserRole),
		)
		if id.StudentID == "" {
			id.StudentID = id.UserID
		}

		ctx := identity.WithIdentity(c.Request.Context(), id)
		ctx = obscontext.WithActor(ctx, id.Role, id.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := identity.FromContext(c.Request.Context()); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := identity.FromContext(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !id.IsAdmin() {
			AbortWithError(c, paymentdomain.ErrForbidden)
			return
		}
		c.Next()
	}
}

// InitiateRateLimit throttles payment initiation per student. The limiter is
// fail-open: a Redis outage never blocks checkout.
func (s *Server) InitiateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		id, err := identity.FromContext(c.Request.Context())
		if err != nil {
			c.Next()
			return
		}

		allowed, retryAfter, err := s.limiter.Allow(c.Request.Context(), id.StudentID)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Code:    "rate_limited",
				Message: "too many payment attempts, slow down",
			}})
			return
		}
		c.Next()
	}
}
