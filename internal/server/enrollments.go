package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	enrollmentdomain "github.com/brightmont/academy/internal/enrollment/domain"
	"github.com/brightmont/academy/internal/identity"
)

func (s *Server) ListMyEnrollments(c *gin.Context) {
	id, err := identity.FromContext(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	enrollments, err := s.enrollRepo.ListByStudent(c.Request.Context(), s.db, id.StudentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if enrollments == nil {
		enrollments = []*enrollmentdomain.Enrollment{}
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": enrollments})
}
