package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	catalogdomain "github.com/brightmont/academy/internal/catalog/domain"
)

func (s *Server) ListCourses(c *gin.Context) {
	req := catalogdomain.ListCourseRequest{
		PageToken:  c.Query("page_token"),
		ActiveOnly: c.Query("include_inactive") != "true",
	}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			AbortWithError(c, catalogdomain.ErrInvalidID)
			return
		}
		req.PageSize = int32(size)
	}

	resp, err := s.catalogSvc.ListCourses(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetCourse(c *gin.Context) {
	course, err := s.catalogSvc.GetCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course": course})
}

func (s *Server) ListCohorts(c *gin.Context) {
	cohorts, err := s.catalogSvc.ListCohorts(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cohorts": cohorts})
}

type createCourseRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	PriceMinor  int64  `json:"price_minor" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
}

func (s *Server) CreateCourse(c *gin.Context) {
	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, catalogdomain.ErrInvalidTitle)
		return
	}

	course, err := s.catalogSvc.CreateCourse(c.Request.Context(), catalogdomain.CreateCourseRequest{
		Title:       req.Title,
		Description: req.Description,
		PriceMinor:  req.PriceMinor,
		Currency:    req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"course": course})
}

type createCohortRequest struct {
	CourseID string     `json:"course_id" binding:"required"`
	Name     string     `json:"name" binding:"required"`
	StartsAt time.Time  `json:"starts_at" binding:"required"`
	EndsAt   *time.Time `json:"ends_at"`
}

func (s *Server) CreateCohort(c *gin.Context) {
	var req createCohortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, catalogdomain.ErrInvalidName)
		return
	}

	cohort, err := s.catalogSvc.CreateCohort(c.Request.Context(), catalogdomain.CreateCohortRequest{
		CourseID: req.CourseID,
		Name:     req.Name,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cohort": cohort})
}
