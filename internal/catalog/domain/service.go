package domain

import (
	"context"
	"errors"
	"time"

	"github.com/brightmont/academy/pkg/db/pagination"
)

var (
	ErrCourseNotFound   = errors.New("course_not_found")
	ErrCohortNotFound   = errors.New("cohort_not_found")
	ErrCourseInactive   = errors.New("course_inactive")
	ErrEnrollmentClosed = errors.New("enrollment_closed")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidTitle     = errors.New("invalid_title")
	ErrInvalidPrice     = errors.New("invalid_price")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidName      = errors.New("invalid_name")
	ErrInvalidStartDate = errors.New("invalid_start_date")
)

type CreateCourseRequest struct {
	Title       string
	Description string
	PriceMinor  int64
	Currency    string
}

type ListCourseFilter struct {
	ActiveOnly bool
}

type ListCourseRequest struct {
	PageToken  string
	PageSize   int32
	ActiveOnly bool
}

type ListCourseResponse struct {
	pagination.PageInfo
	Courses []Course `json:"courses"`
}

type CreateCohortRequest struct {
	CourseID string
	Name     string
	StartsAt time.Time
	EndsAt   *time.Time
}

// ResolvedCohort is what the payment flow needs to trust: the cohort, its
// course, and the authoritative price.
type ResolvedCohort struct {
	Cohort Cohort
	Course Course
}

type Service interface {
	CreateCourse(context.Context, CreateCourseRequest) (Course, error)
	GetCourse(ctx context.Context, idOrSlug string) (Course, error)
	ListCourses(context.Context, ListCourseRequest) (ListCourseResponse, error)

	CreateCohort(context.Context, CreateCohortRequest) (Cohort, error)
	ListCohorts(ctx context.Context, courseID string) ([]Cohort, error)

	// ResolveCohort validates that the cohort exists, its course exists and is
	// active, and enrollment is open.
	ResolveCohort(ctx context.Context, cohortID string) (ResolvedCohort, error)
}
