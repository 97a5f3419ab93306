package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrEnrollmentNotFound = errors.New("enrollment_not_found")

// Enrollment grants a student access to a cohort. Exactly one row may exist
// per student and cohort; the unique index is the final arbiter under
// concurrent settlement.
type Enrollment struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	StudentID  string       `gorm:"not null;uniqueIndex:idx_enrollments_student_cohort" json:"student_id"`
	CohortID   snowflake.ID `gorm:"not null;uniqueIndex:idx_enrollments_student_cohort" json:"cohort_id"`
	CourseID   snowflake.ID `gorm:"not null;index" json:"course_id"`
	PaymentID  snowflake.ID `gorm:"not null" json:"payment_id"`
	EnrolledAt time.Time    `gorm:"not null" json:"enrolled_at"`
}

type Repository interface {
	// Insert adds the enrollment unless one already exists for the student and
	// cohort. Returns true when a row was created.
	Insert(ctx context.Context, db *gorm.DB, enrollment *Enrollment) (bool, error)
	Exists(ctx context.Context, db *gorm.DB, studentID string, cohortID snowflake.ID) (bool, error)
	ListByStudent(ctx context.Context, db *gorm.DB, studentID string) ([]*Enrollment, error)
}
