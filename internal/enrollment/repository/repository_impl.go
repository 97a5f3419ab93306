package repository

import (
	"context"

	"github.com/brightmont/academy/internal/enrollment/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, enrollment *domain.Enrollment) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO enrollments (id, student_id, cohort_id, course_id, payment_id, enrolled_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (student_id, cohort_id) DO NOTHING`,
		enrollment.ID,
		enrollment.StudentID,
		enrollment.CohortID,
		enrollment.CourseID,
		enrollment.PaymentID,
		enrollment.EnrolledAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, studentID string, cohortID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM enrollments WHERE student_id = ? AND cohort_id = ?`,
		studentID,
		cohortID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListByStudent(ctx context.Context, db *gorm.DB, studentID string) ([]*domain.Enrollment, error) {
	var enrollments []*domain.Enrollment
	err := db.WithContext(ctx).Raw(
		`SELECT id, student_id, cohort_id, course_id, payment_id, enrolled_at
		 FROM enrollments WHERE student_id = ? ORDER BY enrolled_at DESC`,
		studentID,
	).Scan(&enrollments).Error
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}
