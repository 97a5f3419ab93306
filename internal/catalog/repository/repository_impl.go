package repository

import (
	"context"

	"github.com/brightmont/academy/internal/catalog/domain"
	"github.com/brightmont/academy/pkg/db/option"
	"github.com/brightmont/academy/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCourse(ctx context.Context, db *gorm.DB, course *domain.Course) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO courses (id, title, slug, description, price_minor, currency, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		course.ID,
		course.Title,
		course.Slug,
		course.Description,
		course.PriceMinor,
		course.Currency,
		course.Active,
		course.CreatedAt,
		course.UpdatedAt,
	).Error
}

func (r *repo) FindCourseByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Course, error) {
	var course domain.Course
	err := db.WithContext(ctx).Raw(
		`SELECT id, title, slug, description, price_minor, currency, active, created_at, updated_at
		 FROM courses WHERE id = ?`,
		id,
	).Scan(&course).Error
	if err != nil {
		return nil, err
	}
	if course.ID == 0 {
		return nil, nil
	}
	return &course, nil
}

func (r *repo) FindCourseBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Course, error) {
	var course domain.Course
	err := db.WithContext(ctx).Raw(
		`SELECT id, title, slug, description, price_minor, currency, active, created_at, updated_at
		 FROM courses WHERE slug = ?`,
		slug,
	).Scan(&course).Error
	if err != nil {
		return nil, err
	}
	if course.ID == 0 {
		return nil, nil
	}
	return &course, nil
}

func (r *repo) ListCourses(ctx context.Context, db *gorm.DB, filter domain.ListCourseFilter, page pagination.Pagination) ([]*domain.Course, error) {
	var courses []*domain.Course
	stmt := db.WithContext(ctx).Model(&domain.Course{})
	if filter.ActiveOnly {
		stmt = stmt.Where("active = ?", true)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&courses).Error
	if err != nil {
		return nil, err
	}
	return courses, nil
}

func (r *repo) InsertCohort(ctx context.Context, db *gorm.DB, cohort *domain.Cohort) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO cohorts (id, course_id, name, slug, starts_at, ends_at, enrollment_open, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cohort.ID,
		cohort.CourseID,
		cohort.Name,
		cohort.Slug,
		cohort.StartsAt,
		cohort.EndsAt,
		cohort.EnrollmentOpen,
		cohort.CreatedAt,
		cohort.UpdatedAt,
	).Error
}

func (r *repo) FindCohortByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Cohort, error) {
	var cohort domain.Cohort
	err := db.WithContext(ctx).Raw(
		`SELECT id, course_id, name, slug, starts_at, ends_at, enrollment_open, created_at, updated_at
		 FROM cohorts WHERE id = ?`,
		id,
	).Scan(&cohort).Error
	if err != nil {
		return nil, err
	}
	if cohort.ID == 0 {
		return nil, nil
	}
	return &cohort, nil
}

func (r *repo) ListCohortsByCourse(ctx context.Context, db *gorm.DB, courseID snowflake.ID) ([]*domain.Cohort, error) {
	var cohorts []*domain.Cohort
	err := db.WithContext(ctx).Raw(
		`SELECT id, course_id, name, slug, starts_at, ends_at, enrollment_open, created_at, updated_at
		 FROM cohorts WHERE course_id = ? ORDER BY starts_at ASC`,
		courseID,
	).Scan(&cohorts).Error
	if err != nil {
		return nil, err
	}
	return cohorts, nil
}
