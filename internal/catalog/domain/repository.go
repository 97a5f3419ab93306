package domain

import (
	"context"

	"github.com/brightmont/academy/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCourse(ctx context.Context, db *gorm.DB, course *Course) error
	FindCourseByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Course, error)
	FindCourseBySlug(ctx context.Context, db *gorm.DB, slug string) (*Course, error)
	ListCourses(ctx context.Context, db *gorm.DB, filter ListCourseFilter, page pagination.Pagination) ([]*Course, error)

	InsertCohort(ctx context.Context, db *gorm.DB, cohort *Cohort) error
	FindCohortByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Cohort, error)
	ListCohortsByCourse(ctx context.Context, db *gorm.DB, courseID snowflake.ID) ([]*Cohort, error)
}
