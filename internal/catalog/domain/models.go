package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Course is the priced unit of the catalog. PriceMinor is the only trusted
// amount source for payment initiation.
type Course struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Title       string       `gorm:"not null" json:"title"`
	Slug        string       `gorm:"not null;uniqueIndex" json:"slug"`
	Description string       `json:"description,omitempty"`
	PriceMinor  int64        `gorm:"not null" json:"price_minor"`
	Currency    string       `gorm:"not null" json:"currency"`
	Active      bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// Cohort is a scheduled run of a course that students enroll into.
type Cohort struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	CourseID       snowflake.ID `gorm:"not null;index" json:"course_id"`
	Name           string       `gorm:"not null" json:"name"`
	Slug           string       `gorm:"not null;uniqueIndex" json:"slug"`
	StartsAt       time.Time    `gorm:"not null" json:"starts_at"`
	EndsAt         *time.Time   `json:"ends_at,omitempty"`
	EnrollmentOpen bool         `gorm:"not null;default:true" json:"enrollment_open"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}
