package seed

import (
	"context"
	"errors"
	"time"

	catalogdomain "github.com/brightmont/academy/internal/catalog/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EnsureDemoCatalog seeds one course with an open cohort so a development
// install can run the whole payment flow end to end. A non-empty catalog is
// left untouched.
func EnsureDemoCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.WithContext(ctx).Model(&catalogdomain.Course{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now().UTC()
		course := catalogdomain.Course{
			ID:          node.Generate(),
			Title:       "Software Engineering Bootcamp",
			Slug:        "software-engineering-bootcamp",
			Description: "Six-month immersive program.",
			PriceMinor:  50000000,
			Currency:    "NGN",
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.WithContext(ctx).Create(&course).Error; err != nil {
			return err
		}

		cohort := catalogdomain.Cohort{
			ID:             node.Generate(),
			CourseID:       course.ID,
			Name:           "Next Cohort",
			Slug:           "software-engineering-bootcamp-next",
			StartsAt:       now.AddDate(0, 1, 0),
			EnrollmentOpen: true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.WithContext(ctx).Create(&cohort).Error
	})
}
