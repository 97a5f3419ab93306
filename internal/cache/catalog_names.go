package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const defaultCatalogNamesTTL = 10 * time.Minute

// CatalogNames caches course and cohort display names for read-side
// rendering (receipts, confirmation emails). Catalog rows are effectively
// immutable once payments exist against them, so a short TTL is plenty.
type CatalogNames struct {
	courses Cache[snowflake.ID, string]
	cohorts Cache[snowflake.ID, string]
	ttl     time.Duration
}

func NewCatalogNames() *CatalogNames {
	return &CatalogNames{
		courses: NewTTLCache[snowflake.ID, string](),
		cohorts: NewTTLCache[snowflake.ID, string](),
		ttl:     defaultCatalogNamesTTL,
	}
}

func (c *CatalogNames) CourseTitle(id snowflake.ID) (string, bool) {
	return c.courses.Get(id)
}

func (c *CatalogNames) SetCourseTitle(id snowflake.ID, title string) {
	c.courses.Set(id, title, c.ttl)
}

func (c *CatalogNames) CohortName(id snowflake.ID) (string, bool) {
	return c.cohorts.Get(id)
}

func (c *CatalogNames) SetCohortName(id snowflake.ID, name string) {
	c.cohorts.Set(id, name, c.ttl)
}
