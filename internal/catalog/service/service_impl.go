package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brightmont/academy/internal/catalog/domain"
	"github.com/brightmont/academy/pkg/db/pagination"
	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) CreateCourse(ctx context.Context, req domain.CreateCourseRequest) (domain.Course, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Course{}, domain.ErrInvalidTitle
	}
	if req.PriceMinor <= 0 {
		return domain.Course{}, domain.ErrInvalidPrice
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return domain.Course{}, domain.ErrInvalidCurrency
	}

	now := time.Now().UTC()
	course := domain.Course{
		ID:          s.genID.Generate(),
		Title:       title,
		Slug:        slug.Make(title),
		Description: strings.TrimSpace(req.Description),
		PriceMinor:  req.PriceMinor,
		Currency:    currency,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.InsertCourse(ctx, s.db, &course); err != nil {
		return domain.Course{}, err
	}

	return course, nil
}

func (s *Service) GetCourse(ctx context.Context, idOrSlug string) (domain.Course, error) {
	idOrSlug = strings.TrimSpace(idOrSlug)
	if idOrSlug == "" {
		return domain.Course{}, domain.ErrInvalidID
	}

	if id, err := snowflake.ParseString(idOrSlug); err == nil && id != 0 {
		course, err := s.repo.FindCourseByID(ctx, s.db, id)
		if err != nil {
			return domain.Course{}, err
		}
		if course != nil {
			return *course, nil
		}
	}

	course, err := s.repo.FindCourseBySlug(ctx, s.db, idOrSlug)
	if err != nil {
		return domain.Course{}, err
	}
	if course == nil {
		return domain.Course{}, domain.ErrCourseNotFound
	}
	return *course, nil
}

func (s *Service) ListCourses(ctx context.Context, req domain.ListCourseRequest) (domain.ListCourseResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.ListCourses(ctx, s.db, domain.ListCourseFilter{
		ActiveOnly: req.ActiveOnly,
	}, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListCourseResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(course *domain.Course) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        course.ID.String(),
			CreatedAt: course.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	courses := make([]domain.Course, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		courses = append(courses, *item)
	}

	resp := domain.ListCourseResponse{Courses: courses}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}

	return resp, nil
}

func (s *Service) CreateCohort(ctx context.Context, req domain.CreateCohortRequest) (domain.Cohort, error) {
	courseID, err := snowflake.ParseString(strings.TrimSpace(req.CourseID))
	if err != nil || courseID == 0 {
		return domain.Cohort{}, domain.ErrInvalidID
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Cohort{}, domain.ErrInvalidName
	}
	if req.StartsAt.IsZero() {
		return domain.Cohort{}, domain.ErrInvalidStartDate
	}

	course, err := s.repo.FindCourseByID(ctx, s.db, courseID)
	if err != nil {
		return domain.Cohort{}, err
	}
	if course == nil {
		return domain.Cohort{}, domain.ErrCourseNotFound
	}

	now := time.Now().UTC()
	cohort := domain.Cohort{
		ID:             s.genID.Generate(),
		CourseID:       courseID,
		Name:           name,
		Slug:           slug.Make(fmt.Sprintf("%s %s", course.Slug, name)),
		StartsAt:       req.StartsAt.UTC(),
		EndsAt:         req.EndsAt,
		EnrollmentOpen: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.InsertCohort(ctx, s.db, &cohort); err != nil {
		return domain.Cohort{}, err
	}

	return cohort, nil
}

func (s *Service) ListCohorts(ctx context.Context, courseID string) ([]domain.Cohort, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(courseID))
	if err != nil || id == 0 {
		return nil, domain.ErrInvalidID
	}

	items, err := s.repo.ListCohortsByCourse(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	cohorts := make([]domain.Cohort, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		cohorts = append(cohorts, *item)
	}
	return cohorts, nil
}

func (s *Service) ResolveCohort(ctx context.Context, cohortID string) (domain.ResolvedCohort, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(cohortID))
	if err != nil || id == 0 {
		return domain.ResolvedCohort{}, domain.ErrCohortNotFound
	}

	cohort, err := s.repo.FindCohortByID(ctx, s.db, id)
	if err != nil {
		return domain.ResolvedCohort{}, err
	}
	if cohort == nil {
		return domain.ResolvedCohort{}, domain.ErrCohortNotFound
	}

	course, err := s.repo.FindCourseByID(ctx, s.db, cohort.CourseID)
	if err != nil {
		return domain.ResolvedCohort{}, err
	}
	if course == nil {
		return domain.ResolvedCohort{}, domain.ErrCourseNotFound
	}
	if !course.Active {
		return domain.ResolvedCohort{}, domain.ErrCourseInactive
	}
	if !cohort.EnrollmentOpen {
		return domain.ResolvedCohort{}, domain.ErrEnrollmentClosed
	}

	return domain.ResolvedCohort{Cohort: *cohort, Course: *course}, nil
}
