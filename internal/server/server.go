package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brightmont/academy/internal/cache"
	"github.com/brightmont/academy/internal/catalog"
	catalogdomain "github.com/brightmont/academy/internal/catalog/domain"
	"github.com/brightmont/academy/internal/clock"
	"github.com/brightmont/academy/internal/config"
	"github.com/brightmont/academy/internal/enrollment"
	enrollmentdomain "github.com/brightmont/academy/internal/enrollment/domain"
	"github.com/brightmont/academy/internal/gateway"
	"github.com/brightmont/academy/internal/observability"
	obsmiddleware "github.com/brightmont/academy/internal/observability/logger"
	obsmetrics "github.com/brightmont/academy/internal/observability/metrics"
	obstracing "github.com/brightmont/academy/internal/observability/tracing"
	"github.com/brightmont/academy/internal/payment"
	paymentdomain "github.com/brightmont/academy/internal/payment/domain"
	"github.com/brightmont/academy/internal/providers"
	"github.com/brightmont/academy/internal/providers/pdf"
	"github.com/brightmont/academy/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	config.Module,
	clock.Module,
	fx.Provide(registerGin),
	catalog.Module,
	enrollment.Module,
	gateway.Module,
	payment.Module,
	providers.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
	genID      *snowflake.Node
	paymentSvc paymentdomain.Service
	catalogSvc catalogdomain.Service
	enrollRepo enrollmentdomain.Repository
	pdfSvc     pdf.Provider
	limiter    *ratelimit.InitiateLimiter
	names      *cache.CatalogNames
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	GenID      *snowflake.Node
	PaymentSvc paymentdomain.Service
	CatalogSvc catalogdomain.Service
	EnrollRepo enrollmentdomain.Repository
	PDFSvc     pdf.Provider
	Limiter    *ratelimit.InitiateLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		db:         p.DB,
		genID:      p.GenID,
		paymentSvc: p.PaymentSvc,
		catalogSvc: p.CatalogSvc,
		enrollRepo: p.EnrollRepo,
		pdfSvc:     p.PDFSvc,
		limiter:    p.Limiter,
		names:      cache.NewCatalogNames(),
	}

	s.registerAPIRoutes()
	s.registerAdminRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.IdentityFromHeaders())

	api.GET("/courses", s.ListCourses)
	api.GET("/courses/:id", s.GetCourse)
	api.GET("/courses/:id/cohorts", s.ListCohorts)

	api.POST("/payments", s.AuthRequired(), s.InitiateRateLimit(), s.InitiatePayment)
	api.GET("/payments/verify/:reference", s.VerifyPayment)
	api.POST("/payments/:id/second-installment", s.AuthRequired(), s.InitiateSecondInstallment)
	api.GET("/payments/:id", s.AuthRequired(), s.GetPayment)
	api.GET("/payments/:id/receipt", s.AuthRequired(), s.GetReceipt)

	api.GET("/enrollments", s.AuthRequired(), s.ListMyEnrollments)

	// The gateway calls back without identity headers.
	s.engine.POST("/api/payments/webhook", s.PaymentWebhook)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.IdentityFromHeaders(), s.AdminRequired())

	admin.GET("/payments", s.ListPayments)
	admin.GET("/payments/stats", s.GetStatistics)
	admin.GET("/payments/:id/audit", s.GetAuditTrail)
	admin.PATCH("/payments/:id/status", s.UpdatePaymentStatus)

	admin.POST("/courses", s.CreateCourse)
	admin.POST("/cohorts", s.CreateCohort)
}
