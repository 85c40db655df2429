package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/config"
	"github.com/jmehdipour/sms-sequencer/internal/http/middleware"
	"github.com/jmehdipour/sms-sequencer/internal/metrics"
	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/repository"
	"github.com/jmehdipour/sms-sequencer/internal/runstate"
	"github.com/jmehdipour/sms-sequencer/internal/service/enrollment"
	"github.com/jmehdipour/sms-sequencer/internal/worker"
)

// EnrollmentService is the operator surface of the enrollment service.
type EnrollmentService interface {
	Enroll(ctx context.Context, sequenceID, contactID string) (*model.Enrollment, error)
	Get(ctx context.Context, id string) (*model.Enrollment, error)
	Pause(ctx context.Context, id string) (*model.Enrollment, error)
	Resume(ctx context.Context, id string) (*model.Enrollment, error)
	ResetError(ctx context.Context, id string) (*model.Enrollment, error)
	Delete(ctx context.Context, id string) error
	Counts(ctx context.Context) (map[model.EnrollmentState]int, error)
	List(ctx context.Context, q repository.EnrollmentQuery) ([]model.Enrollment, error)
}

type RunStateReader interface {
	Last(ctx context.Context) (*runstate.Snapshot, error)
}

type MessageCounter interface {
	CountSince(ctx context.Context, since time.Time) (map[model.MessageStatus]int, error)
}

type TransportState interface {
	Ready() bool
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Runner      worker.Runner
	Enrollments EnrollmentService
	Reports     repository.CHMessagesRepository
	Messages    MessageCounter
	RunState    RunStateReader // optional
	Transport   TransportState // optional
	DB          Pinger
	Redis       *redis.Client // optional; disables the trigger rate limit when nil
	Logger      *zap.Logger
	Now         func() time.Time
}

type Server struct{ e *echo.Echo }

// NewServer wires the production dependencies and registers metrics on the
// default registry.
func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, logger *zap.Logger) (*Server, error) {
	// repos (MySQL)
	enrollmentsRepo := repository.NewEnrollmentsRepository(mysqlDB)
	sequencesRepo := repository.NewSequencesRepository(mysqlDB)
	stepsRepo := repository.NewStepsRepository(mysqlDB)
	contactsRepo := repository.NewContactsRepository(mysqlDB)
	messageLogRepo := repository.NewMessageLogRepository(mysqlDB)

	// repos (ClickHouse)
	chMessagesRepo := repository.NewCHMessagesRepository(clickhouseDB)

	// scheduler + services
	seq, err := worker.NewFromConfig(cfg, mysqlDB, rds, logger)
	if err != nil {
		return nil, err
	}
	enrollmentSvc := enrollment.New(mysqlDB, enrollmentsRepo, sequencesRepo, stepsRepo, contactsRepo)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	trState, _ := seq.Transport.(TransportState)

	return newServer(cfg, Deps{
		Runner:      seq,
		Enrollments: enrollmentSvc,
		Reports:     chMessagesRepo,
		Messages:    messageLogRepo,
		RunState:    runstate.NewStore(rds, cfg.Redis.RunStateTTL),
		Transport:   trState,
		DB:          mysqlDB,
		Redis:       rds,
		Logger:      logger,
	}), nil
}

func newServer(cfg config.Config, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	cronMW := middleware.SharedSecret(middleware.HeaderCronSecret, cfg.Trigger.Secret)
	adminMW := middleware.SharedSecret(middleware.HeaderAdminToken, cfg.Admin.Token)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		Limit:          cfg.RateLimit.TriggerPerMinute,
		KeyPrefix:      "rl:trigger:",
		Window:         time.Minute,
		RetryAfterHint: true,
		Now:            d.Now,
	})

	// routes
	v1 := e.Group("/v1")
	v1.POST("/cron/run-sequences", runSequencesHandler(d.Runner, d.Now), cronMW, rlMW)
	v1.GET("/automation/health", healthHandler(cfg, d))

	enrollments := v1.Group("/enrollments", adminMW)
	enrollments.POST("", enrollHandler(d.Enrollments))
	enrollments.GET("", listEnrollmentsHandler(d.Enrollments))
	enrollments.GET("/:id", getEnrollmentHandler(d.Enrollments))
	enrollments.POST("/:id/pause", operatorHandler(d.Enrollments.Pause))
	enrollments.POST("/:id/resume", operatorHandler(d.Enrollments.Resume))
	enrollments.POST("/:id/reset-error", operatorHandler(d.Enrollments.ResetError))
	enrollments.DELETE("/:id", deleteEnrollmentHandler(d.Enrollments))

	v1.GET("/reports/messages", listMessagesHandler(d.Reports), adminMW)

	return &Server{e: e}
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	zap.L().Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
