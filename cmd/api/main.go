package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/acadsys/registrar-api/api/swagger"
	"github.com/acadsys/registrar-api/internal/handler"
	"github.com/acadsys/registrar-api/internal/middleware"
	"github.com/acadsys/registrar-api/internal/models"
	"github.com/acadsys/registrar-api/internal/repository"
	"github.com/acadsys/registrar-api/internal/service"
	"github.com/acadsys/registrar-api/pkg/cache"
	"github.com/acadsys/registrar-api/pkg/config"
	"github.com/acadsys/registrar-api/pkg/database"
	"github.com/acadsys/registrar-api/pkg/logger"
	corsmiddleware "github.com/acadsys/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/acadsys/registrar-api/pkg/middleware/requestid"
	"github.com/acadsys/registrar-api/pkg/storage"
)

// @title Registrar API
// @version 1.0.0
// @description Term-gated enrollment and grading engine
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The catalog and active-term caches degrade to direct reads.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	attachmentStore, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init attachment storage", "error", err)
	}

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	termRepo := repository.NewTermRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	curriculumRepo := repository.NewCurriculumRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	instructorRepo := repository.NewInstructorRepository(db)
	blockRepo := repository.NewBlockRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "registrar-api",
	})
	termSvc := service.NewTermService(termRepo, cacheRepo, cfg.Catalog.ActiveTermTTL, validate, logr)
	scheduleSvc := service.NewScheduleService(scheduleRepo, curriculumRepo, validate, logr)
	curriculumSvc := service.NewCurriculumService(curriculumRepo, validate, logr)
	catalogSvc := service.NewCatalogService(scheduleRepo, studentRepo, blockRepo, curriculumRepo, termSvc, cacheRepo, cfg.Catalog.CacheTTL, logr)
	enrollmentSvc := service.NewEnrollmentService(
		enrollmentRepo, scheduleRepo, curriculumRepo, studentRepo, termSvc,
		cfg.Enrollment.MaxUnits, cfg.Grading.PassingGrade, validate, logr,
	)
	gradeSvc := service.NewGradeService(
		gradeRepo, scheduleRepo, enrollmentRepo, instructorRepo, termSvc, attachmentStore,
		cfg.Grading.MinGrade, cfg.Grading.MaxGrade, validate, logr,
	)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	termHandler := handler.NewTermHandler(termSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc, catalogSvc)
	curriculumHandler := handler.NewCurriculumHandler(curriculumSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	attachmentSigner := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)
	gradeHandler := handler.NewGradeHandler(gradeSvc, attachmentSigner, attachmentStore, cfg.Attachments.MaxFileSizeBytes)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	registrarOnly := middleware.RequireRoles(models.RoleRegistrar)
	staff := middleware.RequireRoles(models.RoleRegistrar, models.RoleInstructor)

	terms := authed.Group("/terms")
	{
		terms.GET("", termHandler.List)
		terms.GET("/active", termHandler.GetActive)
		terms.GET("/:termId", termHandler.Get)
		terms.POST("", registrarOnly, termHandler.Create)
		terms.PUT("/:termId", registrarOnly, termHandler.Update)
		terms.POST("/:termId/activate", registrarOnly, termHandler.Activate)
		terms.GET("/:termId/blocks/:blockId/catalog", catalogHandler.ForBlock)
	}

	schedules := authed.Group("/schedules")
	{
		schedules.GET("", scheduleHandler.List)
		schedules.GET("/:id", scheduleHandler.Get)
		schedules.POST("", registrarOnly, scheduleHandler.Create)
		schedules.PUT("/:id", registrarOnly, scheduleHandler.Update)
		schedules.DELETE("/:id", registrarOnly, scheduleHandler.Delete)
		schedules.POST("/check-conflict", registrarOnly, scheduleHandler.CheckConflict)
		schedules.GET("/:id/grades", staff, gradeHandler.ClassSheet)
		schedules.POST("/:id/grades", staff, gradeHandler.Submit)
		schedules.GET("/:id/grades/export", staff, gradeHandler.Export)
	}

	enrollments := authed.Group("/enrollments")
	{
		enrollments.GET("", staff, enrollmentHandler.List)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.GET("/:id/export", enrollmentHandler.Export)
		enrollments.POST("", enrollmentHandler.Create)
		enrollments.POST("/:id/subjects", enrollmentHandler.AddSubject)
		enrollments.DELETE("/:id/subjects/:subjectId", enrollmentHandler.DropSubject)
	}

	authed.GET("/students/:id/catalog", catalogHandler.ForStudent)

	authed.GET("/programs/:programId/curriculum", curriculumHandler.ActiveForProgram)
	authed.GET("/programs/:programId/blocks", catalogHandler.BlocksForProgram)
	authed.GET("/curricula/:id/subjects", curriculumHandler.ListSubjects)
	authed.GET("/curriculum-subjects/:id/prerequisites", curriculumHandler.ListPrerequisites)
	authed.POST("/prerequisites", registrarOnly, curriculumHandler.AddPrerequisite)
	authed.DELETE("/prerequisites", registrarOnly, curriculumHandler.RemovePrerequisite)

	enrolledSubjects := authed.Group("/enrolled-subjects")
	{
		enrolledSubjects.POST("/:id/override", registrarOnly, gradeHandler.Override)
		enrolledSubjects.GET("/:id/change-logs", staff, gradeHandler.ChangeLogs)
	}

	authed.GET("/attachments/:token", staff, gradeHandler.DownloadAttachment)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
