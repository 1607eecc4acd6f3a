package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	csrf "github.com/utrack/gin-csrf"

	appsvc "questionnaire/internal/app"
	"questionnaire/internal/bootstrap"
	"questionnaire/internal/cache"
	rabbitmqClient "questionnaire/internal/platform/rabbitmq"
	"questionnaire/internal/repository"
	"questionnaire/internal/transport/http/handler"
	"questionnaire/internal/transport/http/middleware"
	"questionnaire/web"
)

const sessionCookieName = "questionnaire_session"

func NewRouter(app *bootstrap.App) (*gin.Engine, error) {
	cfg := app.Config

	gin.SetMode(cfg.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(), gin.Recovery())

	templates, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("parse templates failed: %w", err)
	}
	router.SetHTMLTemplate(templates)

	responseRepo := repository.NewResponseRepository(app.DB)

	var publisher appsvc.SubmissionPublisher
	if app.MQConn != nil {
		publisher = rabbitmqClient.NewEventPublisher(app.MQConn, cfg.RabbitMQ.SubmissionQueue)
	}
	var counter appsvc.SubmissionCounter
	if app.Redis != nil {
		counter = cache.NewSubmissionStats(app.Redis)
	}

	formService := appsvc.NewFormService(responseRepo, publisher)
	adminService := appsvc.NewAdminService(
		responseRepo,
		counter,
		cfg.Admin.Username,
		cfg.Admin.PasswordHash,
		cfg.Admin.JWTSecret,
		time.Duration(cfg.Admin.JWTExpireMinute)*time.Minute,
	)

	healthHandler := handler.NewHealthHandler(app)
	formHandler := handler.NewFormHandler(formService)
	adminHandler := handler.NewAdminHandler(adminService)

	router.GET("/healthz", healthHandler.Check)

	store := cookie.NewStore([]byte(cfg.App.SecretKey))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int((24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})

	formGroup := router.Group("")
	formGroup.Use(
		sessions.Sessions(sessionCookieName, store),
		csrf.Middleware(csrf.Options{
			Secret:    cfg.App.SecretKey,
			ErrorFunc: handler.CSRFRejected,
		}),
	)
	if app.Redis != nil {
		limiter := cache.NewSubmissionLimiter(
			app.Redis,
			cfg.Redis.SubmitLimit,
			time.Duration(cfg.Redis.SubmitWindowSeconds)*time.Second,
		)
		formGroup.Use(middleware.LimitSubmissions(limiter))
	}
	formGroup.GET("/", formHandler.Show)
	formGroup.POST("/", formHandler.Submit)

	v1 := router.Group("/api/v1")
	if len(cfg.Admin.AllowOrigins) > 0 {
		v1.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.Admin.AllowOrigins,
			AllowMethods:     []string{"GET", "POST"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Content-Length"},
			ExposeHeaders:    []string{"Content-Type", "Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	// Without a password hash there is no admin: the read API is not mounted.
	if cfg.AdminEnabled() {
		v1.POST("/admin/login", adminHandler.Login)

		adminGroup := v1.Group("")
		adminGroup.Use(middleware.AuthJWT(cfg.Admin.JWTSecret, appsvc.AdminRole))
		adminGroup.GET("/responses", adminHandler.ListResponses)
		adminGroup.GET("/responses/:id", adminHandler.GetResponse)
		adminGroup.GET("/stats", adminHandler.Stats)
	}

	return router, nil
}
