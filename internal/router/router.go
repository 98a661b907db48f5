package router

import (
	"time"

	"coursely/config"
	"coursely/internal/domain"
	"coursely/internal/handler"
	"coursely/internal/middleware"
	"coursely/internal/repository"
	"coursely/internal/service"
	"coursely/internal/ws"
	"coursely/pkg/cloudinary"
	"coursely/pkg/vnpay"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(cfg *config.Config, db *gorm.DB, cloud cloudinary.Client) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second)))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	hub := ws.NewHub()

	// Services
	authSvc := service.NewAuthService(cfg, userRepo)
	notifSvc := service.NewNotificationService(notificationRepo, hub)
	gateway := vnpay.New(vnpay.Config{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
	})
	paymentSvc := service.NewPaymentService(cfg, paymentRepo, courseRepo, gateway, notifSvc)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	googleOAuthHandler := handler.NewGoogleOAuthHandler(cfg, authSvc)
	courseHandler := handler.NewCourseHandler(courseRepo, enrollmentRepo, paymentRepo, cloud)
	meHandler := handler.NewMeHandler(enrollmentRepo, paymentRepo, notificationRepo)
	paymentHandler := handler.NewPaymentHandler(cfg, paymentSvc)

	authMw := middleware.AuthRequired(&cfg.JWT)
	instructorMw := middleware.RequireRole(domain.RoleInstructor)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.GET("/google", googleOAuthHandler.Redirect)
			authGroup.GET("/google/callback", googleOAuthHandler.Callback)
		}

		courses := api.Group("/courses")
		{
			courses.GET("", courseHandler.List)
			courses.GET("/:id", courseHandler.Get)
			courses.GET("/:id/lessons", authMw, courseHandler.Lessons)
			courses.POST("", authMw, instructorMw, courseHandler.Create)
			courses.PATCH("/:id", authMw, instructorMw, courseHandler.Update)
			courses.POST("/:id/publish", authMw, instructorMw, courseHandler.Publish)
			courses.POST("/:id/lessons", authMw, instructorMw, courseHandler.AddLesson)
			courses.POST("/:id/thumbnail", authMw, instructorMw, courseHandler.UploadThumbnail)
			courses.POST("/:id/checkout", authMw, paymentHandler.Checkout)
		}

		instructor := api.Group("/instructor")
		instructor.Use(authMw, instructorMw)
		{
			instructor.GET("/courses", courseHandler.MyCourses)
			instructor.GET("/stats", courseHandler.Stats)
		}

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.GET("/enrollments", meHandler.Enrollments)
			me.GET("/payments", meHandler.Payments)
			me.GET("/notifications", meHandler.Notifications)
			me.PUT("/notifications/:id/read", meHandler.MarkNotificationRead)
		}

		// Gateway callbacks: unauthenticated by design, authenticated by the
		// HMAC signature on the parameters.
		payments := api.Group("/payments/vnpay")
		{
			payments.GET("/return", paymentHandler.Return)
			payments.POST("/return", paymentHandler.Return)
			payments.GET("/ipn", paymentHandler.IPN)
		}
	}

	r.GET("/ws/notifications", ws.UpgradeNotificationWS(&cfg.JWT, hub))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
