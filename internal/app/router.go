package app

import (
	"mockexam_backend/docs"
	"mockexam_backend/internal/config"
	"mockexam_backend/internal/middleware"
	"mockexam_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		exam := authGroup.Group("/exam")
		{
			exam.POST("/attempts", c.exam.StartExam)
			exam.GET("/attempts", c.exam.ListAttempts)
			exam.GET("/attempts/active", c.exam.GetActiveExam)
			exam.PUT("/attempts/answers", c.exam.SaveAnswer)
			exam.PUT("/attempts/review", c.exam.ToggleReview)
			exam.PUT("/attempts/time", c.exam.AccrueTime)
			exam.POST("/attempts/violations", c.exam.ReportViolation)
			exam.POST("/attempts/submit", c.exam.SubmitExam)
			exam.POST("/attempts/abandon", c.exam.AbandonExam)
			exam.GET("/attempts/:id/result", c.exam.GetResult)
			exam.GET("/ws", c.exam.ServeWS)
		}
	}
}
