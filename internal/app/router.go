package app

import (
	"exam_proctor_backend/docs"
	"exam_proctor_backend/internal/config"
	"exam_proctor_backend/internal/middleware"
	"exam_proctor_backend/internal/model"
	"exam_proctor_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/login", c.auth.Login)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/profile", c.auth.GetProfile)

		// 考生考试会话
		sessions := authGroup.Group("/sessions/:candidateId")
		{
			sessions.GET("", c.session.GetSession)
			sessions.POST("/start", c.session.Start)
			sessions.POST("/responses", c.session.SaveResponse)
			sessions.POST("/submit", c.session.Submit)
			sessions.POST("/proctor-logs", c.session.RecordLog)
			sessions.GET("/result", c.session.Result)
		}

		// 实时通道：考生与监考端共用，注册时区分角色
		authGroup.GET("/proctor/ws", c.proctor.Connect)
	}

	// 3. 监考管理接口
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.RoleTeacher, model.RoleAdmin))
	{
		admin.POST("/exams/:examId/candidates", c.admin.Assign)
		admin.GET("/exams/:examId/report", c.admin.Report)
		admin.POST("/candidates/:candidateId/retake", c.admin.Retake)
		admin.GET("/candidates/:candidateId/logs", c.admin.Logs)
		admin.GET("/sessions/:candidateId/preview", c.admin.Preview)
	}
}
