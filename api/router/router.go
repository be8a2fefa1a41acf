package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sshcollectorpro/confbackup/api/handler"
	"github.com/sshcollectorpro/confbackup/internal/service"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"gorm.io/gorm"
)

// Version 服务版本
const Version = "1.0.0"

// Services 路由依赖的服务
type Services struct {
	DB           *gorm.DB
	Orchestrator *service.Orchestrator
	Comparer     *service.Comparer
	Devices      *service.DeviceService
	Schedules    *service.ScheduleService
	// Gatherer 为空时不挂载 /metrics
	Gatherer prometheus.Gatherer
	Mode     string
}

// SetupRouter 设置路由
func SetupRouter(s Services) *gin.Engine {
	if s.Mode != "" {
		gin.SetMode(s.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	backupHandler := handler.NewBackupHandler(s.Orchestrator)
	compareHandler := handler.NewCompareHandler(s.Comparer)
	deviceHandler := handler.NewDeviceHandler(s.Devices)
	scheduleHandler := handler.NewScheduleHandler(s.Schedules)
	systemHandler := handler.NewSystemHandler(s.DB, s.Orchestrator)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "Config Backup",
			"version": Version,
			"status":  "running",
		})
	})
	if s.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		api.GET("/health", systemHandler.Health)

		backup := api.Group("/backup")
		{
			backup.POST("/execute", backupHandler.Execute)
			backup.POST("/batch", backupHandler.Batch)
			backup.GET("/recent", backupHandler.Recent)
			backup.GET("/history", backupHandler.History)
			backup.GET("/statistics", systemHandler.Statistics)
			backup.GET("/device/:deviceId", backupHandler.ListByDevice)
			backup.GET("/task/:taskId", backupHandler.GetTask)
			backup.POST("/task/:taskId/cancel", backupHandler.Cancel)
			backup.GET("/progress/:taskId", backupHandler.Progress)
			backup.GET("/download/:taskId", backupHandler.Download)
			backup.GET("/:taskId/content", backupHandler.Content)

			// 对比
			backup.POST("/compare", compareHandler.CompareBody)
			backup.GET("/compare/quick/:deviceId", compareHandler.Quick)
			backup.GET("/compare/latest/:deviceId", compareHandler.Quick)
			backup.GET("/compare/:task1Id/:task2Id", compareHandler.Compare)
		}

		devices := api.Group("/devices")
		{
			devices.GET("", deviceHandler.List)
			devices.POST("", deviceHandler.Create)
			devices.GET("/:id", deviceHandler.Get)
			devices.PUT("/:id", deviceHandler.Update)
			devices.DELETE("/:id", deviceHandler.Delete)
			devices.POST("/:id/test", deviceHandler.Test)
		}

		imports := api.Group("/import")
		{
			imports.POST("/devices", deviceHandler.Import)
			imports.GET("/template", deviceHandler.ImportTemplate)
		}

		if s.Schedules != nil {
			schedules := api.Group("/schedules")
			{
				schedules.GET("", scheduleHandler.List)
				schedules.POST("", scheduleHandler.Create)
				schedules.GET("/:id", scheduleHandler.Get)
				schedules.PUT("/:id", scheduleHandler.Update)
				schedules.DELETE("/:id", scheduleHandler.Delete)
				schedules.POST("/:id/run", scheduleHandler.Trigger)
				schedules.POST("/:id/toggle", scheduleHandler.Toggle)
				schedules.GET("/:id/executions", scheduleHandler.Executions)
			}
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handler.Failure{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "接口不存在: " + c.Request.URL.Path,
		})
	})

	return r
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("HTTP Request", kv...)
		case status >= 400:
			logger.Warn("HTTP Request", kv...)
		default:
			logger.Debug("HTTP Request", kv...)
		}
	}
}
