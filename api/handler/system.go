package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/confbackup/internal/database"
	"github.com/sshcollectorpro/confbackup/internal/service"
	"gorm.io/gorm"
)

// SystemHandler 健康检查与统计
type SystemHandler struct {
	db      *gorm.DB
	orch    *service.Orchestrator
	started time.Time
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(db *gorm.DB, orch *service.Orchestrator) *SystemHandler {
	return &SystemHandler{db: db, orch: orch, started: time.Now()}
}

// HealthStatus 健康检查结果
type HealthStatus struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	Uptime   string                 `json:"uptime"`
	DBStats  map[string]interface{} `json:"db_stats,omitempty"`
}

// Health 健康检查
// @Summary 健康检查
// @Tags 系统
// @Router /api/health [get]
func (h *SystemHandler) Health(c *gin.Context) {
	if err := database.Health(h.db); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, Failure{Success: false, Code: CodeServiceUnavailable, Error: "database unavailable: " + err.Error()})
		return
	}
	respond(c, http.StatusOK, HealthStatus{
		Status:   "healthy",
		Database: "ok",
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		DBStats:  database.GetStats(h.db),
	})
}

// Statistics 任务与存储统计
// @Summary 备份统计
// @Tags 系统
// @Router /api/backup/statistics [get]
func (h *SystemHandler) Statistics(c *gin.Context) {
	stats, err := h.orch.Statistics(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, stats)
}
