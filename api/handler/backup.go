package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/internal/service"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
)

// BackupHandler 备份任务处理器
type BackupHandler struct {
	orch *service.Orchestrator
}

// NewBackupHandler 创建备份任务处理器
func NewBackupHandler(orch *service.Orchestrator) *BackupHandler {
	return &BackupHandler{orch: orch}
}

// ContentResponse 备份内容
type ContentResponse struct {
	Task     *model.BackupTask `json:"task"`
	Content  string            `json:"content"`
	Encoding string            `json:"encoding"`
	Lines    int               `json:"lines"`
}

// Execute 提交单设备备份
// @Summary 执行备份
// @Tags 备份
// @Accept json
// @Produce json
// @Param request body service.SubmitRequest true "备份请求"
// @Success 201 {object} Envelope[model.BackupTask]
// @Router /api/backup/execute [post]
func (h *BackupHandler) Execute(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid backup request", "request_id", c.GetString("request_id"), "error", err)
		fail(c, http.StatusBadRequest, CodeInvalidParams, "请求参数错误: "+err.Error())
		return
	}
	task, err := h.orch.Submit(c.Request.Context(), req)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusCreated, task)
}

// Batch 批量提交备份
// @Summary 批量备份
// @Tags 备份
// @Router /api/backup/batch [post]
func (h *BackupHandler) Batch(c *gin.Context) {
	var req service.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidParams, "请求参数错误: "+err.Error())
		return
	}
	res, err := h.orch.SubmitBatch(c.Request.Context(), req)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusCreated, res)
}

// GetTask 查询任务
func (h *BackupHandler) GetTask(c *gin.Context) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	task, err := h.orch.Get(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, task)
}

// Cancel 取消运行中的任务
// @Summary 取消任务
// @Tags 备份
// @Router /api/backup/task/{taskId}/cancel [post]
func (h *BackupHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	if err := h.orch.Cancel(c.Request.Context(), id); err != nil {
		failWith(c, err)
		return
	}
	task, err := h.orch.Get(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, task)
}

// Progress 任务进度
func (h *BackupHandler) Progress(c *gin.Context) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	p, err := h.orch.Progress(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, p)
}

// ListByDevice 设备备份历史
func (h *BackupHandler) ListByDevice(c *gin.Context) {
	id, ok := pathID(c, "deviceId")
	if !ok {
		return
	}
	tasks, err := h.orch.ListByDevice(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, tasks)
}

// Recent 最近任务
func (h *BackupHandler) Recent(c *gin.Context) {
	tasks, err := h.orch.Recent(c.Request.Context(), queryInt(c, "limit", 0))
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, tasks)
}

// History 分页历史
func (h *BackupHandler) History(c *gin.Context) {
	page, err := h.orch.History(c.Request.Context(), queryInt(c, "page", 1), queryInt(c, "per_page", 20))
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, page)
}

// Content 备份文本
func (h *BackupHandler) Content(c *gin.Context) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	content, err := h.orch.Content(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, ContentResponse{
		Task:     content.Task,
		Content:  content.Content,
		Encoding: content.Encoding,
		Lines:    content.Lines,
	})
}

// Download 以附件形式下载备份
// @Summary 下载备份文件
// @Tags 备份
// @Produce plain
// @Router /api/backup/download/{taskId} [get]
func (h *BackupHandler) Download(c *gin.Context) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	content, err := h.orch.Content(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(content)))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(content.Content))
}

// downloadName <别名或IP>_<完成时间>_backup.txt
func downloadName(content *service.Content) string {
	name := fmt.Sprintf("device-%d", content.Task.DeviceID)
	if content.Device != nil && content.Device.DisplayName() != "" {
		name = content.Device.DisplayName()
	}
	stamp := content.Task.CreatedAt
	if content.Task.CompletedAt != nil {
		stamp = *content.Task.CompletedAt
	}
	return fmt.Sprintf("%s_%s_backup.txt", name, stamp.Format("20060102_150405"))
}
