package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/confbackup/internal/service"
)

// ScheduleHandler 定时计划处理器
type ScheduleHandler struct {
	svc *service.ScheduleService
}

// NewScheduleHandler 创建计划处理器
func NewScheduleHandler(svc *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{svc: svc}
}

func (h *ScheduleHandler) List(c *gin.Context) {
	schedules, err := h.svc.List(c.Request.Context())
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, schedules)
}

func (h *ScheduleHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sc, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, sc)
}

// Create 新建计划
// @Summary 新建定时备份计划
// @Tags 计划
// @Router /api/schedules [post]
func (h *ScheduleHandler) Create(c *gin.Context) {
	var in service.ScheduleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidParams, "请求参数错误: "+err.Error())
		return
	}
	sc, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusCreated, sc)
}

func (h *ScheduleHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in service.ScheduleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidParams, "请求参数错误: "+err.Error())
		return
	}
	sc, err := h.svc.Update(c.Request.Context(), id, in)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, sc)
}

func (h *ScheduleHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": id})
}

// Trigger 立即执行一次计划
// @Summary 立即执行计划
// @Tags 计划
// @Router /api/schedules/{id}/run [post]
func (h *ScheduleHandler) Trigger(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.Trigger(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusCreated, res)
}

// Toggle 启用/停用计划
// @Summary 切换计划启用状态
// @Tags 计划
// @Router /api/schedules/{id}/toggle [post]
func (h *ScheduleHandler) Toggle(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sc, err := h.svc.Toggle(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, sc)
}

// Executions 计划执行记录
func (h *ScheduleHandler) Executions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	page, err := h.svc.Executions(c.Request.Context(), id, queryInt(c, "page", 1), queryInt(c, "per_page", 20))
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, page)
}
