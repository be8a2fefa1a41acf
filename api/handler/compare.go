package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/confbackup/internal/service"
)

// CompareHandler 备份对比处理器
type CompareHandler struct {
	comparer *service.Comparer
}

// NewCompareHandler 创建对比处理器
func NewCompareHandler(comparer *service.Comparer) *CompareHandler {
	return &CompareHandler{comparer: comparer}
}

// CompareRequest POST 对比请求
type CompareRequest struct {
	FirstBackupID    uint `json:"first_backup_id" binding:"required"`
	SecondBackupID   uint `json:"second_backup_id" binding:"required"`
	IgnoreWhitespace bool `json:"ignore_whitespace"`
	IgnoreCase       bool `json:"ignore_case"`
}

func compareOptions(c *gin.Context) service.CompareOptions {
	return service.CompareOptions{
		IgnoreWhitespace: queryBool(c, "ignore_whitespace", false),
		IgnoreCase:       queryBool(c, "ignore_case", false),
	}
}

// Compare 对比两次备份，task1 为旧版本
// @Summary 备份对比
// @Tags 对比
// @Param task1Id path int true "旧任务"
// @Param task2Id path int true "新任务"
// @Router /api/backup/compare/{task1Id}/{task2Id} [get]
func (h *CompareHandler) Compare(c *gin.Context) {
	id1, ok := pathID(c, "task1Id")
	if !ok {
		return
	}
	id2, ok := pathID(c, "task2Id")
	if !ok {
		return
	}
	res, err := h.comparer.Compare(c.Request.Context(), id1, id2, compareOptions(c))
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// CompareBody 请求体形式的对比
func (h *CompareHandler) CompareBody(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidParams, "请求参数错误: "+err.Error())
		return
	}
	res, err := h.comparer.Compare(c.Request.Context(), req.FirstBackupID, req.SecondBackupID, service.CompareOptions{
		IgnoreWhitespace: req.IgnoreWhitespace,
		IgnoreCase:       req.IgnoreCase,
	})
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// Quick 设备最近两次成功备份的对比
// @Summary 快速对比
// @Tags 对比
// @Router /api/backup/compare/quick/{deviceId} [get]
func (h *CompareHandler) Quick(c *gin.Context) {
	id, ok := pathID(c, "deviceId")
	if !ok {
		return
	}
	res, err := h.comparer.QuickCompare(c.Request.Context(), id, compareOptions(c))
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}
