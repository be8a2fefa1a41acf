package handler

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/confbackup/internal/service"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
)

// DeviceHandler 设备处理器
type DeviceHandler struct {
	svc *service.DeviceService
}

// NewDeviceHandler 创建设备处理器
func NewDeviceHandler(svc *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{svc: svc}
}

// List 设备列表
// @Summary 获取设备列表
// @Tags 设备
// @Param active query bool false "仅启用设备"
// @Router /api/devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	devices, err := h.svc.List(c.Request.Context(), queryBool(c, "active", false))
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, devices)
}

// Get 设备详情
func (h *DeviceHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, d)
}

// Create 新增设备
// @Summary 新增设备
// @Tags 设备
// @Router /api/devices [post]
func (h *DeviceHandler) Create(c *gin.Context) {
	var in service.DeviceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		logger.Warn("Invalid device payload", "request_id", c.GetString("request_id"), "error", err)
		fail(c, http.StatusBadRequest, CodeInvalidParams, "请求参数错误: "+err.Error())
		return
	}
	d, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusCreated, d)
}

// Update 更新设备
func (h *DeviceHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in service.DeviceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidParams, "请求参数错误: "+err.Error())
		return
	}
	d, err := h.svc.Update(c.Request.Context(), id, in)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, d)
}

// Delete 删除设备，存在备份记录时拒绝
func (h *DeviceHandler) Delete(c *gin.Context) {
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

// Test 连通性测试
// @Summary 测试设备连接
// @Tags 设备
// @Router /api/devices/{id}/test [post]
func (h *DeviceHandler) Test(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.svc.Test(c.Request.Context(), id)
	if err != nil {
		failWith(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// Import 批量导入设备
// @Summary 从 CSV 文件批量导入设备
// @Tags 设备
// @Param file formData file true "导入文件"
// @Param test_connections formData bool false "入库前测试连接"
// @Router /api/import/devices [post]
func (h *DeviceHandler) Import(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, CodeInvalidParams, "请上传导入文件: "+err.Error())
		return
	}
	f, err := fh.Open()
	if err != nil {
		failWith(c, err)
		return
	}
	defer f.Close()

	testConns, _ := strconv.ParseBool(c.PostForm("test_connections"))
	res, err := h.svc.Import(c.Request.Context(), f, service.ImportOptions{
		TestConnections: testConns,
		BackupCommand:   c.PostForm("backup_command"),
	})
	if err != nil {
		failWith(c, err)
		return
	}
	logger.Info("Device import finished", "request_id", c.GetString("request_id"), "file", fh.Filename,
		"created", res.SuccessCount, "errors", res.ErrorCount)
	respond(c, http.StatusOK, res)
}

// ImportTemplate 下载导入模板
func (h *DeviceHandler) ImportTemplate(c *gin.Context) {
	var buf bytes.Buffer
	if err := service.WriteImportTemplate(&buf); err != nil {
		failWith(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="device_template.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
