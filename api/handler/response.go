package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sshcollectorpro/confbackup/internal/artifact"
	"github.com/sshcollectorpro/confbackup/internal/service"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
)

// 错误码
const (
	CodeInvalidDevice       = "INVALID_DEVICE"
	CodeNotComparable       = "NOT_COMPARABLE"
	CodeInsufficientHistory = "INSUFFICIENT_HISTORY"
	CodeTaskNotFound        = "TASK_NOT_FOUND"
	CodeTaskNotRunning      = "TASK_NOT_RUNNING"
	CodeArtifactNotFound    = "ARTIFACT_NOT_FOUND"
	CodeDeviceNotFound      = "DEVICE_NOT_FOUND"
	CodeDeviceInUse         = "DEVICE_IN_USE"
	CodeScheduleNotFound    = "SCHEDULE_NOT_FOUND"
	CodeInvalidParams       = "INVALID_PARAMS"
	CodeInternalError       = "INTERNAL_ERROR"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
)

// Envelope 成功响应
type Envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// Failure 失败响应
type Failure struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func respond[T any](c *gin.Context, status int, data T) {
	c.JSON(status, Envelope[T]{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Failure{Success: false, Code: code, Error: message})
}

// failWith 将领域错误映射为状态码与错误码
func failWith(c *gin.Context, err error) {
	var (
		invalidDevice *service.InvalidDeviceError
		notComparable *service.NotComparableError
		insufficient  *service.InsufficientHistoryError
		taskNotFound  *service.TaskNotFoundError
		notRunning    *service.TaskNotRunningError
		devNotFound   *service.DeviceNotFoundError
		schNotFound   *service.ScheduleNotFoundError
		validation    *service.ValidationError
		conflict      *service.ConflictError
	)
	switch {
	case errors.As(err, &invalidDevice):
		fail(c, http.StatusBadRequest, CodeInvalidDevice, err.Error())
	case errors.As(err, &notComparable):
		fail(c, http.StatusBadRequest, CodeNotComparable, err.Error())
	case errors.As(err, &insufficient):
		fail(c, http.StatusBadRequest, CodeInsufficientHistory, err.Error())
	case errors.As(err, &taskNotFound):
		fail(c, http.StatusNotFound, CodeTaskNotFound, err.Error())
	case errors.As(err, &notRunning):
		fail(c, http.StatusConflict, CodeTaskNotRunning, err.Error())
	case errors.As(err, &devNotFound):
		fail(c, http.StatusNotFound, CodeDeviceNotFound, err.Error())
	case errors.As(err, &schNotFound):
		fail(c, http.StatusNotFound, CodeScheduleNotFound, err.Error())
	case errors.As(err, &validation):
		fail(c, http.StatusBadRequest, CodeInvalidParams, err.Error())
	case errors.As(err, &conflict):
		fail(c, http.StatusBadRequest, CodeDeviceInUse, err.Error())
	case errors.Is(err, artifact.ErrArtifactNotFound):
		fail(c, http.StatusNotFound, CodeArtifactNotFound, err.Error())
	default:
		logger.Error("Request failed", "request_id", c.GetString("request_id"), "path", c.Request.URL.Path, "error", err)
		fail(c, http.StatusInternalServerError, CodeInternalError, "internal server error")
	}
}

// pathID 解析路径中的数字 ID
func pathID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || v == 0 {
		fail(c, http.StatusBadRequest, CodeInvalidParams, "invalid "+name+": "+c.Param(name))
		return 0, false
	}
	return uint(v), true
}

// queryInt 解析查询参数，缺省或非法时返回默认值
func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

func queryBool(c *gin.Context, name string, def bool) bool {
	v, err := strconv.ParseBool(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
