package service

import (
	"errors"
	"fmt"
)

// ErrTaskCancelled 运行中的任务被外部取消
var ErrTaskCancelled = errors.New("task cancelled")

// ErrWatchdog 任务运行时间超过上限被看门狗终止
var ErrWatchdog = errors.New("task exceeded maximum running duration")

// InvalidDeviceError 设备不存在或未启用，提交被拒绝且不创建任务
type InvalidDeviceError struct {
	DeviceID uint
	Reason   string
}

func (e *InvalidDeviceError) Error() string {
	return fmt.Sprintf("invalid device %d: %s", e.DeviceID, e.Reason)
}

// NotComparableError 任务未成功、备份文件缺失或内容超出比较上限
type NotComparableError struct {
	TaskID uint
	Reason string
}

func (e *NotComparableError) Error() string {
	if e.TaskID == 0 {
		return "tasks not comparable: " + e.Reason
	}
	return fmt.Sprintf("task %d not comparable: %s", e.TaskID, e.Reason)
}

// InsufficientHistoryError 设备成功备份不足两次
type InsufficientHistoryError struct {
	DeviceID  uint
	Available int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("device %d has %d successful backup(s), at least 2 required", e.DeviceID, e.Available)
}

// TaskNotFoundError 任务不存在
type TaskNotFoundError struct {
	TaskID uint
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %d not found", e.TaskID)
}

// TaskNotRunningError 仅 running 状态的任务可以取消
type TaskNotRunningError struct {
	TaskID uint
	Status string
}

func (e *TaskNotRunningError) Error() string {
	return fmt.Sprintf("task %d is %s, not running", e.TaskID, e.Status)
}

// DeviceNotFoundError 设备管理接口使用
type DeviceNotFoundError struct {
	DeviceID uint
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %d not found", e.DeviceID)
}

// ScheduleNotFoundError 定时计划不存在
type ScheduleNotFoundError struct {
	ScheduleID uint
}

func (e *ScheduleNotFoundError) Error() string {
	return fmt.Sprintf("schedule %d not found", e.ScheduleID)
}

// ValidationError 请求参数不合法
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError 操作与现有数据冲突（如删除仍有备份记录的设备）
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}
