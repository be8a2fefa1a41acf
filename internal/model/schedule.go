package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// IDList 以 JSON 文本存储的设备 ID 列表
type IDList []uint

// Value 实现 driver.Valuer
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]uint(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (l *IDList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = IDList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported device_ids type %T", src)
	}
	if len(raw) == 0 {
		*l = IDList{}
		return nil
	}
	var ids []uint
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("invalid device_ids: %w", err)
	}
	*l = ids
	return nil
}

// BackupSchedule 定时备份计划
type BackupSchedule struct {
	ID             uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Name           string     `json:"name" gorm:"type:varchar(100);not null"`
	Description    string     `json:"description" gorm:"type:text"`
	CronExpression string     `json:"cron_expression" gorm:"type:varchar(100);not null"`
	DeviceIDs      IDList     `json:"device_ids" gorm:"column:device_ids;type:text"`
	BackupCommand  string     `json:"backup_command" gorm:"type:varchar(200)"`
	IsActive       bool       `json:"is_active" gorm:"not null"`
	LastRun        *time.Time `json:"last_run"`
	NextRun        *time.Time `json:"next_run"`
	CreatedAt      time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (BackupSchedule) TableName() string {
	return "backup_schedules"
}

// 计划执行的触发方式
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// 计划执行结果
const (
	ExecutionSubmitted = "submitted"
	ExecutionFailed    = "failed"
)

// ScheduleExecution 计划每次触发的记录
type ScheduleExecution struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ScheduleID  uint      `json:"schedule_id" gorm:"not null;index"`
	TriggeredBy string    `json:"triggered_by" gorm:"type:varchar(10);not null"`
	Status      string    `json:"status" gorm:"type:varchar(20);not null"`
	TaskIDs     IDList    `json:"task_ids" gorm:"column:task_ids;type:text"`
	Created     int       `json:"created"`
	Skipped     int       `json:"skipped"`
	Error       string    `json:"error,omitempty" gorm:"type:text"`
	StartedAt   time.Time `json:"started_at" gorm:"not null;index"`
}

// TableName 表名
func (ScheduleExecution) TableName() string {
	return "schedule_executions"
}
