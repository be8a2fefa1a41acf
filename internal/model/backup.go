package model

import (
	"encoding/json"
	"time"
)

// TaskStatus 备份任务状态
const (
	TaskStatusPending = "pending"
	TaskStatusRunning = "running"
	TaskStatusSuccess = "success"
	TaskStatusFailed  = "failed"
)

// TaskType 备份任务类型
const (
	TaskTypeManual    = "manual"
	TaskTypeScheduled = "scheduled"
)

// IsTerminalStatus 终态判断
func IsTerminalStatus(status string) bool {
	return status == TaskStatusSuccess || status == TaskStatusFailed
}

// ValidTaskType 任务类型校验
func ValidTaskType(t string) bool {
	return t == TaskTypeManual || t == TaskTypeScheduled
}

// BackupTask 备份任务
// file_* 字段仅在 success 时设置，error_message 仅在 failed 时设置
type BackupTask struct {
	ID            uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	DeviceID      uint       `json:"device_id" gorm:"not null;index"`
	TaskType      string     `json:"task_type" gorm:"type:varchar(20);not null;default:'manual'"`
	Status        string     `json:"status" gorm:"type:varchar(20);not null;default:'pending';index"`
	BackupCommand string     `json:"backup_command" gorm:"type:varchar(200)"`
	FilePath      *string    `json:"file_path" gorm:"type:varchar(500)"`
	FileSize      *int64     `json:"file_size"`
	FileHash      *string    `json:"file_hash" gorm:"type:varchar(64);index"`
	ErrorMessage  *string    `json:"error_message" gorm:"type:text"`
	RetryCount    int        `json:"retry_count" gorm:"not null;default:0"`
	MaxRetries    int        `json:"max_retries" gorm:"not null;default:3"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	StartedAt     *time.Time `json:"started_at" gorm:"index"`
	CompletedAt   *time.Time `json:"completed_at"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	// 以下字段不落库，查询时按设备填充
	DeviceAlias string `json:"-" gorm:"-"`
	DeviceIP    string `json:"-" gorm:"-"`
}

// TableName 表名
func (BackupTask) TableName() string {
	return "backup_tasks"
}

// DurationSeconds 执行时长（秒），未完成时为 nil
func (t *BackupTask) DurationSeconds() *float64 {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return nil
	}
	d := t.CompletedAt.Sub(*t.StartedAt).Seconds()
	return &d
}

// MarshalJSON 附加 duration 与设备展示字段
func (t BackupTask) MarshalJSON() ([]byte, error) {
	type alias BackupTask
	var devAlias, devIP *string
	if t.DeviceAlias != "" {
		devAlias = &t.DeviceAlias
	}
	if t.DeviceIP != "" {
		devIP = &t.DeviceIP
	}
	return json.Marshal(struct {
		alias
		DeviceAlias *string  `json:"device_alias"`
		DeviceIP    *string  `json:"device_ip"`
		Duration    *float64 `json:"duration"`
	}{
		alias:       alias(t),
		DeviceAlias: devAlias,
		DeviceIP:    devIP,
		Duration:    t.DurationSeconds(),
	})
}

// 任务日志级别
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
	LogLevelDebug   = "debug"
)

// TaskLog 备份任务日志
type TaskLog struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TaskID    uint      `json:"task_id" gorm:"not null;index"`
	Level     string    `json:"level" gorm:"type:varchar(20);not null;default:'info'"`
	Message   string    `json:"message" gorm:"type:text;not null"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`
}

// TableName 表名
func (TaskLog) TableName() string {
	return "backup_logs"
}
