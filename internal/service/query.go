package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sshcollectorpro/confbackup/internal/artifact"
	"github.com/sshcollectorpro/confbackup/internal/diff"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/internal/util"
	"gorm.io/gorm"
)

// 最近任务排序：未派发的任务按创建时间参与排序
const recentOrder = "COALESCE(started_at, created_at) DESC, id DESC"

const maxListLimit = 100

// Get 按 ID 查询任务
func (o *Orchestrator) Get(ctx context.Context, taskID uint) (*model.BackupTask, error) {
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	tasks := []model.BackupTask{*task}
	if err := o.attachDevices(ctx, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

// ListByDevice 设备的全部任务，最新在前
func (o *Orchestrator) ListByDevice(ctx context.Context, deviceID uint) ([]model.BackupTask, error) {
	tasks := []model.BackupTask{}
	if err := o.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order(recentOrder).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks of device %d: %w", deviceID, err)
	}
	if err := o.attachDevices(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Recent 全局最近 limit 个任务；limit<=0 时使用配置值
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]model.BackupTask, error) {
	if limit <= 0 {
		limit = o.limits().RecentLimit
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	tasks := []model.BackupTask{}
	if err := o.db.WithContext(ctx).Order(recentOrder).Limit(limit).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent tasks: %w", err)
	}
	if err := o.attachDevices(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// HistoryPage 分页历史
type HistoryPage struct {
	Tasks   []model.BackupTask `json:"tasks"`
	Total   int64              `json:"total"`
	Pages   int                `json:"pages"`
	Page    int                `json:"current_page"`
	PerPage int                `json:"per_page"`
}

// History 分页查询全部任务
func (o *Orchestrator) History(ctx context.Context, page, perPage int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > maxListLimit {
		perPage = maxListLimit
	}

	var total int64
	if err := o.db.WithContext(ctx).Model(&model.BackupTask{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	tasks := []model.BackupTask{}
	if err := o.db.WithContext(ctx).
		Order(recentOrder).
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list task history: %w", err)
	}
	if err := o.attachDevices(ctx, tasks); err != nil {
		return nil, err
	}
	return &HistoryPage{
		Tasks:   tasks,
		Total:   total,
		Pages:   int(math.Ceil(float64(total) / float64(perPage))),
		Page:    page,
		PerPage: perPage,
	}, nil
}

// Progress 任务进度：状态与最近 10 条日志
type Progress struct {
	TaskID        uint            `json:"task_id"`
	Status        string          `json:"status"`
	RetryCount    int             `json:"retry_count"`
	MaxRetries    int             `json:"max_retries"`
	StartedAt     *time.Time      `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	NextAttemptAt *time.Time      `json:"next_attempt_at"`
	ErrorMessage  *string         `json:"error_message"`
	Logs          []model.TaskLog `json:"logs"`
}

// Progress 查询任务进度
func (o *Orchestrator) Progress(ctx context.Context, taskID uint) (*Progress, error) {
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	logs := []model.TaskLog{}
	if err := o.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("timestamp DESC, id DESC").
		Limit(10).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to load task logs: %w", err)
	}
	return &Progress{
		TaskID:        task.ID,
		Status:        task.Status,
		RetryCount:    task.RetryCount,
		MaxRetries:    task.MaxRetries,
		StartedAt:     task.StartedAt,
		CompletedAt:   task.CompletedAt,
		NextAttemptAt: task.NextAttemptAt,
		ErrorMessage:  task.ErrorMessage,
		Logs:          logs,
	}, nil
}

// Statistics 任务与存储统计
type Statistics struct {
	TotalTasks      int64   `json:"total_tasks"`
	PendingTasks    int64   `json:"pending_tasks"`
	RunningTasks    int64   `json:"running_tasks"`
	SuccessTasks    int64   `json:"success_tasks"`
	FailedTasks     int64   `json:"failed_tasks"`
	SuccessRate     float64 `json:"success_rate"`
	TotalSize       int64   `json:"total_size"`
	TotalSizeHuman  string  `json:"total_size_human"`
	StoredArtifacts int64   `json:"stored_artifacts"`
	StoredBytes     int64   `json:"stored_bytes"`
	TotalDevices    int64   `json:"total_devices"`
	ActiveDevices   int64   `json:"active_devices"`
}

// Statistics 汇总统计
func (o *Orchestrator) Statistics(ctx context.Context) (*Statistics, error) {
	db := o.db.WithContext(ctx)
	stats := &Statistics{}

	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&model.BackupTask{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	for _, r := range rows {
		stats.TotalTasks += r.Count
		switch r.Status {
		case model.TaskStatusPending:
			stats.PendingTasks = r.Count
		case model.TaskStatusRunning:
			stats.RunningTasks = r.Count
		case model.TaskStatusSuccess:
			stats.SuccessTasks = r.Count
		case model.TaskStatusFailed:
			stats.FailedTasks = r.Count
		}
	}
	if stats.TotalTasks > 0 {
		stats.SuccessRate = math.Round(float64(stats.SuccessTasks)/float64(stats.TotalTasks)*10000) / 100
	}

	if err := db.Model(&model.BackupTask{}).
		Where("status = ?", model.TaskStatusSuccess).
		Select("COALESCE(SUM(file_size), 0)").
		Scan(&stats.TotalSize).Error; err != nil {
		return nil, fmt.Errorf("failed to sum backup size: %w", err)
	}
	stats.TotalSizeHuman = humanize.Bytes(uint64(stats.TotalSize))

	count, bytes, err := o.artifacts.Usage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact usage: %w", err)
	}
	stats.StoredArtifacts = count
	stats.StoredBytes = bytes

	if err := db.Model(&model.Device{}).Count(&stats.TotalDevices).Error; err != nil {
		return nil, fmt.Errorf("failed to count devices: %w", err)
	}
	if err := db.Model(&model.Device{}).Where("is_active = ?", true).Count(&stats.ActiveDevices).Error; err != nil {
		return nil, fmt.Errorf("failed to count active devices: %w", err)
	}
	return stats, nil
}

// Content 成功任务的备份文本
type Content struct {
	Task     *model.BackupTask `json:"-"`
	Device   *model.Device     `json:"-"`
	Content  string            `json:"content"`
	Encoding string            `json:"encoding"`
	Lines    int               `json:"lines"`
}

// Content 读取任务对应的快照；任务未成功或快照缺失时返回 artifact.ErrArtifactNotFound
func (o *Orchestrator) Content(ctx context.Context, taskID uint) (*Content, error) {
	snap, err := loadSnapshot(ctx, o.db, o.artifacts, taskID)
	if err != nil {
		return nil, err
	}
	text, enc := util.DecodeText(snap.data)
	return &Content{Task: snap.task, Device: snap.device, Content: text, Encoding: enc, Lines: diff.LineCount(text)}, nil
}

type snapshot struct {
	task   *model.BackupTask
	device *model.Device
	data   []byte
}

// loadSnapshot 读取成功任务的原始快照字节
func loadSnapshot(ctx context.Context, db *gorm.DB, store *artifact.Store, taskID uint) (*snapshot, error) {
	var task model.BackupTask
	if err := db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("failed to load task %d: %w", taskID, err)
	}
	device := model.Device{ID: task.DeviceID}
	if err := db.WithContext(ctx).First(&device, task.DeviceID).Error; err == nil {
		task.DeviceAlias = device.Alias
		task.DeviceIP = device.IPAddress
	}
	snap := &snapshot{task: &task, device: &device}
	if task.Status != model.TaskStatusSuccess || task.FileHash == nil {
		return snap, fmt.Errorf("%w: task %d is %s", artifact.ErrArtifactNotFound, taskID, task.Status)
	}
	data, err := store.Get(ctx, *task.FileHash)
	if err != nil {
		return snap, err
	}
	snap.data = data
	return snap, nil
}

// attachDevices 填充任务的设备别名与地址
func (o *Orchestrator) attachDevices(ctx context.Context, tasks []model.BackupTask) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(tasks))
	seen := make(map[uint]struct{}, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.DeviceID]; !ok {
			seen[t.DeviceID] = struct{}{}
			ids = append(ids, t.DeviceID)
		}
	}
	var devices []model.Device
	if err := o.db.WithContext(ctx).Select("id", "alias", "ip_address").Where("id IN ?", ids).Find(&devices).Error; err != nil {
		return fmt.Errorf("failed to load devices: %w", err)
	}
	byID := make(map[uint]model.Device, len(devices))
	for _, d := range devices {
		byID[d.ID] = d
	}
	for i := range tasks {
		if d, ok := byID[tasks[i].DeviceID]; ok {
			tasks[i].DeviceAlias = d.Alias
			tasks[i].DeviceIP = d.IPAddress
		}
	}
	return nil
}

// IsNotFound 判断是否为资源不存在类错误
func IsNotFound(err error) bool {
	var tnf *TaskNotFoundError
	var dnf *DeviceNotFoundError
	var snf *ScheduleNotFoundError
	return errors.As(err, &tnf) || errors.As(err, &dnf) || errors.As(err, &snf) ||
		errors.Is(err, artifact.ErrArtifactNotFound)
}
