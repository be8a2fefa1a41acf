package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"gorm.io/gorm"
)

// BatchSubmitter 定时计划触发时提交任务
type BatchSubmitter interface {
	SubmitBatch(ctx context.Context, req BatchRequest) (*BatchResult, error)
}

// ScheduleService 定时备份计划
type ScheduleService struct {
	db        *gorm.DB
	submitter BatchSubmitter
	clock     clock.Clock
	loc       *time.Location
	enabled   bool

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[uint]cron.EntryID
	ctx     context.Context
}

// ScheduleInput 创建/更新计划
type ScheduleInput struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	CronExpression string `json:"cron_expression"`
	DeviceIDs      []uint `json:"device_ids"`
	BackupCommand  string `json:"backup_command"`
	IsActive       *bool  `json:"is_active"`
}

// NewScheduleService 创建计划服务；时区无效时返回错误
func NewScheduleService(db *gorm.DB, submitter BatchSubmitter, cfg config.ScheduleConfig, clk clock.Clock) (*ScheduleService, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule timezone %q: %w", tz, err)
		}
		loc = l
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &ScheduleService{
		db:        db,
		submitter: submitter,
		clock:     clk,
		loc:       loc,
		enabled:   cfg.Enabled,
		cron:      cron.New(cron.WithLocation(loc)),
		entries:   make(map[uint]cron.EntryID),
		ctx:       context.Background(),
	}, nil
}

// Start 注册所有启用的计划并启动 cron
func (s *ScheduleService) Start(ctx context.Context) error {
	if !s.enabled {
		logger.Info("Scheduled backups disabled")
		return nil
	}
	var schedules []model.BackupSchedule
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&schedules).Error; err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	s.mu.Lock()
	s.ctx = ctx
	for i := range schedules {
		if err := s.registerLocked(&schedules[i]); err != nil {
			logger.Warn("Skipping invalid schedule", "schedule_id", schedules[i].ID, "error", err)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	logger.Info("Backup scheduler started", "schedules", len(schedules), "timezone", s.loc.String())
	return nil
}

// Stop 停止 cron 并等待执行中的触发完成
func (s *ScheduleService) Stop() {
	<-s.cron.Stop().Done()
}

// List 全部计划
func (s *ScheduleService) List(ctx context.Context) ([]model.BackupSchedule, error) {
	schedules := []model.BackupSchedule{}
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// Get 查询计划
func (s *ScheduleService) Get(ctx context.Context, id uint) (*model.BackupSchedule, error) {
	var sc model.BackupSchedule
	if err := s.db.WithContext(ctx).First(&sc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ScheduleNotFoundError{ScheduleID: id}
		}
		return nil, fmt.Errorf("failed to load schedule %d: %w", id, err)
	}
	return &sc, nil
}

// Create 新建计划
func (s *ScheduleService) Create(ctx context.Context, in ScheduleInput) (*model.BackupSchedule, error) {
	sc := model.BackupSchedule{IsActive: true}
	sched, err := applyScheduleInput(&sc, in, true)
	if err != nil {
		return nil, err
	}
	if sc.IsActive {
		next := sched.Next(s.clock.Now().In(s.loc))
		sc.NextRun = &next
	}
	if err := s.db.WithContext(ctx).Create(&sc).Error; err != nil {
		return nil, fmt.Errorf("failed to create schedule: %w", err)
	}
	s.sync(&sc)
	logger.Info("Schedule created", "schedule_id", sc.ID, "cron", sc.CronExpression, "devices", len(sc.DeviceIDs))
	return &sc, nil
}

// Update 更新计划并重新注册
func (s *ScheduleService) Update(ctx context.Context, id uint, in ScheduleInput) (*model.BackupSchedule, error) {
	sc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sched, err := applyScheduleInput(sc, in, false)
	if err != nil {
		return nil, err
	}
	sc.NextRun = nil
	if sc.IsActive {
		next := sched.Next(s.clock.Now().In(s.loc))
		sc.NextRun = &next
	}
	if err := s.db.WithContext(ctx).Save(sc).Error; err != nil {
		return nil, fmt.Errorf("failed to update schedule %d: %w", id, err)
	}
	s.sync(sc)
	return sc, nil
}

// Delete 删除计划
func (s *ScheduleService) Delete(ctx context.Context, id uint) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&model.BackupSchedule{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete schedule %d: %w", id, err)
	}
	if err := s.db.WithContext(ctx).Where("schedule_id = ?", id).Delete(&model.ScheduleExecution{}).Error; err != nil {
		logger.Warn("Failed to delete schedule executions", "schedule_id", id, "error", err)
	}
	s.mu.Lock()
	s.unregisterLocked(id)
	s.mu.Unlock()
	logger.Info("Schedule deleted", "schedule_id", id)
	return nil
}

// Trigger 立即执行一次计划
func (s *ScheduleService) Trigger(ctx context.Context, id uint) (*BatchResult, error) {
	sc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.fire(ctx, sc, model.TriggerManual)
}

// Toggle 切换计划启用状态
func (s *ScheduleService) Toggle(ctx context.Context, id uint) (*model.BackupSchedule, error) {
	sc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sc.IsActive = !sc.IsActive
	sc.NextRun = nil
	if sc.IsActive {
		sched, err := cron.ParseStandard(sc.CronExpression)
		if err != nil {
			return nil, &ValidationError{Field: "cron_expression", Reason: err.Error()}
		}
		next := sched.Next(s.clock.Now().In(s.loc))
		sc.NextRun = &next
	}
	if err := s.db.WithContext(ctx).Save(sc).Error; err != nil {
		return nil, fmt.Errorf("failed to toggle schedule %d: %w", id, err)
	}
	s.sync(sc)
	logger.Info("Schedule toggled", "schedule_id", id, "active", sc.IsActive)
	return sc, nil
}

// ExecutionPage 计划执行记录分页
type ExecutionPage struct {
	Executions []model.ScheduleExecution `json:"executions"`
	Total      int64                     `json:"total"`
	Pages      int                       `json:"pages"`
	Page       int                       `json:"current_page"`
	PerPage    int                       `json:"per_page"`
}

// Executions 分页查询计划执行记录，最新的在前
func (s *ScheduleService) Executions(ctx context.Context, id uint, page, perPage int) (*ExecutionPage, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > maxListLimit {
		perPage = maxListLimit
	}

	q := s.db.WithContext(ctx).Model(&model.ScheduleExecution{}).Where("schedule_id = ?", id)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count schedule executions: %w", err)
	}
	executions := []model.ScheduleExecution{}
	if err := s.db.WithContext(ctx).
		Where("schedule_id = ?", id).
		Order("started_at DESC, id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&executions).Error; err != nil {
		return nil, fmt.Errorf("failed to list schedule executions: %w", err)
	}
	return &ExecutionPage{
		Executions: executions,
		Total:      total,
		Pages:      int(math.Ceil(float64(total) / float64(perPage))),
		Page:       page,
		PerPage:    perPage,
	}, nil
}

// sync 按启用状态注册或注销
func (s *ScheduleService) sync(sc *model.BackupSchedule) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(sc.ID)
	if !sc.IsActive {
		return
	}
	if err := s.registerLocked(sc); err != nil {
		logger.Warn("Failed to register schedule", "schedule_id", sc.ID, "error", err)
	}
}

func (s *ScheduleService) registerLocked(sc *model.BackupSchedule) error {
	id := sc.ID
	entry, err := s.cron.AddFunc(sc.CronExpression, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.run(ctx, id)
	})
	if err != nil {
		return err
	}
	s.entries[id] = entry
	return nil
}

func (s *ScheduleService) unregisterLocked(id uint) {
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// run cron 触发回调
func (s *ScheduleService) run(ctx context.Context, id uint) {
	sc, err := s.Get(ctx, id)
	if err != nil {
		logger.Warn("Scheduled run skipped", "schedule_id", id, "error", err)
		return
	}
	if !sc.IsActive {
		return
	}
	if _, err := s.fire(ctx, sc, model.TriggerCron); err != nil {
		logger.Error("Scheduled backup failed to submit", "schedule_id", id, "error", err)
	}
}

// fire 提交计划内所有设备的定时任务，更新 last_run/next_run 并记录执行结果
func (s *ScheduleService) fire(ctx context.Context, sc *model.BackupSchedule, trigger string) (*BatchResult, error) {
	now := s.clock.Now().In(s.loc)
	result, err := s.submitter.SubmitBatch(ctx, BatchRequest{
		DeviceIDs:     sc.DeviceIDs,
		TaskType:      model.TaskTypeScheduled,
		BackupCommand: sc.BackupCommand,
	})

	updates := map[string]interface{}{"last_run": now}
	if sched, perr := cron.ParseStandard(sc.CronExpression); perr == nil {
		updates["next_run"] = sched.Next(now)
	}
	if uerr := s.db.Model(&model.BackupSchedule{}).Where("id = ?", sc.ID).Updates(updates).Error; uerr != nil {
		logger.Warn("Failed to update schedule run times", "schedule_id", sc.ID, "error", uerr)
	}

	exec := model.ScheduleExecution{
		ScheduleID:  sc.ID,
		TriggeredBy: trigger,
		Status:      model.ExecutionSubmitted,
		TaskIDs:     model.IDList{},
		StartedAt:   now,
	}
	if err != nil {
		exec.Status = model.ExecutionFailed
		exec.Error = err.Error()
	} else {
		for _, t := range result.Tasks {
			exec.TaskIDs = append(exec.TaskIDs, t.ID)
		}
		exec.Created = len(result.Tasks)
		exec.Skipped = len(result.Skipped)
	}
	if cerr := s.db.Create(&exec).Error; cerr != nil {
		logger.Warn("Failed to record schedule execution", "schedule_id", sc.ID, "error", cerr)
	}

	if err != nil {
		return nil, err
	}
	logger.Info("Scheduled backup submitted", "schedule_id", sc.ID, "name", sc.Name, "trigger", trigger,
		"created", len(result.Tasks), "skipped", len(result.Skipped))
	return result, nil
}

func applyScheduleInput(sc *model.BackupSchedule, in ScheduleInput, create bool) (cron.Schedule, error) {
	if name := strings.TrimSpace(in.Name); name != "" {
		sc.Name = name
	} else if create {
		return nil, &ValidationError{Field: "name", Reason: "is required"}
	}
	if in.Description != "" {
		sc.Description = in.Description
	}
	if expr := strings.TrimSpace(in.CronExpression); expr != "" {
		sc.CronExpression = expr
	}
	sched, err := cron.ParseStandard(sc.CronExpression)
	if err != nil {
		return nil, &ValidationError{Field: "cron_expression", Reason: err.Error()}
	}
	if in.DeviceIDs != nil {
		sc.DeviceIDs = model.IDList(in.DeviceIDs)
	}
	if len(sc.DeviceIDs) == 0 {
		return nil, &ValidationError{Field: "device_ids", Reason: "must not be empty"}
	}
	if in.BackupCommand != "" {
		sc.BackupCommand = strings.TrimSpace(in.BackupCommand)
	}
	if in.IsActive != nil {
		sc.IsActive = *in.IsActive
	}
	return sched, nil
}
