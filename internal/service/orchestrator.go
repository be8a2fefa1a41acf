package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/sshcollectorpro/confbackup/internal/artifact"
	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/connector"
	"github.com/sshcollectorpro/confbackup/internal/database"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

const (
	// transitionAttempts 状态迁移遇到 SQLite 锁冲突时的重试次数
	transitionAttempts = 5
	// sessionGrace 尝试结束后连接器仍未退出时的告警间隔
	sessionGrace = 10 * time.Second
)

// OrchestratorConfig 编排器依赖
type OrchestratorConfig struct {
	DB        *gorm.DB
	Connector connector.Connector
	Artifacts *artifact.Store
	Backup    config.BackupConfig
	// Clock 为空时使用系统时钟
	Clock   clock.Clock
	Metrics *Collector
}

// Validate 校验依赖
func (c OrchestratorConfig) Validate() error {
	if c.DB == nil {
		return errors.New("nil DB not valid")
	}
	if c.Connector == nil {
		return errors.New("nil Connector not valid")
	}
	if c.Artifacts == nil {
		return errors.New("nil Artifacts not valid")
	}
	if c.Backup.MaxRetries < 1 {
		return fmt.Errorf("max retries %d not valid", c.Backup.MaxRetries)
	}
	if c.Backup.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent %d not valid", c.Backup.MaxConcurrent)
	}
	return nil
}

// Orchestrator 备份任务编排：排队、派发、尝试、重试与取消
//
// 任务状态只由编排器修改，所有状态迁移均为带 status 条件的更新。
// 同一设备同一时刻最多一个运行中的尝试，全局并发由信号量限制。
type Orchestrator struct {
	db        *gorm.DB
	conn      connector.Connector
	artifacts *artifact.Store
	clock     clock.Clock
	metrics   *Collector

	mu       sync.Mutex
	cfg      config.BackupConfig
	sem      *semaphore.Weighted
	queue    []queueEntry
	queued   map[uint]struct{}
	seq      uint64
	devices  map[uint]*attempt
	attempts map[uint]*attempt
	started  bool
	cancel   context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup
}

// queueEntry 待派发任务；seq 决定先后，重试重新入队时取新序号
type queueEntry struct {
	taskID    uint
	deviceID  uint
	notBefore time.Time
	seq       uint64
}

// attempt 一次运行中的尝试，同时充当设备锁；连接器协程退出前不释放
type attempt struct {
	taskID    uint
	deviceID  uint
	startedAt time.Time
	cancel    context.CancelCauseFunc
	sem       *semaphore.Weighted
	// draining 任务已离开 running，等待连接器退出
	draining bool
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Orchestrator{
		db:        cfg.DB,
		conn:      cfg.Connector,
		artifacts: cfg.Artifacts,
		clock:     clk,
		metrics:   cfg.Metrics,
		cfg:       cfg.Backup,
		sem:       semaphore.NewWeighted(int64(cfg.Backup.MaxConcurrent)),
		queued:    make(map[uint]struct{}),
		devices:   make(map[uint]*attempt),
		attempts:  make(map[uint]*attempt),
		wake:      make(chan struct{}, 1),
	}, nil
}

// Start 恢复遗留任务并启动派发与看门狗协程
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.started = true
	o.cancel = cancel
	o.mu.Unlock()

	if err := o.recoverTasks(runCtx); err != nil {
		cancel()
		o.mu.Lock()
		o.started = false
		o.mu.Unlock()
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	o.wg.Add(2)
	go o.dispatchLoop(runCtx)
	go o.watchdogLoop(runCtx)

	logger.Info("Backup orchestrator started",
		"max_concurrent", o.limits().MaxConcurrent,
		"attempt_timeout", o.limits().AttemptTimeout.String())
	return nil
}

// Stop 取消运行中的尝试并等待全部协程退出
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	logger.Info("Backup orchestrator stopped")
}

// SetLimits 热更新编排参数；并发上限变化时新派发的尝试使用新信号量
func (o *Orchestrator) SetLimits(cfg config.BackupConfig) {
	if cfg.MaxRetries < 1 || cfg.MaxConcurrent < 1 {
		logger.Warn("Ignoring invalid backup limits", "max_retries", cfg.MaxRetries, "max_concurrent", cfg.MaxConcurrent)
		return
	}
	o.mu.Lock()
	if cfg.MaxConcurrent != o.cfg.MaxConcurrent {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	o.cfg = cfg
	o.mu.Unlock()
	o.signal()
	logger.Info("Backup limits updated", "max_concurrent", cfg.MaxConcurrent, "max_retries", cfg.MaxRetries)
}

func (o *Orchestrator) limits() config.BackupConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// SubmitRequest 提交备份任务
type SubmitRequest struct {
	DeviceID      uint   `json:"device_id" binding:"required"`
	TaskType      string `json:"task_type"`
	BackupCommand string `json:"backup_command"`
	// MaxRetries 为 0 时使用配置默认值
	MaxRetries int `json:"max_retries"`
}

// Submit 创建 pending 任务并入队；设备不存在或未启用时不创建任何记录
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*model.BackupTask, error) {
	taskType := strings.ToLower(strings.TrimSpace(req.TaskType))
	if taskType == "" {
		taskType = model.TaskTypeManual
	}
	if !model.ValidTaskType(taskType) {
		return nil, &ValidationError{Field: "task_type", Reason: fmt.Sprintf("unsupported value %q", req.TaskType)}
	}
	if req.MaxRetries < 0 {
		return nil, &ValidationError{Field: "max_retries", Reason: "must be >= 1"}
	}

	device, err := o.activeDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	limits := o.limits()
	command := strings.TrimSpace(req.BackupCommand)
	if command == "" {
		command = strings.TrimSpace(device.BackupCommand)
	}
	if command == "" {
		command = limits.DefaultCommand
	}
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = limits.MaxRetries
	}

	task := model.BackupTask{
		DeviceID:      device.ID,
		TaskType:      taskType,
		Status:        model.TaskStatusPending,
		BackupCommand: command,
		RetryCount:    0,
		MaxRetries:    maxRetries,
	}
	err = database.WithRetry(o.db.WithContext(ctx), func(db *gorm.DB) error {
		return db.Create(&task).Error
	}, transitionAttempts, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup task: %w", err)
	}
	task.DeviceAlias = device.Alias
	task.DeviceIP = device.IPAddress

	o.logTask(task.ID, model.LogLevelInfo, fmt.Sprintf("%s backup task created for %s, command %q, max retries %d",
		taskType, device.DisplayName(), command, maxRetries))
	if o.metrics != nil {
		o.metrics.submitted.WithLabelValues(taskType).Inc()
	}

	o.enqueue(task.ID, task.DeviceID, o.clock.Now())
	return &task, nil
}

// BatchRequest 批量提交
type BatchRequest struct {
	DeviceIDs     []uint `json:"device_ids" binding:"required"`
	TaskType      string `json:"task_type"`
	BackupCommand string `json:"backup_command"`
	MaxRetries    int    `json:"max_retries"`
}

// BatchSkip 未创建任务的设备
type BatchSkip struct {
	DeviceID uint   `json:"device_id"`
	Reason   string `json:"reason"`
}

// BatchResult 批量提交结果，顺序与请求一致
type BatchResult struct {
	Tasks   []model.BackupTask `json:"tasks"`
	Skipped []BatchSkip        `json:"skipped"`
}

// SubmitBatch 为每个有效设备提交一个任务，无效设备跳过
func (o *Orchestrator) SubmitBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	ids := make([]uint, 0, len(req.DeviceIDs))
	seen := make(map[uint]struct{}, len(req.DeviceIDs))
	for _, id := range req.DeviceIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, &ValidationError{Field: "device_ids", Reason: "must not be empty"}
	}

	tasks := make([]*model.BackupTask, len(ids))
	skips := make([]*BatchSkip, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			task, err := o.Submit(gctx, SubmitRequest{
				DeviceID:      id,
				TaskType:      req.TaskType,
				BackupCommand: req.BackupCommand,
				MaxRetries:    req.MaxRetries,
			})
			var invalid *InvalidDeviceError
			switch {
			case err == nil:
				tasks[i] = task
			case errors.As(err, &invalid):
				skips[i] = &BatchSkip{DeviceID: id, Reason: invalid.Reason}
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &BatchResult{Tasks: []model.BackupTask{}, Skipped: []BatchSkip{}}
	for i := range ids {
		if tasks[i] != nil {
			result.Tasks = append(result.Tasks, *tasks[i])
		}
		if skips[i] != nil {
			result.Skipped = append(result.Skipped, *skips[i])
		}
	}
	logger.Info("Batch backup submitted", "requested", len(ids), "created", len(result.Tasks), "skipped", len(result.Skipped))
	return result, nil
}

// Cancel 取消运行中的任务；取消计为一次失败尝试
func (o *Orchestrator) Cancel(ctx context.Context, taskID uint) error {
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != model.TaskStatusRunning {
		return &TaskNotRunningError{TaskID: taskID, Status: task.Status}
	}

	o.mu.Lock()
	a, ok := o.attempts[taskID]
	o.mu.Unlock()
	if ok {
		o.logTask(taskID, model.LogLevelWarning, "cancellation requested")
		a.cancel(ErrTaskCancelled)
		return nil
	}

	// 没有执行协程的 running 记录直接按失败尝试处理
	o.failAttempt(task, ErrTaskCancelled)
	return nil
}

func (o *Orchestrator) activeDevice(ctx context.Context, deviceID uint) (*model.Device, error) {
	if deviceID == 0 {
		return nil, &InvalidDeviceError{DeviceID: deviceID, Reason: "device id is required"}
	}
	var device model.Device
	if err := o.db.WithContext(ctx).First(&device, deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &InvalidDeviceError{DeviceID: deviceID, Reason: "device does not exist"}
		}
		return nil, fmt.Errorf("failed to load device %d: %w", deviceID, err)
	}
	if !device.IsActive {
		return nil, &InvalidDeviceError{DeviceID: deviceID, Reason: "device is inactive"}
	}
	return &device, nil
}

func (o *Orchestrator) loadTask(ctx context.Context, taskID uint) (*model.BackupTask, error) {
	var task model.BackupTask
	if err := o.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("failed to load task %d: %w", taskID, err)
	}
	return &task, nil
}

// enqueue 加入派发队列；同一任务只排队一次
func (o *Orchestrator) enqueue(taskID, deviceID uint, notBefore time.Time) {
	o.mu.Lock()
	if _, ok := o.queued[taskID]; ok {
		o.mu.Unlock()
		return
	}
	o.seq++
	o.queue = append(o.queue, queueEntry{taskID: taskID, deviceID: deviceID, notBefore: notBefore, seq: o.seq})
	o.queued[taskID] = struct{}{}
	if o.metrics != nil {
		o.metrics.queued.Set(float64(len(o.queue)))
	}
	o.mu.Unlock()
	o.signal()
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) dispatchLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		wait := o.dispatch(ctx)

		var timer clock.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = o.clock.NewTimer(wait)
			fire = timer.Chan()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-o.wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// dispatch 按队列顺序派发可运行的任务，返回下一个退避到期前需要等待的时长
func (o *Orchestrator) dispatch(ctx context.Context) time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()

	if ctx.Err() != nil {
		return 0
	}

	now := o.clock.Now()
	var wait time.Duration
	kept := make([]queueEntry, 0, len(o.queue))
	for i, e := range o.queue {
		if e.notBefore.After(now) {
			if d := e.notBefore.Sub(now); wait == 0 || d < wait {
				wait = d
			}
			kept = append(kept, e)
			continue
		}
		if _, busy := o.devices[e.deviceID]; busy {
			kept = append(kept, e)
			continue
		}
		if !o.sem.TryAcquire(1) {
			kept = append(kept, o.queue[i:]...)
			break
		}
		delete(o.queued, e.taskID)
		o.launch(ctx, e, now)
	}
	o.queue = kept

	if o.metrics != nil {
		o.metrics.queued.Set(float64(len(o.queue)))
		o.metrics.running.Set(float64(len(o.attempts)))
	}
	return wait
}

// launch 占用设备锁并启动尝试协程，调用方持有 o.mu
func (o *Orchestrator) launch(ctx context.Context, e queueEntry, now time.Time) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	a := &attempt{
		taskID:    e.taskID,
		deviceID:  e.deviceID,
		startedAt: now,
		cancel:    cancel,
		sem:       o.sem,
	}
	o.devices[e.deviceID] = a
	o.attempts[e.taskID] = a

	o.wg.Add(1)
	go o.run(attemptCtx, a)
}

// release 释放设备锁与并发名额，在任务离开 running 之后调用
func (o *Orchestrator) release(a *attempt) {
	o.mu.Lock()
	if o.devices[a.deviceID] == a {
		delete(o.devices, a.deviceID)
	}
	delete(o.attempts, a.taskID)
	if o.metrics != nil {
		o.metrics.running.Set(float64(len(o.attempts)))
	}
	o.mu.Unlock()

	a.sem.Release(1)
	o.signal()
}

func (o *Orchestrator) run(ctx context.Context, a *attempt) {
	defer o.wg.Done()
	defer o.release(a)

	var session <-chan struct{}
	defer func() {
		a.cancel(nil)
		if session != nil {
			o.awaitSession(a, session)
		}
	}()

	task, err := o.begin(a)
	if err != nil {
		logger.Error("Failed to start backup attempt", "task_id", a.taskID, "error", err)
		return
	}
	if task == nil {
		return
	}

	limits := o.limits()
	device, err := o.activeDevice(context.WithoutCancel(ctx), task.DeviceID)
	if err != nil {
		o.failAttempt(task, err)
		return
	}

	o.logTask(task.ID, model.LogLevelInfo, fmt.Sprintf("attempt %d/%d started, connecting to %s via %s",
		task.RetryCount+1, task.MaxRetries, device.Address(), device.Protocol))

	start := o.clock.Now()
	var output string
	output, session, err = o.fetch(ctx, device, task.BackupCommand, limits.AttemptTimeout)
	if o.metrics != nil {
		o.metrics.attemptDuration.Observe(o.clock.Now().Sub(start).Seconds())
	}
	if err != nil {
		o.failAttempt(task, err)
		return
	}

	res, err := o.artifacts.Put(context.WithoutCancel(ctx), []byte(output))
	if err != nil {
		o.failAttempt(task, fmt.Errorf("failed to store backup: %w", err))
		return
	}
	o.succeed(task, res)
}

// awaitSession 等待连接器协程退出后才允许释放设备锁
func (o *Orchestrator) awaitSession(a *attempt, done <-chan struct{}) {
	select {
	case <-done:
		return
	default:
	}

	o.mu.Lock()
	a.draining = true
	o.mu.Unlock()

	for {
		select {
		case <-done:
			logger.Debug("Device session closed, releasing device lock", "task_id", a.taskID, "device_id", a.deviceID)
			return
		case <-o.clock.After(sessionGrace):
			logger.Warn("Device session still open after attempt ended, holding device lock",
				"task_id", a.taskID, "device_id", a.deviceID)
		}
	}
}

// begin pending → running，设置 started_at；任务已不在 pending 时返回 nil
func (o *Orchestrator) begin(a *attempt) (*model.BackupTask, error) {
	now := o.clock.Now()
	ok, err := o.transition(a.taskID, model.TaskStatusPending, map[string]interface{}{
		"status":          model.TaskStatusRunning,
		"started_at":      now,
		"next_attempt_at": nil,
	})
	if err != nil {
		// 任务仍为 pending，退避后重新排队
		retryAt := now.Add(Backoff(o.limits().RetryBackoffBase, o.limits().RetryBackoffMax, 1))
		o.enqueue(a.taskID, a.deviceID, retryAt)
		return nil, err
	}
	if !ok {
		logger.Debug("Task left pending before dispatch, skipping", "task_id", a.taskID)
		return nil, nil
	}

	o.mu.Lock()
	a.startedAt = now
	o.mu.Unlock()

	var task model.BackupTask
	if err := o.db.First(&task, a.taskID).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

type fetchResult struct {
	output string
	err    error
}

// fetch 在超时内调用连接器；取消或超时后立即返回结果，返回的通道在连接器协程退出时关闭
func (o *Orchestrator) fetch(ctx context.Context, device *model.Device, command string, timeout time.Duration) (string, <-chan struct{}, error) {
	fctx, cancel := context.WithTimeout(ctx, timeout)

	ch := make(chan fetchResult, 1)
	done := make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(done)
		out, err := o.conn.Fetch(fctx, device, command)
		ch <- fetchResult{output: out, err: err}
	}()

	var r fetchResult
	select {
	case r = <-ch:
	case <-fctx.Done():
		r.err = fctx.Err()
	}
	// 取消 fctx 通知连接器退出；设备锁由调用方在 done 关闭后释放
	deadline := fctx.Err()
	cancel()

	// 取消与看门狗优先于连接器返回的结果
	if cause := context.Cause(ctx); cause != nil {
		return "", done, &connector.Error{Kind: connector.KindCancelled, Address: device.Address(), Err: cause}
	}
	if r.err == nil {
		return r.output, done, nil
	}
	if errors.Is(deadline, context.DeadlineExceeded) {
		return "", done, &connector.Error{Kind: connector.KindTimeout, Address: device.Address(),
			Err: fmt.Errorf("no result within %s", timeout)}
	}
	return "", done, connector.Classify(ctx, device.Address(), r.err)
}

// succeed running → success
func (o *Orchestrator) succeed(task *model.BackupTask, res artifact.PutResult) {
	now := o.clock.Now()
	ok, err := o.transition(task.ID, model.TaskStatusRunning, map[string]interface{}{
		"status":          model.TaskStatusSuccess,
		"file_path":       res.URI,
		"file_size":       res.Size,
		"file_hash":       res.Hash,
		"error_message":   nil,
		"next_attempt_at": nil,
		"completed_at":    now,
	})
	if err != nil {
		logger.Error("Failed to mark task success", "task_id", task.ID, "error", err)
		return
	}
	if !ok {
		logger.Warn("Task left running before success was recorded", "task_id", task.ID)
		return
	}

	dedup := ""
	if !res.Created {
		dedup = ", identical to an existing backup"
	}
	o.logTask(task.ID, model.LogLevelInfo, fmt.Sprintf("backup succeeded: %s, sha256 %s%s",
		humanize.Bytes(uint64(res.Size)), res.Hash[:12], dedup))
	o.touchDevice(task.DeviceID, model.TaskStatusSuccess, now)
	if o.metrics != nil {
		o.metrics.finished.WithLabelValues(model.TaskStatusSuccess).Inc()
	}
}

// failAttempt running → pending（退避后重试）或 failed（次数耗尽）
func (o *Orchestrator) failAttempt(task *model.BackupTask, cause error) {
	now := o.clock.Now()
	limits := o.limits()

	retries := task.RetryCount + 1
	if retries > task.MaxRetries {
		retries = task.MaxRetries
	}
	msg := cause.Error()
	if o.metrics != nil {
		o.metrics.attemptFailures.WithLabelValues(failureKind(cause)).Inc()
	}

	if retries < task.MaxRetries {
		next := now.Add(Backoff(limits.RetryBackoffBase, limits.RetryBackoffMax, retries))
		ok, err := o.transition(task.ID, model.TaskStatusRunning, map[string]interface{}{
			"status":          model.TaskStatusPending,
			"retry_count":     retries,
			"next_attempt_at": next,
		})
		if err != nil {
			logger.Error("Failed to re-queue task", "task_id", task.ID, "error", err)
			return
		}
		if !ok {
			return
		}
		o.logTask(task.ID, model.LogLevelWarning, fmt.Sprintf("attempt %d/%d failed: %s; retrying in %s",
			retries, task.MaxRetries, msg, next.Sub(now).Round(time.Millisecond)))
		o.enqueue(task.ID, task.DeviceID, next)
		return
	}

	ok, err := o.transition(task.ID, model.TaskStatusRunning, map[string]interface{}{
		"status":          model.TaskStatusFailed,
		"retry_count":     retries,
		"error_message":   msg,
		"next_attempt_at": nil,
		"completed_at":    now,
	})
	if err != nil {
		logger.Error("Failed to mark task failed", "task_id", task.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	o.logTask(task.ID, model.LogLevelError, fmt.Sprintf("attempt %d/%d failed: %s; retries exhausted",
		retries, task.MaxRetries, msg))
	o.touchDevice(task.DeviceID, model.TaskStatusFailed, now)
	if o.metrics != nil {
		o.metrics.finished.WithLabelValues(model.TaskStatusFailed).Inc()
	}
}

// transition 带 status 条件的状态迁移，遇到锁冲突时重试；返回是否命中
func (o *Orchestrator) transition(taskID uint, from string, updates map[string]interface{}) (bool, error) {
	var affected int64
	err := database.WithRetry(o.db, func(db *gorm.DB) error {
		res := db.Model(&model.BackupTask{}).
			Where("id = ? AND status = ?", taskID, from).
			Updates(updates)
		affected = res.RowsAffected
		return res.Error
	}, transitionAttempts, 0)
	return affected > 0, err
}

func failureKind(err error) string {
	var ce *connector.Error
	if errors.As(err, &ce) {
		return string(ce.Kind)
	}
	var invalid *InvalidDeviceError
	if errors.As(err, &invalid) {
		return "invalid_device"
	}
	if errors.Is(err, ErrTaskCancelled) || errors.Is(err, ErrWatchdog) {
		return string(connector.KindCancelled)
	}
	return "internal"
}

// Backoff 第 failures 次失败后的等待时长：base*2^(failures-1)，不超过 max
func Backoff(base, max time.Duration, failures int) time.Duration {
	if base <= 0 {
		return 0
	}
	if failures < 1 {
		failures = 1
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// touchDevice 终态时更新设备最近备份信息
func (o *Orchestrator) touchDevice(deviceID uint, status string, at time.Time) {
	err := o.db.Model(&model.Device{}).Where("id = ?", deviceID).
		UpdateColumns(map[string]interface{}{
			"last_backup":        at,
			"last_backup_status": status,
		}).Error
	if err != nil {
		logger.Warn("Failed to update device backup status", "device_id", deviceID, "error", err)
	}
}

// logTask 写运行日志并落库到任务日志
func (o *Orchestrator) logTask(taskID uint, level, message string) {
	entry := logger.WithField("task_id", taskID)
	switch level {
	case model.LogLevelError:
		entry.Error(message)
	case model.LogLevelWarning:
		entry.Warn(message)
	case model.LogLevelDebug:
		entry.Debug(message)
	default:
		entry.Info(message)
	}

	row := model.TaskLog{TaskID: taskID, Level: level, Message: message, Timestamp: o.clock.Now()}
	if err := o.db.Create(&row).Error; err != nil {
		logger.Error("Failed to save task log", "task_id", taskID, "error", err)
	}
}

// recoverTasks 启动时恢复：pending 重新入队，遗留 running 计一次失败尝试
func (o *Orchestrator) recoverTasks(ctx context.Context) error {
	var pending []model.BackupTask
	if err := o.db.WithContext(ctx).
		Where("status = ?", model.TaskStatusPending).
		Order("created_at ASC, id ASC").
		Find(&pending).Error; err != nil {
		return err
	}
	now := o.clock.Now()
	for _, t := range pending {
		notBefore := now
		if t.NextAttemptAt != nil {
			notBefore = *t.NextAttemptAt
		}
		o.enqueue(t.ID, t.DeviceID, notBefore)
	}

	var stale []model.BackupTask
	if err := o.db.WithContext(ctx).
		Where("status = ?", model.TaskStatusRunning).
		Order("started_at ASC, id ASC").
		Find(&stale).Error; err != nil {
		return err
	}
	for i := range stale {
		o.failAttempt(&stale[i], errors.New("attempt interrupted by service restart"))
	}

	if len(pending) > 0 || len(stale) > 0 {
		logger.Info("Recovered backup tasks", "pending", len(pending), "interrupted", len(stale))
	}
	return nil
}

func (o *Orchestrator) watchdogLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		interval := o.limits().WatchdogInterval
		if interval <= 0 {
			interval = 10 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-o.clock.After(interval):
		}
		o.sweep(ctx)
	}
}

// sweep 终止超过最长运行时间的尝试，并处理没有执行协程的 running 记录
func (o *Orchestrator) sweep(ctx context.Context) {
	now := o.clock.Now()

	o.mu.Lock()
	limit := o.cfg.MaxRunningDuration
	if limit <= 0 {
		o.mu.Unlock()
		return
	}
	tracked := make(map[uint]struct{}, len(o.attempts))
	for id, a := range o.attempts {
		tracked[id] = struct{}{}
		if a.draining {
			continue
		}
		if now.Sub(a.startedAt) > limit {
			logger.Warn("Watchdog terminating backup attempt", "task_id", id, "device_id", a.deviceID,
				"running_for", now.Sub(a.startedAt).Round(time.Second).String())
			a.cancel(ErrWatchdog)
		}
	}
	o.mu.Unlock()

	var stale []model.BackupTask
	if err := o.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", model.TaskStatusRunning, now.Add(-limit)).
		Find(&stale).Error; err != nil {
		if ctx.Err() == nil {
			logger.Error("Watchdog query failed", "error", err)
		}
		return
	}
	for i := range stale {
		if _, ok := tracked[stale[i].ID]; ok {
			continue
		}
		logger.Warn("Watchdog failing orphaned running task", "task_id", stale[i].ID)
		o.failAttempt(&stale[i], ErrWatchdog)
	}
}
