package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sshcollectorpro/confbackup/internal/artifact"
	"github.com/sshcollectorpro/confbackup/internal/diff"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/sshcollectorpro/confbackup/internal/util"
	"github.com/sshcollectorpro/confbackup/pkg/logger"
	"gorm.io/gorm"
)

// CompareOptions 对比选项
type CompareOptions struct {
	IgnoreWhitespace bool `json:"ignore_whitespace"`
	IgnoreCase       bool `json:"ignore_case"`
}

// TaskSummary 对比结果中的任务概要
type TaskSummary struct {
	ID          uint       `json:"id"`
	DeviceID    uint       `json:"device_id"`
	Device      string     `json:"device"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	FileSize    *int64     `json:"file_size"`
	FileHash    *string    `json:"file_hash"`
	Lines       int        `json:"lines"`
}

// CompareResult 两次备份的差异，不落库
type CompareResult struct {
	Task1 TaskSummary  `json:"task1"`
	Task2 TaskSummary  `json:"task2"`
	Diff  *diff.Result `json:"diff"`
}

// Comparer 备份对比服务
type Comparer struct {
	db        *gorm.DB
	artifacts *artifact.Store
	engine    *diff.Engine
}

// NewComparer 创建对比服务
func NewComparer(db *gorm.DB, artifacts *artifact.Store, engine *diff.Engine) *Comparer {
	return &Comparer{db: db, artifacts: artifacts, engine: engine}
}

// Compare 对比 task1（旧）与 task2（新）；任一任务不可比较时整体失败
func (c *Comparer) Compare(ctx context.Context, task1ID, task2ID uint, opts CompareOptions) (*CompareResult, error) {
	from, err := c.comparable(ctx, task1ID)
	if err != nil {
		return nil, err
	}
	to, err := c.comparable(ctx, task2ID)
	if err != nil {
		return nil, err
	}
	if from.task.DeviceID != to.task.DeviceID {
		return nil, &NotComparableError{Reason: fmt.Sprintf("task %d and task %d belong to different devices", task1ID, task2ID)}
	}

	fromText, _ := util.DecodeText(from.data)
	toText, _ := util.DecodeText(to.data)
	for _, s := range []struct {
		id   uint
		text string
	}{{task1ID, fromText}, {task2ID, toText}} {
		if err := c.engine.Check(s.text); err != nil {
			return nil, &NotComparableError{TaskID: s.id, Reason: err.Error()}
		}
	}

	result, err := c.engine.Compare(fromText, toText, diff.Options{
		IgnoreWhitespace: opts.IgnoreWhitespace,
		IgnoreCase:       opts.IgnoreCase,
		FromLabel:        label(from.task),
		ToLabel:          label(to.task),
	})
	if err != nil {
		if errors.Is(err, diff.ErrTooLarge) {
			return nil, &NotComparableError{Reason: err.Error()}
		}
		return nil, err
	}

	logger.Debug("Backups compared", "task1", task1ID, "task2", task2ID,
		"total_changes", result.Summary.TotalChanges)
	return &CompareResult{
		Task1: summarizeTask(from, fromText),
		Task2: summarizeTask(to, toText),
		Diff:  result,
	}, nil
}

// QuickCompare 对比设备最近两次成功备份：较早的为 task1
func (c *Comparer) QuickCompare(ctx context.Context, deviceID uint, opts CompareOptions) (*CompareResult, error) {
	var latest []model.BackupTask
	if err := c.db.WithContext(ctx).
		Where("device_id = ? AND status = ?", deviceID, model.TaskStatusSuccess).
		Order("started_at DESC, id DESC").
		Limit(2).
		Find(&latest).Error; err != nil {
		return nil, fmt.Errorf("failed to load successful backups: %w", err)
	}
	if len(latest) < 2 {
		return nil, &InsufficientHistoryError{DeviceID: deviceID, Available: len(latest)}
	}
	return c.Compare(ctx, latest[1].ID, latest[0].ID, opts)
}

// comparable 加载任务快照，不满足对比条件时返回 NotComparableError
func (c *Comparer) comparable(ctx context.Context, taskID uint) (*snapshot, error) {
	snap, err := loadSnapshot(ctx, c.db, c.artifacts, taskID)
	if err == nil {
		return snap, nil
	}
	var notFound *TaskNotFoundError
	if errors.As(err, &notFound) {
		return nil, err
	}
	if snap != nil && snap.task.Status != model.TaskStatusSuccess {
		return nil, &NotComparableError{TaskID: taskID, Reason: fmt.Sprintf("status is %s", snap.task.Status)}
	}
	if errors.Is(err, artifact.ErrArtifactNotFound) || errors.Is(err, artifact.ErrCorrupted) {
		return nil, &NotComparableError{TaskID: taskID, Reason: err.Error()}
	}
	return nil, err
}

func label(t *model.BackupTask) string {
	at := t.CreatedAt
	if t.CompletedAt != nil {
		at = *t.CompletedAt
	}
	return fmt.Sprintf("task-%d\t%s", t.ID, at.Format("2006-01-02 15:04:05"))
}

func summarizeTask(s *snapshot, text string) TaskSummary {
	return TaskSummary{
		ID:          s.task.ID,
		DeviceID:    s.task.DeviceID,
		Device:      s.device.DisplayName(),
		CreatedAt:   s.task.CreatedAt,
		StartedAt:   s.task.StartedAt,
		CompletedAt: s.task.CompletedAt,
		FileSize:    s.task.FileSize,
		FileHash:    s.task.FileHash,
		Lines:       diff.LineCount(text),
	}
}
