package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sshcollectorpro/confbackup/internal/config"
	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	requests []BatchRequest
	err      error
}

func (r *recordingSubmitter) SubmitBatch(_ context.Context, req BatchRequest) (*BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	res := &BatchResult{Tasks: []model.BackupTask{}, Skipped: []BatchSkip{}}
	for i, id := range req.DeviceIDs {
		res.Tasks = append(res.Tasks, model.BackupTask{ID: uint(len(r.requests)*10 + i), DeviceID: id})
	}
	return res, nil
}

func (r *recordingSubmitter) failWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func TestScheduleCreateValidates(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	svc, err := NewScheduleService(f.db, &recordingSubmitter{}, config.ScheduleConfig{Enabled: false, Timezone: "UTC"}, nil)
	require.NoError(t, err)

	var verr *ValidationError
	_, err = svc.Create(context.Background(), ScheduleInput{Name: "bad", CronExpression: "every day", DeviceIDs: []uint{1}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "cron_expression", verr.Field)

	_, err = svc.Create(context.Background(), ScheduleInput{Name: "empty", CronExpression: "0 2 * * *"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "device_ids", verr.Field)

	_, err = NewScheduleService(f.db, &recordingSubmitter{}, config.ScheduleConfig{Timezone: "Mars/Olympus"}, nil)
	assert.Error(t, err)
}

func TestScheduleTriggerSubmitsScheduledTasks(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	now := time.Date(2026, 5, 4, 1, 30, 0, 0, time.UTC)
	clk := testclock.NewClock(now)
	sub := &recordingSubmitter{}
	svc, err := NewScheduleService(f.db, sub, config.ScheduleConfig{Enabled: false, Timezone: "UTC"}, clk)
	require.NoError(t, err)

	sc, err := svc.Create(context.Background(), ScheduleInput{
		Name:           "nightly",
		CronExpression: "0 2 * * *",
		DeviceIDs:      []uint{3, 1},
		BackupCommand:  "display current-configuration",
	})
	require.NoError(t, err)
	require.NotNil(t, sc.NextRun)
	assert.True(t, sc.NextRun.Equal(time.Date(2026, 5, 4, 2, 0, 0, 0, time.UTC)))

	_, err = svc.Trigger(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Len(t, sub.requests, 1)
	req := sub.requests[0]
	assert.Equal(t, []uint{3, 1}, req.DeviceIDs)
	assert.Equal(t, model.TaskTypeScheduled, req.TaskType)
	assert.Equal(t, "display current-configuration", req.BackupCommand)

	got, err := svc.Get(context.Background(), sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(now))

	inactive := false
	sc, err = svc.Update(context.Background(), sc.ID, ScheduleInput{IsActive: &inactive})
	require.NoError(t, err)
	assert.Nil(t, sc.NextRun)

	require.NoError(t, svc.Delete(context.Background(), sc.ID))
	var notFound *ScheduleNotFoundError
	_, err = svc.Trigger(context.Background(), sc.ID)
	require.ErrorAs(t, err, &notFound)
}

func TestScheduledTasksRunThroughOrchestrator(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	f.start(t)
	d := f.addDevice(t, "r1", true)
	svc, err := NewScheduleService(f.db, f.orch, config.ScheduleConfig{Enabled: true, Timezone: "UTC"}, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(svc.Stop)

	sc, err := svc.Create(context.Background(), ScheduleInput{Name: "hourly", CronExpression: "@hourly", DeviceIDs: []uint{d.ID}})
	require.NoError(t, err)

	res, err := svc.Trigger(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, model.TaskTypeScheduled, res.Tasks[0].TaskType)
	assert.Equal(t, model.TaskStatusSuccess, f.waitTerminal(t, res.Tasks[0].ID).Status)

	page, err := svc.Executions(context.Background(), sc.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Executions, 1)
	assert.Equal(t, model.IDList{res.Tasks[0].ID}, page.Executions[0].TaskIDs)
}

func TestScheduleToggle(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	now := time.Date(2026, 5, 4, 1, 30, 0, 0, time.UTC)
	svc, err := NewScheduleService(f.db, &recordingSubmitter{}, config.ScheduleConfig{Enabled: true, Timezone: "UTC"}, testclock.NewClock(now))
	require.NoError(t, err)

	sc, err := svc.Create(context.Background(), ScheduleInput{Name: "nightly", CronExpression: "0 2 * * *", DeviceIDs: []uint{1}})
	require.NoError(t, err)
	assert.Contains(t, svc.entries, sc.ID)

	sc, err = svc.Toggle(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.False(t, sc.IsActive)
	assert.Nil(t, sc.NextRun)
	assert.NotContains(t, svc.entries, sc.ID)

	sc, err = svc.Toggle(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.True(t, sc.IsActive)
	require.NotNil(t, sc.NextRun)
	assert.True(t, sc.NextRun.Equal(time.Date(2026, 5, 4, 2, 0, 0, 0, time.UTC)))
	assert.Contains(t, svc.entries, sc.ID)

	got, err := svc.Get(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	var notFound *ScheduleNotFoundError
	_, err = svc.Toggle(context.Background(), 999)
	require.ErrorAs(t, err, &notFound)
}

func TestScheduleExecutionHistory(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	start := time.Date(2026, 5, 4, 1, 30, 0, 0, time.UTC)
	clk := testclock.NewClock(start)
	sub := &recordingSubmitter{}
	svc, err := NewScheduleService(f.db, sub, config.ScheduleConfig{Enabled: false, Timezone: "UTC"}, clk)
	require.NoError(t, err)

	sc, err := svc.Create(context.Background(), ScheduleInput{Name: "nightly", CronExpression: "0 2 * * *", DeviceIDs: []uint{4, 5}})
	require.NoError(t, err)

	_, err = svc.Trigger(context.Background(), sc.ID)
	require.NoError(t, err)
	clk.Advance(time.Minute)
	sub.failWith(errors.New("database is locked"))
	_, err = svc.Trigger(context.Background(), sc.ID)
	require.Error(t, err)
	clk.Advance(time.Minute)
	sub.failWith(nil)
	_, err = svc.Trigger(context.Background(), sc.ID)
	require.NoError(t, err)

	page, err := svc.Executions(context.Background(), sc.ID, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Executions, 2)

	newest, failed := page.Executions[0], page.Executions[1]
	assert.True(t, newest.StartedAt.Equal(start.Add(2*time.Minute)))
	assert.Equal(t, model.ExecutionSubmitted, newest.Status)
	assert.Equal(t, model.TriggerManual, newest.TriggeredBy)
	assert.Equal(t, 2, newest.Created)
	assert.Equal(t, model.IDList{30, 31}, newest.TaskIDs)
	assert.Equal(t, model.ExecutionFailed, failed.Status)
	assert.Contains(t, failed.Error, "database is locked")
	assert.Empty(t, failed.TaskIDs)

	page, err = svc.Executions(context.Background(), sc.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Executions, 1)
	assert.True(t, page.Executions[0].StartedAt.Equal(start))

	var notFound *ScheduleNotFoundError
	_, err = svc.Executions(context.Background(), 999, 1, 10)
	require.ErrorAs(t, err, &notFound)

	require.NoError(t, svc.Delete(context.Background(), sc.ID))
	var n int64
	require.NoError(t, f.db.Model(&model.ScheduleExecution{}).Where("schedule_id = ?", sc.ID).Count(&n).Error)
	assert.Zero(t, n)
}
