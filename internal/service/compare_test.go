package service

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/sshcollectorpro/confbackup/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backupOnce 运行一次成功备份并返回任务
func (f *fixture) backupOnce(t *testing.T, d *model.Device, output string) *model.BackupTask {
	t.Helper()
	f.conn.push(d.ID, step{output: output})
	done := f.waitTerminal(t, f.submit(t, d.ID, 1).ID)
	require.Equal(t, model.TaskStatusSuccess, done.Status)
	return done
}

func TestCompareModifiedLine(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	f.start(t)
	d := f.addDevice(t, "core", true)
	t1 := f.backupOnce(t, d, "a\nb\nc\n")
	t2 := f.backupOnce(t, d, "a\nx\nc\n")

	res, err := f.comparer.Compare(context.Background(), t1.ID, t2.ID, CompareOptions{})
	require.NoError(t, err)
	s := res.Diff.Summary
	assert.Equal(t, 1, s.ModifiedLines)
	assert.Equal(t, 0, s.AddedLines)
	assert.Equal(t, 0, s.RemovedLines)
	assert.Equal(t, 2, s.TotalChanges)
	assert.True(t, s.HasChanges)
	assert.Contains(t, res.Diff.RawDiff, "-b\n+x")
	assert.Equal(t, "core", res.Task1.Device)
	assert.Equal(t, 3, res.Task1.Lines)

	rev, err := f.comparer.Compare(context.Background(), t2.ID, t1.ID, CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, s.TotalChanges, rev.Diff.Summary.TotalChanges)
	assert.Equal(t, s.AddedLines, rev.Diff.Summary.RemovedLines)

	self, err := f.comparer.Compare(context.Background(), t1.ID, t1.ID, CompareOptions{})
	require.NoError(t, err)
	assert.False(t, self.Diff.Summary.HasChanges)
	assert.Zero(t, self.Diff.Summary.TotalChanges)
	assert.Empty(t, self.Diff.RawDiff)
}

func TestQuickCompare(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	f.start(t)
	d := f.addDevice(t, "edge", true)

	var insufficient *InsufficientHistoryError
	_, err := f.comparer.QuickCompare(context.Background(), d.ID, CompareOptions{})
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 0, insufficient.Available)

	older := f.backupOnce(t, d, "hostname edge\nvlan 10\n")
	_, err = f.comparer.QuickCompare(context.Background(), d.ID, CompareOptions{})
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Available)

	f.conn.push(d.ID, step{err: errors.New("refused")})
	f.waitTerminal(t, f.submit(t, d.ID, 1).ID)
	newer := f.backupOnce(t, d, "hostname edge\nvlan 10\nvlan 20\n")

	res, err := f.comparer.QuickCompare(context.Background(), d.ID, CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, older.ID, res.Task1.ID)
	assert.Equal(t, newer.ID, res.Task2.ID)
	assert.Equal(t, 1, res.Diff.Summary.AddedLines)
	assert.Equal(t, 1, res.Diff.Summary.TotalChanges)
}

func TestCompareNotComparable(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	f.start(t)
	d := f.addDevice(t, "r1", true)
	other := f.addDevice(t, "r2", true)
	ok := f.backupOnce(t, d, "hostname r1\n")

	f.conn.push(d.ID, step{err: errors.New("refused")})
	failed := f.waitTerminal(t, f.submit(t, d.ID, 1).ID)

	var nc *NotComparableError
	_, err := f.comparer.Compare(context.Background(), ok.ID, failed.ID, CompareOptions{})
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, failed.ID, nc.TaskID)

	var notFound *TaskNotFoundError
	_, err = f.comparer.Compare(context.Background(), ok.ID, 9999, CompareOptions{})
	require.ErrorAs(t, err, &notFound)

	foreign := f.backupOnce(t, other, "hostname r2\n")
	_, err = f.comparer.Compare(context.Background(), ok.ID, foreign.ID, CompareOptions{})
	require.ErrorAs(t, err, &nc)
}

func TestCompareMissingArtifact(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	f.start(t)
	d := f.addDevice(t, "r1", true)
	t1 := f.backupOnce(t, d, "hostname r1\n")
	t2 := f.backupOnce(t, d, "hostname r1-new\n")

	path := (*t2.FilePath)[len("file://"):]
	require.NoError(t, os.Remove(path))

	var nc *NotComparableError
	_, err := f.comparer.Compare(context.Background(), t1.ID, t2.ID, CompareOptions{})
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, t2.ID, nc.TaskID)
	assert.True(t, IsNotFound(func() error { _, e := f.orch.Content(context.Background(), t2.ID); return e }()))
}

func TestCompareIgnoreOptions(t *testing.T) {
	f := newFixture(t, testBackupConfig())
	f.start(t)
	d := f.addDevice(t, "r1", true)
	t1 := f.backupOnce(t, d, "Interface Gi0/1\n description uplink\n")
	t2 := f.backupOnce(t, d, "interface Gi0/1\n  description   uplink\n")

	res, err := f.comparer.Compare(context.Background(), t1.ID, t2.ID, CompareOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Diff.Summary.ModifiedLines)

	res, err = f.comparer.Compare(context.Background(), t1.ID, t2.ID, CompareOptions{IgnoreWhitespace: true, IgnoreCase: true})
	require.NoError(t, err)
	assert.False(t, res.Diff.Summary.HasChanges)
}
