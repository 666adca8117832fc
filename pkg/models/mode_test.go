package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingModePredicates(t *testing.T) {
	assert.True(t, ModeOfflineBatch.IsBatch())
	assert.True(t, ModeOnlineRealtime.IsRealtime())
	assert.True(t, ModeAutoSwitch.IsAuto())
	assert.False(t, ModeOfflineBatch.IsRealtime())

	for _, m := range AllProcessingModes {
		assert.True(t, m.Valid(), string(m))
	}
	assert.False(t, ProcessingMode("bogus").Valid())
	assert.False(t, ProcessingMode("").Valid())
}

func TestParseProcessingMode(t *testing.T) {
	m, err := ParseProcessingMode("offline_batch")
	require.NoError(t, err)
	assert.Equal(t, ModeOfflineBatch, m)

	_, err = ParseProcessingMode("batch")
	assert.Error(t, err)
}

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("doc-1", TaskTypeInitial, 2)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, 3, task.MaxRetries)
	assert.True(t, task.CanRetry())

	task.RetryCount = 3
	assert.False(t, task.CanRetry())

	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusProcessing.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.True(t, TaskStatusCancelled.Terminal())

	assert.True(t, TaskTypeReprocess.Valid())
	assert.False(t, TaskType("bogus").Valid())
}
