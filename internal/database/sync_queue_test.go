package database

import (
	"context"
	"testing"
	"time"

	"salonbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncQueue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	task := &models.SyncTask{TaskType: models.SyncTaskUpsert, BookingID: "b-100", Payload: `{"_id":"b-100"}`}
	require.NoError(t, db.EnqueueSyncTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, SyncStatusPending, task.Status)

	due, err := db.DueSyncTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "b-100", due[0].BookingID)

	require.NoError(t, db.CompleteSyncTask(ctx, task.ID))
	due, err = db.DueSyncTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	t.Run("RetryWaitsForBackoff", func(t *testing.T) {
		retry := &models.SyncTask{TaskType: models.SyncTaskUpdateStatus, BookingID: "b-101"}
		require.NoError(t, db.EnqueueSyncTask(ctx, retry))
		require.NoError(t, db.RescheduleSyncTask(ctx, retry.ID, "temporary error", time.Now().Add(time.Hour)))

		due, err := db.DueSyncTasks(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		require.NoError(t, db.RescheduleSyncTask(ctx, retry.ID, "temporary error", time.Now().Add(-time.Second)))
		due, err = db.DueSyncTasks(ctx, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, 2, due[0].RetryCount)
		require.NotNil(t, due[0].LastError)
		assert.Equal(t, "temporary error", *due[0].LastError)
		require.NoError(t, db.CompleteSyncTask(ctx, retry.ID))
	})

	t.Run("FailAndRequeue", func(t *testing.T) {
		failing := &models.SyncTask{TaskType: models.SyncTaskDelete, BookingID: "b-102"}
		require.NoError(t, db.EnqueueSyncTask(ctx, failing))
		require.NoError(t, db.FailSyncTask(ctx, failing.ID, "permanent"))

		failed, err := db.FailedSyncTasks(ctx)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "permanent", *failed[0].LastError)

		n, err := db.RequeueFailedSyncTasks(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		due, err := db.DueSyncTasks(ctx, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, 0, due[0].RetryCount)
	})
}
