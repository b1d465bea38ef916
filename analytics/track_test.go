package analytics

import (
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-coldstorage/analytics/mocks"
)

func TestNewStepTrackerFailsIfStepExecutionIDIsNotFound(t *testing.T) {
	repository := new(mocks.Repository)
	repository.On("Get", "BITRISE_STEP_EXECUTION_ID").Return("")
	_, err := NewStepTracker(repository, new(mocks.TrackerFactory).Execute)
	assert.EqualError(t, err, "no step execution ID found")
}

func TestNewStepTrackerAddsStepExecutionIDToNewTracker(t *testing.T) {
	repository := new(mocks.Repository)
	repository.On("Get", "BITRISE_STEP_EXECUTION_ID").Return("123")
	repository.On("Get", mock.Anything).Return("")

	factory := new(mocks.TrackerFactory)
	factory.On("Execute", analytics.Properties{
		"step_execution_id": "123",
		"build_slug":        "",
		"app_slug":          "",
		"workflow":          "",
	}).Return(nil)

	_, err := NewStepTracker(repository, factory.Execute)
	require.NoError(t, err)
	factory.AssertExpectations(t)
}

func TestUploadTracker_LogArchiveUploaded(t *testing.T) {
	tracker := new(mocks.Tracker)
	tracker.On("Enqueue", "step_coldstorage_archive_uploaded", []analytics.Properties{{
		"upload_time_s":     float64(12),
		"upload_size_bytes": int64(2621440),
		"part_count":        3,
		"part_size_bytes":   int64(1048576),
		"concurrency":       4,
		"vault":             "photos",
		"service":           "glacier",
	}}).Return()
	tracker.On("Wait").Return()

	uploadTracker := NewUploadTracker(tracker, "photos", "glacier")
	uploadTracker.LogArchiveUploaded(12500*time.Millisecond, 2621440, 3, 1048576, 4)
	uploadTracker.Wait()

	tracker.AssertExpectations(t)
}

func TestUploadTracker_LogUploadFailed(t *testing.T) {
	tracker := new(mocks.Tracker)
	tracker.On("Enqueue", "step_coldstorage_upload_failed", []analytics.Properties{{
		"stage":             "dispatch",
		"upload_size_bytes": int64(10),
		"vault":             "photos",
		"service":           "api",
	}}).Return()

	NewUploadTracker(tracker, "photos", "api").LogUploadFailed("dispatch", 10)

	tracker.AssertExpectations(t)
}

func TestUploadTracker_NilTrackerIsNoop(t *testing.T) {
	uploadTracker := NewUploadTracker(nil, "photos", "api")

	assert.NotPanics(t, func() {
		uploadTracker.LogArchiveBundled(time.Second, 10)
		uploadTracker.LogUploadFailed("setup", 0)
		uploadTracker.Wait()
	})
}
