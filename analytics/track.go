// Package analytics sends upload lifecycle events to the step analytics service.
package analytics

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory creates a tracker sending the given base properties with every event.
type TrackerFactory func(...analytics.Properties) analytics.Tracker

const (
	StepExecutionIDEnvKey = "BITRISE_STEP_EXECUTION_ID"
	StepExecutionID       = "step_execution_id"
)

// NewStepTracker ...
func NewStepTracker(repository env.Repository, trackerFactory TrackerFactory) (analytics.Tracker, error) {
	stepExecutionID := repository.Get(StepExecutionIDEnvKey)
	if stepExecutionID == "" {
		return nil, fmt.Errorf("no step execution ID found")
	}
	return trackerFactory(analytics.Properties{
		StepExecutionID: stepExecutionID,
		"build_slug":    repository.Get("BITRISE_BUILD_SLUG"),
		"app_slug":      repository.Get("BITRISE_APP_SLUG"),
		"workflow":      repository.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
	}), nil
}

// NewDefaultStepTracker ...
func NewDefaultStepTracker(repository env.Repository, logger log.Logger) (analytics.Tracker, error) {
	return NewStepTracker(repository, func(p ...analytics.Properties) analytics.Tracker {
		return analytics.NewDefaultTracker(logger, p...)
	})
}

// UploadTracker records archive upload events. A nil tracker discards them.
type UploadTracker struct {
	tracker analytics.Tracker
	base    analytics.Properties
}

// NewUploadTracker ...
func NewUploadTracker(tracker analytics.Tracker, vault, service string) *UploadTracker {
	return &UploadTracker{
		tracker: tracker,
		base: analytics.Properties{
			"vault":   vault,
			"service": service,
		},
	}
}

// LogArchiveBundled ...
func (t *UploadTracker) LogArchiveBundled(bundleTime time.Duration, sizeBytes int64) {
	t.enqueue("step_coldstorage_archive_bundled", analytics.Properties{
		"bundle_time_s":     bundleTime.Truncate(time.Second).Seconds(),
		"bundle_size_bytes": sizeBytes,
	})
}

// LogArchiveUploaded ...
func (t *UploadTracker) LogArchiveUploaded(uploadTime time.Duration, sizeBytes int64, partCount int, partSize int64, concurrency int) {
	t.enqueue("step_coldstorage_archive_uploaded", analytics.Properties{
		"upload_time_s":     uploadTime.Truncate(time.Second).Seconds(),
		"upload_size_bytes": sizeBytes,
		"part_count":        partCount,
		"part_size_bytes":   partSize,
		"concurrency":       concurrency,
	})
}

// LogUploadFailed ...
func (t *UploadTracker) LogUploadFailed(stage string, sizeBytes int64) {
	t.enqueue("step_coldstorage_upload_failed", analytics.Properties{
		"stage":             stage,
		"upload_size_bytes": sizeBytes,
	})
}

// Wait blocks until queued events are sent.
func (t *UploadTracker) Wait() {
	if t == nil || t.tracker == nil {
		return
	}
	t.tracker.Wait()
}

func (t *UploadTracker) enqueue(event string, properties analytics.Properties) {
	if t == nil || t.tracker == nil {
		return
	}
	for k, v := range t.base {
		properties[k] = v
	}
	t.tracker.Enqueue(event, properties)
}
