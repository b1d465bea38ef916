// Package progress reports multipart upload progress on the console.
package progress

import (
	"fmt"
	"sync"

	"github.com/bitrise-io/go-utils/colorstring"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-coldstorage/multipart"
)

// Snapshot is the state of an upload at a point in time.
type Snapshot struct {
	Dispatched     int
	Completed      int
	CompletedBytes int64
	TotalParts     int
	TotalBytes     int64
}

// Percent returns the share of acknowledged bytes.
func (s Snapshot) Percent() float64 {
	if s.TotalBytes == 0 {
		if s.TotalParts == 0 {
			return 100
		}
		return 0
	}
	return float64(s.CompletedBytes) / float64(s.TotalBytes) * 100
}

// Console is a multipart.Reporter printing a line per acknowledged part.
// Events arriving after Finish are ignored.
type Console struct {
	logger log.Logger

	mu       sync.Mutex
	state    Snapshot
	finished bool
}

// NewConsole ...
func NewConsole(logger log.Logger, totalBytes int64, totalParts int) *Console {
	return &Console{
		logger: logger,
		state: Snapshot{
			TotalParts: totalParts,
			TotalBytes: totalBytes,
		},
	}
}

// PartDispatched ...
func (c *Console) PartDispatched(part multipart.Part) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return
	}
	c.state.Dispatched++
	c.logger.Debugf("Sending part %d/%d (%s)", part.Index+1, c.state.TotalParts, part.Range())
}

// PartCompleted ...
func (c *Console) PartCompleted(part multipart.Part) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return
	}
	c.state.Completed++
	c.state.CompletedBytes += part.Length
	c.logger.Printf("%s", progressLine(c.state))
}

// Snapshot returns the current progress.
func (c *Console) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Finish prints the outcome of the upload and stops further progress output.
func (c *Console) Finish(result *multipart.Result, err error) {
	c.mu.Lock()
	c.finished = true
	state := c.state
	c.mu.Unlock()

	c.logger.Println()
	if err != nil {
		c.logger.Errorf("%s", failureLine(state, err))
		return
	}

	c.logger.Donef("Archive uploaded in %.2f seconds", result.DurationSeconds())
	for _, line := range summaryLines(*result) {
		c.logger.Printf("%s", line)
	}
}

func progressLine(s Snapshot) string {
	return fmt.Sprintf("Uploaded part %d/%d (%.1f%%, %s of %s)",
		s.Completed, s.TotalParts, s.Percent(), units.BytesSize(float64(s.CompletedBytes)), units.BytesSize(float64(s.TotalBytes)))
}

func summaryLines(result multipart.Result) []string {
	lines := []string{
		fmt.Sprintf("Archive ID: %s", colorstring.Green(result.ArchiveID)),
		fmt.Sprintf("Checksum: %s", result.RemoteChecksum),
		fmt.Sprintf("Size: %s in %d parts", units.BytesSize(float64(result.Size)), result.PartCount),
	}
	if result.Location != "" {
		lines = append(lines, fmt.Sprintf("Location: %s", result.Location))
	}
	return lines
}

func failureLine(s Snapshot, err error) string {
	stage, ok := multipart.StageOf(err)
	if !ok {
		return fmt.Sprintf("Upload failed: %s", err)
	}

	switch stage {
	case multipart.StageSetup:
		return fmt.Sprintf("Upload could not be started: %s", err)
	case multipart.StageFinalize:
		return fmt.Sprintf("All %d parts were uploaded but the archive could not be finalized: %s", s.TotalParts, err)
	default:
		return fmt.Sprintf("Upload failed after %d of %d parts (%s of %s): %s",
			s.Completed, s.TotalParts, units.BytesSize(float64(s.CompletedBytes)), units.BytesSize(float64(s.TotalBytes)), err)
	}
}
