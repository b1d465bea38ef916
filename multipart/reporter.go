package multipart

import (
	"github.com/bitrise-io/go-utils/v2/log"
)

// Reporter observes the progress of an upload.
// Methods are called from multiple goroutines. A panicking Reporter is logged and ignored.
type Reporter interface {
	// PartDispatched is called before the first attempt of a part.
	PartDispatched(part Part)
	// PartCompleted is called once per part, when the vault acknowledged it.
	PartCompleted(part Part)
}

// NopReporter ignores every event.
type NopReporter struct{}

func (NopReporter) PartDispatched(Part) {}
func (NopReporter) PartCompleted(Part)  {}

type safeReporter struct {
	reporter Reporter
	logger   log.Logger
}

func newSafeReporter(reporter Reporter, logger log.Logger) Reporter {
	if reporter == nil {
		return NopReporter{}
	}
	return safeReporter{reporter: reporter, logger: logger}
}

func (r safeReporter) PartDispatched(part Part) {
	defer r.recover("PartDispatched", part)
	r.reporter.PartDispatched(part)
}

func (r safeReporter) PartCompleted(part Part) {
	defer r.recover("PartCompleted", part)
	r.reporter.PartCompleted(part)
}

func (r safeReporter) recover(event string, part Part) {
	if v := recover(); v != nil {
		r.logger.Warnf("Progress reporter panicked in %s for part %d: %v", event, part.Index+1, v)
	}
}
