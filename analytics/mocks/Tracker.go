package mocks

import (
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/stretchr/testify/mock"
)

// Tracker is a mock analytics.Tracker.
type Tracker struct {
	mock.Mock
}

// Enqueue ...
func (m *Tracker) Enqueue(eventName string, properties ...analytics.Properties) {
	m.Called(eventName, properties)
}

// Wait ...
func (m *Tracker) Wait() {
	m.Called()
}

// TrackerFactory mocks a tracker constructor.
type TrackerFactory struct {
	mock.Mock
}

// Execute ...
func (m *TrackerFactory) Execute(properties ...analytics.Properties) analytics.Tracker {
	args := m.Called(properties[0])
	if v := args.Get(0); v != nil {
		return v.(analytics.Tracker)
	}
	return nil
}
