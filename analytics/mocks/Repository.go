package mocks

import "github.com/stretchr/testify/mock"

// Repository is a mock env.Repository.
type Repository struct {
	mock.Mock
}

// List ...
func (m *Repository) List() []string {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]string)
	}
	return nil
}

// Unset ...
func (m *Repository) Unset(key string) error {
	return m.Called(key).Error(0)
}

// Get ...
func (m *Repository) Get(key string) string {
	return m.Called(key).String(0)
}

// Set ...
func (m *Repository) Set(key, value string) error {
	return m.Called(key, value).Error(0)
}
