package internal

import (
	"os"
	"path/filepath"
)

// OsProxy defines the subset of os package functions the upload pipeline uses.
type OsProxy interface {
	Stat(name string) (os.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	MkdirTemp(dir, pattern string) (string, error)
	RemoveAll(path string) error
	Abs(path string) (string, error)
}

// RealOS is the default implementation that delegates to the real os package.
type RealOS struct{}

func (RealOS) Stat(name string) (os.FileInfo, error)         { return os.Stat(name) }              //nolint:revive
func (RealOS) ReadFile(name string) ([]byte, error)          { return os.ReadFile(name) }          //nolint:revive
func (RealOS) MkdirTemp(dir, pattern string) (string, error) { return os.MkdirTemp(dir, pattern) } //nolint:revive
func (RealOS) RemoveAll(path string) error                   { return os.RemoveAll(path) }         //nolint:revive
func (RealOS) Abs(path string) (string, error)               { return filepath.Abs(path) }         //nolint:revive
