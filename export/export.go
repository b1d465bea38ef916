// Package export exposes upload results to subsequent steps through envman.
package export

import (
	"fmt"
	"path/filepath"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/fileutil"
)

// Exporter ...
type Exporter struct {
	cmdFactory  command.Factory
	fileManager fileutil.FileManager
}

// NewExporter ...
func NewExporter(cmdFactory command.Factory) Exporter {
	return Exporter{
		cmdFactory:  cmdFactory,
		fileManager: fileutil.NewFileManager(),
	}
}

// ExportOutput is used for exposing values for other steps.
// Regular env vars are isolated between steps, so instead of calling `os.Setenv()`, use this to explicitly expose
// a value for subsequent steps.
func (e *Exporter) ExportOutput(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value}, nil)
	return runExport(cmd)
}

// ExportOutputNoExpand works like ExportOutput but does not expand environment variables in the value.
// Archive IDs and remote locations are service controlled, so they are exported with this.
func (e *Exporter) ExportOutputNoExpand(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value, "--no-expand"}, nil)
	return runExport(cmd)
}

// ExportSecretOutput is used for exposing secret values for other steps.
func (e *Exporter) ExportSecretOutput(key, value string) error {
	cmd := e.cmdFactory.Create("envman", []string{"add", "--key", key, "--value", value, "--sensitive"}, nil)
	return runExport(cmd)
}

// ExportOutputFileContent writes content to dst and exports the absolute path of dst.
func (e *Exporter) ExportOutputFileContent(content []byte, dst, envKey string) error {
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	if err := e.fileManager.WriteBytes(absDst, content); err != nil {
		return fmt.Errorf("write %s: %w", absDst, err)
	}

	return e.ExportOutput(envKey, absDst)
}

// ExportOutputs exports every key in order and stops at the first failure.
func (e *Exporter) ExportOutputs(outputs []Output) error {
	for _, o := range outputs {
		var err error
		if o.NoExpand {
			err = e.ExportOutputNoExpand(o.Key, o.Value)
		} else {
			err = e.ExportOutput(o.Key, o.Value)
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", o.Key, err)
		}
	}
	return nil
}

// Output is a single key value pair exposed to subsequent steps.
type Output struct {
	Key      string
	Value    string
	NoExpand bool
}

func runExport(cmd command.Command) error {
	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		return fmt.Errorf("exporting output with envman failed: %s, output: %s", err, out)
	}
	return nil
}
