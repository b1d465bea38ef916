// Package compression bundles a directory into a single tar+zstd archive before it is uploaded.
package compression

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/zstd"
)

// Extension is appended to bundle names.
const Extension = ".tar.zst"

// ArchiveDependencyChecker ...
type ArchiveDependencyChecker interface {
	CheckDependencies() bool
}

// DependencyChecker reports whether the tar and zstd binaries are installed.
type DependencyChecker struct {
	logger  log.Logger
	envRepo env.Repository
}

// NewDependencyChecker ...
func NewDependencyChecker(logger log.Logger, envRepo env.Repository) *DependencyChecker {
	return &DependencyChecker{
		logger:  logger,
		envRepo: envRepo,
	}
}

// CheckDependencies ...
func (dc *DependencyChecker) CheckDependencies() bool {
	return dc.checkDependency("tar") && dc.checkDependency("zstd")
}

func (dc *DependencyChecker) checkDependency(binaryName string) bool {
	cmdFactory := command.NewFactory(dc.envRepo)
	cmd := cmdFactory.Create("which", []string{binaryName}, nil)
	dc.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	_, err := cmd.RunAndReturnTrimmedCombinedOutput()
	return err == nil
}

// Archiver ...
type Archiver struct {
	logger                   log.Logger
	envRepo                  env.Repository
	archiveDependencyChecker ArchiveDependencyChecker
	level                    int
}

// NewArchiver creates an Archiver. A zero level selects the zstd default.
func NewArchiver(logger log.Logger, envRepo env.Repository, archiveDependencyChecker ArchiveDependencyChecker, level int) *Archiver {
	return &Archiver{
		logger:                   logger,
		envRepo:                  envRepo,
		archiveDependencyChecker: archiveDependencyChecker,
		level:                    level,
	}
}

// Compress packs sourceDir into archivePath. Entry names are relative to the parent of sourceDir,
// so the archive extracts into a single top level directory.
// Exclude patterns use doublestar syntax and are matched against paths relative to sourceDir.
func (a *Archiver) Compress(archivePath, sourceDir string, excludes []string) error {
	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern: %s", pattern)
		}
	}

	if len(excludes) > 0 || !a.archiveDependencyChecker.CheckDependencies() {
		a.logger.Infof("Using native implementation of tar and zstd")
		if err := a.compressWithGoLib(archivePath, sourceDir, excludes); err != nil {
			return fmt.Errorf("compress files: %w", err)
		}
		return nil
	}

	a.logger.Infof("Using installed zstd binary")
	if err := a.compressWithBinary(archivePath, sourceDir); err != nil {
		return fmt.Errorf("compress files: %w", err)
	}
	return nil
}

func (a *Archiver) compressWithGoLib(archivePath, sourceDir string, excludes []string) (err error) {
	root := filepath.Clean(sourceDir)
	parent := filepath.Dir(root)

	archive, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if cerr := archive.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive file: %w", cerr)
		}
	}()

	var opts []zstd.EOption
	if a.level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(a.level)))
	}
	zstdWriter, err := zstd.NewWriter(archive, opts...)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zstdWriter)

	if err := filepath.Walk(root, func(file string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(root, file)
		if err != nil {
			return err
		}
		if rel != "." && isExcluded(filepath.ToSlash(rel), excludes) {
			a.logger.Debugf("Excluding %s", rel)
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		var link string
		if fi.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(file); err != nil {
				return fmt.Errorf("read symlink: %w", err)
			}
		}

		header, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return fmt.Errorf("create file info header: %w", err)
		}
		name, err := filepath.Rel(parent, file)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(name)
		if fi.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write tar file header: %w", err)
		}

		// nothing more to do for non-regular files or directories
		if !fi.Mode().IsRegular() {
			return nil
		}

		data, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		if _, err := io.Copy(tw, data); err != nil {
			data.Close() //nolint:errcheck
			return fmt.Errorf("copy to archive: %w", err)
		}
		if err := data.Close(); err != nil {
			return fmt.Errorf("close file: %w", err)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("iterate on files: %w", err)
	}

	// produce tar
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	// produce zstd
	if err := zstdWriter.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}

	return nil
}

func (a *Archiver) compressWithBinary(archivePath, sourceDir string) error {
	cmdFactory := command.NewFactory(a.envRepo)
	root := filepath.Clean(sourceDir)

	zstdCmd := "zstd --threads=0"
	if a.level > 0 {
		zstdCmd = "zstd -" + strconv.Itoa(a.level) + " --threads=0"
	}

	/*
		tar arguments:
		--use-compress-program: Pipe the output to zstd instead of using the built-in gzip compression
		-c: Create archive
		-f: Output file
		-C: Change to the parent directory so entries are stored relative to it
	*/
	tarArgs := []string{
		"--use-compress-program", zstdCmd,
		"-c",
		"-f", archivePath,
		"-C", filepath.Dir(root),
		filepath.Base(root),
	}

	cmd := cmdFactory.Create("tar", tarArgs, nil)
	a.logger.Debugf("$ %s", cmd.PrintableCommandArgs())

	return runTar(cmd)
}

// List returns the entry names of an archive created by Compress.
func List(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close() //nolint:errcheck

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var names []string
	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar file: %w", err)
		}
		names = append(names, header.Name)
	}
}

// IsEmptyDir reports whether dir is missing or has no entries.
func IsEmptyDir(dir string) bool {
	file, err := os.Open(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil {
		return false
	}
	defer file.Close() //nolint:errcheck

	_, err = file.Readdirnames(1) // query only 1 child
	return errors.Is(err, io.EOF)
}

func isExcluded(rel string, excludes []string) bool {
	for _, pattern := range excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func runTar(cmd command.Command) error {
	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command failed with exit status %d (%s):\n%w", exitErr.ExitCode(), cmd.PrintableCommandArgs(), errors.New(out))
		}
		return fmt.Errorf("executing command failed (%s): %w", cmd.PrintableCommandArgs(), err)
	}
	return nil
}
