// Package archiver runs a complete cold storage upload: it resolves the source, bundles directories,
// uploads the payload through the multipart coordinator, then exports and publishes the receipt.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-coldstorage/analytics"
	"github.com/bitrise-io/go-coldstorage/compression"
	"github.com/bitrise-io/go-coldstorage/export"
	"github.com/bitrise-io/go-coldstorage/internal"
	"github.com/bitrise-io/go-coldstorage/multipart"
	"github.com/bitrise-io/go-coldstorage/network"
	"github.com/bitrise-io/go-coldstorage/progress"
)

const (
	fileScheme = "file://"

	notifyTimeout = 2 * time.Minute

	bundleTimeFormat = "20060102150405"
)

// Step outputs
const (
	ArchiveIDKey       = "COLDSTORAGE_ARCHIVE_ID"
	ArchiveChecksumKey = "COLDSTORAGE_ARCHIVE_CHECKSUM"
	ArchiveSizeKey     = "COLDSTORAGE_ARCHIVE_SIZE"
	ArchiveLocationKey = "COLDSTORAGE_ARCHIVE_LOCATION"
	ReceiptPathKey     = "COLDSTORAGE_RECEIPT_PATH"
)

// Input describes a single upload.
type Input struct {
	// SourcePath is a local file or directory, a file:// URL or an http(s):// URL.
	SourcePath string
	Vault      string
	// Excludes are doublestar patterns left out of directory bundles.
	Excludes []string
	// DescriptionTemplate is rendered into the archive description.
	DescriptionTemplate string
	// ReceiptDir is where the receipt JSON is written and exported. Empty skips the receipt file.
	ReceiptDir string
	Upload     multipart.Config
}

// Bundler packs a directory into a single archive file.
type Bundler interface {
	Compress(archivePath, sourceDir string, excludes []string) error
}

// Exporter exposes values for subsequent steps.
type Exporter interface {
	ExportOutputs(outputs []export.Output) error
	ExportOutputFileContent(content []byte, dst, envKey string) error
}

// SourceFetcher downloads a remote source to dest.
type SourceFetcher func(ctx context.Context, url, dest string, logger log.Logger) error

// Outcome is the result of a successful Run.
type Outcome struct {
	Result  multipart.Result
	Receipt network.Receipt
	// Bundled is set when the source was a directory.
	Bundled bool
}

// Runner ...
type Runner struct {
	logger    log.Logger
	envRepo   env.Repository
	osProxy   internal.OsProxy
	service   multipart.Service
	bundler   Bundler
	exporter  Exporter
	notifiers []network.Notifier
	tracker   *analytics.UploadTracker
	fetch     SourceFetcher
	now       func() time.Time
}

// NewRunner creates a Runner uploading to service. notifiers may be empty.
func NewRunner(
	logger log.Logger,
	envRepo env.Repository,
	service multipart.Service,
	bundler Bundler,
	exporter Exporter,
	tracker *analytics.UploadTracker,
	notifiers ...network.Notifier,
) *Runner {
	return &Runner{
		logger:    logger,
		envRepo:   envRepo,
		osProxy:   internal.RealOS{},
		service:   service,
		bundler:   bundler,
		exporter:  exporter,
		notifiers: notifiers,
		tracker:   tracker,
		fetch:     network.FetchSource,
		now:       time.Now,
	}
}

// Run uploads the source described by input.
// Nothing is exported or published unless the archive was finalized.
func (r *Runner) Run(ctx context.Context, input Input) (*Outcome, error) {
	if strings.TrimSpace(input.Vault) == "" {
		return nil, fmt.Errorf("vault name should not be empty")
	}
	if strings.TrimSpace(input.SourcePath) == "" {
		return nil, fmt.Errorf("source path should not be empty")
	}

	workDir, err := r.osProxy.MkdirTemp("", "coldstorage")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	defer func() {
		if err := r.osProxy.RemoveAll(workDir); err != nil {
			r.logger.Warnf("Failed to remove %s: %s", workDir, err)
		}
	}()

	startedAt := r.now()
	timestamp := startedAt.Format(bundleTimeFormat)

	payloadPath, bundled, err := r.preparePayload(ctx, input, workDir, timestamp)
	if err != nil {
		return nil, err
	}

	if input.DescriptionTemplate != "" {
		description, err := newDescriptionModel(r.envRepo, r.logger).Evaluate(input.DescriptionTemplate, input.Vault, filepath.Base(payloadPath), timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate archive description: %w", err)
		}
		input.Upload.Description = description
		r.logger.Printf("Archive description: %s", description)
	}

	payload, err := r.osProxy.ReadFile(payloadPath)
	if err != nil {
		return nil, &multipart.Error{Stage: multipart.StageSetup, Err: fmt.Errorf("read payload: %w", err)}
	}

	r.logger.Println()
	r.logger.Infof("Uploading archive...")
	size := int64(len(payload))
	console := progress.NewConsole(r.logger, size, multipart.PartCount(size, input.Upload.PartSize))

	coordinator := multipart.New(r.service, input.Upload, r.logger)
	result, err := coordinator.Upload(ctx, input.Vault, payload, console)
	console.Finish(result, err)
	if err != nil {
		stage, _ := multipart.StageOf(err)
		r.tracker.LogUploadFailed(string(stage), size)
		return nil, err
	}
	r.tracker.LogArchiveUploaded(result.Duration, result.Size, result.PartCount, input.Upload.PartSize, input.Upload.Concurrency)

	receipt := network.NewReceipt(*result, filepath.Base(payloadPath), input.Vault, r.now())

	notified := r.notify(ctx, receipt)

	exportErr := r.exportOutputs(input, *result, receipt)

	notified.Wait()

	if exportErr != nil {
		return nil, exportErr
	}

	return &Outcome{Result: *result, Receipt: receipt, Bundled: bundled}, nil
}

// preparePayload returns the path of the file to upload, bundling directories into workDir.
func (r *Runner) preparePayload(ctx context.Context, input Input, workDir, timestamp string) (string, bool, error) {
	localPath, err := r.resolveSource(ctx, input.SourcePath, workDir)
	if err != nil {
		return "", false, err
	}

	info, err := r.osProxy.Stat(localPath)
	if err != nil {
		return "", false, fmt.Errorf("source path doesn't exist: %w", err)
	}
	if !info.IsDir() {
		r.logger.Printf("Source file: %s (%s)", localPath, units.HumanSizeWithPrecision(float64(info.Size()), 3))
		return localPath, false, nil
	}

	if compression.IsEmptyDir(localPath) {
		return "", false, fmt.Errorf("source directory is empty: %s", localPath)
	}

	r.logger.Println()
	r.logger.Infof("Bundling %s...", localPath)
	bundlePath := filepath.Join(workDir, bundleName(timestamp, input.Vault))
	bundleStartTime := r.now()
	if err := r.bundler.Compress(bundlePath, localPath, input.Excludes); err != nil {
		return "", false, fmt.Errorf("bundling failed: %w", err)
	}
	bundleTime := r.now().Sub(bundleStartTime).Round(time.Second)

	bundleInfo, err := r.osProxy.Stat(bundlePath)
	if err != nil {
		return "", false, err
	}
	entries, err := compression.List(bundlePath)
	if err != nil {
		return "", false, fmt.Errorf("bundle is not readable: %w", err)
	}

	r.tracker.LogArchiveBundled(bundleTime, bundleInfo.Size())
	r.logger.Donef("Bundle created in %s", bundleTime)
	r.logger.Printf("Bundle size: %s (%d entries)", units.HumanSizeWithPrecision(float64(bundleInfo.Size()), 3), len(entries))
	r.logger.Debugf("Bundle path: %s", bundlePath)

	return bundlePath, true, nil
}

// resolveSource returns a local path for source. Remote sources are downloaded into workDir.
func (r *Runner) resolveSource(ctx context.Context, source, workDir string) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		name := path.Base(strings.SplitN(strings.SplitN(source, "?", 2)[0], "#", 2)[0])
		if name == "" || name == "." || name == "/" {
			name = "source"
		}
		dest := filepath.Join(workDir, name)

		r.logger.Infof("Downloading source...")
		if err := r.fetch(ctx, source, dest, r.logger); err != nil {
			return "", fmt.Errorf("failed to download source from %s: %w", source, err)
		}
		return dest, nil
	}

	return r.osProxy.Abs(strings.TrimPrefix(source, fileScheme))
}

func (r *Runner) exportOutputs(input Input, result multipart.Result, receipt network.Receipt) error {
	outputs := []export.Output{
		{Key: ArchiveIDKey, Value: result.ArchiveID, NoExpand: true},
		{Key: ArchiveChecksumKey, Value: result.RemoteChecksum},
		{Key: ArchiveSizeKey, Value: fmt.Sprintf("%d", result.Size)},
	}
	if result.Location != "" {
		outputs = append(outputs, export.Output{Key: ArchiveLocationKey, Value: result.Location, NoExpand: true})
	}
	if err := r.exporter.ExportOutputs(outputs); err != nil {
		return fmt.Errorf("failed to export outputs: %w", err)
	}

	if input.ReceiptDir == "" {
		return nil
	}
	content, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return err
	}
	receiptPath := filepath.Join(input.ReceiptDir, result.ArchiveID+".json")
	if err := r.exporter.ExportOutputFileContent(content, receiptPath, ReceiptPathKey); err != nil {
		return fmt.Errorf("failed to export receipt: %w", err)
	}
	return nil
}

// notify publishes the receipt in the background. Failures are only logged.
func (r *Runner) notify(ctx context.Context, receipt network.Receipt) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, notifier := range r.notifiers {
		wg.Add(1)
		go func(notifier network.Notifier) {
			defer wg.Done()

			notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
			defer cancel()

			if err := notifier.Notify(notifyCtx, receipt); err != nil {
				r.logger.Warnf("Failed to publish upload receipt: %s", err)
				return
			}
			r.logger.Debugf("Upload receipt published")
		}(notifier)
	}
	return &wg
}

func bundleName(timestamp, vault string) string {
	return fmt.Sprintf("%s-%s%s", timestamp, vault, compression.Extension)
}
