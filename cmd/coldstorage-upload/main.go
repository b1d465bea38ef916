// Command coldstorage-upload uploads a file or directory to a cold storage vault.
// It reads its configuration from environment variables, see Inputs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-coldstorage/analytics"
	"github.com/bitrise-io/go-coldstorage/archiver"
	"github.com/bitrise-io/go-coldstorage/compression"
	"github.com/bitrise-io/go-coldstorage/export"
	"github.com/bitrise-io/go-coldstorage/multipart"
	"github.com/bitrise-io/go-coldstorage/network"
	"github.com/bitrise-io/go-coldstorage/stepconf"
)

func main() {
	os.Exit(run())
}

func run() int {
	startTime := time.Now()
	logger := log.NewLogger()
	envRepo := env.NewRepository()

	inputs := defaultInputs()
	if err := stepconf.NewInputParser(envRepo).Parse(&inputs); err != nil {
		logger.Errorf("%s", err)
		return 1
	}
	stepconf.Print(inputs)
	logger.EnableDebugLog(inputs.Verbose)

	if err := inputs.validate(); err != nil {
		logger.Errorf("Invalid inputs:\n%s", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, tracker, err := newRunner(ctx, inputs, envRepo, logger)
	if err != nil {
		logger.Errorf("%s", err)
		return 1
	}
	defer tracker.Wait()

	outcome, err := runner.Run(ctx, inputs.archiverInput(startTime))
	if err != nil {
		logger.Println()
		logger.Errorf("Upload failed: %s", err)
		return 1
	}

	logger.Println()
	logger.Donef("Archive %s stored in vault %s", outcome.Result.ArchiveID, inputs.VaultName)
	return 0
}

func newRunner(ctx context.Context, inputs Inputs, envRepo env.Repository, logger log.Logger) (*archiver.Runner, *analytics.UploadTracker, error) {
	service, err := newService(ctx, inputs, logger)
	if err != nil {
		return nil, nil, err
	}

	notifiers, err := newNotifiers(ctx, inputs, logger)
	if err != nil {
		return nil, nil, err
	}

	stepTracker, err := analytics.NewDefaultStepTracker(envRepo, logger)
	if err != nil {
		logger.Debugf("Analytics disabled: %s", err)
	}
	tracker := analytics.NewUploadTracker(stepTracker, inputs.VaultName, inputs.Service)

	bundler := compression.NewArchiver(logger, envRepo, compression.NewDependencyChecker(logger, envRepo), inputs.CompressionLevel)
	exporter := export.NewExporter(command.NewFactory(envRepo))

	return archiver.NewRunner(logger, envRepo, service, bundler, &exporter, tracker, notifiers...), tracker, nil
}

func newService(ctx context.Context, inputs Inputs, logger log.Logger) (multipart.Service, error) {
	switch inputs.Service {
	case serviceAPI:
		return network.NewAPIService(network.APIParams{
			BaseURL: inputs.APIBaseURL,
			Token:   string(inputs.APIToken),
		}, logger)
	case serviceGlacier:
		return network.NewGlacierService(ctx, network.GlacierParams{
			AWSParams: awsParams(inputs),
			AccountID: inputs.AWSAccountID,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown service: %s", inputs.Service)
	}
}

func newNotifiers(ctx context.Context, inputs Inputs, logger log.Logger) ([]network.Notifier, error) {
	var notifiers []network.Notifier

	if inputs.NotifyWebhookURL != "" {
		webhook, err := network.NewWebhookNotifier(inputs.NotifyWebhookURL, logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, webhook)
	}

	if inputs.ReceiptBucket != "" {
		s3Notifier, err := network.NewS3ReceiptNotifier(ctx, network.S3ReceiptParams{
			AWSParams: awsParams(inputs),
			Bucket:    inputs.ReceiptBucket,
			Prefix:    inputs.ReceiptPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, s3Notifier)
	}

	return notifiers, nil
}

func awsParams(inputs Inputs) network.AWSParams {
	return network.AWSParams{
		Region:          inputs.AWSRegion,
		AccessKeyID:     string(inputs.AWSAccessKeyID),
		SecretAccessKey: string(inputs.AWSSecretAccessKey),
	}
}
