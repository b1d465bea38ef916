package main

import (
	"errors"
	"strings"
	"time"

	"github.com/bitrise-io/go-coldstorage/archiver"
	"github.com/bitrise-io/go-coldstorage/multipart"
	"github.com/bitrise-io/go-coldstorage/stepconf"
)

const (
	serviceGlacier = "glacier"
	serviceAPI     = "api"
)

// Inputs ...
type Inputs struct {
	SourcePath string `env:"source_path,required"`
	VaultName  string `env:"vault_name,required"`
	Service    string `env:"service,opt[glacier,api]"`

	AWSRegion          string          `env:"aws_region"`
	AWSAccessKeyID     stepconf.Secret `env:"aws_access_key_id"`
	AWSSecretAccessKey stepconf.Secret `env:"aws_secret_access_key"`
	AWSAccountID       string          `env:"aws_account_id"`

	APIBaseURL string          `env:"api_base_url"`
	APIToken   stepconf.Secret `env:"api_token"`

	PartSize           int64         `env:"part_size,size"`
	Concurrency        int           `env:"concurrency"`
	MaxAttemptsPerPart int           `env:"max_attempts_per_part"`
	RetryWaitMin       time.Duration `env:"retry_wait_min"`
	RetryWaitMax       time.Duration `env:"retry_wait_max"`
	HungThreshold      time.Duration `env:"hung_threshold"`
	PartTimeout        time.Duration `env:"part_timeout"`

	BundleExcludes     []string `env:"bundle_excludes"`
	CompressionLevel   int      `env:"compression_level"`
	ArchiveDescription string   `env:"archive_description"`

	ReceiptDir       string `env:"receipt_dir"`
	NotifyWebhookURL string `env:"notify_webhook_url"`
	ReceiptBucket    string `env:"receipt_bucket"`
	ReceiptPrefix    string `env:"receipt_prefix"`

	Verbose bool `env:"verbose"`
}

func defaultInputs() Inputs {
	upload := multipart.DefaultConfig()
	return Inputs{
		Service:            serviceGlacier,
		PartSize:           upload.PartSize,
		Concurrency:        upload.Concurrency,
		MaxAttemptsPerPart: upload.MaxAttemptsPerPart,
		RetryWaitMin:       upload.RetryWaitMin,
		RetryWaitMax:       upload.RetryWaitMax,
		HungThreshold:      upload.HungThreshold,
		ArchiveDescription: "{{ .Source }} uploaded at {{ .Timestamp }}",
	}
}

func (i Inputs) validate() error {
	var errs []string

	switch i.Service {
	case serviceAPI:
		if i.APIBaseURL == "" {
			errs = append(errs, "api_base_url is required for the api service")
		}
		if i.APIToken == "" {
			errs = append(errs, "api_token is required for the api service")
		}
	case serviceGlacier:
		if (i.AWSAccessKeyID == "") != (i.AWSSecretAccessKey == "") {
			errs = append(errs, "aws_access_key_id and aws_secret_access_key must be set together")
		}
	}

	if i.CompressionLevel < 0 || i.CompressionLevel > 19 {
		errs = append(errs, "compression_level should be between 1 and 19")
	}
	if i.ReceiptPrefix != "" && i.ReceiptBucket == "" {
		errs = append(errs, "receipt_prefix requires receipt_bucket")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "\n"))
	}
	return nil
}

func (i Inputs) uploadConfig(startTime time.Time) multipart.Config {
	return multipart.Config{
		PartSize:           i.PartSize,
		Concurrency:        i.Concurrency,
		MaxAttemptsPerPart: i.MaxAttemptsPerPart,
		RetryWaitMin:       i.RetryWaitMin,
		RetryWaitMax:       i.RetryWaitMax,
		HungThreshold:      i.HungThreshold,
		PartTimeout:        i.PartTimeout,
		StartTime:          startTime,
	}
}

func (i Inputs) archiverInput(startTime time.Time) archiver.Input {
	return archiver.Input{
		SourcePath:          i.SourcePath,
		Vault:               i.VaultName,
		Excludes:            i.BundleExcludes,
		DescriptionTemplate: i.ArchiveDescription,
		ReceiptDir:          i.ReceiptDir,
		Upload:              i.uploadConfig(startTime),
	}
}
