package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const numReceiptRetries = 3

type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3ReceiptParams ...
type S3ReceiptParams struct {
	AWSParams
	Bucket string
	Prefix string
}

// S3ReceiptNotifier stores receipts as JSON objects in an S3 bucket.
type S3ReceiptNotifier struct {
	uploader  s3Uploader
	bucket    string
	prefix    string
	retryWait time.Duration
	logger    log.Logger
}

// NewS3ReceiptNotifier ...
func NewS3ReceiptNotifier(ctx context.Context, params S3ReceiptParams, logger log.Logger) (*S3ReceiptNotifier, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	cfg, err := loadAWSCredentials(ctx, params.AWSParams, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	uploader := manager.NewUploader(s3.NewFromConfig(*cfg))
	return newS3ReceiptNotifier(uploader, params.Bucket, params.Prefix, logger), nil
}

func newS3ReceiptNotifier(uploader s3Uploader, bucket, prefix string, logger log.Logger) *S3ReceiptNotifier {
	return &S3ReceiptNotifier{
		uploader:  uploader,
		bucket:    bucket,
		prefix:    prefix,
		retryWait: 5 * time.Second,
		logger:    logger,
	}
}

// Notify uploads the receipt to `<prefix>/<archive ID>.json`.
func (n *S3ReceiptNotifier) Notify(ctx context.Context, receipt Receipt) error {
	body, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return err
	}
	key := n.objectKey(receipt)

	// retry.Wait does not watch ctx, so a cancelled notify aborts from the attempt itself
	return retry.Times(numReceiptRetries).Wait(n.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload receipt: %w", err), true
		}

		_, err := n.uploader.Upload(ctx, &s3.PutObjectInput{
			Body:              bytes.NewReader(body),
			Bucket:            aws.String(n.bucket),
			Key:               aws.String(key),
			ContentType:       aws.String("application/json"),
			ContentLength:     aws.Int64(int64(len(body))),
			ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		})
		if err != nil {
			n.logger.Debugf("Receipt upload attempt %d failed: %s", attempt+1, err)
			return fmt.Errorf("upload receipt: %w", err), isClientFault(err) || ctx.Err() != nil
		}

		n.logger.Debugf("Receipt stored at s3://%s/%s", n.bucket, key)
		return nil, true
	})
}

func (n *S3ReceiptNotifier) objectKey(receipt Receipt) string {
	return path.Join(n.prefix, receipt.ArchiveID+".json")
}
