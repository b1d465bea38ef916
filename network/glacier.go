package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-coldstorage/multipart"
	"github.com/bitrise-io/go-coldstorage/treehash"
)

// defaultAccountID makes Glacier use the account of the signing credentials.
const defaultAccountID = "-"

var transientGlacierCodes = map[string]bool{
	"RequestTimeoutException":     true,
	"ServiceUnavailableException": true,
	"ThrottlingException":         true,
	"SlowDown":                    true,
}

type glacierAPI interface {
	InitiateMultipartUpload(ctx context.Context, params *glacier.InitiateMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.InitiateMultipartUploadOutput, error)
	UploadMultipartPart(ctx context.Context, params *glacier.UploadMultipartPartInput, optFns ...func(*glacier.Options)) (*glacier.UploadMultipartPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *glacier.CompleteMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *glacier.AbortMultipartUploadInput, optFns ...func(*glacier.Options)) (*glacier.AbortMultipartUploadOutput, error)
}

// GlacierParams ...
type GlacierParams struct {
	AWSParams
	AccountID string
}

// GlacierService implements multipart.Service on top of the AWS Glacier API.
type GlacierService struct {
	client    glacierAPI
	accountID string
	logger    log.Logger
}

// NewGlacierService creates a GlacierService for the given region and credentials.
// Without explicit credentials the default AWS credential chain is used.
func NewGlacierService(ctx context.Context, params GlacierParams, logger log.Logger) (*GlacierService, error) {
	cfg, err := loadAWSCredentials(ctx, params.AWSParams, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return newGlacierService(glacier.NewFromConfig(*cfg), params.AccountID, logger), nil
}

func newGlacierService(client glacierAPI, accountID string, logger log.Logger) *GlacierService {
	if accountID == "" {
		accountID = defaultAccountID
	}
	return &GlacierService{
		client:    client,
		accountID: accountID,
		logger:    logger,
	}
}

// Initiate ...
func (s *GlacierService) Initiate(ctx context.Context, req multipart.InitiateRequest) (string, error) {
	if !treehash.ValidPartSize(req.PartSize) {
		return "", multipart.Permanent(fmt.Errorf("part size %d is not a power of two multiple of 1 MiB between 1 MiB and 4 GiB", req.PartSize))
	}

	input := &glacier.InitiateMultipartUploadInput{
		AccountId: aws.String(s.accountID),
		VaultName: aws.String(req.Vault),
		PartSize:  aws.String(strconv.FormatInt(req.PartSize, 10)),
	}
	if req.Description != "" {
		input.ArchiveDescription = aws.String(req.Description)
	}

	output, err := s.client.InitiateMultipartUpload(ctx, input)
	if err != nil {
		return "", classifyGlacierError(err)
	}
	if output == nil || aws.ToString(output.UploadId) == "" {
		return "", fmt.Errorf("no upload ID in initiate response")
	}

	s.logger.Debugf("Initiated multipart upload at %s", aws.ToString(output.Location))
	return aws.ToString(output.UploadId), nil
}

// UploadPart ...
func (s *GlacierService) UploadPart(ctx context.Context, req multipart.PartRequest) (multipart.PartReceipt, error) {
	output, err := s.client.UploadMultipartPart(ctx, &glacier.UploadMultipartPartInput{
		AccountId: aws.String(s.accountID),
		VaultName: aws.String(req.Vault),
		UploadId:  aws.String(req.SessionID),
		Range:     aws.String(req.Range.ContentRange()),
		Checksum:  aws.String(req.Checksum.String()),
		Body:      bytes.NewReader(req.Body),
	})
	if err != nil {
		return multipart.PartReceipt{}, classifyGlacierError(err)
	}
	if output == nil {
		return multipart.PartReceipt{}, nil
	}
	return multipart.PartReceipt{Checksum: aws.ToString(output.Checksum)}, nil
}

// Complete ...
func (s *GlacierService) Complete(ctx context.Context, req multipart.CompleteRequest) (multipart.Completion, error) {
	output, err := s.client.CompleteMultipartUpload(ctx, &glacier.CompleteMultipartUploadInput{
		AccountId:   aws.String(s.accountID),
		VaultName:   aws.String(req.Vault),
		UploadId:    aws.String(req.SessionID),
		ArchiveSize: aws.String(strconv.FormatInt(req.TotalLength, 10)),
		Checksum:    aws.String(req.RootChecksum.String()),
	})
	if err != nil {
		return multipart.Completion{}, classifyGlacierError(err)
	}
	if output == nil {
		return multipart.Completion{}, fmt.Errorf("empty complete response")
	}

	return multipart.Completion{
		ArchiveID: aws.ToString(output.ArchiveId),
		Checksum:  aws.ToString(output.Checksum),
		Location:  aws.ToString(output.Location),
	}, nil
}

// Abort ...
func (s *GlacierService) Abort(ctx context.Context, vault, sessionID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &glacier.AbortMultipartUploadInput{
		AccountId: aws.String(s.accountID),
		VaultName: aws.String(vault),
		UploadId:  aws.String(sessionID),
	})
	if err != nil {
		return classifyGlacierError(err)
	}
	return nil
}

// classifyGlacierError marks client side API errors permanent.
// Checksum rejections are kept retryable: the bytes may have been corrupted in transit.
func classifyGlacierError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	if transientGlacierCodes[apiErr.ErrorCode()] {
		return err
	}
	if isChecksumMessage(apiErr.ErrorMessage()) {
		return fmt.Errorf("%w: %s", multipart.ErrChecksumMismatch, err)
	}
	if apiErr.ErrorFault() == smithy.FaultClient {
		return multipart.Permanent(err)
	}
	return err
}

func isChecksumMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "checksum") || strings.Contains(msg, "tree hash")
}
