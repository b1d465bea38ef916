package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-coldstorage/multipart"
	"github.com/bitrise-io/go-coldstorage/treehash"
)

type mockGlacierAPI struct {
	mock.Mock
}

func (m *mockGlacierAPI) InitiateMultipartUpload(ctx context.Context, params *glacier.InitiateMultipartUploadInput, _ ...func(*glacier.Options)) (*glacier.InitiateMultipartUploadOutput, error) {
	args := m.Called(ctx, params)
	output, _ := args.Get(0).(*glacier.InitiateMultipartUploadOutput)
	return output, args.Error(1)
}

func (m *mockGlacierAPI) UploadMultipartPart(ctx context.Context, params *glacier.UploadMultipartPartInput, _ ...func(*glacier.Options)) (*glacier.UploadMultipartPartOutput, error) {
	args := m.Called(ctx, params)
	output, _ := args.Get(0).(*glacier.UploadMultipartPartOutput)
	return output, args.Error(1)
}

func (m *mockGlacierAPI) CompleteMultipartUpload(ctx context.Context, params *glacier.CompleteMultipartUploadInput, _ ...func(*glacier.Options)) (*glacier.CompleteMultipartUploadOutput, error) {
	args := m.Called(ctx, params)
	output, _ := args.Get(0).(*glacier.CompleteMultipartUploadOutput)
	return output, args.Error(1)
}

func (m *mockGlacierAPI) AbortMultipartUpload(ctx context.Context, params *glacier.AbortMultipartUploadInput, _ ...func(*glacier.Options)) (*glacier.AbortMultipartUploadOutput, error) {
	args := m.Called(ctx, params)
	output, _ := args.Get(0).(*glacier.AbortMultipartUploadOutput)
	return output, args.Error(1)
}

func TestGlacierService_Initiate(t *testing.T) {
	client := new(mockGlacierAPI)
	client.On("InitiateMultipartUpload", mock.Anything, &glacier.InitiateMultipartUploadInput{
		AccountId:          aws.String("-"),
		VaultName:          aws.String("backups"),
		PartSize:           aws.String("1048576"),
		ArchiveDescription: aws.String("nightly"),
	}).Return(&glacier.InitiateMultipartUploadOutput{
		UploadId: aws.String("upload-1"),
		Location: aws.String("/-/vaults/backups/multipart-uploads/upload-1"),
	}, nil)

	service := newGlacierService(client, "", log.NewLogger())
	id, err := service.Initiate(context.Background(), multipart.InitiateRequest{Vault: "backups", PartSize: 1048576, Description: "nightly"})

	require.NoError(t, err)
	assert.Equal(t, "upload-1", id)
	client.AssertExpectations(t)
}

func TestGlacierService_Initiate_InvalidPartSize(t *testing.T) {
	client := new(mockGlacierAPI)
	service := newGlacierService(client, "", log.NewLogger())

	_, err := service.Initiate(context.Background(), multipart.InitiateRequest{Vault: "backups", PartSize: 3 * 1024 * 1024})

	require.Error(t, err)
	assert.True(t, multipart.IsPermanent(err))
	client.AssertNotCalled(t, "InitiateMultipartUpload", mock.Anything, mock.Anything)
}

func TestGlacierService_UploadPart(t *testing.T) {
	body := []byte("part payload")
	checksum := treehash.Sum(body)

	client := new(mockGlacierAPI)
	client.On("UploadMultipartPart", mock.Anything, mock.MatchedBy(func(input *glacier.UploadMultipartPartInput) bool {
		reader, ok := input.Body.(*bytes.Reader)
		if !ok {
			return false
		}
		data := make([]byte, reader.Size())
		_, err := reader.ReadAt(data, 0)
		return (err == nil || err == io.EOF) &&
			bytes.Equal(data, body) &&
			aws.ToString(input.AccountId) == "123456789012" &&
			aws.ToString(input.UploadId) == "upload-1" &&
			aws.ToString(input.Range) == "bytes 1048576-1048587/*" &&
			aws.ToString(input.Checksum) == checksum.String()
	})).Return(&glacier.UploadMultipartPartOutput{Checksum: aws.String(checksum.String())}, nil)

	service := newGlacierService(client, "123456789012", log.NewLogger())
	receipt, err := service.UploadPart(context.Background(), multipart.PartRequest{
		SessionID: "upload-1",
		Vault:     "backups",
		Range:     multipart.ByteRange{Start: 1048576, End: 1048587},
		Body:      body,
		Checksum:  checksum,
	})

	require.NoError(t, err)
	assert.Equal(t, checksum.String(), receipt.Checksum)
	client.AssertExpectations(t)
}

func TestGlacierService_Complete(t *testing.T) {
	root := treehash.Sum([]byte("archive"))

	client := new(mockGlacierAPI)
	client.On("CompleteMultipartUpload", mock.Anything, &glacier.CompleteMultipartUploadInput{
		AccountId:   aws.String("-"),
		VaultName:   aws.String("backups"),
		UploadId:    aws.String("upload-1"),
		ArchiveSize: aws.String("2621440"),
		Checksum:    aws.String(root.String()),
	}).Return(&glacier.CompleteMultipartUploadOutput{
		ArchiveId: aws.String("archive-1"),
		Checksum:  aws.String(root.String()),
		Location:  aws.String("/-/vaults/backups/archives/archive-1"),
	}, nil)

	service := newGlacierService(client, "", log.NewLogger())
	completion, err := service.Complete(context.Background(), multipart.CompleteRequest{
		SessionID:    "upload-1",
		Vault:        "backups",
		TotalLength:  2621440,
		RootChecksum: root,
	})

	require.NoError(t, err)
	assert.Equal(t, multipart.Completion{
		ArchiveID: "archive-1",
		Checksum:  root.String(),
		Location:  "/-/vaults/backups/archives/archive-1",
	}, completion)
	client.AssertExpectations(t)
}

func TestGlacierService_Abort(t *testing.T) {
	client := new(mockGlacierAPI)
	client.On("AbortMultipartUpload", mock.Anything, &glacier.AbortMultipartUploadInput{
		AccountId: aws.String("-"),
		VaultName: aws.String("backups"),
		UploadId:  aws.String("upload-1"),
	}).Return(&glacier.AbortMultipartUploadOutput{}, nil)

	service := newGlacierService(client, "", log.NewLogger())
	require.NoError(t, service.Abort(context.Background(), "backups", "upload-1"))
	client.AssertExpectations(t)
}

func TestClassifyGlacierError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantPermanent bool
		wantMismatch  bool
	}{
		{
			name: "transport error",
			err:  errors.New("connection reset by peer"),
		},
		{
			name: "request timeout",
			err:  &smithy.GenericAPIError{Code: "RequestTimeoutException", Message: "timed out", Fault: smithy.FaultClient},
		},
		{
			name: "service unavailable",
			err:  &smithy.GenericAPIError{Code: "ServiceUnavailableException", Message: "try again", Fault: smithy.FaultServer},
		},
		{
			name:         "checksum rejected",
			err:          &smithy.GenericAPIError{Code: "InvalidParameterValueException", Message: "Checksum mismatch", Fault: smithy.FaultClient},
			wantMismatch: true,
		},
		{
			name:          "vault not found",
			err:           &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "Vault not found", Fault: smithy.FaultClient},
			wantPermanent: true,
		},
		{
			name:          "invalid range",
			err:           &smithy.GenericAPIError{Code: "InvalidParameterValueException", Message: "Content-Range: bytes 0-1/* is incompatible", Fault: smithy.FaultClient},
			wantPermanent: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyGlacierError(tt.err)
			assert.Equal(t, tt.wantPermanent, multipart.IsPermanent(err))
			assert.Equal(t, tt.wantMismatch, errors.Is(err, multipart.ErrChecksumMismatch))
		})
	}
}
