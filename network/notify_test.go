package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-coldstorage/multipart"
)

func testReceipt() Receipt {
	return NewReceipt(multipart.Result{
		ArchiveID:      "archive-1",
		RemoteChecksum: "abc123",
		Location:       "/-/vaults/backups/archives/archive-1",
		Size:           2621440,
		PartCount:      3,
		Duration:       1500 * time.Millisecond,
	}, "backup.tar.zst", "backups", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestReceipt_JSON(t *testing.T) {
	data, err := json.Marshal(testReceipt())
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))

	assert.Equal(t, "archive-1", fields["archive_id"])
	assert.Equal(t, "backup.tar.zst", fields["filename"])
	assert.Equal(t, "backups", fields["vault"])
	assert.Equal(t, float64(2621440), fields["file_size_bytes"])
	assert.Equal(t, "abc123", fields["checksum"])
	assert.Equal(t, 1.5, fields["duration_seconds"])
	assert.Equal(t, "2024-03-01T10:00:00Z", fields["uploaded_at"])
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var received Receipt
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := retryablehttp.NewClient()
	client.Logger = nil
	notifier := newWebhookNotifier(client, server.URL, log.NewLogger())

	require.NoError(t, notifier.Notify(context.Background(), testReceipt()))
	assert.Equal(t, testReceipt(), received)
}

func TestWebhookNotifier_Notify_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid token"))
	}))
	defer server.Close()

	client := retryablehttp.NewClient()
	client.Logger = nil
	notifier := newWebhookNotifier(client, server.URL, log.NewLogger())

	err := notifier.Notify(context.Background(), testReceipt())
	assert.EqualError(t, err, "HTTP 401: invalid token")
}

func TestNewWebhookNotifier_EmptyURL(t *testing.T) {
	_, err := NewWebhookNotifier("", log.NewLogger())
	assert.Error(t, err)
}

type fakeS3Uploader struct {
	inputs   []*s3.PutObjectInput
	bodies   [][]byte
	errs     []error
	onUpload func()
}

func (u *fakeS3Uploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.inputs = append(u.inputs, input)
	u.bodies = append(u.bodies, body)
	if u.onUpload != nil {
		u.onUpload()
	}

	if len(u.errs) > 0 {
		err, u.errs = u.errs[0], u.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &manager.UploadOutput{}, nil
}

func TestS3ReceiptNotifier_Notify(t *testing.T) {
	uploader := &fakeS3Uploader{}
	notifier := newS3ReceiptNotifier(uploader, "receipts-bucket", "coldstorage/receipts", log.NewLogger())

	require.NoError(t, notifier.Notify(context.Background(), testReceipt()))

	require.Len(t, uploader.inputs, 1)
	assert.Equal(t, "receipts-bucket", aws.ToString(uploader.inputs[0].Bucket))
	assert.Equal(t, "coldstorage/receipts/archive-1.json", aws.ToString(uploader.inputs[0].Key))
	assert.Equal(t, "application/json", aws.ToString(uploader.inputs[0].ContentType))

	var stored Receipt
	require.NoError(t, json.Unmarshal(uploader.bodies[0], &stored))
	assert.Equal(t, testReceipt(), stored)
}

func TestS3ReceiptNotifier_Notify_Retries(t *testing.T) {
	uploader := &fakeS3Uploader{errs: []error{errors.New("connection reset"), nil}}
	notifier := newS3ReceiptNotifier(uploader, "receipts-bucket", "", log.NewLogger())
	notifier.retryWait = 0

	require.NoError(t, notifier.Notify(context.Background(), testReceipt()))
	assert.Len(t, uploader.inputs, 2)
	assert.Equal(t, uploader.bodies[0], uploader.bodies[1])
	assert.Equal(t, "archive-1.json", aws.ToString(uploader.inputs[1].Key))
}

func TestS3ReceiptNotifier_Notify_AbortsOnClientFault(t *testing.T) {
	uploader := &fakeS3Uploader{errs: []error{
		&smithy.GenericAPIError{Code: "AccessDenied", Message: "denied", Fault: smithy.FaultClient},
		nil,
	}}
	notifier := newS3ReceiptNotifier(uploader, "receipts-bucket", "", log.NewLogger())
	notifier.retryWait = 0

	err := notifier.Notify(context.Background(), testReceipt())
	assert.Error(t, err)
	assert.Len(t, uploader.inputs, 1)
}

func TestS3ReceiptNotifier_Notify_CancelledContext(t *testing.T) {
	uploader := &fakeS3Uploader{}
	notifier := newS3ReceiptNotifier(uploader, "receipts-bucket", "", log.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := notifier.Notify(ctx, testReceipt())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, uploader.inputs)
}

func TestS3ReceiptNotifier_Notify_StopsRetryingWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uploader := &fakeS3Uploader{
		errs:     []error{errors.New("connection reset"), nil},
		onUpload: cancel,
	}
	notifier := newS3ReceiptNotifier(uploader, "receipts-bucket", "", log.NewLogger())
	notifier.retryWait = time.Hour

	done := make(chan error, 1)
	go func() {
		done <- notifier.Notify(ctx, testReceipt())
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Len(t, uploader.inputs, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("notify kept waiting for a retry after cancellation")
	}
}

func TestNewS3ReceiptNotifier_Validation(t *testing.T) {
	_, err := NewS3ReceiptNotifier(context.Background(), S3ReceiptParams{AWSParams: AWSParams{Region: "us-east-1"}}, log.NewLogger())
	assert.EqualError(t, err, "bucket must not be empty")

	_, err = NewS3ReceiptNotifier(context.Background(), S3ReceiptParams{Bucket: "receipts"}, log.NewLogger())
	assert.ErrorContains(t, err, "region must not be empty")
}
