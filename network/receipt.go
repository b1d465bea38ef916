package network

import (
	"context"
	"time"

	"github.com/bitrise-io/go-coldstorage/multipart"
)

// Receipt describes an archive stored in a vault.
type Receipt struct {
	ArchiveID       string    `json:"archive_id"`
	Filename        string    `json:"filename"`
	Vault           string    `json:"vault"`
	FileSizeBytes   int64     `json:"file_size_bytes"`
	Checksum        string    `json:"checksum"`
	Location        string    `json:"location,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	UploadedAt      time.Time `json:"uploaded_at"`
}

// NewReceipt creates the receipt of a finalized upload.
func NewReceipt(result multipart.Result, filename, vault string, uploadedAt time.Time) Receipt {
	return Receipt{
		ArchiveID:       result.ArchiveID,
		Filename:        filename,
		Vault:           vault,
		FileSizeBytes:   result.Size,
		Checksum:        result.RemoteChecksum,
		Location:        result.Location,
		DurationSeconds: result.DurationSeconds(),
		UploadedAt:      uploadedAt.UTC(),
	}
}

// Notifier publishes receipts of finalized uploads.
type Notifier interface {
	Notify(ctx context.Context, receipt Receipt) error
}
