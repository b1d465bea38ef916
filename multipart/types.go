// Package multipart uploads a payload to a cold-storage vault as a set of byte range parts.
// It supports parallel part uploads, hung request detection, retries and a single,
// checksum verified finalize call.
package multipart

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-coldstorage/treehash"
)

// ByteRange is an inclusive range of payload offsets.
type ByteRange struct {
	Start int64
	End   int64
}

// String returns the range in `start-end` form.
func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ContentRange returns the range as a Content-Range header value with unknown total length.
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/*", r.Start, r.End)
}

// Part is a view into the payload that is uploaded as one unit.
type Part struct {
	Index  int
	Offset int64
	Length int64
}

// Range returns the bytes covered by the part.
func (p Part) Range() ByteRange {
	return ByteRange{Start: p.Offset, End: p.Offset + p.Length - 1}
}

// Body returns the part's bytes from payload.
// The returned slice has its capacity clipped so appends can never write into the next part.
func (p Part) Body(payload []byte) []byte {
	end := p.Offset + p.Length
	return payload[p.Offset:end:end]
}

// Session is a multipart upload acknowledged by the vault.
type Session struct {
	ID           string
	Vault        string
	PartSize     int64
	TotalParts   int
	TotalLength  int64
	RootChecksum treehash.Hash
	InitiatedAt  time.Time
}

// InitiateRequest opens a multipart session.
type InitiateRequest struct {
	Vault       string
	PartSize    int64
	Description string
}

// PartRequest uploads one part of a session.
type PartRequest struct {
	SessionID string
	Vault     string
	Range     ByteRange
	Body      []byte
	Checksum  treehash.Hash
}

// PartReceipt is the vault's answer to an accepted part.
// Checksum is empty when the vault does not echo the part hash.
type PartReceipt struct {
	Checksum string
}

// CompleteRequest finalizes a session.
type CompleteRequest struct {
	SessionID    string
	Vault        string
	TotalLength  int64
	RootChecksum treehash.Hash
}

// Completion is the vault's answer to a successful finalize call.
type Completion struct {
	ArchiveID string
	Checksum  string
	Location  string
}

// Service is the remote side of the multipart protocol.
type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (string, error)
	UploadPart(ctx context.Context, req PartRequest) (PartReceipt, error)
	Complete(ctx context.Context, req CompleteRequest) (Completion, error)
	Abort(ctx context.Context, vault, sessionID string) error
}

// PartAck confirms that the vault accepted a part.
type PartAck struct {
	Part     Part
	Checksum string
	Attempts int
}

// Result describes a finalized archive.
type Result struct {
	ArchiveID      string
	RemoteChecksum string
	Location       string
	SessionID      string
	Size           int64
	PartCount      int
	Duration       time.Duration
}

// DurationSeconds returns the elapsed upload time in seconds.
func (r Result) DurationSeconds() float64 {
	return r.Duration.Seconds()
}
