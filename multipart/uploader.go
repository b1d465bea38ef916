package multipart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bitrise-io/go-coldstorage/treehash"
)

var errHung = errors.New("part upload hung")

// PartUploader uploads single parts with retry and hung detection.
type PartUploader struct {
	service Service
	config  Config
	logger  log.Logger
	stats   *Stats
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPartUploader creates a PartUploader sending parts to service.
func NewPartUploader(service Service, config Config, logger log.Logger) *PartUploader {
	return &PartUploader{
		service: service,
		config:  config,
		logger:  logger,
		stats:   NewStats(),
		sleep:   sleepContext,
	}
}

// Stats returns the part upload statistics.
func (u *PartUploader) Stats() *Stats {
	return u.stats
}

// Upload sends one part until the vault accepts it.
// Every attempt resends the identical byte range, body and checksum.
// Transient failures are retried with exponential backoff, permanent failures are returned immediately.
func (u *PartUploader) Upload(ctx context.Context, session Session, part Part, body []byte, checksum treehash.Hash) (PartAck, error) {
	req := PartRequest{
		SessionID: session.ID,
		Vault:     session.Vault,
		Range:     part.Range(),
		Body:      body,
		Checksum:  checksum,
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return PartAck{}, fmt.Errorf("part %d upload cancelled: %w", part.Index+1, err)
		}

		u.logger.Debugf("Uploading part %d/%d %s (attempt %d) [finished=%d] [avg=%v]",
			part.Index+1, session.TotalParts, req.Range, attempt,
			u.stats.FinishedCount(), u.stats.Average().Round(time.Millisecond))

		start := time.Now()
		receipt, err := u.attempt(ctx, req, start, part.Index)
		if err == nil {
			err = verifyReceipt(receipt, checksum)
		}
		if err == nil {
			took := time.Since(start)
			u.stats.Update(took)
			u.logger.Debugf("Part %d uploaded in %v", part.Index+1, took.Round(time.Millisecond))
			return PartAck{Part: part, Checksum: checksum.String(), Attempts: attempt}, nil
		}

		u.stats.RecordFailure()
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return PartAck{}, fmt.Errorf("part %d upload cancelled: %w", part.Index+1, ctxErr)
		}
		if IsPermanent(err) {
			return PartAck{}, fmt.Errorf("part %d (%s) rejected: %w", part.Index+1, req.Range, err)
		}
		if u.config.MaxAttemptsPerPart > 0 && attempt >= u.config.MaxAttemptsPerPart {
			break
		}

		backoff := retryablehttp.DefaultBackoff(u.config.RetryWaitMin, u.config.RetryWaitMax, attempt-1, nil)
		u.logger.Warnf("Part %d attempt %d failed: %v, retrying after %v", part.Index+1, attempt, err, backoff)

		if err := u.sleep(ctx, backoff); err != nil {
			return PartAck{}, fmt.Errorf("part %d upload cancelled: %w", part.Index+1, err)
		}
	}

	return PartAck{}, fmt.Errorf("part %d (%s) failed after %d attempts: %w",
		part.Index+1, req.Range, u.config.MaxAttemptsPerPart, lastErr)
}

func (u *PartUploader) attempt(ctx context.Context, req PartRequest, start time.Time, index int) (PartReceipt, error) {
	partCtx, cancelPart := context.WithCancel(ctx)
	defer cancelPart()

	if u.config.PartTimeout > 0 {
		var cancelTimeout context.CancelFunc
		partCtx, cancelTimeout = context.WithTimeout(partCtx, u.config.PartTimeout)
		defer cancelTimeout()
	}

	hung := make(chan struct{})
	if u.config.HungThreshold > 0 {
		go u.detectHungUpload(partCtx, cancelPart, hung, start, index)
	}

	receipt, err := u.service.UploadPart(partCtx, req)
	if err != nil {
		select {
		case <-hung:
			return PartReceipt{}, fmt.Errorf("%w: %v", errHung, err)
		default:
		}
		return PartReceipt{}, err
	}
	return receipt, nil
}

func (u *PartUploader) detectHungUpload(ctx context.Context, cancel context.CancelFunc, hung chan<- struct{}, start time.Time, index int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := u.stats.Average()
				if elapsed-avg > u.config.HungThreshold {
					u.logger.Warnf("Found hung part upload (part %d); canceling request after %s (avg: %s)",
						index+1, elapsed.Round(time.Second), avg.Round(time.Second))
					close(hung)
					cancel()
					return
				}
			}
		}
	}
}

// verifyReceipt treats a part hash echoed back by the vault that differs from ours as a
// corrupted transfer, which resending the same bytes can fix.
func verifyReceipt(receipt PartReceipt, checksum treehash.Hash) error {
	if receipt.Checksum == "" || strings.EqualFold(receipt.Checksum, checksum.String()) {
		return nil
	}
	return fmt.Errorf("vault computed part checksum %s, expected %s", receipt.Checksum, checksum)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
