package multipart

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"github.com/bitrise-io/go-coldstorage/treehash"
)

const abortTimeout = 30 * time.Second

// Coordinator drives a multipart upload from initiation to the finalize call.
// A Coordinator can run multiple uploads, each Upload call keeps its own state.
type Coordinator struct {
	service Service
	config  Config
	logger  log.Logger
	now     func() time.Time
}

// New creates a Coordinator using service as the vault.
func New(service Service, config Config, logger log.Logger) *Coordinator {
	return &Coordinator{
		service: service,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

type uploadContext struct {
	session    Session
	payload    []byte
	parts      []Part
	partHashes []treehash.Hash
	tracker    *Tracker
	reporter   Reporter
	uploader   *PartUploader
	startedAt  time.Time
}

// UploadFile reads the file at pth and uploads it to vault.
func (c *Coordinator) UploadFile(ctx context.Context, vault, pth string, reporter Reporter) (*Result, error) {
	payload, err := os.ReadFile(pth)
	if err != nil {
		return nil, &Error{Stage: StageSetup, Err: fmt.Errorf("read payload: %w", err)}
	}
	return c.Upload(ctx, vault, payload, reporter)
}

// Upload stores payload as a single archive in vault.
// Parts are uploaded in parallel and the session is finalized exactly once, after every part
// was acknowledged. Failures are returned as *Error carrying the failed stage.
func (c *Coordinator) Upload(ctx context.Context, vault string, payload []byte, reporter Reporter) (*Result, error) {
	if err := c.config.validate(); err != nil {
		return nil, &Error{Stage: StageSetup, Err: fmt.Errorf("invalid config: %w", err)}
	}

	uc, err := c.prepare(vault, payload, reporter)
	if err != nil {
		return nil, &Error{Stage: StageSetup, Err: err}
	}

	c.logger.Infof("Initiating multipart upload to vault %s (%s in %d parts)",
		vault, units.HumanSizeWithPrecision(float64(len(payload)), 3), len(uc.parts))

	sessionID, err := c.service.Initiate(ctx, InitiateRequest{
		Vault:       vault,
		PartSize:    c.config.PartSize,
		Description: c.config.Description,
	})
	if err != nil {
		return nil, &Error{Stage: StageSetup, Err: fmt.Errorf("initiate multipart upload: %w", err)}
	}

	uc.session.ID = sessionID
	uc.session.InitiatedAt = c.now()
	uc.startedAt = uc.session.InitiatedAt
	if !c.config.StartTime.IsZero() {
		uc.startedAt = c.config.StartTime
	}
	c.logger.Debugf("Multipart upload session: %s", sessionID)

	if len(uc.parts) > 0 {
		if err := c.dispatch(ctx, uc); err != nil {
			c.abort(ctx, uc.session)
			return nil, &Error{Stage: StageDispatch, SessionID: sessionID, Err: err}
		}
	}

	result, err := c.finalize(ctx, uc)
	if err != nil {
		return nil, &Error{Stage: StageFinalize, SessionID: sessionID, Err: err}
	}
	return result, nil
}

func (c *Coordinator) prepare(vault string, payload []byte, reporter Reporter) (*uploadContext, error) {
	parts, err := SplitParts(int64(len(payload)), c.config.PartSize)
	if err != nil {
		return nil, err
	}

	partHashes, err := treehash.PartHashes(payload, c.config.PartSize)
	if err != nil {
		return nil, fmt.Errorf("compute part checksums: %w", err)
	}
	if len(partHashes) != len(parts) {
		return nil, fmt.Errorf("computed %d part checksums for %d parts", len(partHashes), len(parts))
	}

	// part hashes only reduce to the root when parts align with the tree
	var root treehash.Hash
	if treehash.ValidPartSize(c.config.PartSize) {
		root = treehash.Combine(partHashes)
	} else {
		root = treehash.Sum(payload)
	}

	return &uploadContext{
		session: Session{
			Vault:        vault,
			PartSize:     c.config.PartSize,
			TotalParts:   len(parts),
			TotalLength:  int64(len(payload)),
			RootChecksum: root,
		},
		payload:    payload,
		parts:      parts,
		partHashes: partHashes,
		tracker:    NewTracker(len(parts)),
		reporter:   newSafeReporter(reporter, c.logger),
		uploader:   NewPartUploader(c.service, c.config, c.logger),
	}, nil
}

func (c *Coordinator) dispatch(ctx context.Context, uc *uploadContext) error {
	acks := make(chan PartAck, len(uc.parts))
	dispatchErr := make(chan error, 1)

	g, gctx := errgroup.WithContext(ctx)
	if c.config.Concurrency > 0 {
		g.SetLimit(c.config.Concurrency)
	}

	go func() {
		for _, part := range uc.parts {
			part := part
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}

				uc.reporter.PartDispatched(part)

				ack, err := uc.uploader.Upload(gctx, uc.session, part, part.Body(uc.payload), uc.partHashes[part.Index])
				if err != nil {
					uc.tracker.Fail(part.Index, err)
					return err
				}
				acks <- ack
				return nil
			})
		}
		dispatchErr <- g.Wait()
		close(acks)
	}()

	finalize := false
	for ack := range acks {
		done, err := uc.tracker.Ack(ack.Part.Index)
		if errors.Is(err, ErrDuplicateAck) {
			continue
		}
		if err != nil {
			c.logger.Warnf("Ignoring acknowledgement: %s", err)
			continue
		}

		uc.reporter.PartCompleted(ack.Part)
		if ack.Attempts > 1 {
			c.logger.Debugf("Part %d acknowledged after %d attempts", ack.Part.Index+1, ack.Attempts)
		}
		if done {
			finalize = true
		}
	}

	if err := <-dispatchErr; err != nil {
		c.logger.Debugf("Dispatch stopped with %d of %d parts acknowledged", uc.tracker.Succeeded(), len(uc.parts))
		for _, part := range uc.parts {
			if outcome, reason := uc.tracker.Outcome(part.Index); outcome == OutcomeFailed {
				c.logger.Debugf("Part %d failed: %s", part.Index+1, reason)
			}
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return fmt.Errorf("upload cancelled: %w", ctx.Err())
		}
		return err
	}
	if !finalize {
		return fmt.Errorf("%d of %d parts were not acknowledged", uc.tracker.Pending(), len(uc.parts))
	}

	stats := uc.uploader.Stats()
	c.logger.Debugf("All %d parts acknowledged [avg=%v] [total=%v] [failed attempts=%d]",
		stats.FinishedCount(), stats.Average().Round(time.Millisecond), stats.TotalDuration().Round(time.Millisecond), stats.FailedAttempts())
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, uc *uploadContext) (*Result, error) {
	root := uc.session.RootChecksum

	completion, err := c.service.Complete(ctx, CompleteRequest{
		SessionID:    uc.session.ID,
		Vault:        uc.session.Vault,
		TotalLength:  uc.session.TotalLength,
		RootChecksum: root,
	})
	if err != nil {
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}

	if err := reconcile(completion.Checksum, root); err != nil {
		return nil, err
	}

	return &Result{
		ArchiveID:      completion.ArchiveID,
		RemoteChecksum: completion.Checksum,
		Location:       completion.Location,
		SessionID:      uc.session.ID,
		Size:           uc.session.TotalLength,
		PartCount:      uc.session.TotalParts,
		Duration:       c.now().Sub(uc.startedAt),
	}, nil
}

func (c *Coordinator) abort(ctx context.Context, session Session) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := c.service.Abort(abortCtx, session.Vault, session.ID); err != nil {
		c.logger.Warnf("Failed to abort multipart upload %s: %s", session.ID, err)
		return
	}
	c.logger.Debugf("Aborted multipart upload %s", session.ID)
}

// reconcile compares the checksum reported by the vault with the local tree hash.
// A missing checksum counts as a mismatch.
func reconcile(remote string, root treehash.Hash) error {
	if remote == "" {
		return fmt.Errorf("%w: vault reported no checksum, local tree hash is %s", ErrChecksumMismatch, root)
	}

	reported, err := treehash.ParseHash(remote)
	if err != nil {
		return fmt.Errorf("vault reported malformed checksum %q: %w", remote, err)
	}
	if reported != root {
		return fmt.Errorf("%w: vault reported %s, local tree hash is %s", ErrChecksumMismatch, reported, root)
	}
	return nil
}
