package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/domain/filename"
	"github.com/batilieri/multichat-system-sub001/internal/domain/lifecycle"
	"golang.org/x/sync/singleflight"
)

// ErrNotReprocessable is returned by Retry for records that must not be attempted again
var ErrNotReprocessable = errors.New("record is not reprocessable")

// errTooLarge marks fetched content above the configured size limit
var errTooLarge = errors.New("media exceeds size limit")

const (
	// DefaultMaxFileBytes is used when DownloadConfig.MaxFileBytes is unset
	DefaultMaxFileBytes int64 = 100 << 20

	// DefaultMaxGenerations is used when DownloadConfig.MaxGenerations is unset
	DefaultMaxGenerations = 10
)

// DownloadOrchestrator retrieves attachment bytes and persists them exactly once
type DownloadOrchestrator interface {
	// Download returns the record for the descriptor's download slot, running the
	// download if no attempt exists yet or the latest one failed retryably.
	// Download failures are captured in the returned record; the error is reserved
	// for binding and persistence failures.
	Download(ctx context.Context, desc *entity.AttachmentDescriptor, cred *entity.TenantCredential) (*entity.DownloadRecord, error)

	// Retry runs a new generation for a failed, retryable record
	Retry(ctx context.Context, rec *entity.DownloadRecord, cred *entity.TenantCredential) (*entity.DownloadRecord, error)
}

// DownloadConfig holds orchestrator limits
type DownloadConfig struct {
	MaxFileBytes int64

	// MaxGenerations caps attempts per message; the last failed generation is not retryable
	MaxGenerations int
}

// DownloadDeps groups the orchestrator collaborators
type DownloadDeps struct {
	Records     port.DownloadRepository
	Provider    port.MediaProvider
	Storage     port.MediaStorage
	Throttle    port.PairThrottle
	RetryPolicy port.RetryPolicy
	Publisher   port.EventPublisher
	Clock       port.Clock
	Logger      Logger
}

type downloadOrchestratorImpl struct {
	DownloadDeps
	cfg    DownloadConfig
	flight singleflight.Group
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewDownloadOrchestrator creates a new DownloadOrchestrator
func NewDownloadOrchestrator(deps DownloadDeps, cfg DownloadConfig) DownloadOrchestrator {
	if deps.Clock == nil {
		deps.Clock = port.SystemClock{}
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.MaxGenerations <= 0 {
		cfg.MaxGenerations = DefaultMaxGenerations
	}
	return &downloadOrchestratorImpl{
		DownloadDeps: deps,
		cfg:          cfg,
		sleep:        sleepContext,
	}
}

// Download implements DownloadOrchestrator
func (o *downloadOrchestratorImpl) Download(ctx context.Context, desc *entity.AttachmentDescriptor, cred *entity.TenantCredential) (*entity.DownloadRecord, error) {
	if err := checkBinding(desc, cred); err != nil {
		o.Logger.Warn("Credential does not match attachment",
			"security", true,
			"instance_id", desc.InstanceID,
			"source_message_id", desc.SourceMessageID,
			"error", err)
		return nil, err
	}

	return o.collapse(desc.IdempotencyKey(), func() (*entity.DownloadRecord, error) {
		latest, err := o.Records.GetLatest(ctx, desc.InstanceID, desc.SourceMessageID)
		switch {
		case err == nil && latest.CanReprocess():
			o.Logger.Info("Replaying failed download",
				"instance_id", desc.InstanceID,
				"source_message_id", desc.SourceMessageID,
				"status", latest.Status,
				"generation", latest.Generation)
			return o.start(ctx, desc, cred, latest.Generation+1)
		case err == nil:
			o.Logger.Debug("Download slot already taken",
				"instance_id", desc.InstanceID,
				"source_message_id", desc.SourceMessageID,
				"status", latest.Status,
				"generation", latest.Generation)
			return latest, nil
		case !errors.Is(err, entity.ErrNotFound):
			return nil, fmt.Errorf("load download record: %w", err)
		}

		return o.start(ctx, desc, cred, 1)
	})
}

// Retry implements DownloadOrchestrator
func (o *downloadOrchestratorImpl) Retry(ctx context.Context, rec *entity.DownloadRecord, cred *entity.TenantCredential) (*entity.DownloadRecord, error) {
	if !rec.CanReprocess() {
		return nil, fmt.Errorf("%w: %s is %s (retryable=%t)", ErrNotReprocessable, rec.ID, rec.Status, rec.Retryable)
	}
	desc := rec.Descriptor
	if err := checkBinding(desc, cred); err != nil {
		return nil, err
	}

	return o.collapse(desc.IdempotencyKey(), func() (*entity.DownloadRecord, error) {
		latest, err := o.Records.GetLatest(ctx, desc.InstanceID, desc.SourceMessageID)
		if err != nil {
			return nil, fmt.Errorf("load download record: %w", err)
		}
		if latest.Generation != rec.Generation {
			// another worker already moved this message on
			return latest, nil
		}
		return o.start(ctx, desc, cred, rec.Generation+1)
	})
}

// collapse shares one in-flight run between concurrent callers of the same slot
func (o *downloadOrchestratorImpl) collapse(key string, fn func() (*entity.DownloadRecord, error)) (*entity.DownloadRecord, error) {
	v, err, _ := o.flight.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	rec := *v.(*entity.DownloadRecord)
	return &rec, nil
}

// start claims a generation slot and runs the download in it
func (o *downloadOrchestratorImpl) start(ctx context.Context, desc *entity.AttachmentDescriptor, cred *entity.TenantCredential, generation int) (*entity.DownloadRecord, error) {
	rec := &entity.DownloadRecord{
		TenantID:        desc.TenantID,
		InstanceID:      desc.InstanceID,
		SourceMessageID: desc.SourceMessageID,
		Generation:      generation,
		Kind:            desc.Kind,
		Status:          entity.DownloadStatusPending,
		Descriptor:      desc,
	}

	if err := o.Records.Create(ctx, rec); err != nil {
		if errors.Is(err, port.ErrDuplicateRecord) {
			// lost the race to another process; report the winner's record
			return o.Records.GetLatest(ctx, desc.InstanceID, desc.SourceMessageID)
		}
		return nil, fmt.Errorf("create download record: %w", err)
	}

	if err := o.Records.MarkDownloading(ctx, rec.ID); err != nil {
		return nil, fmt.Errorf("mark downloading: %w", err)
	}
	o.advance(rec, lifecycle.TriggerStart)

	stored, retries, err := o.runWithRetries(ctx, desc, cred)
	rec.RetryCount = retries
	o.applyOutcome(rec, stored, err)

	// terminal state must be recorded even if the caller gave up
	persistCtx := context.WithoutCancel(ctx)
	if err := o.Records.Finalize(persistCtx, rec); err != nil {
		return nil, fmt.Errorf("finalize download record: %w", err)
	}

	if rec.Status == entity.DownloadStatusSuccess {
		o.publishStored(persistCtx, rec, stored)
	} else {
		o.publishFailed(persistCtx, rec)
	}

	return rec, nil
}

// runWithRetries repeats attempts on transient failures within the retry budget
func (o *downloadOrchestratorImpl) runWithRetries(ctx context.Context, desc *entity.AttachmentDescriptor, cred *entity.TenantCredential) (*entity.StoredFile, int, error) {
	budget := 0
	if o.RetryPolicy != nil {
		budget = o.RetryPolicy.Retries()
	}

	retries := 0
	for {
		stored, err := o.attempt(ctx, desc, cred)
		if err == nil {
			return stored, retries, nil
		}
		if !errors.Is(err, entity.ErrTransientNetwork) || retries >= budget {
			return nil, retries, err
		}

		retries++
		backoff := o.RetryPolicy.Backoff(retries)
		o.Logger.Info("Retrying download",
			"instance_id", desc.InstanceID,
			"source_message_id", desc.SourceMessageID,
			"retry", retries,
			"backoff", backoff,
			"error", err)

		if err := o.sleep(ctx, backoff); err != nil {
			return nil, retries, err
		}
	}
}

// attempt performs one retrieval: request link, check expiry, fetch, verify, store
func (o *downloadOrchestratorImpl) attempt(ctx context.Context, desc *entity.AttachmentDescriptor, cred *entity.TenantCredential) (*entity.StoredFile, error) {
	data, contentType, err := o.fetch(ctx, desc, cred)
	if err != nil {
		return nil, err
	}

	if desc.DeclaredLength > 0 && int64(len(data)) != desc.DeclaredLength {
		o.Logger.Warn("Fetched size differs from declared length",
			"instance_id", desc.InstanceID,
			"source_message_id", desc.SourceMessageID,
			"declared", desc.DeclaredLength,
			"actual", len(data))
	}

	if err := o.verifyHash(desc, data); err != nil {
		return nil, err
	}

	mimetype := desc.Mimetype
	if mimetype == "" {
		mimetype = contentType
	}

	// a started write always completes; partial files never become visible
	stored, err := o.Storage.Store(context.WithoutCancel(ctx), port.StoreRequest{
		TenantID:   desc.TenantID,
		InstanceID: desc.InstanceID,
		ChatID:     desc.ChatID,
		Kind:       desc.Kind,
		MessageID:  desc.SourceMessageID,
		CapturedAt: desc.CapturedAt,
		Mimetype:   mimetype,
		FileName:   desc.FileName,
		Content:    bytes.NewReader(data),
	})
	if err != nil {
		if !errors.Is(err, entity.ErrStorage) {
			err = fmt.Errorf("%w: %v", entity.ErrStorage, err)
		}
		return nil, err
	}
	return stored, nil
}

// fetch holds the pair throttle only for the upstream calls
func (o *downloadOrchestratorImpl) fetch(ctx context.Context, desc *entity.AttachmentDescriptor, cred *entity.TenantCredential) ([]byte, string, error) {
	if o.Throttle != nil {
		release, err := o.Throttle.Acquire(ctx, cred.PairKey())
		if err != nil {
			return nil, "", err
		}
		defer release()
	}

	link, err := o.Provider.RequestMediaLink(ctx, cred.AccessToken, port.MediaRetrievalRequest{
		InstanceID: desc.InstanceID,
		MediaKey:   desc.MediaKey,
		DirectPath: desc.DirectPath,
		Kind:       desc.Kind,
		Mimetype:   desc.Mimetype,
	})
	if err != nil {
		return nil, "", err
	}

	if !link.ExpiresAt.IsZero() && !o.Clock.Now().Before(link.ExpiresAt) {
		return nil, "", fmt.Errorf("%w: link expired at %s", entity.ErrLinkExpired, link.ExpiresAt.UTC().Format(time.RFC3339))
	}

	media, err := o.Provider.Fetch(ctx, link)
	if err != nil {
		if errors.Is(err, port.ErrLinkRejected) && !link.ExpiresAt.IsZero() && !o.Clock.Now().Before(link.ExpiresAt) {
			return nil, "", fmt.Errorf("%w: %v", entity.ErrLinkExpired, err)
		}
		return nil, "", err
	}
	defer media.Body.Close()

	data, err := readAllWithLimit(media.Body, o.cfg.MaxFileBytes)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, "", fmt.Errorf("%w: %v", entity.ErrPermanentAPI, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		return nil, "", fmt.Errorf("%w: read body: %v", entity.ErrTransientNetwork, err)
	}

	return data, media.ContentType, nil
}

func (o *downloadOrchestratorImpl) verifyHash(desc *entity.AttachmentDescriptor, data []byte) error {
	if desc.FileSHA256 == "" {
		return nil
	}

	want, ok := decodeDigest(desc.FileSHA256)
	if !ok {
		o.Logger.Warn("Declared file hash is not decodable, skipping check",
			"instance_id", desc.InstanceID,
			"source_message_id", desc.SourceMessageID)
		return nil
	}

	got := sha256.Sum256(data)
	if !bytes.Equal(got[:], want) {
		return fmt.Errorf("%w: sha256 %s does not match declared value", entity.ErrFileIntegrity, hex.EncodeToString(got[:]))
	}
	return nil
}

// applyOutcome maps an attempt result onto the record's terminal state
func (o *downloadOrchestratorImpl) applyOutcome(rec *entity.DownloadRecord, stored *entity.StoredFile, err error) {
	if err == nil {
		o.advance(rec, lifecycle.TriggerSucceed)
		rec.LocalPath = stored.RelPath
		rec.BytesWritten = stored.Size
		o.Logger.Info("Attachment stored",
			"instance_id", rec.InstanceID,
			"source_message_id", rec.SourceMessageID,
			"path", stored.RelPath,
			"bytes", stored.Size,
			"retries", rec.RetryCount)
		return
	}

	rec.LastError = err.Error()
	trigger := lifecycle.TriggerFail

	switch {
	case errors.Is(err, entity.ErrLinkExpired):
		trigger = lifecycle.TriggerExpire
		rec.Retryable = true
	case errors.Is(err, entity.ErrAuthorization):
		rec.Retryable = true
		o.Logger.Warn("Upstream rejected tenant credential",
			"security", true,
			"tenant_id", rec.TenantID,
			"instance_id", rec.InstanceID,
			"source_message_id", rec.SourceMessageID)
	case errors.Is(err, filename.ErrInvalidName):
		// the message id can never produce a file name
	case errors.Is(err, entity.ErrTransientNetwork),
		errors.Is(err, entity.ErrStorage),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		rec.Retryable = true
	}
	if rec.Retryable && rec.Generation >= o.cfg.MaxGenerations {
		rec.Retryable = false
		o.Logger.Warn("Giving up on message after repeated failures",
			"instance_id", rec.InstanceID,
			"source_message_id", rec.SourceMessageID,
			"generation", rec.Generation)
	}
	o.advance(rec, trigger)

	o.Logger.Error("Download failed",
		"instance_id", rec.InstanceID,
		"source_message_id", rec.SourceMessageID,
		"status", rec.Status,
		"retryable", rec.Retryable,
		"retries", rec.RetryCount,
		"error", err)
}

// advance moves rec along its status lifecycle
func (o *downloadOrchestratorImpl) advance(rec *entity.DownloadRecord, trigger lifecycle.Trigger) {
	next, err := lifecycle.Next(rec.Status, trigger)
	if err != nil {
		o.Logger.Error("Rejected download status transition",
			"record_id", rec.ID,
			"error", err)
		return
	}
	rec.Status = next
}

func (o *downloadOrchestratorImpl) publishStored(ctx context.Context, rec *entity.DownloadRecord, stored *entity.StoredFile) {
	if o.Publisher == nil {
		return
	}

	evt := port.MediaStoredEvent{
		RecordID:        rec.ID,
		TenantID:        rec.TenantID,
		InstanceID:      rec.InstanceID,
		ChatID:          stored.ChatID,
		SourceMessageID: rec.SourceMessageID,
		Kind:            rec.Kind,
		Path:            stored.RelPath,
		Size:            stored.Size,
		StoredAt:        rec.UpdatedAt,
	}
	if err := o.Publisher.PublishMediaStored(ctx, evt); err != nil {
		o.Logger.Warn("Failed to publish media stored event",
			"record_id", rec.ID,
			"error", err)
	}
}

func (o *downloadOrchestratorImpl) publishFailed(ctx context.Context, rec *entity.DownloadRecord) {
	if o.Publisher == nil {
		return
	}

	evt := port.MediaFailedEvent{
		RecordID:        rec.ID,
		TenantID:        rec.TenantID,
		InstanceID:      rec.InstanceID,
		SourceMessageID: rec.SourceMessageID,
		Kind:            rec.Kind,
		Status:          rec.Status,
		Retryable:       rec.Retryable,
		Error:           rec.LastError,
		Generation:      rec.Generation,
		FailedAt:        rec.UpdatedAt,
	}
	if err := o.Publisher.PublishMediaFailed(ctx, evt); err != nil {
		o.Logger.Warn("Failed to publish media failed event",
			"record_id", rec.ID,
			"error", err)
	}
}

// checkBinding refuses to use a credential for another tenant's attachment
func checkBinding(desc *entity.AttachmentDescriptor, cred *entity.TenantCredential) error {
	if desc == nil {
		return fmt.Errorf("%w: no descriptor", entity.ErrIncompleteDescriptor)
	}
	if !cred.IsUsable() {
		return fmt.Errorf("%w: instance %s", entity.ErrMissingCredentials, desc.InstanceID)
	}
	if cred.InstanceID != desc.InstanceID || cred.TenantID != desc.TenantID {
		return fmt.Errorf("%w: credential for %s does not cover attachment of %s/%s",
			entity.ErrAuthorization, cred.PairKey(), desc.TenantID, desc.InstanceID)
	}
	return nil
}

// decodeDigest accepts standard, URL-safe (padded or raw) base64 and hex SHA-256 digests
func decodeDigest(s string) ([]byte, bool) {
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawURLEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, decode := range decoders {
		if b, err := decode(s); err == nil && len(b) == sha256.Size {
			return b, true
		}
	}
	return nil, false
}

func readAllWithLimit(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: max %d bytes", errTooLarge, maxBytes)
	}
	return data, nil
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
