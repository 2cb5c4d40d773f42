package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/domain/lifecycle"
)

// abandonedError is recorded on in-flight records that stopped making progress
const abandonedError = "abandoned: no progress before stale deadline"

// Result describes how far one notification got through the pipeline
type Result struct {
	Stage      string                       `json:"stage"`
	Envelope   *entity.Envelope             `json:"envelope,omitempty"`
	Descriptor *entity.AttachmentDescriptor `json:"descriptor,omitempty"`
	Record     *entity.DownloadRecord       `json:"record,omitempty"`
	Link       *entity.ReconciliationLink   `json:"link,omitempty"`
}

// ReprocessSummary reports the outcome of one reprocess run
type ReprocessSummary struct {
	Recovered int `json:"recovered"`
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Pipeline coordinates normalization, download and reconciliation of notifications
type Pipeline interface {
	Process(ctx context.Context, raw []byte) (*Result, error)
	Reprocess(ctx context.Context, limit int) (*ReprocessSummary, error)
	LatestRecord(ctx context.Context, instanceID, sourceMessageID string) (*entity.DownloadRecord, error)
}

// PipelineConfig holds coordinator settings
type PipelineConfig struct {
	StaleAfter time.Duration
}

// PipelineDeps groups the coordinator collaborators
type PipelineDeps struct {
	Normalizer   NotificationNormalizer
	Resolver     CredentialResolver
	Extractor    DescriptorExtractor
	Orchestrator DownloadOrchestrator
	Mapper       ReconciliationMapper
	Messages     port.MessageRepository
	Records      port.DownloadRepository
	Clock        port.Clock
	Logger       Logger
}

type pipelineImpl struct {
	PipelineDeps
	cfg PipelineConfig
}

// NewPipeline creates a new Pipeline
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) Pipeline {
	if deps.Clock == nil {
		deps.Clock = port.SystemClock{}
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &pipelineImpl{PipelineDeps: deps, cfg: cfg}
}

// Process runs one raw notification through every stage.
// Notifications without an attachment end in StageSkipped with a nil error.
func (p *pipelineImpl) Process(ctx context.Context, raw []byte) (*Result, error) {
	result := &Result{Stage: entity.StageNormalize}

	env, err := p.Normalizer.Normalize(raw)
	if err != nil {
		return result, &entity.StageError{Stage: entity.StageNormalize, Err: err}
	}
	result.Envelope = env

	result.Stage = entity.StageResolveCredentials
	cred, err := p.Resolver.Resolve(ctx, env.InstanceID)
	if err != nil {
		p.Logger.Warn("Dropping notification without usable credential",
			"instance_id", env.InstanceID,
			"message_id", env.MessageID,
			"error", err)
		return result, &entity.StageError{Stage: entity.StageResolveCredentials, Err: err}
	}

	result.Stage = entity.StageExtract
	desc, err := p.Extractor.Extract(env, cred)
	if err != nil {
		return result, &entity.StageError{Stage: entity.StageExtract, Err: err}
	}
	if desc == nil {
		result.Stage = entity.StageSkipped
		p.Logger.Debug("Notification has no attachment",
			"instance_id", env.InstanceID,
			"message_id", env.MessageID)
		return result, nil
	}
	result.Descriptor = desc

	result.Stage = entity.StageRecordMessage
	if _, err := p.Messages.Upsert(ctx, &entity.MessageRecord{
		TenantID:        cred.TenantID,
		InstanceID:      env.InstanceID,
		ChatID:          env.ChatID,
		SourceMessageID: env.MessageID,
		Kind:            desc.Kind,
		Timestamp:       env.Timestamp,
	}); err != nil {
		return result, &entity.StageError{Stage: entity.StageRecordMessage, Err: err}
	}

	result.Stage = entity.StageDownload
	rec, err := p.Orchestrator.Download(ctx, desc, cred)
	if err != nil {
		return result, &entity.StageError{Stage: entity.StageDownload, Err: err}
	}
	result.Record = rec
	if rec.Status != entity.DownloadStatusSuccess {
		return result, nil
	}

	result.Stage = entity.StageReconcile
	link, err := p.reconcileRecord(ctx, rec)
	if err != nil {
		return result, &entity.StageError{Stage: entity.StageReconcile, Err: err}
	}
	result.Link = link
	result.Stage = entity.StageDone

	return result, nil
}

// Reprocess finalizes stale in-flight records, then retries failed retryable ones
func (p *pipelineImpl) Reprocess(ctx context.Context, limit int) (*ReprocessSummary, error) {
	summary := &ReprocessSummary{}

	recovered, err := p.recoverStale(ctx, limit)
	summary.Recovered = recovered
	if err != nil {
		return summary, err
	}

	records, err := p.Records.ListReprocessable(ctx, limit)
	if err != nil {
		return summary, fmt.Errorf("list reprocessable records: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		cred, err := p.Resolver.ResolveForTenant(ctx, rec.TenantID, rec.InstanceID)
		if err != nil {
			summary.Skipped++
			p.Logger.Warn("Skipping reprocess without usable credential",
				"record_id", rec.ID,
				"instance_id", rec.InstanceID,
				"error", err)
			continue
		}

		next, err := p.Orchestrator.Retry(ctx, rec, cred)
		if errors.Is(err, ErrNotReprocessable) {
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("retry record %s: %w", rec.ID, err)
		}
		summary.Attempted++

		if next.Status != entity.DownloadStatusSuccess {
			summary.Failed++
			continue
		}
		summary.Succeeded++

		if _, err := p.reconcileRecord(ctx, next); err != nil {
			p.Logger.Error("Failed to reconcile reprocessed record",
				"record_id", next.ID,
				"error", err)
		}
	}

	p.Logger.Info("Reprocess run finished",
		"recovered", summary.Recovered,
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return summary, nil
}

// LatestRecord returns the newest download generation for a message
func (p *pipelineImpl) LatestRecord(ctx context.Context, instanceID, sourceMessageID string) (*entity.DownloadRecord, error) {
	return p.Records.GetLatest(ctx, instanceID, sourceMessageID)
}

// recoverStale finalizes in-flight records left behind by a crashed or cancelled run
func (p *pipelineImpl) recoverStale(ctx context.Context, limit int) (int, error) {
	cutoff := p.Clock.Now().Add(-p.cfg.StaleAfter)

	stale, err := p.Records.ListStale(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale records: %w", err)
	}

	recovered := 0
	for _, rec := range stale {
		next, err := lifecycle.Next(rec.Status, lifecycle.TriggerAbandon)
		if err != nil {
			p.Logger.Warn("Skipping stale record",
				"record_id", rec.ID,
				"error", err)
			continue
		}
		rec.Status = next
		rec.Retryable = true
		rec.LastError = abandonedError

		if err := p.Records.Finalize(ctx, rec); err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				// finished between listing and finalizing
				continue
			}
			return recovered, fmt.Errorf("finalize stale record %s: %w", rec.ID, err)
		}
		recovered++
		p.Logger.Warn("Recovered stale download record",
			"record_id", rec.ID,
			"instance_id", rec.InstanceID,
			"source_message_id", rec.SourceMessageID)
	}
	return recovered, nil
}

func (p *pipelineImpl) reconcileRecord(ctx context.Context, rec *entity.DownloadRecord) (*entity.ReconciliationLink, error) {
	file := entity.StoredFile{
		RelPath:    rec.LocalPath,
		TenantID:   rec.TenantID,
		InstanceID: rec.InstanceID,
		Kind:       rec.Kind,
		FileName:   path.Base(rec.LocalPath),
		Size:       rec.BytesWritten,
	}
	hint := ReconcileHint{SourceMessageID: rec.SourceMessageID}
	if rec.Descriptor != nil {
		file.ChatID = rec.Descriptor.ChatID
		hint.CapturedAt = rec.Descriptor.CapturedAt
	}
	return p.Mapper.Reconcile(ctx, file, hint)
}
