package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/domain/filename"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	exactConfidence = 1.0

	// nearest-timestamp confidence decays linearly from 0.9 to 0.1 over a day
	nearestMaxConfidence = 0.9
	nearestDecay         = 0.8
	nearestWindow        = 24 * time.Hour

	synthesizedConfidence = 0.0

	// synthesizedIDPrefix marks placeholder messages created for unmatched files
	synthesizedIDPrefix = "synthetic-"
)

// ReconcileHint carries what is known about a stored file's source message
type ReconcileHint struct {
	SourceMessageID string    // exact provider id, when known
	IDPrefix        string    // sanitized id prefix recovered from the file name
	CapturedAt      time.Time // capture time of the attachment
}

// OrphanSummary reports the outcome of an orphan reconciliation run
type OrphanSummary struct {
	Scanned       int                            `json:"scanned"`
	AlreadyLinked int                            `json:"already_linked"`
	Linked        int                            `json:"linked"`
	Skipped       int                            `json:"skipped"`
	ByStrategy    map[entity.MappingStrategy]int `json:"by_strategy"`
}

// ReconciliationMapper links stored files to message records
type ReconciliationMapper interface {
	// Reconcile links one file; re-running for a linked file returns the existing link
	Reconcile(ctx context.Context, file entity.StoredFile, hint ReconcileHint) (*entity.ReconciliationLink, error)

	// ReconcileOrphans scans storage and links every file that has no link yet
	ReconcileOrphans(ctx context.Context) (*OrphanSummary, error)
}

// ReconcileConfig holds mapper settings
type ReconcileConfig struct {
	Location      *time.Location // calendar day boundaries for nearest matching
	OrphanWorkers int
}

type reconciliationMapperImpl struct {
	messages  port.MessageRepository
	links     port.LinkRepository
	storage   port.MediaStorage
	txManager port.TransactionManager
	cfg       ReconcileConfig
	logger    Logger
}

// NewReconciliationMapper creates a new ReconciliationMapper
func NewReconciliationMapper(
	messages port.MessageRepository,
	links port.LinkRepository,
	storage port.MediaStorage,
	txManager port.TransactionManager,
	cfg ReconcileConfig,
	logger Logger,
) ReconciliationMapper {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.OrphanWorkers <= 0 {
		cfg.OrphanWorkers = 4
	}
	return &reconciliationMapperImpl{
		messages:  messages,
		links:     links,
		storage:   storage,
		txManager: txManager,
		cfg:       cfg,
		logger:    logger,
	}
}

// Reconcile implements ReconciliationMapper
func (m *reconciliationMapperImpl) Reconcile(ctx context.Context, file entity.StoredFile, hint ReconcileHint) (*entity.ReconciliationLink, error) {
	existing, err := m.links.GetByStoredPath(ctx, file.RelPath)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, entity.ErrNotFound) {
		return nil, fmt.Errorf("load link: %w", err)
	}

	var link *entity.ReconciliationLink
	err = m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		msg, strategy, confidence, err := m.match(txCtx, file, hint)
		if err != nil {
			return err
		}

		link = &entity.ReconciliationLink{
			MessageRecordID: msg.ID,
			StoredPath:      file.RelPath,
			Strategy:        strategy,
			Confidence:      confidence,
		}
		return m.links.Create(txCtx, link)
	})
	if errors.Is(err, port.ErrDuplicateRecord) {
		// linked concurrently; the first link stands
		return m.links.GetByStoredPath(ctx, file.RelPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", file.RelPath, err)
	}

	m.logger.Info("Stored file reconciled",
		"path", file.RelPath,
		"message_record_id", link.MessageRecordID,
		"strategy", link.Strategy,
		"confidence", link.Confidence)
	return link, nil
}

// match applies the strategies in order: exact id, nearest timestamp, synthesized
func (m *reconciliationMapperImpl) match(ctx context.Context, file entity.StoredFile, hint ReconcileHint) (*entity.MessageRecord, entity.MappingStrategy, float64, error) {
	msg, err := m.exactMatch(ctx, file, hint)
	if err != nil {
		return nil, "", 0, err
	}
	if msg != nil {
		return msg, entity.StrategyExactMatch, exactConfidence, nil
	}

	if !hint.CapturedAt.IsZero() {
		msg, delta, err := m.nearestMatch(ctx, file, hint.CapturedAt)
		if err != nil {
			return nil, "", 0, err
		}
		if msg != nil {
			return msg, entity.StrategyNearestTimestamp, NearestConfidence(delta), nil
		}
	}

	msg, err = m.synthesize(ctx, file, hint)
	if err != nil {
		return nil, "", 0, err
	}
	return msg, entity.StrategySynthesized, synthesizedConfidence, nil
}

func (m *reconciliationMapperImpl) exactMatch(ctx context.Context, file entity.StoredFile, hint ReconcileHint) (*entity.MessageRecord, error) {
	if hint.SourceMessageID != "" {
		msg, err := m.messages.GetBySourceMessageID(ctx, file.InstanceID, hint.SourceMessageID)
		if errors.Is(err, entity.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if msg.TenantID != file.TenantID {
			return nil, nil
		}
		return msg, nil
	}

	if hint.IDPrefix == "" {
		return nil, nil
	}

	candidates, err := m.messages.FindBySourcePrefix(ctx, file.InstanceID, hint.IDPrefix)
	if err != nil {
		return nil, err
	}

	var found *entity.MessageRecord
	for _, c := range candidates {
		if c.TenantID != file.TenantID || c.ChatID != file.ChatID || c.Synthesized {
			continue
		}
		if found != nil {
			// truncated id is ambiguous
			return nil, nil
		}
		found = c
	}
	return found, nil
}

// nearestMatch picks the closest message of the same chat and kind on the capture day
func (m *reconciliationMapperImpl) nearestMatch(ctx context.Context, file entity.StoredFile, capturedAt time.Time) (*entity.MessageRecord, time.Duration, error) {
	local := capturedAt.In(m.cfg.Location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.cfg.Location)
	dayEnd := dayStart.AddDate(0, 0, 1)

	candidates, err := m.messages.ListInChatBetween(ctx, file.TenantID, file.InstanceID, file.ChatID, file.Kind, dayStart, dayEnd)
	if err != nil {
		return nil, 0, err
	}

	var (
		best      *entity.MessageRecord
		bestDelta time.Duration
	)
	for _, c := range candidates {
		if c.Synthesized {
			continue
		}
		delta := absDuration(c.Timestamp.Sub(capturedAt))
		if best == nil || delta < bestDelta ||
			(delta == bestDelta && c.SourceMessageID < best.SourceMessageID) {
			best, bestDelta = c, delta
		}
	}
	return best, bestDelta, nil
}

func (m *reconciliationMapperImpl) synthesize(ctx context.Context, file entity.StoredFile, hint ReconcileHint) (*entity.MessageRecord, error) {
	ts := hint.CapturedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	msg, err := m.messages.Upsert(ctx, &entity.MessageRecord{
		ID:              uuid.New().String(),
		TenantID:        file.TenantID,
		InstanceID:      file.InstanceID,
		ChatID:          file.ChatID,
		SourceMessageID: synthesizedIDPrefix + uuid.New().String(),
		Kind:            file.Kind,
		Timestamp:       ts,
		Synthesized:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize message: %w", err)
	}
	return msg, nil
}

// ReconcileOrphans implements ReconciliationMapper
func (m *reconciliationMapperImpl) ReconcileOrphans(ctx context.Context) (*OrphanSummary, error) {
	summary := &OrphanSummary{ByStrategy: make(map[entity.MappingStrategy]int)}
	var mu sync.Mutex
	count := func(fn func()) {
		mu.Lock()
		fn()
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.OrphanWorkers)

	scanErr := m.storage.Scan(gctx, func(file entity.StoredFile) error {
		count(func() { summary.Scanned++ })

		name, err := filename.Parse(file.FileName)
		if err != nil {
			m.logger.Warn("Skipping file with unrecognized name", "path", file.RelPath, "error", err)
			count(func() { summary.Skipped++ })
			return nil
		}

		g.Go(func() error {
			if _, err := m.links.GetByStoredPath(gctx, file.RelPath); err == nil {
				count(func() { summary.AlreadyLinked++ })
				return nil
			} else if !errors.Is(err, entity.ErrNotFound) {
				return err
			}

			link, err := m.Reconcile(gctx, file, ReconcileHint{
				IDPrefix:   name.IDPrefix,
				CapturedAt: name.CapturedAt,
			})
			if err != nil {
				return err
			}
			count(func() {
				summary.Linked++
				summary.ByStrategy[link.Strategy]++
			})
			return nil
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return summary, err
	}
	if scanErr != nil {
		return summary, fmt.Errorf("scan storage: %w", scanErr)
	}

	m.logger.Info("Orphan reconciliation finished",
		"scanned", summary.Scanned,
		"linked", summary.Linked,
		"already_linked", summary.AlreadyLinked,
		"skipped", summary.Skipped)
	return summary, nil
}

// NearestConfidence scores a nearest-timestamp match by its time distance
func NearestConfidence(delta time.Duration) float64 {
	delta = absDuration(delta)
	if delta > nearestWindow {
		delta = nearestWindow
	}
	return nearestMaxConfidence - nearestDecay*float64(delta)/float64(nearestWindow)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
