package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func at(h, m, s int) time.Time {
	return time.Date(2024, 3, 5, h, m, s, 0, time.UTC)
}

func seedMessage(t *testing.T, repo *memMessageRepo, id string, ts time.Time) *entity.MessageRecord {
	t.Helper()
	msg, err := repo.Upsert(context.Background(), &entity.MessageRecord{
		TenantID:        "tenant-a",
		InstanceID:      "I-123",
		ChatID:          "5511999999999",
		SourceMessageID: id,
		Kind:            entity.KindImage,
		Timestamp:       ts,
	})
	require.NoError(t, err)
	return msg
}

func storedImage(name string) entity.StoredFile {
	return entity.StoredFile{
		RelPath:    "tenant-a/I-123/chats/5511999999999/image/" + name,
		TenantID:   "tenant-a",
		InstanceID: "I-123",
		ChatID:     "5511999999999",
		Kind:       entity.KindImage,
		FileName:   name,
	}
}

func newTestMapper(messages *memMessageRepo, links *memLinkRepo, store port.MediaStorage) ReconciliationMapper {
	return NewReconciliationMapper(messages, links, store, passthroughTx{}, ReconcileConfig{OrphanWorkers: 2}, nopLogger{})
}

func TestReconcile_ExactMatch(t *testing.T) {
	messages := &memMessageRepo{}
	msg := seedMessage(t, messages, "3EB0C4A1F2", at(14, 3, 10))
	mapper := newTestMapper(messages, newMemLinkRepo(), nil)

	link, err := mapper.Reconcile(context.Background(), storedImage("msg_3EB0C4A1F2_20240305140310.jpg"),
		ReconcileHint{SourceMessageID: "3EB0C4A1F2", CapturedAt: at(14, 3, 10)})
	require.NoError(t, err)

	assert.Equal(t, msg.ID, link.MessageRecordID)
	assert.Equal(t, entity.StrategyExactMatch, link.Strategy)
	assert.Equal(t, 1.0, link.Confidence)
	assert.True(t, link.IsVerified())
}

func TestReconcile_ExactMatchIgnoresOtherTenant(t *testing.T) {
	messages := &memMessageRepo{}
	_, err := messages.Upsert(context.Background(), &entity.MessageRecord{
		TenantID: "tenant-b", InstanceID: "I-123", ChatID: "5511999999999",
		SourceMessageID: "3EB0C4A1F2", Kind: entity.KindImage, Timestamp: at(14, 3, 10),
	})
	require.NoError(t, err)
	mapper := newTestMapper(messages, newMemLinkRepo(), nil)

	link, err := mapper.Reconcile(context.Background(), storedImage("msg_3EB0C4A1F2_20240305140310.jpg"),
		ReconcileHint{SourceMessageID: "3EB0C4A1F2", CapturedAt: at(14, 3, 10)})
	require.NoError(t, err)
	assert.Equal(t, entity.StrategySynthesized, link.Strategy)
}

func TestReconcile_NearestTimestamp(t *testing.T) {
	messages := &memMessageRepo{}
	target := seedMessage(t, messages, "AAA111", at(14, 3, 0))
	seedMessage(t, messages, "BBB222", at(13, 0, 0))
	mapper := newTestMapper(messages, newMemLinkRepo(), nil)

	link, err := mapper.Reconcile(context.Background(), storedImage("msg_ZZZ999_20240305140310.jpg"),
		ReconcileHint{IDPrefix: "ZZZ999", CapturedAt: at(14, 3, 10)})
	require.NoError(t, err)

	assert.Equal(t, target.ID, link.MessageRecordID)
	assert.Equal(t, entity.StrategyNearestTimestamp, link.Strategy)
	assert.InDelta(t, NearestConfidence(10*time.Second), link.Confidence, 1e-9)
	assert.False(t, link.IsVerified())
}

func TestReconcile_NearestTieBreaksOnSourceID(t *testing.T) {
	messages := &memMessageRepo{}
	seedMessage(t, messages, "MSG-B", at(14, 3, 0))
	winner := seedMessage(t, messages, "MSG-A", at(14, 3, 20))
	mapper := newTestMapper(messages, newMemLinkRepo(), nil)

	link, err := mapper.Reconcile(context.Background(), storedImage("msg_ZZZ_20240305140310.jpg"),
		ReconcileHint{CapturedAt: at(14, 3, 10)})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, link.MessageRecordID)
}

func TestReconcile_OtherDaySynthesizes(t *testing.T) {
	messages := &memMessageRepo{}
	seedMessage(t, messages, "AAA111", at(14, 3, 0).AddDate(0, 0, -1))
	mapper := newTestMapper(messages, newMemLinkRepo(), nil)

	link, err := mapper.Reconcile(context.Background(), storedImage("msg_ZZZ_20240305140310.jpg"),
		ReconcileHint{IDPrefix: "ZZZ", CapturedAt: at(14, 3, 10)})
	require.NoError(t, err)
	assert.Equal(t, entity.StrategySynthesized, link.Strategy)
	assert.Equal(t, 0.0, link.Confidence)

	var found *entity.MessageRecord
	for _, m := range messages.messages {
		if m.ID == link.MessageRecordID {
			found = m
		}
	}
	require.NotNil(t, found)
	assert.True(t, found.Synthesized)
	assert.True(t, strings.HasPrefix(found.SourceMessageID, "synthetic-"))
	assert.Equal(t, at(14, 3, 10), found.Timestamp)
}

func TestReconcile_AmbiguousPrefixFallsBackToNearest(t *testing.T) {
	messages := &memMessageRepo{}
	seedMessage(t, messages, "ABCDEFGHIJKLMNOP-1", at(9, 0, 0))
	near := seedMessage(t, messages, "ABCDEFGHIJKLMNOP-2", at(14, 3, 5))
	mapper := newTestMapper(messages, newMemLinkRepo(), nil)

	link, err := mapper.Reconcile(context.Background(), storedImage("msg_ABCDEFGHIJKLMNOP_20240305140310.jpg"),
		ReconcileHint{IDPrefix: "ABCDEFGHIJKLMNOP", CapturedAt: at(14, 3, 10)})
	require.NoError(t, err)
	assert.Equal(t, near.ID, link.MessageRecordID)
	assert.Equal(t, entity.StrategyNearestTimestamp, link.Strategy)
}

func TestReconcile_RerunReturnsExistingLink(t *testing.T) {
	messages := &memMessageRepo{}
	seedMessage(t, messages, "AAA111", at(14, 3, 0))
	links := newMemLinkRepo()
	mapper := newTestMapper(messages, links, nil)
	file := storedImage("msg_ZZZ_20240305140310.jpg")
	hint := ReconcileHint{CapturedAt: at(14, 3, 10)}

	first, err := mapper.Reconcile(context.Background(), file, hint)
	require.NoError(t, err)

	// a closer message arriving later does not move the link
	seedMessage(t, messages, "CCC333", at(14, 3, 10))
	second, err := mapper.Reconcile(context.Background(), file, hint)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.MessageRecordID, second.MessageRecordID)
	assert.Equal(t, 1, links.count())
}

func TestNearestConfidence(t *testing.T) {
	assert.InDelta(t, 0.9, NearestConfidence(0), 1e-9)
	assert.InDelta(t, 0.5, NearestConfidence(12*time.Hour), 1e-9)
	assert.InDelta(t, 0.5, NearestConfidence(-12*time.Hour), 1e-9)
	assert.InDelta(t, 0.1, NearestConfidence(48*time.Hour), 1e-9)
	assert.Greater(t, NearestConfidence(time.Second), NearestConfidence(time.Minute))
}

func TestReconcileOrphans(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLayoutStore(t.TempDir(), zap.NewNop())
	messages := &memMessageRepo{}
	links := newMemLinkRepo()
	mapper := newTestMapper(messages, links, store)

	exact := seedMessage(t, messages, "3EB0C4A1F2", at(10, 0, 0))
	nearest := seedMessage(t, messages, "OTHER1", at(14, 3, 0))

	put := func(id string, ts time.Time) *entity.StoredFile {
		f, err := store.Store(ctx, port.StoreRequest{
			TenantID: "tenant-a", InstanceID: "I-123", ChatID: "5511999999999",
			Kind: entity.KindImage, MessageID: id, CapturedAt: ts,
			Mimetype: "image/jpeg", Content: strings.NewReader("x"),
		})
		require.NoError(t, err)
		return f
	}
	exactFile := put("3EB0C4A1F2", at(10, 0, 0))
	nearestFile := put("UNKNOWN77", at(14, 3, 10))
	put("LONELY", at(14, 3, 10).AddDate(0, 0, 2))

	summary, err := mapper.ReconcileOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Scanned)
	assert.Equal(t, 3, summary.Linked)
	assert.Equal(t, 1, summary.ByStrategy[entity.StrategyExactMatch])
	assert.Equal(t, 1, summary.ByStrategy[entity.StrategyNearestTimestamp])
	assert.Equal(t, 1, summary.ByStrategy[entity.StrategySynthesized])

	link, err := links.GetByStoredPath(ctx, exactFile.RelPath)
	require.NoError(t, err)
	assert.Equal(t, exact.ID, link.MessageRecordID)

	link, err = links.GetByStoredPath(ctx, nearestFile.RelPath)
	require.NoError(t, err)
	assert.Equal(t, nearest.ID, link.MessageRecordID)

	again, err := mapper.ReconcileOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, again.AlreadyLinked)
	assert.Equal(t, 0, again.Linked)
	assert.Equal(t, 3, links.count())
}
