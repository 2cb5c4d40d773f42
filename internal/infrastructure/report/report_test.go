package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type stubDownloads struct {
	records []*entity.DownloadRecord
	err     error
	limit   int
}

func (s *stubDownloads) Create(context.Context, *entity.DownloadRecord) error { return nil }
func (s *stubDownloads) GetLatest(context.Context, string, string) (*entity.DownloadRecord, error) {
	return nil, entity.ErrNotFound
}
func (s *stubDownloads) MarkDownloading(context.Context, string) error { return nil }
func (s *stubDownloads) Finalize(context.Context, *entity.DownloadRecord) error { return nil }
func (s *stubDownloads) ListReprocessable(context.Context, int) ([]*entity.DownloadRecord, error) {
	return nil, nil
}
func (s *stubDownloads) ListStale(context.Context, time.Time, int) ([]*entity.DownloadRecord, error) {
	return nil, nil
}
func (s *stubDownloads) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.DownloadRecord, error) {
	s.limit = limit
	return s.records, s.err
}

type stubLinks struct {
	links []*entity.ReconciliationLink
}

func (s *stubLinks) Create(context.Context, *entity.ReconciliationLink) error { return nil }
func (s *stubLinks) GetByStoredPath(context.Context, string) (*entity.ReconciliationLink, error) {
	return nil, entity.ErrNotFound
}
func (s *stubLinks) ListByTenant(context.Context, string, int) ([]*entity.ReconciliationLink, error) {
	return s.links, nil
}

func TestGenerator_Write(t *testing.T) {
	updated := time.Date(2024, 3, 5, 14, 3, 10, 0, time.UTC)
	downloads := &stubDownloads{records: []*entity.DownloadRecord{
		{ID: "r1", InstanceID: "I-123", SourceMessageID: "A1", Generation: 1, Kind: entity.KindImage,
			Status: entity.DownloadStatusSuccess, BytesWritten: 42, LocalPath: "tenant-a/I-123/chats/c/image/msg_A1_20240305140310.jpg", UpdatedAt: updated},
		{ID: "r2", InstanceID: "I-123", SourceMessageID: "B2", Generation: 2, Kind: entity.KindAudio,
			Status: entity.DownloadStatusExpired, Retryable: true, LastError: "fetch link expired", UpdatedAt: updated},
	}}
	links := &stubLinks{links: []*entity.ReconciliationLink{
		{ID: "l1", StoredPath: "tenant-a/I-123/chats/c/image/msg_A1_20240305140310.jpg", MessageRecordID: "m1",
			Strategy: entity.StrategyExactMatch, Confidence: 1, CreatedAt: updated},
	}}

	var buf bytes.Buffer
	g := NewGenerator(downloads, links, 0, zap.NewNop())
	require.NoError(t, g.Write(context.Background(), "tenant-a", &buf))
	assert.Equal(t, DefaultRowLimit, downloads.limit)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetSummary, sheetDownloads, sheetLinks}, f.GetSheetList())

	rows, err := f.GetRows(sheetDownloads)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Record ID", rows[0][0])
	assert.Equal(t, "r1", rows[1][0])
	assert.Equal(t, entity.DownloadStatusSuccess, rows[1][5])
	assert.Equal(t, "42", rows[1][8])
	assert.Equal(t, "fetch link expired", rows[2][10])

	rows, err = f.GetRows(sheetLinks)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "exact_match", rows[1][3])

	rows, err = f.GetRows(sheetSummary)
	require.NoError(t, err)
	assert.Contains(t, rows, []string{"Tenant", "tenant-a"})
	assert.Contains(t, rows, []string{"Status expired", "1"})
	assert.Contains(t, rows, []string{"Strategy exact_match", "1"})
}

func TestGenerator_WriteRepositoryError(t *testing.T) {
	g := NewGenerator(&stubDownloads{err: errors.New("db gone")}, &stubLinks{}, 10, zap.NewNop())

	var buf bytes.Buffer
	err := g.Write(context.Background(), "tenant-a", &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")
	assert.Zero(t, buf.Len())
}
