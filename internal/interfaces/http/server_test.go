package http

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/service"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/dedup"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type mockQueue struct {
	err      error
	received [][]byte
}

func (q *mockQueue) Enqueue(raw []byte) error {
	if q.err != nil {
		return q.err
	}
	q.received = append(q.received, raw)
	return nil
}

type mockPipeline struct {
	reprocessFunc func(ctx context.Context, limit int) (*service.ReprocessSummary, error)
	latestFunc    func(ctx context.Context, instanceID, sourceMessageID string) (*entity.DownloadRecord, error)
}

func (m *mockPipeline) Process(ctx context.Context, raw []byte) (*service.Result, error) {
	return &service.Result{Stage: entity.StageDone}, nil
}

func (m *mockPipeline) Reprocess(ctx context.Context, limit int) (*service.ReprocessSummary, error) {
	return m.reprocessFunc(ctx, limit)
}

func (m *mockPipeline) LatestRecord(ctx context.Context, instanceID, sourceMessageID string) (*entity.DownloadRecord, error) {
	return m.latestFunc(ctx, instanceID, sourceMessageID)
}

type mockMapper struct {
	summary *service.OrphanSummary
	err     error
}

func (m *mockMapper) Reconcile(ctx context.Context, file entity.StoredFile, hint service.ReconcileHint) (*entity.ReconciliationLink, error) {
	return nil, errors.New("not used")
}

func (m *mockMapper) ReconcileOrphans(ctx context.Context) (*service.OrphanSummary, error) {
	return m.summary, m.err
}

type mockReports struct {
	tenant string
	err    error
}

func (m *mockReports) Write(ctx context.Context, tenantID string, w io.Writer) error {
	m.tenant = tenantID
	if m.err != nil {
		return m.err
	}
	_, err := w.Write([]byte("PK-xlsx"))
	return err
}

type mockStatuses struct{}

func (mockStatuses) Statuses() map[string]worker.Status {
	return map[string]worker.Status{"NotificationPool": {IsRunning: true, QueueCapacity: 10}}
}

type fixture struct {
	server   *Server
	queue    *mockQueue
	pipeline *mockPipeline
	mapper   *mockMapper
	reports  *mockReports
}

func newFixture(secret string) *fixture {
	f := &fixture{
		queue:    &mockQueue{},
		pipeline: &mockPipeline{},
		mapper:   &mockMapper{summary: &service.OrphanSummary{Scanned: 2, Linked: 2}},
		reports:  &mockReports{},
	}
	f.server = NewServer(DefaultServerConfig(), HandlerDeps{
		Queue:    f.queue,
		Pipeline: f.pipeline,
		Mapper:   f.mapper,
		Reports:  f.reports,
		Deduper:  dedup.NewMemoryDeduper(time.Minute),
		Workers:  mockStatuses{},
		Verifier: NewVerifier(secret),
		Logger:   nopLogger{},
	})
	return f
}

func (f *fixture) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

const notification = `{"instanceId":"I-123","messageId":"A1","msgContent":{}}`

func TestWebhook_Accepted(t *testing.T) {
	f := newFixture("")

	rec := f.do(http.MethodPost, "/webhooks/notifications", []byte(notification), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.queue.received, 1)
	assert.JSONEq(t, notification, string(f.queue.received[0]))

	var ack WebhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "accepted", ack.Status)
	assert.Len(t, ack.Delivery, 64)
}

func TestWebhook_DuplicateDeliveryNotEnqueued(t *testing.T) {
	f := newFixture("")

	f.do(http.MethodPost, "/webhooks/notifications", []byte(notification), nil)
	rec := f.do(http.MethodPost, "/webhooks/notifications", []byte(notification), nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"duplicate"`)
	assert.Len(t, f.queue.received, 1)
}

func TestWebhook_MalformedJSON(t *testing.T) {
	f := newFixture("")

	rec := f.do(http.MethodPost, "/webhooks/notifications", []byte(`{nope`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.queue.received)
}

func TestWebhook_Signature(t *testing.T) {
	f := newFixture("s3cret")
	sig := hex.EncodeToString(NewVerifier("s3cret").Sign([]byte(notification)))

	rec := f.do(http.MethodPost, "/webhooks/notifications", []byte(notification), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/webhooks/notifications", []byte(notification), map[string]string{SignatureHeader: "sha256=" + strings.Repeat("0", 64)})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/webhooks/notifications", []byte(notification), map[string]string{SignatureHeader: "sha256=" + sig})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, f.queue.received, 1)
}

func TestWebhook_QueueFull(t *testing.T) {
	f := newFixture("")
	f.queue.err = worker.ErrQueueFull

	rec := f.do(http.MethodPost, "/webhooks/notifications", []byte(notification), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestWebhook_RouteInstance(t *testing.T) {
	f := newFixture("")

	rec := f.do(http.MethodPost, "/webhooks/notifications/I-777", []byte(`{"messageId":"B2"}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.queue.received, 1)
	assert.JSONEq(t, `{"messageId":"B2","instanceId":"I-777"}`, string(f.queue.received[0]))

	rec = f.do(http.MethodPost, "/webhooks/notifications/I-777", []byte(notification), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/webhooks/notifications/I-123", []byte(notification), nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestReprocess(t *testing.T) {
	f := newFixture("")
	var gotLimit int
	f.pipeline.reprocessFunc = func(ctx context.Context, limit int) (*service.ReprocessSummary, error) {
		gotLimit = limit
		return &service.ReprocessSummary{Attempted: 3, Succeeded: 2, Failed: 1}, nil
	}

	rec := f.do(http.MethodPost, "/api/v1/downloads/reprocess?limit=5000", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxReprocessLimit, gotLimit)
	assert.Contains(t, rec.Body.String(), `"succeeded":2`)

	rec = f.do(http.MethodPost, "/api/v1/downloads/reprocess", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultReprocessLimit, gotLimit)

	rec = f.do(http.MethodPost, "/api/v1/downloads/reprocess?limit=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLatestRecord(t *testing.T) {
	f := newFixture("")
	f.pipeline.latestFunc = func(ctx context.Context, instanceID, sourceMessageID string) (*entity.DownloadRecord, error) {
		if sourceMessageID == "missing" {
			return nil, entity.ErrNotFound
		}
		return &entity.DownloadRecord{ID: "r1", InstanceID: instanceID, SourceMessageID: sourceMessageID, Status: entity.DownloadStatusSuccess}, nil
	}

	rec := f.do(http.MethodGet, "/api/v1/instances/I-123/downloads/A1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source_message_id":"A1"`)

	rec = f.do(http.MethodGet, "/api/v1/instances/I-123/downloads/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileOrphans(t *testing.T) {
	f := newFixture("")

	rec := f.do(http.MethodPost, "/api/v1/reconcile/orphans", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"linked":2`)

	f.mapper.err = errors.New("scan failed")
	rec = f.do(http.MethodPost, "/api/v1/reconcile/orphans", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTenantReport(t *testing.T) {
	f := newFixture("")

	rec := f.do(http.MethodGet, "/api/v1/tenants/tenant-a/report.xlsx", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tenant-a", f.reports.tenant)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "tenant-a-media-report.xlsx")
	assert.Equal(t, "PK-xlsx", rec.Body.String())

	f.reports.err = errors.New("boom")
	rec = f.do(http.MethodGet, "/api/v1/tenants/tenant-a/report.xlsx", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	f := newFixture("")

	rec := f.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
	assert.Contains(t, rec.Body.String(), `"NotificationPool"`)
}

func TestVerifier(t *testing.T) {
	v := NewVerifier("k")
	body := []byte("payload")
	sig := hex.EncodeToString(v.Sign(body))

	assert.True(t, v.Verify(body, sig))
	assert.True(t, v.Verify(body, "sha256="+sig))
	assert.False(t, v.Verify([]byte("other"), sig))
	assert.False(t, v.Verify(body, "zz"))
	assert.True(t, NewVerifier("").Verify(body, ""))
}
