package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/google/uuid"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{}) {}
func (nopLogger) Warn(string, ...interface{}) {}
func (nopLogger) Error(string, ...interface{}) {}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type mockCredentialRepo struct {
	creds map[string]*entity.TenantCredential
	err   error
}

func (m *mockCredentialRepo) GetByInstanceID(ctx context.Context, instanceID string) (*entity.TenantCredential, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.creds[instanceID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// memDownloadRepo mirrors the SQLite repository's uniqueness and immutability rules
type memDownloadRepo struct {
	mu      sync.Mutex
	records map[string]*entity.DownloadRecord
	creates int32
	now     func() time.Time
}

func newMemDownloadRepo() *memDownloadRepo {
	return &memDownloadRepo{records: make(map[string]*entity.DownloadRecord), now: time.Now}
}

func (r *memDownloadRepo) Create(ctx context.Context, rec *entity.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.InstanceID == rec.InstanceID && existing.SourceMessageID == rec.SourceMessageID && existing.Generation == rec.Generation {
			return port.ErrDuplicateRecord
		}
	}
	atomic.AddInt32(&r.creates, 1)
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Generation == 0 {
		rec.Generation = 1
	}
	rec.CreatedAt = r.now()
	rec.UpdatedAt = rec.CreatedAt
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *memDownloadRepo) GetLatest(ctx context.Context, instanceID, sourceMessageID string) (*entity.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *entity.DownloadRecord
	for _, rec := range r.records {
		if rec.InstanceID == instanceID && rec.SourceMessageID == sourceMessageID {
			if latest == nil || rec.Generation > latest.Generation {
				latest = rec
			}
		}
	}
	if latest == nil {
		return nil, entity.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memDownloadRepo) MarkDownloading(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != entity.DownloadStatusPending {
		return entity.ErrNotFound
	}
	rec.Status = entity.DownloadStatusDownloading
	rec.UpdatedAt = r.now()
	return nil
}

func (r *memDownloadRepo) Finalize(ctx context.Context, rec *entity.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[rec.ID]
	if !ok || stored.IsTerminal() {
		return entity.ErrNotFound
	}
	rec.UpdatedAt = r.now()
	cp := *rec
	r.records[rec.ID] = &cp
	return nil
}

func (r *memDownloadRepo) latestOnly(filter func(*entity.DownloadRecord) bool, limit int) []*entity.DownloadRecord {
	latest := make(map[string]*entity.DownloadRecord)
	for _, rec := range r.records {
		key := rec.InstanceID + "/" + rec.SourceMessageID
		if cur, ok := latest[key]; !ok || rec.Generation > cur.Generation {
			latest[key] = rec
		}
	}
	var out []*entity.DownloadRecord
	for _, rec := range latest {
		if filter(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceMessageID < out[j].SourceMessageID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *memDownloadRepo) ListReprocessable(ctx context.Context, limit int) ([]*entity.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestOnly(func(rec *entity.DownloadRecord) bool {
		return rec.IsFailed() && rec.Retryable
	}, limit), nil
}

func (r *memDownloadRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*entity.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestOnly(func(rec *entity.DownloadRecord) bool {
		return !rec.IsTerminal() && rec.UpdatedAt.Before(olderThan)
	}, limit), nil
}

func (r *memDownloadRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestOnly(func(rec *entity.DownloadRecord) bool {
		return rec.TenantID == tenantID
	}, limit), nil
}

func (r *memDownloadRepo) all() []*entity.DownloadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.DownloadRecord
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

type memMessageRepo struct {
	mu       sync.Mutex
	messages []*entity.MessageRecord
}

func (r *memMessageRepo) Upsert(ctx context.Context, msg *entity.MessageRecord) (*entity.MessageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.InstanceID == msg.InstanceID && m.SourceMessageID == msg.SourceMessageID {
			cp := *m
			return &cp, nil
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	cp := *msg
	r.messages = append(r.messages, &cp)
	out := cp
	return &out, nil
}

func (r *memMessageRepo) GetBySourceMessageID(ctx context.Context, instanceID, sourceMessageID string) (*entity.MessageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.InstanceID == instanceID && m.SourceMessageID == sourceMessageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (r *memMessageRepo) FindBySourcePrefix(ctx context.Context, instanceID, prefix string) ([]*entity.MessageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.MessageRecord
	for _, m := range r.messages {
		if m.InstanceID != instanceID {
			continue
		}
		clean := strings.Map(func(c rune) rune {
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
				return c
			}
			return -1
		}, m.SourceMessageID)
		if strings.HasPrefix(clean, prefix) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memMessageRepo) ListInChatBetween(ctx context.Context, tenantID, instanceID, chatID string, kind entity.AttachmentKind, from, to time.Time) ([]*entity.MessageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.MessageRecord
	for _, m := range r.messages {
		if m.TenantID == tenantID && m.InstanceID == instanceID && m.ChatID == chatID && m.Kind == kind &&
			!m.Timestamp.Before(from) && m.Timestamp.Before(to) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memLinkRepo struct {
	mu    sync.Mutex
	links map[string]*entity.ReconciliationLink
}

func newMemLinkRepo() *memLinkRepo {
	return &memLinkRepo{links: make(map[string]*entity.ReconciliationLink)}
}

func (r *memLinkRepo) Create(ctx context.Context, link *entity.ReconciliationLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[link.StoredPath]; ok {
		return port.ErrDuplicateRecord
	}
	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	cp := *link
	r.links[link.StoredPath] = &cp
	return nil
}

func (r *memLinkRepo) GetByStoredPath(ctx context.Context, storedPath string) (*entity.ReconciliationLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[storedPath]
	if !ok {
		return nil, entity.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memLinkRepo) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*entity.ReconciliationLink, error) {
	return nil, nil
}

func (r *memLinkRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockProvider struct {
	requestFunc func(ctx context.Context, token string, req port.MediaRetrievalRequest) (*port.MediaLink, error)
	fetchFunc   func(ctx context.Context, link *port.MediaLink) (*port.FetchedMedia, error)

	requests int32
	fetches  int32
}

func (m *mockProvider) RequestMediaLink(ctx context.Context, token string, req port.MediaRetrievalRequest) (*port.MediaLink, error) {
	atomic.AddInt32(&m.requests, 1)
	if m.requestFunc != nil {
		return m.requestFunc(ctx, token, req)
	}
	return &port.MediaLink{URL: "https://cdn.example/" + req.DirectPath}, nil
}

func (m *mockProvider) Fetch(ctx context.Context, link *port.MediaLink) (*port.FetchedMedia, error) {
	atomic.AddInt32(&m.fetches, 1)
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, link)
	}
	return mediaBody([]byte("image-bytes")), nil
}

func mediaBody(data []byte) *port.FetchedMedia {
	return &port.FetchedMedia{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentType:   "image/jpeg",
		ContentLength: int64(len(data)),
	}
}

type instantRetry struct{ retries int }

func (r instantRetry) Retries() int { return r.retries }
func (r instantRetry) Backoff(int) time.Duration { return time.Millisecond }

type recordingPublisher struct {
	mu     sync.Mutex
	events []port.MediaStoredEvent
	failed []port.MediaFailedEvent
	err    error
}

func (p *recordingPublisher) PublishMediaStored(ctx context.Context, evt port.MediaStoredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) PublishMediaFailed(ctx context.Context, evt port.MediaFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
