package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/batilieri/multichat-system-sub001/internal/application/service"
	"github.com/batilieri/multichat-system-sub001/internal/domain/entity"
	"github.com/batilieri/multichat-system-sub001/internal/infrastructure/worker"
)

const (
	defaultReprocessLimit = 100
	maxReprocessLimit     = 1000
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// payload keys that may carry the instance id
var instanceKeys = []string{"instanceId", "instance_id", "instance"}

// Enqueuer accepts raw notifications for background processing
type Enqueuer interface {
	Enqueue(raw []byte) error
}

// ReportWriter renders a tenant spreadsheet
type ReportWriter interface {
	Write(ctx context.Context, tenantID string, w io.Writer) error
}

// StatusProvider exposes worker health
type StatusProvider interface {
	Statuses() map[string]worker.Status
}

// HandlerDeps groups the handler collaborators
type HandlerDeps struct {
	Queue    Enqueuer
	Pipeline service.Pipeline
	Mapper   service.ReconciliationMapper
	Reports  ReportWriter
	Deduper  port.DeliveryDeduper
	Workers  StatusProvider
	Verifier *Verifier
	Logger   Logger
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	HandlerDeps
	maxBodyBytes int64
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps HandlerDeps, maxBodyBytes int64) *Handlers {
	if deps.Verifier == nil {
		deps.Verifier = NewVerifier("")
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &Handlers{HandlerDeps: deps, maxBodyBytes: maxBodyBytes}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp string                   `json:"timestamp"`
	Version   string                   `json:"version"`
	Workers   map[string]worker.Status `json:"workers,omitempty"`
}

// WebhookAck is returned for accepted deliveries
type WebhookAck struct {
	Status   string `json:"status"`
	Delivery string `json:"delivery"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	if h.Workers != nil {
		response.Workers = h.Workers.Statuses()
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

// ReceiveNotification handles POST /webhooks/notifications[/:instance]
func (h *Handlers) ReceiveNotification(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, Response{Error: "request body too large"})
			return
		}
		h.Logger.Error("Failed to read request body", "error", err)
		c.JSON(http.StatusBadRequest, Response{Error: "failed to read request body"})
		return
	}

	if !h.Verifier.Verify(body, c.GetHeader(SignatureHeader)) {
		h.Logger.Warn("Invalid webhook signature",
			"security", true,
			"client_ip", c.ClientIP(),
			"path", c.FullPath())
		c.JSON(http.StatusUnauthorized, Response{Error: "invalid signature"})
		return
	}

	body, err = bindRouteInstance(body, c.Param("instance"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	sum := sha256.Sum256(body)
	delivery := hex.EncodeToString(sum[:])

	if h.Deduper != nil {
		first, err := h.Deduper.FirstSeen(c.Request.Context(), delivery)
		switch {
		case err != nil:
			// the pipeline is idempotent; a dedup outage only costs duplicate work
			h.Logger.Warn("Delivery dedup unavailable", "error", err)
		case !first:
			c.JSON(http.StatusAccepted, WebhookAck{Status: "duplicate", Delivery: delivery})
			return
		}
	}

	if err := h.Queue.Enqueue(body); err != nil {
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolStopped) {
			h.Logger.Warn("Rejecting notification", "reason", err.Error())
			c.Header("Retry-After", "5")
			c.JSON(http.StatusServiceUnavailable, Response{Error: err.Error()})
			return
		}
		h.Logger.Error("Failed to enqueue notification", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Error: "failed to enqueue notification"})
		return
	}

	c.JSON(http.StatusAccepted, WebhookAck{Status: "accepted", Delivery: delivery})
}

// Reprocess handles POST /api/v1/downloads/reprocess
func (h *Handlers) Reprocess(c *gin.Context) {
	limit := defaultReprocessLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, Response{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxReprocessLimit)
	}

	summary, err := h.Pipeline.Reprocess(c.Request.Context(), limit)
	if err != nil {
		h.Logger.Error("Reprocess run failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Data: summary, Error: "reprocess run failed"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// GetLatestRecord handles GET /api/v1/instances/:instance/downloads/:message_id
func (h *Handlers) GetLatestRecord(c *gin.Context) {
	rec, err := h.Pipeline.LatestRecord(c.Request.Context(), c.Param("instance"), c.Param("message_id"))
	if errors.Is(err, entity.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{Error: "download record not found"})
		return
	}
	if err != nil {
		h.Logger.Error("Failed to load download record", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Error: "failed to load download record"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: rec})
}

// ReconcileOrphans handles POST /api/v1/reconcile/orphans
func (h *Handlers) ReconcileOrphans(c *gin.Context) {
	summary, err := h.Mapper.ReconcileOrphans(c.Request.Context())
	if err != nil {
		h.Logger.Error("Orphan reconciliation failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Data: summary, Error: "orphan reconciliation failed"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// TenantReport handles GET /api/v1/tenants/:tenant/report.xlsx
func (h *Handlers) TenantReport(c *gin.Context) {
	tenantID := c.Param("tenant")

	var buf bytes.Buffer
	if err := h.Reports.Write(c.Request.Context(), tenantID, &buf); err != nil {
		h.Logger.Error("Failed to build tenant report", "tenant_id", tenantID, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Error: "failed to build report"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-media-report.xlsx"`, tenantID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// bindRouteInstance fills the instance id from the route when the payload omits it
func bindRouteInstance(body []byte, routeInstance string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("malformed JSON payload")
	}
	if routeInstance == "" {
		return body, nil
	}

	for _, key := range instanceKeys {
		if v, ok := payload[key]; ok && v != nil {
			if fmt.Sprint(v) != routeInstance {
				return nil, fmt.Errorf("payload instance does not match route instance")
			}
			return body, nil
		}
	}

	payload["instanceId"] = routeInstance
	return json.Marshal(payload)
}
