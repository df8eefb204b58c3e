package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kosherdir/internal/audit"
	"kosherdir/internal/auth"
	"kosherdir/internal/bulk"
	"kosherdir/internal/export"
	"kosherdir/internal/registry"
	"kosherdir/internal/storage"
	dErrors "kosherdir/pkg/domain-errors"
	"kosherdir/pkg/httputil"
	pkgmeta "kosherdir/pkg/platform/middleware/metadata"
)

// CSRFHeader is the double-submit header mutating admin endpoints require.
const CSRFHeader = "x-csrf-token"

// BulkRunner is what the handler needs from the bulk engine.
type BulkRunner interface {
	Run(ctx context.Context, req bulk.Request, progress bulk.ProgressFunc) (*bulk.Result, error)
}

// Exporter is what the handler needs from the CSV streamer.
type Exporter interface {
	Export(ctx context.Context, opts export.Options) (*export.Result, error)
}

// AuditQuerier is the read side of the audit log.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.Filter, page, pageSize int) ([]audit.Record, error)
}

// CSRFService issues and validates the double-submit tokens.
type CSRFService interface {
	Issue(subject string) string
	Validate(token, expectedSubject string) error
}

// Handler is the thin HTTP layer over the admin engine. It validates and
// reshapes requests; the engine owns the semantics.
type Handler struct {
	registry *registry.Registry
	engine   BulkRunner
	exporter Exporter
	auditor  AuditQuerier
	csrf     CSRFService
	csrfTTL  time.Duration
	logger   *slog.Logger
}

func NewHandler(reg *registry.Registry, engine BulkRunner, exporter Exporter, auditor AuditQuerier, csrfSvc CSRFService, csrfTTL time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		registry: reg,
		engine:   engine,
		exporter: exporter,
		auditor:  auditor,
		csrf:     csrfSvc,
		csrfTTL:  csrfTTL,
		logger:   logger,
	}
}

type bulkRequestBody struct {
	Action    string           `json:"action"`
	IDs       []string         `json:"ids,omitempty"`
	Data      []map[string]any `json:"data,omitempty"`
	BatchSize *int             `json:"batchSize,omitempty"`
}

type bulkResponse struct {
	Message   string             `json:"message"`
	Processed int                `json:"processed"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Errors    []bulk.TargetError `json:"errors"`
}

// handleIssueCSRF returns a fresh token bound to the authenticated actor.
func (h *Handler) handleIssueCSRF(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorID(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"csrf_token": h.csrf.Issue(actor),
		"expires_in": int(h.csrfTTL.Seconds()),
	})
}

// handleBulk runs one batched mutation. The request is accepted (HTTP 200)
// even when some records fail; only request-level problems produce an HTTP
// error. That distinction is the contract callers rely on.
func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.ActorID(ctx)

	// CSRF is checked before anything request-specific: a forged request
	// learns nothing about which entity types exist. Permission comes next
	// because it depends on the descriptor (image deletion has its own).
	if err := h.csrf.Validate(r.Header.Get(CSRFHeader), actor); err != nil {
		h.logger.WarnContext(ctx, "csrf validation failed", "actor", actor, "error", err)
		httputil.WriteError(w, err)
		return
	}

	entityType := chi.URLParam(r, "entityType")
	desc, err := h.registry.Describe(entityType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	claims := auth.ClaimsFromContext(ctx)
	if claims == nil || !claims.HasPermission(desc.BulkPermission) {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "missing permission %s", desc.BulkPermission))
		return
	}

	var body bulkRequestBody
	if err := httputil.DecodeJSON(r, &body); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := buildBulkRequest(entityType, actor, body, requestMetadata(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, runErr := h.engine.Run(ctx, req, func(processed, total int) {
		h.logger.DebugContext(ctx, "bulk progress",
			"entity_type", entityType,
			"processed", processed,
			"total", total,
		)
	})
	if runErr != nil {
		if result != nil {
			// Cancelled mid-run: report the partial progress if the caller
			// is still listening.
			writeBulkResult(w, req.Operation, result)
			return
		}
		httputil.WriteError(w, runErr)
		return
	}

	writeBulkResult(w, req.Operation, result)
}

func writeBulkResult(w http.ResponseWriter, op bulk.Operation, result *bulk.Result) {
	message := "bulk " + string(op) + " completed"
	if result.Failed > 0 {
		message = "bulk " + string(op) + " completed with errors"
	}
	errs := result.Errors
	if errs == nil {
		errs = []bulk.TargetError{}
	}
	httputil.WriteJSON(w, http.StatusOK, bulkResponse{
		Message:   message,
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Errors:    errs,
	})
}

func buildBulkRequest(entityType, actor string, body bulkRequestBody, metadata map[string]any) (bulk.Request, error) {
	op := bulk.Operation(body.Action)
	if !op.IsValid() {
		return bulk.Request{}, dErrors.Newf(dErrors.CodeInvalidInput, "unknown action %q", body.Action)
	}

	batchSize := bulk.DefaultBatchSize
	if body.BatchSize != nil {
		batchSize = *body.BatchSize
	}

	var targets []bulk.Target
	switch op {
	case bulk.OperationCreate:
		if len(body.Data) == 0 {
			return bulk.Request{}, dErrors.New(dErrors.CodeInvalidInput, "create requires data")
		}
		for _, data := range body.Data {
			targets = append(targets, bulk.Target{Data: data})
		}
	case bulk.OperationUpdate:
		if len(body.Data) == 0 {
			return bulk.Request{}, dErrors.New(dErrors.CodeInvalidInput, "update requires data")
		}
		for _, data := range body.Data {
			id, _ := data["id"].(string)
			if id == "" {
				return bulk.Request{}, dErrors.New(dErrors.CodeInvalidInput, "update entries require an id field")
			}
			fields := make(map[string]any, len(data))
			for k, v := range data {
				if k != "id" {
					fields[k] = v
				}
			}
			targets = append(targets, bulk.Target{ID: id, Data: fields})
		}
	case bulk.OperationDelete, bulk.OperationSoftDelete:
		if len(body.IDs) == 0 {
			return bulk.Request{}, dErrors.New(dErrors.CodeInvalidInput, "delete requires ids")
		}
		for _, id := range body.IDs {
			targets = append(targets, bulk.Target{ID: id})
		}
	}

	return bulk.Request{
		EntityType: entityType,
		Operation:  op,
		Targets:    targets,
		BatchSize:  batchSize,
		Actor:      actor,
		Metadata:   metadata,
	}, nil
}

// handleExport streams a filtered, sorted CSV of one entity collection.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.ActorID(ctx)

	if err := h.csrf.Validate(r.Header.Get(CSRFHeader), actor); err != nil {
		h.logger.WarnContext(ctx, "csrf validation failed", "actor", actor, "error", err)
		httputil.WriteError(w, err)
		return
	}

	entityType := chi.URLParam(r, "entityType")
	q := r.URL.Query()

	opts := export.Options{
		EntityType: entityType,
		Search:     q.Get("search"),
		SortBy:     q.Get("sortBy"),
	}
	if q.Get("sortOrder") == "desc" {
		opts.SortOrder = storage.SortDesc
	}
	if fields := q.Get("fields"); fields != "" {
		opts.Fields = splitFields(fields)
	}
	if raw := q.Get("maxRows"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "maxRows must be a positive integer"))
			return
		}
		opts.MaxRows = n
	}

	result, err := h.exporter.Export(ctx, opts)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	filename := entityType + "-" + time.Now().Format("20060102") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("X-Export-Total", strconv.Itoa(result.TotalCount))
	w.Header().Set("X-Export-Count", strconv.Itoa(result.ExportedCount))
	w.Header().Set("X-Export-Limited", strconv.FormatBool(result.Limited))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(result.CSV))
}

// handleAudit serves the paginated audit trail, newest first.
func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := audit.Filter{
		Actor:      q.Get("actor"),
		EntityType: q.Get("entityType"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "from must be RFC3339"))
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "to must be RFC3339"))
			return
		}
		filter.To = t
	}

	// The clamped values are what the query actually uses, so they are what
	// the response echoes.
	page := queryInt(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(q.Get("pageSize"), audit.DefaultPageSize)
	if pageSize < 1 {
		pageSize = audit.DefaultPageSize
	}
	if pageSize > audit.MaxPageSize {
		pageSize = audit.MaxPageSize
	}

	records, err := h.auditor.Query(r.Context(), filter, page, pageSize)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"records":   records,
		"page":      page,
		"page_size": pageSize,
	})
}

func requestMetadata(ctx context.Context) map[string]any {
	meta := pkgmeta.FromContext(ctx)
	out := map[string]any{}
	if meta.RequestID != "" {
		out["request_id"] = meta.RequestID
	}
	if meta.ClientIP != "" {
		out["client_ip"] = meta.ClientIP
	}
	if meta.Browser != "" {
		out["browser"] = meta.Browser
	}
	if meta.OS != "" {
		out["os"] = meta.OS
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return fallback
}

func splitFields(raw string) []string {
	var out []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
