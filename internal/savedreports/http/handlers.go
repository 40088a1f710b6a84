package savedreportshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/erplora/insighthub/internal/analytics"
	"github.com/erplora/insighthub/internal/period"
	"github.com/erplora/insighthub/internal/platform/httpx"
	"github.com/erplora/insighthub/internal/savedreports"
	"github.com/erplora/insighthub/internal/shared"
	"github.com/erplora/insighthub/internal/snapcache"
)

// requestTimeout bounds one request. Running a saved report may trigger two
// cold snapshot computations back to back.
const requestTimeout = 35 * time.Second

// retryAfterHint is the Retry-After sent with 503 responses.
const retryAfterHint = 30 * time.Second

// ReportStore manages saved report definitions and runs.
type ReportStore interface {
	Create(ctx context.Context, tenantID, ownerID uuid.UUID, req savedreports.UpsertRequest) (savedreports.SavedReport, error)
	Get(ctx context.Context, tenantID, userID, id uuid.UUID) (savedreports.SavedReport, error)
	List(ctx context.Context, tenantID, userID uuid.UUID, limit, offset int) ([]savedreports.SavedReport, int, error)
	Update(ctx context.Context, tenantID, userID, id uuid.UUID, req savedreports.UpsertRequest) (savedreports.SavedReport, error)
	Delete(ctx context.Context, tenantID, userID, id uuid.UUID) error
	Run(ctx context.Context, tenantID, userID, id uuid.UUID, referenceDate time.Time) (*analytics.ReportResult, error)
}

// Handler coordinates the saved reports JSON API.
type Handler struct {
	logger  *slog.Logger
	reports ReportStore
}

// NewHandler constructs the saved reports HTTP handler.
func NewHandler(logger *slog.Logger, reports ReportStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reports: reports}
}

type listResponse struct {
	Items      []savedreports.SavedReport `json:"items"`
	Pagination shared.Pagination          `json:"pagination"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	page, err := queryInt(r.URL.Query(), "page", 1)
	if err != nil {
		h.respondError(w, err)
		return
	}
	perPage, err := queryInt(r.URL.Query(), "per_page", 20)
	if err != nil {
		h.respondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	p := shared.NewPagination(page, perPage, 0)
	items, total, err := h.reports.List(ctx, ident.TenantID, ident.UserID, p.PerPage, p.Offset())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []savedreports.SavedReport{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Items:      items,
		Pagination: shared.NewPagination(p.Page, p.PerPage, total),
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req savedreports.UpsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	report, err := h.reports.Create(ctx, ident.TenantID, ident.UserID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, report)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	id, err := reportID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	report, err := h.reports.Get(ctx, ident.TenantID, ident.UserID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	id, err := reportID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var req savedreports.UpsertRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	report, err := h.reports.Update(ctx, ident.TenantID, ident.UserID, id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	id, err := reportID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.reports.Delete(ctx, ident.TenantID, ident.UserID, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRun expands the stored definition through the report engine and
// stamps the run.
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.identity(w, r)
	if !ok {
		return
	}
	id, err := reportID(r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	var referenceDate time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		referenceDate, err = period.ParseDate(raw)
		if err != nil {
			h.respondError(w, validationError{field: "date"})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := h.reports.Run(ctx, ident.TenantID, ident.UserID, id, referenceDate)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	ident, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Unauthorized(w, "missing identity")
		return shared.Identity{}, false
	}
	return ident, true
}

func reportID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, validationError{field: "id"}
	}
	return id, nil
}

func queryInt(q url.Values, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, validationError{field: key}
	}
	return value, nil
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var vErr validationError
	switch {
	case errors.As(err, &vErr):
		httpx.Unprocessable(w, vErr.Error())
	case errors.Is(err, savedreports.ErrInvalidReport),
		errors.Is(err, period.ErrInvalidSelector),
		errors.Is(err, period.ErrInvalidConfiguration),
		errors.Is(err, analytics.ErrUnknownReportType):
		httpx.Unprocessable(w, err.Error())
	case errors.Is(err, savedreports.ErrNotFound):
		httpx.NotFound(w, err.Error())
	case errors.Is(err, savedreports.ErrForbidden):
		httpx.Forbidden(w, err.Error())
	case errors.Is(err, savedreports.ErrDuplicateName):
		httpx.Conflict(w, err.Error())
	case errors.Is(err, analytics.ErrDataUnavailable),
		errors.Is(err, snapcache.ErrComputationFailed),
		errors.Is(err, context.DeadlineExceeded):
		h.logError("saved report run unavailable", err)
		httpx.Unavailable(w, retryAfterHint, "report data is temporarily unavailable")
	default:
		h.logError("request failed", err)
		httpx.Internal(w)
	}
}

func (h *Handler) logError(msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
}

type validationError struct {
	field string
}

func (v validationError) Error() string {
	return fmt.Sprintf("invalid parameter %q", v.field)
}
