package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"sportello/internal/platform/middleware"
	"sportello/internal/submission"
	dErrors "sportello/pkg/domain-errors"
	"sportello/pkg/httputil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (h *Handler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := submission.Status(q.Get("status"))
	if status != "" && !submission.ValidStatus(status) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown status filter"))
		return
	}

	page := queryInt(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	perPage := queryInt(q.Get("per_page"), defaultPageSize)
	if perPage < 1 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	subs, total, err := h.store.List(r.Context(), submission.ListFilter{
		Search: q.Get("q"),
		Status: status,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		h.adminError(w, r, "list submissions", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"submissions": subs,
		"total":       total,
		"page":        page,
		"per_page":    perPage,
	})
}

// clientInfo is the submitter user-agent broken down for operators.
type clientInfo struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Mobile  bool   `json:"mobile"`
	Bot     bool   `json:"bot"`
}

type adminDetail struct {
	*submission.Submission
	Client *clientInfo `json:"client,omitempty"`
}

func parseClient(raw string) *clientInfo {
	if raw == "" {
		return nil
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	return &clientInfo{
		Browser: strings.TrimSpace(name + " " + version),
		OS:      ua.OS(),
		Mobile:  ua.Mobile(),
		Bot:     ua.Bot(),
	}
}

func (h *Handler) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, adminDetail{
		Submission: sub,
		Client:     parseClient(sub.UserAgent),
	})
}

func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var body struct {
		Status submission.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !submission.ValidStatus(body.Status) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown submission status"))
		return
	}

	if err := h.store.UpdateStatus(r.Context(), sub.ID, body.Status); err != nil {
		h.adminError(w, r, "update status", err)
		return
	}
	h.logger.Info("submission status changed",
		slog.Int64("id", sub.ID), slog.String("status", string(body.Status)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdminNotes(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var body struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.store.UpdateNotes(r.Context(), sub.ID, body.Notes); err != nil {
		h.adminError(w, r, "update notes", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAdminDelete removes the stored archive first and the record
// second, so a half-finished delete can be retried rather than leaving
// an unreferenced file behind.
func (h *Handler) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := h.archive.Delete(sub.FilePath); err != nil {
		h.adminError(w, r, "delete archive", err)
		return
	}
	if err := h.store.Delete(r.Context(), sub.ID); err != nil {
		h.adminError(w, r, "delete record", err)
		return
	}
	h.logger.Info("submission deleted", slog.Int64("id", sub.ID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdminStorage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.archive.TotalUsage()
	if err != nil {
		h.adminError(w, r, "compute storage usage", err)
		return
	}
	free, err := h.archive.FreeSpace()
	if err != nil {
		h.adminError(w, r, "compute free space", err)
		return
	}
	mode, limit := h.archive.Quota()

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"quota_mode":  string(mode),
		"total_usage": usage,
		"free_space":  free,
		"limit":       limit,
	})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*submission.Submission, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "submission not found"))
		return nil, false
	}
	sub, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return sub, true
}

func (h *Handler) adminError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if code := dErrors.CodeOf(err); code != dErrors.CodeInternal {
		httputil.WriteError(w, err)
		return
	}
	h.logger.Error("admin operation failed",
		slog.String("op", op),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		slog.Any("error", err))
	httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, op+" failed"))
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
