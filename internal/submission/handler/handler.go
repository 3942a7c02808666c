// Package handler exposes the citizen intake API and the operator admin
// API over HTTP. Handlers stay thin: they parse and decode requests,
// delegate to the pipeline, and translate errors.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sportello/internal/platform/config"
	"sportello/internal/platform/metrics"
	"sportello/internal/platform/middleware"
	"sportello/internal/submission"
	dErrors "sportello/pkg/domain-errors"
	"sportello/pkg/httputil"
)

// Service runs the intake pipeline.
type Service interface {
	Submit(ctx context.Context, req *submission.SubmitRequest) (*submission.Submission, error)
}

// ChunkSink accepts upload chunks into scratch storage.
type ChunkSink interface {
	Put(sessionID string, index, total int, originalName string, payload io.Reader) error
}

// ArchiveReader serves, inspects and removes stored archives.
type ArchiveReader interface {
	Open(path string) (*os.File, os.FileInfo, error)
	Delete(path string) error
	TotalUsage() (int64, error)
	FreeSpace() (int64, error)
	Quota() (config.QuotaMode, int64)
}

// TokenVerifier checks download capability tokens.
type TokenVerifier interface {
	Verify(token string, submissionID int64) error
}

// Handler handles intake and admin endpoints.
type Handler struct {
	service    Service
	store      submission.Store
	chunks     ChunkSink
	archive    ArchiveReader
	tokens     TokenVerifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	maxUpload  int64
	scratchDir string
	adminToken string
}

func New(
	service Service,
	store submission.Store,
	chunks ChunkSink,
	archive ArchiveReader,
	tokens TokenVerifier,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg *config.Config,
) *Handler {
	return &Handler{
		service:    service,
		store:      store,
		chunks:     chunks,
		archive:    archive,
		tokens:     tokens,
		metrics:    m,
		logger:     logger,
		maxUpload:  cfg.MaxFileSize,
		scratchDir: cfg.ScratchDir,
		adminToken: cfg.AdminToken,
	}
}

// Register mounts all routes under /api/v1 on the given router.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))

	api.Post("/submissions", h.handleSubmit)
	api.Post("/uploads/chunk", h.handleChunk)
	api.Get("/submissions/{id}/download", h.handleDownload)

	admin := chi.NewRouter()
	admin.Use(middleware.Timeout(30 * time.Second))
	admin.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
	admin.Get("/submissions", h.handleAdminList)
	admin.Get("/submissions/{id}", h.handleAdminGet)
	admin.Patch("/submissions/{id}/status", h.handleAdminStatus)
	admin.Patch("/submissions/{id}/notes", h.handleAdminNotes)
	admin.Delete("/submissions/{id}", h.handleAdminDelete)
	admin.Get("/storage", h.handleAdminStorage)
	api.Mount("/admin", admin)

	r.Mount("/api/v1", api)
}

// handleSubmit accepts the full intake form, either with a direct file
// or referencing a completed chunk session.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	// Leave headroom over the file cap for the form fields themselves.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		h.writeFormError(w, r, dErrors.New(dErrors.CodeTooLarge,
			"La richiesta supera la dimensione massima consentita."))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	req := &submission.SubmitRequest{
		Cognome:            r.PostFormValue("cognome"),
		Nome:               r.PostFormValue("nome"),
		DataNascita:        r.PostFormValue("data_nascita"),
		ComuneNascita:      r.PostFormValue("comune_nascita"),
		CodiceFiscale:      r.PostFormValue("codice_fiscale"),
		ComuneResidenza:    r.PostFormValue("comune_residenza"),
		IndirizzoResidenza: r.PostFormValue("indirizzo_residenza"),
		Telefono:           r.PostFormValue("telefono"),
		Email:              r.PostFormValue("email"),
		Terms:              r.PostFormValue("terms"),
		BotToken:           r.PostFormValue("g-recaptcha-response"),
		UploadSessionID:    r.PostFormValue("upload_id"),
		IPAddress:          clientIP(r),
		UserAgent:          r.UserAgent(),
	}

	if req.UploadSessionID == "" {
		path, name, err := h.spoolUpload(r)
		if err != nil {
			h.writeFormError(w, r, err)
			return
		}
		if path != "" {
			defer os.Remove(path)
			req.FilePath, req.FileName = path, name
		}
	}

	sub, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeFormError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"message":       "La sua richiesta è stata inviata con successo.",
		"submission_id": sub.ID,
	})
}

// handleChunk stores one chunk of a multi-part upload session.
func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		h.writeFormError(w, r, dErrors.New(dErrors.CodeTooLarge,
			"Il blocco supera la dimensione massima consentita."))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	uploadID := r.PostFormValue("upload_id")
	index, err := strconv.Atoi(r.PostFormValue("chunk_index"))
	if err != nil {
		h.writeFormError(w, r, dErrors.New(dErrors.CodeBadRequest, "chunk_index non valido"))
		return
	}
	total, err := strconv.Atoi(r.PostFormValue("total_chunks"))
	if err != nil {
		h.writeFormError(w, r, dErrors.New(dErrors.CodeBadRequest, "total_chunks non valido"))
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		h.writeFormError(w, r, dErrors.New(dErrors.CodeBadRequest, "Nessun blocco ricevuto."))
		return
	}
	defer file.Close()

	if err := h.chunks.Put(uploadID, index, total, r.PostFormValue("file_name"), file); err != nil {
		h.writeFormError(w, r, err)
		return
	}
	h.metrics.ChunksReceived.Inc()

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"chunk_index":  index,
		"total_chunks": total,
	})
}

// handleDownload streams a stored archive to a bearer of a valid
// capability token.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "submission not found"))
		return
	}
	if err := h.tokens.Verify(r.URL.Query().Get("token"), id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	sub, err := h.store.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	f, info, err := h.archive.Open(sub.FilePath)
	if err != nil {
		h.logger.Error("stored archive unreadable",
			slog.Int64("id", id), slog.String("path", sub.FilePath), slog.Any("error", err))
		httputil.WriteError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sub.FileName))
	http.ServeContent(w, r, sub.FileName, info.ModTime(), f)
}

// spoolUpload copies a direct file upload into scratch storage and
// returns its path. An absent file field is not an error here; the
// pipeline decides whether a file was required.
func (h *Handler) spoolUpload(r *http.Request) (path, name string, err error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", "", nil
		}
		return "", "", dErrors.New(dErrors.CodeBadRequest, "Il file allegato non è leggibile.")
	}
	defer file.Close()

	tmp, err := os.CreateTemp(h.scratchDir, "direct_*.zip")
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "could not spool upload")
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "could not spool upload")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "could not spool upload")
	}
	return tmp.Name(), header.Filename, nil
}

// writeFormError renders the public form envelope. Internal details stay
// in the log.
func (h *Handler) writeFormError(w http.ResponseWriter, r *http.Request, err error) {
	code := dErrors.CodeOf(err)
	msg := dErrors.MessageOf(err)
	if code == dErrors.CodeInternal {
		h.logger.Error("intake request failed",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.Any("error", err))
		msg = "Si è verificato un errore imprevisto. Riprovare più tardi."
	}
	httputil.WriteJSON(w, httputil.StatusOf(code), map[string]any{
		"success": false,
		"message": msg,
	})
}
