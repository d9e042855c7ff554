package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/Lllllllleong/zenocr/internal/config"
	"github.com/Lllllllleong/zenocr/internal/export"
	"github.com/Lllllllleong/zenocr/internal/i18n"
	"github.com/Lllllllleong/zenocr/internal/models"
	"github.com/Lllllllleong/zenocr/internal/ocr"
	"github.com/Lllllllleong/zenocr/internal/pagestore"
	"github.com/Lllllllleong/zenocr/internal/pipeline"
	"github.com/Lllllllleong/zenocr/internal/render"
)

// multipartOverhead is allowed on top of the file size limit for form framing.
const multipartOverhead = 1 << 20

// EditorFunction serves the JSON API behind the browser editor. It holds a
// single in-memory document; a new upload replaces it.
type EditorFunction struct {
	pipeline *pipeline.Pipeline
	msgs     *i18n.Printer
	maxBytes int64
	router   chi.Router

	// background tracks pipeline runs and redos started by requests.
	background sync.WaitGroup
}

// NewEditor creates the editor from configuration.
func NewEditor(ctx context.Context, cfg *config.Config) (*EditorFunction, error) {
	msgs := i18n.NewPrinter(cfg.Language)
	p := pipeline.New(
		pagestore.New(),
		render.NewFitzDecoder(cfg.Render.Scale, cfg.Render.JPEGQuality),
		ocr.New(cfg.OCR, cfg.ProjectID, msgs),
		msgs,
		cfg.MaxUploadBytes(),
	)
	slog.Info("Editor initialized.", "ocrProvider", cfg.OCR.Provider, "language", msgs.Language())
	return NewEditorWithPipeline(p, msgs, cfg.MaxUploadBytes()), nil
}

// NewEditorWithPipeline wires the HTTP routes around an existing pipeline.
func NewEditorWithPipeline(p *pipeline.Pipeline, msgs *i18n.Printer, maxBytes int64) *EditorFunction {
	f := &EditorFunction{pipeline: p, msgs: msgs, maxBytes: maxBytes}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", f.handleUpload)
		r.Get("/export", f.handleExport)
		r.Route("/pages", func(r chi.Router) {
			r.Get("/", f.handleListPages)
			r.Route("/{page}", func(r chi.Router) {
				r.Get("/", f.handleGetPage)
				r.Put("/text", f.handleEditText)
				r.Post("/redo", f.handleRedo)
				r.Get("/copy", f.handleCopy)
			})
		})
	})
	f.router = r
	return f
}

// ServeHTTP makes the editor usable as a functions-framework HTTP function.
func (f *EditorFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.router.ServeHTTP(w, r)
}

func (f *EditorFunction) store() *pagestore.Store { return f.pipeline.Store() }

func (f *EditorFunction) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, f.maxBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", f.msgs.Sprintf(i18n.UploadTooLarge, f.maxBytes>>20))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	logCtx := slog.With("filename", header.Filename, "bytes", len(data))
	if err := f.pipeline.Validate(header.Filename, header.Header.Get("Content-Type"), data); err != nil {
		var inErr *pipeline.InputError
		if errors.As(err, &inErr) {
			logCtx.Warn("Upload rejected", "error", err)
			status := http.StatusBadRequest
			if errors.Is(err, pipeline.ErrTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, status, "invalid_document", inErr.Message)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_document", err.Error())
		return
	}

	session := f.pipeline.Start()
	logCtx.Info("Upload accepted.", "sessionId", session)

	// The run outlives the request; there is no cancellation once started.
	runCtx := context.WithoutCancel(r.Context())
	f.background.Add(1)
	go func() {
		defer f.background.Done()
		if err := f.pipeline.Run(runCtx, session, data); err != nil {
			logCtx.Error("Document load failed", "sessionId", session, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, models.UploadResponse{SessionID: session, Filename: header.Filename})
}

func (f *EditorFunction) handleListPages(w http.ResponseWriter, _ *http.Request) {
	stats, pages := f.store().Snapshot()
	if pages == nil {
		pages = []models.PageRecord{}
	}
	writeJSON(w, http.StatusOK, models.PagesResponse{Stats: stats, Pages: pages})
}

func (f *EditorFunction) handleGetPage(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	rec, err := f.store().Page(page)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (f *EditorFunction) handleEditText(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	var req models.TextEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "could not parse JSON")
		return
	}
	if err := f.store().SetText(req.SessionID, page, req.Text); err != nil {
		writeStoreError(w, err)
		return
	}
	rec, err := f.store().Page(page)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (f *EditorFunction) handleRedo(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	var req models.RedoRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad_request", "could not parse JSON")
			return
		}
	}

	ticket, err := f.pipeline.BeginRedo(req.SessionID, page, req.Confirm)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	runCtx := context.WithoutCancel(r.Context())
	f.background.Add(1)
	go func() {
		defer f.background.Done()
		if err := f.pipeline.FinishRedo(runCtx, ticket); err != nil {
			slog.Error("Redo failed", "page", page, "error", err)
		}
	}()

	rec, err := f.store().Page(page)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (f *EditorFunction) handleCopy(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	rec, err := f.store().Page(page)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rec.Status != models.StatusCompleted {
		writeError(w, http.StatusConflict, "not_completed", fmt.Sprintf("page %d is %s", page, rec.Status))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, rec.ExtractedText)
}

func (f *EditorFunction) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatText)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_format", err.Error())
		return
	}
	res, err := export.Export(f.store().Pages(), format, f.msgs)
	if err != nil {
		slog.Error("Export failed", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", res.MIMEType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, res.Filename()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, res.Content)
}

func pageParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "bad_page", "page must be a positive integer")
		return 0, false
	}
	return page, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pagestore.ErrPageNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, pagestore.ErrConfirmationRequired):
		writeError(w, http.StatusConflict, "confirmation_required", err.Error())
	case errors.Is(err, pagestore.ErrBusy):
		writeError(w, http.StatusConflict, "busy", err.Error())
	case errors.Is(err, pagestore.ErrNotEditable):
		writeError(w, http.StatusConflict, "not_editable", err.Error())
	case errors.Is(err, pagestore.ErrStaleSession):
		writeError(w, http.StatusConflict, "stale_session", err.Error())
	case errors.Is(err, pagestore.ErrNoImage):
		writeError(w, http.StatusConflict, "no_image", err.Error())
	default:
		slog.Error("Unexpected store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
