// Package pipeline drives a document through render → OCR → store, one page
// at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/zenocr/internal/i18n"
	"github.com/Lllllllleong/zenocr/internal/models"
	"github.com/Lllllllleong/zenocr/internal/ocr"
	"github.com/Lllllllleong/zenocr/internal/pagestore"
	"github.com/Lllllllleong/zenocr/internal/render"
)

// ErrTooLarge is returned for uploads above the configured size limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// Recognizer is the OCR client contract used by the pipeline.
type Recognizer interface {
	Recognize(ctx context.Context, jpeg []byte) ocr.Recognition
}

// Pipeline sequences page processing for one Store.
type Pipeline struct {
	store    *pagestore.Store
	decoder  render.Decoder
	ocr      Recognizer
	msgs     *i18n.Printer
	maxBytes int64
}

// New wires a pipeline. maxBytes <= 0 disables the size check.
func New(store *pagestore.Store, decoder render.Decoder, recognizer Recognizer, msgs *i18n.Printer, maxBytes int64) *Pipeline {
	return &Pipeline{store: store, decoder: decoder, ocr: recognizer, msgs: msgs, maxBytes: maxBytes}
}

// Store returns the store the pipeline writes to.
func (p *Pipeline) Store() *pagestore.Store { return p.store }

// InputError is a rejected upload. Message is localized for the user.
type InputError struct {
	Message string
	Err     error
}

func (e *InputError) Error() string { return e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// Validate rejects non-PDF or oversized input without touching the store.
func (p *Pipeline) Validate(filename, contentType string, data []byte) error {
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return &InputError{
			Message: p.msgs.Sprintf(i18n.UploadTooLarge, p.maxBytes>>20),
			Err:     fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), p.maxBytes),
		}
	}
	if err := render.CheckPDF(filename, contentType, data); err != nil {
		return &InputError{Message: p.msgs.Sprintf(i18n.NotPDF), Err: err}
	}
	return nil
}

// Start resets the store for a new document and returns the session id that
// Run must be called with. Any run still in flight for an older session
// becomes stale and its remaining writes are dropped.
func (p *Pipeline) Start() string {
	return p.store.Reset()
}

// Run decodes data and processes every page strictly in order. A document-level
// failure is returned and recorded as the load error; page-level failures are
// recorded on the page and never stop the loop.
func (p *Pipeline) Run(ctx context.Context, session string, data []byte) error {
	logCtx := slog.With("sessionId", session)

	doc, err := p.decoder.Decode(ctx, data)
	if err != nil {
		logCtx.Error("Failed to decode PDF", "error", err)
		if ferr := p.store.Finish(session, p.msgs.Sprintf(i18n.DocumentFailed, err)); ferr != nil {
			logCtx.Warn("Could not record load failure", "error", ferr)
		}
		return fmt.Errorf("decode pdf: %w", err)
	}
	defer doc.Close()

	total := doc.PageCount()
	if err := p.store.ReplaceAll(session, models.NewPages(total)); err != nil {
		return p.abandon(logCtx, err)
	}
	logCtx.Info("Document decoded.", "pageCount", total)

	for page := 1; page <= total; page++ {
		if err := p.processPage(ctx, logCtx, doc, session, page); err != nil {
			return p.abandon(logCtx, err)
		}
		if err := p.store.SetProcessed(session, page); err != nil {
			return p.abandon(logCtx, err)
		}
	}

	if err := p.store.Finish(session, ""); err != nil {
		return p.abandon(logCtx, err)
	}
	logCtx.Info("Document processed.", "pageCount", total)
	return nil
}

// abandon handles a store write that failed mid-run. A stale session is the
// expected outcome of a newer upload and ends the run quietly.
func (p *Pipeline) abandon(logCtx *slog.Logger, err error) error {
	if errors.Is(err, pagestore.ErrStaleSession) {
		logCtx.Info("Session replaced by a newer upload, abandoning run.")
		return nil
	}
	logCtx.Error("Store rejected pipeline write", "error", err)
	return err
}

func (p *Pipeline) processPage(ctx context.Context, logCtx *slog.Logger, doc render.Document, session string, page int) error {
	logCtx = logCtx.With("page", page)

	if err := p.store.SetStatus(session, page, models.StatusRendering); err != nil {
		return err
	}
	jpeg, err := doc.RenderPage(ctx, page)
	if err != nil {
		logCtx.Warn("Page render failed", "error", err)
		return p.store.Fail(session, page, p.msgs.Sprintf(i18n.RenderFailed, err))
	}
	if err := p.store.SetImage(session, page, jpeg); err != nil {
		return err
	}
	if err := p.store.SetStatus(session, page, models.StatusProcessing); err != nil {
		return err
	}
	return p.recognize(ctx, logCtx, session, page, jpeg)
}

// recognize runs OCR for a page already in processing and writes the outcome.
func (p *Pipeline) recognize(ctx context.Context, logCtx *slog.Logger, session string, page int, jpeg []byte) error {
	rec := p.ocr.Recognize(ctx, jpeg)
	if rec.Failed() {
		logCtx.Warn("Page OCR failed", "error", rec.Err)
		return p.store.Fail(session, page, rec.Text)
	}
	return p.store.Complete(session, page, rec.Text)
}

// Redo reruns OCR on one settled page using its cached image. It returns
// pagestore.ErrConfirmationRequired, ErrBusy, ErrNoImage or ErrStaleSession without changing
// anything. On success the OCR call happens synchronously; callers that must
// not block run it in a goroutine.
func (p *Pipeline) Redo(ctx context.Context, session string, page int, confirmed bool) error {
	ticket, err := p.BeginRedo(session, page, confirmed)
	if err != nil {
		return err
	}
	return p.FinishRedo(ctx, ticket)
}

// BeginRedo performs the state change of a redo without calling OCR.
// An empty session targets the current document.
func (p *Pipeline) BeginRedo(session string, page int, confirmed bool) (pagestore.RedoTicket, error) {
	return p.store.BeginRedo(session, page, confirmed)
}

// FinishRedo calls OCR for a ticket obtained from BeginRedo.
func (p *Pipeline) FinishRedo(ctx context.Context, ticket pagestore.RedoTicket) error {
	logCtx := slog.With("sessionId", ticket.Session, "page", ticket.Page, "redo", true)
	if err := p.recognize(ctx, logCtx, ticket.Session, ticket.Page, ticket.Image); err != nil {
		return p.abandon(logCtx, err)
	}
	return nil
}
