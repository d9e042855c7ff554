// Package ocr wraps a single external vision-model request: one page image in,
// recognized text out.
//
// Client.Recognize never fails outward. Every error (missing credential,
// network, service, model refusal) is folded into a human-readable fallback
// text, and the error itself is reported alongside so callers can branch on it.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/zenocr/internal/config"
	"github.com/Lllllllleong/zenocr/internal/i18n"
)

var (
	// ErrMissingCredential is returned when the selected provider has no usable credential.
	ErrMissingCredential = errors.New("missing API credential")
	// ErrRefused is returned when the provider reports that it blocked or declined the request.
	ErrRefused = errors.New("model refused to transcribe")
)

// Transcriber performs one OCR request against an external service.
type Transcriber interface {
	Transcribe(ctx context.Context, jpeg []byte) (string, error)
}

// Factory builds a Transcriber. It is called lazily so that credentials are
// checked per request instead of at startup.
type Factory func(ctx context.Context) (Transcriber, error)

// Recognition is the outcome of one Recognize call. Text is always set: the
// transcript on success, a localized fallback message embedding Err otherwise.
type Recognition struct {
	Text string
	Err  error
}

// Failed reports whether Text is a fallback message rather than a transcript.
func (r Recognition) Failed() bool { return r.Err != nil }

// Client is the OCR client used by the page pipeline.
type Client struct {
	provider string
	factory  Factory
	msgs     *i18n.Printer
	timeout  time.Duration

	mu          sync.Mutex
	transcriber Transcriber
}

// New returns a Client for the provider selected in cfg.
func New(cfg config.OCRConfig, projectID string, msgs *i18n.Printer) *Client {
	var factory Factory
	switch cfg.Provider {
	case "documentai":
		factory = func(ctx context.Context) (Transcriber, error) { return newDocumentAI(ctx, cfg, projectID) }
	case "openai":
		factory = func(ctx context.Context) (Transcriber, error) { return newOpenAI(cfg) }
	default:
		factory = func(ctx context.Context) (Transcriber, error) { return newGemini(ctx, cfg, projectID) }
	}
	return NewWithFactory(cfg.Provider, factory, msgs, cfg.Timeout)
}

// NewWithFactory returns a Client around an arbitrary Transcriber factory.
func NewWithFactory(provider string, factory Factory, msgs *i18n.Printer, timeout time.Duration) *Client {
	return &Client{provider: provider, factory: factory, msgs: msgs, timeout: timeout}
}

// Recognize transcribes one page image.
func (c *Client) Recognize(ctx context.Context, jpeg []byte) (rec Recognition) {
	logCtx := slog.With("ocrProvider", c.provider, "imageBytes", len(jpeg))
	defer func() {
		if r := recover(); r != nil {
			rec = c.fail(logCtx, fmt.Errorf("ocr provider panic: %v", r))
		}
	}()

	t, err := c.getTranscriber(ctx)
	if err != nil {
		return c.fail(logCtx, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := t.Transcribe(ctx, jpeg)
	if err != nil {
		return c.fail(logCtx, err)
	}
	text := cleanTranscript(raw)
	logCtx.Info("Page transcribed.", "chars", len([]rune(text)), "elapsed", time.Since(start).String())
	return Recognition{Text: text}
}

func (c *Client) fail(logCtx *slog.Logger, err error) Recognition {
	logCtx.Error("OCR request failed", "error", err)
	return Recognition{Text: c.msgs.Sprintf(i18n.OCRFailed, err), Err: err}
}

func (c *Client) getTranscriber(ctx context.Context) (Transcriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transcriber != nil {
		return c.transcriber, nil
	}
	t, err := c.factory(ctx)
	if err != nil {
		return nil, err
	}
	c.transcriber = t
	return t, nil
}

// cleanTranscript trims model output and strips a wrapping code fence. The
// text itself is never inspected for refusals; providers report those.
func cleanTranscript(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	return text
}
