// Package render turns an uploaded PDF into per-page JPEG images.
//
// pdfcpu validates the file and reports its page count; MuPDF (through go-fitz)
// rasterizes individual pages on demand.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// baseDPI is the PDF user-space resolution; a scale of 1 renders at 72 DPI.
const baseDPI = 72

// ErrNotPDF is returned for input that is not a PDF file.
var ErrNotPDF = errors.New("input is not a PDF")

// Document is a decoded PDF whose pages can be rasterized one at a time.
type Document interface {
	PageCount() int
	// RenderPage returns page n (1-based) encoded as JPEG.
	RenderPage(ctx context.Context, n int) ([]byte, error)
	Close() error
}

// Decoder opens PDFs.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (Document, error)
}

// CheckPDF rejects input that is not a PDF by name, declared content type, or magic bytes.
// contentType may be empty.
func CheckPDF(filename, contentType string, data []byte) error {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return fmt.Errorf("%w: file name %q", ErrNotPDF, filename)
	}
	if contentType != "" && contentType != "application/pdf" && contentType != "application/octet-stream" {
		return fmt.Errorf("%w: content type %q", ErrNotPDF, contentType)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return fmt.Errorf("%w: missing %%PDF- header", ErrNotPDF)
	}
	return nil
}

// EncodeJPEG encodes img at the given quality (1..100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI wraps a JPEG for direct use as an <img> source.
func DataURI(jpegData []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
}

// FitzDecoder decodes with pdfcpu and rasterizes with MuPDF.
type FitzDecoder struct {
	Scale       float64
	JPEGQuality int
}

// NewFitzDecoder returns a decoder rendering at scale× 72 DPI.
func NewFitzDecoder(scale float64, jpegQuality int) *FitzDecoder {
	return &FitzDecoder{Scale: scale, JPEGQuality: jpegQuality}
}

// Decode validates data and opens it for rendering.
func (d *FitzDecoder) Decode(ctx context.Context, data []byte) (Document, error) {
	pageCount, err := countPages(data)
	if err != nil {
		return nil, err
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("mupdf open: %w", err)
	}
	if n := doc.NumPage(); n != pageCount {
		_ = doc.Close()
		return nil, fmt.Errorf("page count mismatch: pdfcpu %d, mupdf %d", pageCount, n)
	}
	return &fitzDocument{
		doc:     doc,
		pages:   pageCount,
		dpi:     d.Scale * baseDPI,
		quality: d.JPEGQuality,
	}, nil
}

func countPages(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu page count: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("document has no pages")
	}
	return n, nil
}

type fitzDocument struct {
	// MuPDF contexts are not safe for concurrent use.
	mu      sync.Mutex
	doc     *fitz.Document
	pages   int
	dpi     float64
	quality int
}

func (d *fitzDocument) PageCount() int { return d.pages }

func (d *fitzDocument) RenderPage(ctx context.Context, n int) ([]byte, error) {
	if n < 1 || n > d.pages {
		return nil, fmt.Errorf("page %d out of range 1..%d", n, d.pages)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	img, err := d.doc.ImageDPI(n-1, d.dpi)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("rasterize page %d: %w", n, err)
	}
	return EncodeJPEG(img, d.quality)
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
