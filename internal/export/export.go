// Package export serializes the page records into downloadable text, Markdown or JSON.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/zenocr/internal/i18n"
	"github.com/Lllllllleong/zenocr/internal/models"
)

// Format is an output format.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
)

// Formats lists every supported format.
var Formats = []Format{FormatText, FormatMarkdown, FormatJSON}

// FileBase is the download file name without extension.
const FileBase = "zenocr_output"

const textDivider = "----------------------------------------"

// ErrUnknownFormat is returned for a format outside Formats.
var ErrUnknownFormat = errors.New("unknown export format")

// Result is a rendered export ready to be served or stored.
type Result struct {
	Content   string
	MIMEType  string
	Extension string
}

// Filename is the name the file should be downloaded as.
func (r Result) Filename() string {
	return FileBase + "." + r.Extension
}

// ParseFormat accepts a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Export renders every page, in page order, regardless of status.
func Export(pages []models.PageRecord, format Format, msgs *i18n.Printer) (Result, error) {
	switch format {
	case FormatText:
		return Result{Content: renderText(pages, msgs), MIMEType: "text/plain", Extension: "txt"}, nil
	case FormatMarkdown:
		return Result{Content: renderMarkdown(pages, msgs), MIMEType: "text/markdown", Extension: "md"}, nil
	case FormatJSON:
		content, err := renderJSON(pages)
		if err != nil {
			return Result{}, err
		}
		return Result{Content: content, MIMEType: "application/json", Extension: "json"}, nil
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func renderText(pages []models.PageRecord, msgs *i18n.Printer) string {
	var b strings.Builder
	b.WriteString(msgs.Sprintf(i18n.ExportTitle))
	b.WriteString("\n\n")
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n" + textDivider + "\n\n")
		}
		b.WriteString(msgs.Sprintf(i18n.PageLabel, p.PageNumber))
		b.WriteString("\n\n")
		if p.HasText() {
			b.WriteString(p.ExtractedText)
		} else {
			b.WriteString(msgs.Sprintf(i18n.RecognitionFailed))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func renderMarkdown(pages []models.PageRecord, msgs *i18n.Printer) string {
	var b strings.Builder
	b.WriteString("# " + msgs.Sprintf(i18n.ExportTitle) + "\n\n")
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString("## " + msgs.Sprintf(i18n.PageLabel, p.PageNumber) + "\n\n")
		if p.HasText() {
			b.WriteString(p.ExtractedText)
		} else {
			b.WriteString("*" + msgs.Sprintf(i18n.RecognitionFailed) + "*")
		}
	}
	b.WriteString("\n")
	return b.String()
}

type jsonPage struct {
	Page    int           `json:"page"`
	Status  models.Status `json:"status"`
	Content *string       `json:"content"`
}

func renderJSON(pages []models.PageRecord) (string, error) {
	out := make([]jsonPage, 0, len(pages))
	for _, p := range pages {
		entry := jsonPage{Page: p.PageNumber, Status: p.Status}
		if p.HasText() {
			text := p.ExtractedText
			entry.Content = &text
		}
		out = append(out, entry)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return "", fmt.Errorf("encode json export: %w", err)
	}
	return buf.String(), nil
}
