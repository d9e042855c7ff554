// Package i18n holds the user-facing strings of zenocr in Traditional Chinese
// (the default) and English.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The English text doubles as the key.
const (
	ExportTitle       = "ZenOCR Output"
	PageLabel         = "Page %d"
	RecognitionFailed = "Recognition failed"
	OCRFailed         = "OCR failed: %v"
	RenderFailed      = "Page could not be rendered: %v"
	NotPDF            = "Only PDF files are supported."
	UploadTooLarge    = "The file is too large (limit %d MB)."
	DocumentFailed    = "The PDF could not be read: %v"
)

var supported = []language.Tag{language.TraditionalChinese, language.English}

var zhHant = map[string]string{
	ExportTitle:       "ZenOCR 辨識結果",
	PageLabel:         "第 %d 頁",
	RecognitionFailed: "（辨識失敗）",
	OCRFailed:         "辨識失敗：%v",
	RenderFailed:      "頁面無法轉換為圖片：%v",
	NotPDF:            "僅支援 PDF 檔案。",
	UploadTooLarge:    "檔案過大（上限 %d MB）。",
	DocumentFailed:    "無法讀取 PDF：%v",
}

var (
	cat     = buildCatalog()
	matcher = language.NewMatcher(supported)
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, msg := range zhHant {
		if err := b.SetString(language.TraditionalChinese, key, msg); err != nil {
			panic(err)
		}
		if err := b.SetString(language.English, key, key); err != nil {
			panic(err)
		}
	}
	return b
}

// Printer formats catalog messages for one language.
type Printer struct {
	tag language.Tag
	p   *message.Printer
}

// NewPrinter picks the closest supported language for lang (a BCP 47 tag such
// as "zh-TW" or "en"). Unknown or empty tags fall back to Traditional Chinese.
func NewPrinter(lang string) *Printer {
	tag := supported[0]
	if lang != "" {
		if requested, err := language.Parse(lang); err == nil {
			_, idx, conf := matcher.Match(requested)
			if conf != language.No {
				tag = supported[idx]
			}
		}
	}
	return &Printer{tag: tag, p: message.NewPrinter(tag, message.Catalog(cat))}
}

// Sprintf formats the message registered under key.
func (p *Printer) Sprintf(key string, args ...any) string {
	return p.p.Sprintf(key, args...)
}

// Language returns the resolved language tag.
func (p *Printer) Language() string {
	return p.tag.String()
}
