package models

// These structs define the JSON payloads exchanged between the browser
// editor and the zenocr-editor function.

// UploadResponse is returned once a document has been accepted for processing.
type UploadResponse struct {
	SessionID string `json:"sessionId"`
	Filename  string `json:"filename"`
}

// PagesResponse is the full view the editor polls while a document is processing.
type PagesResponse struct {
	Stats ProcessingStats `json:"stats"`
	Pages []PageRecord    `json:"pages"`
}

// TextEditRequest overwrites a page's extractedText. SessionID, when set, must
// name the document the client is showing.
type TextEditRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text"`
}

// RedoRequest asks for OCR to be rerun on one page. Confirm must be true to
// discard a hand-edited text.
type RedoRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	Confirm   bool   `json:"confirm"`
}

// ErrorResponse carries a machine-readable code and a localized message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
