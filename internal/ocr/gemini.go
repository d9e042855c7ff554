package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/zenocr/internal/config"
	"github.com/Lllllllleong/zenocr/internal/gcp"
)

type geminiTranscriber struct {
	vertex *gcp.VertexClient
}

func newGemini(ctx context.Context, cfg config.OCRConfig, projectID string) (Transcriber, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: gemini needs PROJECT_ID", ErrMissingCredential)
	}
	vertex, err := gcp.NewVertexClient(ctx, projectID, cfg.VertexAIRegion, cfg.Model, cfg.Temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}
	return &geminiTranscriber{vertex: vertex}, nil
}

func (g *geminiTranscriber) Transcribe(ctx context.Context, jpeg []byte) (string, error) {
	resp, err := g.vertex.OCRModel.GenerateContent(ctx, genai.ImageData("jpeg", jpeg), genai.Text(gcp.OCRUserPrompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("%w: %v", ErrRefused, blocked)
		}
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return geminiText(resp)
}

// geminiText concatenates the text parts of the first candidate. A missing
// candidate or a finish reason that means the output was withheld is a refusal.
func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrRefused)
	}
	c := resp.Candidates[0]
	switch c.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent, genai.FinishReasonSpii:
		return "", fmt.Errorf("%w: finish reason %s", ErrRefused, c.FinishReason)
	}
	if c.Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}
