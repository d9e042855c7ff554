package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultOCRModel is used when no model is configured.
const DefaultOCRModel = "gemini-2.0-flash"

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are a meticulous OCR engine. You transcribe scanned document pages exactly as printed. You never summarize, translate, correct, or comment."
const OCRUserPrompt = `Transcribe all text on this scanned page.

Follow these rules:
1. Keep the original reading order.
2. Preserve paragraph breaks with a blank line.
3. Include any visible page numbers or page markers.
4. Transcribe literally. Do not fix spelling, do not interpret, do not translate.
5. Return ONLY the transcribed text. No preambles, no explanations, no code fences.`

// VertexClient holds the pre-configured OCR model.
type VertexClient struct {
	OCRModel   *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a client whose OCR model uses a near-deterministic temperature.
func NewVertexClient(ctx context.Context, projectID, region, modelName string, temperature float32) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultOCRModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	ocrModel := baseClient.GenerativeModel(modelName)
	ocrModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	ocrModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr(temperature),
	}
	// Scanned documents regularly trip the default filters on benign content.
	ocrModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		OCRModel:   ocrModel,
		baseClient: baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
