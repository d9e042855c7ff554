package ocr

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Lllllllleong/zenocr/internal/config"
	"github.com/Lllllllleong/zenocr/internal/gcp"
	"github.com/Lllllllleong/zenocr/internal/render"
)

const defaultOpenAIModel = "gpt-4o"

type openAITranscriber struct {
	client      openai.Client
	model       string
	temperature float64
}

func newOpenAI(cfg config.OCRConfig) (Transcriber, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("%w: openai needs OPENAI_API_KEY", ErrMissingCredential)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAITranscriber{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: float64(cfg.Temperature),
	}, nil
}

func (o *openAITranscriber) Transcribe(ctx context.Context, jpeg []byte) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(gcp.OCRSystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(gcp.OCRUserPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: render.DataURI(jpeg),
				}),
			}),
		},
		Temperature: openai.Float(o.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return openAIText(resp.Choices[0])
}

func openAIText(choice openai.ChatCompletionChoice) (string, error) {
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	}
	if choice.FinishReason == "content_filter" {
		return "", fmt.Errorf("%w: content filter", ErrRefused)
	}
	return choice.Message.Content, nil
}
