package ocr

import (
	"context"
	"fmt"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/Lllllllleong/zenocr/internal/config"
)

type documentAITranscriber struct {
	client *documentai.DocumentProcessorClient
	name   string
}

func newDocumentAI(ctx context.Context, cfg config.OCRConfig, projectID string) (Transcriber, error) {
	if projectID == "" || cfg.DocumentAIProcessorID == "" {
		return nil, fmt.Errorf("%w: documentai needs PROJECT_ID and DOCUMENTAI_PROCESSOR_ID", ErrMissingCredential)
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.DocumentAILocation)
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create Document AI client: %w", err)
	}
	return &documentAITranscriber{
		client: client,
		name: fmt.Sprintf("projects/%s/locations/%s/processors/%s",
			projectID, cfg.DocumentAILocation, cfg.DocumentAIProcessorID),
	}, nil
}

func (d *documentAITranscriber) Transcribe(ctx context.Context, jpeg []byte) (string, error) {
	req := &documentaipb.ProcessRequest{
		Name: d.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  jpeg,
				MimeType: "image/jpeg",
			},
		},
		SkipHumanReview: true,
	}
	resp, err := d.client.ProcessDocument(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to process document: %w", err)
	}
	return resp.GetDocument().GetText(), nil
}
