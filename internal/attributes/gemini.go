package attributes

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

// GeminiProvider detects faces with a Gemini model.
type GeminiProvider struct {
	usageTracker
	client *genai.Client
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

func (p *GeminiProvider) DetectFaces(ctx context.Context, imageData []byte) ([]Face, error) {
	img, err := resizeImage(imageData, previewSize)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: faceAttributesPrompt},
				{InlineData: &genai.Blob{Data: img.JPEG, MIMEType: "image/jpeg"}},
			},
		},
	}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	for range maxRetries {
		result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}
		if result.UsageMetadata != nil {
			p.track(int64(result.UsageMetadata.PromptTokenCount), int64(result.UsageMetadata.CandidatesTokenCount))
		}

		content := result.Text()
		if content == "" {
			return nil, errors.New("no response from Gemini")
		}

		faces, err := parseFaces("gemini", content, img.Width, img.Height)
		if err == nil {
			return faces, nil
		}
		lastError = err
		contents = append(contents,
			&genai.Content{Role: "model", Parts: []*genai.Part{{Text: content}}},
			&genai.Content{Role: "user", Parts: []*genai.Part{{Text: fmt.Sprintf("JSON parse error: %v. Respond with valid JSON only.", err)}}},
		)
	}
	return nil, fmt.Errorf("failed to parse face JSON after %d attempts: %w", maxRetries, lastError)
}
