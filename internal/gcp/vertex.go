package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Transcriber Model Prompts ---
const TranscriberSystemPrompt = "You are a document transcriber. Your task is to read a PDF document and return its full text content as plain text. Accuracy and information preservation are of utmost importance."
const TranscriberUserPrompt = `You will be provided with a PDF document, usually a scanned page set with no text layer.

Follow these instructions:

Text: Transcribe all text content in reading order.
Lists: Keep list items on their own lines.
Tables: Write each table row on one line with cells separated by " | ".
Images: Replace each image with one short sentence describing what it shows.
Headers and Footers: Ignore page numbers and repeated headers or footers.
Pages: Separate pages with a single form feed character.

Return ONLY the transcribed text. Do not include any preamble and do not wrap the output in code fences.`

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// Transcriber recovers the text of image-only PDFs with a Gemini model.
type Transcriber struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

// NewTranscriber creates a transcriber using modelName in the given region.
func NewTranscriber(ctx context.Context, projectID, region, modelName string) (*Transcriber, error) {
	if projectID == "" || region == "" || modelName == "" {
		return nil, fmt.Errorf("NewTranscriber: projectID, region and modelName cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranscriberSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	return &Transcriber{model: model, baseClient: baseClient}, nil
}

// TranscribePDF returns the text of the PDF stored at gcsURI.
func (t *Transcriber) TranscribePDF(ctx context.Context, gcsURI string) (string, error) {
	logCtx := slog.With("gcsUri", gcsURI)
	logCtx.Info("Transcribing PDF with Gemini.")

	resp, err := t.model.GenerateContent(ctx, genai.FileData{
		MIMEType: "application/pdf",
		FileURI:  gcsURI,
	}, genai.Text(TranscriberUserPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := responseText(resp)
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", fmt.Errorf("gemini response indicates refusal for %s", gcsURI)
		}
	}
	if text == "" {
		logCtx.Warn("Gemini returned no text for PDF.")
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	s := strings.TrimSpace(b.String())
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (t *Transcriber) Close() error {
	if t.baseClient != nil {
		return t.baseClient.Close()
	}
	return nil
}
