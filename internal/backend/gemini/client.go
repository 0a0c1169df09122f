// Package gemini implements the understanding Analyzer on the Google
// generative language API.
//
// The model is prompted to answer with a JSON object mapping field
// names to {value, confidence}. Generative output is best effort:
// any schema violation is reported as understand.ErrUnparseable so the
// caller can fall back rather than fail hard.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"voice-form-service/internal/observability/logging"
	"voice-form-service/internal/understand"
)

const defaultModel = "gemini-1.5-flash"

const analyzePrompt = `You extract contact form fields from a spoken sentence.
Answer with only a JSON object, no prose and no code fences.
Possible keys: "name", "email", "phone", "address", each mapped to
{"value": string, "confidence": number between 0 and 1}.
If the sentence asks to submit or send the form, add
"submit": {"value": true, "confidence": number}.
Omit every key that is not present in the sentence.

Sentence: %q`

// The probe asks for a single fixed field over fixed text; its only
// purpose is reporting availability.
const probePrompt = `Answer with only the JSON object {"name": {"value": "Ann", "confidence": 1}}.
Sentence: "my name is Ann"`

// Client calls the generative language backend.
type Client struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

// Config holds client construction parameters.
type Config struct {
	APIKey string
	Model  string
}

// New creates a Gemini-backed analyzer.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	c, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		client: c,
		model:  model,
		log:    logging.WithComponent("gemini"),
	}, nil
}

// AnalyzeFields classifies utterance text into form fields.
func (c *Client) AnalyzeFields(ctx context.Context, text string) (*understand.Analysis, error) {
	raw, err := c.generate(ctx, fmt.Sprintf(analyzePrompt, text))
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		c.log.Debug().Str("payload", raw).Err(err).Msg("Unparseable model output")
		return nil, err
	}
	return analysis, nil
}

// Probe performs a lightweight availability check.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.generate(ctx, probePrompt)
	return err
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

// generate runs one prompt and returns the first candidate's text.
// HTTP 429 is translated into understand.ErrRateLimited; every other
// API or transport error passes through as a transient failure.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.model)

	res, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if isTooManyRequests(err) {
			return "", fmt.Errorf("%w: %v", understand.ErrRateLimited, err)
		}
		return "", fmt.Errorf("generate content: %w", err)
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil ||
		len(res.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty candidate list", understand.ErrUnparseable)
	}

	part, ok := res.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("%w: non-text part", understand.ErrUnparseable)
	}
	return string(part), nil
}

// isTooManyRequests unwraps the googleapi error chain looking for an
// HTTP 429.
func isTooManyRequests(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	return false
}

// rawGuess mirrors the response schema; Value stays raw because the
// submit key carries a boolean where fields carry strings.
type rawGuess struct {
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
}

// parseAnalysis parses the model's JSON answer. Models occasionally
// wrap JSON in markdown fences or prose; a tolerant scan for the
// outermost object absorbs that.
func parseAnalysis(raw string) (*understand.Analysis, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object in output", understand.ErrUnparseable)
	}

	var parsed map[string]rawGuess
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", understand.ErrUnparseable, err)
	}

	analysis := &understand.Analysis{Fields: map[string]understand.FieldGuess{}}
	for key, guess := range parsed {
		if key == "submit" {
			var truthy bool
			if err := json.Unmarshal(guess.Value, &truthy); err == nil && truthy {
				analysis.Submit = &understand.FieldGuess{Value: "true", Confidence: guess.Confidence}
			}
			continue
		}

		var value string
		if err := json.Unmarshal(guess.Value, &value); err != nil {
			// Missing or non-string value means "not detected".
			continue
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		analysis.Fields[key] = understand.FieldGuess{Value: value, Confidence: guess.Confidence}
	}

	return analysis, nil
}

// extractJSONObject returns the first balanced top-level {...} span.
func extractJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
