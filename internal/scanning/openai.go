package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel     = "gpt-3.5-turbo"
	DefaultOpenAIMaxTokens = 150
)

// OpenAIConfig configures the chat completions client
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string // default DefaultOpenAIBaseURL
	Model     string // default DefaultOpenAIModel
	MaxTokens int    // default DefaultOpenAIMaxTokens
	// JSONMode asks the API for response_format json_object
	JSONMode bool
	Timeout  time.Duration // zero keeps the HTTP client's default (none)
}

// OpenAI implements Extractor using chat/completions
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates a new OpenAI Extractor
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultOpenAIMaxTokens
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the envelope. Content stays an opaque string here and is
// decoded separately.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Extract asks the model for the expense fields in rawText
func (o *OpenAI) Extract(ctx context.Context, rawText string) (*ExtractedExpense, error) {
	reqID := uuid.New().String()
	start := time.Now()

	reqBody := chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: buildExtractPrompt(rawText)},
		},
		MaxTokens: o.cfg.MaxTokens,
	}
	if o.cfg.JSONMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	req, err := o.newRequest(ctx, reqBody)
	if err != nil {
		slog.Error("Failed to build extraction request", "req_id", reqID, "error", err)
		return nil, err
	}

	slog.Info("Sending extraction request", "req_id", reqID, "model", o.cfg.Model, "text_len", len(rawText))

	resp, err := o.client.Do(req)
	if err != nil {
		slog.Error("Extraction request failed", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, newError(KindNetwork, "calling openai API", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, "reading openai response", err)
	}

	slog.Info("Received extraction response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerError(resp.StatusCode, raw)
	}

	var envelope chatResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, newError(KindDecoding, "decoding openai response", err)
	}
	if len(envelope.Choices) == 0 {
		slog.Error("No choices in extraction response", "req_id", reqID, "raw", string(raw))
		return nil, errorf(KindInvalidResponseShape, "no choices in openai response")
	}

	content := envelope.Choices[0].Message.Content
	data, err := parseExpenseContent(content)
	if err != nil {
		slog.Error("Failed to decode model reply", "req_id", reqID, "content", content, "error", err)
		return nil, newError(KindDecoding, "parsing expense from model reply", err)
	}

	slog.Info("Extracted expense",
		"req_id", reqID,
		"amount", data.Amount.String(),
		"date", data.Date.Format(DateLayout),
		"category", data.Category,
	)
	return data, nil
}

func (o *OpenAI) newRequest(ctx context.Context, body chatRequest) (*http.Request, error) {
	endpoint, err := url.Parse(strings.TrimRight(o.cfg.BaseURL, "/") + "/chat/completions")
	if err != nil {
		return nil, newError(KindRequestConstruction, "parsing openai base url", err)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, newError(KindRequestConstruction, "marshaling request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(b))
	if err != nil {
		return nil, newError(KindRequestConstruction, "creating request", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// providerError prefers the API's own error message over the raw body
func providerError(status int, raw []byte) *Error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		return errorf(KindProviderReported, "openai API error (status %d): %s", status, apiErr.Error.Message)
	}
	return errorf(KindProviderReported, "openai API error (status %d): %s", status, strings.TrimSpace(string(raw)))
}
