package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultOCREndpoint = "https://api.ocr.space/parse/image"
	DefaultOCRLanguage = "eng"
)

// OCRSpaceConfig configures the OCR.space client
type OCRSpaceConfig struct {
	APIKey      string
	Endpoint    string        // default DefaultOCREndpoint
	Language    string        // default "eng"
	JPEGQuality int           // default DefaultJPEGQuality
	Timeout     time.Duration // zero keeps the HTTP client's default (none)
}

// OCRSpace implements Recognizer against the OCR.space parse API
type OCRSpace struct {
	cfg    OCRSpaceConfig
	client *http.Client
}

// NewOCRSpace creates a new OCR.space client
func NewOCRSpace(cfg OCRSpaceConfig) (*OCRSpace, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ocr.space api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOCREndpoint
	}
	if cfg.Language == "" {
		cfg.Language = DefaultOCRLanguage
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	return &OCRSpace{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Recognize uploads the image once and decodes the parse response. It does
// not judge whether the text is usable; see RecognizedText.FirstText.
func (o *OCRSpace) Recognize(ctx context.Context, image []byte, language string) (*RecognizedText, error) {
	if language == "" {
		language = o.cfg.Language
	}
	reqID := uuid.New().String()
	start := time.Now()

	jpegData, err := prepareJPEG(image, o.cfg.JPEGQuality)
	if err != nil {
		slog.Warn("Rejected receipt image", "req_id", reqID, "size", len(image), "error", err)
		return nil, err
	}

	req, err := o.newRequest(ctx, jpegData, language)
	if err != nil {
		slog.Error("Failed to build OCR request", "req_id", reqID, "error", err)
		return nil, err
	}

	slog.Info("Sending OCR request", "req_id", reqID, "language", language, "jpeg_bytes", len(jpegData))

	resp, err := o.client.Do(req)
	if err != nil {
		slog.Error("OCR request failed", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, newError(KindNetwork, "calling ocr.space API", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindNetwork, "reading ocr.space response", err)
	}

	slog.Info("Received OCR response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(body),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorf(KindProviderReported, "ocr.space API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result RecognizedText
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, newError(KindDecoding, "decoding ocr.space response", err)
	}

	if result.IsErroredOnProcessing {
		slog.Warn("OCR provider reported an error",
			"req_id", reqID,
			"exit_code", result.OCRExitCode,
			"message", result.ProviderError(),
		)
	}
	return &result, nil
}

func (o *OCRSpace) newRequest(ctx context.Context, jpegData []byte, language string) (*http.Request, error) {
	endpoint, err := url.Parse(o.cfg.Endpoint)
	if err != nil {
		return nil, newError(KindRequestConstruction, "parsing ocr endpoint", err)
	}
	q := endpoint.Query()
	q.Set("apikey", o.cfg.APIKey)
	endpoint.RawQuery = q.Encode()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, newError(KindRequestConstruction, "creating file part", err)
	}
	if _, err := part.Write(jpegData); err != nil {
		return nil, newError(KindRequestConstruction, "writing file part", err)
	}
	if err := w.WriteField("language", language); err != nil {
		return nil, newError(KindRequestConstruction, "writing language field", err)
	}
	if err := w.Close(); err != nil {
		return nil, newError(KindRequestConstruction, "closing multipart body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), &body)
	if err != nil {
		return nil, newError(KindRequestConstruction, "creating request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}
