package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-capture/internal/expense"
	"github.com/zombor/expense-capture/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("expense-capture")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		ocrKey      = fs.StringLong("ocr-key", "", "OCR.space API key (or set OCR_SPACE_API_KEY env var)")
		ocrURL      = fs.StringLong("ocr-url", scanning.DefaultOCREndpoint, "OCR.space parse endpoint")
		ocrLanguage = fs.StringLong("ocr-language", scanning.DefaultOCRLanguage, "OCR language code")
		ocrTimeout  = fs.DurationLong("ocr-timeout", 0, "OCR request timeout (0 for none)")
		openaiKey   = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openaiURL   = fs.StringLong("openai-url", scanning.DefaultOpenAIBaseURL, "OpenAI compatible API base URL")
		model       = fs.StringLong("model", scanning.DefaultOpenAIModel, "Chat model name")
		maxTokens   = fs.IntLong("max-tokens", scanning.DefaultOpenAIMaxTokens, "Completion token limit")
		jsonMode    = fs.BoolLong("json-mode", "Request a JSON object response format")
		llmTimeout  = fs.DurationLong("llm-timeout", 0, "Extraction request timeout (0 for none)")
		imagePath   = fs.StringLong("image", "", "Process one receipt image, print the result and exit")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_CAPTURE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ocrAPIKey := firstNonEmpty(*ocrKey, os.Getenv("OCR_SPACE_API_KEY"))
	if ocrAPIKey == "" {
		slog.Error("OCR.space API key is required. Set --ocr-key flag or OCR_SPACE_API_KEY environment variable")
		os.Exit(1)
	}
	openaiAPIKey := firstNonEmpty(*openaiKey, os.Getenv("OPENAI_API_KEY"))
	if openaiAPIKey == "" {
		slog.Error("OpenAI API key is required. Set --openai-key flag or OPENAI_API_KEY environment variable")
		os.Exit(1)
	}

	slog.Info("Initializing OCR client...", "url", *ocrURL, "language", *ocrLanguage)
	recognizer, err := scanning.NewOCRSpace(scanning.OCRSpaceConfig{
		APIKey:   ocrAPIKey,
		Endpoint: *ocrURL,
		Language: *ocrLanguage,
		Timeout:  *ocrTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize OCR client", "error", err)
		os.Exit(1)
	}

	slog.Info("Initializing extraction client...", "url", *openaiURL, "model", *model)
	extractor, err := scanning.NewOpenAI(scanning.OpenAIConfig{
		APIKey:    openaiAPIKey,
		BaseURL:   *openaiURL,
		Model:     *model,
		MaxTokens: *maxTokens,
		JSONMode:  *jsonMode,
		Timeout:   *llmTimeout,
	})
	if err != nil {
		slog.Error("Failed to initialize extraction client", "error", err)
		os.Exit(1)
	}

	pipeline := expense.NewPipeline(recognizer, extractor, *ocrLanguage)

	if *imagePath != "" {
		os.Exit(processFile(pipeline, *imagePath))
	}

	basicAuth := expense.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := expense.NewServer(pipeline, expense.NewReviewer(), basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// processFile runs one image through the pipeline and prints the terminal
// state as JSON. It returns the process exit code.
func processFile(pipeline *expense.Pipeline, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Failed to read image", "path", path, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := pipeline.Process(ctx, data)
	if err != nil {
		slog.Error("Failed to process image", "path", path, "error", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		slog.Error("Failed to encode result", "error", err)
		return 1
	}

	if st.Status != expense.StatusSucceeded {
		return 1
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
