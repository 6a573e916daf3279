package scanning

import "context"

// Recognizer extracts text candidates from a receipt image
type Recognizer interface {
	// Recognize sends the image to the OCR provider. An empty language uses the
	// client's configured default.
	Recognize(ctx context.Context, image []byte, language string) (*RecognizedText, error)
}

// Extractor turns raw receipt text into structured expense fields
type Extractor interface {
	Extract(ctx context.Context, rawText string) (*ExtractedExpense, error)
}
