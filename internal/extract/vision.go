package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"splitmybill/internal/llm"
	"splitmybill/internal/receipt"
)

// visionSystemPrompt steers the oracle toward strict schema output. The
// schema itself travels as the structured output constraint.
const visionSystemPrompt = "You are a program designed to convert images to receipts to a JSON according to the JSON Schema"

// Vision extracts a receipt from an image by handing it to a conversational
// oracle. Input is normalized to PNG first; PDFs are rendered and HEIC
// photos decoded.
type Vision struct {
	data        []byte
	contentType string
	oracle      llm.Provider
}

// NewVision builds the vision adapter. The provider should be wrapped with
// llm.WithRetry so schema violations get another attempt.
func NewVision(data []byte, contentType string, oracle llm.Provider) *Vision {
	return &Vision{data: data, contentType: contentType, oracle: oracle}
}

// Extract sends the normalized image to the oracle and decodes the result.
func (v *Vision) Extract(ctx context.Context) (*receipt.Receipt, error) {
	r, err := v.extract(ctx)
	if err != nil {
		return nil, &Error{Source: KindVision, Err: err}
	}
	return r, nil
}

func (v *Vision) extract(ctx context.Context) (*receipt.Receipt, error) {
	pngData, mimeType, err := prepareImageData(v.data, v.contentType)
	if err != nil {
		return nil, err
	}

	transcript := llm.Transcript{
		llm.System(visionSystemPrompt),
		llm.HumanImage("Receipt Image:", mimeType, pngData),
	}

	raw, err := v.oracle.Complete(ctx, transcript, llm.ReceiptSchema())
	if err != nil {
		return nil, err
	}

	var r receipt.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("unmarshaling receipt: %w", err)
	}

	receipt.LogWarnings(slog.Default(), r.Validate())
	return &r, nil
}
