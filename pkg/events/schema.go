package events

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema validates the raw engine frame before decoding. Transports
// reject frames that fail here so a malformed upstream stream never reaches
// the reducer.
var envelopeSchema = map[string]any{
	"type":     "object",
	"required": []string{"event"},
	"properties": map[string]any{
		"event": map[string]any{
			"type":      "string",
			"minLength": 1,
		},
		"workflow_run_id": map[string]any{"type": "string"},
		"task_id":         map[string]any{"type": "string"},
		"data":            map[string]any{"type": "object"},
	},
}

// ValidateEnvelope checks a raw frame against the stream envelope schema.
func ValidateEnvelope(raw []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(envelopeSchema)
	dataLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("envelope validation: %w", err)
	}

	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descs = append(descs, desc.String())
		}

		return fmt.Errorf("invalid stream envelope: %s", strings.Join(descs, "; "))
	}

	return nil
}
