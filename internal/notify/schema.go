package notify

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrInvalidPayload can be used with errors.Is to detect payloads that do not
// match their event's schema. Jobs failing with it are cancelled, not retried.
var ErrInvalidPayload = errors.New("invalid notification payload")

// Validator checks notification payloads against one JSON schema per event.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the embedded schemas/<event>.json files.
func NewValidator() (*Validator, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	schemas := make(map[string]*jsonschema.Schema, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		event := strings.TrimSuffix(e.Name(), ".json")
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		id := "https://classbook.dev/schemas/events/" + event
		schemas[event], err = jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", event, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Validate reports whether payload is a valid body for event. The payload is
// checked in its wire form, so times and ids are validated as JSON strings.
func (v *Validator) Validate(event string, payload map[string]any) error {
	schema, ok := v.schemas[event]
	if !ok {
		return fmt.Errorf("%w: unknown event %q", ErrInvalidPayload, event)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Validating rejects malformed payloads before they reach Next.
type Validating struct {
	Next   Notifier
	Schema *Validator
}

func (n Validating) Notify(ctx context.Context, userIDs []uuid.UUID, event string, payload map[string]any) error {
	if err := n.Schema.Validate(event, payload); err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	return n.Next.Notify(ctx, userIDs, event, payload)
}
