// Package source fetches rule documents from the bundled catalogue, local
// files and remote URLs.
package source

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/bimmerbailey/prompthakcer/internal/rules"
)

var (
	// ErrSourceUnavailable is returned when a rule source cannot be read or
	// reached.
	ErrSourceUnavailable = errors.New("rule source unavailable")

	// ErrSchemaValidation is returned when a document does not match the
	// rule document schema.
	ErrSchemaValidation = errors.New("rule document failed schema validation")
)

//go:embed schema.json
var documentSchema []byte

var schemaLoader = gojsonschema.NewBytesLoader(documentSchema)

// Provider fetches a rule document.
type Provider interface {
	Fetch(ctx context.Context) (*rules.Document, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (*rules.Document, error)

// Fetch calls f.
func (f ProviderFunc) Fetch(ctx context.Context) (*rules.Document, error) {
	return f(ctx)
}

// Bundled returns a provider for the rule catalogue compiled into the binary.
func Bundled() Provider {
	return ProviderFunc(func(context.Context) (*rules.Document, error) {
		return rules.DefaultDocument()
	})
}

// File reads a rule document from disk. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
type File struct {
	Path string
}

// Fetch reads, validates and decodes the file.
func (f File) Fetch(_ context.Context) (*rules.Document, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	ext := strings.ToLower(filepath.Ext(f.Path))
	if ext == ".yaml" || ext == ".yml" {
		return DecodeYAML(data)
	}
	return Decode(data)
}

// Decode validates a JSON rule document against the schema and decodes it.
func Decode(data []byte) (*rules.Document, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to validate rule document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrSchemaValidation, strings.Join(msgs, "; "))
	}

	var doc rules.Document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode rule document: %w", err)
	}
	return &doc, nil
}

// DecodeYAML converts a YAML rule document to JSON and decodes it with
// Decode, so both formats share the same schema and field names.
func DecodeYAML(data []byte) (*rules.Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse yaml rule document: %w", err)
	}

	converted, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert yaml rule document: %w", err)
	}
	return Decode(converted)
}
