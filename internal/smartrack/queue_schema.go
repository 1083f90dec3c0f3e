package smartrack

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const queueFileSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["items"],
	"properties": {
		"version": {"type": "integer", "minimum": 0},
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["payload", "enqueuedAt"],
				"properties": {
					"payload": {
						"type": "object",
						"required": ["url"],
						"properties": {
							"url": {"type": "string", "minLength": 1},
							"title": {"type": "string"},
							"description": {"type": "string"},
							"category": {"type": "string"},
							"tags": {"type": "array", "items": {"type": "string"}},
							"contentType": {"type": "string"},
							"thumbnail": {"type": "string"},
							"source": {"type": "string"}
						}
					},
					"enqueuedAt": {"type": "string"}
				}
			}
		}
	}
}`

var (
	queueSchemaOnce sync.Once
	queueSchema     *jsonschema.Schema
	queueSchemaErr  error
)

func compiledQueueSchema() (*jsonschema.Schema, error) {
	queueSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(queueFileSchema))
		if err != nil {
			queueSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("pending-queue.json", doc); err != nil {
			queueSchemaErr = err
			return
		}
		queueSchema, queueSchemaErr = compiler.Compile("pending-queue.json")
	})
	return queueSchema, queueSchemaErr
}

// ValidateQueueFile checks raw queue-file bytes against the persisted-state
// schema. Callers treat a validation failure as a corrupt store and reset it
// rather than crashing.
func ValidateQueueFile(data []byte) error {
	schema, err := compiledQueueSchema()
	if err != nil {
		return fmt.Errorf("queue schema unavailable: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("queue file is not valid JSON: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("queue file failed schema validation: %w", err)
	}
	return nil
}
