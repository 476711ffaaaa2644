// Copyright 2026 The Selector MCP Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/xeipuuv/gojsonschema"
)

// Tool names accepted by tools/call.
const (
	ToolReady     = "ready"
	ToolAsk       = "ask_selector"
	ToolAskStream = "ask_selector_stream"
	ToolQuery     = "query_selector"
	ToolPhrases   = "get_selector_phrases"
)

// Parameter schemas, authored as JSONC so they can carry comments.
// The comments are stripped before the schemas are compiled or served
// through tools/discover.
const (
	readySchema = `{
		// The readiness probe takes no arguments.
		"type": "object",
		"properties": {},
		"additionalProperties": false
	}`

	askSchema = `{
		"type": "object",
		"properties": {
			// Natural language question forwarded to the Selector chat API.
			"content": {"type": "string", "minLength": 1}
		},
		"required": ["content"],
		"additionalProperties": false
	}`

	querySchema = `{
		"type": "object",
		"properties": {
			// Raw command passed to the Selector command API unmodified.
			"command": {"type": "string", "minLength": 1}
		},
		"required": ["command"],
		"additionalProperties": false
	}`

	phrasesSchema = `{
		"type": "object",
		"properties": {
			// Optional filter: return only phrases from this source
			// (e.g., "user", "widget", "s2ml").
			"source": {"type": "string"}
		},
		"additionalProperties": false
	}`
)

// singleShotFunc invokes the upstream for a buffered tool call and
// returns the complete result.
type singleShotFunc func(ctx context.Context, upstream Upstream, arguments json.RawMessage) (json.RawMessage, error)

// toolDefinition is one entry in the tool registry.
type toolDefinition struct {
	name        string
	description string

	// rawSchema is the comment-stripped JSON Schema, served verbatim
	// by tools/discover.
	rawSchema json.RawMessage

	// schema is the compiled form used to validate call arguments.
	schema *gojsonschema.Schema

	// run handles buffered tools. Nil for ToolAskStream, which the
	// dispatcher routes through its streaming path, and for
	// ToolReady, which is part of the state machine rather than the
	// registry dispatch.
	run singleShotFunc

	streaming bool
}

// askArguments are the validated arguments of ask_selector and
// ask_selector_stream.
type askArguments struct {
	Content string `json:"content"`
}

// queryArguments are the validated arguments of query_selector.
type queryArguments struct {
	Command string `json:"command"`
}

// phrasesArguments are the validated arguments of get_selector_phrases.
type phrasesArguments struct {
	Source string `json:"source"`
}

// tools is the registry, keyed by tool name. Built once at package
// initialization; compilation failures are programming errors and
// panic.
var tools = buildTools()

func buildTools() map[string]*toolDefinition {
	registry := make(map[string]*toolDefinition)

	register := func(name, description, schemaJSONC string, streaming bool, run singleShotFunc) {
		if _, exists := registry[name]; exists {
			panic(fmt.Sprintf("dispatch: duplicate tool %q", name))
		}
		stripped := jsonc.ToJSON([]byte(schemaJSONC))
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(stripped))
		if err != nil {
			panic(fmt.Sprintf("dispatch: compiling schema for %q: %v", name, err))
		}
		registry[name] = &toolDefinition{
			name:        name,
			description: description,
			rawSchema:   json.RawMessage(stripped),
			schema:      compiled,
			streaming:   streaming,
			run:         run,
		}
	}

	register(ToolReady,
		"Check whether the bridge and the Selector backend are ready",
		readySchema, false, nil)

	register(ToolAsk,
		"Ask Selector a question",
		askSchema, false,
		func(ctx context.Context, upstream Upstream, arguments json.RawMessage) (json.RawMessage, error) {
			var args askArguments
			if err := json.Unmarshal(arguments, &args); err != nil {
				return nil, err
			}
			return upstream.Ask(ctx, args.Content)
		})

	register(ToolAskStream,
		"Ask Selector a question and stream the answer incrementally",
		askSchema, true, nil)

	register(ToolQuery,
		"Get raw data back from Selector",
		querySchema, false,
		func(ctx context.Context, upstream Upstream, arguments json.RawMessage) (json.RawMessage, error) {
			var args queryArguments
			if err := json.Unmarshal(arguments, &args); err != nil {
				return nil, err
			}
			return upstream.Query(ctx, args.Command)
		})

	register(ToolPhrases,
		"Get the list of Selector natural language phrases, optionally filtered by source",
		phrasesSchema, false,
		func(ctx context.Context, upstream Upstream, arguments json.RawMessage) (json.RawMessage, error) {
			var args phrasesArguments
			if err := json.Unmarshal(arguments, &args); err != nil {
				return nil, err
			}
			return upstream.Phrases(ctx, args.Source)
		})

	return registry
}

// validateArguments checks call arguments against the tool's schema.
// Returns a human-readable description of every violation, or "" when
// the arguments are valid. Absent arguments validate as an empty
// object.
func (definition *toolDefinition) validateArguments(arguments json.RawMessage) (string, error) {
	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}
	result, err := definition.schema.Validate(gojsonschema.NewBytesLoader([]byte(arguments)))
	if err != nil {
		return "", fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	if result.Valid() {
		return "", nil
	}

	var violations []string
	for _, violation := range result.Errors() {
		violations = append(violations, violation.String())
	}
	return strings.Join(violations, "; "), nil
}

// ToolDescription describes one tool for tools/discover responses.
type ToolDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Streaming   bool            `json:"streaming,omitempty"`
}

// Catalog returns descriptions of every registered tool, in a stable
// order.
func Catalog() []ToolDescription {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	catalog := make([]ToolDescription, 0, len(names))
	for _, name := range names {
		definition := tools[name]
		catalog = append(catalog, ToolDescription{
			Name:        definition.name,
			Description: definition.description,
			Parameters:  definition.rawSchema,
			Streaming:   definition.streaming,
		})
	}
	return catalog
}
