package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// OpHandler executes a named memory operation with validated parameters
type OpHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// OpParameter describes a single operation parameter
type OpParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// OpDefinition describes an operation exposed to agent runtimes
type OpDefinition struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  []OpParameter `json:"parameters"`
	Handler     OpHandler     `json:"-"`
}

// Registry exposes the engine's operations as named, schema-validated calls.
// Agent runtimes dispatch by name with raw JSON parameters.
type Registry struct {
	engine  *Engine
	ops     map[string]*OpDefinition
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// NewRegistry builds a registry with the standard memory operations
// registered: memory_save, memory_recall, memory_forget and memory_reindex.
func NewRegistry(engine *Engine, log zerolog.Logger) (*Registry, error) {
	r := &Registry{
		engine:  engine,
		ops:     make(map[string]*OpDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  log,
	}

	builtins := []OpDefinition{
		{
			Name:        "memory_save",
			Description: "Save a new long-term memory",
			Parameters: []OpParameter{
				{Name: "content", Type: "string", Description: "The memory content", Required: true},
				{Name: "memory_type", Type: "string", Description: "One of fact, observation, preference, event"},
				{Name: "importance", Type: "number", Description: "Importance in [0,1]"},
				{Name: "source", Type: "string", Description: "Where the memory came from"},
				{Name: "channel_id", Type: "string", Description: "Originating channel"},
			},
			Handler: r.handleSave,
		},
		{
			Name:        "memory_recall",
			Description: "Recall memories relevant to a query",
			Parameters: []OpParameter{
				{Name: "query", Type: "string", Description: "Free-text search query", Required: true},
				{Name: "max_results", Type: "integer", Description: "Maximum memories to return", Default: DefaultRecallLimit},
			},
			Handler: r.handleRecall,
		},
		{
			Name:        "memory_forget",
			Description: "Delete a memory by id",
			Parameters: []OpParameter{
				{Name: "memory_id", Type: "string", Description: "Id of the memory to delete", Required: true},
			},
			Handler: r.handleForget,
		},
		{
			Name:        "memory_reindex",
			Description: "Rebuild the vector and text indexes",
			Parameters:  []OpParameter{},
			Handler:     r.handleReindex,
		},
	}

	for _, def := range builtins {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an operation and compiles its parameter schema
func (r *Registry) Register(def OpDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("operation name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("operation %s has no handler", def.Name)
	}

	schema, err := compileParamSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[def.Name]; exists {
		return fmt.Errorf("operation %s already registered", def.Name)
	}
	r.ops[def.Name] = &def
	r.schemas[def.Name] = schema

	r.logger.Debug().Str("op", def.Name).Msg("Operation registered")
	return nil
}

// Names returns the registered operation names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns an operation definition by name, or nil
func (r *Registry) Get(name string) *OpDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ops[name]
}

// Dispatch validates raw JSON parameters against the operation's schema and
// invokes its handler
func (r *Registry) Dispatch(ctx context.Context, name string, raw json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	op := r.ops[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if op == nil {
		return nil, fmt.Errorf("unknown operation: %s", name)
	}

	params := map[string]interface{}{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("invalid parameters for %s: %w", name, err)
		}
	}

	if err := validateParams(schema, params); err != nil {
		return nil, fmt.Errorf("parameter validation failed for %s: %w", name, err)
	}

	r.logger.Debug().Str("op", name).Msg("Dispatching operation")
	return op.Handler(ctx, params)
}

func (r *Registry) handleSave(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	input := CreateMemoryInput{
		Content: stringParam(params, "content"),
		Type:    MemoryType(stringParam(params, "memory_type")),
		Source:  stringParam(params, "source"),
	}
	input.ChannelID = stringParam(params, "channel_id")
	if v, ok := params["importance"].(float64); ok {
		input.Importance = &v
	}

	id, err := Save(ctx, r.engine, input)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"memory_id": id}, nil
}

func (r *Registry) handleRecall(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	query := stringParam(params, "query")
	maxResults := DefaultRecallLimit
	if v, ok := params["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}

	memories, err := Recall(ctx, r.engine, query, maxResults)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"count":     len(memories),
		"memories":  memories,
		"formatted": FormatMemories(memories),
	}, nil
}

func (r *Registry) handleForget(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	id := stringParam(params, "memory_id")
	if err := Forget(ctx, r.engine, id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": id}, nil
}

func (r *Registry) handleReindex(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := Reindex(ctx, r.engine); err != nil {
		return nil, err
	}
	count, err := r.engine.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"indexed_rows": count}, nil
}

func compileParamSchema(params []OpParameter) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, p := range params {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
