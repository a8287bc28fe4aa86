package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/samber/lo"
)

// Tool is a named side-effecting operation the model can invoke.
type Tool interface {
	Name() string
	Description() string
	Schema() *JSONSchema
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// JSONSchema captures the subset of JSON Schema used to describe tool input.
type JSONSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

// ToolSpec is the provider-facing description of a tool.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  *JSONSchema
}

// Registry keeps the mapping between tool names and implementations. It is
// built once and never mutated afterwards.
type Registry struct {
	tools     map[string]Tool
	validator Validator
}

// NewRegistry creates a registry backed by the default validator.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:     make(map[string]Tool, len(tools)),
		validator: DefaultValidator{},
	}
	for _, tool := range tools {
		if tool == nil {
			return nil, fmt.Errorf("tool is nil")
		}
		name := tool.Name()
		if name == "" {
			return nil, fmt.Errorf("tool name is empty")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool %s already registered", name)
		}
		r.tools[name] = tool
	}
	return r, nil
}

// Get fetches a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, &ToolNotFoundError{Name: name, Available: r.Names()}
	}
	return tool, nil
}

// Names lists registered tool names in lexical order.
func (r *Registry) Names() []string {
	names := lo.Keys(r.tools)
	sort.Strings(names)
	return names
}

// Specs describes every registered tool for the model request.
func (r *Registry) Specs() []ToolSpec {
	return lo.Map(r.Names(), func(name string, _ int) ToolSpec {
		tool := r.tools[name]
		return ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		}
	})
}

// Execute runs a registered tool after schema validation.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if schema := tool.Schema(); schema != nil && r.validator != nil {
		if err := r.validator.Validate(params, schema); err != nil {
			return nil, fmt.Errorf("tool %s validation failed: %w", name, err)
		}
	}
	return tool.Execute(ctx, params)
}

// Validator validates tool parameters before execution.
type Validator interface {
	Validate(params map[string]any, schema *JSONSchema) error
}

// DefaultValidator checks required fields and primitive types.
type DefaultValidator struct{}

func (DefaultValidator) Validate(params map[string]any, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}

	for _, field := range schema.Required {
		if _, exists := params[field]; !exists {
			return fmt.Errorf("missing required field: %s", field)
		}
	}

	for key, value := range params {
		propDef, ok := schema.Properties[key]
		if !ok {
			continue
		}
		expected := expectedType(propDef)
		if expected == "" {
			continue
		}
		if err := validateType(value, expected); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	return nil
}

func expectedType(definition any) string {
	switch def := definition.(type) {
	case map[string]any:
		if value, ok := def["type"].(string); ok {
			return value
		}
	case *JSONSchema:
		return def.Type
	}
	return ""
}

func validateType(value any, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		if _, ok := value.([]any); ok {
			return nil
		}
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return math.Trunc(float64(v)) == float64(v)
	case float64:
		return math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}
