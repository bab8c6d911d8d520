// Package capability holds the tool registry: the mapping from tool name to
// adapter plus the machine-readable spec advertised to the reasoning step.
package capability

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

// ToolSpec describes a single tool, including its JSON input schema.
// Specs are immutable after registration.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	SideEffects []string               `json:"side_effects,omitempty"`
	Checksum    string                 `json:"checksum,omitempty"`
	Signature   string                 `json:"signature,omitempty"`
}

// Result is what a successful tool invocation produces: a formatted text
// block folded into the conversation plus the structured payload it was
// rendered from.
type Result struct {
	Content string                 `json:"content"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Tool is the uniform adapter contract. Implementations must be idempotent
// and side-effect-free on the target system so retries are always safe.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, args map[string]interface{}) (Result, error)
}

var (
	// ErrDuplicateTool indicates a second registration under the same name.
	ErrDuplicateTool = fmt.Errorf("tool already registered")
	// ErrUnknownTool aliases the shared taxonomy sentinel.
	ErrUnknownTool = toolerr.ErrUnknownTool
)

// Registry maps tool names to adapters. Registration happens once at
// startup; afterwards the registry is read-only.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]Tool
	signingSecret string
}

// NewRegistry creates an empty registry. When signingSecret is non-empty,
// every registered spec must carry a valid HMAC signature.
func NewRegistry(signingSecret string) *Registry {
	return &Registry{tools: make(map[string]Tool), signingSecret: signingSecret}
}

// Register adds a tool under its spec name.
func (r *Registry) Register(tool Tool) error {
	spec := tool.Spec()
	if spec.Name == "" {
		return fmt.Errorf("tool spec has empty name")
	}
	if err := validateSignature(spec, r.signingSecret); err != nil {
		return fmt.Errorf("tool %s signature invalid: %w", spec.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}
	r.tools[spec.Name] = tool
	return nil
}

// Resolve returns the adapter registered under name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool, nil
}

// List returns all registered specs sorted by name, used to build the
// capability description passed to the reasoning step.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec())
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// ComputeChecksum returns a deterministic hash of the spec payload
// (excluding checksum and signature fields).
func ComputeChecksum(spec ToolSpec) (string, error) {
	payload := map[string]interface{}{
		"name":         spec.Name,
		"version":      spec.Version,
		"description":  spec.Description,
		"input_schema": spec.InputSchema,
		"side_effects": spec.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignSpec computes an HMAC signature over the spec checksum.
func SignSpec(spec ToolSpec, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(spec)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func validateSignature(spec ToolSpec, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignSpec(spec, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(spec.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// ObjectSchema is a helper for building tool input schemas in the shape the
// reasoning step expects.
func ObjectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ValidateArgs checks args against the spec's input schema: required keys
// present, known keys only, primitive types matching. Violations map to
// toolerr.ErrInvalidArgument.
func ValidateArgs(spec ToolSpec, args map[string]interface{}) error {
	schema := spec.InputSchema
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]interface{})
	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required argument %q: %w", key, toolerr.ErrInvalidArgument)
			}
		}
	} else if required, ok := schema["required"].([]interface{}); ok {
		for _, k := range required {
			key, _ := k.(string)
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required argument %q: %w", key, toolerr.ErrInvalidArgument)
			}
		}
	}
	for key, value := range args {
		propAny, known := props[key]
		if !known {
			return fmt.Errorf("unexpected argument %q for tool %s: %w", key, spec.Name, toolerr.ErrInvalidArgument)
		}
		prop, _ := propAny.(map[string]interface{})
		if err := checkType(key, prop, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(key string, prop map[string]interface{}, value interface{}) error {
	declared, _ := prop["type"].(string)
	if declared == "" || value == nil {
		return nil
	}
	ok := true
	switch declared {
	case "string":
		_, ok = value.(string)
	case "integer", "number":
		switch value.(type) {
		case float64, int, int64, json.Number:
		default:
			ok = false
		}
	case "boolean":
		_, ok = value.(bool)
	case "array":
		switch value.(type) {
		case []interface{}, []string:
		default:
			ok = false
		}
	case "object":
		_, ok = value.(map[string]interface{})
	}
	if !ok {
		return fmt.Errorf("argument %q must be %s: %w", key, declared, toolerr.ErrInvalidArgument)
	}
	return nil
}
