// internal/tools/registry.go
package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler is one invocable tool. Schema returns a JSON Schema for the
// argument object, or "" to skip validation. Execute reports failures inside
// the ToolResult; it must not panic, but the dispatcher guards anyway.
type Handler interface {
	Name() string
	Description() string
	Schema() string
	Execute(ctx context.Context, page schemas.PageSurface, args map[string]interface{}) schemas.ToolResult
}

// Registry is the static dispatch table built at startup. Dispatch never
// lets an error or panic escape: every failure mode becomes {error: msg}.
type Registry struct {
	handlers map[string]Handler
	compiled map[string]*gojsonschema.Schema
	logger   *zap.Logger
}

// NewRegistry builds a registry with the full default tool set.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		compiled: make(map[string]*gojsonschema.Schema),
		logger:   logger.Named("tools"),
	}
	for _, h := range defaultHandlers() {
		if err := r.Register(h); err != nil {
			// Default schemas are static strings; a compile failure here is
			// a programming error.
			panic(fmt.Sprintf("tools: registering %s: %v", h.Name(), err))
		}
	}
	return r
}

// Register adds a handler, compiling its argument schema once.
func (r *Registry) Register(h Handler) error {
	name := h.Name()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	if s := h.Schema(); s != "" {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
		if err != nil {
			return fmt.Errorf("invalid schema for tool %q: %w", name, err)
		}
		r.compiled[name] = compiled
	}
	r.handlers[name] = h
	return nil
}

// Names returns the sorted tool names for the oracle's catalog.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns "name: description" lines, sorted by name.
func (r *Registry) Catalog() []string {
	names := r.Names()
	catalog := make([]string, 0, len(names))
	for _, name := range names {
		catalog = append(catalog, fmt.Sprintf("%s: %s", name, r.handlers[name].Description()))
	}
	return catalog
}

// Dispatch runs the named tool with the given arguments under the given
// timeout. Unknown tools, invalid arguments, panics, and deadline overruns
// all come back as error results.
func (r *Registry) Dispatch(ctx context.Context, page schemas.PageSurface, name string, args map[string]interface{}, timeout time.Duration) schemas.ToolResult {
	handler, ok := r.handlers[name]
	if !ok {
		return schemas.ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}

	if compiled, hasSchema := r.compiled[name]; hasSchema {
		if msg := validateArgs(compiled, args); msg != "" {
			return schemas.ErrorResult(fmt.Sprintf("invalid arguments for %s: %s", name, msg))
		}
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan schemas.ToolResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Tool handler panicked.",
					zap.String("tool", name), zap.Any("panic", rec))
				done <- schemas.ErrorResult(fmt.Sprintf("tool %s panicked: %v", name, rec))
			}
		}()
		done <- handler.Execute(execCtx, page, args)
	}()

	select {
	case result := <-done:
		if result == nil {
			return schemas.ToolResult{}
		}
		return result
	case <-execCtx.Done():
		r.logger.Warn("Tool timed out.",
			zap.String("tool", name), zap.Duration("timeout", timeout))
		return schemas.ErrorResult(fmt.Sprintf("tool %s timed out after %s", name, timeout))
	}
}

// validateArgs checks args against a compiled schema and returns a short
// message describing the first violation, or "".
func validateArgs(compiled *gojsonschema.Schema, args map[string]interface{}) string {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err.Error()
	}
	if result.Valid() {
		return ""
	}
	return result.Errors()[0].String()
}
