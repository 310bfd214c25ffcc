// Package extractor reads field values out of source rows
package extractor

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Extractor resolves match field paths against a row. A path naming a column
// is a direct lookup; anything else is compiled as a JMESPath expression, so
// "address.city" reads into a JSON column.
type Extractor struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

// New creates a new Extractor
func New() *Extractor {
	return &Extractor{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

// Extract returns the value at path, or nil when the path does not resolve
func (e *Extractor) Extract(row map[string]any, path string) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("empty field path")
	}
	if v, ok := row[path]; ok {
		return v, nil
	}
	if !isExpression(path) {
		return nil, nil
	}

	compiled, err := e.getOrCompile(path)
	if err != nil {
		return nil, fmt.Errorf("invalid field path %q: %w", path, err)
	}

	result, err := compiled.Search(row)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate field path %q: %w", path, err)
	}
	return result, nil
}

// Compile checks that path is a valid column name or expression
func (e *Extractor) Compile(path string) error {
	if path == "" {
		return fmt.Errorf("empty field path")
	}
	if !isExpression(path) {
		return nil
	}
	_, err := e.getOrCompile(path)
	return err
}

func (e *Extractor) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	compiled, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()

	return compiled, nil
}

func isExpression(path string) bool {
	return strings.ContainsAny(path, ".[|(@")
}
