package expressions

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmespath/go-jmespath"
)

// DefaultCacheSize bounds the number of compiled expressions kept in memory.
const DefaultCacheSize = 512

// Evaluator compiles and caches JMESPath expressions. Configurations are
// re-run on every tick, so the same handful of expressions is compiled once.
type Evaluator struct {
	cache *lru.Cache[string, *jmespath.JMESPath]
}

// NewEvaluator creates an evaluator holding up to size compiled expressions.
func NewEvaluator(size int) *Evaluator {
	if size <= 0 {
		size = DefaultCacheSize
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, *jmespath.JMESPath](size)
	return &Evaluator{cache: cache}
}

// Normalize strips the JSONPath root marker so "$.data.items" and
// "data.items" select the same node. An empty result selects the root.
func Normalize(expression string) string {
	expr := strings.TrimSpace(expression)
	expr = strings.TrimPrefix(expr, "$")
	expr = strings.TrimPrefix(expr, ".")
	return expr
}

// Evaluate evaluates a JMESPath expression against decoded JSON.
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	expr := Normalize(expression)
	if expr == "" {
		return data, nil
	}

	compiled, err := e.compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

// Validate reports whether expression compiles.
func (e *Evaluator) Validate(expression string) error {
	expr := Normalize(expression)
	if expr == "" {
		return nil
	}
	if _, err := e.compile(expr); err != nil {
		return fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	return nil
}

func (e *Evaluator) compile(expr string) (*jmespath.JMESPath, error) {
	if compiled, ok := e.cache.Get(expr); ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(expr)
	if err != nil {
		return nil, err
	}

	e.cache.Add(expr, compiled)
	return compiled, nil
}
