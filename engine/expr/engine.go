// Package expr resolves {{ … }} parameter templates against runtime state.
// Expressions compile to CEL programs once and are cached; evaluation is
// hermetic, so only the declared variables and the allow-listed functions
// resolve and templates cannot reach the host process.
package expr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// templatePattern matches one {{ … }} occurrence, lazily, across newlines.
var templatePattern = regexp.MustCompile(`(?s)\{\{(.*?)\}\}`)

// variablePattern rewrites the template variable names ($json, $input, …)
// to their CEL identifiers.
var variablePattern = regexp.MustCompile(`\$(json|input|node|env|execution|itemIndex)\b`)

// Logger is the subset of the process logger the engine uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Engine evaluates templates. One engine serves the whole process; the
// compiled-program cache is safe for concurrent use.
type Engine struct {
	env *cel.Env
	log Logger

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// New builds the CEL environment with the template variables and the
// function allow-list.
func New(log Logger) (*Engine, error) {
	if log == nil {
		log = noopLogger{}
	}
	opts := []cel.EnvOption{
		cel.Variable("json", cel.DynType),
		cel.Variable("input", cel.DynType),
		cel.Variable("node", cel.DynType),
		cel.Variable("env", cel.DynType),
		cel.Variable("execution", cel.DynType),
		cel.Variable("itemIndex", cel.IntType),
		cel.CrossTypeNumericComparisons(true),
	}
	opts = append(opts, functionBindings()...)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create expression environment: %w", err)
	}
	return &Engine{
		env:   env,
		log:   log,
		cache: make(map[string]cel.Program),
	}, nil
}

// MustNew panics on environment construction failure. The environment is
// static, so failure is a programming error.
func MustNew(log Logger) *Engine {
	e, err := New(log)
	if err != nil {
		panic(err)
	}
	return e
}

// Resolve walks a parameter value and replaces every {{ … }} occurrence.
// Strings resolve per the template rules; maps and lists recurse; all other
// values pass through unchanged. With skipJSON set, expressions that
// reference $json or $itemIndex stay literal for later per-item resolution.
func (e *Engine) Resolve(value any, ectx *Context, skipJSON bool) any {
	switch v := value.(type) {
	case string:
		return e.ResolveString(v, ectx, skipJSON)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = e.Resolve(val, ectx, skipJSON)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = e.Resolve(val, ectx, skipJSON)
		}
		return out
	default:
		return value
	}
}

// ResolveString resolves one string. A string that is exactly one template
// returns the evaluated value with its type preserved; anything else
// interpolates each template's stringified result in place. Evaluation
// failures become "[Expression Error: …]" text and never abort.
func (e *Engine) ResolveString(s string, ectx *Context, skipJSON bool) any {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		text := strings.TrimSpace(s[matches[0][2]:matches[0][3]])
		if skipJSON && referencesItem(text) {
			return s
		}
		value, err := e.Evaluate(text, ectx)
		if err != nil {
			e.log.Warn("expression failed", "expression", text, "error", err)
			return errorText(err)
		}
		return value
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		text := strings.TrimSpace(s[m[2]:m[3]])
		if skipJSON && referencesItem(text) {
			b.WriteString(s[m[0]:m[1]])
			last = m[1]
			continue
		}
		value, err := e.Evaluate(text, ectx)
		if err != nil {
			e.log.Warn("expression failed", "expression", text, "error", err)
			b.WriteString(errorText(err))
		} else {
			b.WriteString(Stringify(value))
		}
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// ResolveJSONTemplate resolves a template and, when the result is a string
// holding a JSON literal, decodes it. Used by nodes whose parameters carry
// whole JSON documents as templated text.
func (e *Engine) ResolveJSONTemplate(template string, ectx *Context) any {
	resolved := e.ResolveString(template, ectx, false)
	s, ok := resolved.(string)
	if !ok {
		return resolved
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return resolved
	}
	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return resolved
	}
	return value
}

// Evaluate compiles (or fetches) one bare expression and runs it against
// the context. The expression text must not include the {{ }} braces.
func (e *Engine) Evaluate(expression string, ectx *Context) (any, error) {
	prog, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prog.Eval(ectx.activation())
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	return nativeValue(out), nil
}

// EvaluateBool evaluates a condition expression and coerces the result to
// a truth value. The expression may arrive wrapped in {{ }}.
func (e *Engine) EvaluateBool(expression string, ectx *Context) (bool, error) {
	text := strings.TrimSpace(expression)
	if m := templatePattern.FindStringSubmatchIndex(text); m != nil && m[0] == 0 && m[1] == len(text) {
		text = strings.TrimSpace(text[m[2]:m[3]])
	}
	value, err := e.Evaluate(text, ectx)
	if err != nil {
		return false, err
	}
	return Truthy(value), nil
}

// program returns the cached compiled program, compiling on first use.
func (e *Engine) program(expression string) (cel.Program, error) {
	normalized := variablePattern.ReplaceAllString(expression, "$1")

	e.mu.RLock()
	prog, ok := e.cache[normalized]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(normalized)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	e.mu.Lock()
	e.cache[normalized] = prog
	e.mu.Unlock()
	return prog, nil
}

// ClearCache drops all compiled programs.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize reports the number of cached programs.
func (e *Engine) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// referencesItem reports whether raw template text depends on the current
// item, which forces per-item resolution.
func referencesItem(text string) bool {
	return strings.Contains(text, "$json") || strings.Contains(text, "$itemIndex")
}

func errorText(err error) string {
	return "[Expression Error: " + err.Error() + "]"
}

// Stringify renders a value for interpolation: nil becomes the empty
// string, collections become JSON text, scalars print naturally.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	case float64:
		// Whole doubles print without the trailing .0 JSON would keep.
		data, _ := json.Marshal(v)
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Truthy applies the condition coercion rules: false/0/""/empty
// collections/nil are false, everything else is true.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int64:
		return v != 0
	case int:
		return v != 0
	case uint64:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
