package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/tidwall/gjson"
	"google.golang.org/protobuf/types/known/structpb"
)

var adapter = types.DefaultTypeAdapter

// nativeValue converts a CEL value into plain Go JSON-shaped values.
func nativeValue(v ref.Val) any {
	return normalizeNative(v.Value())
}

func normalizeNative(v any) any {
	switch tv := v.(type) {
	case ref.Val:
		return normalizeNative(tv.Value())
	case []ref.Val:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeNative(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeNative(e)
		}
		return out
	case map[ref.Val]ref.Val:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[Stringify(normalizeNative(k))] = normalizeNative(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[Stringify(normalizeNative(k))] = normalizeNative(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = normalizeNative(val)
		}
		return out
	case structpb.NullValue:
		return nil
	default:
		return v
	}
}

func resultValue(name string, v any, err error) ref.Val {
	if err != nil {
		return types.NewErr("%s: %s", name, err)
	}
	return adapter.NativeToValue(v)
}

func unaryFn(name string, impl func(any) (any, error)) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_dyn", []*cel.Type{cel.DynType}, cel.DynType,
			cel.UnaryBinding(func(arg ref.Val) ref.Val {
				v, err := impl(nativeValue(arg))
				return resultValue(name, v, err)
			})))
}

func binaryFn(name string, impl func(a, b any) (any, error)) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.DynType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				v, err := impl(nativeValue(lhs), nativeValue(rhs))
				return resultValue(name, v, err)
			})))
}

func ternaryFn(name string, impl func(a, b, c any) (any, error)) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_dyn_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType, cel.DynType}, cel.DynType,
			cel.FunctionBinding(func(args ...ref.Val) ref.Val {
				if len(args) != 3 {
					return types.NewErr("%s: expected 3 arguments", name)
				}
				v, err := impl(nativeValue(args[0]), nativeValue(args[1]), nativeValue(args[2]))
				return resultValue(name, v, err)
			})))
}

func zeroFn(name string, resultType *cel.Type, impl func() any) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_0", []*cel.Type{}, resultType,
			cel.FunctionBinding(func(...ref.Val) ref.Val {
				return adapter.NativeToValue(impl())
			})))
}

// functionBindings declares the function allow-list. CEL's standard
// library already provides int()/bool()/string() conversions, comparison
// and boolean operators, and the has/all/exists macros; everything here is
// additive and none of it can reach the host.
func functionBindings() []cel.EnvOption {
	return []cel.EnvOption{
		// Coercions beyond the CEL standard set.
		unaryFn("str", func(v any) (any, error) {
			return Stringify(v), nil
		}),
		unaryFn("float", toFloatFn),
		unaryFn("list", func(v any) (any, error) {
			switch tv := v.(type) {
			case nil:
				return []any{}, nil
			case []any:
				return tv, nil
			default:
				return []any{v}, nil
			}
		}),
		unaryFn("dict", func(v any) (any, error) {
			switch tv := v.(type) {
			case nil:
				return map[string]any{}, nil
			case map[string]any:
				return tv, nil
			default:
				return nil, fmt.Errorf("cannot convert %s to dict", typeName(v))
			}
		}),

		// String operations.
		unaryFn("lower", stringFn(strings.ToLower)),
		unaryFn("upper", stringFn(strings.ToUpper)),
		unaryFn("trim", stringFn(strings.TrimSpace)),
		binaryFn("split", func(a, b any) (any, error) {
			s, err := wantString(a)
			if err != nil {
				return nil, err
			}
			sep, err := wantString(b)
			if err != nil {
				return nil, err
			}
			parts := strings.Split(s, sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		}),
		binaryFn("join", func(a, b any) (any, error) {
			list, err := wantList(a)
			if err != nil {
				return nil, err
			}
			sep, err := wantString(b)
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(list))
			for i, e := range list {
				parts[i] = Stringify(e)
			}
			return strings.Join(parts, sep), nil
		}),
		binaryFn("includes", func(a, b any) (any, error) {
			switch tv := a.(type) {
			case string:
				return strings.Contains(tv, Stringify(b)), nil
			case []any:
				for _, e := range tv {
					if looseEqual(e, b) {
						return true, nil
					}
				}
				return false, nil
			default:
				return nil, fmt.Errorf("expected string or list, got %s", typeName(a))
			}
		}),
		ternaryFn("replace", func(a, b, c any) (any, error) {
			s, err := wantString(a)
			if err != nil {
				return nil, err
			}
			old, err := wantString(b)
			if err != nil {
				return nil, err
			}
			repl, err := wantString(c)
			if err != nil {
				return nil, err
			}
			return strings.ReplaceAll(s, old, repl), nil
		}),
		ternaryFn("substring", func(a, b, c any) (any, error) {
			s, err := wantString(a)
			if err != nil {
				return nil, err
			}
			start, err := wantInt(b)
			if err != nil {
				return nil, err
			}
			end, err := wantInt(c)
			if err != nil {
				return nil, err
			}
			runes := []rune(s)
			n := int64(len(runes))
			start = clampIndex(start, n)
			end = clampIndex(end, n)
			if start > end {
				start, end = end, start
			}
			return string(runes[start:end]), nil
		}),
		unaryFn("length", func(v any) (any, error) {
			switch tv := v.(type) {
			case nil:
				return int64(0), nil
			case string:
				return int64(len([]rune(tv))), nil
			case []any:
				return int64(len(tv)), nil
			case map[string]any:
				return int64(len(tv)), nil
			default:
				return nil, fmt.Errorf("expected string, list, or map, got %s", typeName(v))
			}
		}),
		binaryFn("startswith", func(a, b any) (any, error) {
			s, err := wantString(a)
			if err != nil {
				return nil, err
			}
			prefix, err := wantString(b)
			if err != nil {
				return nil, err
			}
			return strings.HasPrefix(s, prefix), nil
		}),
		binaryFn("endswith", func(a, b any) (any, error) {
			s, err := wantString(a)
			if err != nil {
				return nil, err
			}
			suffix, err := wantString(b)
			if err != nil {
				return nil, err
			}
			return strings.HasSuffix(s, suffix), nil
		}),

		// List operations.
		unaryFn("first", func(v any) (any, error) {
			list, err := wantList(v)
			if err != nil {
				return nil, err
			}
			if len(list) == 0 {
				return nil, nil
			}
			return list[0], nil
		}),
		unaryFn("last", func(v any) (any, error) {
			list, err := wantList(v)
			if err != nil {
				return nil, err
			}
			if len(list) == 0 {
				return nil, nil
			}
			return list[len(list)-1], nil
		}),
		binaryFn("at", func(a, b any) (any, error) {
			list, err := wantList(a)
			if err != nil {
				return nil, err
			}
			idx, err := wantInt(b)
			if err != nil {
				return nil, err
			}
			if idx < 0 {
				idx += int64(len(list))
			}
			if idx < 0 || idx >= int64(len(list)) {
				return nil, nil
			}
			return list[idx], nil
		}),
		ternaryFn("slice", func(a, b, c any) (any, error) {
			list, err := wantList(a)
			if err != nil {
				return nil, err
			}
			start, err := wantInt(b)
			if err != nil {
				return nil, err
			}
			end, err := wantInt(c)
			if err != nil {
				return nil, err
			}
			n := int64(len(list))
			if start < 0 {
				start += n
			}
			if end < 0 {
				end += n
			}
			start = clampIndex(start, n)
			end = clampIndex(end, n)
			if start >= end {
				return []any{}, nil
			}
			return append([]any{}, list[start:end]...), nil
		}),
		unaryFn("reverse", func(v any) (any, error) {
			switch tv := v.(type) {
			case string:
				runes := []rune(tv)
				for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
					runes[i], runes[j] = runes[j], runes[i]
				}
				return string(runes), nil
			case []any:
				out := make([]any, len(tv))
				for i, e := range tv {
					out[len(tv)-1-i] = e
				}
				return out, nil
			default:
				return nil, fmt.Errorf("expected string or list, got %s", typeName(v))
			}
		}),
		unaryFn("sort", func(v any) (any, error) {
			list, err := wantList(v)
			if err != nil {
				return nil, err
			}
			out := append([]any{}, list...)
			if allNumeric(out) {
				sort.Slice(out, func(i, j int) bool {
					a, _ := toFloat(out[i])
					b, _ := toFloat(out[j])
					return a < b
				})
				return out, nil
			}
			sort.Slice(out, func(i, j int) bool {
				return Stringify(out[i]) < Stringify(out[j])
			})
			return out, nil
		}),
		unaryFn("unique", func(v any) (any, error) {
			list, err := wantList(v)
			if err != nil {
				return nil, err
			}
			seen := make(map[string]bool, len(list))
			out := make([]any, 0, len(list))
			for _, e := range list {
				key := typeName(e) + "|" + Stringify(e)
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, e)
			}
			return out, nil
		}),
		unaryFn("flatten", func(v any) (any, error) {
			list, err := wantList(v)
			if err != nil {
				return nil, err
			}
			out := make([]any, 0, len(list))
			for _, e := range list {
				if inner, ok := e.([]any); ok {
					out = append(out, inner...)
					continue
				}
				out = append(out, e)
			}
			return out, nil
		}),

		// Math.
		unaryFn("abs", func(v any) (any, error) {
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("expected number, got %s", typeName(v))
			}
			if i, ok := toInt(v); ok {
				if i < 0 {
					return -i, nil
				}
				return i, nil
			}
			return math.Abs(f), nil
		}),
		minMaxFn("min", func(a, b float64) bool { return a < b }),
		minMaxFn("max", func(a, b float64) bool { return a > b }),
		unaryFn("sum", func(v any) (any, error) {
			list, err := wantList(v)
			if err != nil {
				return nil, err
			}
			var total float64
			ints := true
			for _, e := range list {
				f, ok := toFloat(e)
				if !ok {
					return nil, fmt.Errorf("non-numeric element %s", Stringify(e))
				}
				if _, isInt := toInt(e); !isInt {
					ints = false
				}
				total += f
			}
			if ints {
				return int64(total), nil
			}
			return total, nil
		}),
		unaryFn("round", mathToIntFn("round", math.Round)),
		unaryFn("floor", mathToIntFn("floor", math.Floor)),
		unaryFn("ceil", mathToIntFn("ceil", math.Ceil)),

		// Dates.
		zeroFn("now", cel.IntType, func() any { return time.Now().UnixMilli() }),
		zeroFn("date_now", cel.StringType, func() any { return time.Now().UTC().Format(time.RFC3339) }),
		cel.Function("timestamp",
			cel.Overload("timestamp_epoch_seconds", []*cel.Type{}, cel.IntType,
				cel.FunctionBinding(func(...ref.Val) ref.Val {
					return types.Int(time.Now().Unix())
				}))),

		// JSON.
		unaryFn("json_stringify", func(v any) (any, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("value is not serializable: %v", err)
			}
			return string(data), nil
		}),
		unaryFn("json_parse", func(v any) (any, error) {
			s, err := wantString(v)
			if err != nil {
				return nil, err
			}
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, fmt.Errorf("invalid JSON: %v", err)
			}
			return out, nil
		}),

		// Predicates.
		unaryFn("typeof", func(v any) (any, error) {
			return typeName(v), nil
		}),
		unaryFn("is_array", func(v any) (any, error) {
			_, ok := v.([]any)
			return ok, nil
		}),
		unaryFn("is_empty", func(v any) (any, error) {
			switch tv := v.(type) {
			case nil:
				return true, nil
			case string:
				return tv == "", nil
			case []any:
				return len(tv) == 0, nil
			case map[string]any:
				return len(tv) == 0, nil
			default:
				return false, nil
			}
		}),
		unaryFn("is_none", func(v any) (any, error) {
			return v == nil, nil
		}),

		// Mapping operations.
		unaryFn("keys", func(v any) (any, error) {
			m, err := wantMap(v)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(m))
			for k := range m {
				names = append(names, k)
			}
			sort.Strings(names)
			out := make([]any, len(names))
			for i, k := range names {
				out[i] = k
			}
			return out, nil
		}),
		unaryFn("values", func(v any) (any, error) {
			m, err := wantMap(v)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(m))
			for k := range m {
				names = append(names, k)
			}
			sort.Strings(names)
			out := make([]any, len(names))
			for i, k := range names {
				out[i] = m[k]
			}
			return out, nil
		}),
		binaryFn("get", func(a, b any) (any, error) {
			path, err := wantString(b)
			if err != nil {
				return nil, err
			}
			data, err := json.Marshal(a)
			if err != nil {
				return nil, fmt.Errorf("container is not serializable: %v", err)
			}
			res := gjson.GetBytes(data, path)
			if !res.Exists() {
				return nil, nil
			}
			return res.Value(), nil
		}),
	}
}

// minMaxFn declares both the list form (min([1,2])) and the pair form
// (min(1, 2)).
func minMaxFn(name string, better func(a, b float64) bool) cel.EnvOption {
	pick := func(vals []any) (any, error) {
		if len(vals) == 0 {
			return nil, fmt.Errorf("empty list")
		}
		best := vals[0]
		bestF, ok := toFloat(best)
		if !ok {
			return nil, fmt.Errorf("non-numeric element %s", Stringify(best))
		}
		for _, e := range vals[1:] {
			f, ok := toFloat(e)
			if !ok {
				return nil, fmt.Errorf("non-numeric element %s", Stringify(e))
			}
			if better(f, bestF) {
				best, bestF = e, f
			}
		}
		return best, nil
	}
	return cel.Function(name,
		cel.Overload(name+"_list", []*cel.Type{cel.DynType}, cel.DynType,
			cel.UnaryBinding(func(arg ref.Val) ref.Val {
				list, err := wantList(nativeValue(arg))
				if err != nil {
					return types.NewErr("%s: %s", name, err)
				}
				v, err := pick(list)
				return resultValue(name, v, err)
			})),
		cel.Overload(name+"_pair", []*cel.Type{cel.DynType, cel.DynType}, cel.DynType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				v, err := pick([]any{nativeValue(lhs), nativeValue(rhs)})
				return resultValue(name, v, err)
			})))
}

func stringFn(impl func(string) string) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", typeName(v))
		}
		return impl(s), nil
	}
}

func mathToIntFn(name string, impl func(float64) float64) func(any) (any, error) {
	return func(v any) (any, error) {
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("expected number, got %s", typeName(v))
		}
		return int64(impl(f)), nil
	}
}

func toFloatFn(v any) (any, error) {
	switch tv := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as float", tv)
		}
		return f, nil
	case bool:
		if tv {
			return float64(1), nil
		}
		return float64(0), nil
	default:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		return nil, fmt.Errorf("cannot convert %s to float", typeName(v))
	}
}

func wantString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %s", typeName(v))
	}
	return s, nil
}

func wantList(v any) ([]any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %s", typeName(v))
	}
	return list, nil
}

func wantMap(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected map, got %s", typeName(v))
	}
	return m, nil
}

func wantInt(v any) (int64, error) {
	i, ok := toInt(v)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %s", typeName(v))
	}
	return i, nil
}

func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case uint64:
		return float64(tv), true
	case float64:
		return tv, true
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch tv := v.(type) {
	case int:
		return int64(tv), true
	case int64:
		return tv, true
	case uint64:
		return int64(tv), true
	case float64:
		if tv == math.Trunc(tv) {
			return int64(tv), true
		}
		return 0, false
	default:
		return 0, false
	}
}

func clampIndex(i, n int64) int64 {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func allNumeric(list []any) bool {
	for _, e := range list {
		if _, ok := toFloat(e); !ok {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return Stringify(a) == Stringify(b) && typeName(a) == typeName(b)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int, int64, uint64, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	case []byte:
		return "bytes"
	default:
		return fmt.Sprintf("%T", v)
	}
}
