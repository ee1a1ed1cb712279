package item

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Item is the unit of data flowing between nodes: a JSON payload plus
// optional named binary blobs. Items are immutable once emitted; nodes that
// transform data produce new items rather than mutating their input.
type Item struct {
	JSON   map[string]any    `json:"json"`
	Binary map[string][]byte `json:"binary,omitempty"`
}

// New creates an item from a JSON payload. A nil payload becomes an empty
// object so downstream field access never hits a nil map.
func New(payload map[string]any) *Item {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Item{JSON: payload}
}

// Empty returns the canonical seed item: json={}.
func Empty() *Item {
	return New(nil)
}

// Clone deep-copies the JSON tree. Binary blobs are shared (they are
// immutable for the life of a run); the name map itself is copied.
func (it *Item) Clone() *Item {
	out := &Item{JSON: CopyJSONMap(it.JSON)}
	if it.Binary != nil {
		out.Binary = make(map[string][]byte, len(it.Binary))
		for k, v := range it.Binary {
			out.Binary[k] = v
		}
	}
	return out
}

// WithField returns a clone with one top-level JSON field set.
func (it *Item) WithField(key string, value any) *Item {
	out := it.Clone()
	out.JSON[key] = value
	return out
}

// CopyJSONMap deep-copies a JSON object tree.
func CopyJSONMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyJSONValue(v)
	}
	return out
}

func copyJSONValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return CopyJSONMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = copyJSONValue(e)
		}
		return out
	default:
		return v
	}
}

// FromJSONList builds one item per element. Non-object elements are wrapped
// as {"value": element}.
func FromJSONList(values []any) []*Item {
	items := make([]*Item, 0, len(values))
	for _, v := range values {
		if obj, ok := v.(map[string]any); ok {
			items = append(items, New(obj))
			continue
		}
		items = append(items, New(map[string]any{"value": v}))
	}
	return items
}

// JSONList extracts the JSON payloads of a batch in order.
func JSONList(items []*Item) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it.JSON
	}
	return out
}

// Well-known port names. Every node emits on "main" unless it is a
// flow-control node with a richer port set.
const (
	PortMain     = "main"
	PortTrue     = "true"
	PortFalse    = "false"
	PortFallback = "fallback"
	PortLoop     = "loop"
	PortDone     = "done"
	PortContinue = "continue"
)

// OutputPort names the i-th Switch port ("output0".."output14").
func OutputPort(i int) string {
	return fmt.Sprintf("output%d", i)
}

// Output is what a node emits on one port: either a list of items (possibly
// empty) or the no-output marker. The two are distinct: an empty list means
// "ran, produced nothing" and still satisfies downstream joins; no-output
// marks a dead branch that must not fire single-input downstream nodes.
type Output struct {
	items []*Item
	none  bool
}

// NewOutput wraps items as a live port payload. Zero items is the empty
// list, not no-output.
func NewOutput(items ...*Item) Output {
	if items == nil {
		items = []*Item{}
	}
	return Output{items: items}
}

// NoOutput returns the dead-branch marker.
func NoOutput() Output {
	return Output{none: true}
}

// IsNoOutput reports whether the port carries the dead-branch marker.
func (o Output) IsNoOutput() bool {
	return o.none
}

// Items returns the port's items; nil when the port is no-output.
func (o Output) Items() []*Item {
	if o.none {
		return nil
	}
	return o.items
}

// Len is the item count; zero for both the empty list and no-output.
func (o Output) Len() int {
	if o.none {
		return 0
	}
	return len(o.items)
}

// MarshalJSON encodes no-output as null and the empty list as []. The
// distinction survives persistence and the event stream.
func (o Output) MarshalJSON() ([]byte, error) {
	if o.none {
		return []byte("null"), nil
	}
	if o.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(o.items)
}

// UnmarshalJSON restores the null vs [] distinction.
func (o *Output) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.none = true
		o.items = nil
		return nil
	}
	o.none = false
	if err := json.Unmarshal(data, &o.items); err != nil {
		return fmt.Errorf("failed to decode port items: %w", err)
	}
	if o.items == nil {
		o.items = []*Item{}
	}
	return nil
}

// Result maps output-port names to what a node emitted there.
type Result map[string]Output

// MainResult is the common single-port result.
func MainResult(items ...*Item) Result {
	return Result{PortMain: NewOutput(items...)}
}

// Main returns the "main" port's output, falling back to the first live
// port when a flow-control node has no "main".
func (r Result) Main() Output {
	if out, ok := r[PortMain]; ok {
		return out
	}
	for _, name := range sortedPorts(r) {
		out := r[name]
		if !out.IsNoOutput() {
			return out
		}
	}
	return NoOutput()
}

func sortedPorts(r Result) []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
