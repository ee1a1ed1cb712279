package item

import (
	"encoding/json"
	"testing"
)

func TestClone_Independence(t *testing.T) {
	orig := New(map[string]any{
		"user": map[string]any{"name": "ada"},
		"tags": []any{"a", "b"},
	})

	cp := orig.Clone()
	cp.JSON["user"].(map[string]any)["name"] = "grace"
	cp.JSON["tags"].([]any)[0] = "z"

	if orig.JSON["user"].(map[string]any)["name"] != "ada" {
		t.Errorf("clone mutation leaked into original map")
	}
	if orig.JSON["tags"].([]any)[0] != "a" {
		t.Errorf("clone mutation leaked into original slice")
	}
}

func TestWithField(t *testing.T) {
	orig := New(map[string]any{"x": 1})
	next := orig.WithField("y", 2)

	if _, ok := orig.JSON["y"]; ok {
		t.Errorf("WithField mutated the original item")
	}
	if next.JSON["y"] != 2 {
		t.Errorf("WithField did not set field, got %v", next.JSON)
	}
}

func TestFromJSONList_WrapsScalars(t *testing.T) {
	items := FromJSONList([]any{
		map[string]any{"a": 1},
		"plain",
		42,
	})

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].JSON["a"] != 1 {
		t.Errorf("object element not passed through: %v", items[0].JSON)
	}
	if items[1].JSON["value"] != "plain" {
		t.Errorf("scalar element not wrapped: %v", items[1].JSON)
	}
	if items[2].JSON["value"] != 42 {
		t.Errorf("numeric element not wrapped: %v", items[2].JSON)
	}
}

func TestOutput_NoOutputVsEmpty(t *testing.T) {
	dead := NoOutput()
	empty := NewOutput()

	if !dead.IsNoOutput() {
		t.Errorf("NoOutput() must report IsNoOutput")
	}
	if empty.IsNoOutput() {
		t.Errorf("empty output must not report IsNoOutput")
	}
	if dead.Len() != 0 || empty.Len() != 0 {
		t.Errorf("both variants must have zero length")
	}
	if empty.Items() == nil {
		t.Errorf("empty output items must be non-nil")
	}
	if dead.Items() != nil {
		t.Errorf("no-output items must be nil")
	}
}

func TestOutput_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		out      Output
		wantJSON string
	}{
		{"no output encodes null", NoOutput(), `null`},
		{"empty list encodes brackets", NewOutput(), `[]`},
		{"items encode as list", NewOutput(New(map[string]any{"v": "x"})), `[{"json":{"v":"x"}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.out)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.wantJSON {
				t.Errorf("marshal = %s, want %s", data, tt.wantJSON)
			}

			var back Output
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.IsNoOutput() != tt.out.IsNoOutput() {
				t.Errorf("IsNoOutput lost in round trip")
			}
			if back.Len() != tt.out.Len() {
				t.Errorf("length changed in round trip: got %d want %d", back.Len(), tt.out.Len())
			}
		})
	}
}

func TestResult_MainFallback(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want int
	}{
		{"main port wins", Result{PortMain: NewOutput(Empty(), Empty())}, 2},
		{"first live port when no main", Result{
			PortTrue:  NoOutput(),
			PortFalse: NewOutput(Empty()),
		}, 1},
		{"all dead yields no output", Result{PortTrue: NoOutput()}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.res.Main()
			if got.Len() != tt.want {
				t.Errorf("Main().Len() = %d, want %d", got.Len(), tt.want)
			}
		})
	}
}

func TestOutputPort(t *testing.T) {
	if OutputPort(0) != "output0" || OutputPort(14) != "output14" {
		t.Errorf("OutputPort naming broken: %s %s", OutputPort(0), OutputPort(14))
	}
}
