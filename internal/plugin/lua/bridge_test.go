package lua

import (
	"reflect"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

type sampleNote struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	ReplyTo   string    `json:"replyTo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func TestBridgeToLuaPrimitives(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	b := NewBridge(L)

	tests := []struct {
		name string
		in   any
		want glua.LValue
	}{
		{"nil", nil, glua.LNil},
		{"bool", true, glua.LTrue},
		{"string", "hi", glua.LString("hi")},
		{"int", 3, glua.LNumber(3)},
		{"int64", int64(4), glua.LNumber(4)},
		{"float", 1.5, glua.LNumber(1.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.ToLua(tt.in)
			if err != nil {
				t.Fatalf("ToLua error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ToLua(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestBridgeToLuaStruct(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	b := NewBridge(L)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lv, err := b.ToLua(sampleNote{ID: "n1", Content: "Hello", CreatedAt: created})
	if err != nil {
		t.Fatalf("ToLua error = %v", err)
	}
	tbl, ok := lv.(*glua.LTable)
	if !ok {
		t.Fatalf("ToLua returned %T, want table", lv)
	}

	if got, _ := TableString(tbl, "content"); got != "Hello" {
		t.Errorf("content = %q", got)
	}
	if got, _ := TableString(tbl, "createdAt"); got != "2024-05-01T12:00:00Z" {
		t.Errorf("createdAt = %q", got)
	}
	if v := tbl.RawGetString("replyTo"); v != glua.LNil {
		t.Errorf("omitted field present: %v", v)
	}
	if v := tbl.RawGetString("Content"); v != glua.LNil {
		t.Error("Go field names should not leak into Lua")
	}
}

func TestBridgeToGoTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	b := NewBridge(L)

	if err := L.DoString(`value = {content = "Hi", count = 2, ratio = 0.5, tags = {"a", "b"}, ok = true}`); err != nil {
		t.Fatal(err)
	}

	got := b.ToGo(L.GetGlobal("value"))
	want := map[string]any{
		"content": "Hi",
		"count":   int64(2),
		"ratio":   0.5,
		"tags":    []any{"a", "b"},
		"ok":      true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ToGo = %#v, want %#v", got, want)
	}
}

func TestBridgeToGoSparseTableIsMap(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	b := NewBridge(L)

	if err := L.DoString(`value = {[1] = "a", [3] = "c"}`); err != nil {
		t.Fatal(err)
	}
	got, ok := b.ToGo(L.GetGlobal("value")).(map[string]any)
	if !ok {
		t.Fatalf("sparse table should convert to a map")
	}
	if got["1"] != "a" || got["3"] != "c" {
		t.Errorf("ToGo = %v", got)
	}
}

func TestBridgeToGoEmptyTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	b := NewBridge(L)

	got := b.ToGo(L.NewTable())
	if m, ok := got.(map[string]any); !ok || len(m) != 0 {
		t.Errorf("ToGo(empty) = %#v, want empty map", got)
	}
}

func TestBridgeToGoCircular(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	b := NewBridge(L)

	if err := L.DoString(`value = {name = "x"} value.self = value`); err != nil {
		t.Fatal(err)
	}
	got := b.ToGo(L.GetGlobal("value")).(map[string]any)
	if got["name"] != "x" {
		t.Errorf("name = %v", got["name"])
	}
	if got["self"] != nil {
		t.Errorf("self = %v, want nil", got["self"])
	}
}

func TestBridgeToGoFunctionIsNil(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	b := NewBridge(L)

	if err := L.DoString(`function f() end`); err != nil {
		t.Fatal(err)
	}
	if got := b.ToGo(L.GetGlobal("f")); got != nil {
		t.Errorf("ToGo(function) = %v, want nil", got)
	}
}

func TestBridgeRoundTripMap(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	b := NewBridge(L)

	in := map[string]any{"user": map[string]any{"name": "ana"}, "ids": []any{int64(1), int64(2)}}
	lv, err := b.ToLua(in)
	if err != nil {
		t.Fatal(err)
	}
	if got := b.ToGo(lv); !reflect.DeepEqual(got, in) {
		t.Errorf("round trip = %#v, want %#v", got, in)
	}
}

func TestTableBool(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	tbl := L.NewTable()
	tbl.RawSetString("cancel", glua.LTrue)
	if !TableBool(tbl, "cancel") {
		t.Error("TableBool(cancel) = false")
	}
	if TableBool(tbl, "missing") {
		t.Error("TableBool(missing) = true")
	}
}
