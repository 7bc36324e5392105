package main

import (
	"reflect"
	"testing"
)

func TestParsePayload(t *testing.T) {
	got := parsePayload([]string{"42", "true", "hello", "{a: 1}", "[x, y]", "", "1.5"})
	want := []any{
		42,
		true,
		"hello",
		map[string]any{"a": 1},
		[]any{"x", "y"},
		"",
		1.5,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parsePayload() = %#v, want %#v", got, want)
	}
}

func TestStringList(t *testing.T) {
	var s stringList
	_ = s.Set("a.lua")
	_ = s.Set("b.lua")
	if s.String() != "a.lua,b.lua" {
		t.Errorf("String() = %q", s.String())
	}
}
