package backend

import (
	"encoding/json"
	"testing"
)

func TestMergeParentOverridesChildren(t *testing.T) {
	fields := map[string]json.RawMessage{
		"unread.A": json.RawMessage("3"),
		"unread.B": json.RawMessage("1"),
		"name":     json.RawMessage(`"x"`),
	}
	Merge(fields, map[string]json.RawMessage{"unread": json.RawMessage(`{"A":0}`)})
	if _, ok := fields["unread.A"]; ok {
		t.Fatal("child field should be replaced by parent write")
	}
	Merge(fields, map[string]json.RawMessage{"name.first": json.RawMessage(`"y"`)})
	doc := &Document{Fields: fields}
	var out struct {
		Unread map[string]int `json:"unread"`
		Name   struct {
			First string `json:"first"`
		} `json:"name"`
	}
	if err := doc.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Unread["A"] != 0 || out.Name.First != "y" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestDocumentAccessors(t *testing.T) {
	doc := &Document{Fields: map[string]json.RawMessage{
		"n":     json.RawMessage("42"),
		"s":     json.RawMessage(`"hello"`),
		"users": json.RawMessage(`["A","B"]`),
	}}
	if doc.Int("n") != 42 || doc.Int("missing") != 0 || doc.Int("s") != 0 {
		t.Fatal("Int accessor")
	}
	if doc.String("s") != "hello" || doc.String("n") != "" {
		t.Fatal("String accessor")
	}
	if got := doc.Strings("users"); len(got) != 2 || got[1] != "B" {
		t.Fatalf("Strings accessor %v", got)
	}
	clone := doc.Clone()
	clone.Fields["n"][0] = '9'
	if doc.Int("n") != 42 {
		t.Fatal("clone shares memory")
	}
}

func TestPrepareRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		m    Mutation
	}{
		{"empty key", Upsert("users", "", Fields{"a": 1})},
		{"bad field", Upsert("users", "U1", Fields{"a..b": 1})},
		{"unencodable", Upsert("users", "U1", Fields{"ch": make(chan int)})},
		{"empty increment field", Increment("users", "U1", "", 1)},
		{"unknown op", Mutation{Op: MutationOp(99), Collection: "users", Key: "U1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Prepare([]Mutation{tt.m}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSortedTargetsDedupes(t *testing.T) {
	prepared, err := Prepare([]Mutation{
		Upsert("chats", "B_C", Fields{"x": 1}),
		Increment("chats", "A_B", "unread.B", 1),
		Upsert("chats", "B_C", Fields{"y": 1}),
	})
	if err != nil {
		t.Fatal(err)
	}
	targets := SortedTargets(prepared)
	if len(targets) != 2 || targets[0][1] != "A_B" || targets[1][1] != "B_C" {
		t.Fatalf("targets %v", targets)
	}
}
