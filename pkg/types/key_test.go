package types

import (
	"strings"
	"testing"
)

func TestParseKey(t *testing.T) {
	k, err := ParseKey("db.schema.table")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(k) != 3 || k[0] != "db" || k[2] != "table" {
		t.Errorf("unexpected elements: %v", k)
	}
	if k.String() != "db.schema.table" {
		t.Errorf("string form %q", k.String())
	}
	if k.Name() != "table" {
		t.Errorf("name %q", k.Name())
	}
	if k.Namespace().String() != "db.schema" {
		t.Errorf("namespace %q", k.Namespace().String())
	}
}

func TestKeyValidate(t *testing.T) {
	long := strings.Repeat("a", MaxKeyElementLen+1)
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"simple", NewKey("a"), false},
		{"nested", NewKey("a", "b", "c"), false},
		{"empty", Key{}, true},
		{"empty element", NewKey("a", "", "c"), true},
		{"element too long", NewKey(long), true},
		{"control char", NewKey("a\x00b"), true},
		{"newline", NewKey("a\nb"), true},
		{"too many elements", make(Key, MaxKeyElements+1), true},
	}
	for i := range tests[len(tests)-1].key {
		tests[len(tests)-1].key[i] = "x"
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKeyCompare(t *testing.T) {
	tests := []struct {
		a, b Key
		want int
	}{
		{NewKey("a"), NewKey("a"), 0},
		{NewKey("a"), NewKey("b"), -1},
		{NewKey("b"), NewKey("a"), 1},
		{NewKey("a"), NewKey("a", "b"), -1},
		{NewKey("a", "b"), NewKey("a"), 1},
		{NewKey("a", "b"), NewKey("a", "c"), -1},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestKeyHasPrefix(t *testing.T) {
	k := NewKey("db", "schema", "table")
	if !k.HasPrefix(NewKey("db")) || !k.HasPrefix(NewKey("db", "schema")) || !k.HasPrefix(k) {
		t.Error("expected prefixes not matched")
	}
	if k.HasPrefix(NewKey("db", "other")) {
		t.Error("non-prefix matched")
	}
	if k.HasPrefix(NewKey("db", "schema", "table", "x")) {
		t.Error("longer key treated as prefix")
	}
}
