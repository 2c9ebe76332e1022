package types

import (
	"strings"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash("Commit", []byte("payload"))
	b := Hash("Commit", []byte("payload"))
	if a != b {
		t.Errorf("same input produced different ids: %s vs %s", a, b)
	}
	c := Hash("Content", []byte("payload"))
	if a == c {
		t.Error("different domain tags produced the same id")
	}
	d := Hash("Commit", []byte("other"))
	if a == d {
		t.Error("different payloads produced the same id")
	}
}

func TestParseIDRoundTrip(t *testing.T) {
	id := Hash("Commit", []byte("x"))
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip mismatch: %s vs %s", parsed, id)
	}
}

func TestParseIDErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "abcd"},
		{"odd length", "abc"},
		{"not hex", strings.Repeat("zz", 32)},
		{"too long", strings.Repeat("ab", 33)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseID(tt.input); err == nil {
				t.Errorf("ParseID(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestIDCompare(t *testing.T) {
	var a, b ID
	a[0] = 1
	b[0] = 2
	if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a) != 0 {
		t.Error("compare ordering wrong")
	}
	if !(ID{}).IsZero() {
		t.Error("zero id not reported as zero")
	}
	if a.IsZero() {
		t.Error("non-zero id reported as zero")
	}
}

func TestHasherPureFunction(t *testing.T) {
	mk := func() ID {
		return NewHasher("ContentSnapshot").Str("s3://wh/t/v1.json").Int64(42).Generate()
	}
	if mk() != mk() {
		t.Error("hasher is not deterministic")
	}

	other := NewHasher("ContentSnapshot").Str("s3://wh/t/v1.json").Int64(43).Generate()
	if mk() == other {
		t.Error("different field values produced the same derived id")
	}
}

func TestHasherFieldBoundaries(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must hash differently.
	a := NewHasher("T").Str("ab").Str("c").Generate()
	b := NewHasher("T").Str("a").Str("bc").Generate()
	if a == b {
		t.Error("field boundaries leak: shifted strings hash equal")
	}
}
