package tokenize

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", []string{}},
		{"whitespace only", "  \t\n ", []string{}},
		{"lowercases", "Cats Playing PIANO", []string{"cats", "playing", "piano"}},
		{"strips punctuation", "Hello, world!!", []string{"hello", "world"}},
		{"apostrophe joins", "don't stop", []string{"dont", "stop"}},
		{"symbols separate", "rock&roll / jazz", []string{"rock", "roll", "jazz"}},
		{"digits kept", "Top 10 tips", []string{"top", "10", "tips"}},
		{"fullwidth folds", "ＰＩＡＮＯ", []string{"piano"}},
		{"unicode letters", "Café Música", []string{"café", "música"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	input := "The Quick, Brown Fox!"
	first := Normalize(input)
	for i := 0; i < 10; i++ {
		if got := Normalize(input); !reflect.DeepEqual(got, first) {
			t.Fatalf("Normalize not deterministic: %q vs %q", got, first)
		}
	}
}

func TestNormalizeQuery(t *testing.T) {
	if got := NormalizeQuery("  Piano   Tutorial!! "); got != "piano tutorial" {
		t.Errorf("NormalizeQuery = %q, want %q", got, "piano tutorial")
	}
	if got := NormalizeQuery("?!"); got != "" {
		t.Errorf("NormalizeQuery of punctuation = %q, want empty", got)
	}
}

func TestUnique(t *testing.T) {
	got := Unique([]string{"a", "b", "a", "c", "b"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Unique = %q, want %q", got, want)
	}
}
