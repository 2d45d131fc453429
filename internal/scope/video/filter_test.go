package video

import (
	"errors"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestFilterSetValidate(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		filters FilterSet
		wantErr bool
	}{
		{"empty", FilterSet{}, false},
		{"quality ok", FilterSet{Quality: "HD"}, false},
		{"quality unknown", FilterSet{Quality: "8k"}, true},
		{"negative min duration", FilterSet{MinDuration: intPtr(-1)}, true},
		{"min above max", FilterSet{MinDuration: intPtr(600), MaxDuration: intPtr(60)}, true},
		{"duration range ok", FilterSet{MinDuration: intPtr(60), MaxDuration: intPtr(600)}, false},
		{"dates inverted", FilterSet{DateFrom: timePtr(now), DateTo: timePtr(now.Add(-time.Hour))}, true},
		{"dates ok", FilterSet{DateFrom: timePtr(now.Add(-time.Hour)), DateTo: timePtr(now)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filters.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Errorf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFilterSetMatch(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := Document{
		ID:              "v1",
		ChannelName:     "Piano Academy",
		Quality:         "HD",
		DurationSeconds: 300,
		CreatedAt:       created,
	}

	tests := []struct {
		name    string
		filters FilterSet
		want    bool
	}{
		{"no filters", FilterSet{}, true},
		{"quality case-insensitive", FilterSet{Quality: "hd"}, true},
		{"quality mismatch", FilterSet{Quality: "uhd"}, false},
		{"duration inside", FilterSet{MinDuration: intPtr(100), MaxDuration: intPtr(300)}, true},
		{"too short", FilterSet{MinDuration: intPtr(301)}, false},
		{"too long", FilterSet{MaxDuration: intPtr(299)}, false},
		{"date from", FilterSet{DateFrom: timePtr(created.Add(time.Hour))}, false},
		{"date to", FilterSet{DateTo: timePtr(created.Add(-time.Hour))}, false},
		{"channel substring", FilterSet{Channel: "academy"}, true},
		{"channel miss", FilterSet{Channel: "guitar"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.Match(doc); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDocumentValidate(t *testing.T) {
	if err := Validate(Document{Title: "no id"}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing id, got %v", err)
	}
	if err := Validate(Document{ID: "v1", Title: "ok", Quality: "fhd"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDocumentCloneAndEqual(t *testing.T) {
	doc := Document{ID: "v1", Keywords: []string{"a", "b"}}
	clone := doc.Clone()
	clone.Keywords[0] = "z"

	if doc.Keywords[0] != "a" {
		t.Error("clone shares keyword storage with original")
	}
	if doc.Equal(clone) {
		t.Error("documents with different keywords should not be equal")
	}
	if !doc.Equal(doc.Clone()) {
		t.Error("clone should equal original")
	}
}
