package video

import (
	"fmt"
	"strings"
	"time"
)

// FilterSet holds the optional AND-predicates applied to candidates before scoring
type FilterSet struct {
	Quality     string     `json:"quality,omitempty" validate:"omitempty,oneof=sd hd fhd uhd"`
	MinDuration *int       `json:"min_duration,omitempty" validate:"omitempty,min=0"`
	MaxDuration *int       `json:"max_duration,omitempty" validate:"omitempty,min=0"`
	DateFrom    *time.Time `json:"date_from,omitempty"`
	DateTo      *time.Time `json:"date_to,omitempty"`
	Channel     string     `json:"channel,omitempty" validate:"max=255"`
}

// Validate rejects malformed or contradictory filter values
func (f FilterSet) Validate() error {
	f.Quality = NormalizeQuality(f.Quality)
	if err := Validate(f); err != nil {
		return err
	}
	if f.MinDuration != nil && f.MaxDuration != nil && *f.MinDuration > *f.MaxDuration {
		return fmt.Errorf("%w: min_duration %d exceeds max_duration %d", ErrValidation, *f.MinDuration, *f.MaxDuration)
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return fmt.Errorf("%w: date_from is after date_to", ErrValidation)
	}
	return nil
}

// IsZero reports whether no filter is set
func (f FilterSet) IsZero() bool {
	return f.Quality == "" && f.MinDuration == nil && f.MaxDuration == nil &&
		f.DateFrom == nil && f.DateTo == nil && f.Channel == ""
}

// Match reports whether doc satisfies every filter that is present
func (f FilterSet) Match(doc Document) bool {
	if f.Quality != "" && NormalizeQuality(doc.Quality) != NormalizeQuality(f.Quality) {
		return false
	}
	if f.MinDuration != nil && doc.DurationSeconds < *f.MinDuration {
		return false
	}
	if f.MaxDuration != nil && doc.DurationSeconds > *f.MaxDuration {
		return false
	}
	if f.DateFrom != nil && doc.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && doc.CreatedAt.After(*f.DateTo) {
		return false
	}
	if ch := strings.TrimSpace(f.Channel); ch != "" &&
		!strings.Contains(strings.ToLower(doc.ChannelName), strings.ToLower(ch)) {
		return false
	}
	return true
}

// Snapshot renders the filters that are set as a flat string map for the query log
func (f FilterSet) Snapshot() map[string]string {
	if f.IsZero() {
		return nil
	}
	out := make(map[string]string)
	if f.Quality != "" {
		out["quality"] = NormalizeQuality(f.Quality)
	}
	if f.MinDuration != nil {
		out["min_duration"] = fmt.Sprint(*f.MinDuration)
	}
	if f.MaxDuration != nil {
		out["max_duration"] = fmt.Sprint(*f.MaxDuration)
	}
	if f.DateFrom != nil {
		out["date_from"] = f.DateFrom.UTC().Format(time.RFC3339)
	}
	if f.DateTo != nil {
		out["date_to"] = f.DateTo.UTC().Format(time.RFC3339)
	}
	if f.Channel != "" {
		out["channel"] = f.Channel
	}
	return out
}
