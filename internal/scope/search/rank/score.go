package rank

import (
	"math"
	"strings"
	"time"
)

// Score component constants
const (
	RelevanceScale = 10.0

	BonusExactTitle       = 50.0
	BonusTitlePrefix      = 30.0
	BonusTitleSubstring   = 15.0
	BonusExactKeyword     = 25.0
	BonusKeywordSubstring = 10.0
	BonusChannel          = 12.0
	BonusDescription      = 5.0

	PopularityFactor = 2.0
	PopularityCap    = 20.0
	EngagementFactor = 15.0
	EngagementCap    = 10.0

	RecencyWeek    = 8.0
	RecencyMonth   = 5.0
	RecencyQuarter = 2.0
)

const day = 24 * time.Hour

// Breakdown holds each independently bounded score component
type Breakdown struct {
	Relevance        float64 `json:"relevance"`
	ExactTitle       float64 `json:"exact_title"`
	TitlePrefix      float64 `json:"title_prefix"`
	TitleSubstring   float64 `json:"title_substring"`
	ExactKeyword     float64 `json:"exact_keyword"`
	KeywordSubstring float64 `json:"keyword_substring"`
	Channel          float64 `json:"channel"`
	Description      float64 `json:"description"`
	Popularity       float64 `json:"popularity"`
	Engagement       float64 `json:"engagement"`
	Recency          float64 `json:"recency"`
}

// Total sums every component
func (b Breakdown) Total() float64 {
	return b.Relevance + b.ExactTitle + b.TitlePrefix + b.TitleSubstring +
		b.ExactKeyword + b.KeywordSubstring + b.Channel + b.Description +
		b.Popularity + b.Engagement + b.Recency
}

// Relevance is the mean best field weight over the distinct query tokens, scaled to [0, 10].
// terms maps a document's tokens to their highest field weight.
func Relevance(queryTokens []string, terms map[string]float64) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(queryTokens))
	sum := 0.0
	for _, t := range queryTokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		sum += terms[t]
	}
	return math.Min(sum/float64(len(seen)), 1) * RelevanceScale
}

// ExactTitle scores a title equal to the query. Both arguments are folded.
func ExactTitle(title, query string) float64 {
	if query != "" && title == query {
		return BonusExactTitle
	}
	return 0
}

// TitlePrefix scores a title starting with the query
func TitlePrefix(title, query string) float64 {
	if query != "" && strings.HasPrefix(title, query) {
		return BonusTitlePrefix
	}
	return 0
}

// TitleSubstring scores a title containing the query anywhere
func TitleSubstring(title, query string) float64 {
	if query != "" && strings.Contains(title, query) {
		return BonusTitleSubstring
	}
	return 0
}

// ExactKeyword scores any keyword equal to the query
func ExactKeyword(keywords []string, query string) float64 {
	if query == "" {
		return 0
	}
	for _, kw := range keywords {
		if kw == query {
			return BonusExactKeyword
		}
	}
	return 0
}

// KeywordSubstring scores any keyword containing the query
func KeywordSubstring(keywords []string, query string) float64 {
	if query == "" {
		return 0
	}
	for _, kw := range keywords {
		if strings.Contains(kw, query) {
			return BonusKeywordSubstring
		}
	}
	return 0
}

// ChannelSubstring scores a channel name containing the query
func ChannelSubstring(channel, query string) float64 {
	if query != "" && strings.Contains(channel, query) {
		return BonusChannel
	}
	return 0
}

// DescriptionSubstring scores a description containing the query
func DescriptionSubstring(description, query string) float64 {
	if query != "" && strings.Contains(description, query) {
		return BonusDescription
	}
	return 0
}

// Popularity is min(ln(views+1)*2, 20). Negative views count as zero.
func Popularity(views int64) float64 {
	if views <= 0 {
		return 0
	}
	return math.Min(math.Log(float64(views)+1)*PopularityFactor, PopularityCap)
}

// Engagement is min(likes/views*15, 10) when views > 0. Negative likes count as zero.
func Engagement(views, likes int64) float64 {
	if views <= 0 || likes <= 0 {
		return 0
	}
	return math.Min(float64(likes)/float64(views)*EngagementFactor, EngagementCap)
}

// Recency awards +8 within 7 days, +5 within 30 and +2 within 90.
// Documents dated in the future count as new.
func Recency(created, now time.Time) float64 {
	age := now.Sub(created)
	switch {
	case age <= 7*day:
		return RecencyWeek
	case age <= 30*day:
		return RecencyMonth
	case age <= 90*day:
		return RecencyQuarter
	default:
		return 0
	}
}
