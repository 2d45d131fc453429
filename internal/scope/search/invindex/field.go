package invindex

// Field identifies which part of a document a token came from
type Field uint8

// Indexed fields, ordered by weight descending
const (
	FieldTitle Field = iota + 1
	FieldKeyword
	FieldChannel
	FieldDescription
)

// Fixed per-field weights: title > keyword > channel > description
const (
	WeightTitle       = 1.0
	WeightKeyword     = 0.4
	WeightChannel     = 0.2
	WeightDescription = 0.1
)

// Weight returns the constant weight for f
func (f Field) Weight() float64 {
	switch f {
	case FieldTitle:
		return WeightTitle
	case FieldKeyword:
		return WeightKeyword
	case FieldChannel:
		return WeightChannel
	case FieldDescription:
		return WeightDescription
	default:
		return 0
	}
}

func (f Field) String() string {
	switch f {
	case FieldTitle:
		return "title"
	case FieldKeyword:
		return "keyword"
	case FieldChannel:
		return "channel"
	case FieldDescription:
		return "description"
	default:
		return "unknown"
	}
}

// Valid reports whether f is one of the indexed fields
func (f Field) Valid() bool {
	return f >= FieldTitle && f <= FieldDescription
}
