package persistence

import (
	"time"

	"github.com/google/uuid"
)

// Converter translates a property value between its in-memory form and its
// persisted (JSON-serializable) form.
type Converter interface {
	Convert(value any) any
	ConvertBack(value any) any
}

// UUIDToStringConverter persists uuid.UUID values as canonical hex strings.
type UUIDToStringConverter struct{}

func (UUIDToStringConverter) Convert(value any) any {
	if id, ok := value.(uuid.UUID); ok {
		return id.String()
	}
	return nil
}

func (UUIDToStringConverter) ConvertBack(value any) any {
	if s, ok := value.(string); ok {
		if id, err := uuid.Parse(s); err == nil {
			return id
		}
	}
	return nil
}

const isoFormat = "2006-01-02T15:04:05.999999"

// DatetimeToStringConverter persists time.Time values as ISO-8601 strings
// without a zone suffix, matching the on-disk record format.
type DatetimeToStringConverter struct{}

func (DatetimeToStringConverter) Convert(value any) any {
	if t, ok := value.(time.Time); ok {
		return t.UTC().Format(isoFormat)
	}
	return nil
}

func (DatetimeToStringConverter) ConvertBack(value any) any {
	if s, ok := value.(string); ok {
		if t, err := time.Parse(isoFormat, s); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
	}
	return nil
}

// FormatTime renders a timestamp in the persisted record format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(isoFormat)
}

// ParseTime parses a persisted timestamp, returning the zero time on failure.
func ParseTime(s string) time.Time {
	if t, err := time.Parse(isoFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
