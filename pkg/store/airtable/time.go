package airtable

import (
	"fmt"
	"strings"
	"time"
)

// Time is an Airtable date field. Values written by this package are
// RFC 3339 in UTC; older records hold naive local strings such as
// "2025-03-11T18:00", which are flagged so the store can place them in
// its reference zone.
type Time struct {
	time.Time
	naive bool
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// UnmarshalJSON implements the json.Unmarshaler interface for Time.
func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time, t.naive = time.Time{}, false
		return nil
	}

	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time, t.naive = v.UTC(), false
		return nil
	}
	for _, layout := range naiveLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time, t.naive = v, true
			return nil
		}
	}
	return fmt.Errorf("failed to parse Airtable time string '%s'", s)
}

// MarshalJSON implements the json.Marshaler interface for Time. A zero
// time becomes null, which clears the field.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Time.UTC().Format(time.RFC3339) + `"`), nil
}

// Instant returns the instant, reading naive values as wall clock in loc.
func (t Time) Instant(loc *time.Location) *time.Time {
	if t.Time.IsZero() {
		return nil
	}
	v := t.Time
	if t.naive {
		v = time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), 0, loc)
	}
	v = v.UTC()
	return &v
}
