package habit

import "time"

const dateLayout = "2006-01-02"

// DateKey is a canonical calendar day (YYYY-MM-DD). All scheduling works on
// day identity, never on instants; converting wall-clock time to a DateKey
// happens once, upstream of the engine.
type DateKey string

func ParseDateKey(s string) (DateKey, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD, got " + quote(s)}
	}
	// Reject non-canonical spellings that time.Parse would still accept.
	if t.Format(dateLayout) != s {
		return "", &ValidationError{Field: "date", Reason: "non-canonical date " + quote(s)}
	}
	return DateKey(s), nil
}

// DateKeyOf takes the calendar day of t in t's own location.
func DateKeyOf(t time.Time) DateKey {
	return DateKey(t.Format(dateLayout))
}

func (d DateKey) String() string { return string(d) }

// Valid reports whether d is a canonical YYYY-MM-DD key.
func (d DateKey) Valid() bool {
	_, err := ParseDateKey(string(d))
	return err == nil
}

// Time returns midnight UTC of the day.
//
// d must come from ParseDateKey or DateKeyOf. Any other value maps to the
// zero time, so day arithmetic on it lands in year 1; every boundary
// (HTTP params, CLI flags, store rows) parses before reaching here.
func (d DateKey) Time() time.Time {
	t, _ := time.Parse(dateLayout, string(d))
	return t
}

func (d DateKey) Weekday() time.Weekday {
	return d.Time().Weekday()
}

// AddDays shifts a valid key by n calendar days. See Time for invalid keys.
func (d DateKey) AddDays(n int) DateKey {
	return DateKeyOf(d.Time().AddDate(0, 0, n))
}

// checkDate guards engine entry points against keys that skipped ParseDateKey.
func checkDate(d DateKey) error {
	if !d.Valid() {
		return &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD, got " + quote(string(d))}
	}
	return nil
}

// Canonical keys order lexically.
func (d DateKey) Before(o DateKey) bool { return d < o }
func (d DateKey) After(o DateKey) bool  { return d > o }

func maxDate(a, b DateKey) DateKey {
	if a.After(b) {
		return a
	}
	return b
}

func minDate(a, b DateKey) DateKey {
	if a.Before(b) {
		return a
	}
	return b
}

func quote(s string) string { return `"` + s + `"` }
