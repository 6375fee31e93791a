package canonicalize

import (
	"fmt"
	"strings"
	"time"
)

// timestampLayout is the canonical wire format required by spec §4.1:
// "YYYY-MM-DDTHH:MM:SS.sssZ" — UTC, millisecond precision, always "Z".
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp wraps time.Time so every JSON encoding of it — whether for
// hashing, signing, or wire transport — uses the exact canonical form,
// independent of time.Time's own (variable-precision) MarshalJSON.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates to millisecond precision and normalizes to UTC,
// matching the canonical form exactly.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC().Truncate(time.Millisecond)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(timestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		// Tolerate RFC3339Nano on the read path (e.g. values produced
		// before this type existed) but always re-emit canonical form.
		parsed, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("canonicalize: invalid timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC().Truncate(time.Millisecond)
	return nil
}

// String renders the canonical form.
func (t Timestamp) String() string {
	return t.UTC().Format(timestampLayout)
}
