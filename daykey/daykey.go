// Package daykey computes the calendar-day identifiers used to key the daily
// wallpaper cache. All dates are derived at a fixed UTC+8 reference offset so
// that wallpaper rotation agrees across clients regardless of their local
// timezone.
package daykey

import (
	"fmt"
	"time"
)

// Layout is the wire format of a day key.
const Layout = "2006-01-02"

// reference is the fixed offset used for all date derivation. Pinned rather
// than derived from the client zone so every user rolls over at the same
// instant.
var reference = time.FixedZone("UTC+8", 8*60*60)

// Today returns the day key for the given instant.
func Today(now time.Time) string {
	return now.In(reference).Format(Layout)
}

// Yesterday returns the day key for the calendar day before the given
// instant.
func Yesterday(now time.Time) string {
	return now.In(reference).AddDate(0, 0, -1).Format(Layout)
}

// SameDay reports whether two instants fall on the same reference-offset
// calendar day.
func SameDay(a, b time.Time) bool {
	return Today(a) == Today(b)
}

// UntilNextDay returns the duration from the given instant to the next
// reference-offset midnight.
func UntilNextDay(now time.Time) time.Duration {
	local := now.In(reference)
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, reference).AddDate(0, 0, 1)
	return next.Sub(local)
}

// Parse validates a day key and returns the reference-offset midnight it
// names.
func Parse(key string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, key, reference)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing day key %q: %w", key, err)
	}
	return t, nil
}
