package merkle

import (
	"time"

	"github.com/google/uuid"
)

// DailyRoot summarizes one company-day of chain events. Rebuilding over the
// same event set yields the same root; the row is upserted on
// (company_id, date).
type DailyRoot struct {
	ID         uuid.UUID
	CompanyID  uuid.UUID
	Date       time.Time // UTC midnight of the covered day
	RootHash   string
	EventCount int
	BuiltAt    time.Time
	// Provisional marks a root built before the day's event window closed.
	// A provisional root is re-computable, not authoritative, and must not
	// be notarized.
	Provisional bool
}

// Day normalizes t to the UTC midnight identifying its day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the inclusive [start, end] timestamp range of date's day.
func DayWindow(date time.Time) (time.Time, time.Time) {
	start := Day(date)
	return start, start.Add(24*time.Hour - time.Nanosecond)
}
