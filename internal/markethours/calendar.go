// Package markethours answers "is the regular trading session open at T".
// Holiday and early-close awareness is owned here; everything else in the
// system only sees the Calendar interface.
package markethours

import (
	"time"
)

// Calendar reports whether regular trading hours are open at a given instant.
type Calendar interface {
	IsOpen(t time.Time) bool
}

// Static is a fixed-answer calendar, used when RTH enforcement is disabled
// and in tests.
type Static bool

func (s Static) IsOpen(time.Time) bool { return bool(s) }

// XNYS models the NYSE session: 09:30-16:00 America/New_York, weekends and
// full-closure holidays out, 13:00 close on scheduled half days.
type XNYS struct {
	loc *time.Location
}

func NewXNYS() (*XNYS, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, err
	}
	return &XNYS{loc: loc}, nil
}

// Full-closure dates, yyyy-mm-dd in exchange time.
var holidays = map[string]bool{
	// 2024
	"2024-01-01": true, "2024-01-15": true, "2024-02-19": true,
	"2024-03-29": true, "2024-05-27": true, "2024-06-19": true,
	"2024-07-04": true, "2024-09-02": true, "2024-11-28": true,
	"2024-12-25": true,
	// 2025 (includes the Jan 9 national day of mourning)
	"2025-01-01": true, "2025-01-09": true, "2025-01-20": true,
	"2025-02-17": true, "2025-04-18": true, "2025-05-26": true,
	"2025-06-19": true, "2025-07-04": true, "2025-09-01": true,
	"2025-11-27": true, "2025-12-25": true,
	// 2026 (Jul 4 falls on Saturday, observed Jul 3)
	"2026-01-01": true, "2026-01-19": true, "2026-02-16": true,
	"2026-04-03": true, "2026-05-25": true, "2026-06-19": true,
	"2026-07-03": true, "2026-09-07": true, "2026-11-26": true,
	"2026-12-25": true,
}

// Scheduled 13:00 closes.
var earlyCloses = map[string]bool{
	"2024-07-03": true, "2024-11-29": true, "2024-12-24": true,
	"2025-07-03": true, "2025-11-28": true, "2025-12-24": true,
	"2026-11-27": true, "2026-12-24": true,
}

func (x *XNYS) IsOpen(t time.Time) bool {
	lt := t.In(x.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	day := lt.Format("2006-01-02")
	if holidays[day] {
		return false
	}
	open := time.Date(lt.Year(), lt.Month(), lt.Day(), 9, 30, 0, 0, x.loc)
	closeHour := 16
	if earlyCloses[day] {
		closeHour = 13
	}
	close := time.Date(lt.Year(), lt.Month(), lt.Day(), closeHour, 0, 0, 0, x.loc)
	return !lt.Before(open) && lt.Before(close)
}
