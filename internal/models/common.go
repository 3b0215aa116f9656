package models

import (
	"regexp"
	"time"
)

// Pagination carries list metadata in responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ValidMonth reports whether raw is a well-formed YYYY-MM month key.
func ValidMonth(raw string) bool {
	return monthPattern.MatchString(raw)
}

// MonthRange returns the first instant of the month and the first instant
// of the following month. The caller must have validated the month first.
func MonthRange(month string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 1, 0), nil
}

// MonthOf formats a timestamp as a YYYY-MM month key.
func MonthOf(t time.Time) string {
	return t.Format("2006-01")
}
