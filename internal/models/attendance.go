package models

import "time"

// LessonStatus is the per-lesson attendance mark.
type LessonStatus string

const (
	LessonStatusPresent LessonStatus = "present"
	LessonStatusAbsent  LessonStatus = "absent"
	LessonStatusLate    LessonStatus = "late"
	LessonStatusExcused LessonStatus = "excused"
	// LessonStatusNotMarked is the sentinel for lessons inside the month
	// that have no recorded mark yet.
	LessonStatusNotMarked LessonStatus = "not_marked"
)

// Attended reports whether the status counts toward attended lessons.
func (s LessonStatus) Attended() bool {
	return s == LessonStatusPresent || s == LessonStatusLate
}

// AttendanceCounters aggregates a student's attendance for one month.
type AttendanceCounters struct {
	TotalLessons    int     `db:"total_lessons" json:"total_lessons"`
	AttendedLessons int     `db:"attended_lessons" json:"attended_lessons"`
	Percentage      float64 `db:"percentage" json:"percentage"`
}

// LessonAttendanceEntry is one lesson in the per-lesson breakdown.
// Status is nil for lessons dated before the student's join date; those
// lessons are excluded from the counters.
type LessonAttendanceEntry struct {
	LessonID   string        `db:"lesson_id" json:"lesson_id"`
	LessonDate time.Time     `db:"lesson_date" json:"lesson_date"`
	Status     *LessonStatus `db:"status" json:"status"`
}

// Attendance report sources.
const (
	AttendanceSourceSnapshot = "snapshot"
	AttendanceSourceLive     = "live"
)

// AttendanceReport answers "how did this student attend in month M",
// either frozen from the snapshot or computed live.
type AttendanceReport struct {
	Source    string                  `json:"source"`
	Month     string                  `json:"month"`
	StudentID string                  `json:"student_id"`
	GroupID   string                  `json:"group_id"`
	Counters  AttendanceCounters      `json:"counters"`
	Lessons   []LessonAttendanceEntry `json:"lessons,omitempty"`
}
