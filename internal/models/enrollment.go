package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EnrollmentStatus mirrors the external enrollment source states.
type EnrollmentStatus string

const (
	EnrollmentStatusActive   EnrollmentStatus = "active"
	EnrollmentStatusStopped  EnrollmentStatus = "stopped"
	EnrollmentStatusFinished EnrollmentStatus = "finished"
)

// EligiblePair is one (student, group) membership that qualifies for a
// billing month, joined with the denormalized identity the snapshot
// captures at creation time.
type EligiblePair struct {
	StudentID    string          `db:"student_id" json:"student_id"`
	StudentName  string          `db:"student_name" json:"student_name"`
	StudentPhone string          `db:"student_phone" json:"student_phone"`
	GroupID      string          `db:"group_id" json:"group_id"`
	GroupName    string          `db:"group_name" json:"group_name"`
	Subject      string          `db:"subject" json:"subject"`
	TeacherName  string          `db:"teacher_name" json:"teacher_name"`
	GroupPrice   decimal.Decimal `db:"group_price" json:"group_price"`
	JoinedAt     time.Time       `db:"joined_at" json:"joined_at"`

	// MonthlyStatus is the most recent attendance-system status at or
	// before the billing month; defaults to active when none is recorded.
	MonthlyStatus MonthlyStatus `db:"monthly_status" json:"monthly_status"`
}

// LateJoinCandidate is an eligible pair discovered after the month's
// snapshot batch was generated.
type LateJoinCandidate struct {
	EligiblePair
	// HasActivity is true when the pair already has attendance or ledger
	// rows for the month, i.e. the student actually started.
	HasActivity bool `db:"has_activity" json:"has_activity"`
}
