package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonthlyStatus is the enrollment state captured for a billing month.
type MonthlyStatus string

const (
	MonthlyStatusActive   MonthlyStatus = "active"
	MonthlyStatusStopped  MonthlyStatus = "stopped"
	MonthlyStatusFinished MonthlyStatus = "finished"
)

// Valid returns true when the status is a supported value.
func (s MonthlyStatus) Valid() bool {
	switch s {
	case MonthlyStatusActive, MonthlyStatusStopped, MonthlyStatusFinished:
		return true
	default:
		return false
	}
}

// PaymentStatus is derived from paid vs effective required amounts.
type PaymentStatus string

const (
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusPartial  PaymentStatus = "partial"
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusInactive PaymentStatus = "inactive"
)

// Valid returns true when the status is a supported value.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusPartial, PaymentStatusUnpaid, PaymentStatusInactive:
		return true
	default:
		return false
	}
}

// DiscountType distinguishes percentage and fixed-amount discounts.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeAmount  DiscountType = "amount"
)

// Valid returns true when the type is a supported value.
func (t DiscountType) Valid() bool {
	return t == DiscountTypePercent || t == DiscountTypeAmount
}

// MonthlySnapshot is the frozen billing record for one (month, student,
// group) pair. Identity fields are denormalized at creation time and
// never re-derived from the live directory tables.
type MonthlySnapshot struct {
	ID        string `db:"id" json:"id"`
	Month     string `db:"month" json:"month"`
	StudentID string `db:"student_id" json:"student_id"`
	GroupID   string `db:"group_id" json:"group_id"`

	StudentName  string `db:"student_name" json:"student_name"`
	StudentPhone string `db:"student_phone" json:"student_phone"`
	GroupName    string `db:"group_name" json:"group_name"`
	Subject      string `db:"subject" json:"subject"`
	TeacherName  string `db:"teacher_name" json:"teacher_name"`

	MonthlyStatus MonthlyStatus `db:"monthly_status" json:"monthly_status"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`

	RequiredAmount decimal.Decimal `db:"required_amount" json:"required_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	PaidAmount     decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	DebtAmount     decimal.Decimal `db:"debt_amount" json:"debt_amount"`

	TotalLessons         int     `db:"total_lessons" json:"total_lessons"`
	AttendedLessons      int     `db:"attended_lessons" json:"attended_lessons"`
	AttendancePercentage float64 `db:"attendance_percentage" json:"attendance_percentage"`

	LastPaymentDate *time.Time `db:"last_payment_date" json:"last_payment_date,omitempty"`
	PaymentMadeBy   *string    `db:"payment_made_by" json:"payment_made_by,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EffectiveRequired is the group price minus the discount for the month.
func (s *MonthlySnapshot) EffectiveRequired() decimal.Decimal {
	return s.RequiredAmount.Sub(s.DiscountAmount)
}

// DerivePaymentStatus computes the payment status from the amounts. A
// non-active monthly status forces inactive regardless of the amounts.
func DerivePaymentStatus(paid, effectiveRequired decimal.Decimal, monthly MonthlyStatus) PaymentStatus {
	if monthly != MonthlyStatusActive {
		return PaymentStatusInactive
	}
	if paid.GreaterThanOrEqual(effectiveRequired) {
		return PaymentStatusPaid
	}
	if paid.IsPositive() {
		return PaymentStatusPartial
	}
	return PaymentStatusUnpaid
}

// Recalculate rederives debt and payment status from the stored amounts.
func (s *MonthlySnapshot) Recalculate() {
	effective := s.EffectiveRequired()
	s.DebtAmount = effective.Sub(s.PaidAmount)
	s.PaymentStatus = DerivePaymentStatus(s.PaidAmount, effective, s.MonthlyStatus)
}

// PaymentTransaction is an append-only ledger entry. Rows are never
// updated and only removed by a month-wide purge.
type PaymentTransaction struct {
	ID        string          `db:"id" json:"id"`
	StudentID string          `db:"student_id" json:"student_id"`
	GroupID   string          `db:"group_id" json:"group_id"`
	Month     string          `db:"month" json:"month"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Method    string          `db:"method" json:"method"`
	Note      *string         `db:"note" json:"note,omitempty"`
	CreatedBy string          `db:"created_by" json:"created_by"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// PaymentTotal is the per-(student, group, month) aggregate cache row
// maintained in lockstep with the ledger.
type PaymentTotal struct {
	StudentID       string          `db:"student_id" json:"student_id"`
	GroupID         string          `db:"group_id" json:"group_id"`
	Month           string          `db:"month" json:"month"`
	RequiredAmount  decimal.Decimal `db:"required_amount" json:"required_amount"`
	PaidAmount      decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	LastPaymentDate *time.Time      `db:"last_payment_date" json:"last_payment_date,omitempty"`
}

// DiscountRule is a time-ranged discount for a (student, group) pair.
// Multiple active rules may cover the same month; their values are summed.
type DiscountRule struct {
	ID            string          `db:"id" json:"id"`
	StudentID     string          `db:"student_id" json:"student_id"`
	GroupID       string          `db:"group_id" json:"group_id"`
	DiscountType  DiscountType    `db:"discount_type" json:"discount_type"`
	DiscountValue decimal.Decimal `db:"discount_value" json:"discount_value"`
	StartMonth    string          `db:"start_month" json:"start_month"`
	EndMonth      string          `db:"end_month" json:"end_month"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	Description   *string         `db:"description" json:"description,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Amount resolves the rule against a required amount.
func (r *DiscountRule) Amount(required decimal.Decimal) decimal.Decimal {
	if r.DiscountType == DiscountTypePercent {
		return required.Mul(r.DiscountValue).Div(decimal.NewFromInt(100))
	}
	return r.DiscountValue
}

// SumDiscounts resolves every active rule against the required amount and
// sums the results.
func SumDiscounts(rules []DiscountRule, required decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for i := range rules {
		total = total.Add(rules[i].Amount(required))
	}
	return total
}

// SnapshotUpdate is a partial snapshot patch; nil fields stay untouched
// and dependent fields are rederived after the patch is applied.
type SnapshotUpdate struct {
	MonthlyStatus        *MonthlyStatus
	RequiredAmount       *decimal.Decimal
	PaidAmount           *decimal.Decimal
	AttendancePercentage *float64
}

// SnapshotFilter scopes snapshot listing, export and summaries.
type SnapshotFilter struct {
	Month         string
	GroupID       string
	MonthlyStatus MonthlyStatus
	PaymentStatus PaymentStatus
	Teacher       string
	Subject       string
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}

// SnapshotSummary aggregates a month's snapshot rows.
type SnapshotSummary struct {
	TotalRecords  int             `db:"total_records" json:"total_records"`
	PaidCount     int             `db:"paid_count" json:"paid_count"`
	PartialCount  int             `db:"partial_count" json:"partial_count"`
	UnpaidCount   int             `db:"unpaid_count" json:"unpaid_count"`
	InactiveCount int             `db:"inactive_count" json:"inactive_count"`
	TotalRequired decimal.Decimal `db:"total_required" json:"total_required"`
	TotalDiscount decimal.Decimal `db:"total_discount" json:"total_discount"`
	TotalPaid     decimal.Decimal `db:"total_paid" json:"total_paid"`
	TotalDebt     decimal.Decimal `db:"total_debt" json:"total_debt"`
}

// GenerationResult reports a successful snapshot batch creation.
type GenerationResult struct {
	Month          string          `json:"month"`
	CreatedRecords int             `json:"created_records"`
	Summary        SnapshotSummary `json:"summary"`
}

// GenerationDiagnostics explains why no snapshot rows could be created.
type GenerationDiagnostics struct {
	EligibleGroups int `json:"eligible_groups"`
	EligibleLinks  int `json:"eligible_links"`
}

// PurgeResult carries per-table deletion counts for a month-wide purge.
type PurgeResult struct {
	Snapshots     int64 `json:"snapshots"`
	Payments      int64 `json:"payments"`
	PaymentTotals int64 `json:"payment_totals"`
	DiscountRules int64 `json:"discount_rules"`
}

// PaymentResult is the updated monetary state after a payment.
type PaymentResult struct {
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	DebtAmount    decimal.Decimal `json:"debt_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
}

// DiscountResult is the updated monetary state after a discount.
type DiscountResult struct {
	OriginalAmount    decimal.Decimal `json:"original_amount"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	EffectiveRequired decimal.Decimal `json:"effective_required"`
	DebtAmount        decimal.Decimal `json:"debt_amount"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
}

// PaymentFilter scopes ledger listing.
type PaymentFilter struct {
	StudentID string
	GroupID   string
	Month     string
	Page      int
	PageSize  int
}

// GroupBillingBreakdown aggregates a month's snapshots per group.
type GroupBillingBreakdown struct {
	GroupID       string          `db:"group_id" json:"group_id"`
	GroupName     string          `db:"group_name" json:"group_name"`
	Students      int             `db:"students" json:"students"`
	TotalRequired decimal.Decimal `db:"total_required" json:"total_required"`
	TotalPaid     decimal.Decimal `db:"total_paid" json:"total_paid"`
	TotalDebt     decimal.Decimal `db:"total_debt" json:"total_debt"`
}

// PaymentMethodTotal aggregates ledger rows per payment method.
type PaymentMethodTotal struct {
	Method string          `db:"method" json:"method"`
	Count  int             `db:"count" json:"count"`
	Total  decimal.Decimal `db:"total" json:"total"`
}

// MonthBillingSummary is the cached per-month overview.
type MonthBillingSummary struct {
	Month         string                  `json:"month"`
	Summary       SnapshotSummary         `json:"summary"`
	Groups        []GroupBillingBreakdown `json:"groups"`
	MethodTotals  []PaymentMethodTotal    `json:"method_totals"`
	TotalDiscount decimal.Decimal         `json:"total_discount"`
}
