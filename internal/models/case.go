package models

import "time"

// CaseStatus enumerates the lifecycle states of a case.
type CaseStatus string

const (
	CaseStatusDraft       CaseStatus = "DRAFT"
	CaseStatusOpen        CaseStatus = "OPEN"
	CaseStatusInProgress  CaseStatus = "IN_PROGRESS"
	CaseStatusUnderReview CaseStatus = "UNDER_REVIEW"
	CaseStatusClosed      CaseStatus = "CLOSED"
	CaseStatusArchived    CaseStatus = "ARCHIVED"
	CaseStatusCancelled   CaseStatus = "CANCELLED"
)

// caseTransitions is the authoritative status graph. CANCELLED is terminal;
// ARCHIVED -> OPEN reopens a case.
var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusDraft:       {CaseStatusOpen, CaseStatusCancelled},
	CaseStatusOpen:        {CaseStatusInProgress, CaseStatusClosed, CaseStatusCancelled},
	CaseStatusInProgress:  {CaseStatusUnderReview, CaseStatusClosed, CaseStatusCancelled},
	CaseStatusUnderReview: {CaseStatusClosed, CaseStatusInProgress},
	CaseStatusClosed:      {CaseStatusArchived},
	CaseStatusArchived:    {CaseStatusOpen},
	CaseStatusCancelled:   {},
}

// CanTransition reports whether the edge from -> to exists in the status graph.
func CanTransition(from, to CaseStatus) bool {
	for _, next := range caseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidCaseStatus reports whether the value is a known status.
func ValidCaseStatus(s CaseStatus) bool {
	_, ok := caseTransitions[s]
	return ok
}

// PendingStatuses are the states that count toward a user's assignment load.
var PendingStatuses = []CaseStatus{CaseStatusOpen, CaseStatusInProgress, CaseStatusUnderReview}

// Case represents a judicial case file stored in the cases table.
type Case struct {
	ID              string     `db:"id" json:"id"`
	CaseNumber      string     `db:"case_number" json:"case_number"`
	Title           string     `db:"title" json:"title"`
	Description     string     `db:"description" json:"description,omitempty"`
	CaseType        string     `db:"case_type" json:"case_type"`
	Status          CaseStatus `db:"status" json:"status"`
	OwnerID         string     `db:"owner_id" json:"owner_id"`
	AssignedJudgeID *string    `db:"assigned_judge_id" json:"assigned_judge_id,omitempty"`
	ClosedAt        *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// CaseFilter captures filtering criteria for listing cases. Scope carries
// the authorization constraint and is always applied in SQL.
type CaseFilter struct {
	Status   *CaseStatus
	CaseType string
	Search   string
	Scope    CaseScope
	Page     int
	PageSize int
}

// CaseScope restricts a listing to rows the actor may see. When All is
// false, a row matches when it is owned by OwnerID or assigned to JudgeID
// (empty constraints are skipped).
type CaseScope struct {
	All     bool
	OwnerID string
	JudgeID string
}

// AssigneeLoad pairs an eligible candidate with their count of pending cases.
type AssigneeLoad struct {
	UserID string `db:"user_id" json:"user_id"`
	Load   int    `db:"load" json:"load"`
}

// CaseStatistics aggregates counts for reporting dashboards.
type CaseStatistics struct {
	TotalCases        int                `json:"total_cases"`
	CasesByStatus     map[CaseStatus]int `json:"cases_by_status"`
	AvgProcessingDays float64            `json:"average_processing_days"`
	GeneratedAt       time.Time          `json:"generated_at"`
}
