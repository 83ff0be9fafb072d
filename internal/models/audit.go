package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionLogout           = "LOGOUT"
	AuditActionPasswordChange   = "PASSWORD_CHANGE"
	AuditActionUserCreate       = "USER_CREATE"
	AuditActionUserUpdate       = "USER_UPDATE"
	AuditActionUserDelete       = "USER_DELETE"
	AuditActionCaseCreate       = "CASE_CREATE"
	AuditActionCaseUpdate       = "CASE_UPDATE"
	AuditActionCaseStatusUpdate = "CASE_STATUS_UPDATE"
	AuditActionCaseAssign       = "CASE_ASSIGN"
	AuditActionCaseDelete       = "CASE_DELETE"
	AuditActionDocumentCreate   = "DOCUMENT_CREATE"
	AuditActionAuditPurge       = "AUDIT_PURGE"
	AuditActionAuditExport      = "AUDIT_EXPORT"
)

// Audit entry outcomes. Exactly one entry is written per mutating attempt;
// denied attempts are recorded with StatusDenied and never as success.
const (
	AuditStatusSuccess = "success"
	AuditStatusDenied  = "denied"
	AuditStatusFailed  = "failed"
)

// AuditLog represents an immutable audit trail record. Rows are only ever
// inserted; retention purges are the single sanctioned delete path and are
// themselves audited.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter captures filtering criteria for querying the audit trail.
type AuditFilter struct {
	Action   string
	Resource string
	UserID   string
	Status   string
	From     *time.Time
	To       *time.Time
	Search   string
	Page     int
	PageSize int
}

// AuditStats aggregates audit trail activity over a period.
type AuditStats struct {
	TotalEntries int            `json:"total_entries"`
	ByAction     map[string]int `json:"by_action"`
	ByStatus     map[string]int `json:"by_status"`
	PeriodDays   int            `json:"period_days"`
	GeneratedAt  time.Time      `json:"generated_at"`
}
