package models

import (
	"time"
)

// User roles
const (
	RoleUser               = "user"
	RoleDataSpecialist     = "data_specialist"
	RoleBusinessSpecialist = "business_specialist"
	RoleAdmin              = "admin"
)

// User account statuses
const (
	UserStatusPending  = "pending"
	UserStatusActive   = "active"
	UserStatusRejected = "rejected"
)

// KPI version statuses
const (
	VersionStatusActive   = "active"
	VersionStatusPending  = "pending"
	VersionStatusApproved = "approved"
	VersionStatusRejected = "rejected"
)

// Approval statuses
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// User represents a user in the system
type User struct {
	ID                  uint       `json:"id" db:"id"`
	Email               string     `json:"email" db:"email"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	FullName            string     `json:"full_name" db:"full_name"`
	Role                string     `json:"role" db:"role"`
	IsAdmin             bool       `json:"is_admin" db:"is_admin"`
	Status              string     `json:"status" db:"status"`
	FailedLoginAttempts int        `json:"-" db:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	ForcePasswordChange bool       `json:"force_password_change" db:"force_password_change"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// IsLocked reports whether the account is currently locked out
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// HasAdminRights reports whether the user may perform admin operations
func (u *User) HasAdminRights() bool {
	return u.IsAdmin || u.Role == RoleAdmin
}

// Sanitized returns a copy safe for API responses
func (u *User) Sanitized() *User {
	sanitized := *u
	sanitized.PasswordHash = ""
	return &sanitized
}

// Session represents a user session
type Session struct {
	ID             string    `json:"id" db:"id"`
	UserID         uint      `json:"user_id" db:"user_id"`
	JTI            string    `json:"jti" db:"jti"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
}

// Topic represents a business topic KPIs are grouped under
type Topic struct {
	ID          uint      `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Icon        string    `json:"icon" db:"icon"`
	Color       string    `json:"color" db:"color"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// KPI represents a key performance indicator record.
// The columns mirror the latest version snapshot; the full history
// lives in kpi_versions.
type KPI struct {
	ID                   uint      `json:"id" db:"id"`
	Name                 string    `json:"name" db:"name"`
	Definition           string    `json:"definition" db:"definition"`
	SQLQuery             string    `json:"sql_query" db:"sql_query"`
	Status               string    `json:"status" db:"status"`
	DataSpecialistID     *uint     `json:"data_specialist_id,omitempty" db:"data_specialist_id"`
	BusinessSpecialistID *uint     `json:"business_specialist_id,omitempty" db:"business_specialist_id"`
	CreatedBy            *uint     `json:"created_by,omitempty" db:"created_by"`
	LastUpdated          time.Time `json:"last_updated" db:"last_updated"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`

	// Loaded separately
	Topics                 []Topic      `json:"topics,omitempty" db:"-"`
	Versions               []KPIVersion `json:"versions,omitempty" db:"-"`
	DataSpecialistName     string       `json:"data_specialist_name,omitempty" db:"-"`
	BusinessSpecialistName string       `json:"business_specialist_name,omitempty" db:"-"`
}

// KPIVersion is an immutable snapshot of a KPI at a point in time.
// Version numbers are strictly increasing per KPI, starting at 1.
type KPIVersion struct {
	ID                   uint      `json:"id" db:"id"`
	KPIID                uint      `json:"kpi_id" db:"kpi_id"`
	VersionNumber        int       `json:"version_number" db:"version_number"`
	Definition           string    `json:"definition" db:"definition"`
	SQLQuery             string    `json:"sql_query" db:"sql_query"`
	DataSpecialistID     *uint     `json:"data_specialist_id,omitempty" db:"data_specialist_id"`
	BusinessSpecialistID *uint     `json:"business_specialist_id,omitempty" db:"business_specialist_id"`
	TopicIDs             []int64   `json:"topic_ids" db:"topic_ids"`
	AdditionalBlocks     string    `json:"additional_blocks,omitempty" db:"additional_blocks"`
	ChangeDescription    string    `json:"change_description" db:"change_description"`
	Status               string    `json:"status" db:"status"`
	CreatedBy            *uint     `json:"created_by,omitempty" db:"created_by"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`

	// Loaded separately
	CreatedByName string     `json:"created_by_name,omitempty" db:"-"`
	Approvals     []Approval `json:"approvals,omitempty" db:"-"`
}

// Approval tracks one reviewer's decision on a pending KPI version
type Approval struct {
	ID        uint       `json:"id" db:"id"`
	VersionID uint       `json:"version_id" db:"version_id"`
	UserID    uint       `json:"user_id" db:"user_id"`
	Status    string     `json:"status" db:"status"`
	DecidedAt *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// PendingApproval is an approval joined with its KPI and version metadata,
// shaped for the reviewer's pending list
type PendingApproval struct {
	Approval
	KPIID             uint   `json:"kpi_id" db:"kpi_id"`
	KPIName           string `json:"kpi_name" db:"kpi_name"`
	VersionNumber     int    `json:"version_number" db:"version_number"`
	ChangeDescription string `json:"change_description" db:"change_description"`
	RequestedByName   string `json:"requested_by_name" db:"requested_by_name"`
}

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID        uint      `json:"id" db:"id"`
	UserID    *uint     `json:"user_id,omitempty" db:"user_id"`
	Action    string    `json:"action" db:"action"`
	Resource  string    `json:"resource" db:"resource"`
	Details   string    `json:"details,omitempty" db:"details"`
	IPAddress string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string    `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ValidRole reports whether the given role name is known
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleDataSpecialist, RoleBusinessSpecialist, RoleAdmin:
		return true
	}
	return false
}

// ValidUserStatus reports whether the given account status is known
func ValidUserStatus(status string) bool {
	switch status {
	case UserStatusPending, UserStatusActive, UserStatusRejected:
		return true
	}
	return false
}
