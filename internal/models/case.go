package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity type names used across action records, audit entries and transitions
const (
	EntityTypeCase          = "case"
	EntityTypeInvestigation = "investigation"
)

// CaseStatus is the workflow state of a compliance case
type CaseStatus string

const (
	CaseStatusNew    CaseStatus = "NEW"
	CaseStatusOpen   CaseStatus = "OPEN"
	CaseStatusClosed CaseStatus = "CLOSED"
)

// InvestigationStatus is the workflow state of an investigation
type InvestigationStatus string

const (
	InvestigationStatusNew       InvestigationStatus = "NEW"
	InvestigationStatusActive    InvestigationStatus = "ACTIVE"
	InvestigationStatusOnHold    InvestigationStatus = "ON_HOLD"
	InvestigationStatusEscalated InvestigationStatus = "ESCALATED"
	InvestigationStatusResolved  InvestigationStatus = "RESOLVED"
	InvestigationStatusClosed    InvestigationStatus = "CLOSED"
)

// Case represents a compliance case
type Case struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	Title          string     `json:"title" db:"title"`
	Description    string     `json:"description" db:"description"`
	Status         CaseStatus `json:"status" db:"status"`
	AssigneeID     *uuid.UUID `json:"assignee_id,omitempty" db:"assignee_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Investigation represents an investigation, optionally linked to a case
type Investigation struct {
	ID             uuid.UUID           `json:"id" db:"id"`
	OrganizationID uuid.UUID           `json:"organization_id" db:"organization_id"`
	CaseID         *uuid.UUID          `json:"case_id,omitempty" db:"case_id"`
	Title          string              `json:"title" db:"title"`
	Description    string              `json:"description" db:"description"`
	Status         InvestigationStatus `json:"status" db:"status"`
	LeadID         *uuid.UUID          `json:"lead_id,omitempty" db:"lead_id"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
}
