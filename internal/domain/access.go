package domain

import (
	"time"
)

// AccessType distinguishes read from write crossings.
type AccessType string

const (
	AccessRead  AccessType = "read"
	AccessWrite AccessType = "write"
)

// AccessPattern is one ledger row per (sourceDomain, targetDomain) pair. Rows
// are mutated only by the access controller after each authorization decision
// and are never deleted, only archived.
type AccessPattern struct {
	SourceDomain string     `json:"sourceDomain" dynamodbav:"SourceDomain"`
	TargetDomain string     `json:"targetDomain" dynamodbav:"TargetDomain"`
	AccessType   AccessType `json:"accessType" dynamodbav:"AccessType"`
	Frequency    int        `json:"frequency" dynamodbav:"Frequency"`
	SuccessRate  float64    `json:"successRate" dynamodbav:"SuccessRate"`
	LastAccess   time.Time  `json:"lastAccess" dynamodbav:"LastAccess"`
	Archived     bool       `json:"archived" dynamodbav:"Archived"`
}

// RequestStatus is the lifecycle state of a cross-domain request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// CrossDomainRequest tracks a boundary crossing that could not be decided
// automatically. It is born on an ambiguous authorization, resolved by a human
// approval event or a confidence re-computation, and never reused.
type CrossDomainRequest struct {
	ID              string        `json:"id" dynamodbav:"RequestID"`
	SourceDomain    string        `json:"sourceDomain" dynamodbav:"SourceDomain"`
	TargetDomain    string        `json:"targetDomain" dynamodbav:"TargetDomain"`
	Reason          string        `json:"reason" dynamodbav:"Reason"`
	Status          RequestStatus `json:"status" dynamodbav:"Status"`
	ConfidenceScore float64       `json:"confidenceScore" dynamodbav:"ConfidenceScore"`
	CreatedAt       time.Time     `json:"createdAt" dynamodbav:"CreatedAt"`
	ResolvedAt      *time.Time    `json:"resolvedAt,omitempty" dynamodbav:"ResolvedAt,omitempty"`
}

// Decision is the outcome of a cross-domain validation.
type Decision string

const (
	DecisionApproved      Decision = "approved"
	DecisionPendingManual Decision = "pendingManual"
	DecisionRejected      Decision = "rejected"
)
