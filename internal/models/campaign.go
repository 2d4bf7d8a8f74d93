package models

import (
	"fmt"
	"net/mail"
	"time"
)

// CampaignStatus represents valid campaign statuses
type CampaignStatus string

const (
	CampaignStatusPending    CampaignStatus = "pending"
	CampaignStatusProcessing CampaignStatus = "processing"
	CampaignStatusCompleted  CampaignStatus = "completed"
)

// Campaign is a bulk email job. TotalRecipients is fixed at creation; the
// counters, status and timestamps are only mutated by the dispatcher.
type Campaign struct {
	ID              int            `json:"id" db:"id"`
	TenantID        string         `json:"tenant_id" db:"tenant_id"`
	Subject         string         `json:"subject" db:"subject"`
	Body            string         `json:"body" db:"body"`
	FromName        string         `json:"from_name" db:"from_name"`
	FromEmail       string         `json:"from_email" db:"from_email"`
	TotalRecipients int            `json:"total_recipients" db:"total_recipients"`
	SentCount       int            `json:"sent_count" db:"sent_count"`
	FailedCount     int            `json:"failed_count" db:"failed_count"`
	Status          CampaignStatus `json:"status" db:"status"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// CampaignStats represents per-status row counts of a campaign's queue
type CampaignStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// InFlight returns rows that are not yet settled
func (s CampaignStats) InFlight() int {
	return s.Pending + s.Sending
}

// CampaignWithStats represents a campaign with its statistics
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if c.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if c.Body == "" {
		return fmt.Errorf("body is required")
	}
	if _, err := mail.ParseAddress(c.FromEmail); err != nil {
		return fmt.Errorf("invalid from_email: %s", c.FromEmail)
	}
	return nil
}

// IsCompleted reports whether the campaign has been finalized
func (c *Campaign) IsCompleted() bool {
	return c.Status == CampaignStatusCompleted
}

// Settled returns the number of recipients with a terminal outcome
func (c *Campaign) Settled() int {
	return c.SentCount + c.FailedCount
}
