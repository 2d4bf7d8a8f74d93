package models

import "time"

// MessageStatus represents valid queued message statuses
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSending MessageStatus = "sending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// DefaultMaxAttempts bounds send attempts per queued message
const DefaultMaxAttempts = 3

// QueuedMessage is one recipient's send task within a campaign
type QueuedMessage struct {
	ID              int           `json:"id" db:"id"`
	CampaignID      int           `json:"campaign_id" db:"campaign_id"`
	TenantID        string        `json:"tenant_id" db:"tenant_id"`
	RecipientEmail  string        `json:"recipient_email" db:"recipient_email"`
	SubjectOverride *string       `json:"subject_override,omitempty" db:"subject_override"`
	BodyOverride    *string       `json:"body_override,omitempty" db:"body_override"`
	Status          MessageStatus `json:"status" db:"status"`
	Attempts        int           `json:"attempts" db:"attempts"`
	ErrorMessage    *string       `json:"error_message,omitempty" db:"error_message"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	ClaimedAt       *time.Time    `json:"claimed_at,omitempty" db:"claimed_at"`
	SentAt          *time.Time    `json:"sent_at,omitempty" db:"sent_at"`
}

// Subject returns the per-row override or the campaign subject
func (m *QueuedMessage) Subject(c *Campaign) string {
	if m.SubjectOverride != nil && *m.SubjectOverride != "" {
		return *m.SubjectOverride
	}
	return c.Subject
}

// Body returns the per-row override or the campaign body
func (m *QueuedMessage) Body(c *Campaign) string {
	if m.BodyOverride != nil && *m.BodyOverride != "" {
		return *m.BodyOverride
	}
	return c.Body
}

// IsFinalAttempt reports whether a failure of the current attempt is permanent
func (m *QueuedMessage) IsFinalAttempt(maxAttempts int) bool {
	return m.Attempts >= maxAttempts
}

// CanRetry checks if message can be retried
func (m *QueuedMessage) CanRetry(maxAttempts int) bool {
	return m.Status == MessageStatusPending && m.Attempts < maxAttempts
}

// Recipient is the composer's input for one queued message
type Recipient struct {
	Email           string            `json:"email"`
	SubjectOverride *string           `json:"subject_override,omitempty"`
	BodyOverride    *string           `json:"body_override,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
}
