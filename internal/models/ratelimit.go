package models

import "time"

// ActionTypeEmail is the rate limit action recorded for successful sends
const ActionTypeEmail = "email"

// RateLimitCounter is the per-tenant counter for one hour bucket
type RateLimitCounter struct {
	TenantID   string    `json:"tenant_id" db:"tenant_id"`
	ActionType string    `json:"action_type" db:"action_type"`
	HourBucket time.Time `json:"hour_bucket" db:"hour_bucket"`
	Count      int       `json:"count" db:"count"`
}

// HourBucket truncates t to the start of its UTC hour
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
