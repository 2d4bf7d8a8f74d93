package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueuedMessage_Overrides(t *testing.T) {
	c := &Campaign{Subject: "Weekly meeting", Body: "<p>Hi all</p>"}
	m := &QueuedMessage{}

	assert.Equal(t, "Weekly meeting", m.Subject(c))
	assert.Equal(t, "<p>Hi all</p>", m.Body(c))

	subj, body := "Welcome Ana", "<p>Hi Ana</p>"
	m.SubjectOverride = &subj
	m.BodyOverride = &body
	assert.Equal(t, subj, m.Subject(c))
	assert.Equal(t, body, m.Body(c))

	empty := ""
	m.SubjectOverride = &empty
	assert.Equal(t, "Weekly meeting", m.Subject(c))
}

func TestQueuedMessage_IsFinalAttempt(t *testing.T) {
	m := &QueuedMessage{Attempts: 2}
	assert.False(t, m.IsFinalAttempt(DefaultMaxAttempts))
	m.Attempts = 3
	assert.True(t, m.IsFinalAttempt(DefaultMaxAttempts))
}

func TestCampaign_Validate(t *testing.T) {
	c := &Campaign{TenantID: "chess", Subject: "s", Body: "b", FromEmail: "board@chess.example.org"}
	assert.NoError(t, c.Validate())

	c.FromEmail = "not-an-address"
	assert.Error(t, c.Validate())

	c.FromEmail = "board@chess.example.org"
	c.TenantID = ""
	assert.EqualError(t, c.Validate(), "tenant id is required")
}

func TestHourBucket(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2026, 10, 15, 14, 47, 12, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC), HourBucket(ts))
}

func TestParseSecureMode(t *testing.T) {
	tests := map[string]SecureMode{
		"":         SecureModeNone,
		"none":     SecureModeNone,
		"TLS":      SecureModeTLS,
		"starttls": SecureModeTLS,
		"ssl":      SecureModeSSL,
	}
	for in, want := range tests {
		got, err := ParseSecureMode(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSecureMode("quantum")
	assert.Error(t, err)
}

func TestSMTPCredentials_Validate(t *testing.T) {
	c := SMTPCredentials{Host: "smtp.example.org", Port: 587, SecureMode: SecureModeTLS}
	assert.NoError(t, c.Validate())
	assert.Equal(t, "smtp.example.org:587", c.Addr())

	c.Port = 0
	assert.Error(t, c.Validate())
}
